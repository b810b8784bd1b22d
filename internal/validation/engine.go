// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

// Package validation checks ingested records against a JSON Schema and
// splits a batch into valid payloads and invalid records with reasons.
package validation

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Status summarizes a batch outcome.
type Status string

const (
	StatusSuccess        Status = "Success"
	StatusPartialFailure Status = "PartialFailure"
	StatusFailure        Status = "Failure"
)

// Options are the per-source validation rules.
type Options struct {
	// SkipInvalidRecords keeps going no matter how many records fail.
	SkipInvalidRecords bool `yaml:"skipInvalidRecords" json:"skipInvalidRecords"`
	// MaxErrorsAllowed is the error budget when SkipInvalidRecords is false.
	// Zero means unlimited.
	MaxErrorsAllowed int `yaml:"maxErrorsAllowed" json:"maxErrorsAllowed"`
}

// Invalid is a record that failed validation.
type Invalid struct {
	LineNumber int               `json:"lineNumber"`
	Payload    json.RawMessage   `json:"payload"`
	Reason     Reason            `json:"reason"`
	Errors     []ErrorDescriptor `json:"errors"`
}

// Result is the outcome of validating one batch.
type Result struct {
	TotalRecords   int       `json:"totalRecords"`
	ValidRecords   int       `json:"validRecords"`
	InvalidRecords int       `json:"invalidRecords"`
	Truncated      bool      `json:"truncated"`
	Unprocessed    int       `json:"unprocessed"`
	Status         Status    `json:"status"`
	ValidatedAt    time.Time `json:"validatedAt"`

	Valid   []json.RawMessage `json:"-"`
	Invalid []Invalid         `json:"-"`
}

// Engine validates batches. It is safe for concurrent use.
type Engine struct {
	schemas *schemaCache
	now     func() time.Time
}

func NewEngine() *Engine {
	return &Engine{
		schemas: newSchemaCache(),
		now:     time.Now,
	}
}

// Close stops the schema cache janitor.
func (e *Engine) Close() {
	e.schemas.stop()
}

// CheckSchema compiles schema text without validating anything.
func (e *Engine) CheckSchema(schema string) error {
	_, err := e.schemas.get(schema)
	return err
}

// ValidateDocument extracts records from a raw file and validates them.
func (e *Engine) ValidateDocument(ctx context.Context, schema string, data []byte, opts Options) (*Result, error) {
	return e.Validate(ctx, schema, ExtractRecords(data), opts)
}

// ValidateFile extracts records from a named file, reading CSV and XML by
// extension, and validates them.
func (e *Engine) ValidateFile(ctx context.Context, schema, fileName string, data []byte, opts Options) (*Result, error) {
	return e.Validate(ctx, schema, ExtractFile(fileName, data), opts)
}

// Validate checks every record independently. When the error budget is
// exhausted the result covers only the processed prefix and is marked
// Truncated. Only an uncompilable schema returns an error.
func (e *Engine) Validate(ctx context.Context, schema string, records []Record, opts Options) (*Result, error) {
	sch, err := e.schemas.get(schema)
	if err != nil {
		return nil, err
	}

	res := &Result{ValidatedAt: e.now()}
	budget := 0
	if !opts.SkipInvalidRecords {
		budget = opts.MaxErrorsAllowed
	}

	for i, rec := range records {
		res.TotalRecords++
		if inv, ok := validateRecord(sch, rec); ok {
			res.ValidRecords++
			res.Valid = append(res.Valid, compact(rec.Data))
		} else {
			res.InvalidRecords++
			res.Invalid = append(res.Invalid, inv)
		}

		if budget > 0 && res.InvalidRecords > budget {
			res.Truncated = true
			res.Unprocessed = len(records) - (i + 1)
			break
		}
	}

	switch {
	case res.InvalidRecords == 0:
		res.Status = StatusSuccess
	case res.ValidRecords == 0:
		res.Status = StatusFailure
	default:
		res.Status = StatusPartialFailure
	}

	recordValidationMetrics(ctx, res)
	return res, nil
}

func validateRecord(sch *jsonschema.Schema, rec Record) (Invalid, bool) {
	inv := Invalid{LineNumber: rec.LineNumber, Payload: rec.Data}

	if rec.ParseErr != nil {
		inv.Reason = ReasonFormat
		inv.Errors = []ErrorDescriptor{malformedDescriptor(rec.ParseErr)}
		return inv, false
	}

	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(rec.Data))
	if err != nil {
		inv.Reason = ReasonFormat
		inv.Errors = []ErrorDescriptor{malformedDescriptor(err)}
		return inv, false
	}

	if err := sch.Validate(instance); err != nil {
		inv.Errors = describe(err)
		inv.Reason = inv.Errors[0].Reason
		return inv, false
	}
	return Invalid{}, true
}

func compact(raw json.RawMessage) json.RawMessage {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return raw
	}
	return buf.Bytes()
}
