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

package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/cardinalhq/recordflow/internal/delivery"
	"github.com/cardinalhq/recordflow/internal/idgen"
	"github.com/cardinalhq/recordflow/internal/invalidrecords"
	"github.com/cardinalhq/recordflow/internal/validation"
)

// ErrRunInProgress is returned when a data source already has a run in
// flight.
var ErrRunInProgress = errors.New("run already in progress")

// RunResult is everything one run produced.
type RunResult struct {
	Entry      Entry
	Validation *validation.Result
	Invalid    []invalidrecords.Record
	Outputs    []delivery.Result
	// Delivered is false when the error budget stopped the run before
	// delivery.
	Delivered bool
}

type Runner struct {
	catalog   *Catalog
	validator *validation.Engine
	invalid   *invalidrecords.Service
	delivery  *delivery.Engine
	ledger    Ledger
	ids       idgen.IDGenerator
	now       func() time.Time
	logger    *slog.Logger

	inflight mapset.Set[string]
}

var _ invalidrecords.Reprocessor = (*Runner)(nil)

type RunnerOption func(*Runner)

func WithRunnerLogger(l *slog.Logger) RunnerOption {
	return func(r *Runner) { r.logger = l }
}

func WithRunnerClock(now func() time.Time) RunnerOption {
	return func(r *Runner) { r.now = now }
}

// NewRunner wires the stages together and registers itself as the
// reprocessor for corrected records.
func NewRunner(catalog *Catalog, validator *validation.Engine, invalid *invalidrecords.Service, deliveries *delivery.Engine, ledger Ledger, opts ...RunnerOption) *Runner {
	r := &Runner{
		catalog:   catalog,
		validator: validator,
		invalid:   invalid,
		delivery:  deliveries,
		ledger:    ledger,
		ids:       idgen.DefaultGenerator,
		now:       time.Now,
		logger:    slog.Default(),
		inflight:  mapset.NewSet[string](),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "pipeline")
	invalid.SetReprocessor(r)
	return r
}

// Process validates one file, stores its invalid records, delivers the
// valid ones and appends a ledger entry.
func (r *Runner) Process(ctx context.Context, dataSourceID, fileName string, data []byte) (*RunResult, error) {
	ds, err := r.catalog.Get(dataSourceID)
	if err != nil {
		return nil, err
	}
	if !r.inflight.Add(ds.ID) {
		return nil, fmt.Errorf("%w: %s", ErrRunInProgress, ds.ID)
	}
	defer r.inflight.Remove(ds.ID)

	ll := r.logger.With(slog.String("dataSource", ds.ID), slog.String("file", fileName))

	vr, err := r.validator.ValidateFile(ctx, ds.schema(), fileName, data, ds.Validation)
	if err != nil {
		return nil, fmt.Errorf("validating %s: %w", fileName, err)
	}
	res := &RunResult{Validation: vr}

	res.Invalid, err = r.invalid.Record(ctx, invalidrecords.Source{ID: ds.ID, Name: ds.Name}, fileName, vr.Invalid)
	if err != nil {
		return nil, err
	}

	if vr.Truncated {
		ll.Warn("Error budget exceeded, file not delivered",
			slog.Int("invalid", vr.InvalidRecords),
			slog.Int("maxErrorsAllowed", ds.Validation.MaxErrorsAllowed),
			slog.Int("unprocessed", vr.Unprocessed))
	} else {
		batch := delivery.Batch{
			DataSourceID:   ds.ID,
			DataSourceName: ds.Name,
			FileName:       fileName,
			Valid:          vr.Valid,
			Invalid:        invalidPayloads(vr.Invalid),
		}
		res.Outputs = r.delivery.Deliver(ctx, batch, ds.Output)
		res.Delivered = true
	}

	entry := Entry{
		ID:             r.ids.Make(r.now()),
		DataSourceID:   ds.ID,
		DataSourceName: ds.Name,
		Category:       ds.Category,
		FileName:       fileName,
		Total:          vr.TotalRecords,
		Valid:          vr.ValidRecords,
		Invalid:        vr.InvalidRecords,
		Truncated:      vr.Truncated,
		Status:         vr.Status,
		At:             r.now().UTC(),
	}
	for _, o := range res.Outputs {
		if o.Success {
			entry.Delivered++
		} else {
			entry.DeliveryFailed++
		}
	}
	if err := r.ledger.Append(ctx, entry); err != nil {
		return nil, fmt.Errorf("appending ledger entry: %w", err)
	}
	res.Entry = entry

	ll.Info("File processed",
		slog.Int("total", vr.TotalRecords),
		slog.Int("valid", vr.ValidRecords),
		slog.Int("invalid", vr.InvalidRecords),
		slog.String("status", string(vr.Status)),
		slog.Int("delivered", entry.Delivered),
		slog.Int("deliveryFailed", entry.DeliveryFailed))
	return res, nil
}

func invalidPayloads(inv []validation.Invalid) []json.RawMessage {
	if len(inv) == 0 {
		return nil
	}
	out := make([]json.RawMessage, 0, len(inv))
	for _, i := range inv {
		out = append(out, i.Payload)
	}
	return out
}

// Revalidate checks a corrected payload against the data source schema
// with no error budget. The payload is one record and is never split.
func (r *Runner) Revalidate(ctx context.Context, dataSourceID string, payload json.RawMessage) (*validation.Result, error) {
	ds, err := r.catalog.Get(dataSourceID)
	if err != nil {
		return nil, err
	}
	records := validation.RecordsFromPayloads([]json.RawMessage{payload})
	return r.validator.Validate(ctx, ds.schema(), records, validation.Options{SkipInvalidRecords: true})
}

// Deliver sends a corrected payload to the data source's enabled
// destinations as a batch of one record. Invalid payload deliveries are
// never made for it.
func (r *Runner) Deliver(ctx context.Context, dataSourceID, fileName string, payload json.RawMessage) ([]delivery.Result, error) {
	ds, err := r.catalog.Get(dataSourceID)
	if err != nil {
		return nil, err
	}
	if !json.Valid(payload) {
		return nil, fmt.Errorf("corrected payload for %s is not valid JSON", fileName)
	}
	valid := []json.RawMessage{payload}
	batch := delivery.Batch{
		DataSourceID:   ds.ID,
		DataSourceName: ds.Name,
		FileName:       fileName,
		Valid:          valid,
	}
	return r.delivery.Deliver(ctx, batch, ds.Output), nil
}
