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

package validation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const amountSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["amount"],
  "properties": {
    "amount": {"type": "number", "minimum": 0},
    "email": {"type": "string", "format": "email"},
    "code": {"type": "string", "maxLength": 4}
  }
}`

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e := NewEngine()
	t.Cleanup(e.Close)
	return e
}

func TestValidate_AmountScenario(t *testing.T) {
	e := newTestEngine(t)

	var payloads []json.RawMessage
	for i := range 10 {
		switch i {
		case 2:
			payloads = append(payloads, json.RawMessage(`{"id": 2, "amount": -5}`))
		case 5:
			payloads = append(payloads, json.RawMessage(`{"id": 5, "amount": -0.5}`))
		case 8:
			payloads = append(payloads, json.RawMessage(`{"id": 8}`))
		default:
			payloads = append(payloads, json.RawMessage(fmt.Sprintf(`{"id": %d, "amount": %d}`, i, i*10)))
		}
	}

	res, err := e.Validate(context.Background(), amountSchema, RecordsFromPayloads(payloads), Options{SkipInvalidRecords: true})
	require.NoError(t, err)

	assert.Equal(t, 10, res.TotalRecords)
	assert.Equal(t, 7, res.ValidRecords)
	assert.Equal(t, 3, res.InvalidRecords)
	assert.Equal(t, res.TotalRecords, res.ValidRecords+res.InvalidRecords)
	assert.Equal(t, StatusPartialFailure, res.Status)
	assert.False(t, res.Truncated)
	assert.Len(t, res.Valid, 7)

	reasons := make([]Reason, 0, len(res.Invalid))
	for _, inv := range res.Invalid {
		reasons = append(reasons, inv.Reason)
	}
	assert.Equal(t, []Reason{ReasonRange, ReasonRange, ReasonRequired}, reasons)

	first := res.Invalid[0]
	assert.Equal(t, 3, first.LineNumber)
	require.Len(t, first.Errors, 1)
	assert.Equal(t, "amount", first.Errors[0].Field)
	assert.Equal(t, ">= 0", first.Errors[0].Expected)
	assert.Equal(t, "-5", first.Errors[0].Actual)

	assert.Equal(t, "-0.5", res.Invalid[1].Errors[0].Actual)

	missing := res.Invalid[2]
	assert.Equal(t, "amount", missing.Errors[0].Field)
	assert.Equal(t, "missing", missing.Errors[0].Actual)
}

func TestValidate_FormatAndLength(t *testing.T) {
	e := newTestEngine(t)
	records := RecordsFromPayloads([]json.RawMessage{
		json.RawMessage(`{"amount": 1, "email": "not-an-email"}`),
		json.RawMessage(`{"amount": 1, "code": "TOO-LONG"}`),
		json.RawMessage(`{"amount": "one"}`),
	})

	res, err := e.Validate(context.Background(), amountSchema, records, Options{SkipInvalidRecords: true})
	require.NoError(t, err)
	require.Equal(t, 3, res.InvalidRecords)
	assert.Equal(t, StatusFailure, res.Status)

	assert.Equal(t, ReasonFormat, res.Invalid[0].Reason)
	assert.Equal(t, "email", res.Invalid[0].Errors[0].Field)
	assert.Equal(t, ReasonRange, res.Invalid[1].Reason)
	assert.Equal(t, ReasonSchema, res.Invalid[2].Reason)
	assert.Equal(t, "string", res.Invalid[2].Errors[0].Actual)
}

func TestValidate_ErrorBudgetTruncates(t *testing.T) {
	e := newTestEngine(t)
	var payloads []json.RawMessage
	for range 10 {
		payloads = append(payloads, json.RawMessage(`{"amount": -1}`))
	}

	res, err := e.Validate(context.Background(), amountSchema, RecordsFromPayloads(payloads), Options{MaxErrorsAllowed: 2})
	require.NoError(t, err)

	assert.True(t, res.Truncated)
	assert.Equal(t, 3, res.TotalRecords)
	assert.Equal(t, 3, res.InvalidRecords)
	assert.Equal(t, 0, res.ValidRecords)
	assert.Equal(t, 7, res.Unprocessed)
}

func TestValidate_SkipInvalidIgnoresBudget(t *testing.T) {
	e := newTestEngine(t)
	var payloads []json.RawMessage
	for range 5 {
		payloads = append(payloads, json.RawMessage(`{}`))
	}

	res, err := e.Validate(context.Background(), amountSchema, RecordsFromPayloads(payloads),
		Options{SkipInvalidRecords: true, MaxErrorsAllowed: 1})
	require.NoError(t, err)
	assert.False(t, res.Truncated)
	assert.Equal(t, 5, res.InvalidRecords)
}

func TestValidate_InvalidSchema(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Validate(context.Background(), `{"type": 12}`, nil, Options{})
	assert.ErrorIs(t, err, ErrInvalidSchema)

	_, err = e.Validate(context.Background(), `{not json`, nil, Options{})
	assert.ErrorIs(t, err, ErrInvalidSchema)
}

func TestValidate_DefaultSchema(t *testing.T) {
	e := newTestEngine(t)
	res, err := e.ValidateDocument(context.Background(), "", []byte(`[{"a":1},{"b":2}]`), Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.ValidRecords)
	assert.Equal(t, StatusSuccess, res.Status)
}

func TestValidate_Deterministic(t *testing.T) {
	e := newTestEngine(t)
	data := []byte(`[{"amount": -1, "email": "x", "code": "ABCDEFG"}, {"amount": 3}]`)

	first, err := e.ValidateDocument(context.Background(), amountSchema, data, Options{SkipInvalidRecords: true})
	require.NoError(t, err)
	for range 5 {
		again, err := e.ValidateDocument(context.Background(), amountSchema, data, Options{SkipInvalidRecords: true})
		require.NoError(t, err)
		assert.Equal(t, first.Invalid, again.Invalid)
		assert.Equal(t, first.Valid, again.Valid)
	}
	assert.Equal(t, "amount", first.Invalid[0].Errors[0].Field)
	assert.Len(t, first.Invalid[0].Errors, 3)
}

func TestValidate_MalformedLines(t *testing.T) {
	e := newTestEngine(t)
	data := strings.Join([]string{
		`{"amount": 1}`,
		`{"amount": 2`,
		``,
		`{"amount": 3}`,
	}, "\n")

	res, err := e.ValidateDocument(context.Background(), amountSchema, []byte(data), Options{SkipInvalidRecords: true})
	require.NoError(t, err)
	assert.Equal(t, 3, res.TotalRecords)
	assert.Equal(t, 2, res.ValidRecords)
	require.Len(t, res.Invalid, 1)
	assert.Equal(t, ReasonFormat, res.Invalid[0].Reason)
	assert.Equal(t, 2, res.Invalid[0].LineNumber)
}

func TestCheckSchema(t *testing.T) {
	e := newTestEngine(t)
	assert.NoError(t, e.CheckSchema(amountSchema))
	assert.NoError(t, e.CheckSchema(""))
	assert.ErrorIs(t, e.CheckSchema(`{"minimum": "zero"}`), ErrInvalidSchema)
}
