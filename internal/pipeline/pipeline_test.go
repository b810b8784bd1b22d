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
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/recordflow/internal/connection"
	"github.com/cardinalhq/recordflow/internal/delivery"
	"github.com/cardinalhq/recordflow/internal/invalidrecords"
	"github.com/cardinalhq/recordflow/internal/validation"
)

const orderSchema = `{
  "type": "object",
  "required": ["id", "amount"],
  "properties": {
    "id": {"type": "integer"},
    "amount": {"type": "number", "minimum": 0}
  }
}`

type harness struct {
	catalog *Catalog
	runner  *Runner
	invalid *invalidrecords.Service
	ledger  *MemoryLedger
	src     string
	out     string
}

func newHarness(t *testing.T, mutate func(*DataSource), opts ...delivery.Option) *harness {
	t.Helper()
	h := &harness{src: t.TempDir(), out: t.TempDir()}

	ds := DataSource{
		ID:          "orders",
		Name:        "Orders",
		Category:    "sales",
		Active:      true,
		Connection:  connection.Descriptor{Kind: connection.KindFolder, Folder: &connection.FolderConfig{Path: h.src}},
		FilePattern: "*.json",
		Schema:      orderSchema,
		Output: delivery.Configuration{
			DefaultFormat: delivery.FormatJSON,
			Destinations: []delivery.Destination{{
				ID:         "out",
				Name:       "out",
				Enabled:    true,
				Descriptor: connection.Descriptor{Kind: connection.KindFolder, Folder: &connection.FolderConfig{Path: h.out}},
			}},
		},
	}
	if mutate != nil {
		mutate(&ds)
	}
	var err error
	h.catalog, err = NewCatalog(ds)
	require.NoError(t, err)

	validator := validation.NewEngine()
	t.Cleanup(validator.Close)
	deliveries := delivery.NewEngine(opts...)
	t.Cleanup(func() { _ = deliveries.Close() })

	h.invalid = invalidrecords.NewService(invalidrecords.NewMemoryRepository())
	h.ledger = NewMemoryLedger()
	h.runner = NewRunner(h.catalog, validator, h.invalid, deliveries, h.ledger)
	return h
}

func outputFiles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names
}

func TestProcess_SplitsValidAndInvalid(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	data := []byte(`[{"id":1,"amount":10},{"id":2,"amount":-5},{"id":3,"amount":7}]`)
	res, err := h.runner.Process(ctx, "orders", "batch.json", data)
	require.NoError(t, err)

	assert.True(t, res.Delivered)
	assert.Equal(t, 3, res.Entry.Total)
	assert.Equal(t, 2, res.Entry.Valid)
	assert.Equal(t, 1, res.Entry.Invalid)
	assert.Equal(t, validation.StatusPartialFailure, res.Entry.Status)
	assert.Equal(t, 1, res.Entry.Delivered)
	assert.Zero(t, res.Entry.DeliveryFailed)

	require.Len(t, res.Invalid, 1)
	assert.Equal(t, 2, res.Invalid[0].LineNumber)
	assert.Equal(t, invalidrecords.StatusNew, res.Invalid[0].Status)
	assert.Equal(t, "Orders", res.Invalid[0].DataSourceName)

	files := outputFiles(t, h.out)
	require.Len(t, files, 1)
	body, err := os.ReadFile(filepath.Join(h.out, files[0]))
	require.NoError(t, err)
	assert.Contains(t, string(body), `"id":1`)
	assert.Contains(t, string(body), `"id":3`)
	assert.NotContains(t, string(body), `"amount":-5`)

	totals, err := h.ledger.Totals(ctx)
	require.NoError(t, err)
	require.Len(t, totals, 1)
	assert.Equal(t, int64(3), totals[0].Total)
	assert.Equal(t, int64(1), totals[0].Invalid)
	assert.Equal(t, int64(1), totals[0].Files)
}

func TestProcess_TruncatedBatchIsNotDelivered(t *testing.T) {
	h := newHarness(t, func(ds *DataSource) {
		ds.Validation = validation.Options{MaxErrorsAllowed: 1}
	})

	data := []byte(`[{"id":1,"amount":-1},{"id":2,"amount":-2},{"id":3,"amount":3},{"id":4,"amount":4}]`)
	res, err := h.runner.Process(context.Background(), "orders", "bad.json", data)
	require.NoError(t, err)

	assert.False(t, res.Delivered)
	assert.True(t, res.Entry.Truncated)
	assert.Empty(t, res.Outputs)
	assert.Len(t, res.Invalid, 2)
	assert.Empty(t, outputFiles(t, h.out))
}

func TestProcess_UnknownDataSource(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.runner.Process(context.Background(), "nope", "x.json", []byte(`[]`))
	assert.ErrorIs(t, err, ErrUnknownDataSource)
}

func TestProcess_RejectsConcurrentRunForSameSource(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	blocking := delivery.WriterFunc(func(ctx context.Context, _ *delivery.Destination, p delivery.Payload) (int64, error) {
		once.Do(func() { close(started) })
		<-release
		return int64(len(p.Body)), nil
	})

	h := newHarness(t, func(ds *DataSource) {
		ds.Output.Destinations = []delivery.Destination{{
			ID:         "hook",
			Name:       "hook",
			Enabled:    true,
			Descriptor: connection.Descriptor{Kind: connection.KindHTTP, HTTP: &connection.HTTPConfig{URL: "http://localhost/hook"}},
		}}
	}, delivery.WithWriter(connection.KindHTTP, blocking))

	ctx := context.Background()
	done := make(chan error, 1)
	go func() {
		_, err := h.runner.Process(ctx, "orders", "a.json", []byte(`[{"id":1,"amount":1}]`))
		done <- err
	}()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("first run never reached delivery")
	}

	_, err := h.runner.Process(ctx, "orders", "b.json", []byte(`[{"id":2,"amount":2}]`))
	assert.ErrorIs(t, err, ErrRunInProgress)

	close(release)
	require.NoError(t, <-done)

	_, err = h.runner.Process(ctx, "orders", "c.json", []byte(`[{"id":3,"amount":3}]`))
	assert.NoError(t, err)
}

func TestRunner_ReprocessesCorrection(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	res, err := h.runner.Process(ctx, "orders", "feed.json", []byte(`[{"id":1,"amount":-3}]`))
	require.NoError(t, err)
	require.Len(t, res.Invalid, 1)
	assert.Equal(t, []string{"feed.json"}, outputFiles(t, h.out))

	out, err := h.invalid.Correct(ctx, invalidrecords.CorrectRequest{
		ID:            res.Invalid[0].ID,
		Payload:       json.RawMessage(`{"id":1,"amount":3}`),
		CorrectedBy:   "ops",
		AutoReprocess: true,
	})
	require.NoError(t, err)
	assert.Equal(t, invalidrecords.StatusCorrected, out.Record.Status)
	require.Len(t, out.Outputs, 1)
	assert.True(t, out.Outputs[0].Success)
	assert.Equal(t, "feed_CORRECTED.json", out.Outputs[0].FileName)

	assert.ElementsMatch(t, []string{"feed.json", "feed_CORRECTED.json"}, outputFiles(t, h.out))
	body, err := os.ReadFile(filepath.Join(h.out, "feed_CORRECTED.json"))
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":1,"amount":3}]`, string(body))
}

func TestRunner_RevalidateRejects(t *testing.T) {
	h := newHarness(t, nil)
	vr, err := h.runner.Revalidate(context.Background(), "orders", json.RawMessage(`{"id":"x","amount":1}`))
	require.NoError(t, err)
	assert.Equal(t, 1, vr.InvalidRecords)
	assert.Equal(t, validation.StatusFailure, vr.Status)
}

func TestRunner_CorrectionWithArrayFieldStaysOneRecord(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	res, err := h.runner.Process(ctx, "orders", "tagged.json", []byte(`[{"id":1,"amount":-1,"tags":["x","y"]}]`))
	require.NoError(t, err)
	require.Len(t, res.Invalid, 1)

	out, err := h.invalid.Correct(ctx, invalidrecords.CorrectRequest{
		ID:            res.Invalid[0].ID,
		Payload:       json.RawMessage(`{"id":1,"amount":5,"tags":["x","y"]}`),
		CorrectedBy:   "ops",
		AutoReprocess: true,
	})
	require.NoError(t, err)
	assert.Equal(t, invalidrecords.StatusCorrected, out.Record.Status)
	require.Len(t, out.Outputs, 1)
	assert.Equal(t, 1, out.Outputs[0].Records)

	body, err := os.ReadFile(filepath.Join(h.out, "tagged_CORRECTED.json"))
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":1,"amount":5,"tags":["x","y"]}]`, string(body))
}

func TestRunner_RevalidateKeepsPayloadWhole(t *testing.T) {
	h := newHarness(t, nil)
	vr, err := h.runner.Revalidate(context.Background(), "orders", json.RawMessage(`{"id":1,"amount":2,"items":[{"sku":"a"},{"sku":"b"}]}`))
	require.NoError(t, err)
	assert.Equal(t, 1, vr.TotalRecords)
	assert.Equal(t, validation.StatusSuccess, vr.Status)

	_, err = h.runner.Deliver(context.Background(), "orders", "x.json", json.RawMessage(`{"id":`))
	assert.Error(t, err)
}

func TestBulkReprocess_ArrayFieldAfterSchemaChange(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	res, err := h.runner.Process(ctx, "orders", "refunds.json", []byte(`[{"id":9,"amount":-4,"lines":[1,2]}]`))
	require.NoError(t, err)
	require.Len(t, res.Invalid, 1)

	ds, err := h.catalog.Get("orders")
	require.NoError(t, err)
	ds.Schema = `{"type":"object","required":["id","amount"],"properties":{"id":{"type":"integer"},"amount":{"type":"number"}}}`
	require.NoError(t, h.catalog.Put(ds))

	bulk := h.invalid.BulkOperation(ctx, []string{res.Invalid[0].ID}, invalidrecords.BulkReprocess, "ops")
	require.Equal(t, 1, bulk.Successful, bulk.Items)
	assert.Equal(t, invalidrecords.StatusCorrected, bulk.Items[0].Status)

	body, err := os.ReadFile(filepath.Join(h.out, "refunds_CORRECTED.json"))
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":9,"amount":-4,"lines":[1,2]}]`, string(body))
}

func TestProcess_ReadsCSVByExtension(t *testing.T) {
	h := newHarness(t, func(ds *DataSource) {
		ds.FilePattern = "*.csv"
	})

	res, err := h.runner.Process(context.Background(), "orders", "day.csv", []byte("id,amount\n1,10\n2,-3\n"))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Entry.Total)
	assert.Equal(t, 1, res.Entry.Valid)
	require.Len(t, res.Invalid, 1)
	assert.Equal(t, 3, res.Invalid[0].LineNumber)
	assert.JSONEq(t, `{"id":2,"amount":-3}`, string(res.Invalid[0].Payload))
}
