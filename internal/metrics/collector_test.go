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

package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/common/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/recordflow/internal/invalidrecords"
	"github.com/cardinalhq/recordflow/internal/validation"
)

type fixedTotals []SourceTotals

func (f fixedTotals) Totals(context.Context) ([]SourceTotals, error) { return f, nil }

type failingQuerier struct{ err error }

func (f failingQuerier) Query(context.Context, string, time.Time) (model.Vector, error) {
	return nil, f.err
}

var collectAt = time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)

func newInvalidService(t *testing.T) *invalidrecords.Service {
	t.Helper()
	svc := invalidrecords.NewService(invalidrecords.NewMemoryRepository())
	_, err := svc.Record(context.Background(), invalidrecords.Source{ID: "s1", Name: "sales"}, "a.json", []validation.Invalid{
		{LineNumber: 1, Payload: json.RawMessage(`{}`), Reason: validation.ReasonRequired},
		{LineNumber: 2, Payload: json.RawMessage(`{}`), Reason: validation.ReasonRange},
	})
	require.NoError(t, err)
	return svc
}

func newTestCollector(t *testing.T, opts ...CollectorOption) *Collector {
	totals := fixedTotals{
		{DataSourceID: "s1", DataSourceName: "sales", Files: 2, Total: 10, Valid: 7, Invalid: 3},
		{DataSourceID: "s2", DataSourceName: "empty"},
	}
	base := []CollectorOption{WithCollectorClock(func() time.Time { return collectAt })}
	return NewCollector(CollectorConfig{}, totals, newInvalidService(t), NewRecorder(1, nil), append(base, opts...)...)
}

func find(points []DataPoint, name, source string) (DataPoint, bool) {
	for _, p := range points {
		if p.Name == name && string(p.Labels[LabelDataSourceID]) == source {
			return p, true
		}
	}
	return DataPoint{}, false
}

func TestCollect_Snapshot(t *testing.T) {
	c := newTestCollector(t)
	points, err := c.Collect(context.Background())
	require.NoError(t, err)

	p, ok := find(points, ErrorRate, "s1")
	require.True(t, ok)
	assert.InDelta(t, 0.3, p.Value, 1e-9)

	p, ok = find(points, ErrorRate, "s2")
	require.True(t, ok)
	assert.Zero(t, p.Value)

	p, ok = find(points, InvalidBySource, "s1")
	require.True(t, ok)
	assert.Equal(t, 2.0, p.Value)

	var newCount float64
	for _, p := range points {
		if p.Name == InvalidByStatus && p.Labels[LabelStatus] == "New" {
			newCount = p.Value
		}
	}
	assert.Equal(t, 2.0, newCount)
}

func TestCollect_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	c := newTestCollector(t)
	store := NewSeriesStore(0)

	first, err := c.Collect(ctx)
	require.NoError(t, err)
	require.NoError(t, store.Write(ctx, first))
	before, err := store.Query(ctx, `sum(recordflow_records_total)`, collectAt)
	require.NoError(t, err)
	seriesBefore := store.Len()

	second, err := c.Collect(ctx)
	require.NoError(t, err)
	require.NoError(t, store.Write(ctx, second))
	after, err := store.Query(ctx, `sum(recordflow_records_total)`, collectAt)
	require.NoError(t, err)

	assert.ElementsMatch(t, first, second)
	assert.Equal(t, seriesBefore, store.Len())
	assert.Equal(t, before, after)
	require.Len(t, after, 1)
	assert.Equal(t, 10.0, float64(after[0].Value))
}

func TestCollect_Definitions(t *testing.T) {
	ctx := context.Background()
	store := NewSeriesStore(0)
	require.NoError(t, store.Write(ctx, []DataPoint{
		{Name: RecordsInvalid, Labels: model.LabelSet{LabelDataSourceID: "s1"}, Value: 3, Timestamp: collectAt},
	}))
	defs := NewMemoryDefinitions(
		Definition{ID: "m1", Name: "Invalid Sales", Scope: "datasource", DataSourceID: "s1",
			Formula: `sum(recordflow_records_invalid_total{datasource_id="$datasource_id"})`, Active: true},
		Definition{ID: "m2", Name: "system", Scope: ScopeGlobal, Formula: `up`, Active: true},
		Definition{ID: "m3", Name: "off", Formula: `up`},
	)
	c := newTestCollector(t, WithDefinitions(defs, failingQuerier{err: ErrBackendUnavailable}, store))

	points, err := c.Collect(ctx)
	require.NoError(t, err)

	d, ok, err := defs.Get(ctx, "m1")
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, d.LastValue)
	assert.Equal(t, 3.0, *d.LastValue)

	var got []DataPoint
	for _, p := range points {
		if p.Name == DefinitionValue {
			got = append(got, p)
		}
	}
	require.Len(t, got, 1)
	assert.Equal(t, model.LabelValue("invalid_sales"), got[0].Labels["metric_name"])
}

func TestCollect_TotalsFailureFailsTick(t *testing.T) {
	c := NewCollector(CollectorConfig{}, failingTotals{}, newInvalidService(t), NewRecorder(1, nil))
	_, err := c.Collect(context.Background())
	assert.Error(t, err)
}

type failingTotals struct{}

func (failingTotals) Totals(context.Context) ([]SourceTotals, error) {
	return nil, errors.New("ledger offline")
}

func TestRecorder_DropsWhenFull(t *testing.T) {
	r := NewRecorder(1, nil)
	assert.True(t, r.Offer([]DataPoint{{Name: "a"}}))
	assert.False(t, r.Offer([]DataPoint{{Name: "b"}}))
	assert.True(t, r.Offer(nil))
}

func TestRecorder_WritesSinks(t *testing.T) {
	got := make(chan int, 1)
	r := NewRecorder(1, nil, SinkFunc(func(_ context.Context, points []DataPoint) error {
		got <- len(points)
		return nil
	}))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	require.True(t, r.Offer([]DataPoint{{Name: "a"}, {Name: "b"}}))
	select {
	case n := <-got:
		assert.Equal(t, 2, n)
	case <-time.After(time.Second):
		t.Fatal("sink was not written")
	}
}

func TestSubstitute(t *testing.T) {
	out, unknown := Substitute(`x{datasource_id="$datasource_id",c="$category"} > $nope`, Vars{"datasource_id": "s1", "category": "fin"})
	assert.Equal(t, `x{datasource_id="s1",c="fin"} > $nope`, out)
	assert.Equal(t, []string{"nope"}, unknown)
}
