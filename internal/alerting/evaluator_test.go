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

package alerting

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/common/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/recordflow/internal/fly"
	"github.com/cardinalhq/recordflow/internal/metrics"
)

// scriptedQuerier answers each query with the next scripted reading. A nil
// reading means the backend is down; an empty one means no series.
type scriptedQuerier struct {
	mu       sync.Mutex
	readings [][]float64
	queries  []string
}

func (q *scriptedQuerier) Query(_ context.Context, query string, at time.Time) (model.Vector, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.queries = append(q.queries, query)
	if len(q.readings) == 0 {
		return model.Vector{}, nil
	}
	r := q.readings[0]
	q.readings = q.readings[1:]
	if r == nil {
		return nil, metrics.ErrBackendUnavailable
	}
	vec := model.Vector{}
	for _, v := range r {
		vec = append(vec, &model.Sample{Metric: model.Metric{}, Value: model.SampleValue(v), Timestamp: model.TimeFromUnixNano(at.UnixNano())})
	}
	return vec, nil
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func errorRateRule(n int) Rule {
	return Rule{
		ID:                  "error-rate",
		Name:                "High error rate",
		Query:               `recordflow_error_rate{datasource_id="$datasource_id"}`,
		Operator:            OpGreater,
		Threshold:           0.1,
		ConsecutiveBreaches: n,
		Vars:                metrics.Vars{"datasource_id": "s1"},
	}
}

func newTestEvaluator(q metrics.Querier, c *clock, opts ...Option) *Evaluator {
	return NewEvaluator(q, append([]Option{WithClock(c.now)}, opts...)...)
}

func drain(e *Evaluator) []Transition {
	var out []Transition
	for {
		select {
		case t := <-e.Transitions():
			out = append(out, t)
		default:
			return out
		}
	}
}

func TestEvaluate_HysteresisNeverFiresOnSingleBreach(t *testing.T) {
	ctx := context.Background()
	c := &clock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	q := &scriptedQuerier{readings: [][]float64{{0.5}, {0.01}, {0.5}, {0.02}}}
	e := newTestEvaluator(q, c)
	rule := errorRateRule(2)

	for range 4 {
		st, err := e.Evaluate(ctx, rule)
		require.NoError(t, err)
		assert.Equal(t, StateOK, st.Kind)
		c.advance(time.Minute)
	}
	assert.Empty(t, drain(e))
	assert.Equal(t, `recordflow_error_rate{datasource_id="s1"}`, q.queries[0])
}

func TestEvaluate_FiresAfterConsecutiveBreachesAndClearsFast(t *testing.T) {
	ctx := context.Background()
	c := &clock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	q := &scriptedQuerier{readings: [][]float64{{0.5}, {0.01, 0.6}, {0.05}}}
	e := newTestEvaluator(q, c)
	rule := errorRateRule(2)

	st, err := e.Evaluate(ctx, rule)
	require.NoError(t, err)
	assert.Equal(t, StateOK, st.Kind)
	assert.Equal(t, 1, st.Breaches)

	c.advance(time.Minute)
	st, err = e.Evaluate(ctx, rule)
	require.NoError(t, err)
	assert.Equal(t, StateFiring, st.Kind)
	require.NotNil(t, st.LastValue)
	assert.Equal(t, 0.6, *st.LastValue)

	c.advance(time.Minute)
	st, err = e.Evaluate(ctx, rule)
	require.NoError(t, err)
	assert.Equal(t, StateOK, st.Kind)
	assert.Equal(t, c.t, st.LastTransition)

	ts := drain(e)
	require.Len(t, ts, 2)
	assert.Equal(t, StateFiring, ts[0].To)
	assert.Equal(t, StateOK, ts[1].To)
}

func TestEvaluate_BackendDownLeavesStateUnchanged(t *testing.T) {
	ctx := context.Background()
	c := &clock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	q := &scriptedQuerier{readings: [][]float64{{0.5}, nil, {0.5}}}
	e := newTestEvaluator(q, c)
	rule := errorRateRule(2)

	_, err := e.Evaluate(ctx, rule)
	require.NoError(t, err)
	before, _ := e.State(rule.ID)

	st, err := e.Evaluate(ctx, rule)
	assert.ErrorIs(t, err, metrics.ErrBackendUnavailable)
	assert.Equal(t, before, st)
	assert.Equal(t, 1, st.Breaches)

	st, err = e.Evaluate(ctx, rule)
	require.NoError(t, err)
	assert.Equal(t, StateFiring, st.Kind)
}

func TestEvaluate_EmptyResultIsInBounds(t *testing.T) {
	ctx := context.Background()
	c := &clock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	q := &scriptedQuerier{readings: [][]float64{{0.5}, {}}}
	e := newTestEvaluator(q, c)
	rule := errorRateRule(1)

	st, err := e.Evaluate(ctx, rule)
	require.NoError(t, err)
	assert.Equal(t, StateFiring, st.Kind)

	st, err = e.Evaluate(ctx, rule)
	require.NoError(t, err)
	assert.Equal(t, StateOK, st.Kind)
	assert.Nil(t, st.LastValue)
}

func TestEvaluate_CooldownSuppressesRefire(t *testing.T) {
	ctx := context.Background()
	c := &clock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	q := &scriptedQuerier{readings: [][]float64{{1}, {0}, {1}, {0}, {1}}}
	e := newTestEvaluator(q, c)
	rule := errorRateRule(1)
	rule.Cooldown = 10 * time.Minute

	var kinds []StateKind
	for range 5 {
		st, err := e.Evaluate(ctx, rule)
		require.NoError(t, err)
		kinds = append(kinds, st.Kind)
		c.advance(4 * time.Minute)
	}
	assert.Equal(t, []StateKind{StateFiring, StateOK, StateFiring, StateOK, StateFiring}, kinds)

	var fired []time.Time
	for _, tr := range drain(e) {
		if tr.To == StateFiring {
			fired = append(fired, tr.At)
		}
	}
	// t=0 notifies, t=8m is inside the cooldown, t=16m is outside it
	require.Len(t, fired, 2)
	assert.Equal(t, 16*time.Minute, fired[1].Sub(fired[0]))
}

func TestEvaluate_InvalidRules(t *testing.T) {
	e := newTestEvaluator(&scriptedQuerier{}, &clock{})
	_, err := e.Evaluate(context.Background(), Rule{ID: "x", Query: "up", Operator: "!="})
	assert.ErrorIs(t, err, ErrInvalidRule)

	_, err = e.Evaluate(context.Background(), Rule{ID: "x", Query: "sum(", Operator: OpGreater})
	assert.ErrorIs(t, err, ErrInvalidRule)
}

func TestEvaluate_UsesDefinitionVariables(t *testing.T) {
	q := &scriptedQuerier{}
	defs := metrics.NewMemoryDefinitions(metrics.Definition{ID: "m1", Name: "orders", DataSourceID: "ds-9", Category: "sales"})
	e := newTestEvaluator(q, &clock{}, WithDefinitions(defs))
	rule := Rule{ID: "r", MetricID: "m1", Operator: OpGreater, Query: `x{datasource_id="$datasource_id",category="$category"}`}

	_, err := e.Evaluate(context.Background(), rule)
	require.NoError(t, err)
	assert.Equal(t, `x{datasource_id="ds-9",category="sales"}`, q.queries[0])
}

func TestOperatorBreached(t *testing.T) {
	tests := []struct {
		op   Operator
		v    float64
		want bool
	}{
		{OpGreater, 2, true},
		{OpGreater, 1, false},
		{OpGreaterEqual, 1, true},
		{OpLess, 0, true},
		{OpLessEqual, 1, true},
		{OpLessEqual, 2, false},
		{OpEqual, 1, true},
		{Operator("!="), 5, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.op.Breached(tt.v, 1), "%s %v", tt.op, tt.v)
	}
}

func TestLoadRules(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
rules:
  - id: error-rate
    name: High error rate
    query: sum(recordflow_error_rate)
    operator: ">"
    threshold: 0.2
    consecutiveBreaches: 3
    cooldown: 15m
    severity: critical
    labels:
      team: data
`), 0o644))

	rules, err := LoadRules(path)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, 3, rules[0].breachesNeeded())
	assert.Equal(t, 15*time.Minute, rules[0].cooldown())
	assert.Equal(t, "data", rules[0].Labels["team"])

	require.NoError(t, os.WriteFile(path, []byte("rules:\n  - id: bad\n    operator: '~'\n"), 0o644))
	_, err = LoadRules(path)
	assert.ErrorIs(t, err, ErrInvalidRule)
}

type mockProducer struct {
	mock.Mock
}

func (m *mockProducer) Send(ctx context.Context, topic string, msg fly.Message) error {
	return m.Called(ctx, topic, msg).Error(0)
}

func (m *mockProducer) BatchSend(ctx context.Context, topic string, msgs []fly.Message) error {
	return m.Called(ctx, topic, msgs).Error(0)
}

func (m *mockProducer) Close() error {
	return m.Called().Error(0)
}

func TestKafkaNotifier(t *testing.T) {
	p := &mockProducer{}
	p.On("Send", mock.Anything, "recordflow.alerts", mock.MatchedBy(func(msg fly.Message) bool {
		var ev Event
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			return false
		}
		return string(msg.Key) == "error-rate" && ev.To == StateFiring && msg.Headers["state"] == "Firing"
	})).Return(nil).Once()

	v := 0.4
	n := KafkaNotifier{Producer: p, Topic: "recordflow.alerts"}
	err := n.Notify(context.Background(), Transition{Rule: errorRateRule(1), From: StateOK, To: StateFiring, Value: &v})
	require.NoError(t, err)
	p.AssertExpectations(t)
}

func TestDispatch(t *testing.T) {
	in := make(chan Transition, 1)
	got := make(chan Transition, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go Dispatch(ctx, in, nil, time.Second, notifierFunc(func(_ context.Context, t Transition) error {
		got <- t
		return nil
	}))

	in <- Transition{Rule: Rule{ID: "r"}, To: StateFiring}
	select {
	case tr := <-got:
		assert.Equal(t, "r", tr.Rule.ID)
	case <-time.After(time.Second):
		t.Fatal("notification not dispatched")
	}
}

type notifierFunc func(context.Context, Transition) error

func (f notifierFunc) Notify(ctx context.Context, t Transition) error { return f(ctx, t) }
