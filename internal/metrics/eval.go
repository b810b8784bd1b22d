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
	"errors"
	"fmt"
	"math"

	"github.com/prometheus/common/model"
	"github.com/prometheus/prometheus/model/labels"
	promparser "github.com/prometheus/prometheus/promql/parser"
)

// ErrUnsupportedQuery marks valid PromQL that the in-memory store cannot
// evaluate, such as range functions.
var ErrUnsupportedQuery = errors.New("unsupported query")

// ParseQuery parses PromQL and returns the expression tree.
func ParseQuery(q string) (promparser.Expr, error) {
	expr, err := promparser.ParseExpr(q)
	if err != nil {
		return nil, fmt.Errorf("invalid query %q: %w", q, err)
	}
	return expr, nil
}

// result is either an instant vector or a scalar.
type result struct {
	vec      model.Vector
	scalar   float64
	isScalar bool
}

func (r result) vector(at model.Time) model.Vector {
	if r.isScalar {
		return model.Vector{{Metric: model.Metric{}, Value: model.SampleValue(r.scalar), Timestamp: at}}
	}
	if r.vec == nil {
		return model.Vector{}
	}
	return r.vec
}

type evaluator struct {
	store *SeriesStore
	at    model.Time
}

func (e evaluator) eval(node promparser.Expr) (result, error) {
	switch n := node.(type) {
	case *promparser.NumberLiteral:
		return result{scalar: n.Val, isScalar: true}, nil
	case *promparser.ParenExpr:
		return e.eval(n.Expr)
	case *promparser.UnaryExpr:
		r, err := e.eval(n.Expr)
		if err != nil || n.Op != promparser.SUB {
			return r, err
		}
		return apply(r, func(v float64) float64 { return -v }), nil
	case *promparser.VectorSelector:
		return result{vec: e.selectSeries(n)}, nil
	case *promparser.AggregateExpr:
		return e.aggregate(n)
	case *promparser.BinaryExpr:
		return e.binary(n)
	}
	return result{}, fmt.Errorf("%w: %T", ErrUnsupportedQuery, node)
}

func (e evaluator) selectSeries(vs *promparser.VectorSelector) model.Vector {
	var out model.Vector
	for _, ser := range e.store.series {
		if !matchesAll(ser.metric, vs.Name, vs.LabelMatchers) {
			continue
		}
		p, ok := e.store.latest(ser, e.at)
		if !ok {
			continue
		}
		out = append(out, &model.Sample{Metric: ser.metric.Clone(), Value: model.SampleValue(p.v), Timestamp: e.at})
	}
	return out
}

func matchesAll(m model.Metric, name string, matchers []*labels.Matcher) bool {
	if name != "" && string(m[model.MetricNameLabel]) != name {
		return false
	}
	for _, lm := range matchers {
		if !lm.Matches(string(m[model.LabelName(lm.Name)])) {
			return false
		}
	}
	return true
}

func apply(r result, f func(float64) float64) result {
	if r.isScalar {
		r.scalar = f(r.scalar)
		return r
	}
	out := make(model.Vector, 0, len(r.vec))
	for _, s := range r.vec {
		m := s.Metric.Clone()
		delete(m, model.MetricNameLabel)
		out = append(out, &model.Sample{Metric: m, Value: model.SampleValue(f(float64(s.Value))), Timestamp: s.Timestamp})
	}
	return result{vec: out}
}

// groupKey keeps only the labels an aggregation groups by.
func groupKey(m model.Metric, grouping []string, without bool) model.Metric {
	out := model.Metric{}
	if without {
		for k, v := range m {
			out[k] = v
		}
		delete(out, model.MetricNameLabel)
		for _, g := range grouping {
			delete(out, model.LabelName(g))
		}
		return out
	}
	for _, g := range grouping {
		if v, ok := m[model.LabelName(g)]; ok {
			out[model.LabelName(g)] = v
		}
	}
	return out
}

type group struct {
	metric model.Metric
	sum    float64
	min    float64
	max    float64
	count  int
}

func (e evaluator) aggregate(n *promparser.AggregateExpr) (result, error) {
	switch n.Op {
	case promparser.SUM, promparser.AVG, promparser.MIN, promparser.MAX, promparser.COUNT:
	default:
		return result{}, fmt.Errorf("%w: aggregation %s", ErrUnsupportedQuery, n.Op)
	}
	inner, err := e.eval(n.Expr)
	if err != nil {
		return result{}, err
	}
	if inner.isScalar {
		return result{}, fmt.Errorf("%w: aggregation over a scalar", ErrUnsupportedQuery)
	}

	groups := map[model.Fingerprint]*group{}
	var order []model.Fingerprint
	for _, s := range inner.vec {
		key := groupKey(s.Metric, n.Grouping, n.Without)
		fp := key.Fingerprint()
		g, ok := groups[fp]
		v := float64(s.Value)
		if !ok {
			g = &group{metric: key, min: v, max: v}
			groups[fp] = g
			order = append(order, fp)
		}
		g.sum += v
		g.min = math.Min(g.min, v)
		g.max = math.Max(g.max, v)
		g.count++
	}

	out := make(model.Vector, 0, len(groups))
	for _, fp := range order {
		g := groups[fp]
		var v float64
		switch n.Op {
		case promparser.SUM:
			v = g.sum
		case promparser.AVG:
			v = g.sum / float64(g.count)
		case promparser.MIN:
			v = g.min
		case promparser.MAX:
			v = g.max
		case promparser.COUNT:
			v = float64(g.count)
		}
		out = append(out, &model.Sample{Metric: g.metric, Value: model.SampleValue(v), Timestamp: e.at})
	}
	return result{vec: out}, nil
}

func arith(op promparser.ItemType) (func(a, b float64) float64, error) {
	switch op {
	case promparser.ADD:
		return func(a, b float64) float64 { return a + b }, nil
	case promparser.SUB:
		return func(a, b float64) float64 { return a - b }, nil
	case promparser.MUL:
		return func(a, b float64) float64 { return a * b }, nil
	case promparser.DIV:
		return func(a, b float64) float64 { return a / b }, nil
	}
	return nil, fmt.Errorf("%w: operator %s", ErrUnsupportedQuery, op)
}

func (e evaluator) binary(n *promparser.BinaryExpr) (result, error) {
	f, err := arith(n.Op)
	if err != nil {
		return result{}, err
	}
	lhs, err := e.eval(n.LHS)
	if err != nil {
		return result{}, err
	}
	rhs, err := e.eval(n.RHS)
	if err != nil {
		return result{}, err
	}

	switch {
	case lhs.isScalar && rhs.isScalar:
		return result{scalar: f(lhs.scalar, rhs.scalar), isScalar: true}, nil
	case rhs.isScalar:
		return apply(lhs, func(v float64) float64 { return f(v, rhs.scalar) }), nil
	case lhs.isScalar:
		return apply(rhs, func(v float64) float64 { return f(lhs.scalar, v) }), nil
	}

	// One-to-one matching on all labels except the name, or on the labels
	// listed by on(...).
	var on []string
	ignoring := []string{}
	if vm := n.VectorMatching; vm != nil {
		if vm.On {
			on = vm.MatchingLabels
		} else {
			ignoring = vm.MatchingLabels
		}
	}
	sig := func(m model.Metric) model.Metric {
		if on != nil {
			return groupKey(m, on, false)
		}
		return groupKey(m, ignoring, true)
	}

	right := map[model.Fingerprint]*model.Sample{}
	for _, s := range rhs.vec {
		right[sig(s.Metric).Fingerprint()] = s
	}
	var out model.Vector
	for _, l := range lhs.vec {
		key := sig(l.Metric)
		r, ok := right[key.Fingerprint()]
		if !ok {
			continue
		}
		m := l.Metric.Clone()
		delete(m, model.MetricNameLabel)
		out = append(out, &model.Sample{
			Metric:    m,
			Value:     model.SampleValue(f(float64(l.Value), float64(r.Value))),
			Timestamp: e.at,
		})
	}
	return result{vec: out}, nil
}
