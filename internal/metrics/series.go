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
	"sort"
	"sync"
	"time"

	"github.com/prometheus/common/model"
)

const (
	DefaultRetention = 24 * time.Hour
	// DefaultLookback is how far back an instant query looks for a sample.
	DefaultLookback = 5 * time.Minute
)

type point struct {
	t model.Time
	v float64
}

type series struct {
	metric model.Metric
	points []point
}

// SeriesStore is an in-memory time series store. It is both a Sink for the
// collector and the default Querier for definitions and alert rules.
type SeriesStore struct {
	mu        sync.RWMutex
	series    map[model.Fingerprint]*series
	retention time.Duration
	lookback  time.Duration
}

var (
	_ Sink    = (*SeriesStore)(nil)
	_ Querier = (*SeriesStore)(nil)
)

func NewSeriesStore(retention time.Duration) *SeriesStore {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &SeriesStore{
		series:    map[model.Fingerprint]*series{},
		retention: retention,
		lookback:  DefaultLookback,
	}
}

// Write appends points. A point with the same series and timestamp as an
// existing one replaces it, so writing a snapshot twice changes nothing.
func (s *SeriesStore) Write(_ context.Context, points []DataPoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var newest model.Time
	for _, p := range points {
		m := p.Metric()
		fp := m.Fingerprint()
		ser, ok := s.series[fp]
		if !ok {
			ser = &series{metric: m}
			s.series[fp] = ser
		}
		ts := model.TimeFromUnixNano(p.Timestamp.UnixNano())
		ser.insert(point{t: ts, v: p.Value})
		if ts.After(newest) {
			newest = ts
		}
	}
	s.pruneLocked(newest.Add(-s.retention))
	return nil
}

func (ser *series) insert(p point) {
	i := sort.Search(len(ser.points), func(i int) bool { return !ser.points[i].t.Before(p.t) })
	if i < len(ser.points) && ser.points[i].t == p.t {
		ser.points[i] = p
		return
	}
	ser.points = append(ser.points, point{})
	copy(ser.points[i+1:], ser.points[i:])
	ser.points[i] = p
}

func (s *SeriesStore) pruneLocked(cutoff model.Time) {
	for fp, ser := range s.series {
		i := sort.Search(len(ser.points), func(i int) bool { return !ser.points[i].t.Before(cutoff) })
		ser.points = ser.points[i:]
		if len(ser.points) == 0 {
			delete(s.series, fp)
		}
	}
}

// Len is the number of stored series.
func (s *SeriesStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.series)
}

// Query evaluates a PromQL instant query at the given time.
func (s *SeriesStore) Query(ctx context.Context, query string, at time.Time) (model.Vector, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	expr, err := ParseQuery(query)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	ev := evaluator{store: s, at: model.TimeFromUnixNano(at.UnixNano())}
	res, err := ev.eval(expr)
	if err != nil {
		return nil, err
	}
	vec := res.vector(ev.at)
	sort.Slice(vec, func(i, j int) bool { return vec[i].Metric.Before(vec[j].Metric) })
	return vec, nil
}

// latest returns the newest sample in (at-lookback, at].
func (s *SeriesStore) latest(ser *series, at model.Time) (point, bool) {
	i := sort.Search(len(ser.points), func(i int) bool { return ser.points[i].t.After(at) })
	if i == 0 {
		return point{}, false
	}
	p := ser.points[i-1]
	if !p.t.After(at.Add(-s.lookback)) {
		return point{}, false
	}
	return p, true
}
