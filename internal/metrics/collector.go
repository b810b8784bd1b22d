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
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/common/model"

	"github.com/cardinalhq/recordflow/internal/heartbeat"
	"github.com/cardinalhq/recordflow/internal/invalidrecords"
)

const (
	DefaultInterval     = 60 * time.Second
	DefaultInitialDelay = 5 * time.Second
	DefaultTickTimeout  = 30 * time.Second
)

// SourceTotals are cumulative processing counts for one data source.
type SourceTotals struct {
	DataSourceID   string
	DataSourceName string
	Category       string
	Files          int64
	Total          int64
	Valid          int64
	Invalid        int64
}

// TotalsReader yields the current cumulative totals per data source.
type TotalsReader interface {
	Totals(ctx context.Context) ([]SourceTotals, error)
}

// InvalidStatsReader yields invalid record counts.
type InvalidStatsReader interface {
	Statistics(ctx context.Context, f invalidrecords.Filter) (invalidrecords.Statistics, error)
}

type CollectorConfig struct {
	Interval     time.Duration
	InitialDelay time.Duration
	Timeout      time.Duration
}

func (c CollectorConfig) withDefaults() CollectorConfig {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.InitialDelay < 0 {
		c.InitialDelay = 0
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTickTimeout
	}
	return c
}

// Collector computes an absolute snapshot on every tick. It never keeps
// deltas, so a skipped or repeated tick cannot double count.
type Collector struct {
	cfg         CollectorConfig
	totals      TotalsReader
	invalid     InvalidStatsReader
	definitions DefinitionStore
	system      Querier
	business    Querier
	recorder    *Recorder
	logger      *slog.Logger
	now         func() time.Time
	loop        *heartbeat.Heartbeater
}

type CollectorOption func(*Collector)

func WithDefinitions(store DefinitionStore, system, business Querier) CollectorOption {
	return func(c *Collector) {
		c.definitions = store
		c.system = system
		c.business = business
	}
}

func WithCollectorClock(now func() time.Time) CollectorOption {
	return func(c *Collector) { c.now = now }
}

func WithCollectorLogger(l *slog.Logger) CollectorOption {
	return func(c *Collector) { c.logger = l }
}

func NewCollector(cfg CollectorConfig, totals TotalsReader, invalid InvalidStatsReader, recorder *Recorder, opts ...CollectorOption) *Collector {
	c := &Collector{
		cfg:      cfg.withDefaults(),
		totals:   totals,
		invalid:  invalid,
		recorder: recorder,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "metrics-collector")
	c.loop = heartbeat.New(c.tick, c.cfg.Interval, c.logger,
		heartbeat.WithName("metrics-collector"),
		heartbeat.WithInitialDelay(c.cfg.InitialDelay),
		heartbeat.WithTimeout(c.cfg.Timeout))
	return c
}

// Loop exposes the driving heartbeater for liveness checks.
func (c *Collector) Loop() *heartbeat.Heartbeater {
	return c.loop
}

func (c *Collector) Start(ctx context.Context) context.CancelFunc {
	return c.loop.Start(ctx)
}

func (c *Collector) tick(ctx context.Context) error {
	points, err := c.Collect(ctx)
	if err != nil {
		return err
	}
	if !c.recorder.Offer(points) {
		c.logger.Warn("Recorder is behind, dropping snapshot", slog.Int("points", len(points)))
	}
	return nil
}

// Collect builds one snapshot. Definition failures are logged and do not
// fail the snapshot.
func (c *Collector) Collect(ctx context.Context) ([]DataPoint, error) {
	at := c.now().UTC().Truncate(time.Second)
	var points []DataPoint

	totals, err := c.totals.Totals(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading processing totals: %w", err)
	}
	for _, t := range totals {
		labels := model.LabelSet{
			LabelDataSourceID:   model.LabelValue(t.DataSourceID),
			LabelDataSourceName: model.LabelValue(t.DataSourceName),
		}
		if t.Category != "" {
			labels[LabelCategory] = model.LabelValue(t.Category)
		}
		rate := 0.0
		if t.Total > 0 {
			rate = float64(t.Invalid) / float64(t.Total)
		}
		points = append(points,
			DataPoint{Name: FilesProcessed, Labels: labels, Value: float64(t.Files), Timestamp: at},
			DataPoint{Name: RecordsTotal, Labels: labels, Value: float64(t.Total), Timestamp: at},
			DataPoint{Name: RecordsValid, Labels: labels, Value: float64(t.Valid), Timestamp: at},
			DataPoint{Name: RecordsInvalid, Labels: labels, Value: float64(t.Invalid), Timestamp: at},
			DataPoint{Name: ErrorRate, Labels: labels, Value: rate, Timestamp: at},
		)
	}

	stats, err := c.invalid.Statistics(ctx, invalidrecords.Filter{})
	if err != nil {
		return nil, fmt.Errorf("reading invalid record statistics: %w", err)
	}
	for _, s := range invalidrecords.Statuses {
		points = append(points, DataPoint{
			Name:      InvalidByStatus,
			Labels:    model.LabelSet{LabelStatus: model.LabelValue(s)},
			Value:     float64(stats.ByStatus[s]),
			Timestamp: at,
		})
	}
	for id, n := range stats.ByDataSource {
		points = append(points, DataPoint{
			Name:      InvalidBySource,
			Labels:    model.LabelSet{LabelDataSourceID: model.LabelValue(id)},
			Value:     float64(n),
			Timestamp: at,
		})
	}

	points = append(points, c.evaluateDefinitions(ctx, at)...)
	return points, nil
}

func (c *Collector) evaluateDefinitions(ctx context.Context, at time.Time) []DataPoint {
	if c.definitions == nil {
		return nil
	}
	defs, err := c.definitions.Active(ctx)
	if err != nil {
		c.logger.Error("Failed to load metric definitions", slog.Any("error", err))
		return nil
	}
	var points []DataPoint
	for _, d := range defs {
		q := c.business
		if d.Scope == ScopeGlobal {
			q = c.system
		}
		if q == nil {
			continue
		}
		query, _ := Substitute(d.Formula, d.Vars())
		vec, err := q.Query(ctx, query, at)
		if errors.Is(err, ErrBackendUnavailable) {
			c.logger.Warn("Metrics backend unavailable, skipping definition",
				slog.String("definition", d.ID), slog.Any("error", err))
			continue
		}
		if err != nil {
			c.logger.Warn("Metric definition failed", slog.String("definition", d.ID), slog.Any("error", err))
			continue
		}
		if len(vec) == 0 {
			continue
		}
		var v float64
		for _, s := range vec {
			v += float64(s.Value)
		}
		if err := c.definitions.SetLastValue(ctx, d.ID, v, at); err != nil {
			c.logger.Warn("Failed to store metric value", slog.String("definition", d.ID), slog.Any("error", err))
		}
		points = append(points, DataPoint{
			Name: DefinitionValue,
			Labels: model.LabelSet{
				"metric_id":   model.LabelValue(d.ID),
				"metric_name": model.LabelValue(SanitizeName(d.Name)),
				"scope":       model.LabelValue(d.Scope),
			},
			Value:     v,
			Timestamp: at,
		})
	}
	return points
}
