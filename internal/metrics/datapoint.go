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

// Package metrics collects pipeline snapshots on a schedule and answers
// PromQL queries over them.
package metrics

import (
	"context"
	"strings"
	"time"

	"github.com/prometheus/common/model"
)

// Metric names written by the collector.
const (
	FilesProcessed      = "recordflow_files_processed_total"
	RecordsTotal        = "recordflow_records_total"
	RecordsValid        = "recordflow_records_valid_total"
	RecordsInvalid      = "recordflow_records_invalid_total"
	ErrorRate           = "recordflow_error_rate"
	InvalidByStatus     = "recordflow_invalid_records"
	InvalidBySource     = "recordflow_invalid_records_by_source"
	DefinitionValue     = "recordflow_metric_value"
	LabelDataSourceID   = "datasource_id"
	LabelDataSourceName = "datasource"
	LabelCategory       = "category"
	LabelStatus         = "status"
)

type DataPoint struct {
	Name      string
	Labels    model.LabelSet
	Value     float64
	Timestamp time.Time
}

// Metric returns the labels including the metric name.
func (p DataPoint) Metric() model.Metric {
	m := make(model.Metric, len(p.Labels)+1)
	for k, v := range p.Labels {
		m[k] = v
	}
	m[model.MetricNameLabel] = model.LabelValue(p.Name)
	return m
}

// Sink receives every batch of collected points.
type Sink interface {
	Write(ctx context.Context, points []DataPoint) error
}

type SinkFunc func(ctx context.Context, points []DataPoint) error

func (f SinkFunc) Write(ctx context.Context, points []DataPoint) error { return f(ctx, points) }

// SanitizeName turns an operator-chosen name into a metric name.
func SanitizeName(s string) string {
	var b strings.Builder
	for i, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r == '_', r == ':':
			b.WriteRune(r)
		case r >= '0' && r <= '9' && i > 0:
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
