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

	"github.com/prometheus/common/model"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var snapshotGauge metric.Float64Gauge

func init() {
	meter := otel.Meter("github.com/cardinalhq/recordflow/internal/metrics")

	var err error
	snapshotGauge, err = meter.Float64Gauge(
		"recordflow.snapshot",
		metric.WithDescription("Latest collector snapshot values, keyed by the name attribute"),
	)
	if err != nil {
		panic(err)
	}
}

// OTelSink exports every data point as a gauge observation.
type OTelSink struct{}

func (OTelSink) Write(ctx context.Context, points []DataPoint) error {
	for _, p := range points {
		snapshotGauge.Record(ctx, p.Value, metric.WithAttributes(attributes(p.Name, p.Labels)...))
	}
	return nil
}

func attributes(name string, ls model.LabelSet) []attribute.KeyValue {
	keys := make([]string, 0, len(ls))
	for k := range ls {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)
	attrs := make([]attribute.KeyValue, 0, len(keys)+1)
	attrs = append(attrs, attribute.String("name", name))
	for _, k := range keys {
		attrs = append(attrs, attribute.String(k, string(ls[model.LabelName(k)])))
	}
	return attrs
}
