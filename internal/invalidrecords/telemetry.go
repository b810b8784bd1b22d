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

package invalidrecords

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	createdCounter    metric.Int64Counter
	transitionCounter metric.Int64Counter
)

func init() {
	meter := otel.Meter("github.com/cardinalhq/recordflow/internal/invalidrecords")

	var err error
	createdCounter, err = meter.Int64Counter(
		"recordflow.invalid_records.created",
		metric.WithDescription("Number of invalid records stored"),
	)
	if err != nil {
		panic(err)
	}

	transitionCounter, err = meter.Int64Counter(
		"recordflow.invalid_records.transitions",
		metric.WithDescription("Number of invalid record status transitions"),
	)
	if err != nil {
		panic(err)
	}
}

func recordCreated(ctx context.Context, dataSourceID string, n int) {
	createdCounter.Add(ctx, int64(n), metric.WithAttributes(
		attribute.String("data_source_id", dataSourceID),
	))
}

func recordTransition(ctx context.Context, from, to Status) {
	transitionCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", string(from)),
		attribute.String("to", string(to)),
	))
}
