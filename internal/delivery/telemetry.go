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

package delivery

import (
	"context"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	deliveryCounter   metric.Int64Counter
	retryCounter      metric.Int64Counter
	bytesCounter      metric.Int64Counter
	durationHistogram metric.Float64Histogram
)

func init() {
	meter := otel.Meter("github.com/cardinalhq/recordflow/internal/delivery")

	var err error
	deliveryCounter, err = meter.Int64Counter(
		"recordflow.delivery.results",
		metric.WithDescription("Number of delivery results by destination and outcome"),
	)
	if err != nil {
		panic(err)
	}

	retryCounter, err = meter.Int64Counter(
		"recordflow.delivery.retries",
		metric.WithDescription("Number of delivery retries"),
	)
	if err != nil {
		panic(err)
	}

	bytesCounter, err = meter.Int64Counter(
		"recordflow.delivery.bytes",
		metric.WithDescription("Bytes written to destinations"),
		metric.WithUnit("By"),
	)
	if err != nil {
		panic(err)
	}

	durationHistogram, err = meter.Float64Histogram(
		"recordflow.delivery.duration",
		metric.WithDescription("Time spent delivering to one destination, including retries"),
		metric.WithUnit("s"),
	)
	if err != nil {
		panic(err)
	}
}

func recordDelivery(ctx context.Context, r Result) {
	attrs := metric.WithAttributes(
		attribute.String("destination_id", r.DestinationID),
		attribute.String("kind", string(r.Kind)),
		attribute.String("success", strconv.FormatBool(r.Success)),
		attribute.Bool("invalid", r.Invalid),
	)
	deliveryCounter.Add(ctx, 1, attrs)
	if r.RetryCount > 0 {
		retryCounter.Add(ctx, int64(r.RetryCount), attrs)
	}
	bytesCounter.Add(ctx, r.BytesWritten, attrs)
	durationHistogram.Record(ctx, float64(r.DurationMs)/1000, attrs)
}
