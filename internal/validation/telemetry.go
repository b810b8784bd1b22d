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

package validation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

var (
	recordsCounter   otelmetric.Int64Counter
	truncatedCounter otelmetric.Int64Counter
)

func init() {
	meter := otel.Meter("github.com/cardinalhq/recordflow/internal/validation")

	var err error
	recordsCounter, err = meter.Int64Counter(
		"recordflow.validation.records",
		otelmetric.WithDescription("Number of records validated, by outcome"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create validation.records counter: %w", err))
	}

	truncatedCounter, err = meter.Int64Counter(
		"recordflow.validation.truncated",
		otelmetric.WithDescription("Number of batches stopped early by the error budget"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create validation.truncated counter: %w", err))
	}
}

func recordValidationMetrics(ctx context.Context, res *Result) {
	recordsCounter.Add(ctx, int64(res.ValidRecords),
		otelmetric.WithAttributes(attribute.String("outcome", "valid")))
	invalidByReason := map[Reason]int64{}
	for _, inv := range res.Invalid {
		invalidByReason[inv.Reason]++
	}
	for reason, n := range invalidByReason {
		recordsCounter.Add(ctx, n, otelmetric.WithAttributes(
			attribute.String("outcome", "invalid"),
			attribute.String("reason", string(reason)),
		))
	}
	if res.Truncated {
		truncatedCounter.Add(ctx, 1)
	}
}
