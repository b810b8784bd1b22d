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

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var transitionCounter metric.Int64Counter

func init() {
	meter := otel.Meter("github.com/cardinalhq/recordflow/internal/alerting")

	var err error
	transitionCounter, err = meter.Int64Counter(
		"recordflow.alerts.transitions",
		metric.WithDescription("Number of alert state transitions"),
	)
	if err != nil {
		panic(err)
	}
}

func recordTransition(t Transition) {
	transitionCounter.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("rule_id", t.Rule.ID),
		attribute.String("to", string(t.To)),
	))
}
