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
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/cardinalhq/recordflow/internal/fly"
)

type Notifier interface {
	Notify(ctx context.Context, t Transition) error
}

// LogNotifier writes transitions to the log.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) Notify(_ context.Context, t Transition) error {
	l := n.Logger
	if l == nil {
		l = slog.Default()
	}
	attrs := []any{
		slog.String("rule", t.Rule.ID),
		slog.String("name", t.Rule.Name),
		slog.String("severity", t.Rule.Severity),
		slog.String("from", string(t.From)),
		slog.String("to", string(t.To)),
		slog.Float64("threshold", t.Rule.Threshold),
	}
	if t.Value != nil {
		attrs = append(attrs, slog.Float64("value", *t.Value))
	}
	if t.To == StateFiring {
		l.Warn("Alert firing", attrs...)
	} else {
		l.Info("Alert resolved", attrs...)
	}
	return nil
}

// Event is the JSON document published for a transition.
type Event struct {
	RuleID    string            `json:"ruleId"`
	Name      string            `json:"name"`
	Severity  string            `json:"severity,omitempty"`
	From      StateKind         `json:"from"`
	To        StateKind         `json:"to"`
	Value     *float64          `json:"value,omitempty"`
	Threshold float64           `json:"threshold"`
	Operator  Operator          `json:"operator"`
	Query     string            `json:"query"`
	Labels    map[string]string `json:"labels,omitempty"`
	At        time.Time         `json:"at"`
}

func NewEvent(t Transition) Event {
	return Event{
		RuleID:    t.Rule.ID,
		Name:      t.Rule.Name,
		Severity:  t.Rule.Severity,
		From:      t.From,
		To:        t.To,
		Value:     t.Value,
		Threshold: t.Rule.Threshold,
		Operator:  t.Rule.Operator,
		Query:     t.Query,
		Labels:    maps.Clone(t.Rule.Labels),
		At:        t.At.UTC(),
	}
}

// KafkaNotifier publishes transitions keyed by rule id.
type KafkaNotifier struct {
	Producer fly.Producer
	Topic    string
}

func (n KafkaNotifier) Notify(ctx context.Context, t Transition) error {
	b, err := json.Marshal(NewEvent(t))
	if err != nil {
		return err
	}
	msg := fly.Message{
		Key:   []byte(t.Rule.ID),
		Value: b,
		Headers: map[string]string{
			"state":    string(t.To),
			"severity": t.Rule.Severity,
		},
	}
	if err := n.Producer.Send(ctx, n.Topic, msg); err != nil {
		return fmt.Errorf("publishing alert %s: %w", t.Rule.ID, err)
	}
	return nil
}

// Dispatch fans transitions out to notifiers until ctx is done. A failing
// notifier is logged and does not stop the others.
func Dispatch(ctx context.Context, in <-chan Transition, logger *slog.Logger, timeout time.Duration, notifiers ...Notifier) {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-in:
			for _, n := range notifiers {
				nctx, cancel := context.WithTimeout(ctx, timeout)
				if err := n.Notify(nctx, t); err != nil {
					logger.Error("Alert notification failed", slog.String("rule", t.Rule.ID), slog.Any("error", err))
				}
				cancel()
			}
		}
	}
}
