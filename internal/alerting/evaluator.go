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
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/cardinalhq/recordflow/internal/heartbeat"
	"github.com/cardinalhq/recordflow/internal/metrics"
)

const (
	DefaultInterval       = 60 * time.Second
	DefaultTimeout        = 30 * time.Second
	DefaultNotifierBuffer = 64
)

type StateKind string

const (
	StateOK     StateKind = "OK"
	StateFiring StateKind = "Firing"
)

// State is what the evaluator remembers about one rule.
type State struct {
	RuleID         string    `json:"ruleId"`
	Kind           StateKind `json:"state"`
	Breaches       int       `json:"breaches"`
	LastValue      *float64  `json:"lastValue,omitempty"`
	LastEvaluated  time.Time `json:"lastEvaluated"`
	LastTransition time.Time `json:"lastTransition"`
	lastNotified   time.Time
}

// Transition is emitted whenever a rule changes state.
type Transition struct {
	Rule  Rule      `json:"rule"`
	From  StateKind `json:"from"`
	To    StateKind `json:"to"`
	Value *float64  `json:"value,omitempty"`
	Query string    `json:"query"`
	At    time.Time `json:"at"`
}

type Option func(*Evaluator)

// WithDefinitions lets rules bound to a metric definition use its
// variables.
func WithDefinitions(defs metrics.DefinitionStore) Option {
	return func(e *Evaluator) { e.definitions = defs }
}

func WithClock(now func() time.Time) Option {
	return func(e *Evaluator) { e.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Evaluator) { e.logger = l }
}

func WithBuffer(n int) Option {
	return func(e *Evaluator) { e.buffer = n }
}

type Evaluator struct {
	querier     metrics.Querier
	definitions metrics.DefinitionStore
	now         func() time.Time
	logger      *slog.Logger
	buffer      int

	mu     sync.Mutex
	states map[string]*State

	transitions chan Transition
}

func NewEvaluator(q metrics.Querier, opts ...Option) *Evaluator {
	e := &Evaluator{
		querier: q,
		now:     time.Now,
		logger:  slog.Default(),
		buffer:  DefaultNotifierBuffer,
		states:  map[string]*State{},
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "alert-evaluator")
	e.transitions = make(chan Transition, e.buffer)
	return e
}

// Transitions delivers notifications that passed the cooldown.
func (e *Evaluator) Transitions() <-chan Transition {
	return e.transitions
}

// State returns a copy of the rule's current state.
func (e *Evaluator) State(ruleID string) (State, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.states[ruleID]
	if !ok {
		return State{}, false
	}
	return *st, true
}

func (e *Evaluator) vars(ctx context.Context, rule Rule) metrics.Vars {
	vars := metrics.Vars{}
	if rule.MetricID != "" && e.definitions != nil {
		if d, ok, err := e.definitions.Get(ctx, rule.MetricID); err == nil && ok {
			vars = d.Vars()
		}
	}
	maps.Copy(vars, rule.Vars)
	return vars
}

// Evaluate runs the rule once. When the backend cannot answer the state
// is left exactly as it was and the error is returned.
func (e *Evaluator) Evaluate(ctx context.Context, rule Rule) (State, error) {
	if err := rule.Validate(); err != nil {
		return State{}, err
	}
	query, _ := metrics.Substitute(rule.Query, e.vars(ctx, rule))
	if _, err := metrics.ParseQuery(query); err != nil {
		return e.current(rule.ID), fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}

	at := e.now()
	vec, err := e.querier.Query(ctx, query, at)
	if err != nil {
		if ctx.Err() != nil && !errors.Is(err, metrics.ErrBackendUnavailable) {
			err = fmt.Errorf("%w: %v", metrics.ErrBackendUnavailable, err)
		}
		return e.current(rule.ID), err
	}

	breached := false
	var value *float64
	for _, s := range vec {
		v := float64(s.Value)
		if value == nil {
			value = &v
		}
		if rule.Operator.Breached(v, rule.Threshold) {
			breached = true
			value = &v
			break
		}
	}

	e.mu.Lock()
	st := e.stateLocked(rule.ID, at)
	st.LastEvaluated = at
	st.LastValue = value
	from := st.Kind
	if breached {
		st.Breaches++
		if st.Kind == StateOK && st.Breaches >= rule.breachesNeeded() {
			st.Kind = StateFiring
		}
	} else {
		st.Breaches = 0
		st.Kind = StateOK
	}
	var notify *Transition
	if st.Kind != from {
		st.LastTransition = at
		t := Transition{Rule: rule, From: from, To: st.Kind, Value: value, Query: query, At: at}
		if st.Kind == StateFiring && !st.lastNotified.IsZero() && at.Sub(st.lastNotified) < rule.cooldown() {
			e.logger.Info("Alert re-fired within cooldown, notification suppressed", slog.String("rule", rule.ID))
		} else {
			if st.Kind == StateFiring {
				st.lastNotified = at
			}
			notify = &t
		}
	}
	out := *st
	e.mu.Unlock()

	if notify != nil {
		e.emit(*notify)
	}
	return out, nil
}

func (e *Evaluator) current(ruleID string) State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return *e.stateLocked(ruleID, time.Time{})
}

func (e *Evaluator) stateLocked(ruleID string, at time.Time) *State {
	st, ok := e.states[ruleID]
	if !ok {
		st = &State{RuleID: ruleID, Kind: StateOK, LastTransition: at}
		e.states[ruleID] = st
	}
	return st
}

func (e *Evaluator) emit(t Transition) {
	recordTransition(t)
	select {
	case e.transitions <- t:
	default:
		e.logger.Warn("Notifier queue full, dropping transition",
			slog.String("rule", t.Rule.ID), slog.String("to", string(t.To)))
	}
}

// RuleSource supplies the rules to evaluate on each tick.
type RuleSource func(ctx context.Context) ([]Rule, error)

// StaticRules returns the same rules on every tick.
func StaticRules(rules []Rule) RuleSource {
	return func(context.Context) ([]Rule, error) { return rules, nil }
}

// Loop evaluates every enabled rule on each tick.
func (e *Evaluator) Loop(rules RuleSource, interval, timeout time.Duration) *heartbeat.Heartbeater {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return heartbeat.New(func(ctx context.Context) error {
		list, err := rules(ctx)
		if err != nil {
			return err
		}
		var unavailable int
		for _, r := range list {
			if r.Disabled {
				continue
			}
			if _, err := e.Evaluate(ctx, r); err != nil {
				if errors.Is(err, metrics.ErrBackendUnavailable) {
					unavailable++
					continue
				}
				e.logger.Warn("Alert rule evaluation failed", slog.String("rule", r.ID), slog.Any("error", err))
			}
		}
		if unavailable > 0 {
			return fmt.Errorf("%w: %d rules skipped", metrics.ErrBackendUnavailable, unavailable)
		}
		return nil
	}, interval, e.logger, heartbeat.WithName("alert-evaluator"), heartbeat.WithTimeout(timeout))
}
