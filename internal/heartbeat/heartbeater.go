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

// Package heartbeat drives the background loops. Every completed tick is
// recorded as a beat so liveness checks can spot a stalled loop.
package heartbeat

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

type HeartbeatFunc func(ctx context.Context) error

type Option func(*Heartbeater)

// WithInitialDelay postpones the first tick. Without it the first tick
// runs immediately.
func WithInitialDelay(d time.Duration) Option {
	return func(h *Heartbeater) { h.initialDelay = d }
}

// WithTimeout bounds each tick.
func WithTimeout(d time.Duration) Option {
	return func(h *Heartbeater) { h.timeout = d }
}

func WithName(name string) Option {
	return func(h *Heartbeater) { h.name = name }
}

type Heartbeater struct {
	heartbeatFunc HeartbeatFunc
	ll            *slog.Logger
	interval      time.Duration
	initialDelay  time.Duration
	timeout       time.Duration
	name          string

	lastBeat atomic.Int64
	failures atomic.Int64
}

func New(heartbeatFunc HeartbeatFunc, interval time.Duration, logger *slog.Logger, opts ...Option) *Heartbeater {
	if logger == nil {
		logger = slog.Default()
	}

	h := &Heartbeater{
		heartbeatFunc: heartbeatFunc,
		interval:      interval,
		name:          "heartbeater",
	}
	for _, opt := range opts {
		opt(h)
	}
	h.ll = logger.With("component", h.name)
	return h
}

func (h *Heartbeater) Name() string {
	return h.name
}

func (h *Heartbeater) Interval() time.Duration {
	return h.interval
}

// LastBeat is when the most recent tick finished, or the zero time if
// none has.
func (h *Heartbeater) LastBeat() time.Time {
	ns := h.lastBeat.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Failures counts ticks that returned an error.
func (h *Heartbeater) Failures() int64 {
	return h.failures.Load()
}

func (h *Heartbeater) Start(ctx context.Context) context.CancelFunc {
	// Create a child context that we can cancel independently
	heartbeatCtx, cancel := context.WithCancel(ctx)

	go h.run(heartbeatCtx)

	return cancel
}

func (h *Heartbeater) run(ctx context.Context) {
	h.ll.Debug("Starting loop", "interval", h.interval, "initialDelay", h.initialDelay)
	// The loop counts as alive from the moment it starts waiting.
	h.lastBeat.Store(time.Now().UnixNano())

	if h.initialDelay > 0 {
		t := time.NewTimer(h.initialDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}

	h.beat(ctx)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.ll.Debug("Context cancelled, stopping loop")
			return
		case <-ticker.C:
			h.beat(ctx)
		}
	}
}

func (h *Heartbeater) beat(ctx context.Context) {
	callCtx := ctx
	if h.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	err := h.heartbeatFunc(callCtx)
	if ctx.Err() != nil {
		return
	}
	h.lastBeat.Store(time.Now().UnixNano())
	if err != nil {
		h.failures.Add(1)
		h.ll.Error("Tick failed (continuing)", "error", err)
		return
	}

	h.ll.Debug("Tick completed")
}
