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
	"log/slog"
	"time"
)

const DefaultRecorderBuffer = 16

// Recorder writes collected snapshots to its sinks on its own goroutine.
// The queue is bounded and Offer never blocks.
type Recorder struct {
	queue   chan []DataPoint
	sinks   []Sink
	timeout time.Duration
	logger  *slog.Logger
}

func NewRecorder(buffer int, logger *slog.Logger, sinks ...Sink) *Recorder {
	if buffer <= 0 {
		buffer = DefaultRecorderBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		queue:   make(chan []DataPoint, buffer),
		sinks:   sinks,
		timeout: DefaultTickTimeout,
		logger:  logger.With("component", "metrics-recorder"),
	}
}

// Offer queues a snapshot and reports false if the queue is full.
func (r *Recorder) Offer(points []DataPoint) bool {
	if len(points) == 0 {
		return true
	}
	select {
	case r.queue <- points:
		return true
	default:
		return false
	}
}

// Run writes queued snapshots until ctx is done.
func (r *Recorder) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case points := <-r.queue:
			r.write(ctx, points)
		}
	}
}

func (r *Recorder) write(ctx context.Context, points []DataPoint) {
	for _, s := range r.sinks {
		sctx, cancel := context.WithTimeout(ctx, r.timeout)
		if err := s.Write(sctx, points); err != nil {
			r.logger.Error("Metric sink write failed", slog.Any("error", err))
		}
		cancel()
	}
}
