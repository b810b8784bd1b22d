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

package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cardinalhq/recordflow/internal/connection"
	"github.com/cardinalhq/recordflow/internal/heartbeat"
)

// FetcherFactory opens a Fetcher for a data source connection.
type FetcherFactory func(ctx context.Context, d connection.Descriptor) (Fetcher, error)

// PollSummary counts what one poll of a data source did.
type PollSummary struct {
	Processed int
	Rejected  int
	Failed    int
}

// Poller scans each active data source on its own interval and feeds
// matching files through the Runner.
type Poller struct {
	runner  *Runner
	catalog *Catalog
	open    FetcherFactory
	timeout time.Duration
	logger  *slog.Logger
}

type PollerOption func(*Poller)

func WithFetcherFactory(f FetcherFactory) PollerOption {
	return func(p *Poller) { p.open = f }
}

// WithPollTimeout bounds a single poll of one data source.
func WithPollTimeout(d time.Duration) PollerOption {
	return func(p *Poller) { p.timeout = d }
}

func WithPollerLogger(l *slog.Logger) PollerOption {
	return func(p *Poller) { p.logger = l }
}

func NewPoller(runner *Runner, opts ...PollerOption) *Poller {
	p := &Poller{
		runner:  runner,
		catalog: runner.catalog,
		open:    NewFetcher,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// PollOnce processes every file currently matching the source pattern.
// Processed files move to processed/. Files that blew the error budget or
// that every destination refused move to rejected/. Files that failed to
// process stay put for the next poll.
func (p *Poller) PollOnce(ctx context.Context, dataSourceID string) (PollSummary, error) {
	var sum PollSummary
	ds, err := p.catalog.Get(dataSourceID)
	if err != nil {
		return sum, err
	}
	ll := p.logger.With(slog.String("dataSource", ds.ID))

	f, err := p.open(ctx, ds.Connection)
	if err != nil {
		return sum, err
	}
	defer f.Close()

	names, err := f.List(ctx, ds.pattern())
	if err != nil {
		return sum, err
	}

	for _, name := range names {
		if ctx.Err() != nil {
			return sum, ctx.Err()
		}
		data, err := f.Read(ctx, name)
		if err != nil {
			ll.Error("Failed to read file", slog.String("file", name), slog.Any("error", err))
			sum.Failed++
			continue
		}
		res, err := p.runner.Process(ctx, ds.ID, name, data)
		if errors.Is(err, ErrRunInProgress) {
			return sum, err
		}
		if err != nil {
			ll.Error("Failed to process file", slog.String("file", name), slog.Any("error", err))
			sum.Failed++
			continue
		}

		dest := ProcessedDir
		switch {
		case !res.Delivered:
			dest = RejectedDir
			sum.Rejected++
		case res.Entry.Delivered == 0 && res.Entry.DeliveryFailed > 0:
			ll.Warn("No destination accepted the file", slog.String("file", name),
				slog.Int("deliveryFailed", res.Entry.DeliveryFailed))
			dest = RejectedDir
			sum.Rejected++
		default:
			sum.Processed++
		}
		if err := f.Move(ctx, name, dest); err != nil {
			ll.Error("Failed to move file", slog.String("file", name), slog.String("to", dest), slog.Any("error", err))
		}
	}
	return sum, nil
}

// Start launches one polling loop per active data source. The returned
// heartbeaters can be registered for liveness.
func (p *Poller) Start(ctx context.Context) []*heartbeat.Heartbeater {
	var loops []*heartbeat.Heartbeater
	for _, ds := range p.catalog.Active() {
		id := ds.ID
		opts := []heartbeat.Option{heartbeat.WithName("poll:" + id)}
		if p.timeout > 0 {
			opts = append(opts, heartbeat.WithTimeout(p.timeout))
		}
		hb := heartbeat.New(func(ctx context.Context) error {
			sum, err := p.PollOnce(ctx, id)
			if sum.Processed+sum.Rejected+sum.Failed > 0 {
				p.logger.Info("Poll complete",
					slog.String("dataSource", id),
					slog.Int("processed", sum.Processed),
					slog.Int("rejected", sum.Rejected),
					slog.Int("failed", sum.Failed))
			}
			return err
		}, ds.interval(), p.logger, opts...)
		hb.Start(ctx)
		loops = append(loops, hb)
	}
	return loops
}
