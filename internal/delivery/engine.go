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
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cardinalhq/recordflow/internal/connection"
	"github.com/cardinalhq/recordflow/internal/idgen"
)

const DefaultWriteTimeout = 30 * time.Second

type Option func(*Engine)

// WithWriter replaces the transport for one destination kind.
func WithWriter(kind connection.Kind, w Writer) Option {
	return func(e *Engine) { e.writers[kind] = w }
}

func WithHistory(h History) Option {
	return func(e *Engine) { e.history = h }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func WithIDGenerator(g idgen.IDGenerator) Option {
	return func(e *Engine) { e.ids = g }
}

// WithSleep replaces the wait between retries.
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(e *Engine) { e.sleep = sleep }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithConcurrency caps how many destinations are written at once.
func WithConcurrency(n int) Option {
	return func(e *Engine) { e.concurrency = n }
}

type Engine struct {
	writers     map[connection.Kind]Writer
	kafka       *kafkaWriter
	history     History
	logger      *slog.Logger
	ids         idgen.IDGenerator
	sleep       func(context.Context, time.Duration) error
	now         func() time.Time
	concurrency int
}

func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		kafka:   newKafkaWriter(DefaultWriteTimeout),
		logger:  slog.Default(),
		ids:     idgen.DefaultGenerator,
		sleep:   sleepContext,
		now:     time.Now,
		history: NewMemoryHistory(0),
	}
	e.writers = map[connection.Kind]Writer{
		connection.KindFolder: folderWriter{},
		connection.KindSFTP:   sftpWriter{},
		connection.KindFTP:    ftpWriter{},
		connection.KindHTTP:   httpWriter{client: &http.Client{Timeout: DefaultWriteTimeout}},
		connection.KindKafka:  e.kafka,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Close() error {
	return e.kafka.Close()
}

func (e *Engine) History() History {
	return e.history
}

type job struct {
	dest    *Destination
	invalid bool
	records int
}

// Deliver writes the batch to every enabled destination concurrently and
// returns one result per payload, in destination order. A failing
// destination never affects the others.
func (e *Engine) Deliver(ctx context.Context, batch Batch, cfg Configuration) []Result {
	var jobs []job
	for i := range cfg.Destinations {
		d := &cfg.Destinations[i]
		if !d.Enabled {
			continue
		}
		jobs = append(jobs, job{dest: d, records: len(batch.Valid)})
		if len(batch.Invalid) > 0 && d.includeInvalid(cfg) {
			jobs = append(jobs, job{dest: d, invalid: true, records: len(batch.Invalid)})
		}
	}
	if len(jobs) == 0 {
		return nil
	}

	results := make([]Result, len(jobs))
	var g errgroup.Group
	if e.concurrency > 0 {
		g.SetLimit(e.concurrency)
	}
	for i, j := range jobs {
		g.Go(func() error {
			results[i] = e.deliverOne(ctx, batch, cfg, j)
			return nil
		})
	}
	_ = g.Wait()

	if err := e.history.Append(ctx, results); err != nil {
		e.logger.Error("Failed to record delivery history", slog.Any("error", err))
	}
	return results
}

func (e *Engine) deliverOne(ctx context.Context, batch Batch, cfg Configuration, j job) Result {
	d := j.dest
	start := e.now()
	res := Result{
		ID:              e.ids.Make(start),
		DataSourceID:    batch.DataSourceID,
		FileName:        batch.FileName,
		DestinationID:   d.ID,
		DestinationName: d.Name,
		Kind:            d.Kind,
		Invalid:         j.invalid,
		Records:         j.records,
	}

	n, retries, err := e.write(ctx, batch, cfg, j)
	res.BytesWritten = n
	res.RetryCount = retries
	res.DeliveredAt = e.now()
	res.DurationMs = res.DeliveredAt.Sub(start).Milliseconds()
	if err != nil {
		res.Error = err.Error()
		e.logger.Warn("Delivery failed",
			slog.String("destination", d.ID),
			slog.String("kind", string(d.Kind)),
			slog.String("file", batch.FileName),
			slog.Int("retries", retries),
			slog.Any("error", err))
	} else {
		res.Success = true
	}
	recordDelivery(ctx, res)
	return res
}

func (e *Engine) write(ctx context.Context, batch Batch, cfg Configuration, j job) (int64, int, error) {
	d := j.dest
	if err := d.Validate(); err != nil {
		return 0, 0, err
	}
	w, ok := e.writers[d.Kind]
	if !ok {
		return 0, 0, fmt.Errorf("%w: no writer for kind %q", ErrConfiguration, d.Kind)
	}

	records := batch.Valid
	if j.invalid {
		records = batch.Invalid
	}
	format := d.format(cfg).resolve(batch.FileName)
	body, err := Encode(format, records)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: encoding %s: %w", ErrConfiguration, format, err)
	}
	payload := Payload{
		DataSource: batch.DataSourceName,
		FileName:   outputName(batch.FileName, format, j.invalid),
		Format:     format,
		Body:       body,
		Records:    records,
		Invalid:    j.invalid,
		At:         e.now(),
	}

	policy := d.retryPolicy(cfg)
	retries := 0
	for {
		n, err := w.Write(ctx, d, payload)
		if err == nil {
			return n, retries, nil
		}
		err = classify(err)
		if !retryable(ctx, err) || retries >= policy.retries() {
			return n, retries, err
		}
		if serr := e.sleep(ctx, policy.Delay(retries)); serr != nil {
			return n, retries, fmt.Errorf("%w (retry aborted: %v)", err, serr)
		}
		retries++
	}
}
