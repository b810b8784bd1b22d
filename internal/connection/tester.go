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

package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// DefaultTimeout bounds a test when the caller does not supply one.
const DefaultTimeout = 30 * time.Second

type probeFunc func(ctx context.Context, t *Tester, d Descriptor, r *Result) error

// Capability says what each kind can do. Read kinds can be polled for
// input files, Write kinds can receive deliveries.
type Capability struct {
	Probe probeFunc
	Read  bool
	Write bool
}

var capabilities = map[Kind]Capability{
	KindSFTP:   {Probe: probeSFTP, Read: true, Write: true},
	KindFolder: {Probe: probeFolder, Read: true, Write: true},
	KindKafka:  {Probe: probeKafka, Read: false, Write: true},
	KindFTP:    {Probe: probeFTP, Read: false, Write: true},
	KindHTTP:   {Probe: probeHTTP, Read: false, Write: true},
}

// CapabilitiesOf returns the capability entry for k.
func CapabilitiesOf(k Kind) (Capability, bool) {
	c, ok := capabilities[k]
	return c, ok
}

// Tester runs bounded reachability probes.
type Tester struct {
	logger     *slog.Logger
	writeProbe bool
}

type Option func(*Tester)

// WithWriteProbe toggles the ephemeral write-permission probe on folder,
// SFTP and FTP targets. It is on by default.
func WithWriteProbe(enabled bool) Option {
	return func(t *Tester) { t.writeProbe = enabled }
}

func WithLogger(logger *slog.Logger) Option {
	return func(t *Tester) { t.logger = logger }
}

func NewTester(opts ...Option) *Tester {
	t := &Tester{
		logger:     slog.Default(),
		writeProbe: true,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.With(slog.String("component", "connection-tester"))
	return t
}

// Test probes d within timeout. A descriptor with the wrong shape is the
// only error returned; every connectivity outcome is in the Result.
func (t *Tester) Test(ctx context.Context, d Descriptor, timeout time.Duration) (*Result, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	capability, ok := capabilities[d.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: no probe for kind %s", ErrInvalidDescriptor, d.Kind)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	r := newResult()
	r.Details["kind"] = string(d.Kind)

	// The probe result is copied out so a late probe never touches a
	// result that has already been returned.
	type outcome struct {
		res *Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		pr := newResult()
		err := capability.Probe(ctx, t, d, pr)
		done <- outcome{res: pr, err: err}
	}()

	select {
	case o := <-done:
		if errors.Is(o.err, ErrInvalidDescriptor) {
			return nil, o.err
		}
		for k, v := range o.res.Details {
			r.Details[k] = v
		}
		r.Message = o.res.Message
		if o.err != nil {
			if r.Message == "" {
				r.Message = describeError(o.err)
			}
			r.ErrorDetails = o.err.Error()
		} else {
			r.Success = true
		}
	case <-ctx.Done():
		r.Success = false
		r.Message = describeError(ctx.Err())
		r.ErrorDetails = fmt.Sprintf("no answer within %s", timeout)
	}
	r.DurationMs = time.Since(start).Milliseconds()

	t.logger.Info("Connection test finished",
		slog.String("kind", string(d.Kind)),
		slog.Bool("success", r.Success),
		slog.String("message", r.Message),
		slog.Int64("durationMs", r.DurationMs))

	return r, nil
}
