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
	"errors"
	"math"
	"time"
)

var (
	// ErrConnectivity marks a destination that could not be reached.
	ErrConnectivity = errors.New("destination unreachable")
	// ErrTransient marks a write that may succeed if tried again.
	ErrTransient = errors.New("transient delivery failure")
	// ErrConfiguration marks a destination that can never succeed as
	// configured. It is not retried.
	ErrConfiguration = errors.New("destination misconfigured")
)

const (
	DefaultMaxRetries   = 3
	DefaultInitialDelay = time.Second
	DefaultMultiplier   = 2.0
	DefaultMaxDelay     = 30 * time.Second
)

// RetryPolicy bounds how often a failed write is tried again. MaxRetries
// counts retries after the first attempt. It is a pointer so that an
// explicit zero disables retries while an unset value takes the default.
type RetryPolicy struct {
	MaxRetries   *int          `yaml:"maxRetries,omitempty" json:"maxRetries,omitempty" mapstructure:"max_retries"`
	InitialDelay time.Duration `yaml:"initialDelay" json:"initialDelay" mapstructure:"initial_delay"`
	Multiplier   float64       `yaml:"multiplier" json:"multiplier" mapstructure:"multiplier"`
	MaxDelay     time.Duration `yaml:"maxDelay" json:"maxDelay" mapstructure:"max_delay"`
}

// Retries returns a MaxRetries value.
func Retries(n int) *int {
	return &n
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:   Retries(DefaultMaxRetries),
		InitialDelay: DefaultInitialDelay,
		Multiplier:   DefaultMultiplier,
		MaxDelay:     DefaultMaxDelay,
	}
}

// retries is the resolved retry count. Negative counts disable retries.
func (p RetryPolicy) retries() int {
	if p.MaxRetries == nil {
		return DefaultMaxRetries
	}
	return max(*p.MaxRetries, 0)
}

// withDefaults fills unset fields and leaves set ones alone.
func (p RetryPolicy) withDefaults() RetryPolicy {
	d := DefaultRetryPolicy()
	p.MaxRetries = Retries(p.retries())
	if p.InitialDelay <= 0 {
		p.InitialDelay = d.InitialDelay
	}
	if p.Multiplier < 1 {
		p.Multiplier = d.Multiplier
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = d.MaxDelay
	}
	return p
}

// Delay is the wait before retry number n, counting from zero.
func (p RetryPolicy) Delay(n int) time.Duration {
	d := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(n))
	if d > float64(p.MaxDelay) || math.IsInf(d, 0) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

func retryable(ctx context.Context, err error) bool {
	return ctx.Err() == nil && !errors.Is(err, ErrConfiguration)
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
