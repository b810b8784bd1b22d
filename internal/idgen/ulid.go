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

package idgen

import (
	crand "crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// IDGenerator hands out lexically sortable identifiers.
type IDGenerator interface {
	Make(t time.Time) string
}

// ULIDGenerator produces ULIDs that are strictly increasing for
// a given millisecond, so ids sort in creation order.
type ULIDGenerator struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

var _ IDGenerator = (*ULIDGenerator)(nil)

// DefaultGenerator is shared by components that do not need their own sequence.
var DefaultGenerator = NewULIDGenerator()

func NewULIDGenerator() *ULIDGenerator {
	return &ULIDGenerator{
		entropy: ulid.Monotonic(crand.Reader, 0),
	}
}

func (u *ULIDGenerator) Make(t time.Time) string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), u.entropy).String()
}

// NewID is shorthand for DefaultGenerator.Make(time.Now()).
func NewID() string {
	return DefaultGenerator.Make(time.Now())
}

// FixedGenerator returns the ids it was seeded with, in order, and then
// falls back to ULIDs. It exists for deterministic tests.
type FixedGenerator struct {
	mu  sync.Mutex
	ids []string
}

var _ IDGenerator = (*FixedGenerator)(nil)

func NewFixedGenerator(ids ...string) *FixedGenerator {
	return &FixedGenerator{ids: ids}
}

func (f *FixedGenerator) Make(t time.Time) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.ids) == 0 {
		return DefaultGenerator.Make(t)
	}
	id := f.ids[0]
	f.ids = f.ids[1:]
	return id
}
