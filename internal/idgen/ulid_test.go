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
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestULIDGenerator_Monotonic(t *testing.T) {
	g := NewULIDGenerator()
	now := time.Now()

	ids := make([]string, 0, 100)
	for range 100 {
		ids = append(ids, g.Make(now))
	}

	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	assert.Equal(t, ids, sorted, "ids made in the same millisecond must sort in creation order")
}

func TestULIDGenerator_Concurrent(t *testing.T) {
	g := NewULIDGenerator()
	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := map[string]bool{}

	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				id := g.Make(time.Now())
				mu.Lock()
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 400)
}

func TestFixedGenerator(t *testing.T) {
	g := NewFixedGenerator("a", "b")
	assert.Equal(t, "a", g.Make(time.Now()))
	assert.Equal(t, "b", g.Make(time.Now()))
	id := g.Make(time.Now())
	require.Len(t, id, 26)
}

func TestInstanceID_Stable(t *testing.T) {
	id := InstanceID()
	assert.Equal(t, id, InstanceID())
	assert.NotZero(t, id)
}
