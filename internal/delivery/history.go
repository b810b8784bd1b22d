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
	"slices"
	"sync"
)

// History is the append-only record of delivery results.
type History interface {
	Append(ctx context.Context, results []Result) error
	// Recent returns up to limit results for a destination, newest first.
	// An empty destination id matches all.
	Recent(ctx context.Context, destinationID string, limit int) ([]Result, error)
}

// MemoryHistory keeps the most recent results in process.
type MemoryHistory struct {
	mu      sync.Mutex
	max     int
	results []Result
}

const defaultHistorySize = 10000

func NewMemoryHistory(max int) *MemoryHistory {
	if max <= 0 {
		max = defaultHistorySize
	}
	return &MemoryHistory{max: max}
}

func (h *MemoryHistory) Append(_ context.Context, results []Result) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.results = append(h.results, results...)
	if over := len(h.results) - h.max; over > 0 {
		h.results = slices.Delete(h.results, 0, over)
	}
	return nil
}

func (h *MemoryHistory) Recent(_ context.Context, destinationID string, limit int) ([]Result, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []Result
	for i := len(h.results) - 1; i >= 0; i-- {
		if destinationID != "" && h.results[i].DestinationID != destinationID {
			continue
		}
		out = append(out, h.results[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}
