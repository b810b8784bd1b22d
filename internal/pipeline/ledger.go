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
	"sync"
	"time"

	"github.com/cardinalhq/recordflow/internal/metrics"
	"github.com/cardinalhq/recordflow/internal/validation"
)

// Entry records one processed file. Entries are only ever appended; the
// per-source counters are derived from them.
type Entry struct {
	ID             string            `json:"id"`
	DataSourceID   string            `json:"dataSourceId"`
	DataSourceName string            `json:"dataSourceName"`
	Category       string            `json:"category,omitempty"`
	FileName       string            `json:"fileName"`
	Total          int               `json:"total"`
	Valid          int               `json:"valid"`
	Invalid        int               `json:"invalid"`
	Truncated      bool              `json:"truncated"`
	Status         validation.Status `json:"status"`
	Delivered      int               `json:"delivered"`
	DeliveryFailed int               `json:"deliveryFailed"`
	At             time.Time         `json:"at"`
}

type Ledger interface {
	Append(ctx context.Context, e Entry) error
	Totals(ctx context.Context) ([]metrics.SourceTotals, error)
	Recent(ctx context.Context, dataSourceID string, limit int) ([]Entry, error)
}

type MemoryLedger struct {
	mu      sync.RWMutex
	entries []Entry
}

var _ metrics.TotalsReader = (*MemoryLedger)(nil)

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{}
}

func (l *MemoryLedger) Append(_ context.Context, e Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, e)
	return nil
}

func (l *MemoryLedger) Totals(_ context.Context) ([]metrics.SourceTotals, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return SumEntries(l.entries), nil
}

func (l *MemoryLedger) Recent(_ context.Context, dataSourceID string, limit int) ([]Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []Entry
	for i := len(l.entries) - 1; i >= 0; i-- {
		if dataSourceID != "" && l.entries[i].DataSourceID != dataSourceID {
			continue
		}
		out = append(out, l.entries[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// SumEntries folds entries into per-source totals, ordered by first
// appearance.
func SumEntries(entries []Entry) []metrics.SourceTotals {
	idx := map[string]int{}
	var out []metrics.SourceTotals
	for _, e := range entries {
		i, ok := idx[e.DataSourceID]
		if !ok {
			i = len(out)
			idx[e.DataSourceID] = i
			out = append(out, metrics.SourceTotals{
				DataSourceID:   e.DataSourceID,
				DataSourceName: e.DataSourceName,
				Category:       e.Category,
			})
		}
		t := &out[i]
		t.Files++
		t.Total += int64(e.Total)
		t.Valid += int64(e.Valid)
		t.Invalid += int64(e.Invalid)
	}
	return out
}
