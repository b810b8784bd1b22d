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

package invalidrecords

import (
	"context"
	"slices"
	"strings"
	"sync"
)

// MemoryRepository keeps records in process. It is used by tests and by
// deployments that run without a database.
type MemoryRepository struct {
	mu      sync.RWMutex
	records map[string]Record
}

var _ Repository = (*MemoryRepository)(nil)

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{records: map[string]Record{}}
}

func (m *MemoryRepository) Insert(_ context.Context, records []Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		m.records[r.ID] = cloneRecord(r)
	}
	return nil
}

func (m *MemoryRepository) Get(_ context.Context, id string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return cloneRecord(r), nil
}

func (m *MemoryRepository) Update(_ context.Context, rec Record, expected Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.records[rec.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Status != expected {
		return ErrStale
	}
	m.records[rec.ID] = cloneRecord(rec)
	return nil
}

func (m *MemoryRepository) matching(f Filter) []Record {
	m.mu.RLock()
	out := make([]Record, 0, len(m.records))
	for _, r := range m.records {
		if matches(r, f) {
			out = append(out, cloneRecord(r))
		}
	}
	m.mu.RUnlock()
	slices.SortFunc(out, compareNewestFirst)
	return out
}

func (m *MemoryRepository) List(_ context.Context, f Filter) (Page, error) {
	f = f.Normalized()
	all := m.matching(f)
	page := Page{Total: len(all), Page: f.Page, PageSize: f.PageSize, Items: []Record{}}
	start := f.Offset()
	if start >= len(all) {
		return page, nil
	}
	end := min(start+f.PageSize, len(all))
	page.Items = all[start:end]
	return page, nil
}

func (m *MemoryRepository) Each(ctx context.Context, f Filter, fn func(Record) error) error {
	for _, r := range m.matching(f) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryRepository) Statistics(_ context.Context, f Filter) (Statistics, error) {
	stats := newStatistics()
	for _, r := range m.matching(f) {
		stats.Total++
		stats.ByStatus[r.Status]++
		stats.ByDataSource[r.DataSourceID]++
		stats.ByErrorType[r.Reason]++
	}
	return stats, nil
}

func matches(r Record, f Filter) bool {
	if f.DataSourceID != "" && r.DataSourceID != f.DataSourceID {
		return false
	}
	if f.ErrorType != "" && r.Reason != f.ErrorType {
		return false
	}
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if !f.From.IsZero() && r.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && r.CreatedAt.After(f.To) {
		return false
	}
	if f.Search != "" {
		needle := strings.ToLower(f.Search)
		hay := strings.ToLower(r.FileName + "\n" + string(r.Payload) + "\n" + r.Summary())
		if !strings.Contains(hay, needle) {
			return false
		}
	}
	return true
}

func compareNewestFirst(a, b Record) int {
	if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
		return c
	}
	return strings.Compare(b.ID, a.ID)
}

func cloneRecord(r Record) Record {
	r.Payload = slices.Clone(r.Payload)
	r.CorrectedPayload = slices.Clone(r.CorrectedPayload)
	r.Errors = slices.Clone(r.Errors)
	r.Notes = slices.Clone(r.Notes)
	if r.CorrectedAt != nil {
		t := *r.CorrectedAt
		r.CorrectedAt = &t
	}
	return r
}
