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
	"time"

	"github.com/cardinalhq/recordflow/internal/validation"
)

const (
	DefaultPageSize = 25
	MaxPageSize     = 100
)

// Filter selects records for List, Export and Statistics. Zero values
// mean "any".
type Filter struct {
	DataSourceID string
	ErrorType    validation.Reason
	Status       Status
	From         time.Time
	To           time.Time
	Search       string
	Page         int
	PageSize     int
}

// Normalized clamps paging to its defaults and bounds.
func (f Filter) Normalized() Filter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 {
		f.PageSize = DefaultPageSize
	}
	if f.PageSize > MaxPageSize {
		f.PageSize = MaxPageSize
	}
	return f
}

// Offset is the number of rows skipped before the current page.
func (f Filter) Offset() int {
	return (f.Page - 1) * f.PageSize
}

type Page struct {
	Items    []Record `json:"items"`
	Total    int      `json:"total"`
	Page     int      `json:"page"`
	PageSize int      `json:"pageSize"`
}

type Statistics struct {
	Total        int                       `json:"total"`
	ByStatus     map[Status]int            `json:"byStatus"`
	ByDataSource map[string]int            `json:"byDataSource"`
	ByErrorType  map[validation.Reason]int `json:"byErrorType"`
}

func newStatistics() Statistics {
	return Statistics{
		ByStatus:     map[Status]int{},
		ByDataSource: map[string]int{},
		ByErrorType:  map[validation.Reason]int{},
	}
}

// Repository persists records. Update is a compare-and-swap on status:
// it must fail with ErrStale when the stored status is not expected.
type Repository interface {
	Insert(ctx context.Context, records []Record) error
	Get(ctx context.Context, id string) (Record, error)
	Update(ctx context.Context, rec Record, expected Status) error
	// List returns one page, newest first, ties broken by id descending.
	List(ctx context.Context, f Filter) (Page, error)
	// Each visits every match in List order without paging.
	Each(ctx context.Context, f Filter, fn func(Record) error) error
	Statistics(ctx context.Context, f Filter) (Statistics, error)
}
