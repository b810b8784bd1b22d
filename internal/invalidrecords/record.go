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

// Package invalidrecords keeps records that failed validation and moves
// them through the correction workflow. Records are never deleted.
package invalidrecords

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cardinalhq/recordflow/internal/validation"
)

var (
	// ErrInvalidTransition is returned when the requested status change is
	// not allowed from the record's current status, including when another
	// writer changed that status first.
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNotFound          = errors.New("invalid record not found")
	// ErrStale is what repositories return when the expected status no
	// longer matches. The service reports it as ErrInvalidTransition.
	ErrStale = errors.New("record changed underneath")
)

type Status string

const (
	StatusNew        Status = "New"
	StatusInProgress Status = "InProgress"
	StatusCorrected  Status = "Corrected"
	StatusIgnored    Status = "Ignored"
)

var Statuses = []Status{StatusNew, StatusInProgress, StatusCorrected, StatusIgnored}

// transitions lists every legal move. Corrected and Ignored are terminal.
var transitions = map[Status][]Status{
	StatusNew:        {StatusInProgress, StatusIgnored},
	StatusInProgress: {StatusCorrected, StatusIgnored},
}

func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

func ParseStatus(s string) (Status, error) {
	for _, known := range Statuses {
		if strings.EqualFold(s, string(known)) {
			return known, nil
		}
	}
	return "", fmt.Errorf("unknown status %q", s)
}

// Record is one invalid record with its audit trail.
type Record struct {
	ID             string                       `json:"id"`
	DataSourceID   string                       `json:"dataSourceId"`
	DataSourceName string                       `json:"dataSourceName"`
	FileName       string                       `json:"fileName"`
	LineNumber     int                          `json:"lineNumber"`
	Payload        json.RawMessage              `json:"payload"`
	Reason         validation.Reason            `json:"reason"`
	Errors         []validation.ErrorDescriptor `json:"errors"`

	Status           Status          `json:"status"`
	CorrectedPayload json.RawMessage `json:"correctedPayload,omitempty"`
	Notes            []string        `json:"notes,omitempty"`

	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	UpdatedBy   string     `json:"updatedBy,omitempty"`
	CorrectedBy string     `json:"correctedBy,omitempty"`
	CorrectedAt *time.Time `json:"correctedAt,omitempty"`
}

// Summary joins the error messages the way operators read them.
func (r *Record) Summary() string {
	msgs := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		if e.Field != "" {
			msgs = append(msgs, e.Field+": "+e.Message)
		} else {
			msgs = append(msgs, e.Message)
		}
	}
	return strings.Join(msgs, "; ")
}

// Source identifies the data source a batch of invalid records came from.
type Source struct {
	ID   string
	Name string
}
