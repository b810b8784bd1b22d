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
	"fmt"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
)

type BulkAction string

const (
	BulkStart     BulkAction = "start"
	BulkIgnore    BulkAction = "ignore"
	BulkReprocess BulkAction = "reprocess"
)

func ParseBulkAction(s string) (BulkAction, error) {
	switch a := BulkAction(strings.ToLower(s)); a {
	case BulkStart, BulkIgnore, BulkReprocess:
		return a, nil
	}
	return "", fmt.Errorf("unknown bulk action %q", s)
}

type BulkItem struct {
	ID      string `json:"id"`
	Success bool   `json:"success"`
	Status  Status `json:"status,omitempty"`
	Error   string `json:"error,omitempty"`
	err     error
}

// Err is the underlying failure for callers that want errors.Is.
func (i BulkItem) Err() error { return i.err }

type BulkResult struct {
	TotalRequested int        `json:"totalRequested"`
	Successful     int        `json:"successful"`
	Failed         int        `json:"failed"`
	Items          []BulkItem `json:"items"`
}

// BulkOperation applies action to each id on its own. Per-record failures
// are reported in the items and never fail the call.
func (s *Service) BulkOperation(ctx context.Context, ids []string, action BulkAction, requestedBy string) BulkResult {
	seen := mapset.NewThreadUnsafeSet[string]()
	var res BulkResult
	for _, id := range ids {
		if !seen.Add(id) {
			continue
		}
		res.TotalRequested++
		item := BulkItem{ID: id}
		rec, err := s.applyBulk(ctx, id, action, requestedBy)
		item.Status = rec.Status
		if err != nil {
			item.err = err
			item.Error = err.Error()
			res.Failed++
		} else {
			item.Success = true
			res.Successful++
		}
		res.Items = append(res.Items, item)
	}
	s.logger.Info("Bulk operation finished",
		"action", action,
		"requestedBy", requestedBy,
		"requested", res.TotalRequested,
		"successful", res.Successful,
		"failed", res.Failed)
	return res
}

func (s *Service) applyBulk(ctx context.Context, id string, action BulkAction, by string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	switch action {
	case BulkStart:
		return s.UpdateStatus(ctx, id, StatusInProgress, "", by)
	case BulkIgnore:
		return s.UpdateStatus(ctx, id, StatusIgnored, "ignored in bulk", by)
	case BulkReprocess:
		rec, err := s.repo.Get(ctx, id)
		if err != nil {
			return Record{}, err
		}
		payload := rec.CorrectedPayload
		if len(payload) == 0 {
			payload = rec.Payload
		}
		out, err := s.Correct(ctx, CorrectRequest{
			ID:            id,
			Payload:       payload,
			CorrectedBy:   by,
			AutoReprocess: true,
		})
		return out.Record, err
	}
	return Record{}, fmt.Errorf("unknown bulk action %q", action)
}
