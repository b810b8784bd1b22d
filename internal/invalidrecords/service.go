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
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/cardinalhq/recordflow/internal/delivery"
	"github.com/cardinalhq/recordflow/internal/idgen"
	"github.com/cardinalhq/recordflow/internal/validation"
)

// CorrectedSuffix marks the file name of reprocessed deliveries.
const CorrectedSuffix = "_CORRECTED"

// CorrectedFileName inserts CorrectedSuffix ahead of the extension so
// the delivered file keeps its type: orders.json becomes
// orders_CORRECTED.json.
func CorrectedFileName(name string) string {
	ext := path.Ext(name)
	return strings.TrimSuffix(name, ext) + CorrectedSuffix + ext
}

var (
	// ErrCorrectionRejected means the corrected payload did not pass the
	// data source schema. The record stays InProgress.
	ErrCorrectionRejected = errors.New("corrected payload failed validation")
	ErrNoReprocessor      = errors.New("reprocessing is not configured")
)

// Reprocessor re-validates and delivers a corrected payload on behalf of
// the data source the record came from.
type Reprocessor interface {
	Revalidate(ctx context.Context, dataSourceID string, payload json.RawMessage) (*validation.Result, error)
	Deliver(ctx context.Context, dataSourceID, fileName string, payload json.RawMessage) ([]delivery.Result, error)
}

type Option func(*Service)

func WithIDGenerator(g idgen.IDGenerator) Option {
	return func(s *Service) { s.ids = g }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func WithReprocessor(r Reprocessor) Option {
	return func(s *Service) { s.reprocessor = r }
}

type Service struct {
	repo        Repository
	ids         idgen.IDGenerator
	now         func() time.Time
	logger      *slog.Logger
	reprocessor Reprocessor
}

func NewService(repo Repository, opts ...Option) *Service {
	s := &Service{
		repo:   repo,
		ids:    idgen.DefaultGenerator,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetReprocessor installs the reprocessor after construction. The pipeline
// runner needs the service before it can act as its reprocessor.
func (s *Service) SetReprocessor(r Reprocessor) {
	s.reprocessor = r
}

// Record stores one New record per invalid entry.
func (s *Service) Record(ctx context.Context, src Source, fileName string, invalid []validation.Invalid) ([]Record, error) {
	if len(invalid) == 0 {
		return nil, nil
	}
	now := s.now().UTC()
	records := make([]Record, 0, len(invalid))
	for _, inv := range invalid {
		records = append(records, Record{
			ID:             s.ids.Make(now),
			DataSourceID:   src.ID,
			DataSourceName: src.Name,
			FileName:       fileName,
			LineNumber:     inv.LineNumber,
			Payload:        inv.Payload,
			Reason:         inv.Reason,
			Errors:         inv.Errors,
			Status:         StatusNew,
			CreatedAt:      now,
			UpdatedAt:      now,
		})
	}
	if err := s.repo.Insert(ctx, records); err != nil {
		return nil, fmt.Errorf("storing invalid records: %w", err)
	}
	recordCreated(ctx, src.ID, len(records))
	return records, nil
}

func (s *Service) Get(ctx context.Context, id string) (Record, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, f Filter) (Page, error) {
	return s.repo.List(ctx, f)
}

func (s *Service) Statistics(ctx context.Context, f Filter) (Statistics, error) {
	return s.repo.Statistics(ctx, f)
}

// UpdateStatus moves a record forward. Only legal transitions succeed.
func (s *Service) UpdateStatus(ctx context.Context, id string, to Status, note, updatedBy string) (Record, error) {
	rec, err := s.repo.Get(ctx, id)
	if err != nil {
		return Record{}, err
	}
	return s.transition(ctx, rec, to, updatedBy, note)
}

// transition applies one move guarded by the status it was read with.
func (s *Service) transition(ctx context.Context, rec Record, to Status, by, note string) (Record, error) {
	from := rec.Status
	if !CanTransition(from, to) {
		return rec, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	now := s.now().UTC()
	rec.Status = to
	rec.UpdatedAt = now
	rec.UpdatedBy = by
	if note != "" {
		rec.Notes = append(rec.Notes, note)
	}
	if to == StatusCorrected {
		rec.CorrectedBy = by
		rec.CorrectedAt = &now
	}
	if err := s.repo.Update(ctx, rec, from); err != nil {
		if errors.Is(err, ErrStale) {
			return rec, fmt.Errorf("%w: %s changed concurrently", ErrInvalidTransition, rec.ID)
		}
		return rec, err
	}
	recordTransition(ctx, from, to)
	return rec, nil
}

type CorrectRequest struct {
	ID            string
	Payload       json.RawMessage
	CorrectedBy   string
	AutoReprocess bool
	Notes         string
}

type CorrectResult struct {
	Record     Record
	Validation *validation.Result
	Outputs    []delivery.Result
}

// Correct stores a corrected payload. With AutoReprocess the payload is
// validated against the source schema first and, when it passes, the
// record is marked Corrected and delivered under a suffixed file name.
func (s *Service) Correct(ctx context.Context, req CorrectRequest) (CorrectResult, error) {
	if len(req.Payload) == 0 || !json.Valid(req.Payload) {
		return CorrectResult{}, fmt.Errorf("correction payload for %s is not valid JSON", req.ID)
	}
	if req.AutoReprocess && s.reprocessor == nil {
		return CorrectResult{}, ErrNoReprocessor
	}
	rec, err := s.repo.Get(ctx, req.ID)
	if err != nil {
		return CorrectResult{}, err
	}
	if rec.Status == StatusNew {
		if rec, err = s.transition(ctx, rec, StatusInProgress, req.CorrectedBy, ""); err != nil {
			return CorrectResult{Record: rec}, err
		}
	}
	if rec.Status != StatusInProgress {
		return CorrectResult{Record: rec}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, rec.Status, StatusCorrected)
	}
	rec.CorrectedPayload = req.Payload

	if !req.AutoReprocess {
		rec, err = s.transition(ctx, rec, StatusCorrected, req.CorrectedBy, req.Notes)
		return CorrectResult{Record: rec}, err
	}

	vr, err := s.reprocessor.Revalidate(ctx, rec.DataSourceID, req.Payload)
	if err != nil {
		return CorrectResult{Record: rec}, fmt.Errorf("revalidating %s: %w", rec.ID, err)
	}
	if vr.InvalidRecords > 0 || vr.ValidRecords == 0 {
		note := fmt.Sprintf("reprocess rejected by %s: %s", req.CorrectedBy, rejectionSummary(vr))
		rec, err = s.keepInProgress(ctx, rec, req.CorrectedBy, note)
		if err != nil {
			return CorrectResult{Record: rec, Validation: vr}, err
		}
		return CorrectResult{Record: rec, Validation: vr}, ErrCorrectionRejected
	}

	rec, err = s.transition(ctx, rec, StatusCorrected, req.CorrectedBy, req.Notes)
	if err != nil {
		return CorrectResult{Record: rec, Validation: vr}, err
	}
	outputs, err := s.reprocessor.Deliver(ctx, rec.DataSourceID, CorrectedFileName(rec.FileName), req.Payload)
	if err != nil {
		s.logger.Error("Delivering corrected record failed", slog.String("id", rec.ID), slog.Any("error", err))
		return CorrectResult{Record: rec, Validation: vr, Outputs: outputs}, fmt.Errorf("delivering %s: %w", rec.ID, err)
	}
	return CorrectResult{Record: rec, Validation: vr, Outputs: outputs}, nil
}

// keepInProgress saves the correction attempt without changing status.
func (s *Service) keepInProgress(ctx context.Context, rec Record, by, note string) (Record, error) {
	rec.UpdatedAt = s.now().UTC()
	rec.UpdatedBy = by
	rec.Notes = append(rec.Notes, note)
	if err := s.repo.Update(ctx, rec, StatusInProgress); err != nil {
		if errors.Is(err, ErrStale) {
			return rec, fmt.Errorf("%w: %s changed concurrently", ErrInvalidTransition, rec.ID)
		}
		return rec, err
	}
	return rec, nil
}

func rejectionSummary(vr *validation.Result) string {
	if len(vr.Invalid) == 0 {
		return "no records found"
	}
	first := vr.Invalid[0]
	if len(first.Errors) == 0 {
		return string(first.Reason)
	}
	return first.Errors[0].Message
}
