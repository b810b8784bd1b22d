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

package rfdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/cardinalhq/recordflow/internal/invalidrecords"
	"github.com/cardinalhq/recordflow/internal/validation"
)

var _ invalidrecords.Repository = (*InvalidRecords)(nil)

// InvalidRecords stores invalid records in Postgres. Status updates are
// conditional on the previously read status.
type InvalidRecords struct {
	store *Store
}

func (store *Store) InvalidRecords() *InvalidRecords {
	return &InvalidRecords{store: store}
}

const invalidRecordColumns = `id, data_source_id, data_source_name, file_name, line_number, payload,
reason, errors, status, corrected_payload, notes, created_at, updated_at,
updated_by, corrected_by, corrected_at`

const insertInvalidRecord = `INSERT INTO invalid_records (
  id, data_source_id, data_source_name, file_name, line_number, payload,
  reason, errors, summary, status, notes, created_at, updated_at, updated_by
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

func (r *InvalidRecords) Insert(ctx context.Context, records []invalidrecords.Record) error {
	if len(records) == 0 {
		return nil
	}
	return r.store.execTx(ctx, func(tx *Store) error {
		batch := &pgx.Batch{}
		for i := range records {
			rec := &records[i]
			errs, err := json.Marshal(rec.Errors)
			if err != nil {
				return fmt.Errorf("encoding errors for %s: %w", rec.ID, err)
			}
			batch.Queue(insertInvalidRecord,
				rec.ID, rec.DataSourceID, rec.DataSourceName, rec.FileName, rec.LineNumber,
				[]byte(rec.Payload), string(rec.Reason), errs, rec.Summary(), string(rec.Status),
				notes(rec.Notes), rec.CreatedAt, rec.UpdatedAt, rec.UpdatedBy)
		}
		results := tx.db.SendBatch(ctx, batch)
		for range records {
			if _, err := results.Exec(); err != nil {
				_ = results.Close()
				return fmt.Errorf("inserting invalid record: %w", err)
			}
		}
		return results.Close()
	})
}

func (r *InvalidRecords) Get(ctx context.Context, id string) (invalidrecords.Record, error) {
	rows, err := r.store.query(ctx, r.store.psql.
		Select(invalidRecordColumns).
		From("invalid_records").
		Where(sq.Eq{"id": id}))
	if err != nil {
		return invalidrecords.Record{}, err
	}
	rec, err := pgx.CollectExactlyOneRow(rows, scanInvalidRecord)
	if errors.Is(err, pgx.ErrNoRows) {
		return invalidrecords.Record{}, fmt.Errorf("%w: %s", invalidrecords.ErrNotFound, id)
	}
	return rec, err
}

// Update writes the mutable columns only when the row still has the
// expected status.
func (r *InvalidRecords) Update(ctx context.Context, rec invalidrecords.Record, expected invalidrecords.Status) error {
	sql, args, err := r.store.psql.Update("invalid_records").
		Set("status", string(rec.Status)).
		Set("corrected_payload", nullableJSON(rec.CorrectedPayload)).
		Set("notes", notes(rec.Notes)).
		Set("updated_at", rec.UpdatedAt).
		Set("updated_by", rec.UpdatedBy).
		Set("corrected_by", rec.CorrectedBy).
		Set("corrected_at", rec.CorrectedAt).
		Where(sq.Eq{"id": rec.ID, "status": string(expected)}).
		ToSql()
	if err != nil {
		return err
	}
	tag, err := r.store.db.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := r.store.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM invalid_records WHERE id = $1)`, rec.ID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", invalidrecords.ErrNotFound, rec.ID)
	}
	return invalidrecords.ErrStale
}

func (r *InvalidRecords) List(ctx context.Context, f invalidrecords.Filter) (invalidrecords.Page, error) {
	f = f.Normalized()
	page := invalidrecords.Page{Page: f.Page, PageSize: f.PageSize, Items: []invalidrecords.Record{}}

	where := filterClause(f)
	sql, args, err := r.store.psql.Select("count(*)").From("invalid_records").Where(where).ToSql()
	if err != nil {
		return page, err
	}
	if err := r.store.db.QueryRow(ctx, sql, args...).Scan(&page.Total); err != nil {
		return page, err
	}
	if page.Total == 0 {
		return page, nil
	}

	rows, err := r.store.query(ctx, r.store.psql.
		Select(invalidRecordColumns).
		From("invalid_records").
		Where(where).
		OrderBy("created_at DESC", "id DESC").
		Limit(uint64(f.PageSize)).
		Offset(uint64(f.Offset())))
	if err != nil {
		return page, err
	}
	items, err := pgx.CollectRows(rows, scanInvalidRecord)
	if err != nil {
		return page, err
	}
	page.Items = items
	return page, nil
}

func (r *InvalidRecords) Each(ctx context.Context, f invalidrecords.Filter, fn func(invalidrecords.Record) error) error {
	rows, err := r.store.query(ctx, r.store.psql.
		Select(invalidRecordColumns).
		From("invalid_records").
		Where(filterClause(f)).
		OrderBy("created_at DESC", "id DESC"))
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		rec, err := scanInvalidRecord(rows)
		if err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (r *InvalidRecords) Statistics(ctx context.Context, f invalidrecords.Filter) (invalidrecords.Statistics, error) {
	stats := invalidrecords.Statistics{
		ByStatus:     map[invalidrecords.Status]int{},
		ByDataSource: map[string]int{},
		ByErrorType:  map[validation.Reason]int{},
	}
	rows, err := r.store.query(ctx, r.store.psql.
		Select("status", "data_source_id", "reason", "count(*)").
		From("invalid_records").
		Where(filterClause(f)).
		GroupBy("status", "data_source_id", "reason"))
	if err != nil {
		return stats, err
	}
	defer rows.Close()
	for rows.Next() {
		var status, source, reason string
		var n int
		if err := rows.Scan(&status, &source, &reason, &n); err != nil {
			return stats, err
		}
		stats.Total += n
		stats.ByStatus[invalidrecords.Status(status)] += n
		stats.ByDataSource[source] += n
		stats.ByErrorType[validation.Reason(reason)] += n
	}
	return stats, rows.Err()
}

// filterClause mirrors the in-memory filter. Paging is applied by the
// caller.
func filterClause(f invalidrecords.Filter) sq.And {
	where := sq.And{}
	if f.DataSourceID != "" {
		where = append(where, sq.Eq{"data_source_id": f.DataSourceID})
	}
	if f.ErrorType != "" {
		where = append(where, sq.Eq{"reason": string(f.ErrorType)})
	}
	if f.Status != "" {
		where = append(where, sq.Eq{"status": string(f.Status)})
	}
	if !f.From.IsZero() {
		where = append(where, sq.GtOrEq{"created_at": f.From})
	}
	if !f.To.IsZero() {
		where = append(where, sq.LtOrEq{"created_at": f.To})
	}
	if f.Search != "" {
		pattern := "%" + escapeLike(f.Search) + "%"
		where = append(where, sq.Or{
			sq.ILike{"file_name": pattern},
			sq.Expr("payload::text ILIKE ?", pattern),
			sq.ILike{"summary": pattern},
		})
	}
	return where
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

func scanInvalidRecord(row pgx.CollectableRow) (invalidrecords.Record, error) {
	var (
		rec                  invalidrecords.Record
		payload, errs        []byte
		corrected            []byte
		reason, status       string
		notesCol             []string
		correctedAt          *time.Time
		createdAt, updatedAt time.Time
	)
	err := row.Scan(&rec.ID, &rec.DataSourceID, &rec.DataSourceName, &rec.FileName, &rec.LineNumber,
		&payload, &reason, &errs, &status, &corrected, &notesCol, &createdAt, &updatedAt,
		&rec.UpdatedBy, &rec.CorrectedBy, &correctedAt)
	if err != nil {
		return rec, err
	}
	if len(errs) > 0 {
		if err := json.Unmarshal(errs, &rec.Errors); err != nil {
			return rec, fmt.Errorf("decoding errors for %s: %w", rec.ID, err)
		}
	}
	rec.Payload = payload
	if len(corrected) > 0 {
		rec.CorrectedPayload = corrected
	}
	rec.Reason = validation.Reason(reason)
	rec.Status = invalidrecords.Status(status)
	if len(notesCol) > 0 {
		rec.Notes = notesCol
	}
	rec.CreatedAt = createdAt.UTC()
	rec.UpdatedAt = updatedAt.UTC()
	if correctedAt != nil {
		t := correctedAt.UTC()
		rec.CorrectedAt = &t
	}
	return rec, nil
}

func nullableJSON(b json.RawMessage) any {
	if len(b) == 0 {
		return nil
	}
	return []byte(b)
}

func notes(n []string) []string {
	if n == nil {
		return []string{}
	}
	return n
}
