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

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/cardinalhq/recordflow/internal/metrics"
	"github.com/cardinalhq/recordflow/internal/pipeline"
	"github.com/cardinalhq/recordflow/internal/validation"
)

var _ pipeline.Ledger = (*ValidationResults)(nil)

// ValidationResults is the append-only run ledger. Per-source totals are
// always aggregated from it, never stored.
type ValidationResults struct {
	store *Store
}

func (store *Store) ValidationResults() *ValidationResults {
	return &ValidationResults{store: store}
}

func (v *ValidationResults) Append(ctx context.Context, e pipeline.Entry) error {
	_, err := v.store.db.Exec(ctx, `INSERT INTO validation_results (
  id, data_source_id, data_source_name, category, file_name, total_records, valid_records,
  invalid_records, truncated, status, delivered, delivery_failed, validated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		e.ID, e.DataSourceID, e.DataSourceName, e.Category, e.FileName, e.Total, e.Valid,
		e.Invalid, e.Truncated, string(e.Status), e.Delivered, e.DeliveryFailed, e.At)
	return err
}

func (v *ValidationResults) Totals(ctx context.Context) ([]metrics.SourceTotals, error) {
	rows, err := v.store.db.Query(ctx, `SELECT data_source_id, max(data_source_name), max(category),
  count(*), coalesce(sum(total_records), 0), coalesce(sum(valid_records), 0), coalesce(sum(invalid_records), 0)
FROM validation_results
GROUP BY data_source_id
ORDER BY min(validated_at), data_source_id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (metrics.SourceTotals, error) {
		var t metrics.SourceTotals
		err := row.Scan(&t.DataSourceID, &t.DataSourceName, &t.Category, &t.Files, &t.Total, &t.Valid, &t.Invalid)
		return t, err
	})
}

func (v *ValidationResults) Recent(ctx context.Context, dataSourceID string, limit int) ([]pipeline.Entry, error) {
	q := v.store.psql.
		Select("id", "data_source_id", "data_source_name", "category", "file_name", "total_records", "valid_records",
			"invalid_records", "truncated", "status", "delivered", "delivery_failed", "validated_at").
		From("validation_results").
		OrderBy("validated_at DESC", "id DESC")
	if dataSourceID != "" {
		q = q.Where(sq.Eq{"data_source_id": dataSourceID})
	}
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	rows, err := v.store.query(ctx, q)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (pipeline.Entry, error) {
		var e pipeline.Entry
		var status string
		err := row.Scan(&e.ID, &e.DataSourceID, &e.DataSourceName, &e.Category, &e.FileName, &e.Total, &e.Valid,
			&e.Invalid, &e.Truncated, &status, &e.Delivered, &e.DeliveryFailed, &e.At)
		e.Status = validation.Status(status)
		e.At = e.At.UTC()
		return e, err
	})
}
