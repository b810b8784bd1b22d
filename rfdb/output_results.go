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

	"github.com/cardinalhq/recordflow/internal/connection"
	"github.com/cardinalhq/recordflow/internal/delivery"
)

var _ delivery.History = (*OutputResults)(nil)

// OutputResults is the append-only delivery history.
type OutputResults struct {
	store *Store
}

func (store *Store) OutputResults() *OutputResults {
	return &OutputResults{store: store}
}

const insertOutputResult = `INSERT INTO output_results (
  id, data_source_id, file_name, destination_id, destination_name, kind, invalid,
  success, error, retry_count, records, bytes_written, duration_ms, delivered_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
ON CONFLICT (id) DO NOTHING`

func (o *OutputResults) Append(ctx context.Context, results []delivery.Result) error {
	if len(results) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, r := range results {
		batch.Queue(insertOutputResult,
			r.ID, r.DataSourceID, r.FileName, r.DestinationID, r.DestinationName, string(r.Kind), r.Invalid,
			r.Success, r.Error, r.RetryCount, r.Records, r.BytesWritten, r.DurationMs, r.DeliveredAt)
	}
	return o.store.db.SendBatch(ctx, batch).Close()
}

func (o *OutputResults) Recent(ctx context.Context, destinationID string, limit int) ([]delivery.Result, error) {
	q := o.store.psql.
		Select("id", "data_source_id", "file_name", "destination_id", "destination_name", "kind", "invalid",
			"success", "error", "retry_count", "records", "bytes_written", "duration_ms", "delivered_at").
		From("output_results").
		OrderBy("delivered_at DESC", "id DESC")
	if destinationID != "" {
		q = q.Where(sq.Eq{"destination_id": destinationID})
	}
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	rows, err := o.store.query(ctx, q)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (delivery.Result, error) {
		var r delivery.Result
		var kind string
		err := row.Scan(&r.ID, &r.DataSourceID, &r.FileName, &r.DestinationID, &r.DestinationName, &kind, &r.Invalid,
			&r.Success, &r.Error, &r.RetryCount, &r.Records, &r.BytesWritten, &r.DurationMs, &r.DeliveredAt)
		r.Kind = connection.Kind(kind)
		r.DeliveredAt = r.DeliveredAt.UTC()
		return r, err
	})
}
