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
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/cardinalhq/recordflow/internal/metrics"
)

var _ metrics.Sink = (*MetricPoints)(nil)

// MetricPoints persists collector snapshots. Writing the same point twice
// replaces its value, so a repeated tick is harmless.
type MetricPoints struct {
	store *Store
}

func (store *Store) MetricPoints() *MetricPoints {
	return &MetricPoints{store: store}
}

const upsertMetricPoint = `INSERT INTO metric_data_points (name, labels, fingerprint, value, ts)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (name, fingerprint, ts) DO UPDATE SET value = EXCLUDED.value`

func (m *MetricPoints) Write(ctx context.Context, points []metrics.DataPoint) error {
	if len(points) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, p := range points {
		labels, err := json.Marshal(p.Labels)
		if err != nil {
			return err
		}
		batch.Queue(upsertMetricPoint, p.Name, labels, p.Metric().Fingerprint().String(), p.Value, p.Timestamp)
	}
	return m.store.db.SendBatch(ctx, batch).Close()
}

// Prune deletes points older than before and reports how many went.
func (m *MetricPoints) Prune(ctx context.Context, before time.Time) (int64, error) {
	tag, err := m.store.db.Exec(ctx, `DELETE FROM metric_data_points WHERE ts < $1`, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
