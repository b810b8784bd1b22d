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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/recordflow/internal/connection"
	"github.com/cardinalhq/recordflow/internal/validation"
)

func TestLoadCatalog(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "orders.schema.json"), []byte(orderSchema), 0o644))
	catalog := `
dataSources:
  - id: orders
    name: Orders
    active: true
    connection:
      kind: folder
      folder:
        path: /data/in/orders
    filePattern: "*.json"
    schemaFile: orders.schema.json
    pollInterval: 30s
    validation:
      maxErrorsAllowed: 10
    output:
      defaultFormat: csv
      destinations:
        - id: archive
          name: Archive
          enabled: true
          kind: folder
          folder:
            path: /data/out
  - id: legacy
    name: Legacy
    active: false
    connection:
      kind: folder
      folder:
        path: /data/in/legacy
`
	path := filepath.Join(dir, "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(catalog), 0o644))

	c, err := LoadCatalog(path)
	require.NoError(t, err)

	ds, err := c.Get("orders")
	require.NoError(t, err)
	assert.Equal(t, orderSchema, ds.Schema)
	assert.Equal(t, 30*time.Second, ds.interval())
	assert.Equal(t, 10, ds.Validation.MaxErrorsAllowed)
	require.Len(t, ds.Output.Destinations, 1)
	assert.Equal(t, connection.KindFolder, ds.Output.Destinations[0].Kind)
	assert.Equal(t, "/data/out", ds.Output.Destinations[0].Folder.Path)

	legacy, err := c.Get("legacy")
	require.NoError(t, err)
	assert.Equal(t, validation.DefaultSchema, legacy.schema())
	assert.Equal(t, DefaultPollInterval, legacy.interval())
	assert.Equal(t, "*", legacy.pattern())

	assert.Len(t, c.List(), 2)
	active := c.Active()
	require.Len(t, active, 1)
	assert.Equal(t, "orders", active[0].ID)
}

func TestCatalog_RejectsUnpollableSources(t *testing.T) {
	_, err := NewCatalog(DataSource{
		ID:         "stream",
		Name:       "Stream",
		Connection: connection.Descriptor{Kind: connection.KindHTTP, HTTP: &connection.HTTPConfig{URL: "https://example.com"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot be polled")

	_, err = NewCatalog(DataSource{ID: "x", Connection: connection.Descriptor{Kind: connection.KindFolder, Folder: &connection.FolderConfig{Path: "/in"}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "name is required")
}

func TestCatalog_PutGeneratesID(t *testing.T) {
	c, err := NewCatalog()
	require.NoError(t, err)
	require.NoError(t, c.Put(DataSource{
		Name:       "Anon",
		Connection: connection.Descriptor{Kind: connection.KindFolder, Folder: &connection.FolderConfig{Path: "/in"}},
	}))
	list := c.List()
	require.Len(t, list, 1)
	assert.NotEmpty(t, list[0].ID)
	assert.False(t, list[0].CreatedAt.IsZero())
}

func TestMemoryLedger(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	require.NoError(t, l.Append(ctx, Entry{ID: "1", DataSourceID: "a", DataSourceName: "A", Total: 10, Valid: 8, Invalid: 2}))
	require.NoError(t, l.Append(ctx, Entry{ID: "2", DataSourceID: "b", DataSourceName: "B", Total: 5, Valid: 5}))
	require.NoError(t, l.Append(ctx, Entry{ID: "3", DataSourceID: "a", DataSourceName: "A", Total: 4, Valid: 1, Invalid: 3}))

	totals, err := l.Totals(ctx)
	require.NoError(t, err)
	require.Len(t, totals, 2)
	assert.Equal(t, "a", totals[0].DataSourceID)
	assert.Equal(t, int64(2), totals[0].Files)
	assert.Equal(t, int64(14), totals[0].Total)
	assert.Equal(t, int64(9), totals[0].Valid)
	assert.Equal(t, int64(5), totals[0].Invalid)

	recent, err := l.Recent(ctx, "a", 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "3", recent[0].ID)
}
