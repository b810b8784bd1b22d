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

package migrations

import (
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatestVersion(t *testing.T) {
	files := fstest.MapFS{
		"1_initial.up.sql":   {},
		"1_initial.down.sql": {},
		"12_indexes.up.sql":  {},
		"3_more.up.sql":      {},
		"notes.txt":          {},
		"bogus_thing.up.sql": {},
		"99_future.down.sql": {},
	}
	v, err := latestVersion(files)
	require.NoError(t, err)
	assert.Equal(t, uint(12), v)

	_, err = latestVersion(fstest.MapFS{"readme.md": {}})
	assert.Error(t, err)
}

func TestEmbeddedMigrations(t *testing.T) {
	v, err := latestVersion(migrationFiles)
	require.NoError(t, err)
	assert.Equal(t, uint(1), v)

	up, err := migrationFiles.ReadFile("1_initial.up.sql")
	require.NoError(t, err)
	for _, table := range []string{"invalid_records", "output_results", "validation_results", "metric_data_points"} {
		assert.Contains(t, string(up), "CREATE TABLE IF NOT EXISTS "+table)
	}
}

func TestCheckConfigFromEnv(t *testing.T) {
	t.Setenv("RECORDFLOW_MIGRATION_CHECK_ENABLED", "false")
	t.Setenv("RECORDFLOW_MIGRATION_CHECK_TIMEOUT", "2m")
	t.Setenv("RECORDFLOW_MIGRATION_CHECK_RETRY_INTERVAL", "bogus")
	t.Setenv("RECORDFLOW_MIGRATION_CHECK_ALLOW_DIRTY", "TRUE")

	cfg := CheckConfigFromEnv()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, 2*time.Minute, cfg.Timeout)
	assert.Equal(t, 5*time.Second, cfg.RetryInterval)
	assert.True(t, cfg.AllowDirty)
}
