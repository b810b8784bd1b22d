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

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	require.False(t, cfg.Kafka.Enabled)
	require.Equal(t, "catalog.yaml", cfg.Pipeline.CatalogFile)
	require.Equal(t, 60*time.Second, cfg.Metrics.Interval)
	require.Equal(t, time.Minute, cfg.Alerts.Interval)
	require.Equal(t, 8090, cfg.Health.Port)
	require.False(t, cfg.Database.Enabled)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("RECORDFLOW_KAFKA_BROKERS", "broker1:9092,broker2:9092")
	t.Setenv("RECORDFLOW_KAFKA_SASL_ENABLED", "true")
	t.Setenv("RECORDFLOW_KAFKA_SASL_USERNAME", "alice")
	t.Setenv("RECORDFLOW_KAFKA_ENABLED", "true")

	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, []string{"broker1:9092", "broker2:9092"}, cfg.Kafka.Brokers)
	require.True(t, cfg.Kafka.SASLEnabled)
	require.Equal(t, "alice", cfg.Kafka.SASLUsername)
	require.True(t, cfg.Kafka.Enabled)
}

func TestLoadSectionEnvVars(t *testing.T) {
	t.Setenv("RECORDFLOW_PIPELINE_CATALOG_FILE", "/etc/recordflow/catalog.yaml")
	t.Setenv("RECORDFLOW_METRICS_INTERVAL", "15s")
	t.Setenv("RECORDFLOW_METRICS_SYSTEM_URL", "http://prometheus:9090")
	t.Setenv("RECORDFLOW_ALERTS_RULES_FILE", "rules.yaml")
	t.Setenv("RECORDFLOW_DELIVERY_CONCURRENCY", "4")
	t.Setenv("RECORDFLOW_HEALTH_PORT", "9191")
	t.Setenv("RECORDFLOW_DATABASE_ENABLED", "true")

	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, "/etc/recordflow/catalog.yaml", cfg.Pipeline.CatalogFile)
	require.Equal(t, 15*time.Second, cfg.Metrics.Interval)
	require.Equal(t, "http://prometheus:9090", cfg.Metrics.SystemURL)
	require.Equal(t, "rules.yaml", cfg.Alerts.RulesFile)
	require.Equal(t, 4, cfg.Delivery.Concurrency)
	require.Equal(t, 9191, cfg.Health.Port)
	require.True(t, cfg.Database.Enabled)
}
