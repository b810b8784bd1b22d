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
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/cardinalhq/recordflow/internal/fly"
	"github.com/cardinalhq/recordflow/internal/healthcheck"
	"github.com/cardinalhq/recordflow/internal/metrics"
)

// Config aggregates configuration for the application.
// Each field is owned by its respective package.
type Config struct {
	Kafka    fly.Config     `mapstructure:"kafka"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Delivery DeliveryConfig `mapstructure:"delivery"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Alerts   AlertsConfig   `mapstructure:"alerts"`
	Health   HealthConfig   `mapstructure:"health"`
	Database DatabaseConfig `mapstructure:"database"`
}

type PipelineConfig struct {
	CatalogFile string `mapstructure:"catalog_file"`
	// PollTimeout bounds one poll of one data source.
	PollTimeout time.Duration `mapstructure:"poll_timeout"`
}

type DeliveryConfig struct {
	// Concurrency caps simultaneous destination writes per run. Zero is
	// unlimited.
	Concurrency int `mapstructure:"concurrency"`
}

type MetricsConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	InitialDelay    time.Duration `mapstructure:"initial_delay"`
	Timeout         time.Duration `mapstructure:"timeout"`
	DefinitionsFile string        `mapstructure:"definitions_file"`
	// SystemURL and BusinessURL are Prometheus-compatible query endpoints.
	// When empty the collector's own series are queried.
	SystemURL    string        `mapstructure:"system_url"`
	BusinessURL  string        `mapstructure:"business_url"`
	QueryTimeout time.Duration `mapstructure:"query_timeout"`
	QueueSize    int           `mapstructure:"queue_size"`
	Retention    time.Duration `mapstructure:"retention"`
}

type AlertsConfig struct {
	RulesFile string        `mapstructure:"rules_file"`
	Interval  time.Duration `mapstructure:"interval"`
	Timeout   time.Duration `mapstructure:"timeout"`
	Buffer    int           `mapstructure:"buffer"`
}

type HealthConfig struct {
	Port int `mapstructure:"port"`
}

type DatabaseConfig struct {
	// Enabled switches persistence to Postgres. The connection itself is
	// read from RECORDFLOW_DATABASE_* variables.
	Enabled bool `mapstructure:"enabled"`
}

func defaults() *Config {
	return &Config{
		Kafka: *fly.DefaultConfig(),
		Pipeline: PipelineConfig{
			CatalogFile: "catalog.yaml",
			PollTimeout: 10 * time.Minute,
		},
		Metrics: MetricsConfig{
			Interval:     metrics.DefaultInterval,
			InitialDelay: metrics.DefaultInitialDelay,
			Timeout:      metrics.DefaultTickTimeout,
			QueryTimeout: 10 * time.Second,
			QueueSize:    16,
			Retention:    24 * time.Hour,
		},
		Alerts: AlertsConfig{
			Interval: time.Minute,
			Timeout:  30 * time.Second,
			Buffer:   64,
		},
		Health: HealthConfig{Port: healthcheck.DefaultPort},
	}
}

// Load reads configuration from files and environment variables.
// Environment variables use the prefix "RECORDFLOW" and the dot character
// in keys is replaced by an underscore. For example, "kafka.brokers" becomes
// "RECORDFLOW_KAFKA_BROKERS".
func Load() (*Config, error) {
	cfg := defaults()

	v := viper.New()
	v.SetConfigName("config")
	v.AddConfigPath(".")
	v.SetEnvPrefix("RECORDFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvs(v, cfg)
	_ = v.ReadInConfig()

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	if b := v.GetString("kafka.brokers"); b != "" {
		cfg.Kafka.Brokers = strings.Split(b, ",")
	}
	cfg.Kafka.Enabled = v.GetBool("kafka.enabled")
	return cfg, nil
}

// bindEnvs registers all keys within cfg so that viper will look up
// corresponding environment variables when unmarshalling.
func bindEnvs(v *viper.Viper, cfg any, parts ...string) {
	val := reflect.ValueOf(cfg)
	typ := reflect.TypeOf(cfg)
	if typ.Kind() == reflect.Ptr {
		val = val.Elem()
		typ = typ.Elem()
	}
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		tag := f.Tag.Get("mapstructure")
		if tag == "" {
			tag = strings.ToLower(f.Name)
		}
		key := append(parts, tag)
		if f.Type.Kind() == reflect.Struct {
			bindEnvs(v, val.Field(i).Interface(), key...)
			continue
		}
		_ = v.BindEnv(strings.Join(key, "."))
	}
}
