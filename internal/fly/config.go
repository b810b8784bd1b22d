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

package fly

import (
	"errors"
	"time"
)

// Config holds the Kafka configuration
type Config struct {
	// Broker configuration
	Brokers []string `mapstructure:"brokers"`

	// SASL authentication
	SASLEnabled   bool   `mapstructure:"sasl_enabled"`
	SASLMechanism string `mapstructure:"sasl_mechanism"` // "SCRAM-SHA-256", "SCRAM-SHA-512" or "PLAIN"
	SASLUsername  string `mapstructure:"sasl_username"`
	SASLPassword  string `mapstructure:"sasl_password"`

	// TLS configuration
	TLSEnabled    bool `mapstructure:"tls_enabled"`
	TLSSkipVerify bool `mapstructure:"tls_skip_verify"`

	// Producer settings
	ProducerBatchSize    int           `mapstructure:"producer_batch_size"`
	ProducerBatchTimeout time.Duration `mapstructure:"producer_batch_timeout"`
	ProducerCompression  string        `mapstructure:"producer_compression"`
	ProducerAcks         string        `mapstructure:"producer_acks"` // "all", "one" or "none"

	ConnectionTimeout time.Duration `mapstructure:"connection_timeout"`

	// Enabled gates the alert notification producer. Per-destination
	// producers are built from their own descriptors.
	Enabled     bool   `mapstructure:"enabled"`
	AlertsTopic string `mapstructure:"alerts_topic"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Brokers: []string{"localhost:9092"},

		SASLEnabled:   false,
		SASLMechanism: "SCRAM-SHA-256",

		ProducerBatchSize:    100,
		ProducerBatchTimeout: 100 * time.Millisecond,
		ProducerCompression:  "snappy",
		ProducerAcks:         "all",

		ConnectionTimeout: 10 * time.Second,

		AlertsTopic: "recordflow.alerts",
	}
}

// Validate reports configuration that cannot produce a working client.
func (c *Config) Validate() error {
	if len(c.Brokers) == 0 {
		return errors.New("at least one kafka broker is required")
	}
	if c.SASLEnabled && c.SASLUsername == "" {
		return errors.New("sasl is enabled but no username is set")
	}
	return nil
}
