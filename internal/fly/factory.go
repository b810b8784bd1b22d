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
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl"
	"github.com/segmentio/kafka-go/sasl/plain"
	"github.com/segmentio/kafka-go/sasl/scram"
)

// Factory creates Kafka producers and clients with consistent configuration
type Factory struct {
	config *Config
}

// NewFactory creates a new factory with the given configuration
func NewFactory(cfg *Config) *Factory {
	return &Factory{
		config: cfg,
	}
}

// CreateProducer creates a new Kafka producer
func (f *Factory) CreateProducer() (Producer, error) {
	if len(f.config.Brokers) == 0 {
		return nil, fmt.Errorf("no brokers configured")
	}
	compression, err := parseCompression(f.config.ProducerCompression)
	if err != nil {
		return nil, err
	}
	acks, err := parseAcks(f.config.ProducerAcks)
	if err != nil {
		return nil, err
	}

	transport, err := f.CreateTransport()
	if err != nil {
		return nil, err
	}

	cfg := ProducerConfig{
		Brokers:      f.config.Brokers,
		BatchSize:    f.config.ProducerBatchSize,
		BatchTimeout: f.config.ProducerBatchTimeout,
		RequiredAcks: acks,
		Compression:  compression,
		Transport:    transport,
	}

	return NewProducer(cfg), nil
}

func parseCompression(name string) (kafka.Compression, error) {
	switch strings.ToLower(name) {
	case "", "none", "uncompressed":
		return 0, nil
	case "gzip":
		return kafka.Gzip, nil
	case "snappy":
		return kafka.Snappy, nil
	case "lz4":
		return kafka.Lz4, nil
	case "zstd":
		return kafka.Zstd, nil
	default:
		return 0, fmt.Errorf("unsupported compression: %s", name)
	}
}

func parseAcks(name string) (kafka.RequiredAcks, error) {
	switch strings.ToLower(name) {
	case "", "all":
		return kafka.RequireAll, nil
	case "one":
		return kafka.RequireOne, nil
	case "none":
		return kafka.RequireNone, nil
	default:
		return 0, fmt.Errorf("unsupported required acks: %s", name)
	}
}

// createSASLMechanism creates the appropriate SASL mechanism based on configuration
func (f *Factory) createSASLMechanism() (sasl.Mechanism, error) {
	switch strings.ToUpper(f.config.SASLMechanism) {
	case "SCRAM-SHA-256":
		return scram.Mechanism(scram.SHA256, f.config.SASLUsername, f.config.SASLPassword)
	case "SCRAM-SHA-512":
		return scram.Mechanism(scram.SHA512, f.config.SASLUsername, f.config.SASLPassword)
	case "PLAIN":
		return plain.Mechanism{
			Username: f.config.SASLUsername,
			Password: f.config.SASLPassword,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported SASL mechanism: %s", f.config.SASLMechanism)
	}
}

func (f *Factory) tlsConfig() *tls.Config {
	if !f.config.TLSEnabled {
		return nil
	}
	return &tls.Config{
		InsecureSkipVerify: f.config.TLSSkipVerify,
	}
}

// CreateTransport creates a kafka.Transport with SASL and TLS applied
func (f *Factory) CreateTransport() (*kafka.Transport, error) {
	transport := &kafka.Transport{
		DialTimeout: f.connectionTimeout(),
		TLS:         f.tlsConfig(),
	}

	if f.config.SASLEnabled {
		mechanism, err := f.createSASLMechanism()
		if err != nil {
			return nil, fmt.Errorf("failed to create SASL mechanism: %w", err)
		}
		transport.SASL = mechanism
	}

	return transport, nil
}

// CreateKafkaClient creates a kafka.Client for metadata requests
func (f *Factory) CreateKafkaClient() (*kafka.Client, error) {
	if len(f.config.Brokers) == 0 {
		return nil, fmt.Errorf("no brokers configured")
	}
	transport, err := f.CreateTransport()
	if err != nil {
		return nil, fmt.Errorf("failed to create transport: %w", err)
	}

	return &kafka.Client{
		Addr:      kafka.TCP(f.config.Brokers...),
		Timeout:   f.connectionTimeout(),
		Transport: transport,
	}, nil
}

func (f *Factory) connectionTimeout() time.Duration {
	if f.config.ConnectionTimeout > 0 {
		return f.config.ConnectionTimeout
	}
	return 10 * time.Second
}

// GetConfig returns the underlying configuration
func (f *Factory) GetConfig() *Config {
	return f.config
}
