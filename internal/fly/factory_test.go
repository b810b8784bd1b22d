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
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFactory(t *testing.T) {
	config := &Config{
		Brokers: []string{"broker1:9092", "broker2:9092"},
	}

	factory := NewFactory(config)
	assert.NotNil(t, factory)
	assert.Equal(t, config, factory.GetConfig())
}

func TestFactory_CreateProducer(t *testing.T) {
	tests := []struct {
		name    string
		config  *Config
		wantErr bool
	}{
		{
			name: "basic producer",
			config: &Config{
				Brokers:              []string{"localhost:9092"},
				ProducerBatchSize:    100,
				ProducerBatchTimeout: time.Second,
				ProducerCompression:  "snappy",
			},
		},
		{
			name: "producer with SASL SCRAM-SHA-256",
			config: &Config{
				Brokers:       []string{"localhost:9092"},
				SASLEnabled:   true,
				SASLMechanism: "SCRAM-SHA-256",
				SASLUsername:  "user",
				SASLPassword:  "pass",
			},
		},
		{
			name: "producer with SASL PLAIN",
			config: &Config{
				Brokers:       []string{"localhost:9092"},
				SASLEnabled:   true,
				SASLMechanism: "plain",
				SASLUsername:  "user",
				SASLPassword:  "pass",
			},
		},
		{
			name: "producer with TLS",
			config: &Config{
				Brokers:       []string{"localhost:9092"},
				TLSEnabled:    true,
				TLSSkipVerify: true,
			},
		},
		{
			name: "unsupported SASL mechanism",
			config: &Config{
				Brokers:       []string{"localhost:9092"},
				SASLEnabled:   true,
				SASLMechanism: "GSSAPI",
			},
			wantErr: true,
		},
		{
			name: "unsupported compression",
			config: &Config{
				Brokers:             []string{"localhost:9092"},
				ProducerCompression: "brotli",
			},
			wantErr: true,
		},
		{
			name:    "no brokers",
			config:  &Config{},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			producer, err := NewFactory(tt.config).CreateProducer()
			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, producer)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, producer)
			assert.NoError(t, producer.Close())
		})
	}
}

func TestFactory_CreateTransport(t *testing.T) {
	factory := NewFactory(&Config{
		Brokers:           []string{"localhost:9092"},
		SASLEnabled:       true,
		SASLMechanism:     "PLAIN",
		SASLUsername:      "user",
		TLSEnabled:        true,
		ConnectionTimeout: 3 * time.Second,
	})

	transport, err := factory.CreateTransport()
	require.NoError(t, err)
	assert.NotNil(t, transport.SASL)
	assert.NotNil(t, transport.TLS)
	assert.Equal(t, 3*time.Second, transport.DialTimeout)
}

func TestParseAcks(t *testing.T) {
	acks, err := parseAcks("")
	require.NoError(t, err)
	assert.Equal(t, kafka.RequireAll, acks)

	acks, err = parseAcks("one")
	require.NoError(t, err)
	assert.Equal(t, kafka.RequireOne, acks)

	_, err = parseAcks("some")
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	assert.Error(t, (&Config{}).Validate())
	assert.Error(t, (&Config{Brokers: []string{"b:9092"}, SASLEnabled: true}).Validate())
}
