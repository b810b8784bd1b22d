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

// Package delivery fans a validated batch out to its output destinations.
package delivery

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/cardinalhq/recordflow/internal/connection"
)

// Destination is one configured output. The embedded descriptor carries
// the transport settings for its Kind.
type Destination struct {
	ID      string `yaml:"id" json:"id"`
	Name    string `yaml:"name" json:"name"`
	Enabled bool   `yaml:"enabled" json:"enabled"`
	// Format overrides Configuration.DefaultFormat when set.
	Format Format `yaml:"format,omitempty" json:"format,omitempty"`
	// IncludeInvalid overrides Configuration.IncludeInvalidRecords when set.
	IncludeInvalid *bool        `yaml:"includeInvalid,omitempty" json:"includeInvalid,omitempty"`
	Retry          *RetryPolicy `yaml:"retry,omitempty" json:"retry,omitempty"`

	connection.Descriptor `yaml:",inline"`

	Output OutputSettings `yaml:"output,omitempty" json:"output,omitempty"`
}

// OutputSettings shape what a transport writes. Not every field applies to
// every kind.
type OutputSettings struct {
	FileNamePattern  string            `yaml:"fileNamePattern,omitempty" json:"fileNamePattern,omitempty"`
	SubfolderPattern string            `yaml:"subfolderPattern,omitempty" json:"subfolderPattern,omitempty"`
	Overwrite        bool              `yaml:"overwrite,omitempty" json:"overwrite,omitempty"`
	KeyPattern       string            `yaml:"keyPattern,omitempty" json:"keyPattern,omitempty"`
	Headers          map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
}

type Configuration struct {
	DefaultFormat         Format        `yaml:"defaultFormat" json:"defaultFormat"`
	IncludeInvalidRecords bool          `yaml:"includeInvalidRecords" json:"includeInvalidRecords"`
	Retry                 RetryPolicy   `yaml:"retry" json:"retry"`
	Destinations          []Destination `yaml:"destinations" json:"destinations"`
}

func (d *Destination) format(cfg Configuration) Format {
	if d.Format != "" {
		return d.Format
	}
	if cfg.DefaultFormat != "" {
		return cfg.DefaultFormat
	}
	return FormatOriginal
}

func (d *Destination) includeInvalid(cfg Configuration) bool {
	if d.IncludeInvalid != nil {
		return *d.IncludeInvalid
	}
	return cfg.IncludeInvalidRecords
}

func (d *Destination) retryPolicy(cfg Configuration) RetryPolicy {
	if d.Retry != nil {
		return d.Retry.withDefaults()
	}
	return cfg.Retry.withDefaults()
}

// Validate checks the destination before any write is attempted.
func (d *Destination) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("%w: destination id is required", ErrConfiguration)
	}
	if err := d.Descriptor.Validate(); err != nil {
		return fmt.Errorf("%w: destination %s: %v", ErrConfiguration, d.ID, err)
	}
	if d.Kind == connection.KindKafka && d.Kafka.Topic == "" {
		return fmt.Errorf("%w: destination %s: kafka topic is required", ErrConfiguration, d.ID)
	}
	if d.Format != "" {
		if _, err := ParseFormat(string(d.Format)); err != nil {
			return fmt.Errorf("%w: destination %s: %v", ErrConfiguration, d.ID, err)
		}
	}
	return nil
}

// Batch is what one pipeline run hands to delivery.
type Batch struct {
	DataSourceID   string
	DataSourceName string
	FileName       string
	Valid          []json.RawMessage
	Invalid        []json.RawMessage
}

// Result is the immutable outcome of delivering one payload to one
// destination.
type Result struct {
	ID              string          `json:"id"`
	DataSourceID    string          `json:"dataSourceId"`
	FileName        string          `json:"fileName"`
	DestinationID   string          `json:"destinationId"`
	DestinationName string          `json:"destinationName"`
	Kind            connection.Kind `json:"kind"`
	Invalid         bool            `json:"invalid"`
	Success         bool            `json:"success"`
	Error           string          `json:"error,omitempty"`
	RetryCount      int             `json:"retryCount"`
	Records         int             `json:"records"`
	BytesWritten    int64           `json:"bytesWritten"`
	DurationMs      int64           `json:"durationMs"`
	DeliveredAt     time.Time       `json:"deliveredAt"`
}
