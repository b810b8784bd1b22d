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

// Package connection describes how to reach a source or destination and
// probes those descriptors without moving any data.
package connection

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/cardinalhq/recordflow/internal/fly"
)

// ErrInvalidDescriptor marks a descriptor whose shape is wrong. It is a
// configuration error and is never retried.
var ErrInvalidDescriptor = errors.New("invalid connection descriptor")

// Kind is the closed set of connection variants.
type Kind string

const (
	KindSFTP   Kind = "sftp"
	KindFolder Kind = "folder"
	KindKafka  Kind = "kafka"
	KindFTP    Kind = "ftp"
	KindHTTP   Kind = "http"
)

// Kinds lists every supported variant.
var Kinds = []Kind{KindSFTP, KindFolder, KindKafka, KindFTP, KindHTTP}

func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Kinds {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: unknown kind %q", ErrInvalidDescriptor, s)
}

// Descriptor is a tagged variant: Kind selects which of the typed
// settings blocks is populated.
type Descriptor struct {
	Kind   Kind          `yaml:"kind" json:"kind"`
	SFTP   *SFTPConfig   `yaml:"sftp,omitempty" json:"sftp,omitempty"`
	Folder *FolderConfig `yaml:"folder,omitempty" json:"folder,omitempty"`
	Kafka  *KafkaConfig  `yaml:"kafka,omitempty" json:"kafka,omitempty"`
	FTP    *FTPConfig    `yaml:"ftp,omitempty" json:"ftp,omitempty"`
	HTTP   *HTTPConfig   `yaml:"http,omitempty" json:"http,omitempty"`
}

type SFTPConfig struct {
	Host           string `yaml:"host" json:"host"`
	Port           int    `yaml:"port" json:"port"`
	Username       string `yaml:"username" json:"username"`
	Password       string `yaml:"password,omitempty" json:"-"`
	PrivateKey     string `yaml:"privateKey,omitempty" json:"-"`
	PrivateKeyPath string `yaml:"privateKeyPath,omitempty" json:"privateKeyPath,omitempty"`
	Passphrase     string `yaml:"passphrase,omitempty" json:"-"`
	// HostKey is an authorized_keys style line. Empty disables host key pinning.
	HostKey    string `yaml:"hostKey,omitempty" json:"hostKey,omitempty"`
	RemotePath string `yaml:"remotePath" json:"remotePath"`
}

func (c *SFTPConfig) Addr() string {
	port := c.Port
	if port == 0 {
		port = 22
	}
	return fmt.Sprintf("%s:%d", c.Host, port)
}

type FolderConfig struct {
	Path string `yaml:"path" json:"path"`
}

type KafkaConfig struct {
	Brokers       []string `yaml:"brokers" json:"brokers"`
	Topic         string   `yaml:"topic,omitempty" json:"topic,omitempty"`
	SASLMechanism string   `yaml:"saslMechanism,omitempty" json:"saslMechanism,omitempty"`
	Username      string   `yaml:"username,omitempty" json:"username,omitempty"`
	Password      string   `yaml:"password,omitempty" json:"-"`
	TLS           bool     `yaml:"tls,omitempty" json:"tls,omitempty"`
	TLSSkipVerify bool     `yaml:"tlsSkipVerify,omitempty" json:"tlsSkipVerify,omitempty"`
}

// FlyConfig maps the descriptor onto a producer configuration. SASL is
// enabled whenever a username is set, defaulting to PLAIN.
func (c *KafkaConfig) FlyConfig(timeout time.Duration) *fly.Config {
	cfg := fly.DefaultConfig()
	cfg.Brokers = c.Brokers
	cfg.TLSEnabled = c.TLS
	cfg.TLSSkipVerify = c.TLSSkipVerify
	cfg.ConnectionTimeout = timeout
	if c.Username != "" {
		cfg.SASLEnabled = true
		cfg.SASLUsername = c.Username
		cfg.SASLPassword = c.Password
		cfg.SASLMechanism = "PLAIN"
		if c.SASLMechanism != "" {
			cfg.SASLMechanism = c.SASLMechanism
		}
	}
	return cfg
}

type FTPConfig struct {
	Host       string `yaml:"host" json:"host"`
	Port       int    `yaml:"port" json:"port"`
	Username   string `yaml:"username" json:"username"`
	Password   string `yaml:"password,omitempty" json:"-"`
	RemotePath string `yaml:"remotePath" json:"remotePath"`
}

func (c *FTPConfig) Addr() string {
	port := c.Port
	if port == 0 {
		port = 21
	}
	return fmt.Sprintf("%s:%d", c.Host, port)
}

type HTTPConfig struct {
	URL       string            `yaml:"url" json:"url"`
	Method    string            `yaml:"method,omitempty" json:"method,omitempty"`
	Headers   map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
	AuthToken string            `yaml:"authToken,omitempty" json:"-"`
}

// Validate checks that exactly the settings block matching Kind is set and
// that it carries its required fields.
func (d Descriptor) Validate() error {
	var result *multierror.Error

	blocks := map[Kind]bool{
		KindSFTP:   d.SFTP != nil,
		KindFolder: d.Folder != nil,
		KindKafka:  d.Kafka != nil,
		KindFTP:    d.FTP != nil,
		KindHTTP:   d.HTTP != nil,
	}
	if _, err := ParseKind(string(d.Kind)); err != nil {
		return err
	}
	for k, set := range blocks {
		if k == d.Kind && !set {
			result = multierror.Append(result, fmt.Errorf("%s settings are missing", k))
		}
		if k != d.Kind && set {
			result = multierror.Append(result, fmt.Errorf("%s settings set on a %s descriptor", k, d.Kind))
		}
	}
	if result != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDescriptor, result.ErrorOrNil())
	}

	switch d.Kind {
	case KindSFTP:
		if d.SFTP.Host == "" {
			result = multierror.Append(result, errors.New("sftp host is required"))
		}
		if d.SFTP.Username == "" {
			result = multierror.Append(result, errors.New("sftp username is required"))
		}
		if d.SFTP.Password == "" && d.SFTP.PrivateKey == "" && d.SFTP.PrivateKeyPath == "" {
			result = multierror.Append(result, errors.New("sftp needs a password or a private key"))
		}
	case KindFolder:
		if d.Folder.Path == "" {
			result = multierror.Append(result, errors.New("folder path is required"))
		}
	case KindKafka:
		if len(d.Kafka.Brokers) == 0 {
			result = multierror.Append(result, errors.New("kafka brokers are required"))
		}
	case KindFTP:
		if d.FTP.Host == "" {
			result = multierror.Append(result, errors.New("ftp host is required"))
		}
	case KindHTTP:
		if !strings.HasPrefix(d.HTTP.URL, "http://") && !strings.HasPrefix(d.HTTP.URL, "https://") {
			result = multierror.Append(result, fmt.Errorf("http url %q must be absolute", d.HTTP.URL))
		}
	}

	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDescriptor, err)
	}
	return nil
}
