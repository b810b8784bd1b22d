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

package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/cardinalhq/recordflow/internal/connection"
)

// Payload is one formatted body ready for a transport.
type Payload struct {
	DataSource string
	FileName   string
	Format     Format
	Body       []byte
	Records    []json.RawMessage
	Invalid    bool
	At         time.Time
}

// Writer delivers a payload to one destination kind and reports the bytes
// written. Errors should wrap ErrConnectivity, ErrTransient or
// ErrConfiguration; anything else is treated as transient.
type Writer interface {
	Write(ctx context.Context, d *Destination, p Payload) (int64, error)
}

type WriterFunc func(ctx context.Context, d *Destination, p Payload) (int64, error)

func (f WriterFunc) Write(ctx context.Context, d *Destination, p Payload) (int64, error) {
	return f(ctx, d, p)
}

// classify tags an arbitrary transport error with a delivery sentinel.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrConfiguration), errors.Is(err, ErrConnectivity), errors.Is(err, ErrTransient):
		return err
	case errors.Is(err, connection.ErrInvalidDescriptor), errors.Is(err, os.ErrPermission):
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %w", ErrConnectivity, err)
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

func (p Payload) targetName(d *Destination) string {
	if d.Output.FileNamePattern == "" {
		return p.FileName
	}
	return expandPattern(d.Output.FileNamePattern, p.FileName, p.DataSource, p.At)
}

func (p Payload) subfolder(d *Destination) string {
	if d.Output.SubfolderPattern == "" {
		return ""
	}
	return expandPattern(d.Output.SubfolderPattern, p.FileName, p.DataSource, p.At)
}

// deduplicated appends a timestamp to a name so an existing file is kept.
func deduplicated(name string, at time.Time) string {
	ext := ""
	for i := len(name) - 1; i >= 0 && name[i] != '/'; i-- {
		if name[i] == '.' {
			ext = name[i:]
			name = name[:i]
			break
		}
	}
	return name + "_" + at.UTC().Format("20060102150405") + ext
}
