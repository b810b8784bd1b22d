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
	"bytes"
	"context"
	"fmt"
	"path"

	"github.com/cardinalhq/recordflow/internal/connection"
)

type ftpWriter struct{}

func (ftpWriter) Write(ctx context.Context, d *Destination, p Payload) (int64, error) {
	if d.FTP == nil {
		return 0, fmt.Errorf("%w: ftp settings are required", ErrConfiguration)
	}
	conn, err := connection.DialFTP(ctx, d.FTP)
	if err != nil {
		return 0, classify(err)
	}
	defer func() { _ = conn.Quit() }()

	dir := d.FTP.RemotePath
	if sub := p.subfolder(d); sub != "" {
		dir = path.Join(dir, sub)
		// MakeDir fails when the folder already exists.
		_ = conn.MakeDir(dir)
	}
	target := path.Join(dir, p.targetName(d))
	if !d.Output.Overwrite {
		if _, err := conn.FileSize(target); err == nil {
			target = deduplicated(target, p.At)
		}
	}
	if err := conn.Stor(target, bytes.NewReader(p.Body)); err != nil {
		return 0, classify(err)
	}
	return int64(len(p.Body)), nil
}
