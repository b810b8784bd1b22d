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
	"fmt"
	"os"
	"path"

	"github.com/cardinalhq/recordflow/internal/connection"
)

type sftpWriter struct{}

func (sftpWriter) Write(ctx context.Context, d *Destination, p Payload) (int64, error) {
	if d.SFTP == nil {
		return 0, fmt.Errorf("%w: sftp settings are required", ErrConfiguration)
	}
	client, err := connection.DialSFTP(ctx, d.SFTP)
	if err != nil {
		return 0, classify(err)
	}
	defer client.Close()

	dir := path.Join(d.SFTP.RemotePath, p.subfolder(d))
	if dir == "" {
		dir = "."
	}
	if err := client.MkdirAll(dir); err != nil {
		return 0, classify(err)
	}
	target := path.Join(dir, p.targetName(d))
	if !d.Output.Overwrite {
		if _, err := client.Stat(target); err == nil {
			target = deduplicated(target, p.At)
		}
	}

	f, err := client.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return 0, classify(err)
	}
	n, err := f.Write(p.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return int64(n), classify(err)
	}
	return int64(n), nil
}
