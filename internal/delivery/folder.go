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
	"path/filepath"
)

type folderWriter struct{}

func (folderWriter) Write(ctx context.Context, d *Destination, p Payload) (int64, error) {
	if d.Folder == nil || d.Folder.Path == "" {
		return 0, fmt.Errorf("%w: folder path is required", ErrConfiguration)
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	dir := filepath.Join(d.Folder.Path, p.subfolder(d))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, classify(err)
	}

	target := filepath.Join(dir, p.targetName(d))
	if !d.Output.Overwrite {
		if _, err := os.Stat(target); err == nil {
			target = deduplicated(target, p.At)
		}
	}

	tmp, err := os.CreateTemp(dir, ".recordflow-*.tmp")
	if err != nil {
		return 0, classify(err)
	}
	defer os.Remove(tmp.Name())

	n, err := tmp.Write(p.Body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, classify(err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return 0, classify(err)
	}
	return int64(n), nil
}
