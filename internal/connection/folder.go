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

package connection

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

const lowDiskSpace = 1 << 30

func probeFolder(ctx context.Context, t *Tester, d Descriptor, r *Result) error {
	path := d.Folder.Path
	r.Details["path"] = path

	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		r.Message = fmt.Sprintf("Folder %s does not exist", path)
		return err
	}
	if err != nil {
		return err
	}
	if !info.IsDir() {
		r.Message = fmt.Sprintf("%s is not a directory", path)
		return fmt.Errorf("%s is not a directory", path)
	}
	r.Details["exists"] = true

	if err := ctx.Err(); err != nil {
		return err
	}

	if t.writeProbe {
		if err := folderWriteProbe(path); err != nil {
			r.Details["writable"] = false
			r.Message = fmt.Sprintf("Folder %s is not writable", path)
			return err
		}
		r.Details["writable"] = true
	}

	if free, ok := freeSpace(path); ok {
		r.Details["freeBytes"] = free
		r.Details["freeSpace"] = humanBytes(free)
		if free < lowDiskSpace {
			r.warn(fmt.Sprintf("less than 1 GiB free (%s)", humanBytes(free)))
		}
	}

	r.Message = "Folder is accessible"
	return nil
}

// folderWriteProbe writes and removes a uniquely named hidden file.
func folderWriteProbe(dir string) error {
	name := filepath.Join(dir, ".test-"+uuid.NewString()+".tmp")
	defer func() { _ = os.Remove(name) }()
	return os.WriteFile(name, []byte("recordflow connection test"), 0o600)
}
