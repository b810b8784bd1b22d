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
	"bytes"
	"context"
	"fmt"
	"path"
	"time"

	"github.com/google/uuid"
	"github.com/jlaffaye/ftp"
)

// DialFTP connects and logs in. Anonymous login is used when no username
// is configured.
func DialFTP(ctx context.Context, cfg *FTPConfig) (*ftp.ServerConn, error) {
	opts := []ftp.DialOption{ftp.DialWithContext(ctx)}
	if deadline, ok := ctx.Deadline(); ok {
		opts = append(opts, ftp.DialWithTimeout(time.Until(deadline)))
	}

	conn, err := ftp.Dial(cfg.Addr(), opts...)
	if err != nil {
		return nil, err
	}

	user, pass := cfg.Username, cfg.Password
	if user == "" {
		user, pass = "anonymous", "anonymous"
	}
	if err := conn.Login(user, pass); err != nil {
		_ = conn.Quit()
		return nil, err
	}
	return conn, nil
}

func probeFTP(ctx context.Context, t *Tester, d Descriptor, r *Result) error {
	cfg := d.FTP
	r.Details["host"] = cfg.Addr()

	conn, err := DialFTP(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Quit() }()
	r.Details["connected"] = true

	dir := remoteDir(cfg.RemotePath)
	r.Details["remotePath"] = dir
	entries, err := conn.List(dir)
	if err != nil {
		r.Message = fmt.Sprintf("Cannot list %s", dir)
		return err
	}
	r.Details["entries"] = len(entries)

	if t.writeProbe {
		name := path.Join(dir, ".test-"+uuid.NewString()+".tmp")
		err := conn.Stor(name, bytes.NewReader([]byte("recordflow connection test")))
		if err != nil {
			r.Details["writable"] = false
			r.Message = fmt.Sprintf("Remote path %s is not writable", dir)
			return err
		}
		_ = conn.Delete(name)
		r.Details["writable"] = true
	}

	r.Message = "FTP connection successful"
	return nil
}
