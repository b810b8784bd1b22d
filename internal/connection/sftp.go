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
	"errors"
	"fmt"
	"net"
	"os"
	"path"

	"github.com/google/uuid"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// SFTPClient is an SFTP session bound to the context it was dialed with.
// Cancelling that context tears down the underlying connection.
type SFTPClient struct {
	*sftp.Client
	ssh  *ssh.Client
	stop func() bool
}

func (c *SFTPClient) Close() error {
	c.stop()
	err := c.Client.Close()
	if sshErr := c.ssh.Close(); err == nil {
		err = sshErr
	}
	return err
}

func sshAuth(cfg *SFTPConfig) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	key := []byte(cfg.PrivateKey)
	if len(key) == 0 && cfg.PrivateKeyPath != "" {
		b, err := os.ReadFile(cfg.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("%w: reading private key: %v", ErrInvalidDescriptor, err)
		}
		key = b
	}
	if len(key) > 0 {
		var signer ssh.Signer
		var err error
		if cfg.Passphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(key, []byte(cfg.Passphrase))
		} else {
			signer, err = ssh.ParsePrivateKey(key)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: parsing private key: %v", ErrInvalidDescriptor, err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if cfg.Password != "" {
		methods = append(methods, ssh.Password(cfg.Password))
	}
	return methods, nil
}

func hostKeyCallback(cfg *SFTPConfig) (ssh.HostKeyCallback, error) {
	if cfg.HostKey == "" {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	pub, _, _, _, err := ssh.ParseAuthorizedKey([]byte(cfg.HostKey))
	if err != nil {
		return nil, fmt.Errorf("%w: parsing host key: %v", ErrInvalidDescriptor, err)
	}
	return ssh.FixedHostKey(pub), nil
}

// DialSFTP opens an SFTP session. The context deadline, when set, bounds
// every operation on the session.
func DialSFTP(ctx context.Context, cfg *SFTPConfig) (*SFTPClient, error) {
	auth, err := sshAuth(cfg)
	if err != nil {
		return nil, err
	}
	hostKey, err := hostKeyCallback(cfg)
	if err != nil {
		return nil, err
	}

	addr := cfg.Addr()
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, &ssh.ClientConfig{
		User:            cfg.Username,
		Auth:            auth,
		HostKeyCallback: hostKey,
	})
	if err != nil {
		stop()
		_ = conn.Close()
		return nil, err
	}
	client := ssh.NewClient(sshConn, chans, reqs)

	sc, err := sftp.NewClient(client)
	if err != nil {
		stop()
		_ = client.Close()
		return nil, err
	}
	return &SFTPClient{Client: sc, ssh: client, stop: stop}, nil
}

func remoteDir(p string) string {
	if p == "" {
		return "."
	}
	return p
}

func probeSFTP(ctx context.Context, t *Tester, d Descriptor, r *Result) error {
	cfg := d.SFTP
	r.Details["host"] = cfg.Addr()

	client, err := DialSFTP(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()
	r.Details["connected"] = true

	dir := remoteDir(cfg.RemotePath)
	r.Details["remotePath"] = dir

	info, err := client.Stat(dir)
	if errors.Is(err, os.ErrNotExist) {
		r.Message = fmt.Sprintf("Remote path %s does not exist", dir)
		return err
	}
	if err != nil {
		return err
	}
	if !info.IsDir() {
		r.Message = fmt.Sprintf("Remote path %s is not a directory", dir)
		return fmt.Errorf("%s is not a directory", dir)
	}

	entries, err := client.ReadDir(dir)
	if err != nil {
		r.Message = fmt.Sprintf("Cannot list %s", dir)
		return err
	}
	r.Details["entries"] = len(entries)

	if t.writeProbe {
		name := path.Join(dir, ".test-"+uuid.NewString()+".tmp")
		if err := sftpWriteProbe(client, name); err != nil {
			r.Details["writable"] = false
			r.Message = fmt.Sprintf("Remote path %s is not writable", dir)
			return err
		}
		r.Details["writable"] = true
	}

	r.Message = "SFTP connection successful"
	return nil
}

func sftpWriteProbe(client *SFTPClient, name string) error {
	defer func() { _ = client.Remove(name) }()
	f, err := client.Create(name)
	if err != nil {
		return err
	}
	if _, err := f.ReadFrom(bytes.NewReader([]byte("recordflow connection test"))); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
