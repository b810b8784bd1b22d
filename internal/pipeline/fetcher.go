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

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"slices"

	"github.com/cardinalhq/recordflow/internal/connection"
)

const (
	ProcessedDir = "processed"
	RejectedDir  = "rejected"
)

// Fetcher reads input files from a data source location. Names returned
// by List are relative to the source root.
type Fetcher interface {
	List(ctx context.Context, pattern string) ([]string, error)
	Read(ctx context.Context, name string) ([]byte, error)
	// Move relocates a file into a subdirectory of the source root,
	// creating it if needed.
	Move(ctx context.Context, name, subdir string) error
	Close() error
}

// NewFetcher opens a fetcher for a readable connection.
func NewFetcher(ctx context.Context, d connection.Descriptor) (Fetcher, error) {
	switch d.Kind {
	case connection.KindFolder:
		if d.Folder == nil {
			return nil, errors.New("folder settings are required")
		}
		return &folderFetcher{root: d.Folder.Path}, nil
	case connection.KindSFTP:
		if d.SFTP == nil {
			return nil, errors.New("sftp settings are required")
		}
		client, err := connection.DialSFTP(ctx, d.SFTP)
		if err != nil {
			return nil, err
		}
		root := d.SFTP.RemotePath
		if root == "" {
			root = "."
		}
		return &sftpFetcher{client: client, root: root}, nil
	default:
		return nil, fmt.Errorf("connection kind %q cannot be read from", d.Kind)
	}
}

func matchNames(names []string, pattern string) ([]string, error) {
	var out []string
	for _, n := range names {
		ok, err := path.Match(pattern, n)
		if err != nil {
			return nil, fmt.Errorf("bad file pattern %q: %w", pattern, err)
		}
		if ok {
			out = append(out, n)
		}
	}
	slices.Sort(out)
	return out, nil
}

type folderFetcher struct {
	root string
}

func (f *folderFetcher) List(_ context.Context, pattern string) ([]string, error) {
	entries, err := os.ReadDir(f.root)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	return matchNames(names, pattern)
}

func (f *folderFetcher) Read(_ context.Context, name string) ([]byte, error) {
	return os.ReadFile(filepath.Join(f.root, name))
}

func (f *folderFetcher) Move(_ context.Context, name, subdir string) error {
	dir := filepath.Join(f.root, subdir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.Rename(filepath.Join(f.root, name), filepath.Join(dir, name))
}

func (f *folderFetcher) Close() error { return nil }

type sftpFetcher struct {
	client *connection.SFTPClient
	root   string
}

func (f *sftpFetcher) List(_ context.Context, pattern string) ([]string, error) {
	infos, err := f.client.ReadDir(f.root)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(infos))
	for _, fi := range infos {
		if fi.Mode().IsRegular() {
			names = append(names, fi.Name())
		}
	}
	return matchNames(names, pattern)
}

func (f *sftpFetcher) Read(_ context.Context, name string) ([]byte, error) {
	r, err := f.client.Open(path.Join(f.root, name))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (f *sftpFetcher) Move(_ context.Context, name, subdir string) error {
	dir := path.Join(f.root, subdir)
	if err := f.client.MkdirAll(dir); err != nil {
		return err
	}
	return f.client.Rename(path.Join(f.root, name), path.Join(dir, name))
}

func (f *sftpFetcher) Close() error { return f.client.Close() }
