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
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCapabilities_CoverEveryKind(t *testing.T) {
	for _, k := range Kinds {
		c, ok := CapabilitiesOf(k)
		require.True(t, ok, "kind %s has no capability entry", k)
		assert.NotNil(t, c.Probe, "kind %s has no probe", k)
	}
	assert.Len(t, capabilities, len(Kinds))
}

func TestTester_FolderSuccess(t *testing.T) {
	dir := t.TempDir()
	tester := NewTester()

	res, err := tester.Test(context.Background(), Descriptor{
		Kind:   KindFolder,
		Folder: &FolderConfig{Path: dir},
	}, 0)
	require.NoError(t, err)

	assert.True(t, res.Success, res.ErrorDetails)
	assert.Equal(t, "Folder is accessible", res.Message)
	assert.Equal(t, true, res.Details["writable"])
	assert.GreaterOrEqual(t, res.DurationMs, int64(0))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "write probe file must be removed")
}

func TestTester_FolderWithoutWriteProbe(t *testing.T) {
	dir := t.TempDir()
	res, err := NewTester(WithWriteProbe(false)).Test(context.Background(), Descriptor{
		Kind:   KindFolder,
		Folder: &FolderConfig{Path: dir},
	}, time.Second)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.NotContains(t, res.Details, "writable")
}

func TestTester_FolderMissing(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope")
	res, err := NewTester().Test(context.Background(), Descriptor{
		Kind:   KindFolder,
		Folder: &FolderConfig{Path: missing},
	}, time.Second)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "does not exist")
	assert.NotEmpty(t, res.ErrorDetails)
}

func TestTester_FolderIsAFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))

	res, err := NewTester().Test(context.Background(), Descriptor{
		Kind:   KindFolder,
		Folder: &FolderConfig{Path: file},
	}, time.Second)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "not a directory")
}

func TestTester_InvalidDescriptor(t *testing.T) {
	tests := []struct {
		name string
		d    Descriptor
	}{
		{"unknown kind", Descriptor{Kind: "smb"}},
		{"missing block", Descriptor{Kind: KindFolder}},
		{"extra block", Descriptor{Kind: KindFolder, Folder: &FolderConfig{Path: "/tmp"}, HTTP: &HTTPConfig{URL: "http://x"}}},
		{"sftp without auth", Descriptor{Kind: KindSFTP, SFTP: &SFTPConfig{Host: "h", Username: "u"}}},
		{"relative url", Descriptor{Kind: KindHTTP, HTTP: &HTTPConfig{URL: "example.com"}}},
		{"kafka without brokers", Descriptor{Kind: KindKafka, Kafka: &KafkaConfig{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := NewTester().Test(context.Background(), tt.d, time.Second)
			assert.ErrorIs(t, err, ErrInvalidDescriptor)
			assert.Nil(t, res)
		})
	}
}

func TestTester_HTTP(t *testing.T) {
	var mu sync.Mutex
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotAuth = r.Header.Get("Authorization")
		mu.Unlock()
		if r.URL.Path == "/locked" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.WriteHeader(http.StatusMethodNotAllowed)
	}))
	defer srv.Close()

	tester := NewTester()

	res, err := tester.Test(context.Background(), Descriptor{
		Kind: KindHTTP,
		HTTP: &HTTPConfig{URL: srv.URL + "/ingest", AuthToken: "secret"},
	}, time.Second)
	require.NoError(t, err)
	assert.True(t, res.Success, "a 405 still proves the endpoint is reachable")
	mu.Lock()
	assert.Equal(t, "Bearer secret", gotAuth)
	mu.Unlock()
	assert.Equal(t, http.StatusMethodNotAllowed, res.Details["statusCode"])

	res, err = tester.Test(context.Background(), Descriptor{
		Kind: KindHTTP,
		HTTP: &HTTPConfig{URL: srv.URL + "/locked"},
	}, time.Second)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "Authentication failed")
}

func TestTester_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	start := time.Now()
	res, err := NewTester().Test(context.Background(), Descriptor{
		Kind: KindHTTP,
		HTTP: &HTTPConfig{URL: srv.URL},
	}, 100*time.Millisecond)
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, "Connection timed out", res.Message)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestTester_ConnectionRefused(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().(*net.TCPAddr)
	require.NoError(t, l.Close())

	tests := []Descriptor{
		{Kind: KindFTP, FTP: &FTPConfig{Host: "127.0.0.1", Port: addr.Port}},
		{Kind: KindSFTP, SFTP: &SFTPConfig{Host: "127.0.0.1", Port: addr.Port, Username: "u", Password: "p"}},
	}
	for _, d := range tests {
		t.Run(string(d.Kind), func(t *testing.T) {
			res, err := NewTester().Test(context.Background(), d, 2*time.Second)
			require.NoError(t, err)
			assert.False(t, res.Success)
			assert.Contains(t, res.Message, "Connection refused")
		})
	}
}

func TestKafkaConfig_FlyConfig(t *testing.T) {
	k := &KafkaConfig{Brokers: []string{"b1:9092"}, Username: "svc", Password: "pw"}
	cfg := k.FlyConfig(5 * time.Second)

	assert.Equal(t, []string{"b1:9092"}, cfg.Brokers)
	assert.True(t, cfg.SASLEnabled)
	assert.Equal(t, "PLAIN", cfg.SASLMechanism)
	assert.Equal(t, 5*time.Second, cfg.ConnectionTimeout)

	anon := (&KafkaConfig{Brokers: []string{"b1:9092"}}).FlyConfig(time.Second)
	assert.False(t, anon.SASLEnabled)
}

func TestHumanBytes(t *testing.T) {
	assert.Equal(t, "512 B", humanBytes(512))
	assert.Equal(t, "1.0 KiB", humanBytes(1024))
	assert.Equal(t, "1.5 GiB", humanBytes(3<<29))
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind(" SFTP ")
	require.NoError(t, err)
	assert.Equal(t, KindSFTP, k)

	_, err = ParseKind("s3")
	assert.ErrorIs(t, err, ErrInvalidDescriptor)
}
