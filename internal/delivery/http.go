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
	"io"
	"net/http"

	"github.com/cardinalhq/recordflow/internal/connection"
)

type httpWriter struct {
	client *http.Client
}

func (w httpWriter) Write(ctx context.Context, d *Destination, p Payload) (int64, error) {
	if d.HTTP == nil || d.HTTP.URL == "" {
		return 0, fmt.Errorf("%w: http url is required", ErrConfiguration)
	}
	method := d.HTTP.Method
	if method == "" || method == http.MethodHead {
		method = http.MethodPost
	}
	req, err := http.NewRequestWithContext(ctx, method, d.HTTP.URL, bytes.NewReader(p.Body))
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	req.Header.Set("Content-Type", p.Format.contentType())
	req.Header.Set("X-File-Name", p.targetName(d))
	connection.ApplyHTTPAuth(req, d.HTTP)
	for k, v := range d.Output.Headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return 0, classify(err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	switch {
	case resp.StatusCode < 300:
		return int64(len(p.Body)), nil
	case resp.StatusCode == http.StatusRequestTimeout, resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		return 0, fmt.Errorf("%w: %s returned %s", ErrTransient, d.HTTP.URL, resp.Status)
	default:
		return 0, fmt.Errorf("%w: %s returned %s", ErrConfiguration, d.HTTP.URL, resp.Status)
	}
}
