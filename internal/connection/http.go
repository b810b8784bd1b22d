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
	"fmt"
	"io"
	"net/http"
)

// ApplyHTTPAuth sets the configured headers and bearer token on req.
func ApplyHTTPAuth(req *http.Request, cfg *HTTPConfig) {
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}
	if cfg.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.AuthToken)
	}
}

func probeHTTP(ctx context.Context, _ *Tester, d Descriptor, r *Result) error {
	cfg := d.HTTP
	r.Details["url"] = cfg.URL

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDescriptor, err)
	}
	ApplyHTTPAuth(req, cfg)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()

	r.Details["statusCode"] = resp.StatusCode
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		r.Message = "Authentication failed: check the auth token"
		return fmt.Errorf("endpoint answered %s", resp.Status)
	case resp.StatusCode >= 500:
		r.Message = fmt.Sprintf("Endpoint is unhealthy (%s)", resp.Status)
		return fmt.Errorf("endpoint answered %s", resp.Status)
	}

	r.Message = fmt.Sprintf("Endpoint is reachable (%s)", resp.Status)
	return nil
}
