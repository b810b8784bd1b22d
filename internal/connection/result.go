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
	"net"
	"strings"
	"syscall"
)

// Result is what a connection test reports. Expected connectivity
// failures come back here with Success false, never as an error.
type Result struct {
	Success      bool           `json:"success"`
	Message      string         `json:"message"`
	Details      map[string]any `json:"details,omitempty"`
	ErrorDetails string         `json:"errorDetails,omitempty"`
	DurationMs   int64          `json:"durationMs"`
}

func newResult() *Result {
	return &Result{Details: map[string]any{}}
}

func (r *Result) warn(msg string) {
	if existing, ok := r.Details["warning"].(string); ok && existing != "" {
		msg = existing + "; " + msg
	}
	r.Details["warning"] = msg
}

// describeError turns transport errors into something an operator can act on.
func describeError(err error) string {
	var dnsErr *net.DNSError
	var netErr net.Error
	msg := strings.ToLower(err.Error())

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "Connection timed out"
	case errors.Is(err, context.Canceled):
		return "Connection test was cancelled"
	case errors.As(err, &dnsErr):
		return fmt.Sprintf("Host not found: %s", dnsErr.Name)
	case errors.Is(err, syscall.ECONNREFUSED):
		return "Connection refused: the service is not listening on that port"
	case errors.Is(err, syscall.EHOSTUNREACH), errors.Is(err, syscall.ENETUNREACH):
		return "Host is unreachable"
	case errors.As(err, &netErr) && netErr.Timeout():
		return "Connection timed out"
	case strings.Contains(msg, "unable to authenticate"),
		strings.Contains(msg, "authentication failed"),
		strings.Contains(msg, "sasl"),
		strings.Contains(msg, "530"):
		return "Authentication failed: check the username and credentials"
	case strings.Contains(msg, "permission denied"):
		return "Permission denied"
	case strings.Contains(msg, "no such file"), strings.Contains(msg, "does not exist"):
		return "Path does not exist"
	default:
		return "Connection failed"
	}
}

func humanBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
