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

package metrics

import (
	"log/slog"
	"regexp"
	"time"

	"golang.org/x/time/rate"
)

// Vars maps variable names, without the leading $, to values.
type Vars map[string]string

var varPattern = regexp.MustCompile(`\$([a-zA-Z_][a-zA-Z0-9_]*)`)

var unknownVarLog = rate.Sometimes{Interval: time.Minute}

// Substitute replaces $name references with their values. Unknown
// variables are left in place and reported, at most once a minute.
func Substitute(query string, vars Vars) (string, []string) {
	var unknown []string
	out := varPattern.ReplaceAllStringFunc(query, func(ref string) string {
		name := ref[1:]
		if v, ok := vars[name]; ok {
			return v
		}
		unknown = append(unknown, name)
		return ref
	})
	if len(unknown) > 0 {
		unknownVarLog.Do(func() {
			slog.Warn("Query references unknown variables", slog.Any("variables", unknown), slog.String("query", query))
		})
	}
	return out, unknown
}
