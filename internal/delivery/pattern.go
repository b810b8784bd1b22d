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
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

// expandPattern fills the placeholders operators may use in file names,
// subfolders and message keys.
func expandPattern(pattern, fileName, dataSource string, now time.Time) string {
	if !strings.Contains(pattern, "{") {
		return pattern
	}
	ext := path.Ext(fileName)
	now = now.UTC()
	r := strings.NewReplacer(
		"{filename}", strings.TrimSuffix(fileName, ext),
		"{ext}", strings.TrimPrefix(ext, "."),
		"{datasource}", dataSource,
		"{date}", now.Format("20060102"),
		"{timestamp}", now.Format("20060102150405"),
		"{year}", now.Format("2006"),
		"{month}", now.Format("01"),
		"{day}", now.Format("02"),
		"{uuid}", uuid.NewString(),
	)
	return r.Replace(pattern)
}

// outputName is the file name a payload is written under before any
// destination pattern is applied.
func outputName(fileName string, f Format, invalid bool) string {
	base := strings.TrimSuffix(path.Base(fileName), path.Ext(fileName))
	if invalid {
		base += "_INVALID"
	}
	return base + f.extension()
}
