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

package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractRecords(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"array", `[{"a":1}, {"a":2}]`, []string{`{"a":1}`, `{"a":2}`}},
		{"object with array property", `{"meta": {"n": 2}, "rows": [{"a":1}, {"a":2}], "more": [3]}`, []string{`{"a":1}`, `{"a":2}`}},
		{"plain object", `{"a": 1}`, []string{`{"a": 1}`}},
		{"scalar", `42`, []string{`{"value":42}`}},
		{"json lines", "{\"a\":1}\n{\"a\":2}\n", []string{`{"a":1}`, `{"a":2}`}},
		{"empty", "  \n ", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records := ExtractRecords([]byte(tt.input))
			require.Len(t, records, len(tt.want))
			for i, r := range records {
				assert.NoError(t, r.ParseErr)
				assert.JSONEq(t, tt.want[i], string(r.Data))
				assert.Equal(t, i+1, r.LineNumber)
			}
		})
	}
}

func TestExtractRecords_LineNumbersSkipBlankLines(t *testing.T) {
	records := ExtractRecords([]byte("{\"a\":1}\n\n{\"a\":\n{\"a\":3}"))
	require.Len(t, records, 3)
	assert.Equal(t, 1, records[0].LineNumber)
	assert.Equal(t, 3, records[1].LineNumber)
	assert.Error(t, records[1].ParseErr)
	assert.Equal(t, 4, records[2].LineNumber)
}
