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
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode(t *testing.T) {
	records := []json.RawMessage{
		json.RawMessage(`{"name":"a,b","qty":2,"tags":["x"]}`),
		json.RawMessage(`{ "name": "c", "ok": true }`),
	}

	tests := []struct {
		name   string
		format Format
		want   string
	}{
		{
			name:   "jsonl",
			format: FormatJSONL,
			want:   "{\"name\":\"a,b\",\"qty\":2,\"tags\":[\"x\"]}\n{\"name\":\"c\",\"ok\":true}\n",
		},
		{
			name:   "csv",
			format: FormatCSV,
			want:   "name,ok,qty,tags\n\"a,b\",,2,\"[\"\"x\"\"]\"\nc,true,,\n",
		},
		{
			name:   "xml",
			format: FormatXML,
			want: `<?xml version="1.0" encoding="UTF-8"?>` + "\n" +
				`<records><record><name>a,b</name><qty>2</qty><tags><item>x</item></tags></record>` +
				`<record><name>c</name><ok>true</ok></record></records>`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Encode(tt.format, records)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestEncode_JSONEmpty(t *testing.T) {
	got, err := Encode(FormatJSON, nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(got))
}

func TestFormatResolve(t *testing.T) {
	assert.Equal(t, FormatJSONL, FormatOriginal.resolve("in/data.ndjson"))
	assert.Equal(t, FormatCSV, FormatOriginal.resolve("x.CSV"))
	assert.Equal(t, FormatJSON, FormatOriginal.resolve("x.json"))
	assert.Equal(t, FormatXML, FormatXML.resolve("x.json"))

	_, err := ParseFormat("parquet")
	assert.Error(t, err)
	f, err := ParseFormat("JSONL")
	require.NoError(t, err)
	assert.Equal(t, FormatJSONL, f)
}

func TestExpandPattern(t *testing.T) {
	at := time.Date(2025, 12, 1, 8, 30, 0, 0, time.UTC)
	got := expandPattern("{datasource}/{filename}-{timestamp}.{ext}", "orders.json", "sales", at)
	assert.Equal(t, "sales/orders-20251201083000.json", got)
	assert.Equal(t, "plain.txt", expandPattern("plain.txt", "x", "y", at))
	assert.Equal(t, "orders_INVALID.csv", outputName("in/orders.json", FormatCSV, true))
}

func TestRecordKey(t *testing.T) {
	key := expandPattern("{datasource}-{index}", "orders.json", "sales", time.Now())
	assert.Equal(t, "sales-3", string(recordKey(key, 3)))
}
