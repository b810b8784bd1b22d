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
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInputFormatFor(t *testing.T) {
	tests := []struct {
		name string
		want InputFormat
	}{
		{"orders.csv", InputCSV},
		{"ORDERS.CSV", InputCSV},
		{"feed.xml", InputXML},
		{"feed.json", InputJSON},
		{"feed.jsonl", InputJSON},
		{"noext", InputJSON},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, InputFormatFor(tt.name), tt.name)
	}
}

func TestExtractFile_CSV(t *testing.T) {
	data := "id,name,amount,active\n1,Ann,10.5,true\n2,Bob,,FALSE\n3,Cy\n"
	records := ExtractFile("orders.csv", []byte(data))
	require.Len(t, records, 3)

	assert.Equal(t, `{"id":1,"name":"Ann","amount":10.5,"active":true}`, string(records[0].Data))
	assert.Equal(t, 2, records[0].LineNumber)
	assert.JSONEq(t, `{"id":2,"name":"Bob","amount":"","active":false}`, string(records[1].Data))
	assert.Equal(t, 3, records[1].LineNumber)
	assert.JSONEq(t, `{"id":3,"name":"Cy"}`, string(records[2].Data))
	for _, r := range records {
		assert.NoError(t, r.ParseErr)
	}
}

func TestExtractFile_CSVHeaderOnlyAndEmpty(t *testing.T) {
	assert.Empty(t, ExtractFile("a.csv", []byte("id,name\n")))
	assert.Empty(t, ExtractFile("a.csv", []byte("  ")))
}

func TestCSVValue(t *testing.T) {
	assert.Equal(t, int64(42), csvValue("42"))
	assert.Equal(t, -1.25, csvValue(" -1.25 "))
	assert.Equal(t, true, csvValue("True"))
	assert.Equal(t, "NaN", csvValue("NaN"))
	assert.Equal(t, "abc", csvValue("abc"))
	assert.Equal(t, "", csvValue("   "))
}

func TestExtractFile_XMLRepeatedChildren(t *testing.T) {
	data := `<?xml version="1.0"?>
<Orders>
  <Order id="7">
    <amount>5</amount>
    <tag>a</tag>
    <tag>b</tag>
  </Order>
  <Order id="8"><amount>6</amount></Order>
</Orders>`
	records := ExtractFile("orders.xml", []byte(data))
	require.Len(t, records, 2)
	assert.Equal(t, `{"@id":"7","amount":"5","tag":["a","b"]}`, string(records[0].Data))
	assert.Equal(t, 3, records[0].LineNumber)
	assert.Equal(t, `{"@id":"8","amount":"6"}`, string(records[1].Data))
	assert.Equal(t, 8, records[1].LineNumber)
}

func TestExtractFile_XMLShapes(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"leaf with attribute", `<Items><Item code="x">hello</Item></Items>`, []string{`{"@code":"x","#text":"hello"}`}},
		{"single leaf child", `<Transactions><Txn>1</Txn></Transactions>`, []string{`{"value":"1"}`}},
		{"mixed children", `<Export><Header><n>1</n></Header><Row><a>1</a></Row><Row><a>2</a></Row></Export>`, []string{`{"a":"1"}`, `{"a":"2"}`}},
		{"namespaced", `<Root xmlns="http://example.com"><Item>Test</Item><Item>More</Item></Root>`, []string{`{"value":"Test"}`, `{"value":"More"}`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records := ExtractFile("doc.xml", []byte(tt.input))
			require.Len(t, records, len(tt.want))
			for i, r := range records {
				require.NoError(t, r.ParseErr)
				assert.JSONEq(t, tt.want[i], string(r.Data))
			}
		})
	}
}

func TestExtractFile_MalformedXML(t *testing.T) {
	for _, in := range []string{"<Root><Unclosed>", "This is not XML <broken>"} {
		records := ExtractFile("bad.xml", []byte(in))
		require.Len(t, records, 1, in)
		assert.ErrorIs(t, records[0].ParseErr, errMalformed, in)
	}
}

func TestValidateFile_CSV(t *testing.T) {
	e := NewEngine()
	defer e.Close()

	res, err := e.ValidateFile(context.Background(), amountSchema, "pay.csv", []byte("amount,code\n5,ab\n-1,cd\n"), Options{SkipInvalidRecords: true})
	require.NoError(t, err)
	assert.Equal(t, 2, res.TotalRecords)
	assert.Equal(t, 1, res.ValidRecords)
	require.Len(t, res.Invalid, 1)
	assert.Equal(t, 3, res.Invalid[0].LineNumber)
	assert.JSONEq(t, `{"amount":-1,"code":"cd"}`, string(res.Invalid[0].Payload))
}
