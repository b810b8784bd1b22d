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
	"encoding/csv"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"path"
	"slices"
	"strconv"
	"strings"
)

type Format string

const (
	FormatOriginal Format = "original"
	FormatJSON     Format = "json"
	FormatJSONL    Format = "jsonl"
	FormatCSV      Format = "csv"
	FormatXML      Format = "xml"
)

var Formats = []Format{FormatOriginal, FormatJSON, FormatJSONL, FormatCSV, FormatXML}

func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(s))
	if slices.Contains(Formats, f) {
		return f, nil
	}
	return "", fmt.Errorf("unknown output format %q", s)
}

// resolve maps "original" onto the layout implied by the source file name.
func (f Format) resolve(fileName string) Format {
	if f != FormatOriginal {
		return f
	}
	switch strings.ToLower(path.Ext(fileName)) {
	case ".jsonl", ".ndjson":
		return FormatJSONL
	case ".csv":
		return FormatCSV
	case ".xml":
		return FormatXML
	}
	return FormatJSON
}

func (f Format) extension() string {
	return "." + string(f)
}

func (f Format) contentType() string {
	switch f {
	case FormatJSONL:
		return "application/x-ndjson"
	case FormatCSV:
		return "text/csv"
	case FormatXML:
		return "application/xml"
	}
	return "application/json"
}

// Encode renders records in the given concrete format.
func Encode(f Format, records []json.RawMessage) ([]byte, error) {
	switch f {
	case FormatJSON:
		if records == nil {
			records = []json.RawMessage{}
		}
		return json.Marshal(records)
	case FormatJSONL:
		var buf bytes.Buffer
		for _, r := range records {
			if err := json.Compact(&buf, r); err != nil {
				return nil, err
			}
			buf.WriteByte('\n')
		}
		return buf.Bytes(), nil
	case FormatCSV:
		return encodeCSV(records)
	case FormatXML:
		return encodeXML(records)
	}
	return nil, fmt.Errorf("%w: cannot encode format %q", ErrConfiguration, f)
}

func decodeObjects(records []json.RawMessage) ([]map[string]any, error) {
	out := make([]map[string]any, 0, len(records))
	for _, r := range records {
		dec := json.NewDecoder(bytes.NewReader(r))
		dec.UseNumber()
		var v any
		if err := dec.Decode(&v); err != nil {
			return nil, err
		}
		obj, ok := v.(map[string]any)
		if !ok {
			obj = map[string]any{"value": v}
		}
		out = append(out, obj)
	}
	return out, nil
}

// encodeCSV writes one row per record over the sorted union of top-level
// keys. Nested values are written as compact JSON.
func encodeCSV(records []json.RawMessage) ([]byte, error) {
	objs, err := decodeObjects(records)
	if err != nil {
		return nil, err
	}
	var cols []string
	for _, o := range objs {
		for k := range o {
			if !slices.Contains(cols, k) {
				cols = append(cols, k)
			}
		}
	}
	slices.Sort(cols)

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(cols); err != nil {
		return nil, err
	}
	row := make([]string, len(cols))
	for _, o := range objs {
		for i, c := range cols {
			row[i] = scalarString(o[c])
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

func scalarString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	}
	b, _ := json.Marshal(v)
	return string(b)
}

func encodeXML(records []json.RawMessage) ([]byte, error) {
	objs, err := decodeObjects(records)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	root := xml.StartElement{Name: xml.Name{Local: "records"}}
	if err := enc.EncodeToken(root); err != nil {
		return nil, err
	}
	for _, o := range objs {
		if err := encodeXMLValue(enc, "record", o); err != nil {
			return nil, err
		}
	}
	if err := enc.EncodeToken(root.End()); err != nil {
		return nil, err
	}
	if err := enc.Flush(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeXMLValue(enc *xml.Encoder, name string, v any) error {
	start := xml.StartElement{Name: xml.Name{Local: xmlName(name)}}
	if err := enc.EncodeToken(start); err != nil {
		return err
	}
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			if err := encodeXMLValue(enc, k, t[k]); err != nil {
				return err
			}
		}
	case []any:
		for _, item := range t {
			if err := encodeXMLValue(enc, "item", item); err != nil {
				return err
			}
		}
	default:
		if s := scalarString(t); s != "" {
			if err := enc.EncodeToken(xml.CharData(s)); err != nil {
				return err
			}
		}
	}
	return enc.EncodeToken(start.End())
}

// xmlName turns a JSON key into a usable element name.
func xmlName(s string) string {
	var b strings.Builder
	for i, r := range s {
		switch {
		case r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z':
			b.WriteRune(r)
		case i > 0 && (r == '-' || r == '.' || r >= '0' && r <= '9'):
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "_"
	}
	return b.String()
}
