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
	"bytes"
	"encoding/csv"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"math"
	"path"
	"strconv"
	"strings"
)

// InputFormat is the layout of an ingested file.
type InputFormat string

const (
	InputJSON InputFormat = "json"
	InputCSV  InputFormat = "csv"
	InputXML  InputFormat = "xml"
)

// InputFormatFor picks the layout from the file extension. Anything that
// is not .csv or .xml is read as JSON or JSON Lines.
func InputFormatFor(fileName string) InputFormat {
	switch strings.ToLower(path.Ext(fileName)) {
	case ".csv":
		return InputCSV
	case ".xml":
		return InputXML
	default:
		return InputJSON
	}
}

// ExtractFile converts a file to JSON records according to its extension.
func ExtractFile(fileName string, data []byte) []Record {
	switch InputFormatFor(fileName) {
	case InputCSV:
		return extractCSV(data)
	case InputXML:
		return extractXML(data)
	default:
		return ExtractRecords(data)
	}
}

// field keeps object keys in source order when encoded.
type field struct {
	key   string
	value any
}

type object []field

func (o object) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range o {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(f.key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(f.value)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// extractCSV reads a header row followed by data rows. Each row becomes an
// object keyed by header. Missing trailing fields are omitted so required
// checks catch them; extra fields are dropped.
func extractCSV(data []byte) []Record {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	r := csv.NewReader(bytes.NewReader(data))
	r.LazyQuotes = true
	r.TrimLeadingSpace = true
	r.FieldsPerRecord = -1

	headers, err := r.Read()
	if err != nil {
		return []Record{{LineNumber: 1, ParseErr: fmt.Errorf("%w: csv header: %v", errMalformed, err)}}
	}

	var records []Record
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			line := 0
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				line = pe.Line
			}
			records = append(records, Record{LineNumber: line, ParseErr: fmt.Errorf("%w: %v", errMalformed, err)})
			break
		}
		line, _ := r.FieldPos(0)

		obj := make(object, 0, len(headers))
		seen := make(map[string]bool, len(headers))
		for i, h := range headers {
			if i >= len(row) {
				break
			}
			if h == "" || seen[h] {
				continue
			}
			seen[h] = true
			obj = append(obj, field{key: h, value: csvValue(row[i])})
		}
		rec := Record{LineNumber: line}
		rec.Data, rec.ParseErr = json.Marshal(obj)
		records = append(records, rec)
	}
	return records
}

// csvValue types a cell as an integer, a float, a boolean or a string.
func csvValue(value string) any {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	if i, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(trimmed, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return f
	}
	switch {
	case strings.EqualFold(trimmed, "true"):
		return true
	case strings.EqualFold(trimmed, "false"):
		return false
	}
	return value
}

type xmlNode struct {
	name     string
	line     int
	attrs    []xml.Attr
	children []*xmlNode
	text     strings.Builder
}

// value mirrors the element as JSON: attributes become "@name" keys,
// repeated children become arrays and text beside attributes is "#text".
// A bare leaf is its text. XML carries no types so every leaf is a string.
func (n *xmlNode) value() any {
	text := strings.TrimSpace(n.text.String())
	if len(n.children) == 0 && len(n.attrs) == 0 {
		return text
	}

	obj := make(object, 0, len(n.attrs)+len(n.children))
	for _, a := range n.attrs {
		obj = append(obj, field{key: "@" + a.Name.Local, value: a.Value})
	}

	var order []string
	groups := map[string][]*xmlNode{}
	for _, c := range n.children {
		if _, ok := groups[c.name]; !ok {
			order = append(order, c.name)
		}
		groups[c.name] = append(groups[c.name], c)
	}
	for _, name := range order {
		g := groups[name]
		if len(g) == 1 {
			obj = append(obj, field{key: name, value: g[0].value()})
			continue
		}
		items := make([]any, len(g))
		for i, c := range g {
			items[i] = c.value()
		}
		obj = append(obj, field{key: name, value: items})
	}

	if len(n.children) == 0 && text != "" {
		obj = append(obj, field{key: "#text", value: text})
	}
	return obj
}

func parseXML(data []byte) (*xmlNode, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	var root *xmlNode
	var stack []*xmlNode
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			line, _ := dec.InputPos()
			n := &xmlNode{name: t.Name.Local, line: line}
			for _, a := range t.Attr {
				if a.Name.Space == "xmlns" || (a.Name.Space == "" && a.Name.Local == "xmlns") {
					continue
				}
				n.attrs = append(n.attrs, a)
			}
			if len(stack) > 0 {
				parent := stack[len(stack)-1]
				parent.children = append(parent.children, n)
			} else if root == nil {
				root = n
			}
			stack = append(stack, n)
		case xml.EndElement:
			stack = stack[:len(stack)-1]
		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].text.Write(t)
			}
		}
	}
	if root == nil {
		return nil, errors.New("no root element")
	}
	if len(stack) > 0 {
		return nil, fmt.Errorf("element <%s> is not closed", stack[len(stack)-1].name)
	}
	return root, nil
}

// extractXML treats the root's children as records when they all share
// one element name. Otherwise the converted document goes through the
// same rules as a JSON document.
func extractXML(data []byte) []Record {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	root, err := parseXML(data)
	if err != nil {
		return []Record{{LineNumber: 1, ParseErr: fmt.Errorf("%w: %v", errMalformed, err)}}
	}

	if len(root.children) > 0 && sameName(root.children) {
		records := make([]Record, 0, len(root.children))
		for _, c := range root.children {
			v := c.value()
			if s, ok := v.(string); ok {
				v = object{{key: "value", value: s}}
			}
			rec := Record{LineNumber: c.line}
			rec.Data, rec.ParseErr = json.Marshal(v)
			records = append(records, rec)
		}
		return records
	}

	doc, err := json.Marshal(root.value())
	if err != nil {
		return []Record{{LineNumber: root.line, ParseErr: fmt.Errorf("%w: %v", errMalformed, err)}}
	}
	return ExtractRecords(doc)
}

func sameName(nodes []*xmlNode) bool {
	for _, n := range nodes[1:] {
		if n.name != nodes[0].name {
			return false
		}
	}
	return true
}
