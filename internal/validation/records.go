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
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Record is one raw payload cut out of an ingested file.
type Record struct {
	// LineNumber is 1-based: the element index for JSON documents and the
	// physical line for newline-delimited input.
	LineNumber int
	Data       json.RawMessage
	// ParseErr is set when the record could not be cut out as valid JSON.
	ParseErr error
}

// ExtractRecords splits a file into records. An array yields its elements.
// An object yields the elements of its first array-valued property, or
// itself when it has none. A bare scalar is wrapped as {"value": ...}.
// Anything that is not a single JSON document is read as JSON lines.
func ExtractRecords(data []byte) []Record {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil
	}
	if json.Valid(trimmed) {
		records, err := extractDocument(trimmed)
		if err == nil {
			return records
		}
	}
	return extractLines(data)
}

func extractDocument(doc []byte) ([]Record, error) {
	switch doc[0] {
	case '[':
		return arrayElements(doc)
	case '{':
		inner, ok, err := firstArrayProperty(doc)
		if err != nil {
			return nil, err
		}
		if ok {
			return arrayElements(inner)
		}
		return []Record{{LineNumber: 1, Data: json.RawMessage(doc)}}, nil
	default:
		wrapped, err := json.Marshal(map[string]json.RawMessage{"value": doc})
		if err != nil {
			return nil, err
		}
		return []Record{{LineNumber: 1, Data: wrapped}}, nil
	}
}

func arrayElements(doc []byte) ([]Record, error) {
	var elems []json.RawMessage
	if err := json.Unmarshal(doc, &elems); err != nil {
		return nil, err
	}
	records := make([]Record, len(elems))
	for i, e := range elems {
		records[i] = Record{LineNumber: i + 1, Data: e}
	}
	return records, nil
}

// firstArrayProperty walks the object's keys in document order.
func firstArrayProperty(doc []byte) (json.RawMessage, bool, error) {
	dec := json.NewDecoder(bytes.NewReader(doc))
	if _, err := dec.Token(); err != nil {
		return nil, false, err
	}
	for dec.More() {
		if _, err := dec.Token(); err != nil {
			return nil, false, err
		}
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, false, err
		}
		v := bytes.TrimSpace(value)
		if len(v) > 0 && v[0] == '[' {
			return v, true, nil
		}
	}
	return nil, false, nil
}

var errMalformed = errors.New("malformed record")

func extractLines(data []byte) []Record {
	var records []Record
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		text := bytes.TrimSpace(scanner.Bytes())
		if len(text) == 0 {
			continue
		}
		rec := Record{LineNumber: line, Data: json.RawMessage(append([]byte(nil), text...))}
		if !json.Valid(text) {
			rec.ParseErr = fmt.Errorf("%w on line %d", errMalformed, line)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		records = append(records, Record{
			LineNumber: line + 1,
			ParseErr:   fmt.Errorf("%w: %v", errMalformed, err),
		})
	}
	return records
}

// RecordsFromPayloads wraps already-separated payloads.
func RecordsFromPayloads(payloads []json.RawMessage) []Record {
	records := make([]Record, len(payloads))
	for i, p := range payloads {
		records[i] = Record{LineNumber: i + 1, Data: p}
		if !json.Valid(p) {
			records[i].ParseErr = fmt.Errorf("%w at index %d", errMalformed, i)
		}
	}
	return records
}
