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

package invalidrecords

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"
)

type ExportFormat string

const (
	ExportCSV   ExportFormat = "csv"
	ExportJSONL ExportFormat = "jsonl"
)

var csvHeader = []string{
	"ID", "DataSource", "FileName", "LineNumber", "CreatedAt",
	"ErrorType", "Status", "Errors", "UpdatedBy", "CorrectedBy",
}

// Export writes every record matching f. Paging fields are ignored.
func (s *Service) Export(ctx context.Context, f Filter, format ExportFormat, w io.Writer) (int, error) {
	switch format {
	case ExportCSV:
		return s.exportCSV(ctx, f, w)
	case ExportJSONL:
		return s.exportJSONL(ctx, f, w)
	}
	return 0, fmt.Errorf("unsupported export format %q", format)
}

func (s *Service) exportCSV(ctx context.Context, f Filter, w io.Writer) (int, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return 0, err
	}
	n := 0
	err := s.repo.Each(ctx, f, func(r Record) error {
		n++
		return cw.Write([]string{
			r.ID,
			r.DataSourceName,
			r.FileName,
			strconv.Itoa(r.LineNumber),
			r.CreatedAt.UTC().Format(time.RFC3339),
			string(r.Reason),
			string(r.Status),
			r.Summary(),
			r.UpdatedBy,
			r.CorrectedBy,
		})
	})
	if err != nil {
		return n, fmt.Errorf("exporting invalid records: %w", err)
	}
	cw.Flush()
	return n, cw.Error()
}

func (s *Service) exportJSONL(ctx context.Context, f Filter, w io.Writer) (int, error) {
	enc := json.NewEncoder(w)
	n := 0
	err := s.repo.Each(ctx, f, func(r Record) error {
		n++
		return enc.Encode(r)
	})
	if err != nil {
		return n, fmt.Errorf("exporting invalid records: %w", err)
	}
	return n, nil
}
