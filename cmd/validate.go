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

package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/cardinalhq/recordflow/internal/validation"
)

func init() {
	var (
		schemaFile string
		dataFile   string
		maxErrors  int
		asJSON     bool
	)
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a data file against a JSON Schema",
		RunE: func(c *cobra.Command, _ []string) error {
			schema, err := os.ReadFile(schemaFile)
			if err != nil {
				return err
			}
			data, err := os.ReadFile(dataFile)
			if err != nil {
				return err
			}
			opts := validation.Options{SkipInvalidRecords: maxErrors == 0, MaxErrorsAllowed: maxErrors}
			res, err := validateFile(c, string(schema), dataFile, data, opts)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(c.OutOrStdout(), res)
			}
			writeSummary(c.OutOrStdout(), res)
			return nil
		},
	}
	cmd.Flags().StringVar(&schemaFile, "schema", "", "JSON Schema file")
	cmd.Flags().StringVar(&dataFile, "data", "", "JSON, JSON Lines, CSV or XML data file")
	cmd.Flags().IntVar(&maxErrors, "max-errors", 0, "Stop after this many invalid records (0 checks everything)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the result summary as JSON")
	_ = cmd.MarkFlagRequired("schema")
	_ = cmd.MarkFlagRequired("data")
	rootCmd.AddCommand(cmd)
}

func validateFile(c *cobra.Command, schema, fileName string, data []byte, opts validation.Options) (*validation.Result, error) {
	engine := validation.NewEngine()
	defer engine.Close()
	if err := engine.CheckSchema(schema); err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	return engine.ValidateFile(commandContext(c), schema, fileName, data, opts)
}

func writeSummary(w io.Writer, res *validation.Result) {
	fmt.Fprintf(w, "status: %s\n", res.Status)
	fmt.Fprintf(w, "records: %d valid: %d invalid: %d\n", res.TotalRecords, res.ValidRecords, res.InvalidRecords)
	if res.Truncated {
		fmt.Fprintf(w, "stopped early, %d records not checked\n", res.Unprocessed)
	}
	for _, inv := range res.Invalid {
		msg := ""
		if len(inv.Errors) > 0 {
			msg = inv.Errors[0].Message
			if f := inv.Errors[0].Field; f != "" {
				msg = f + ": " + msg
			}
		}
		fmt.Fprintf(w, "  line %d: %s %s\n", inv.LineNumber, inv.Reason, msg)
	}
}
