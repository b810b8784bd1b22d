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
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cardinalhq/recordflow/internal/connection"
)

func init() {
	var (
		file       string
		timeout    time.Duration
		writeProbe bool
	)
	cmd := &cobra.Command{
		Use:   "test-connection",
		Short: "Check that a source or destination is reachable",
		RunE: func(c *cobra.Command, _ []string) error {
			d, err := readDescriptor(file)
			if err != nil {
				return err
			}
			tester := connection.NewTester(connection.WithWriteProbe(writeProbe))
			res, err := tester.Test(commandContext(c), d, timeout)
			if err != nil {
				return err
			}
			if err := printJSON(c.OutOrStdout(), res); err != nil {
				return err
			}
			if !res.Success {
				return fmt.Errorf("connection test failed: %s", res.Message)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "YAML connection descriptor")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Overall test timeout")
	cmd.Flags().BoolVar(&writeProbe, "write-probe", false, "Also create and remove a probe file on file-based targets")
	_ = cmd.MarkFlagRequired("file")
	rootCmd.AddCommand(cmd)
}

func readDescriptor(path string) (connection.Descriptor, error) {
	var d connection.Descriptor
	b, err := os.ReadFile(path)
	if err != nil {
		return d, err
	}
	if err := yaml.Unmarshal(b, &d); err != nil {
		return d, fmt.Errorf("parse %s: %w", path, err)
	}
	return d, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// commandContext lets RunE functions work when cobra was executed without a context.
func commandContext(c *cobra.Command) context.Context {
	if ctx := c.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
