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
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/cardinalhq/recordflow/rfdb"
	"github.com/cardinalhq/recordflow/rfdb/migrations"
)

var migrateDown bool

func init() {
	MigrateCmd.Flags().BoolVar(&migrateDown, "down", false, "Roll back every migration instead of applying them")
	rootCmd.AddCommand(MigrateCmd)
}

var MigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
	Long:  "Apply the embedded rfdb migrations to the database named by RECORDFLOW_DATABASE_*",
	RunE:  migrate,
}

func migrate(_ *cobra.Command, _ []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	connStr, err := rfdb.URLFromEnv()
	if err != nil {
		return err
	}
	pool, err := rfdb.NewConnectionPool(ctx, connStr)
	if err != nil {
		return err
	}
	defer pool.Close()

	if migrateDown {
		slog.Warn("Rolling back rfdb migrations")
		return migrations.RunMigrationsDown(ctx, pool)
	}
	slog.Info("Running rfdb migrations")
	return migrations.RunMigrationsUp(ctx, pool)
}
