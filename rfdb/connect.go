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

package rfdb

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgx-contrib/pgxotel"

	"github.com/cardinalhq/recordflow/rfdb/migrations"
)

const envPrefix = "RECORDFLOW_DATABASE_"

var ErrDatabaseNotConfigured = errors.New("database connection configuration is unavailable")

// URLFromEnv builds a PostgreSQL URL from RECORDFLOW_DATABASE_URL, or from
// the _HOST, _PORT, _USER, _PASSWORD, _DBNAME and _SSLMODE parts. HOST and
// DBNAME are required; PORT defaults to 5432.
func URLFromEnv() (string, error) {
	if urlStr := os.Getenv(envPrefix + "URL"); urlStr != "" {
		return urlStr, nil
	}

	host := os.Getenv(envPrefix + "HOST")
	dbname := os.Getenv(envPrefix + "DBNAME")
	var missing []string
	if host == "" {
		missing = append(missing, envPrefix+"HOST")
	}
	if dbname == "" {
		missing = append(missing, envPrefix+"DBNAME")
	}
	if len(missing) > 0 {
		return "", fmt.Errorf("%w: missing %s", ErrDatabaseNotConfigured, strings.Join(missing, ", "))
	}

	port := os.Getenv(envPrefix + "PORT")
	if port == "" {
		port = "5432"
	}
	u := &url.URL{Scheme: "postgresql", Host: host + ":" + port, Path: dbname}
	if user := os.Getenv(envPrefix + "USER"); user != "" {
		if pass := os.Getenv(envPrefix + "PASSWORD"); pass != "" {
			u.User = url.UserPassword(user, pass)
		} else {
			u.User = url.User(user)
		}
	}

	q := u.Query()
	if sslmode := os.Getenv(envPrefix + "SSLMODE"); sslmode != "" {
		q.Set("sslmode", sslmode)
	}
	q.Set("application_name", applicationName(os.Getenv("OTEL_SERVICE_NAME")))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// applicationName keeps only characters Postgres shows cleanly and
// truncates to the 63 byte identifier limit.
func applicationName(name string) string {
	if name == "" {
		name = "recordflow"
	}
	name = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			return r
		}
		return '_'
	}, name)
	if len(name) > 63 {
		name = name[:63]
	}
	return name
}

// NewConnectionPool opens a pgx pool with query tracing.
func NewConnectionPool(ctx context.Context, url string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, err
	}
	cfg.ConnConfig.Tracer = &pgxotel.QueryTracer{Name: "rfdb"}
	return pgxpool.NewWithConfig(ctx, cfg)
}

// Connect opens the pool from the environment and waits for the schema
// to reach the embedded migration version.
func Connect(ctx context.Context) (*pgxpool.Pool, error) {
	connStr, err := URLFromEnv()
	if err != nil {
		return nil, err
	}
	pool, err := NewConnectionPool(ctx, connStr)
	if err != nil {
		return nil, err
	}
	if err := migrations.CheckVersion(ctx, pool, migrations.CheckConfigFromEnv()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("rfdb migration version check failed: %w", err)
	}
	return pool, nil
}
