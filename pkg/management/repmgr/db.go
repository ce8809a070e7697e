/*
Copyright The PostgreSQL K8s Charm Contributors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package repmgr

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/cloudnative-pg/machinery/pkg/log"
)

// EnsureRole creates or updates the repmgr database role. The password
// is always reset, because a recovered volume may carry a credential
// from a previous deployment whose secret has since changed.
func EnsureRole(ctx context.Context, db *sql.DB, pw string) error {
	contextLogger := log.FromContext(ctx)

	var exists bool
	row := db.QueryRowContext(ctx, "SELECT TRUE FROM pg_roles WHERE rolname='repmgr'")
	if err := row.Scan(&exists); err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("checking repmgr role: %w", err)
	}

	verb := "CREATE"
	if exists {
		verb = "ALTER"
	}
	contextLogger.Info("maintaining repmgr role", "exists", exists)

	stmt := fmt.Sprintf(
		"%s ROLE repmgr WITH LOGIN SUPERUSER REPLICATION PASSWORD %s",
		verb, quoteLiteral(pw))
	if _, err := db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("maintaining repmgr role: %w", err)
	}
	return nil
}

// EnsureDatabase creates the repmgr database when missing, fixing its
// ownership otherwise.
func EnsureDatabase(ctx context.Context, db *sql.DB) error {
	contextLogger := log.FromContext(ctx)

	var exists bool
	row := db.QueryRowContext(ctx, "SELECT TRUE FROM pg_database WHERE datname='repmgr'")
	if err := row.Scan(&exists); err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("checking repmgr database: %w", err)
	}

	contextLogger.Info("maintaining repmgr database", "exists", exists)
	var stmt string
	if exists {
		stmt = "ALTER DATABASE repmgr OWNER TO repmgr"
	} else {
		stmt = "CREATE DATABASE repmgr OWNER repmgr"
	}
	if _, err := db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("maintaining repmgr database: %w", err)
	}
	return nil
}

// quoteLiteral quotes a string as a PostgreSQL literal. DDL statements
// cannot take bind parameters, so the password has to be inlined.
func quoteLiteral(value string) string {
	return "'" + strings.ReplaceAll(value, "'", "''") + "'"
}
