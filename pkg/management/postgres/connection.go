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

package postgres

import (
	"database/sql"
	"fmt"
	"sort"
	"strings"

	// Registers the "pgx" database/sql driver.
	_ "github.com/jackc/pgx/v5/stdlib"
)

// ConnectionString is a set of libpq keyword/value pairs.
type ConnectionString map[string]string

// LocalConnectionString returns connection parameters for the local
// server over the Unix socket directory, as the given user and database.
func LocalConnectionString(socketDir, user, dbname string, port int) ConnectionString {
	return ConnectionString{
		"host":   socketDir,
		"port":   fmt.Sprintf("%d", port),
		"user":   user,
		"dbname": dbname,
	}
}

// String renders the parameters as a libpq connection string. Keywords
// are emitted in sorted order so the result is stable.
func (c ConnectionString) String() string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, escapeConnValue(c[k])))
	}
	return strings.Join(parts, " ")
}

// escapeConnValue quotes a libpq value when it contains spaces, quotes
// or is empty.
func escapeConnValue(value string) string {
	if value != "" && !strings.ContainsAny(value, " '\\") {
		return value
	}
	escaped := strings.ReplaceAll(value, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, `'`, `\'`)
	return "'" + escaped + "'"
}

// Connect opens a database/sql handle through the pgx driver. The
// connection is not established until first use.
func Connect(connString string) (*sql.DB, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, fmt.Errorf("opening connection: %w", err)
	}
	return db, nil
}
