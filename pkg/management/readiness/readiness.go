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

// Package readiness implements the orchestrator health check: a
// stateless probe reporting through its exit code whether the local
// PostgreSQL server accepts connections.
package readiness

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/cloudnative-pg/machinery/pkg/log"
)

// DefaultTimeout bounds a single probe attempt.
const DefaultTimeout = 5 * time.Second

// Checker probes a PostgreSQL server through an open database handle.
type Checker struct {
	db *sql.DB
}

// NewChecker creates a Checker for the given handle. The caller keeps
// ownership of the handle.
func NewChecker(db *sql.DB) *Checker {
	return &Checker{db: db}
}

// Check returns nil when the server accepts a connection and answers a
// trivial query. It carries no state between invocations.
func (c *Checker) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	if err := c.db.PingContext(ctx); err != nil {
		return fmt.Errorf("server not accepting connections: %w", err)
	}

	var one int
	if err := c.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("server not answering queries: %w", err)
	}
	return nil
}

// Wait blocks until the server becomes ready or the deadline passes,
// probing with jittered exponential backoff.
func (c *Checker) Wait(ctx context.Context, deadline time.Duration) error {
	contextLogger := log.FromContext(ctx)
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	return retry.Do(
		func() error { return c.Check(ctx) },
		retry.Context(ctx),
		retry.Attempts(0),
		retry.Delay(500*time.Millisecond),
		retry.MaxDelay(10*time.Second),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(attempt uint, err error) {
			contextLogger.Debug("server not ready yet",
				"attempt", attempt,
				"error", err.Error())
		}),
	)
}
