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

// Package readiness implements the readiness probe subcommand. It
// shares no state with the entrypoint: the exit code reports nothing
// but whether the local server currently accepts connections.
package readiness

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/stub42/charm-k8s-postgresql/pkg/management/postgres"
	"github.com/stub42/charm-k8s-postgresql/pkg/management/readiness"
	"github.com/stub42/charm-k8s-postgresql/pkg/specs"
)

// NewCmd creates the "readiness" subcommand.
func NewCmd() *cobra.Command {
	var (
		wait    bool
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "readiness",
		Short: "Exit 0 when the local PostgreSQL server accepts connections",
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := postgres.Connect(postgres.LocalConnectionString(
				specs.SocketDirectory, specs.PostgresUser, "postgres",
				specs.PostgresPort).String())
			if err != nil {
				return err
			}
			defer func() {
				_ = db.Close()
			}()

			checker := readiness.NewChecker(db)
			if wait {
				return checker.Wait(cmd.Context(), timeout)
			}
			return checker.Check(cmd.Context())
		},
	}

	cmd.Flags().BoolVar(&wait, "wait", false,
		"keep probing until the server is ready or --timeout passes")
	cmd.Flags().DurationVar(&timeout, "timeout", time.Minute,
		"total time to wait with --wait")

	return cmd
}
