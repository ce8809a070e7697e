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

// The manager binary is the PostgreSQL + repmgr container entrypoint
// and its sidecar commands: readiness probing, repmgrd failover hooks
// and node status reporting.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/cloudnative-pg/machinery/pkg/log"
	"github.com/spf13/cobra"

	"github.com/stub42/charm-k8s-postgresql/internal/cmd/manager/entrypoint"
	"github.com/stub42/charm-k8s-postgresql/internal/cmd/manager/follow"
	"github.com/stub42/charm-k8s-postgresql/internal/cmd/manager/promote"
	"github.com/stub42/charm-k8s-postgresql/internal/cmd/manager/readiness"
	"github.com/stub42/charm-k8s-postgresql/internal/cmd/manager/status"
	"github.com/stub42/charm-k8s-postgresql/pkg/management/bootstrap"
	"github.com/stub42/charm-k8s-postgresql/pkg/management/supervisor"
)

func main() {
	logFlags := &log.Flags{}

	cmd := &cobra.Command{
		Use:          "manager",
		Short:        "PostgreSQL K8s charm container manager",
		SilenceUsage: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			logFlags.ConfigureLogging()
		},
	}
	logFlags.AddFlags(cmd.PersistentFlags())

	cmd.AddCommand(
		entrypoint.NewCmd(),
		readiness.NewCmd(),
		promote.NewCmd(),
		follow.NewCmd(),
		status.NewCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := cmd.ExecuteContext(ctx); err != nil {
		os.Exit(exitCodeFor(err))
	}
}

// exitCodeFor maps a command failure to the process exit code. A
// missing PGDATA is contractually exit 1; a supervised daemon's exit
// code is passed through.
func exitCodeFor(err error) int {
	if errors.Is(err, bootstrap.ErrMissingPGData) {
		return 1
	}
	if code := supervisor.ExitCode(err); code > 0 {
		return code
	}
	return 1
}
