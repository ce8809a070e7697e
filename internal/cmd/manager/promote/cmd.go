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

// Package promote implements the repmgrd promote_command hook: promote
// the local standby and take over the primary service labels.
package promote

import (
	"os"

	"github.com/cloudnative-pg/machinery/pkg/log"
	"github.com/spf13/cobra"

	"github.com/stub42/charm-k8s-postgresql/pkg/management/bootstrap"
	"github.com/stub42/charm-k8s-postgresql/pkg/management/election"
	"github.com/stub42/charm-k8s-postgresql/pkg/management/repmgr"
)

// NewCmd creates the "promote" subcommand.
func NewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "promote",
		Short: "Promote this standby to primary (repmgrd hook)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			if err := repmgr.NewManager().Promote(ctx); err != nil {
				return err
			}

			// Moving the service labels is best effort: the promotion
			// itself already happened, and repmgrd treats a failing
			// hook as a failed failover.
			settings := bootstrap.LoadSettings(os.Getenv)
			if settings.Namespace == "" {
				return nil
			}
			resolver, err := election.NewKubernetesResolver(
				settings.Namespace, settings.Application,
				settings.PodName, settings.Application+"-0")
			if err != nil {
				log.FromContext(ctx).Error(err, "cannot update primary label")
				return nil
			}
			if err := resolver.ClaimPrimary(ctx); err != nil {
				log.FromContext(ctx).Error(err, "cannot update primary label")
			}
			return nil
		},
	}
}
