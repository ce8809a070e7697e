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

// Package follow implements the repmgrd follow_command hook: reattach
// this standby to the newly promoted upstream node.
package follow

import (
	"fmt"
	"os"
	"strconv"

	"github.com/cloudnative-pg/machinery/pkg/log"
	"github.com/spf13/cobra"

	"github.com/stub42/charm-k8s-postgresql/pkg/management/bootstrap"
	"github.com/stub42/charm-k8s-postgresql/pkg/management/election"
	"github.com/stub42/charm-k8s-postgresql/pkg/management/repmgr"
)

// NewCmd creates the "follow" subcommand. repmgrd invokes it with the
// upstream node id substituted for %n in follow_command.
func NewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "follow UPSTREAM_NODE_ID",
		Short: "Follow the promoted upstream node (repmgrd hook)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			upstreamNodeID, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("malformed upstream node id %q: %w", args[0], err)
			}

			if err := repmgr.NewManager().FollowNode(ctx, upstreamNodeID); err != nil {
				return err
			}

			settings := bootstrap.LoadSettings(os.Getenv)
			if settings.Namespace == "" {
				return nil
			}
			resolver, err := election.NewKubernetesResolver(
				settings.Namespace, settings.Application,
				settings.PodName, settings.Application+"-0")
			if err != nil {
				log.FromContext(ctx).Error(err, "cannot update standby label")
				return nil
			}
			if err := resolver.MarkStandby(ctx); err != nil {
				log.FromContext(ctx).Error(err, "cannot update standby label")
			}
			return nil
		},
	}
}
