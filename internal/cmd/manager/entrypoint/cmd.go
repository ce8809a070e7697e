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

// Package entrypoint implements the container entrypoint subcommand:
// bootstrap the node, join the replication cluster and hand off to the
// replication daemon.
package entrypoint

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/cloudnative-pg/machinery/pkg/log"
	"github.com/spf13/cobra"

	"github.com/stub42/charm-k8s-postgresql/pkg/management/bootstrap"
	"github.com/stub42/charm-k8s-postgresql/pkg/management/election"
	"github.com/stub42/charm-k8s-postgresql/pkg/management/postgres"
	"github.com/stub42/charm-k8s-postgresql/pkg/management/postgres/disk"
	"github.com/stub42/charm-k8s-postgresql/pkg/management/postgres/webserver/metricserver"
	"github.com/stub42/charm-k8s-postgresql/pkg/management/readiness"
	"github.com/stub42/charm-k8s-postgresql/pkg/management/repmgr"
	"github.com/stub42/charm-k8s-postgresql/pkg/management/supervisor"
	"github.com/stub42/charm-k8s-postgresql/pkg/specs"
)

const (
	// primaryWaitTimeout bounds how long a standby waits for a primary
	// to appear before giving up.
	primaryWaitTimeout = 5 * time.Minute

	// serverReadyTimeout bounds how long the entrypoint waits for the
	// freshly started server to accept connections.
	serverReadyTimeout = 2 * time.Minute

	historyKeepDays = 30
)

// NewCmd creates the "entrypoint" subcommand.
func NewCmd() *cobra.Command {
	var (
		hold                bool
		resolverName        string
		staticRole          string
		staticPrimary       string
		metricsPort         int
		maintenanceSchedule string
	)

	cmd := &cobra.Command{
		Use:   "entrypoint",
		Short: "Bootstrap this node and run the replication daemon",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			settings := bootstrap.LoadSettings(os.Getenv)

			b := bootstrap.New(settings)
			if err := b.Run(ctx); err != nil {
				return err
			}

			go serveMetrics(ctx, metricsPort, hold, settings, b)

			if hold {
				supervisor.Hold(ctx)
				return nil
			}

			resolver, err := buildResolver(settings, resolverName, staticRole, staticPrimary)
			if err != nil {
				return err
			}
			if err := joinCluster(ctx, settings, b, resolver); err != nil {
				return err
			}

			maintenance, err := scheduleMaintenance(ctx, maintenanceSchedule)
			if err != nil {
				return err
			}
			maintenance.Start()
			defer maintenance.Stop()

			return supervisor.New("sudo", "-u", specs.PostgresUser, "-EH", "--",
				"repmgrd", "-f", specs.RepmgrConfPath, "--daemonize=false").Run(ctx)
		},
	}

	cmd.Flags().BoolVar(&hold, "hold", false,
		"skip replication setup and idle after bootstrap")
	cmd.Flags().StringVar(&resolverName, "role-resolver", "kubernetes",
		"how the replication role is decided. One of kubernetes|ordinal|static")
	cmd.Flags().StringVar(&staticRole, "role", "",
		"replication role when --role-resolver=static. One of primary|standby")
	cmd.Flags().StringVar(&staticPrimary, "primary-host", "",
		"primary hostname when --role-resolver=static")
	cmd.Flags().IntVar(&metricsPort, "metrics-port", metricserver.DefaultPort,
		"port for the metrics and health endpoints")
	cmd.Flags().StringVar(&maintenanceSchedule, "maintenance-schedule",
		supervisor.DefaultMaintenanceSchedule,
		"6-field cron schedule for replication manager housekeeping")

	return cmd
}

// buildResolver selects the role resolution policy.
func buildResolver(
	settings bootstrap.Settings,
	name, staticRole, staticPrimary string,
) (election.Resolver, error) {
	switch name {
	case "static":
		return election.StaticResolver{
			Role:    election.Role(staticRole),
			Primary: staticPrimary,
		}, nil
	case "ordinal":
		return election.OrdinalResolver{
			PodName:     settings.PodName,
			Application: settings.Application,
		}, nil
	case "kubernetes":
		return election.NewKubernetesResolver(
			settings.Namespace,
			settings.Application,
			settings.PodName,
			settings.Application+"-0")
	default:
		return nil, fmt.Errorf("unknown role resolver %q", name)
	}
}

// joinCluster brings this node into the replication cluster according to
// the resolved role.
func joinCluster(
	ctx context.Context,
	settings bootstrap.Settings,
	b *bootstrap.Bootstrapper,
	resolver election.Resolver,
) error {
	contextLogger := log.FromContext(ctx)

	role, err := resolveRole(ctx, resolver)
	if err != nil {
		return fmt.Errorf("resolving replication role: %w", err)
	}
	contextLogger.Info("replication role resolved", "role", role)

	manager := repmgr.NewManager()
	var joinErr error
	switch role {
	case election.RolePrimary:
		joinErr = joinAsPrimary(ctx, settings, b, resolver, manager)
	case election.RoleStandby:
		joinErr = joinAsStandby(ctx, settings, b, resolver, manager)
	default:
		joinErr = fmt.Errorf("unknown replication role %q", role)
	}
	if joinErr != nil {
		return joinErr
	}

	if labeler, ok := resolver.(interface {
		LabelPod(context.Context) error
	}); ok {
		if err := labeler.LabelPod(ctx); err != nil {
			return err
		}
	}

	manager.ClusterShow(ctx)
	return nil
}

func joinAsPrimary(
	ctx context.Context,
	settings bootstrap.Settings,
	b *bootstrap.Bootstrapper,
	resolver election.Resolver,
	manager *repmgr.Manager,
) error {
	cluster := b.Cluster()

	running, err := cluster.IsRunning()
	if err != nil {
		return err
	}
	if !running {
		if err := cluster.Start(ctx); err != nil {
			return err
		}
	}

	db, err := postgres.Connect(postgres.LocalConnectionString(
		specs.SocketDirectory, specs.PostgresUser, "postgres",
		specs.PostgresPort).String())
	if err != nil {
		return err
	}
	defer func() {
		_ = db.Close()
	}()

	if err := readiness.NewChecker(db).Wait(ctx, serverReadyTimeout); err != nil {
		return fmt.Errorf("server did not become ready: %w", err)
	}

	pw, err := b.AdminPassword()
	if err != nil {
		return err
	}
	if err := repmgr.EnsureRole(ctx, db, pw); err != nil {
		return err
	}
	if err := repmgr.EnsureDatabase(ctx, db); err != nil {
		return err
	}

	if err := manager.RegisterPrimary(ctx); err != nil {
		return err
	}

	if claimer, ok := resolver.(interface {
		ClaimPrimary(context.Context) error
	}); ok {
		return claimer.ClaimPrimary(ctx)
	}
	return nil
}

func joinAsStandby(
	ctx context.Context,
	settings bootstrap.Settings,
	b *bootstrap.Bootstrapper,
	resolver election.Resolver,
	manager *repmgr.Manager,
) error {
	cluster := b.Cluster()

	primaryHost, err := waitForPrimary(ctx, resolver)
	if err != nil {
		return err
	}

	isStandby, err := cluster.IsStandby()
	if err != nil {
		return err
	}
	running, err := cluster.IsRunning()
	if err != nil {
		return err
	}

	switch {
	case b.CreatedCluster():
		// Fresh volume: throw away the just-initialized cluster and
		// clone the primary instead.
		if running {
			if err := cluster.Stop(ctx); err != nil {
				return err
			}
		}
		if err := manager.CloneFromPrimary(ctx, primaryHost, settings.PGData); err != nil {
			return err
		}
		if err := cluster.Start(ctx); err != nil {
			return err
		}
		if err := manager.RegisterStandby(ctx, primaryHost); err != nil {
			return err
		}

	case !isStandby:
		// A data directory without standby.signal was last a primary;
		// rewind it back into the cluster.
		if running {
			if err := cluster.Stop(ctx); err != nil {
				return err
			}
		}
		if err := manager.Rejoin(ctx, primaryHost); err != nil {
			return err
		}

	default:
		if !running {
			if err := cluster.Start(ctx); err != nil {
				return err
			}
		}
		if err := manager.Follow(ctx, primaryHost); err != nil {
			return err
		}
	}

	if marker, ok := resolver.(interface {
		MarkStandby(context.Context) error
	}); ok {
		return marker.MarkStandby(ctx)
	}
	return nil
}

// resolveRole retries until the resolver settles on a role, tolerating
// the window where no primary is labeled yet.
func resolveRole(ctx context.Context, resolver election.Resolver) (election.Role, error) {
	ctx, cancel := context.WithTimeout(ctx, primaryWaitTimeout)
	defer cancel()

	var role election.Role
	err := retry.Do(
		func() error {
			r, err := resolver.Resolve(ctx)
			if err != nil {
				return err
			}
			role = r
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(0),
		retry.Delay(time.Second),
		retry.MaxDelay(20*time.Second),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.LastErrorOnly(true),
	)
	return role, err
}

// waitForPrimary blocks until a primary is advertised.
func waitForPrimary(ctx context.Context, resolver election.Resolver) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, primaryWaitTimeout)
	defer cancel()

	var primary string
	err := retry.Do(
		func() error {
			host, err := resolver.PrimaryHostname(ctx)
			if err != nil {
				return err
			}
			primary = host
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(0),
		retry.Delay(time.Second),
		retry.MaxDelay(20*time.Second),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return "", fmt.Errorf("waiting for primary: %w", err)
	}
	return primary, nil
}

// scheduleMaintenance installs the recurring repmgr housekeeping jobs.
func scheduleMaintenance(ctx context.Context, schedule string) (*supervisor.Maintenance, error) {
	manager := repmgr.NewManager()
	maintenance := supervisor.NewMaintenance()

	err := maintenance.Add(schedule, "cluster-cleanup", func() {
		if err := manager.ClusterCleanup(ctx, historyKeepDays); err != nil {
			log.FromContext(ctx).Error(err, "monitoring history cleanup failed")
		}
	})
	if err != nil {
		return nil, err
	}

	if err := maintenance.Add(schedule, "cluster-show", func() {
		manager.ClusterShow(ctx)
	}); err != nil {
		return nil, err
	}

	return maintenance, nil
}

// serveMetrics runs the metric and health endpoint server for the
// lifetime of the entrypoint. Failures are logged, not fatal: the
// database must keep running without its observability sidecar.
func serveMetrics(
	ctx context.Context,
	port int,
	hold bool,
	settings bootstrap.Settings,
	b *bootstrap.Bootstrapper,
) {
	cluster := b.Cluster()

	aliveCheck := func(context.Context) error { return nil }
	if !hold {
		aliveCheck = func(context.Context) error {
			running, err := cluster.IsRunning()
			if err != nil {
				return err
			}
			if !running {
				return fmt.Errorf("postmaster is not running")
			}
			return nil
		}
	}

	readyCheck := func(checkCtx context.Context) error {
		db, err := postgres.Connect(postgres.LocalConnectionString(
			specs.SocketDirectory, specs.PostgresUser, "postgres",
			specs.PostgresPort).String())
		if err != nil {
			return err
		}
		defer func() {
			_ = db.Close()
		}()
		return readiness.NewChecker(db).Check(checkCtx)
	}

	server := metricserver.New(port, map[disk.VolumeType]string{
		disk.VolumeTypeData: specs.DataRoot,
		disk.VolumeTypeLog:  specs.LogDirectory,
		disk.VolumeTypeConf: specs.ConfRoot,
	}, aliveCheck, readyCheck)

	if err := server.Start(ctx); err != nil {
		log.FromContext(ctx).Error(err, "metric server terminated")
	}
}
