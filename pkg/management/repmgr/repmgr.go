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
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/cloudnative-pg/machinery/pkg/log"

	"github.com/stub42/charm-k8s-postgresql/pkg/management/execlog"
	"github.com/stub42/charm-k8s-postgresql/pkg/specs"
)

// Repmgr commands run as the postgres user. The entrypoint itself runs
// as root so it can repair volume ownership first.
var asPostgres = []string{"sudo", "-u", specs.PostgresUser, "-EH", "--"}

const (
	// registrationTimeout bounds the total time spent retrying a
	// membership operation while peers start up.
	registrationTimeout = 5 * time.Minute

	// maxRetryDelay caps the backoff between attempts.
	maxRetryDelay = 20 * time.Second

	retryAttempts = 40
)

// Manager wraps the repmgr CLI.
type Manager struct {
	confPath   string
	runner     execlog.Runner
	retryDelay time.Duration
}

// NewManager creates a Manager using the standard configuration path and
// the production command runner.
func NewManager() *Manager {
	return &Manager{
		confPath:   specs.RepmgrConfPath,
		runner:     execlog.NewStreamingRunner(),
		retryDelay: time.Second,
	}
}

// NewManagerWithRunner creates a Manager with a custom conf path and
// runner. This is intended for testing.
func NewManagerWithRunner(confPath string, runner execlog.Runner) *Manager {
	return &Manager{confPath: confPath, runner: runner, retryDelay: time.Millisecond}
}

func (m *Manager) run(ctx context.Context, args ...string) error {
	full := append(append([]string{}, asPostgres[1:]...), "repmgr", "-f", m.confPath)
	full = append(full, args...)
	return m.runner.Run(ctx, asPostgres[0], full...)
}

// withRetry keeps retrying op with jittered exponential backoff, the way
// membership operations must tolerate peers that are still booting.
func (m *Manager) withRetry(ctx context.Context, name string, op func(ctx context.Context) error) error {
	contextLogger := log.FromContext(ctx)
	ctx, cancel := context.WithTimeout(ctx, registrationTimeout)
	defer cancel()

	return retry.Do(
		func() error { return op(ctx) },
		retry.Context(ctx),
		retry.Attempts(retryAttempts),
		retry.Delay(m.retryDelay),
		retry.MaxDelay(maxRetryDelay),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(attempt uint, err error) {
			contextLogger.Debug("retrying repmgr operation",
				"operation", name,
				"attempt", attempt,
				"error", err.Error())
		}),
	)
}

// RegisterPrimary registers this node as the repmgr primary. Always
// forced, since the pod IP may have changed since last registration.
func (m *Manager) RegisterPrimary(ctx context.Context) error {
	log.FromContext(ctx).Info("registering PostgreSQL primary with repmgr")
	return m.withRetry(ctx, "primary register", func(ctx context.Context) error {
		return m.run(ctx, "primary", "register", "--force")
	})
}

// CloneFromPrimary wipes the local data directory and clones the primary.
// Only valid on a standby whose cluster was just initialized.
func (m *Manager) CloneFromPrimary(ctx context.Context, primaryHost, dataDir string) error {
	log.FromContext(ctx).Info("cloning database from primary", "primary", primaryHost)
	return m.withRetry(ctx, "standby clone", func(ctx context.Context) error {
		if err := m.runner.Run(ctx, "rm", "-rf", dataDir); err != nil {
			return err
		}
		return m.run(ctx,
			"-h", primaryHost, "-U", "repmgr", "-d", "repmgr",
			"standby", "clone", "--fast-checkpoint")
	})
}

// RegisterStandby registers this node as a hot standby of the primary.
func (m *Manager) RegisterStandby(ctx context.Context, primaryHost string) error {
	log.FromContext(ctx).Info("registering PostgreSQL hot standby with repmgr",
		"primary", primaryHost)
	return m.withRetry(ctx, "standby register", func(ctx context.Context) error {
		return m.run(ctx,
			"standby", "register", "--force", "--wait-sync=60",
			"-h", primaryHost, "-U", "repmgr", "-d", "repmgr")
	})
}

// Follow instructs a running standby to follow the current primary.
func (m *Manager) Follow(ctx context.Context, primaryHost string) error {
	log.FromContext(ctx).Info("hot standby following primary", "primary", primaryHost)
	return m.withRetry(ctx, "standby follow", func(ctx context.Context) error {
		return m.run(ctx,
			"-h", primaryHost, "-U", "repmgr", "-d", "repmgr",
			"standby", "follow")
	})
}

// FollowNode makes the standby follow a specific upstream node. Used by
// the repmgrd follow_command hook.
func (m *Manager) FollowNode(ctx context.Context, upstreamNodeID int) error {
	log.FromContext(ctx).Warning("following repmgr node", "upstreamNodeID", upstreamNodeID)
	return m.run(ctx,
		"standby", "follow", "--wait",
		fmt.Sprintf("--upstream-node-id=%d", upstreamNodeID))
}

// Promote promotes this standby to primary. Used by the repmgrd
// promote_command hook.
func (m *Manager) Promote(ctx context.Context) error {
	log.FromContext(ctx).Warning("promoting to primary")
	return m.run(ctx, "standby", "promote", "--log-to-file")
}

// Rejoin makes a deposed primary rejoin the cluster as a hot standby,
// rewinding its timeline when necessary. repmgr documents the meaning of
// its exit codes, so they are mapped to distinct errors.
func (m *Manager) Rejoin(ctx context.Context, primaryHost string) error {
	log.FromContext(ctx).Info("deposed primary rejoining cluster", "primary", primaryHost)
	return m.withRetry(ctx, "node rejoin", func(ctx context.Context) error {
		err := m.run(ctx,
			"-h", primaryHost, "-U", "repmgr", "-d", "repmgr",
			"node", "rejoin", "--force-rewind")
		if err == nil {
			return nil
		}

		switch exitCode(err) {
		case 1:
			return fmt.Errorf("bad repmgr configuration: %w", err)
		case 4:
			return fmt.Errorf("PostgreSQL could not be restarted by repmgr: %w", err)
		case 24:
			return fmt.Errorf("repmgr rejoin operation failed: %w", err)
		default:
			return err
		}
	})
}

// ClusterShow logs the repmgr view of the cluster. Failures are not
// fatal; this is diagnostic output only.
func (m *Manager) ClusterShow(ctx context.Context) {
	if err := m.run(ctx, "cluster", "show"); err != nil {
		log.FromContext(ctx).Info("could not display repmgr cluster state",
			"error", err.Error())
	}
}

// ClusterCleanup prunes old monitoring history. Run periodically by the
// maintenance scheduler.
func (m *Manager) ClusterCleanup(ctx context.Context, keepDays int) error {
	return m.run(ctx, "cluster", "cleanup", fmt.Sprintf("--keep-history=%d", keepDays))
}

// exitCode extracts the process exit code from a wrapped exec error,
// returning -1 when no exit code is available.
func exitCode(err error) int {
	var coder interface{ ExitCode() int }
	if errors.As(err, &coder) {
		return coder.ExitCode()
	}
	return -1
}
