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

package bootstrap

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/cloudnative-pg/machinery/pkg/log"

	"github.com/stub42/charm-k8s-postgresql/pkg/fileutils"
	"github.com/stub42/charm-k8s-postgresql/pkg/management/election"
	"github.com/stub42/charm-k8s-postgresql/pkg/management/execlog"
	"github.com/stub42/charm-k8s-postgresql/pkg/management/postgres"
	"github.com/stub42/charm-k8s-postgresql/pkg/management/postgres/configfile"
	"github.com/stub42/charm-k8s-postgresql/pkg/management/postgres/disk"
	"github.com/stub42/charm-k8s-postgresql/pkg/management/repmgr"
	"github.com/stub42/charm-k8s-postgresql/pkg/specs"
)

// Layout names the filesystem locations the entrypoint touches. The
// defaults describe the container image; tests point them at temporary
// directories.
type Layout struct {
	MountRoot       string
	DataRoot        string
	ConfRoot        string
	LogDirectory    string
	SocketDirectory string

	// PgpassPaths are the password files overwritten on every boot,
	// one per account that runs repmgr commands.
	PgpassPaths []string
}

// DefaultLayout returns the image's filesystem layout.
func DefaultLayout() Layout {
	return Layout{
		MountRoot:       specs.MountRoot,
		DataRoot:        specs.DataRoot,
		ConfRoot:        specs.ConfRoot,
		LogDirectory:    specs.LogDirectory,
		SocketDirectory: specs.SocketDirectory,
		PgpassPaths: []string{
			"/var/lib/postgresql/.pgpass",
			"/root/.pgpass",
		},
	}
}

func (l Layout) confDir(pgMajor string) string {
	return filepath.Join(l.ConfRoot, pgMajor, specs.ClusterName)
}

func (l Layout) confFragmentPath(pgMajor string) string {
	return filepath.Join(l.confDir(pgMajor), "conf.d", "juju_charm.conf")
}

func (l Layout) hbaConfPath(pgMajor string) string {
	return filepath.Join(l.confDir(pgMajor), "pg_hba.conf")
}

func (l Layout) repmgrConfPath() string {
	return filepath.Join(l.ConfRoot, "repmgr.conf")
}

func (l Layout) passwordStatePath() string {
	return filepath.Join(l.ConfRoot, ".repmgr-password")
}

var (
	rootOwnership = fileutils.Ownership{
		User:  specs.RootUser,
		Group: specs.PostgresGroup,
	}
	postgresOwnership = fileutils.Ownership{
		User:  specs.PostgresUser,
		Group: specs.PostgresGroup,
	}
)

// Bootstrapper assembles and runs the entrypoint pipeline.
type Bootstrapper struct {
	settings Settings
	layout   Layout
	files    *fileutils.Manager
	runner   execlog.Runner
	probe    *disk.Probe

	createdCluster bool
}

// New creates a Bootstrapper backed by the real filesystem and command
// runner.
func New(settings Settings) *Bootstrapper {
	return NewWithDeps(settings, DefaultLayout(),
		fileutils.NewManager(), execlog.NewStreamingRunner())
}

// NewWithDeps creates a Bootstrapper with custom layout and primitives.
// This is intended for testing.
func NewWithDeps(
	settings Settings,
	layout Layout,
	files *fileutils.Manager,
	runner execlog.Runner,
) *Bootstrapper {
	return &Bootstrapper{
		settings: settings,
		layout:   layout,
		files:    files,
		runner:   runner,
		probe:    disk.NewProbe(),
	}
}

// Pipeline returns the bootstrap steps in execution order.
func (b *Bootstrapper) Pipeline() *Pipeline {
	return NewPipeline(
		Step{Name: "fix-mounts", Run: b.fixMounts},
		Step{Name: "ensure-directories", Run: b.ensureDirectories},
		Step{Name: "check-environment", Run: b.checkEnvironment},
		Step{Name: "init-cluster", Run: b.initCluster},
		Step{Name: "write-postgresql-conf", Run: b.writePostgresqlConf},
		Step{Name: "write-repmgr-conf", Run: b.writeRepmgrConf},
		Step{Name: "write-pgpass", Run: b.writePgpass},
		Step{Name: "report-disk-usage", Run: b.reportDiskUsage},
	)
}

// Run executes the full bootstrap sequence.
func (b *Bootstrapper) Run(ctx context.Context) error {
	return b.Pipeline().Run(ctx)
}

// Cluster returns the PostgreSQL cluster the pipeline manages.
func (b *Bootstrapper) Cluster() *postgres.Cluster {
	return postgres.NewCluster(b.settings.PGMajor, b.settings.PGData).
		WithRunner(b.runner)
}

// Node returns this member's replication identity.
func (b *Bootstrapper) Node() repmgr.Node {
	// repmgr node ids start at 1, stateful set ordinals at 0.
	id := 1
	if ordinal, err := election.PodOrdinal(b.settings.PodName); err == nil {
		id = ordinal + 1
	}

	return repmgr.Node{
		ID:       id,
		Name:     b.settings.PodName,
		Hostname: election.PodHostname(b.settings.Application, b.settings.PodName),
		PGMajor:  b.settings.PGMajor,
		DataDir:  b.settings.PGData,
	}
}

// fixMounts repairs ownership and modes on the externally mounted
// directories. The host may reset these across remounts.
func (b *Bootstrapper) fixMounts(context.Context) error {
	if err := b.files.EnsureOwnershipAndMode(
		b.layout.MountRoot, rootOwnership, specs.MountRootMode); err != nil {
		return err
	}
	if err := b.files.EnsureOwnedDirectory(
		b.layout.LogDirectory, rootOwnership, specs.LogDirectoryMode); err != nil {
		return err
	}
	return b.files.EnsureOwnedDirectory(
		b.layout.SocketDirectory, postgresOwnership, specs.SocketDirectoryMode)
}

// ensureDirectories creates the data and configuration roots when
// absent.
func (b *Bootstrapper) ensureDirectories(context.Context) error {
	if err := b.files.EnsureOwnedDirectory(
		b.layout.DataRoot, postgresOwnership, specs.MountRootMode); err != nil {
		return err
	}
	return b.files.EnsureOwnedDirectory(
		b.layout.ConfRoot, postgresOwnership, specs.MountRootMode)
}

func (b *Bootstrapper) checkEnvironment(context.Context) error {
	if b.settings.PGData == "" {
		return ErrMissingPGData
	}
	return nil
}

// initCluster initializes a fresh data directory. Directory existence
// is the sole guard: a present directory is never reinitialized, even
// when its contents look incomplete, so a recovered volume survives.
func (b *Bootstrapper) initCluster(ctx context.Context) error {
	contextLogger := log.FromContext(ctx)
	cluster := b.Cluster()

	exists, err := cluster.Exists()
	if err != nil {
		return fmt.Errorf("checking data directory: %w", err)
	}
	if exists {
		contextLogger.Info("data directory present, skipping initialization",
			"pgdata", b.settings.PGData)
		return nil
	}

	if err := b.files.EnsureOwnedDirectory(
		filepath.Dir(b.settings.PGData), postgresOwnership,
		specs.PgDataParentMode); err != nil {
		return err
	}
	if err := b.files.EnsureOwnedDirectory(
		b.settings.PGData, postgresOwnership, specs.PgDataMode); err != nil {
		return err
	}

	if err := cluster.Create(ctx); err != nil {
		return err
	}
	b.createdCluster = true
	return nil
}

// CreatedCluster reports whether this run initialized a fresh cluster.
// A standby uses this to decide between cloning the primary and
// rejoining with its existing data.
func (b *Bootstrapper) CreatedCluster() bool {
	return b.createdCluster
}

// AdminPassword resolves the repmgr credential the same way the
// write-pgpass step does.
func (b *Bootstrapper) AdminPassword() (string, error) {
	return repmgr.ResolvePassword(
		b.settings.AdminSecretPath, b.layout.passwordStatePath())
}

// writePostgresqlConf overwrites the conf.d override fragment and
// appends the pg_hba rules. The fragment is derived state, rewritten
// on every boot with deterministic content.
func (b *Bootstrapper) writePostgresqlConf(ctx context.Context) error {
	contextLogger := log.FromContext(ctx)

	fragmentPath := b.layout.confFragmentPath(b.settings.PGMajor)
	if err := b.files.EnsureOwnedDirectory(
		filepath.Dir(fragmentPath), postgresOwnership,
		specs.PgDataParentMode); err != nil {
		return err
	}

	params := configfile.ReplicationParameters(
		configfile.MaxWalSenders(b.settings.ExpectedUnits))
	if err := fileutils.WriteFileAtomic(fragmentPath,
		[]byte(configfile.Render(params)), specs.ConfFileMode); err != nil {
		return err
	}
	contextLogger.Info("wrote configuration fragment", "path", fragmentPath)

	appended, err := fileutils.AppendLinesOnce(
		b.layout.hbaConfPath(b.settings.PGMajor),
		configfile.HBAMarker, configfile.HBARules())
	if err != nil {
		return err
	}
	if appended {
		contextLogger.Info("appended client access rules",
			"path", b.layout.hbaConfPath(b.settings.PGMajor))
	}
	return nil
}

// writeRepmgrConf overwrites repmgr.conf for this node.
func (b *Bootstrapper) writeRepmgrConf(ctx context.Context) error {
	log.FromContext(ctx).Info("writing replication manager configuration",
		"path", b.layout.repmgrConfPath())
	return repmgr.WriteConfig(b.layout.repmgrConfPath(), b.Node())
}

// writePgpass overwrites the password files from the mounted secret,
// generating and persisting a credential when none is mounted.
func (b *Bootstrapper) writePgpass(context.Context) error {
	pw, err := repmgr.ResolvePassword(
		b.settings.AdminSecretPath, b.layout.passwordStatePath())
	if err != nil {
		return err
	}
	if err := repmgr.WritePgpassFiles(pw, b.layout.PgpassPaths...); err != nil {
		return err
	}

	// The postgres account's copy must be readable by the server.
	for _, path := range b.layout.PgpassPaths {
		if filepath.Dir(path) == "/root" {
			continue
		}
		if err := b.files.EnsureOwnershipAndMode(
			path, postgresOwnership, specs.PgPassMode); err != nil {
			return err
		}
	}
	return nil
}

// reportDiskUsage logs the volume usage at boot. Probe failures are
// logged and ignored; an unmounted log volume must not block startup.
func (b *Bootstrapper) reportDiskUsage(ctx context.Context) error {
	contextLogger := log.FromContext(ctx)

	volumes := map[disk.VolumeType]string{
		disk.VolumeTypeData: b.layout.DataRoot,
		disk.VolumeTypeLog:  b.layout.LogDirectory,
	}
	for volumeType, mountPath := range volumes {
		result, err := b.probe.ProbeVolume(mountPath, volumeType)
		if err != nil {
			contextLogger.Info("skipping volume usage report",
				"volumeType", volumeType, "error", err.Error())
			continue
		}
		contextLogger.Info("volume usage",
			"volumeType", volumeType,
			"mountPath", mountPath,
			"totalBytes", result.Stats.TotalBytes,
			"availableBytes", result.Stats.AvailableBytes,
			"percentUsed", fmt.Sprintf("%.1f", result.Stats.PercentUsed))
	}
	return nil
}
