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

// Package postgres drives the Debian PostgreSQL cluster tooling
// (pg_createcluster, pg_ctlcluster) and inspects the local postmaster.
package postgres

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/cloudnative-pg/machinery/pkg/log"
	ps "github.com/mitchellh/go-ps"

	"github.com/stub42/charm-k8s-postgresql/pkg/management/execlog"
	"github.com/stub42/charm-k8s-postgresql/pkg/specs"
)

// Cluster describes the single PostgreSQL cluster managed by this image.
type Cluster struct {
	// Major is the PostgreSQL major version, e.g. "12".
	Major string

	// Name is the pg_createcluster cluster name.
	Name string

	// DataDir is the PGDATA directory on the persistent volume.
	DataDir string

	// Port is the port the cluster listens on.
	Port int

	// Locale used when initializing a fresh cluster.
	Locale string

	runner execlog.Runner
}

// NewCluster creates a Cluster with the image defaults and the
// production command runner.
func NewCluster(major, dataDir string) *Cluster {
	return &Cluster{
		Major:   major,
		Name:    specs.ClusterName,
		DataDir: dataDir,
		Port:    specs.PostgresPort,
		Locale:  specs.Locale,
		runner:  execlog.NewStreamingRunner(),
	}
}

// WithRunner replaces the command runner. This is intended for testing.
func (c *Cluster) WithRunner(runner execlog.Runner) *Cluster {
	c.runner = runner
	return c
}

// Exists reports whether the data directory is present. Directory
// existence is the sole marker of an initialized cluster; no separate
// marker file is consulted, so a recovered volume is never reinitialized.
func (c *Cluster) Exists() (bool, error) {
	info, err := os.Stat(c.DataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return info.IsDir(), nil
}

// Create initializes the cluster with pg_createcluster. The caller is
// responsible for checking Exists first; pg_createcluster itself refuses
// to run on a non-empty data directory.
func (c *Cluster) Create(ctx context.Context) error {
	log.FromContext(ctx).Warning("creating new database cluster", "pgdata", c.DataDir)
	return c.runner.Run(ctx, "pg_createcluster",
		c.Major,
		c.Name,
		"--locale="+c.Locale,
		"--port="+strconv.Itoa(c.Port),
		"--datadir="+c.DataDir,
		"--",
		"--auth-local=trust",
		"--auth-host=scram-sha-256",
	)
}

// Start starts the cluster through pg_ctlcluster.
func (c *Cluster) Start(ctx context.Context) error {
	log.FromContext(ctx).Info("starting PostgreSQL cluster")
	return c.runner.Run(ctx, "pg_ctlcluster", c.Major, c.Name, "start")
}

// Stop stops the cluster through pg_ctlcluster.
func (c *Cluster) Stop(ctx context.Context) error {
	log.FromContext(ctx).Info("stopping PostgreSQL cluster")
	return c.runner.Run(ctx, "pg_ctlcluster", c.Major, c.Name, "stop")
}

// IsStandby reports whether the data directory carries a standby.signal
// file, meaning the server was last following a primary.
func (c *Cluster) IsStandby() (bool, error) {
	_, err := os.Stat(specs.StandbySignalPath(c.DataDir))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// PostmasterPID returns the pid recorded in postmaster.pid, or 0 when
// the file is absent.
func (c *Cluster) PostmasterPID() (int, error) {
	content, err := os.ReadFile(specs.PostmasterPidPath(c.DataDir))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	lines := strings.SplitN(string(content), "\n", 2)
	pid, err := strconv.Atoi(strings.TrimSpace(lines[0]))
	if err != nil {
		return 0, fmt.Errorf("malformed postmaster.pid: %w", err)
	}
	return pid, nil
}

// IsRunning reports whether the postmaster recorded in postmaster.pid is
// alive. A stale pid file left behind by a crash does not count.
func (c *Cluster) IsRunning() (bool, error) {
	pid, err := c.PostmasterPID()
	if err != nil || pid == 0 {
		return false, err
	}

	process, err := ps.FindProcess(pid)
	if err != nil {
		return false, err
	}
	return process != nil, nil
}
