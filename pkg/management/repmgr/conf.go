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

// Package repmgr integrates the repmgr replication manager: it renders
// its configuration and wraps the repmgr CLI for cluster membership
// operations, retrying the transient failures that are routine while
// peers are still starting.
package repmgr

import (
	"fmt"
	"strings"

	"github.com/stub42/charm-k8s-postgresql/pkg/fileutils"
	"github.com/stub42/charm-k8s-postgresql/pkg/specs"
)

// Node identifies this member of the replication cluster.
type Node struct {
	// ID is the repmgr node id. Must be >= 1.
	ID int

	// Name is the node name, normally the pod name.
	Name string

	// Hostname is the address peers use to reach this node.
	Hostname string

	// PGMajor is the PostgreSQL major version.
	PGMajor string

	// DataDir is the PGDATA directory.
	DataDir string
}

// RenderConfig produces the repmgr.conf content for the node. The output
// is deterministic for a fixed node, since the file is rewritten on
// every boot.
func RenderConfig(node Node) string {
	binDir := specs.BinDir(node.PGMajor)
	ctl := fmt.Sprintf("pg_ctlcluster %s %s", node.PGMajor, specs.ClusterName)

	var b strings.Builder
	b.WriteString("# This file is maintained by the PostgreSQL k8s charm\n")
	b.WriteString("\n")
	fmt.Fprintf(&b, "node_id=%d\n", node.ID)
	fmt.Fprintf(&b, "node_name='%s'\n", node.Name)
	fmt.Fprintf(&b, "data_directory='%s'\n", node.DataDir)
	b.WriteString("\n")
	fmt.Fprintf(&b, "pg_bindir='%s'\n", binDir)
	fmt.Fprintf(&b, "repmgr_bindir='%s'\n", binDir)
	b.WriteString("\n")
	b.WriteString("log_level='INFO'\n")
	b.WriteString("log_facility='STDERR'\n")
	fmt.Fprintf(&b, "log_file='%s'\n", specs.RepmgrLogPath)
	b.WriteString("log_status_interval=300\n")
	b.WriteString("\n")
	b.WriteString("# Secret pulled from ~/.pgpass\n")
	fmt.Fprintf(&b, "conninfo='host=%s user=repmgr dbname=repmgr connect_timeout=2'\n", node.Hostname)
	b.WriteString("\n")
	fmt.Fprintf(&b, "service_start_command   = '%s start'\n", ctl)
	fmt.Fprintf(&b, "service_stop_command    = '%s stop'\n", ctl)
	fmt.Fprintf(&b, "service_restart_command = '%s restart'\n", ctl)
	fmt.Fprintf(&b, "service_reload_command  = '%s reload'\n", ctl)
	fmt.Fprintf(&b, "service_promote_command = '%s promote'\n", ctl)
	b.WriteString("\n")
	b.WriteString("primary_visibility_consensus=true\n")
	b.WriteString("standby_disconnect_on_failover=true\n")
	b.WriteString("standby_reconnect_timeout=180\n")
	b.WriteString("node_rejoin_timeout=180\n")
	b.WriteString("\n")
	b.WriteString("failover=automatic\n")
	b.WriteString("promote_command='/usr/local/bin/manager promote'\n")
	b.WriteString("follow_command='/usr/local/bin/manager follow %n'\n")
	b.WriteString("\n")
	b.WriteString("monitoring_history=yes\n")

	return b.String()
}

// WriteConfig renders and atomically writes repmgr.conf to path.
func WriteConfig(path string, node Node) error {
	return fileutils.WriteFileAtomic(path, []byte(RenderConfig(node)), specs.ConfFileMode)
}
