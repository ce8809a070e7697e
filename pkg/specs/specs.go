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

// Package specs contains the filesystem layout and fixed parameters of the
// PostgreSQL + repmgr container image.
package specs

import "path/filepath"

const (
	// MountRoot is the parent of all persistent volume mounts.
	MountRoot = "/srv"

	// DataRoot contains the PostgreSQL data directories, one per major version.
	DataRoot = "/srv/pgdata"

	// ConfRoot contains the PostgreSQL and repmgr configuration trees.
	ConfRoot = "/srv/pgconf"

	// LogDirectory is where PostgreSQL and repmgr write their log files.
	LogDirectory = "/var/log/postgresql"

	// SocketDirectory is the runtime directory holding the Unix sockets
	// and pid files. Recreated empty by the host on every boot.
	SocketDirectory = "/var/run/postgresql"

	// RepmgrConfPath is where the generated repmgr configuration lands.
	RepmgrConfPath = "/srv/pgconf/repmgr.conf"

	// RepmgrLogPath is the repmgr daemon log file, kept on the persistent
	// log volume because its history may be needed for disaster recovery.
	RepmgrLogPath = "/var/log/postgresql/repmgr.log"

	// PostgresUser is the system user the database runs as.
	PostgresUser = "postgres"

	// PostgresGroup is the system group the database runs as.
	PostgresGroup = "postgres"

	// RootUser owns the shared mount points.
	RootUser = "root"

	// PostgresPort is the fixed port the cluster listens on.
	PostgresPort = 5432

	// ClusterName is the pg_createcluster cluster name.
	ClusterName = "main"

	// Locale is the fixed locale used when initializing a cluster.
	Locale = "en_US.UTF-8"

	// DefaultPGMajor is used when the image does not export PG_MAJOR.
	DefaultPGMajor = "12"
)

const (
	// MountRootMode is the mode enforced on MountRoot every boot.
	MountRootMode = 0o775

	// LogDirectoryMode carries the sticky bit so repmgr running as
	// postgres can create log files next to the PostgreSQL ones.
	LogDirectoryMode = 0o1775

	// SocketDirectoryMode carries the setgid bit so sockets and pid
	// files stay group-accessible.
	SocketDirectoryMode = 0o2775

	// PgDataMode is the mode required by PostgreSQL on the data directory.
	PgDataMode = 0o750

	// PgDataParentMode is the mode for intermediate directories created
	// on the way to the data directory.
	PgDataParentMode = 0o755

	// ConfFileMode is the mode of generated configuration fragments.
	ConfFileMode = 0o644

	// PgPassMode is the mode libpq requires on password files.
	PgPassMode = 0o600
)

// ConfDir returns the Debian-layout configuration directory for the given
// PostgreSQL major version.
func ConfDir(pgMajor string) string {
	return filepath.Join(ConfRoot, pgMajor, ClusterName)
}

// ConfFragmentPath returns the path of the generated postgresql.conf
// override fragment for the given major version.
func ConfFragmentPath(pgMajor string) string {
	return filepath.Join(ConfDir(pgMajor), "conf.d", "juju_charm.conf")
}

// HBAConfPath returns the pg_hba.conf path for the given major version.
func HBAConfPath(pgMajor string) string {
	return filepath.Join(ConfDir(pgMajor), "pg_hba.conf")
}

// BinDir returns the PostgreSQL binary directory for the given major version.
func BinDir(pgMajor string) string {
	return filepath.Join("/usr/lib/postgresql", pgMajor, "bin")
}

// StandbySignalPath returns the path of the standby.signal file marking a
// data directory as following a primary.
func StandbySignalPath(pgData string) string {
	return filepath.Join(pgData, "standby.signal")
}

// PostmasterPidPath returns the path of the postmaster pid file inside the
// data directory.
func PostmasterPidPath(pgData string) string {
	return filepath.Join(pgData, "postmaster.pid")
}
