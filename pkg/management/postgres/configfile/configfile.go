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

// Package configfile renders the generated configuration fragments.
// Fragments are derived state: they are rewritten from scratch on every
// boot and must be byte-identical across runs when the environment does
// not change.
package configfile

import (
	"fmt"
	"strings"
)

// Header is the first line of every generated fragment, marking it as
// machine-maintained.
const Header = "# This file is maintained by the PostgreSQL k8s charm"

// Parameter is a single key/value setting with an optional trailing
// comment. A Parameter with an empty Key renders as a blank line, used
// to group related settings.
type Parameter struct {
	Key     string
	Value   string
	Comment string
}

// Render produces the fragment text. Parameters are emitted in the
// order given, so the output is deterministic.
func Render(params []Parameter) string {
	var b strings.Builder
	b.WriteString(Header)
	b.WriteString("\n")

	for _, p := range params {
		if p.Key == "" {
			b.WriteString("\n")
			continue
		}
		b.WriteString(p.Key)
		b.WriteString(" = ")
		b.WriteString(p.Value)
		if p.Comment != "" {
			b.WriteString("  # ")
			b.WriteString(p.Comment)
		}
		b.WriteString("\n")
	}

	return b.String()
}

// ReplicationParameters returns the override fragment layered on top of
// the stock postgresql.conf: standby reads enabled, WAL retention sized
// for replication, and repmgrd preloaded. maxWalSenders is the number of
// expected cluster members plus headroom for repmgr.
func ReplicationParameters(maxWalSenders int) []Parameter {
	return []Parameter{
		{Key: "listen_addresses", Value: "'*'"},
		{Key: "hot_standby", Value: "on"},
		{Key: "wal_level", Value: "replica"},
		{Key: "max_wal_senders", Value: fmt.Sprintf("%d", maxWalSenders),
			Comment: "expected members + repmgr + slack"},
		{Key: "wal_log_hints", Value: "on",
			Comment: "Ignored due to data checksums, but just in case"},
		{Key: "wal_keep_segments", Value: "500"},
		{Key: "archive_mode", Value: "on"},
		{Key: "archive_command", Value: "'/bin/true'"},
		{},
		{Key: "shared_preload_libraries", Value: "'repmgr'",
			Comment: "Required for using repmgrd"},
	}
}

// MaxWalSenders computes the sender budget for a cluster with the given
// number of expected members. Two slots for repmgr plus two of slack,
// matching what the replication manager needs during clone and rejoin.
func MaxWalSenders(expectedMembers int) int {
	if expectedMembers < 1 {
		expectedMembers = 1
	}
	return expectedMembers + 4
}

// HBAMarker guards the appended pg_hba.conf rules so they are added at
// most once per data directory lifetime.
const HBAMarker = "# These rules are appended by the PostgreSQL k8s charm"

// HBARules are the client and replication access rules appended to the
// stock pg_hba.conf.
func HBARules() string {
	return strings.Join([]string{
		"host all         all 0.0.0.0/0 scram-sha-256",
		"host all         all ::0/0     scram-sha-256",
		"host replication all 0.0.0.0/0 scram-sha-256",
		"host replication all ::0/0     scram-sha-256",
	}, "\n") + "\n"
}
