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

// Package election decides which node bootstraps as the replication
// primary. The policy is deliberately pluggable: upstream never settled
// on a single leader-election scheme, so deployments choose a resolver
// instead of the entrypoint guessing one.
package election

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Role is the replication role a node bootstraps into.
type Role string

const (
	// RolePrimary initializes or serves the writable cluster.
	RolePrimary Role = "primary"
	// RoleStandby clones and follows the primary.
	RoleStandby Role = "standby"
)

// ErrNoPrimary is returned while no primary is known yet. Callers
// normally retry until one appears.
var ErrNoPrimary = errors.New("no primary available")

// Resolver determines this node's role and the primary's address.
type Resolver interface {
	// Resolve returns the role this node should take.
	Resolve(ctx context.Context) (Role, error)

	// PrimaryHostname returns the address standbys use to reach the
	// primary, or ErrNoPrimary when none is known.
	PrimaryHostname(ctx context.Context) (string, error)
}

// StaticResolver takes the role verbatim from configuration. Used when
// the orchestrator already decided the topology.
type StaticResolver struct {
	Role    Role
	Primary string
}

// Resolve implements Resolver.
func (r StaticResolver) Resolve(context.Context) (Role, error) {
	switch r.Role {
	case RolePrimary, RoleStandby:
		return r.Role, nil
	default:
		return "", fmt.Errorf("unknown role %q", r.Role)
	}
}

// PrimaryHostname implements Resolver.
func (r StaticResolver) PrimaryHostname(context.Context) (string, error) {
	if r.Primary == "" {
		return "", ErrNoPrimary
	}
	return r.Primary, nil
}

// OrdinalResolver derives the role from the stateful set ordinal in the
// pod name: ordinal 0 bootstraps as primary, everything else follows it.
type OrdinalResolver struct {
	// PodName is this pod's name, e.g. "postgresql-2".
	PodName string

	// Application is the application name used to build the per-pod
	// service hostnames.
	Application string
}

// PodOrdinal extracts the trailing ordinal from a stateful set pod name.
func PodOrdinal(podName string) (int, error) {
	idx := strings.LastIndex(podName, "-")
	if idx < 0 || idx == len(podName)-1 {
		return 0, fmt.Errorf("pod name %q carries no ordinal", podName)
	}
	ordinal, err := strconv.Atoi(podName[idx+1:])
	if err != nil {
		return 0, fmt.Errorf("pod name %q carries no ordinal: %w", podName, err)
	}
	return ordinal, nil
}

// Resolve implements Resolver.
func (r OrdinalResolver) Resolve(context.Context) (Role, error) {
	ordinal, err := PodOrdinal(r.PodName)
	if err != nil {
		return "", err
	}
	if ordinal == 0 {
		return RolePrimary, nil
	}
	return RoleStandby, nil
}

// PrimaryHostname implements Resolver.
func (r OrdinalResolver) PrimaryHostname(context.Context) (string, error) {
	return PodHostname(r.Application, r.Application+"-0"), nil
}

// PodHostname returns the per-pod service name peers connect to.
func PodHostname(application, podName string) string {
	return application + "-" + podName
}
