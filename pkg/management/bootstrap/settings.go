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

// Package bootstrap runs the container entrypoint sequence: volume
// permission repair, environment checks, at-most-once cluster
// initialization and configuration fragment emission. Every step is
// idempotent so the entrypoint can run on every container boot.
package bootstrap

import (
	"errors"
	"os"
	"strconv"

	"github.com/cloudnative-pg/machinery/pkg/log"

	"github.com/stub42/charm-k8s-postgresql/pkg/specs"
)

// Environment variables consumed by the entrypoint.
const (
	// EnvPGData is the PostgreSQL data directory. Required.
	EnvPGData = "PGDATA"

	// EnvPGMajor is the PostgreSQL major version baked into the image.
	EnvPGMajor = "PG_MAJOR"

	// EnvPodName is the stateful set pod name, e.g. "postgresql-0".
	EnvPodName = "JUJU_POD_NAME"

	// EnvApplication is the application name the per-pod services are
	// named after.
	EnvApplication = "JUJU_APPLICATION"

	// EnvNamespace is the Kubernetes namespace the pod runs in.
	EnvNamespace = "JUJU_POD_NAMESPACE"

	// EnvExpectedUnits is the number of cluster members the
	// orchestrator intends to run.
	EnvExpectedUnits = "JUJU_EXPECTED_UNITS"

	// EnvAdminSecretPath overrides the mounted repmgr credential path.
	EnvAdminSecretPath = "REPMGR_PASSWORD_FILE"
)

// DefaultAdminSecretPath is where the orchestrator mounts the repmgr
// credential when one is provided.
const DefaultAdminSecretPath = "/etc/pgcharm/secrets/repmgr-password"

// ErrMissingPGData is returned when PGDATA is unset or empty. The
// entrypoint maps it to exit code 1.
var ErrMissingPGData = errors.New("PGDATA environment variable is not set")

// Settings carries the environment-derived entrypoint configuration.
type Settings struct {
	// PGData is the data directory. Checked by the pipeline, not here,
	// so the missing-PGDATA failure surfaces as a named step.
	PGData string

	// PGMajor is the PostgreSQL major version, e.g. "12".
	PGMajor string

	// PodName is this pod's name. Falls back to the hostname when the
	// orchestrator does not export it.
	PodName string

	// Application is the application name.
	Application string

	// Namespace is the Kubernetes namespace.
	Namespace string

	// ExpectedUnits is the intended cluster size, at least 1.
	ExpectedUnits int

	// AdminSecretPath is the mounted repmgr credential file.
	AdminSecretPath string
}

// LoadSettings reads Settings from the environment through getenv,
// normally os.Getenv. Missing optional values get image defaults;
// PGDATA validation is deferred to the pipeline.
func LoadSettings(getenv func(string) string) Settings {
	settings := Settings{
		PGData:          getenv(EnvPGData),
		PGMajor:         getenv(EnvPGMajor),
		PodName:         getenv(EnvPodName),
		Application:     getenv(EnvApplication),
		Namespace:       getenv(EnvNamespace),
		ExpectedUnits:   1,
		AdminSecretPath: getenv(EnvAdminSecretPath),
	}

	if settings.PGMajor == "" {
		settings.PGMajor = specs.DefaultPGMajor
	}
	if settings.AdminSecretPath == "" {
		settings.AdminSecretPath = DefaultAdminSecretPath
	}
	if settings.PodName == "" {
		if hostname, err := os.Hostname(); err == nil {
			settings.PodName = hostname
		}
	}

	if raw := getenv(EnvExpectedUnits); raw != "" {
		units, err := strconv.Atoi(raw)
		if err != nil || units < 1 {
			log.Warning("ignoring malformed expected units",
				"value", raw)
		} else {
			settings.ExpectedUnits = units
		}
	}

	return settings
}
