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
	"fmt"
	"os"
	"strings"

	"github.com/cloudnative-pg/machinery/pkg/log"
	"github.com/sethvargo/go-password/password"

	"github.com/stub42/charm-k8s-postgresql/pkg/fileutils"
	"github.com/stub42/charm-k8s-postgresql/pkg/specs"
)

const generatedPasswordLength = 32

// ResolvePassword returns the repmgr admin password. It prefers the
// orchestrator-provided secret at secretPath. When no secret is mounted
// it falls back to a previously generated password persisted at
// statePath, generating and persisting a fresh one on first boot so the
// credential survives restarts.
func ResolvePassword(secretPath, statePath string) (string, error) {
	if pw, err := readPasswordFile(secretPath); err != nil {
		return "", err
	} else if pw != "" {
		return pw, nil
	}

	if pw, err := readPasswordFile(statePath); err != nil {
		return "", err
	} else if pw != "" {
		return pw, nil
	}

	log.Warning("no admin secret mounted, generating a password",
		"statePath", statePath)
	pw, err := password.Generate(generatedPasswordLength, 10, 0, false, false)
	if err != nil {
		return "", fmt.Errorf("generating password: %w", err)
	}
	if err := fileutils.WriteFileAtomic(statePath, []byte(pw+"\n"), specs.PgPassMode); err != nil {
		return "", fmt.Errorf("persisting generated password: %w", err)
	}
	return pw, nil
}

func readPasswordFile(path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	return strings.TrimSpace(string(content)), nil
}

// PgpassContent renders the .pgpass content granting the repmgr user
// access to its database and to replication connections.
func PgpassContent(pw string) string {
	return "# This file is maintained by the PostgreSQL k8s charm\n" +
		fmt.Sprintf("*:*:repmgr:repmgr:%s\n", pw) +
		fmt.Sprintf("*:*:replication:repmgr:%s\n", pw)
}

// WritePgpassFiles overwrites each .pgpass file with the credential.
// Rewritten on every boot because a recovered volume may carry a stale
// secret from a previous deployment.
func WritePgpassFiles(pw string, paths ...string) error {
	for _, path := range paths {
		log.Info("overwriting password file", "path", path)
		if err := fileutils.WriteFileAtomic(path, []byte(PgpassContent(pw)), specs.PgPassMode); err != nil {
			return err
		}
	}
	return nil
}
