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
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Password resolution", func() {
	var tmpDir, secretPath, statePath string

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "pgpass-test")
		Expect(err).ToNot(HaveOccurred())
		secretPath = filepath.Join(tmpDir, "pgsql-admin-password")
		statePath = filepath.Join(tmpDir, "generated-password")
	})

	AfterEach(func() {
		_ = os.RemoveAll(tmpDir)
	})

	It("prefers the mounted secret", func() {
		Expect(os.WriteFile(secretPath, []byte("s3cret\n"), 0o600)).To(Succeed())

		pw, err := ResolvePassword(secretPath, statePath)
		Expect(err).ToNot(HaveOccurred())
		Expect(pw).To(Equal("s3cret"))

		_, err = os.Stat(statePath)
		Expect(os.IsNotExist(err)).To(BeTrue())
	})

	It("generates and persists a password when no secret is mounted", func() {
		pw, err := ResolvePassword(secretPath, statePath)
		Expect(err).ToNot(HaveOccurred())
		Expect(pw).To(HaveLen(generatedPasswordLength))

		info, err := os.Stat(statePath)
		Expect(err).ToNot(HaveOccurred())
		Expect(info.Mode().Perm()).To(Equal(os.FileMode(0o600)))

		// A second boot resolves the same credential.
		again, err := ResolvePassword(secretPath, statePath)
		Expect(err).ToNot(HaveOccurred())
		Expect(again).To(Equal(pw))
	})
})

var _ = Describe("pgpass files", func() {
	var tmpDir string

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "pgpass-test")
		Expect(err).ToNot(HaveOccurred())
	})

	AfterEach(func() {
		_ = os.RemoveAll(tmpDir)
	})

	It("grants database and replication access for the repmgr user", func() {
		content := PgpassContent("pw")
		Expect(content).To(ContainSubstring("*:*:repmgr:repmgr:pw\n"))
		Expect(content).To(ContainSubstring("*:*:replication:repmgr:pw\n"))
	})

	It("overwrites every target with restrictive permissions", func() {
		first := filepath.Join(tmpDir, "root-pgpass")
		second := filepath.Join(tmpDir, "postgres-pgpass")
		Expect(os.WriteFile(second, []byte("*:*:repmgr:repmgr:stale\n"), 0o600)).To(Succeed())

		Expect(WritePgpassFiles("fresh", first, second)).To(Succeed())

		for _, path := range []string{first, second} {
			content, err := os.ReadFile(path)
			Expect(err).ToNot(HaveOccurred())
			Expect(string(content)).To(Equal(PgpassContent("fresh")))

			info, err := os.Stat(path)
			Expect(err).ToNot(HaveOccurred())
			Expect(info.Mode().Perm()).To(Equal(os.FileMode(0o600)))
		}
	})
})
