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

var _ = Describe("repmgr.conf rendering", func() {
	node := Node{
		ID:       1,
		Name:     "postgresql-0",
		Hostname: "postgresql-postgresql-0",
		PGMajor:  "12",
		DataDir:  "/srv/pgdata/12/main",
	}

	It("identifies the node and its data directory", func() {
		content := RenderConfig(node)
		Expect(content).To(ContainSubstring("node_id=1\n"))
		Expect(content).To(ContainSubstring("node_name='postgresql-0'\n"))
		Expect(content).To(ContainSubstring("data_directory='/srv/pgdata/12/main'\n"))
		Expect(content).To(ContainSubstring(
			"conninfo='host=postgresql-postgresql-0 user=repmgr dbname=repmgr connect_timeout=2'\n"))
	})

	It("points service commands at pg_ctlcluster", func() {
		content := RenderConfig(node)
		Expect(content).To(ContainSubstring("service_start_command   = 'pg_ctlcluster 12 main start'\n"))
		Expect(content).To(ContainSubstring("service_promote_command = 'pg_ctlcluster 12 main promote'\n"))
	})

	It("enables automatic failover with the manager hooks", func() {
		content := RenderConfig(node)
		Expect(content).To(ContainSubstring("failover=automatic\n"))
		Expect(content).To(ContainSubstring("promote_command='/usr/local/bin/manager promote'\n"))
		Expect(content).To(ContainSubstring("follow_command='/usr/local/bin/manager follow %n'\n"))
	})

	It("uses the versioned binary directories", func() {
		content := RenderConfig(Node{ID: 2, Name: "n", Hostname: "h", PGMajor: "14", DataDir: "/d"})
		Expect(content).To(ContainSubstring("pg_bindir='/usr/lib/postgresql/14/bin'\n"))
		Expect(content).To(ContainSubstring("repmgr_bindir='/usr/lib/postgresql/14/bin'\n"))
	})

	It("is byte-identical across repeated renders", func() {
		Expect(RenderConfig(node)).To(Equal(RenderConfig(node)))
	})

	It("writes the file with configuration mode", func() {
		tmpDir, err := os.MkdirTemp("", "repmgr-conf-test")
		Expect(err).ToNot(HaveOccurred())
		defer func() { _ = os.RemoveAll(tmpDir) }()

		path := filepath.Join(tmpDir, "repmgr.conf")
		Expect(WriteConfig(path, node)).To(Succeed())

		info, err := os.Stat(path)
		Expect(err).ToNot(HaveOccurred())
		Expect(info.Mode().Perm()).To(Equal(os.FileMode(0o644)))

		content, err := os.ReadFile(path)
		Expect(err).ToNot(HaveOccurred())
		Expect(string(content)).To(Equal(RenderConfig(node)))
	})
})
