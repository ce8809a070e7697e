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

package postgres

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/stub42/charm-k8s-postgresql/pkg/management/execlog"
)

// recordedCommand is one command captured by the fake runner.
type recordedCommand struct {
	name string
	args []string
}

func newFakeRunner(commands *[]recordedCommand, failWith error) execlog.Runner {
	return execlog.RunnerFunc(func(_ context.Context, name string, args ...string) error {
		*commands = append(*commands, recordedCommand{name: name, args: args})
		return failWith
	})
}

var _ = Describe("Cluster lifecycle", func() {
	var (
		tmpDir   string
		commands []recordedCommand
		cluster  *Cluster
	)

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "instance-test")
		Expect(err).ToNot(HaveOccurred())
		commands = nil
		cluster = NewCluster("12", filepath.Join(tmpDir, "pgdata", "12")).
			WithRunner(newFakeRunner(&commands, nil))
	})

	AfterEach(func() {
		_ = os.RemoveAll(tmpDir)
	})

	It("reports a missing data directory as not existing", func() {
		exists, err := cluster.Exists()
		Expect(err).ToNot(HaveOccurred())
		Expect(exists).To(BeFalse())
	})

	It("reports an existing data directory", func() {
		Expect(os.MkdirAll(cluster.DataDir, 0o700)).To(Succeed())
		exists, err := cluster.Exists()
		Expect(err).ToNot(HaveOccurred())
		Expect(exists).To(BeTrue())
	})

	It("invokes pg_createcluster with the fixed locale and port", func() {
		Expect(cluster.Create(context.Background())).To(Succeed())

		Expect(commands).To(HaveLen(1))
		Expect(commands[0].name).To(Equal("pg_createcluster"))
		Expect(commands[0].args).To(Equal([]string{
			"12", "main",
			"--locale=en_US.UTF-8",
			"--port=5432",
			"--datadir=" + cluster.DataDir,
			"--",
			"--auth-local=trust",
			"--auth-host=scram-sha-256",
		}))
	})

	It("propagates tool failure from Create", func() {
		cluster.WithRunner(newFakeRunner(&commands, fmt.Errorf("exit status 1")))
		Expect(cluster.Create(context.Background())).ToNot(Succeed())
	})

	It("starts and stops through pg_ctlcluster", func() {
		Expect(cluster.Start(context.Background())).To(Succeed())
		Expect(cluster.Stop(context.Background())).To(Succeed())

		Expect(commands).To(HaveLen(2))
		Expect(commands[0].name).To(Equal("pg_ctlcluster"))
		Expect(commands[0].args).To(Equal([]string{"12", "main", "start"}))
		Expect(commands[1].args).To(Equal([]string{"12", "main", "stop"}))
	})

	It("detects a standby data directory", func() {
		Expect(os.MkdirAll(cluster.DataDir, 0o700)).To(Succeed())

		standby, err := cluster.IsStandby()
		Expect(err).ToNot(HaveOccurred())
		Expect(standby).To(BeFalse())

		signal := filepath.Join(cluster.DataDir, "standby.signal")
		Expect(os.WriteFile(signal, []byte{}, 0o600)).To(Succeed())

		standby, err = cluster.IsStandby()
		Expect(err).ToNot(HaveOccurred())
		Expect(standby).To(BeTrue())
	})
})

var _ = Describe("Postmaster detection", func() {
	var (
		tmpDir  string
		cluster *Cluster
	)

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "instance-test")
		Expect(err).ToNot(HaveOccurred())
		cluster = NewCluster("12", tmpDir)
	})

	AfterEach(func() {
		_ = os.RemoveAll(tmpDir)
	})

	It("returns zero without a pid file", func() {
		pid, err := cluster.PostmasterPID()
		Expect(err).ToNot(HaveOccurred())
		Expect(pid).To(BeZero())

		running, err := cluster.IsRunning()
		Expect(err).ToNot(HaveOccurred())
		Expect(running).To(BeFalse())
	})

	It("parses the pid from postmaster.pid", func() {
		pidFile := filepath.Join(tmpDir, "postmaster.pid")
		content := fmt.Sprintf("%d\n%s\n1234567890\n5432\n", os.Getpid(), tmpDir)
		Expect(os.WriteFile(pidFile, []byte(content), 0o600)).To(Succeed())

		pid, err := cluster.PostmasterPID()
		Expect(err).ToNot(HaveOccurred())
		Expect(pid).To(Equal(os.Getpid()))

		running, err := cluster.IsRunning()
		Expect(err).ToNot(HaveOccurred())
		Expect(running).To(BeTrue())
	})

	It("rejects a malformed pid file", func() {
		pidFile := filepath.Join(tmpDir, "postmaster.pid")
		Expect(os.WriteFile(pidFile, []byte("not-a-pid\n"), 0o600)).To(Succeed())

		_, err := cluster.PostmasterPID()
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("Connection strings", func() {
	It("renders keywords in sorted order", func() {
		conn := ConnectionString{
			"user":   "repmgr",
			"dbname": "repmgr",
			"host":   "/var/run/postgresql",
			"port":   "5432",
		}
		Expect(conn.String()).To(Equal(
			"dbname=repmgr host=/var/run/postgresql port=5432 user=repmgr"))
	})

	It("quotes values containing spaces or quotes", func() {
		conn := ConnectionString{"password": "sec ret'"}
		Expect(conn.String()).To(Equal(`password='sec ret\''`))
	})

	It("builds local socket parameters", func() {
		conn := LocalConnectionString("/var/run/postgresql", "postgres", "postgres", 5432)
		Expect(conn.String()).To(Equal(
			"dbname=postgres host=/var/run/postgresql port=5432 user=postgres"))
	})
})
