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
	"context"
	"errors"
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/stub42/charm-k8s-postgresql/pkg/management/execlog"
)

type recordedCommand struct {
	name string
	args []string
}

// exitError mimics the exit-code carrying error returned by os/exec.
type exitError struct {
	code int
}

func (e *exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

// ExitCode implements the same accessor as exec.ExitError.
func (e *exitError) ExitCode() int { return e.code }

var _ = Describe("repmgr command invocation", func() {
	var (
		commands []recordedCommand
		mgr      *Manager
	)

	record := func(errs ...error) execlog.Runner {
		call := 0
		return execlog.RunnerFunc(func(_ context.Context, name string, args ...string) error {
			commands = append(commands, recordedCommand{name: name, args: args})
			var err error
			if call < len(errs) {
				err = errs[call]
			}
			call++
			return err
		})
	}

	BeforeEach(func() {
		commands = nil
	})

	It("runs repmgr as the postgres user with the conf file", func() {
		mgr = NewManagerWithRunner("/srv/pgconf/repmgr.conf", record())
		Expect(mgr.RegisterPrimary(context.Background())).To(Succeed())

		Expect(commands).To(HaveLen(1))
		Expect(commands[0].name).To(Equal("sudo"))
		Expect(commands[0].args).To(Equal([]string{
			"-u", "postgres", "-EH", "--",
			"repmgr", "-f", "/srv/pgconf/repmgr.conf",
			"primary", "register", "--force",
		}))
	})

	It("retries a registration that fails transiently", func() {
		mgr = NewManagerWithRunner("/srv/pgconf/repmgr.conf",
			record(errors.New("connection refused"), errors.New("connection refused"), nil))
		Expect(mgr.RegisterStandby(context.Background(), "postgresql-0")).To(Succeed())
		Expect(len(commands)).To(Equal(3))
	})

	It("wipes the data directory before cloning", func() {
		mgr = NewManagerWithRunner("/srv/pgconf/repmgr.conf", record())
		Expect(mgr.CloneFromPrimary(context.Background(), "postgresql-0", "/srv/pgdata/12/main")).To(Succeed())

		Expect(commands).To(HaveLen(2))
		Expect(commands[0].name).To(Equal("rm"))
		Expect(commands[0].args).To(Equal([]string{"-rf", "/srv/pgdata/12/main"}))
		Expect(commands[1].args).To(ContainElements("standby", "clone", "--fast-checkpoint"))
	})

	It("passes the upstream node id to follow", func() {
		mgr = NewManagerWithRunner("/srv/pgconf/repmgr.conf", record())
		Expect(mgr.FollowNode(context.Background(), 3)).To(Succeed())
		Expect(commands[0].args).To(ContainElement("--upstream-node-id=3"))
	})

	It("maps documented rejoin exit codes to descriptive errors", func() {
		failure := &exitError{code: 4}
		mgr = NewManagerWithRunner("/srv/pgconf/repmgr.conf",
			record(failure, nil))

		err := mgr.Rejoin(context.Background(), "postgresql-0")
		// Second attempt succeeds; the mapped error only drove the retry.
		Expect(err).ToNot(HaveOccurred())
		Expect(len(commands)).To(Equal(2))
	})
})

var _ = Describe("exit code extraction", func() {
	It("finds the exit code through wrapped errors", func() {
		wrapped := fmt.Errorf("repmgr failed: %w", &exitError{code: 24})
		Expect(exitCode(wrapped)).To(Equal(24))
	})

	It("returns -1 when no exit code is carried", func() {
		Expect(exitCode(errors.New("plain"))).To(Equal(-1))
	})
})
