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

// Package supervisor keeps the container alive after bootstrap: either
// by supervising the long-running replication daemon as a child process
// with signal forwarding, or by holding idle in the minimal image
// variant that only ships the database server.
package supervisor

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudnative-pg/machinery/pkg/log"
	"github.com/kballard/go-shellquote"
	"go.uber.org/multierr"
)

// idleInterval is how often the hold loop reports that it is alive.
const idleInterval = 10 * time.Minute

// Supervisor launches a long-running child process in place of the
// shell exec hand-off: the child is monitored, termination signals are
// forwarded to it, and its exit status is surfaced to the caller.
type Supervisor struct {
	name string
	args []string

	// signals forwarded to the child. SIGTERM is what the
	// orchestrator sends on container stop.
	signals []os.Signal
}

// New creates a Supervisor for the given command line.
func New(name string, args ...string) *Supervisor {
	return &Supervisor{
		name:    name,
		args:    args,
		signals: []os.Signal{syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP},
	}
}

// Run starts the child and blocks until it exits or the context is
// cancelled. On cancellation the child receives SIGTERM and Run waits
// for it to finish. The child's exit error, if any, is returned.
func (s *Supervisor) Run(ctx context.Context) error {
	contextLogger := log.FromContext(ctx)
	contextLogger.Info("supervising process",
		"command", shellquote.Join(append([]string{s.name}, s.args...)...))

	cmd := exec.Command(s.name, s.args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, s.signals...)
	defer signal.Stop(sigCh)

	if err := cmd.Start(); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	for {
		select {
		case sig := <-sigCh:
			contextLogger.Info("forwarding signal to supervised process",
				"signal", sig.String())
			if err := cmd.Process.Signal(sig); err != nil {
				contextLogger.Error(err, "could not forward signal")
			}

		case <-ctx.Done():
			contextLogger.Info("shutting down supervised process")
			if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
				contextLogger.Error(err, "could not signal supervised process")
			}
			return multierr.Append(ctx.Err(), ignoreTermination(<-done))

		case err := <-done:
			contextLogger.Info("supervised process exited")
			return err
		}
	}
}

// ExitCode extracts the child's exit code from a Run error. It returns
// 0 for nil and -1 when the error carries no exit code.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// ignoreTermination drops the error a child reports after being killed
// by the termination signal we just sent it.
func ignoreTermination(err error) error {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok &&
			status.Signaled() && status.Signal() == syscall.SIGTERM {
			return nil
		}
	}
	return err
}

// Hold blocks until the context is cancelled, keeping the container
// alive while doing no work. Used by the minimal image variant where an
// external process manages the database.
func Hold(ctx context.Context) {
	contextLogger := log.FromContext(ctx)
	ticker := time.NewTicker(idleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			contextLogger.Info("hold released")
			return
		case <-ticker.C:
			contextLogger.Debug("idling")
		}
	}
}
