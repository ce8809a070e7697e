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

// Package execlog runs external tools while logging the executed command
// line and streaming their output to the container log.
package execlog

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/cloudnative-pg/machinery/pkg/log"
	"github.com/kballard/go-shellquote"
)

// Runner executes an external command and waits for it to complete.
// The production implementation is RunStreaming; tests inject fakes.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) error
}

// RunnerFunc adapts a plain function to the Runner interface.
type RunnerFunc func(ctx context.Context, name string, args ...string) error

// Run implements Runner.
func (f RunnerFunc) Run(ctx context.Context, name string, args ...string) error {
	return f(ctx, name, args...)
}

// StreamingRunner runs commands with stdout and stderr attached to the
// entrypoint's own streams, so tool diagnostics surface in the pod log.
type StreamingRunner struct{}

// NewStreamingRunner creates the production Runner.
func NewStreamingRunner() *StreamingRunner {
	return &StreamingRunner{}
}

// Run implements Runner.
func (r *StreamingRunner) Run(ctx context.Context, name string, args ...string) error {
	contextLogger := log.FromContext(ctx)
	contextLogger.Info("running command",
		"command", shellquote.Join(append([]string{name}, args...)...))

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s failed: %w", name, err)
	}
	return nil
}

// RunCapturing runs a command and returns its combined output. Used when
// the caller needs the tool's output rather than just its exit status.
func RunCapturing(ctx context.Context, name string, args ...string) (string, error) {
	contextLogger := log.FromContext(ctx)
	contextLogger.Debug("running command",
		"command", shellquote.Join(append([]string{name}, args...)...))

	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("%s failed: %w", name, err)
	}
	return string(out), nil
}
