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

package bootstrap

import (
	"context"
	"fmt"

	"github.com/cloudnative-pg/machinery/pkg/log"
)

// Step is a named stage of the bootstrap sequence.
type Step struct {
	// Name identifies the step in logs and failure diagnostics.
	Name string

	// Run executes the step.
	Run func(ctx context.Context) error
}

// Pipeline runs steps in order, stopping at the first failure.
type Pipeline struct {
	steps []Step
}

// NewPipeline creates a Pipeline over the given steps.
func NewPipeline(steps ...Step) *Pipeline {
	return &Pipeline{steps: steps}
}

// Run executes every step in order. The first failing step aborts the
// remainder, and its name is carried in the returned error.
func (p *Pipeline) Run(ctx context.Context) error {
	contextLogger := log.FromContext(ctx)

	for _, step := range p.steps {
		contextLogger.Info("running bootstrap step", "step", step.Name)
		if err := step.Run(ctx); err != nil {
			contextLogger.Error(err, "bootstrap step failed", "step", step.Name)
			return fmt.Errorf("bootstrap step %s: %w", step.Name, err)
		}
	}

	return nil
}
