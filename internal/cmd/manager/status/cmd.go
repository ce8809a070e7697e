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

// Package status implements the "status" subcommand reporting the local
// node's bootstrap and replication state.
package status

import (
	"os"

	"github.com/spf13/cobra"
)

// NewCmd creates the "status" subcommand.
func NewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Report the local node's bootstrap and replication state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			output, err := cmd.Flags().GetString("output")
			if err != nil {
				return err
			}

			info, err := Collect(os.Getenv)
			if err != nil {
				return err
			}
			return info.Print(OutputFormat(output))
		},
	}

	cmd.Flags().StringP(
		"output", "o", "text", "Output format. One of text|json")

	return cmd
}
