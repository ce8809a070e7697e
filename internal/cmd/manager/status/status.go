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

package status

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/cheynewallace/tabby"
	"github.com/logrusorgru/aurora/v4"

	"github.com/stub42/charm-k8s-postgresql/pkg/management/bootstrap"
	"github.com/stub42/charm-k8s-postgresql/pkg/management/postgres"
	"github.com/stub42/charm-k8s-postgresql/pkg/management/postgres/disk"
	"github.com/stub42/charm-k8s-postgresql/pkg/specs"
)

// OutputFormat selects the status rendering.
type OutputFormat string

const (
	// OutputFormatText renders human-readable output.
	OutputFormatText OutputFormat = "text"

	// OutputFormatJSON renders machine-readable output.
	OutputFormatJSON OutputFormat = "json"
)

// VolumeStatus is the usage of one probed volume.
type VolumeStatus struct {
	Type           string  `json:"type"`
	MountPath      string  `json:"mountPath"`
	TotalBytes     uint64  `json:"totalBytes"`
	AvailableBytes uint64  `json:"availableBytes"`
	PercentUsed    float64 `json:"percentUsed"`
}

// Info is the local node's bootstrap and replication state.
type Info struct {
	PodName       string `json:"podName"`
	Application   string `json:"application,omitempty"`
	PGMajor       string `json:"pgMajor"`
	DataDirectory string `json:"dataDirectory"`

	Initialized   bool   `json:"initialized"`
	Role          string `json:"role"`
	Running       bool   `json:"running"`
	PostmasterPID int    `json:"postmasterPID,omitempty"`

	Volumes []VolumeStatus `json:"volumes"`
}

// Collect gathers the node state from the environment and local
// filesystem.
func Collect(getenv func(string) string) (*Info, error) {
	settings := bootstrap.LoadSettings(getenv)
	cluster := postgres.NewCluster(settings.PGMajor, settings.PGData)

	info := &Info{
		PodName:       settings.PodName,
		Application:   settings.Application,
		PGMajor:       settings.PGMajor,
		DataDirectory: settings.PGData,
		Role:          "uninitialized",
	}

	if settings.PGData != "" {
		initialized, err := cluster.Exists()
		if err != nil {
			return nil, err
		}
		info.Initialized = initialized
	}

	if info.Initialized {
		isStandby, err := cluster.IsStandby()
		if err != nil {
			return nil, err
		}
		if isStandby {
			info.Role = "standby"
		} else {
			info.Role = "primary"
		}

		running, err := cluster.IsRunning()
		if err != nil {
			return nil, err
		}
		info.Running = running
		if pid, err := cluster.PostmasterPID(); err == nil {
			info.PostmasterPID = pid
		}
	}

	probe := disk.NewProbe()
	for volumeType, mountPath := range map[disk.VolumeType]string{
		disk.VolumeTypeData: specs.DataRoot,
		disk.VolumeTypeLog:  specs.LogDirectory,
		disk.VolumeTypeConf: specs.ConfRoot,
	} {
		result, err := probe.ProbeVolume(mountPath, volumeType)
		if err != nil {
			continue
		}
		info.Volumes = append(info.Volumes, VolumeStatus{
			Type:           string(volumeType),
			MountPath:      mountPath,
			TotalBytes:     result.Stats.TotalBytes,
			AvailableBytes: result.Stats.AvailableBytes,
			PercentUsed:    result.Stats.PercentUsed,
		})
	}

	return info, nil
}

// Print renders the status in the requested format.
func (info *Info) Print(format OutputFormat) error {
	switch format {
	case OutputFormatJSON:
		return info.printJSON()
	default:
		return info.printText()
	}
}

func (info *Info) printJSON() error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(info)
}

func (info *Info) printText() error {
	fmt.Printf("Node: %s\n", aurora.Bold(info.PodName))
	fmt.Printf("PostgreSQL: %s\n", info.PGMajor)
	fmt.Printf("Data Directory: %s\n\n", info.DataDirectory)

	if !info.Initialized {
		fmt.Printf("State: %s\n", aurora.Yellow("not initialized"))
		return nil
	}

	role := aurora.Green(info.Role)
	if info.Role == "standby" {
		role = aurora.Yellow(info.Role)
	}
	fmt.Printf("Role: %s\n", role)

	if info.Running {
		fmt.Printf("Server: %s (pid %d)\n", aurora.Green("running"), info.PostmasterPID)
	} else {
		fmt.Printf("Server: %s\n", aurora.Red("not running"))
	}
	fmt.Println()

	if len(info.Volumes) == 0 {
		fmt.Println(aurora.Yellow("No volumes probed"))
		return nil
	}

	fmt.Println(aurora.Bold("Volumes:"))
	t := tabby.New()
	t.AddHeader("TYPE", "MOUNT", "TOTAL", "AVAILABLE", "USED")
	for _, volume := range info.Volumes {
		t.AddLine(volume.Type, volume.MountPath,
			formatBytes(volume.TotalBytes),
			formatBytes(volume.AvailableBytes),
			fmt.Sprintf("%.1f%%", volume.PercentUsed))
	}
	t.Print()

	return nil
}

func formatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
