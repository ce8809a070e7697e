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

package disk

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "pgcharm"
	subsystem = "disk"
)

// Metrics contains all disk-related Prometheus metrics.
type Metrics struct {
	TotalBytes     *prometheus.GaugeVec
	UsedBytes      *prometheus.GaugeVec
	AvailableBytes *prometheus.GaugeVec
	PercentUsed    *prometheus.GaugeVec

	InodesTotal *prometheus.GaugeVec
	InodesUsed  *prometheus.GaugeVec
	InodesFree  *prometheus.GaugeVec
}

// NewMetrics creates the disk metrics, labeled by volume type.
func NewMetrics() *Metrics {
	labels := []string{"volume_type"}

	return &Metrics{
		TotalBytes: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "total_bytes",
				Help:      "Total capacity of the volume in bytes",
			},
			labels,
		),
		UsedBytes: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "used_bytes",
				Help:      "Used space on the volume in bytes",
			},
			labels,
		),
		AvailableBytes: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "available_bytes",
				Help:      "Available space on the volume in bytes",
			},
			labels,
		),
		PercentUsed: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "percent_used",
				Help:      "Percentage of volume space used",
			},
			labels,
		),
		InodesTotal: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "inodes_total",
				Help:      "Total inodes on the volume",
			},
			labels,
		),
		InodesUsed: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "inodes_used",
				Help:      "Used inodes on the volume",
			},
			labels,
		),
		InodesFree: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "inodes_free",
				Help:      "Free inodes on the volume",
			},
			labels,
		),
	}
}

// Register registers all metrics with the given registry.
func (m *Metrics) Register(registry prometheus.Registerer) {
	registry.MustRegister(
		m.TotalBytes,
		m.UsedBytes,
		m.AvailableBytes,
		m.PercentUsed,
		m.InodesTotal,
		m.InodesUsed,
		m.InodesFree,
	)
}

// Update sets the metric values for one probed volume.
func (m *Metrics) Update(result *VolumeProbeResult) {
	volume := string(result.VolumeType)

	m.TotalBytes.WithLabelValues(volume).Set(float64(result.Stats.TotalBytes))
	m.UsedBytes.WithLabelValues(volume).Set(float64(result.Stats.UsedBytes))
	m.AvailableBytes.WithLabelValues(volume).Set(float64(result.Stats.AvailableBytes))
	m.PercentUsed.WithLabelValues(volume).Set(result.Stats.PercentUsed)
	m.InodesTotal.WithLabelValues(volume).Set(float64(result.Stats.InodesTotal))
	m.InodesUsed.WithLabelValues(volume).Set(float64(result.Stats.InodesUsed))
	m.InodesFree.WithLabelValues(volume).Set(float64(result.Stats.InodesFree))
}
