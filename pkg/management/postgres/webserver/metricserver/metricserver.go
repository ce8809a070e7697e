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

// Package metricserver exposes the observability endpoints of the
// entrypoint: Prometheus metrics for the mounted volumes plus HTTP
// liveness and readiness probes.
package metricserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cloudnative-pg/machinery/pkg/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stub42/charm-k8s-postgresql/pkg/management/postgres/disk"
)

// DefaultPort is the port the metric server listens on.
const DefaultPort = 9187

const shutdownTimeout = 5 * time.Second

// CheckFunc reports whether a probed condition currently holds.
type CheckFunc func(ctx context.Context) error

// MetricsServer serves /metrics, /healthz and /readyz.
type MetricsServer struct {
	server      *http.Server
	registry    *prometheus.Registry
	diskMetrics *disk.Metrics
	probe       *disk.Probe

	// volumes maps each probed volume to its mount path.
	volumes map[disk.VolumeType]string

	aliveCheck CheckFunc
	readyCheck CheckFunc
}

// New creates a MetricsServer probing the given volumes and answering
// health checks with the given check functions.
func New(
	port int,
	volumes map[disk.VolumeType]string,
	aliveCheck CheckFunc,
	readyCheck CheckFunc,
) *MetricsServer {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	diskMetrics := disk.NewMetrics()
	diskMetrics.Register(registry)

	s := &MetricsServer{
		registry:    registry,
		diskMetrics: diskMetrics,
		probe:       disk.NewProbe(),
		volumes:     volumes,
		aliveCheck:  aliveCheck,
		readyCheck:  readyCheck,
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", http.HandlerFunc(s.serveMetrics))
	mux.Handle("/healthz", http.HandlerFunc(s.serveHealthz))
	mux.Handle("/readyz", http.HandlerFunc(s.serveReadyz))

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 3 * time.Second,
	}

	return s
}

// Start serves until the context is cancelled, then shuts down
// gracefully.
func (s *MetricsServer) Start(ctx context.Context) error {
	contextLogger := log.FromContext(ctx)
	contextLogger.Info("starting metric server", "addr", s.server.Addr)

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		err := <-errCh
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// refreshDiskMetrics re-probes every volume. Probe failures are logged
// and skipped so one unmounted volume does not hide the others.
func (s *MetricsServer) refreshDiskMetrics(ctx context.Context) {
	contextLogger := log.FromContext(ctx)
	for volumeType, mountPath := range s.volumes {
		result, err := s.probe.ProbeVolume(mountPath, volumeType)
		if err != nil {
			contextLogger.Info("skipping disk probe",
				"volumeType", volumeType,
				"error", err.Error())
			continue
		}
		s.diskMetrics.Update(result)
	}
}

func (s *MetricsServer) serveMetrics(w http.ResponseWriter, r *http.Request) {
	s.refreshDiskMetrics(r.Context())
	promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
}

func (s *MetricsServer) serveHealthz(w http.ResponseWriter, r *http.Request) {
	if err := s.aliveCheck(r.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *MetricsServer) serveReadyz(w http.ResponseWriter, r *http.Request) {
	if err := s.readyCheck(r.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
