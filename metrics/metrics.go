// Copyright 2023 Fortio Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metrics exports curlloader's running totals as real Prometheus
// metrics (github.com/prometheus/client_golang), replacing the teacher's
// hand-written text/plain exporter with the ecosystem-standard client and
// registry used elsewhere in the example pack's service-style repos.
package metrics // import "fortio.org/curlloader/metrics"

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fortio.org/log"
)

// MetricsPortFlag, when non-empty, starts a /metrics Prometheus endpoint on
// that `host:port` or `:port`; empty (the default) disables it.
var MetricsPortFlag = flag.String("metrics-port", "", "If not empty, `host:port` to serve /metrics Prometheus endpoint on")

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "curlloader_requests_total",
		Help: "Total number of requests dispatched, by protocol.",
	}, []string{"proto"})

	responsesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "curlloader_responses_total",
		Help: "Total number of responses received, by protocol and status class.",
	}, []string{"proto", "class"})

	bytesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "curlloader_bytes_total",
		Help: "Total bytes transferred, by protocol and direction.",
	}, []string{"proto", "direction"})

	goroutines = promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "curlloader_goroutines",
		Help: "Current number of goroutines.",
	}, func() float64 { return float64(runtime.NumGoroutine()) })

	activeClients = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "curlloader_active_clients",
		Help: "Number of clients with an in-flight transfer, by batch.",
	}, []string{"batch"})
)

// SetActiveClients reports how many clients batchName currently has
// in-flight, called from internal/engine after every submit/handleResult.
func SetActiveClients(batchName string, n int) {
	activeClients.WithLabelValues(batchName).Set(float64(n))
}

// classLabel turns a status class int (1-5, or 0 for a transport-level
// error) into the label value used by responsesTotal.
func classLabel(class int) string {
	switch class {
	case 1:
		return "1xx"
	case 2:
		return "2xx"
	case 3:
		return "3xx"
	case 4:
		return "4xx"
	case 5:
		return "5xx"
	default:
		return "error"
	}
}

// RecordRequest folds one completed transfer into the process-wide counters,
// called from internal/engine's result handler right after internal/stats
// records the same transfer into the per-batch aggregator.
func RecordRequest(proto string, class int, bytesIn, bytesOut uint64) {
	requestsTotal.WithLabelValues(proto).Inc()
	responsesTotal.WithLabelValues(proto, classLabel(class)).Inc()
	bytesTotal.WithLabelValues(proto, "in").Add(float64(bytesIn))
	bytesTotal.WithLabelValues(proto, "out").Add(float64(bytesOut))
}

// Server is the handle returned by MaybeStart so the caller can shut the
// metrics listener down on exit.
type Server struct {
	httpServer *http.Server
}

// Close shuts the metrics HTTP server down.
func (s *Server) Close() error {
	if s == nil || s.httpServer == nil {
		return nil
	}
	return s.httpServer.Close()
}

// MaybeStart starts the /metrics endpoint in a background goroutine when
// -metrics-port is set, returning nil otherwise.
func MaybeStart() *Server {
	addr := *MetricsPortFlag
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	httpServer := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errf("metrics: server on %s exited: %v", addr, err)
		}
	}()
	log.Infof("metrics: serving /metrics on %s", addr)
	return &Server{httpServer: httpServer}
}

// Shutdown gives the metrics server a chance to drain in-flight scrapes.
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil || s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
