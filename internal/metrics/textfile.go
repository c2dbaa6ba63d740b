// Package metrics exports the outcome of a wait in the Prometheus text
// format, for node_exporter's textfile collector.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ecairns22/deploywait/internal/orchestrator"
)

// Recorder holds the gauges for one process. It uses a private registry so
// the file never contains Go runtime metrics.
type Recorder struct {
	reg *prometheus.Registry

	ready      *prometheus.GaugeVec
	elapsed    *prometheus.GaugeVec
	attempts   *prometheus.GaugeVec
	lastStatus *prometheus.GaugeVec
	finished   *prometheus.GaugeVec
}

// New creates a Recorder with all gauges registered.
func New() *Recorder {
	r := &Recorder{
		reg: prometheus.NewRegistry(),
		ready: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "deploywait_ready",
			Help: "Whether the last wait saw HTTP 200 before the timeout (1=ready, 0=timed out)",
		}, []string{"url"}),
		elapsed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "deploywait_wait_seconds",
			Help: "Duration of the last wait",
		}, []string{"url"}),
		attempts: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "deploywait_attempts",
			Help: "Attempts made in each phase of the last wait",
		}, []string{"url", "phase"}),
		lastStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "deploywait_last_http_status",
			Help: "Last HTTP status code received (0 if no response)",
		}, []string{"url"}),
		finished: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "deploywait_last_run_timestamp_seconds",
			Help: "Unix time the last wait finished",
		}, []string{"url"}),
	}
	r.reg.MustRegister(r.ready, r.elapsed, r.attempts, r.lastStatus, r.finished)
	return r
}

// Observe records a finished wait.
func (r *Recorder) Observe(res *orchestrator.WaitResult, finishedAt time.Time) {
	ready := 0.0
	if res.Ready {
		ready = 1
	}
	r.ready.WithLabelValues(res.URL).Set(ready)
	r.elapsed.WithLabelValues(res.URL).Set(res.Elapsed.Seconds())
	r.attempts.WithLabelValues(res.URL, "dns").Set(float64(res.DNSAttempts))
	r.attempts.WithLabelValues(res.URL, "http").Set(float64(res.HTTPAttempts))
	r.lastStatus.WithLabelValues(res.URL).Set(float64(res.LastStatus))
	r.finished.WithLabelValues(res.URL).Set(float64(finishedAt.Unix()))
}

// WriteFile atomically replaces path with the current values.
func (r *Recorder) WriteFile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.reg); err != nil {
		return fmt.Errorf("writing metrics to %s: %w", path, err)
	}
	return nil
}
