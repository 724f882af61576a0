// Package metrics exposes Prometheus collectors for the detection pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "bisindo"

// Metrics holds the collectors for one process. Each instance owns its
// registry so tests can build as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	framesTotal      *prometheus.CounterVec
	inferenceSeconds prometheus.Histogram
	detectionsTotal  *prometheus.CounterVec
	snapshotsTotal   *prometheus.CounterVec
	streamState      *prometheus.GaugeVec
	threshold        prometheus.Gauge
}

// New creates the collectors and registers them, together with the Go
// runtime and process collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		framesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "frames_processed_total",
				Help:      "Total number of frames passed through the detector",
			},
			[]string{"status"}, // status: success, error
		),

		inferenceSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "inference_duration_seconds",
				Help:      "Time spent detecting and annotating one frame",
				Buckets:   []float64{.005, .01, .025, .05, .075, .1, .15, .25, .5, 1},
			},
		),

		detectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "detections_total",
				Help:      "Detections drawn on streamed frames, by sign",
			},
			[]string{"label"},
		),

		snapshotsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "snapshots_total",
				Help:      "Snapshot requests, by outcome",
			},
			[]string{"status"}, // status: saved, not_ready, error
		),

		streamState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "session_state",
				Help:      "1 for the current session state, 0 otherwise",
			},
			[]string{"state"},
		),

		threshold: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "confidence_threshold",
				Help:      "Confidence threshold currently applied to detections",
			},
		),
	}

	m.registry.MustRegister(
		m.framesTotal,
		m.inferenceSeconds,
		m.detectionsTotal,
		m.snapshotsTotal,
		m.streamState,
		m.threshold,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// ObserveFrame records one processed frame. labels are the signs kept after
// thresholding.
func (m *Metrics) ObserveFrame(elapsed time.Duration, labels []string, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.framesTotal.WithLabelValues("error").Inc()
		return
	}
	m.framesTotal.WithLabelValues("success").Inc()
	m.inferenceSeconds.Observe(elapsed.Seconds())
	for _, l := range labels {
		m.detectionsTotal.WithLabelValues(l).Inc()
	}
}

// ObserveSnapshot records a snapshot outcome: saved, not_ready or error.
func (m *Metrics) ObserveSnapshot(status string) {
	if m == nil {
		return
	}
	m.snapshotsTotal.WithLabelValues(status).Inc()
}

// SetState marks state as current among all known states.
func (m *Metrics) SetState(state string, all []string) {
	if m == nil {
		return
	}
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		m.streamState.WithLabelValues(s).Set(v)
	}
}

// SetThreshold records the active confidence threshold.
func (m *Metrics) SetThreshold(v float64) {
	if m == nil {
		return
	}
	m.threshold.Set(v)
}
