// Package metrics - Prometheus collectors for the detection streams.
package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the process-wide counters for every stream.
type Metrics struct {
	FramesProcessed atomic.Uint64
	FramesSkipped   atomic.Uint64
	Alarms          atomic.Uint64
	InferenceErrors atomic.Uint64
	ActiveStreams   atomic.Int64

	alarmsByStream *prometheus.CounterVec
	stageLatency   *prometheus.HistogramVec

	registry *prometheus.Registry
}

// New creates a Metrics instance with its own registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		alarmsByStream: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "helmet_stream_alarms_total",
			Help: "Alarms fired per stream",
		}, []string{"stream"}),
		stageLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "helmet_stage_duration_seconds",
			Help:    "Duration of each frame pipeline stage",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"stage"}),
	}
	m.register()
	return m
}

func (m *Metrics) register() {
	counters := []struct {
		name, help string
		value      *atomic.Uint64
	}{
		{"helmet_frames_processed_total", "Frames run through detection", &m.FramesProcessed},
		{"helmet_frames_skipped_total", "Frames passed through by the sample interval", &m.FramesSkipped},
		{"helmet_alarms_total", "Alarms fired across all streams", &m.Alarms},
		{"helmet_inference_errors_total", "Frames whose detection failed", &m.InferenceErrors},
	}
	for _, c := range counters {
		value := c.value
		m.registry.MustRegister(prometheus.NewCounterFunc(
			prometheus.CounterOpts{Name: c.name, Help: c.help},
			func() float64 { return float64(value.Load()) },
		))
	}

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "helmet_active_streams",
			Help: "Streams currently running",
		},
		func() float64 { return float64(m.ActiveStreams.Load()) },
	))
	m.registry.MustRegister(m.alarmsByStream, m.stageLatency)
}

// Frame records one frame, either processed or skipped.
func (m *Metrics) Frame(_ string, skipped bool) {
	if skipped {
		m.FramesSkipped.Add(1)
		return
	}
	m.FramesProcessed.Add(1)
}

// Alarm records a fired alarm.
func (m *Metrics) Alarm(stream string) {
	m.Alarms.Add(1)
	m.alarmsByStream.WithLabelValues(stream).Inc()
}

// Error records a failed frame.
func (m *Metrics) Error(string) {
	m.InferenceErrors.Add(1)
}

// StreamStarted and StreamStopped track running streams.
func (m *Metrics) StreamStarted(string) { m.ActiveStreams.Add(1) }

func (m *Metrics) StreamStopped(string) { m.ActiveStreams.Add(-1) }

// ObserveStage implements profiler.StageObserver.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	m.stageLatency.WithLabelValues(stage).Observe(d.Seconds())
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
