// Package metrics exposes pipeline counters and process gauges to Prometheus.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v4/process"
)

const namespace = "detect"

// Dispatch outcomes.
const (
	OutcomeOK      = "ok"
	OutcomeError   = "error"
	OutcomeDecode  = "decode_error"
	OutcomeInvalid = "invalid_frame"
	OutcomeSent    = "sent"
)

// Metrics holds every collector registered for one process.
type Metrics struct {
	registry *prometheus.Registry

	FramesCaptured   prometheus.Counter
	CaptureErrors    prometheus.Counter
	Dispatch         *prometheus.CounterVec
	Fallback         *prometheus.CounterVec
	Inference        *prometheus.HistogramVec
	PublishedBatches prometheus.Counter
	BackendState     prometheus.Gauge

	memUsage prometheus.Gauge
	cpuUsage prometheus.Gauge
}

// New creates and registers collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		FramesCaptured: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_captured_total",
			Help:      "Frames captured by the scheduler.",
		}),
		CaptureErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_errors_total",
			Help:      "Scheduler cycles skipped because capture failed.",
		}),
		Dispatch: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_total",
			Help:      "Per-frame dispatches by backend and outcome.",
		}, []string{"backend", "outcome"}),
		Fallback: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallback_total",
			Help:      "Frames served by a fallback path, by reason.",
		}, []string{"reason"}),
		Inference: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "inference_seconds",
			Help:      "Backend call latency.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"backend"}),
		PublishedBatches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "published_batches_total",
			Help:      "Detection batches published to renderers.",
		}),
		BackendState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "backend_state",
			Help:      "Current backend state as its enum value.",
		}),
		memUsage: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "process_memory_megabytes",
			Help:      "Resident memory in megabytes.",
		}),
		cpuUsage: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "process_cpu_percent",
			Help:      "Process CPU usage in percent.",
		}),
	}

	m.registry.MustRegister(
		m.FramesCaptured, m.CaptureErrors, m.Dispatch, m.Fallback,
		m.Inference, m.PublishedBatches, m.BackendState,
		m.memUsage, m.cpuUsage,
	)
	return m
}

// Registry returns the registry holding every collector.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler returns the Prometheus scrape handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// FrameCaptured counts one captured frame.
func (m *Metrics) FrameCaptured() {
	if m == nil {
		return
	}
	m.FramesCaptured.Inc()
}

// CaptureFailed counts one failed capture.
func (m *Metrics) CaptureFailed() {
	if m == nil {
		return
	}
	m.CaptureErrors.Inc()
}

// Dispatched counts one dispatch outcome.
func (m *Metrics) Dispatched(backend, outcome string) {
	if m == nil {
		return
	}
	m.Dispatch.WithLabelValues(backend, outcome).Inc()
}

// FellBack counts one frame served by a fallback path.
func (m *Metrics) FellBack(reason string) {
	if m == nil {
		return
	}
	m.Fallback.WithLabelValues(reason).Inc()
}

// ObserveInference records backend latency.
func (m *Metrics) ObserveInference(backend string, d time.Duration) {
	if m == nil {
		return
	}
	m.Inference.WithLabelValues(backend).Observe(d.Seconds())
}

// Published counts one published batch.
func (m *Metrics) Published() {
	if m == nil {
		return
	}
	m.PublishedBatches.Inc()
}

// SetState records the backend state.
func (m *Metrics) SetState(v int) {
	if m == nil {
		return
	}
	m.BackendState.Set(float64(v))
}

// RunProcessMonitor samples RSS and CPU for this process until ctx is done.
func (m *Metrics) RunProcessMonitor(ctx context.Context, interval time.Duration) {
	if m == nil {
		return
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	proc, err := process.NewProcessWithContext(ctx, int32(os.Getpid()))
	if err != nil {
		slog.Default().Warn("process monitor unavailable", "component", "metrics", "error", err)
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sample(ctx, proc)
		}
	}
}

func (m *Metrics) sample(ctx context.Context, proc *process.Process) {
	if mem, err := proc.MemoryInfoWithContext(ctx); err == nil {
		m.memUsage.Set(float64(mem.RSS / 1024 / 1024))
	}
	if cpu, err := proc.CPUPercentWithContext(ctx); err == nil {
		m.cpuUsage.Set(math.Round(cpu*100) / 100)
	}
}
