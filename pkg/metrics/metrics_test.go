package metrics

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.FrameCaptured()
	m.CaptureFailed()
	m.Dispatched("local", OutcomeOK)
	m.FellBack("local_error")
	m.ObserveInference("local", time.Millisecond)
	m.Published()
	m.SetState(3)
	m.RunProcessMonitor(context.Background(), time.Millisecond)
}

func TestCounters(t *testing.T) {
	m := New()
	m.FrameCaptured()
	m.FrameCaptured()
	m.Dispatched("local", OutcomeOK)
	m.Dispatched("local", OutcomeError)
	m.Dispatched("local", OutcomeError)
	m.FellBack("local_error")
	m.SetState(4)

	if got := testutil.ToFloat64(m.FramesCaptured); got != 2 {
		t.Errorf("frames captured = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.Dispatch.WithLabelValues("local", OutcomeError)); got != 2 {
		t.Errorf("dispatch errors = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.Fallback.WithLabelValues("local_error")); got != 1 {
		t.Errorf("fallback = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.BackendState); got != 4 {
		t.Errorf("state = %v, want 4", got)
	}
}

func TestHandler(t *testing.T) {
	m := New()
	m.Published()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "detect_published_batches_total 1") {
		t.Errorf("metrics output missing published counter:\n%s", body)
	}
}

func TestRunProcessMonitorStops(t *testing.T) {
	m := New()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.RunProcessMonitor(ctx, 10*time.Millisecond)
		close(done)
	}()
	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not stop")
	}
}
