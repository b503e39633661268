package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/ashureev/incubator/internal/llm"
)

func TestRecorderCounts(t *testing.T) {
	r := NewRecorder(prometheus.NewRegistry())

	r.ObserveGeneration("gemini:a", llm.OutcomeQuotaExceeded, 10*time.Millisecond)
	r.ObserveGeneration("gemini:b", llm.OutcomeSuccess, 20*time.Millisecond)
	r.ObserveFallback("gemini:a", "gemini:b")
	r.IncTurn("analysis")
	r.IncTurn("analysis")
	r.IncLock("analysis")
	r.IncRejection("injection_detected")

	if got := testutil.ToFloat64(r.fallbacksTotal.WithLabelValues("gemini:a", "gemini:b")); got != 1 {
		t.Fatalf("fallbacks = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.turnsTotal.WithLabelValues("analysis")); got != 2 {
		t.Fatalf("turns = %v, want 2", got)
	}
	if got := testutil.ToFloat64(r.generationsTotal.WithLabelValues("gemini:a", "quota_exceeded")); got != 1 {
		t.Fatalf("quota generations = %v, want 1", got)
	}
}

func TestRecorderHandler(t *testing.T) {
	r := NewRecorder(prometheus.NewRegistry())
	r.IncLock("clarification")

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `incubator_session_locks_total{kind="clarification"} 1`) {
		t.Fatalf("metrics output missing lock counter:\n%s", body)
	}
}

func TestNilRecorder(t *testing.T) {
	var r *Recorder
	r.IncTurn("analysis")
	r.ObserveFallback("a", "b")
	r.SetActiveSessions(3)
}
