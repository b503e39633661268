// Package metrics records model and conversation activity as Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ashureev/incubator/internal/llm"
)

// Recorder implements llm.Observer and counts conversation events.
// A nil *Recorder is valid and records nothing.
type Recorder struct {
	gatherer prometheus.Gatherer

	generationsTotal   *prometheus.CounterVec
	generationDuration *prometheus.HistogramVec
	fallbacksTotal     *prometheus.CounterVec
	turnsTotal         *prometheus.CounterVec
	locksTotal         *prometheus.CounterVec
	rejectionsTotal    *prometheus.CounterVec
	activeSessions     prometheus.Gauge
}

var _ llm.Observer = (*Recorder)(nil)

// NewRecorder registers the metrics on reg. Each registry may hold only one
// Recorder.
func NewRecorder(reg *prometheus.Registry) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		gatherer: reg,
		generationsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "incubator_llm_generations_total",
				Help: "Model calls by backend and outcome",
			},
			[]string{"backend", "outcome"},
		),
		generationDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "incubator_llm_generation_duration_seconds",
				Help:    "Duration of model calls in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"backend"},
		),
		fallbacksTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "incubator_llm_fallbacks_total",
				Help: "Backend switches caused by quota exhaustion",
			},
			[]string{"from", "to"},
		),
		turnsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "incubator_session_turns_total",
				Help: "Accepted user turns by session kind",
			},
			[]string{"kind"},
		),
		locksTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "incubator_session_locks_total",
				Help: "Sessions locked after reaching the turn limit",
			},
			[]string{"kind"},
		),
		rejectionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "incubator_message_rejections_total",
				Help: "Rejected user messages by reason",
			},
			[]string{"reason"},
		),
		activeSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "incubator_active_sessions",
			Help: "Sessions held in memory",
		}),
	}
}

// ObserveGeneration implements llm.Observer.
func (r *Recorder) ObserveGeneration(backend string, outcome llm.Outcome, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.generationsTotal.WithLabelValues(backend, outcome.String()).Inc()
	r.generationDuration.WithLabelValues(backend).Observe(elapsed.Seconds())
}

// ObserveFallback implements llm.Observer.
func (r *Recorder) ObserveFallback(from, to string) {
	if r == nil {
		return
	}
	r.fallbacksTotal.WithLabelValues(from, to).Inc()
}

// IncTurn counts an accepted user turn.
func (r *Recorder) IncTurn(kind string) {
	if r == nil {
		return
	}
	r.turnsTotal.WithLabelValues(kind).Inc()
}

// IncLock counts a session reaching its turn limit.
func (r *Recorder) IncLock(kind string) {
	if r == nil {
		return
	}
	r.locksTotal.WithLabelValues(kind).Inc()
}

// IncRejection counts a message refused before reaching the model.
func (r *Recorder) IncRejection(reason string) {
	if r == nil {
		return
	}
	r.rejectionsTotal.WithLabelValues(reason).Inc()
}

// SetActiveSessions reports the registry size.
func (r *Recorder) SetActiveSessions(n int) {
	if r == nil {
		return
	}
	r.activeSessions.Set(float64(n))
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}
