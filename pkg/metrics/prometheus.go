package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"FinVerdict/internal/domain/models"
	"FinVerdict/internal/domain/repository"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	evaluations      *prometheus.CounterVec
	evalLatency      prometheus.Histogram
	portFailures     *prometheus.CounterVec
	pipelineFailures *prometheus.CounterVec
	fallbacks        prometheus.Counter
	publishes        *prometheus.CounterVec
}

// New registers the recorder's collectors with reg. A nil reg uses the
// default registerer.
func New(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Recorder{
		evaluations: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finverdict_verdicts_total",
				Help: "Verdicts produced, by action",
			},
			[]string{"action"},
		),
		evalLatency: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "finverdict_evaluation_duration_seconds",
				Help:    "Duration of one Evaluate call in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
		),
		portFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finverdict_port_failures_total",
				Help: "Port calls that failed or timed out and were degraded to the prior value",
			},
			[]string{"port"},
		),
		pipelineFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finverdict_pipeline_failures_total",
				Help: "Horizon pipelines that panicked and were degraded to HOLD",
			},
			[]string{"horizon"},
		),
		fallbacks: f.NewCounter(
			prometheus.CounterOpts{
				Name: "finverdict_fallback_selections_total",
				Help: "Evaluations where no candidate had positive utility",
			},
		),
		publishes: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finverdict_publish_total",
				Help: "Verdict publications by backend and result",
			},
			[]string{"backend", "result"},
		),
	}
}

// RecordEvaluation records one produced verdict by action.
func (r *Recorder) RecordEvaluation(action models.Action, d time.Duration) {
	r.evaluations.WithLabelValues(string(action)).Inc()
	r.evalLatency.Observe(d.Seconds())
}

// RecordPortFailure records a degraded port call.
func (r *Recorder) RecordPortFailure(port string) {
	r.portFailures.WithLabelValues(port).Inc()
}

// RecordPipelineFailure records a recovered horizon panic.
func (r *Recorder) RecordPipelineFailure(horizon string) {
	r.pipelineFailures.WithLabelValues(horizon).Inc()
}

// RecordFallbackSelection records an index-0 fallback.
func (r *Recorder) RecordFallbackSelection() {
	r.fallbacks.Inc()
}

// RecordPublish records a publication attempt.
func (r *Recorder) RecordPublish(backend string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.publishes.WithLabelValues(backend, result).Inc()
}

var _ repository.Metrics = (*Recorder)(nil)
