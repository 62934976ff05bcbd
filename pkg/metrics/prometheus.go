package metrics

import (
	"adaptive-ensemble/internal/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ensemble"

// Recorder publishes feedback-loop activity as Prometheus series.
type Recorder struct {
	predictions     *prometheus.CounterVec
	outcomes        *prometheus.CounterVec
	priceMisses     *prometheus.CounterVec
	persistFailures *prometheus.CounterVec
	lessons         *prometheus.CounterVec
	pending         prometheus.Gauge
	weights         *prometheus.GaugeVec
	resolveLatency  prometheus.Histogram
}

// New registers the collectors on reg. Tests pass prometheus.NewRegistry().
func New(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		predictions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "predictions_recorded_total",
				Help:      "Predictions written to the ledger",
			},
			[]string{"symbol", "timeframe"},
		),
		outcomes: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "outcomes_resolved_total",
				Help:      "Predictions resolved against a realized price",
			},
			[]string{"symbol", "correct"},
		),
		priceMisses: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "price_unavailable_total",
				Help:      "Expired predictions left pending because no price was available",
			},
			[]string{"symbol"},
		),
		persistFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "persist_failures_total",
				Help:      "Best-effort writes that failed",
			},
			[]string{"sink"},
		),
		lessons: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "lessons_applied_total",
				Help:      "Lessons applied automatically",
			},
			[]string{"type"},
		),
		pending: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_predictions",
			Help:      "Expired predictions still waiting for a price after the last resolver run",
		}),
		weights: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "component_weight",
				Help:      "Current component weight",
			},
			[]string{"component"},
		),
		resolveLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "resolver_run_duration_seconds",
			Help:      "Duration of one expiry resolver pass",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

func (r *Recorder) PredictionRecorded(symbol, timeframe string) {
	r.predictions.WithLabelValues(symbol, timeframe).Inc()
}

func (r *Recorder) OutcomeResolved(symbol string, correct bool) {
	label := "false"
	if correct {
		label = "true"
	}
	r.outcomes.WithLabelValues(symbol, label).Inc()
}

func (r *Recorder) PriceUnavailable(symbol string) {
	r.priceMisses.WithLabelValues(symbol).Inc()
}

func (r *Recorder) WeightsUpdated(w map[domain.SignalKey]float64) {
	for k, v := range w {
		r.weights.WithLabelValues(string(k)).Set(v)
	}
}

func (r *Recorder) LessonApplied(kind string) {
	r.lessons.WithLabelValues(kind).Inc()
}

func (r *Recorder) PersistFailed(sink string) {
	r.persistFailures.WithLabelValues(sink).Inc()
}

func (r *Recorder) SetPending(n int) {
	r.pending.Set(float64(n))
}

func (r *Recorder) ObserveResolverRun(seconds float64) {
	r.resolveLatency.Observe(seconds)
}
