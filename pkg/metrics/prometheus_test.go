package metrics

import (
	"testing"

	"adaptive-ensemble/internal/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg)

	r.PredictionRecorded("BTC", "4h")
	r.PredictionRecorded("BTC", "4h")
	r.OutcomeResolved("BTC", true)
	r.OutcomeResolved("BTC", false)
	r.OutcomeResolved("BTC", false)
	r.PriceUnavailable("ETH")
	r.LessonApplied("indicator")
	r.PersistFailed("kafka")
	r.SetPending(7)
	r.ObserveResolverRun(0.02)
	r.WeightsUpdated(map[domain.SignalKey]float64{domain.ComponentML: 0.45})

	if got := testutil.ToFloat64(r.predictions.WithLabelValues("BTC", "4h")); got != 2 {
		t.Fatalf("predictions = %v", got)
	}
	if got := testutil.ToFloat64(r.outcomes.WithLabelValues("BTC", "false")); got != 2 {
		t.Fatalf("wrong outcomes = %v", got)
	}
	if got := testutil.ToFloat64(r.pending); got != 7 {
		t.Fatalf("pending = %v", got)
	}
	if got := testutil.ToFloat64(r.weights.WithLabelValues("ml")); got != 0.45 {
		t.Fatalf("ml weight = %v", got)
	}
	if got := testutil.ToFloat64(r.persistFailures.WithLabelValues("kafka")); got != 1 {
		t.Fatalf("persist failures = %v", got)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(families) != 8 {
		t.Fatalf("expected 8 metric families, got %d", len(families))
	}
}

func TestRecorderSeparateRegistries(t *testing.T) {
	New(prometheus.NewRegistry())
	New(prometheus.NewRegistry())
}
