package ensemble

import (
	"context"
	"errors"
	"math"
	"testing"

	"adaptive-ensemble/internal/domain"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

func newTestAggregator() *Aggregator {
	return NewAggregator(Config{}, zerolog.Nop(), trace.NewNoopTracerProvider().Tracer("test"))
}

func sumWeights(w map[domain.SignalKey]float64) float64 {
	total := 0.0
	for _, v := range w {
		total += v
	}
	return total
}

func TestPredictRedistributesOverPresentModels(t *testing.T) {
	a := newTestAggregator()
	res := a.Predict(context.Background(), PredictInput{
		CurrentPrice: 100,
		Sources: map[domain.SignalKey]SignalSource{
			domain.ModelLSTM:         Static(0.6),
			domain.ModelXGBoost:      Static(0.4),
			domain.ModelRandomForest: Absent(),
			domain.ModelARIMA:        Absent(),
		},
	}, domain.DefaultModelWeights())

	if res.ModelCount != 2 {
		t.Fatalf("expected 2 models, got %d", res.ModelCount)
	}
	if math.Abs(res.WeightsUsed[domain.ModelLSTM]-0.35/0.60) > 1e-9 {
		t.Fatalf("lstm weight = %.4f", res.WeightsUsed[domain.ModelLSTM])
	}
	if math.Abs(res.WeightsUsed[domain.ModelXGBoost]-0.25/0.60) > 1e-9 {
		t.Fatalf("xgboost weight = %.4f", res.WeightsUsed[domain.ModelXGBoost])
	}
	if math.Abs(res.Signal-0.5167) > 1e-3 {
		t.Fatalf("signal = %.4f, want ~0.517", res.Signal)
	}
	if res.Direction != domain.DirectionUp {
		t.Fatalf("direction = %s", res.Direction)
	}
	if res.Confidence == domain.ConfidenceHigh {
		t.Fatal("two-model round must never be HIGH")
	}
	if res.Confidence != domain.ConfidenceMedium {
		t.Fatalf("confidence = %s, want MEDIUM", res.Confidence)
	}
	wantPrice := 100 * (1 + res.Signal*0.03)
	if math.Abs(res.PredictedPrice-wantPrice) > 1e-9 {
		t.Fatalf("predicted price = %.4f, want %.4f", res.PredictedPrice, wantPrice)
	}
	if math.Abs(res.ChangePercent-res.Signal*3) > 1e-9 {
		t.Fatalf("change percent = %.4f", res.ChangePercent)
	}
}

func TestPredictWeightsSumToOne(t *testing.T) {
	a := newTestAggregator()
	cases := []map[domain.SignalKey]SignalSource{
		{domain.ModelLSTM: Static(0.1)},
		{domain.ModelLSTM: Static(0.1), domain.ModelARIMA: Static(-0.3)},
		{domain.ModelLSTM: Static(0.1), domain.ModelARIMA: Static(-0.3), domain.ModelXGBoost: Static(0.9), domain.ModelRandomForest: Static(0)},
	}
	for i, sources := range cases {
		res := a.Predict(context.Background(), PredictInput{CurrentPrice: 50, Sources: sources}, domain.DefaultModelWeights())
		if math.Abs(sumWeights(res.WeightsUsed)-1) > 1e-6 {
			t.Fatalf("case %d: weights sum to %.8f", i, sumWeights(res.WeightsUsed))
		}
	}
}

func TestPredictZeroWeightsFallBackToEqual(t *testing.T) {
	a := newTestAggregator()
	res := a.Predict(context.Background(), PredictInput{
		CurrentPrice: 10,
		Sources: map[domain.SignalKey]SignalSource{
			domain.ModelLSTM:  Static(0.5),
			domain.ModelARIMA: Static(0.3),
		},
	}, domain.WeightConfig{domain.ModelLSTM: 0, domain.ModelXGBoost: 1})

	if res.WeightsUsed[domain.ModelLSTM] != 0.5 || res.WeightsUsed[domain.ModelARIMA] != 0.5 {
		t.Fatalf("expected equal weights, got %+v", res.WeightsUsed)
	}
	if math.Abs(res.Signal-0.4) > 1e-9 {
		t.Fatalf("signal = %.4f", res.Signal)
	}
}

func TestPredictNoSignals(t *testing.T) {
	a := newTestAggregator()
	res := a.Predict(context.Background(), PredictInput{
		CurrentPrice: 42,
		Sources: map[domain.SignalKey]SignalSource{
			domain.ModelLSTM: Absent(),
		},
	}, domain.DefaultModelWeights())

	if res.Signal != 0 || res.Direction != domain.DirectionFlat || res.Confidence != domain.ConfidenceLow || res.ModelCount != 0 {
		t.Fatalf("unexpected neutral result: %+v", res)
	}
	if res.PredictedPrice != 42 {
		t.Fatalf("predicted price should equal current, got %.2f", res.PredictedPrice)
	}
}

func TestPredictSingleModelIsLow(t *testing.T) {
	a := newTestAggregator()
	res := a.Predict(context.Background(), PredictInput{
		CurrentPrice: 1,
		Sources:      map[domain.SignalKey]SignalSource{domain.ModelXGBoost: Static(0.9)},
	}, domain.DefaultModelWeights())
	if res.Confidence != domain.ConfidenceLow {
		t.Fatalf("single model confidence = %s", res.Confidence)
	}
	if res.WeightsUsed[domain.ModelXGBoost] != 1 {
		t.Fatalf("single model should carry full weight, got %+v", res.WeightsUsed)
	}
}

func TestPredictPartialFailure(t *testing.T) {
	a := newTestAggregator()
	res := a.Predict(context.Background(), PredictInput{
		CurrentPrice: 100,
		Sources: map[domain.SignalKey]SignalSource{
			domain.ModelLSTM: Static(0.5),
			domain.ModelXGBoost: Func(func(context.Context) (float64, bool, error) {
				return 0, false, errors.New("model offline")
			}),
			domain.ModelARIMA:        Static(math.NaN()),
			domain.ModelRandomForest: Static(0.3),
		},
	}, domain.DefaultModelWeights())

	if res.ModelCount != 2 {
		t.Fatalf("expected 2 surviving models, got %d", res.ModelCount)
	}
	if len(res.Failed) != 2 || res.Failed[0] != domain.ModelARIMA || res.Failed[1] != domain.ModelXGBoost {
		t.Fatalf("unexpected failed list: %v", res.Failed)
	}
	if _, ok := res.WeightsUsed[domain.ModelXGBoost]; ok {
		t.Fatal("failed model must not receive weight")
	}
	if math.Abs(sumWeights(res.WeightsUsed)-1) > 1e-6 {
		t.Fatalf("weights sum to %.8f", sumWeights(res.WeightsUsed))
	}
}

func TestPredictClampsOutOfRange(t *testing.T) {
	a := newTestAggregator()
	res := a.Predict(context.Background(), PredictInput{
		CurrentPrice: 100,
		Sources:      map[domain.SignalKey]SignalSource{domain.ModelLSTM: Static(4)},
	}, domain.DefaultModelWeights())
	if res.PerModelSignals[domain.ModelLSTM] != 1 || res.Signal != 1 {
		t.Fatalf("expected clamp to 1, got %+v", res)
	}
}

func TestConfidenceLevels(t *testing.T) {
	a := newTestAggregator()
	tests := []struct {
		name   string
		values []float64
		want   domain.ConfidenceLevel
	}{
		{"tight agreement", []float64{0.5, 0.52, 0.48}, domain.ConfidenceHigh},
		{"moderate spread", []float64{0.2, 0.4, 0.1}, domain.ConfidenceMedium},
		{"disagreement", []float64{0.9, -0.8, 0.1}, domain.ConfidenceLow},
		{"two agreeing models capped", []float64{0.5, 0.5}, domain.ConfidenceMedium},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sources := map[domain.SignalKey]SignalSource{}
			for i, v := range tt.values {
				sources[domain.Models[i]] = Static(v)
			}
			res := a.Predict(context.Background(), PredictInput{CurrentPrice: 1, Sources: sources}, domain.DefaultModelWeights())
			if res.Confidence != tt.want {
				t.Fatalf("confidence = %s, want %s", res.Confidence, tt.want)
			}
		})
	}
}
