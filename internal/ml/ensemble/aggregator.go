package ensemble

import (
	"context"
	"math"
	"sort"

	"adaptive-ensemble/internal/domain"
	"adaptive-ensemble/internal/ta"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultPriceScale       = 0.03
	defaultMinModelsForHigh = 3

	highStd   = 0.1
	highCV    = 0.3
	mediumStd = 0.2
	mediumCV  = 0.6
)

type Config struct {
	// PriceScale converts a unit signal into a relative price move.
	PriceScale float64 `yaml:"price_scale"`
	// MinModelsForHigh is the fewest present signals that may earn HIGH confidence.
	MinModelsForHigh int `yaml:"min_models_for_high"`
}

func DefaultConfig() Config {
	return Config{PriceScale: defaultPriceScale, MinModelsForHigh: defaultMinModelsForHigh}
}

type PredictInput struct {
	CurrentPrice float64
	Sources      map[domain.SignalKey]SignalSource
}

type Aggregator struct {
	cfg    Config
	log    zerolog.Logger
	tracer trace.Tracer
}

func NewAggregator(cfg Config, log zerolog.Logger, tracer trace.Tracer) *Aggregator {
	if cfg.PriceScale <= 0 || math.IsNaN(cfg.PriceScale) {
		cfg.PriceScale = defaultPriceScale
	}
	if cfg.MinModelsForHigh <= 0 {
		cfg.MinModelsForHigh = defaultMinModelsForHigh
	}
	return &Aggregator{cfg: cfg, log: log, tracer: tracer}
}

// Predict combines every present signal using the configured weights
// renormalized over the keys that actually reported. Failed or missing
// sources never abort the round.
func (a *Aggregator) Predict(ctx context.Context, in PredictInput, weights domain.WeightConfig) domain.EnsembleResult {
	ctx, span := a.tracer.Start(ctx, "ensemble.predict")
	defer span.End()

	keys := make([]domain.SignalKey, 0, len(in.Sources))
	for k := range in.Sources {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	values := make(map[domain.SignalKey]float64, len(keys))
	var failed []domain.SignalKey
	for _, k := range keys {
		src := in.Sources[k]
		if src == nil {
			continue
		}
		v, present, err := src.Signal(ctx)
		if err != nil {
			a.log.Warn().Err(err).Str("source", string(k)).Msg("signal source failed, excluding from round")
			failed = append(failed, k)
			continue
		}
		if !present {
			continue
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			a.log.Warn().Str("source", string(k)).Float64("value", v).Msg("non-finite signal, excluding from round")
			failed = append(failed, k)
			continue
		}
		values[k] = domain.Clamp(v, -1, 1)
	}

	result := domain.EnsembleResult{
		Direction:       domain.DirectionFlat,
		PredictedPrice:  in.CurrentPrice,
		Confidence:      domain.ConfidenceLow,
		PerModelSignals: values,
		WeightsUsed:     map[domain.SignalKey]float64{},
		ModelCount:      len(values),
		Failed:          failed,
	}
	span.SetAttributes(
		attribute.Int("ensemble.model_count", len(values)),
		attribute.Int("ensemble.failed", len(failed)),
	)
	if len(values) == 0 {
		return result
	}

	used := redistribute(values, weights)
	signal := 0.0
	for k, v := range values {
		signal += v * used[k]
	}
	signal = domain.Clamp(signal, -1, 1)

	result.Signal = signal
	result.WeightsUsed = used
	result.Direction = domain.DirectionFromSignal(signal)
	result.Confidence = a.confidence(values)
	if in.CurrentPrice > 0 {
		result.PredictedPrice = in.CurrentPrice * (1 + signal*a.cfg.PriceScale)
		result.ChangePercent = (result.PredictedPrice - in.CurrentPrice) / in.CurrentPrice * 100
	}
	span.SetAttributes(
		attribute.Float64("ensemble.signal", signal),
		attribute.String("ensemble.confidence", string(result.Confidence)),
	)
	return result
}

func redistribute(values map[domain.SignalKey]float64, weights domain.WeightConfig) map[domain.SignalKey]float64 {
	active := 0.0
	for k := range values {
		if w := weights[k]; w > 0 {
			active += w
		}
	}
	used := make(map[domain.SignalKey]float64, len(values))
	for k := range values {
		if active <= 0 {
			used[k] = 1 / float64(len(values))
			continue
		}
		used[k] = math.Max(weights[k], 0) / active
	}
	return used
}

func (a *Aggregator) confidence(values map[domain.SignalKey]float64) domain.ConfidenceLevel {
	if len(values) < 2 {
		return domain.ConfidenceLow
	}
	raw := make([]float64, 0, len(values))
	for _, v := range values {
		raw = append(raw, v)
	}
	mean, std := ta.MeanStd(raw)
	cv := std
	if math.Abs(mean) >= 1e-9 {
		cv = std / math.Abs(mean)
	}
	switch {
	case (std < highStd || cv < highCV) && len(values) >= a.cfg.MinModelsForHigh:
		return domain.ConfidenceHigh
	case std < mediumStd || cv < mediumCV:
		return domain.ConfidenceMedium
	default:
		return domain.ConfidenceLow
	}
}
