package optimizer

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"adaptive-ensemble/internal/domain"
	"adaptive-ensemble/internal/ml/tracker"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type Config struct {
	MinPredictions   int     `yaml:"min_predictions"`
	Lookback         int     `yaml:"lookback"`
	MinRegimeSamples int     `yaml:"min_regime_samples"`
	MaxWeightChange  float64 `yaml:"max_weight_change"`
	MinWeight        float64 `yaml:"min_weight"`
	MinSamples       int     `yaml:"min_samples"`
	HistorySize      int     `yaml:"history_size"`
}

func DefaultConfig() Config {
	return Config{
		MinPredictions:   50,
		Lookback:         200,
		MinRegimeSamples: 20,
		MaxWeightChange:  0.1,
		MinWeight:        0.05,
		MinSamples:       10,
		HistorySize:      20,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MinPredictions <= 0 {
		c.MinPredictions = d.MinPredictions
	}
	if c.Lookback <= 0 {
		c.Lookback = d.Lookback
	}
	if c.MinRegimeSamples <= 0 {
		c.MinRegimeSamples = d.MinRegimeSamples
	}
	if c.MaxWeightChange <= 0 {
		c.MaxWeightChange = d.MaxWeightChange
	}
	if c.MinWeight <= 0 {
		c.MinWeight = d.MinWeight
	}
	if c.MinSamples <= 0 {
		c.MinSamples = d.MinSamples
	}
	if c.HistorySize <= 0 {
		c.HistorySize = d.HistorySize
	}
	return c
}

type Ledger interface {
	Recent(f tracker.Filter, limit int) []domain.PredictionRecord
}

type Multipliers interface {
	Multiplier(name string) float64
}

type RegimeDetector interface {
	Detect(prices []float64) domain.Regime
}

type Filter struct {
	Symbol     string
	MarketType string
}

type Summary struct {
	Current           *domain.OptimizedWeights     `json:"current,omitempty"`
	Defaults          map[domain.SignalKey]float64 `json:"defaults"`
	OptimizationCount int                          `json:"optimization_count"`
	LastOptimizedAt   *time.Time                   `json:"last_optimized_at,omitempty"`
	History           []domain.OptimizedWeights    `json:"history"`
}

// Optimizer re-weights the forecast components from resolved outcomes. Each
// step moves a weight by at most MaxWeightChange.
type Optimizer struct {
	cfg      Config
	ledger   Ledger
	scores   Multipliers
	detector RegimeDetector
	defaults domain.WeightConfig
	log      zerolog.Logger
	tracer   trace.Tracer
	now      func() time.Time

	mu              sync.Mutex
	current         *domain.OptimizedWeights
	history         []domain.OptimizedWeights
	count           int
	lastOptimizedAt *time.Time
}

func New(cfg Config, ledger Ledger, scores Multipliers, detector RegimeDetector, defaults domain.WeightConfig, log zerolog.Logger, tracer trace.Tracer) *Optimizer {
	if len(defaults) == 0 {
		defaults = domain.DefaultComponentWeights()
	}
	return &Optimizer{
		cfg:      cfg.withDefaults(),
		ledger:   ledger,
		scores:   scores,
		detector: detector,
		defaults: defaults.Normalized(),
		log:      log,
		tracer:   tracer,
		now:      time.Now,
	}
}

func (o *Optimizer) ShouldReoptimize(newPredictions int) bool {
	return newPredictions > o.cfg.MinPredictions
}

func (o *Optimizer) MinPredictions() int { return o.cfg.MinPredictions }

// Weights returns the current component weights, or the defaults before the
// first optimization.
func (o *Optimizer) Weights() domain.WeightConfig {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.weightsLocked()
}

func (o *Optimizer) weightsLocked() domain.WeightConfig {
	if o.current != nil {
		return domain.WeightConfig(o.current.ComponentWeights).Clone()
	}
	return o.defaults.Clone()
}

func (o *Optimizer) CurrentWeights() (domain.OptimizedWeights, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current == nil {
		return domain.OptimizedWeights{}, false
	}
	return o.current.Clone(), true
}

func (o *Optimizer) Optimize(ctx context.Context, prices []float64, f Filter) (domain.OptimizedWeights, bool) {
	_, span := o.tracer.Start(ctx, "optimizer.optimize")
	defer span.End()

	reg := domain.RegimeUnknown
	if o.detector != nil {
		reg = o.detector.Detect(prices)
	}
	records := o.ledger.Recent(tracker.Filter{Symbol: f.Symbol, MarketType: f.MarketType}, o.cfg.Lookback)
	span.SetAttributes(
		attribute.String("optimizer.regime", string(reg)),
		attribute.Int("optimizer.samples", len(records)),
	)

	o.mu.Lock()
	defer o.mu.Unlock()
	cur := o.weightsLocked()

	if len(records) < o.cfg.MinSamples {
		o.log.Info().Int("samples", len(records)).Int("min_samples", o.cfg.MinSamples).Msg("not enough resolved predictions to optimize weights")
		return domain.OptimizedWeights{
			ComponentWeights:       cur,
			MarketRegime:           reg,
			OptimizationConfidence: o.confidence(len(records)),
			SampleSize:             len(records),
			Timestamp:              o.now().UTC(),
		}, false
	}

	sample := records
	if reg != domain.RegimeUnknown {
		var scoped []domain.PredictionRecord
		for _, r := range records {
			if r.MarketRegime == reg {
				scoped = append(scoped, r)
			}
		}
		if len(scoped) >= o.cfg.MinRegimeSamples {
			sample = scoped
		}
	}

	acc := o.componentAccuracy(sample)
	next := o.step(cur, acc)

	out := domain.OptimizedWeights{
		ComponentWeights:       next,
		MarketRegime:           reg,
		OptimizationConfidence: o.confidence(len(sample)),
		SampleSize:             len(sample),
		Timestamp:              o.now().UTC(),
	}
	o.install(out)
	o.count++
	ts := out.Timestamp
	o.lastOptimizedAt = &ts

	o.log.Info().
		Str("regime", string(reg)).
		Int("samples", len(sample)).
		Interface("weights", next).
		Msg("component weights optimized")
	return out.Clone(), true
}

// componentAccuracy is the Laplace-smoothed directional accuracy of each
// component; technical is scaled by the mean indicator multiplier.
func (o *Optimizer) componentAccuracy(records []domain.PredictionRecord) map[domain.SignalKey]float64 {
	correct := map[domain.SignalKey]int{}
	total := map[domain.SignalKey]int{}
	indicators := map[string]struct{}{}
	for _, r := range records {
		if r.ActualDirection == nil {
			continue
		}
		for _, k := range domain.Components {
			sig, ok := r.ComponentSignal(k)
			if !ok {
				continue
			}
			total[k]++
			if domain.DirectionFromSignal(sig) == *r.ActualDirection {
				correct[k]++
			}
		}
		for name := range r.IndicatorSignals {
			indicators[name] = struct{}{}
		}
	}

	acc := make(map[domain.SignalKey]float64, len(domain.Components))
	for _, k := range domain.Components {
		acc[k] = (float64(correct[k]) + 1) / (float64(total[k]) + 2)
	}
	if o.scores != nil && len(indicators) > 0 {
		sum := 0.0
		for name := range indicators {
			sum += o.scores.Multiplier(name)
		}
		acc[domain.ComponentTechnical] *= sum / float64(len(indicators))
	}
	return acc
}

// step moves cur toward weights proportional to acc, clamping each change and
// rebalancing so the result still sums to 1.
func (o *Optimizer) step(cur domain.WeightConfig, acc map[domain.SignalKey]float64) domain.WeightConfig {
	totalAcc := 0.0
	for _, k := range domain.Components {
		totalAcc += acc[k]
	}

	delta := make(map[domain.SignalKey]float64, len(domain.Components))
	for _, k := range domain.Components {
		target := cur[k]
		if totalAcc > 0 {
			target = acc[k] / totalAcc
		}
		d := domain.Clamp(target-cur[k], -o.cfg.MaxWeightChange, o.cfg.MaxWeightChange)
		if cur[k]+d < o.cfg.MinWeight {
			d = math.Min(o.cfg.MinWeight-cur[k], o.cfg.MaxWeightChange)
		}
		delta[k] = d
	}

	var pos, neg float64
	for _, d := range delta {
		if d > 0 {
			pos += d
		} else {
			neg -= d
		}
	}
	switch {
	case pos > neg && pos > 0:
		scale := neg / pos
		for k, d := range delta {
			if d > 0 {
				delta[k] = d * scale
			}
		}
	case neg > pos && neg > 0:
		scale := pos / neg
		for k, d := range delta {
			if d < 0 {
				delta[k] = d * scale
			}
		}
	}

	next := make(domain.WeightConfig, len(domain.Components))
	for _, k := range domain.Components {
		next[k] = cur[k] + delta[k]
	}
	return next.Normalized()
}

func (o *Optimizer) confidence(samples int) float64 {
	return math.Min(1, float64(samples)/float64(2*o.cfg.MinPredictions))
}

func (o *Optimizer) install(w domain.OptimizedWeights) {
	c := w.Clone()
	o.current = &c
	o.history = append(o.history, w.Clone())
	if len(o.history) > o.cfg.HistorySize {
		o.history = o.history[len(o.history)-o.cfg.HistorySize:]
	}
}

// AdjustComponent shifts one component weight by delta and rescales the others
// so the weights still sum to 1. A decrease stops at floor but never lifts a
// weight that already sits below it.
func (o *Optimizer) AdjustComponent(key domain.SignalKey, delta, floor float64) (domain.OptimizedWeights, error) {
	if !key.IsComponent() {
		return domain.OptimizedWeights{}, fmt.Errorf("adjust %q: %w", key, domain.ErrUnknownSignalKey)
	}
	if math.IsNaN(delta) || math.IsInf(delta, 0) || floor < 0 || floor >= 1 {
		return domain.OptimizedWeights{}, fmt.Errorf("adjust %s by %v floor %v: %w", key, delta, floor, domain.ErrInvalidWeights)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	w := o.weightsLocked()
	target := math.Min(math.Max(w[key]+delta, floor), 1)
	if delta < 0 {
		target = math.Max(w[key]+delta, math.Min(floor, w[key]))
	}
	others := 0.0
	for _, k := range domain.Components {
		if k != key {
			others += w[k]
		}
	}
	next := make(domain.WeightConfig, len(domain.Components))
	next[key] = target
	for _, k := range domain.Components {
		if k == key {
			continue
		}
		if others > 0 {
			next[k] = w[k] / others * (1 - target)
		} else {
			next[k] = (1 - target) / float64(len(domain.Components)-1)
		}
	}

	out := domain.OptimizedWeights{
		ComponentWeights: next,
		MarketRegime:     domain.RegimeUnknown,
		Timestamp:        o.now().UTC(),
	}
	if o.current != nil {
		out.MarketRegime = o.current.MarketRegime
		out.OptimizationConfidence = o.current.OptimizationConfidence
		out.SampleSize = o.current.SampleSize
	}
	o.install(out)
	o.log.Info().Str("component", string(key)).Float64("delta", delta).Interface("weights", next).Msg("component weight adjusted")
	return out.Clone(), nil
}

// Restore seeds the optimizer from a persisted snapshot without counting it as
// an optimization.
func (o *Optimizer) Restore(w domain.OptimizedWeights) error {
	raw := make(map[string]float64, len(w.ComponentWeights))
	for k, v := range w.ComponentWeights {
		raw[string(k)] = v
	}
	cfg, err := domain.NewComponentWeights(raw)
	if err != nil {
		return err
	}
	total := 0.0
	for _, v := range cfg {
		total += v
	}
	if total <= 0 {
		return fmt.Errorf("restore weights: %w", domain.ErrInvalidWeights)
	}
	full := make(domain.WeightConfig, len(domain.Components))
	for _, k := range domain.Components {
		full[k] = cfg[k]
	}
	w.ComponentWeights = full.Normalized()

	o.mu.Lock()
	defer o.mu.Unlock()
	c := w.Clone()
	o.current = &c
	return nil
}

func (o *Optimizer) Summary() Summary {
	o.mu.Lock()
	defer o.mu.Unlock()
	s := Summary{
		Defaults:          o.defaults.Clone(),
		OptimizationCount: o.count,
		History:           make([]domain.OptimizedWeights, 0, len(o.history)),
	}
	if o.current != nil {
		c := o.current.Clone()
		s.Current = &c
	}
	if o.lastOptimizedAt != nil {
		t := *o.lastOptimizedAt
		s.LastOptimizedAt = &t
	}
	for _, h := range o.history {
		s.History = append(s.History, h.Clone())
	}
	return s
}
