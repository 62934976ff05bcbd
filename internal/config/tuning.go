package config

import (
	"errors"
	"fmt"
	"os"

	"adaptive-ensemble/internal/domain"
	"adaptive-ensemble/internal/ml/ensemble"
	"adaptive-ensemble/internal/ml/feedback"
	"adaptive-ensemble/internal/ml/optimizer"
	"adaptive-ensemble/internal/ml/regime"
	"adaptive-ensemble/internal/ml/scorer"

	"gopkg.in/yaml.v3"
)

// Tuning holds the numeric knobs of the forecasting core. Anything omitted
// from the file keeps its default.
type Tuning struct {
	ModelWeights     map[string]float64 `yaml:"model_weights"`
	ComponentWeights map[string]float64 `yaml:"component_weights"`
	Ensemble         ensemble.Config    `yaml:"ensemble"`
	Regime           regime.Config      `yaml:"regime"`
	Scorer           scorer.Config      `yaml:"scorer"`
	Optimizer        optimizer.Config   `yaml:"optimizer"`
	Feedback         feedback.Config    `yaml:"feedback"`
}

func DefaultTuning() Tuning {
	return Tuning{
		ModelWeights:     rawWeights(domain.DefaultModelWeights()),
		ComponentWeights: rawWeights(domain.DefaultComponentWeights()),
		Ensemble:         ensemble.DefaultConfig(),
		Regime:           regime.DefaultConfig(),
		Scorer:           scorer.DefaultConfig(),
		Optimizer:        optimizer.DefaultConfig(),
		Feedback:         feedback.DefaultConfig(),
	}
}

func LoadTuning(path string) (Tuning, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Tuning{}, fmt.Errorf("read tuning: %w", err)
	}
	t := DefaultTuning()
	// weight maps are replaced, not merged, when present in the file
	t.ModelWeights, t.ComponentWeights = nil, nil
	if err := yaml.Unmarshal(b, &t); err != nil {
		return Tuning{}, fmt.Errorf("parse tuning: %w", err)
	}
	if t.ModelWeights == nil {
		t.ModelWeights = rawWeights(domain.DefaultModelWeights())
	}
	if t.ComponentWeights == nil {
		t.ComponentWeights = rawWeights(domain.DefaultComponentWeights())
	}
	if err := t.Validate(); err != nil {
		return Tuning{}, fmt.Errorf("validate tuning: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	models, err := t.Models()
	if err != nil {
		return err
	}
	if sum(models) <= 0 {
		return fmt.Errorf("model_weights must not all be zero: %w", domain.ErrInvalidWeights)
	}
	components, err := t.Components()
	if err != nil {
		return err
	}
	if sum(components) <= 0 {
		return fmt.Errorf("component_weights must not all be zero: %w", domain.ErrInvalidWeights)
	}

	if t.Ensemble.PriceScale <= 0 || t.Ensemble.PriceScale >= 1 {
		return fmt.Errorf("ensemble.price_scale must be in (0,1), got %v", t.Ensemble.PriceScale)
	}
	if t.Regime.VolatileThreshold <= 0 || t.Regime.TrendMinMove < 0 {
		return errors.New("regime thresholds must be positive")
	}
	if t.Regime.TrendEfficiency <= 0 || t.Regime.TrendEfficiency > 1 {
		return fmt.Errorf("regime.trend_efficiency must be in (0,1], got %v", t.Regime.TrendEfficiency)
	}
	if t.Scorer.Floor <= 0 || t.Scorer.Ceiling <= t.Scorer.Floor {
		return fmt.Errorf("scorer bounds must satisfy 0 < floor < ceiling, got %v/%v", t.Scorer.Floor, t.Scorer.Ceiling)
	}
	if t.Optimizer.MaxWeightChange <= 0 || t.Optimizer.MaxWeightChange > 1 {
		return fmt.Errorf("optimizer.max_weight_change must be in (0,1], got %v", t.Optimizer.MaxWeightChange)
	}
	if t.Optimizer.MinWeight < 0 || t.Optimizer.MinWeight*float64(len(domain.Components)) >= 1 {
		return fmt.Errorf("optimizer.min_weight %v leaves no room to re-weight", t.Optimizer.MinWeight)
	}
	if t.Feedback.ComponentWeakBelow >= t.Feedback.ComponentStrongAbove {
		return errors.New("feedback.component_weak_below must be below component_strong_above")
	}
	if t.Feedback.IndicatorWeakBelow >= t.Feedback.IndicatorStrongAbove {
		return errors.New("feedback.indicator_weak_below must be below indicator_strong_above")
	}
	return nil
}

func (t Tuning) Models() (domain.WeightConfig, error) {
	return domain.NewModelWeights(t.ModelWeights)
}

func (t Tuning) Components() (domain.WeightConfig, error) {
	return domain.NewComponentWeights(t.ComponentWeights)
}

func rawWeights(w domain.WeightConfig) map[string]float64 {
	out := make(map[string]float64, len(w))
	for k, v := range w {
		out[string(k)] = v
	}
	return out
}

func sum(w domain.WeightConfig) float64 {
	total := 0.0
	for _, v := range w {
		total += v
	}
	return total
}
