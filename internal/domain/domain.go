package domain

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// SignalKey identifies one input to a weighted combination: either an ML model
// feeding the model ensemble or a top-level forecast component.
type SignalKey string

const (
	ModelLSTM         SignalKey = "lstm"
	ModelXGBoost      SignalKey = "xgboost"
	ModelRandomForest SignalKey = "random_forest"
	ModelARIMA        SignalKey = "arima"

	ComponentTechnical SignalKey = "technical"
	ComponentSentiment SignalKey = "sentiment"
	ComponentML        SignalKey = "ml"
)

// Models lists the ML models known to the ensemble, in display order.
var Models = []SignalKey{ModelLSTM, ModelXGBoost, ModelRandomForest, ModelARIMA}

// Components lists the forecast components weighted by the optimizer.
var Components = []SignalKey{ComponentTechnical, ComponentSentiment, ComponentML}

func (k SignalKey) IsModel() bool {
	switch k {
	case ModelLSTM, ModelXGBoost, ModelRandomForest, ModelARIMA:
		return true
	default:
		return false
	}
}

func (k SignalKey) IsComponent() bool {
	switch k {
	case ComponentTechnical, ComponentSentiment, ComponentML:
		return true
	default:
		return false
	}
}

func ParseModel(name string) (SignalKey, error) {
	k := SignalKey(strings.ToLower(strings.TrimSpace(name)))
	if k == "randomforest" || k == "random-forest" {
		k = ModelRandomForest
	}
	if !k.IsModel() {
		return "", fmt.Errorf("model %q: %w", name, ErrUnknownSignalKey)
	}
	return k, nil
}

func ParseComponent(name string) (SignalKey, error) {
	k := SignalKey(strings.ToLower(strings.TrimSpace(name)))
	if !k.IsComponent() {
		return "", fmt.Errorf("component %q: %w", name, ErrUnknownSignalKey)
	}
	return k, nil
}

// WeightConfig holds configured (not necessarily normalized) weights per key.
type WeightConfig map[SignalKey]float64

// NewModelWeights validates raw model weights keyed by model name.
func NewModelWeights(raw map[string]float64) (WeightConfig, error) {
	return newWeights(raw, ParseModel)
}

// NewComponentWeights validates raw component weights keyed by component name.
func NewComponentWeights(raw map[string]float64) (WeightConfig, error) {
	return newWeights(raw, ParseComponent)
}

func newWeights(raw map[string]float64, parse func(string) (SignalKey, error)) (WeightConfig, error) {
	out := make(WeightConfig, len(raw))
	for name, w := range raw {
		k, err := parse(name)
		if err != nil {
			return nil, err
		}
		if math.IsNaN(w) || math.IsInf(w, 0) || w < 0 {
			return nil, fmt.Errorf("weight %s=%v: %w", name, w, ErrInvalidWeights)
		}
		out[k] = w
	}
	return out, nil
}

// Normalized returns a copy scaled to sum to 1. An all-zero config is returned unchanged.
func (w WeightConfig) Normalized() WeightConfig {
	total := 0.0
	for _, v := range w {
		total += v
	}
	out := make(WeightConfig, len(w))
	for k, v := range w {
		if total > 0 {
			out[k] = v / total
		} else {
			out[k] = v
		}
	}
	return out
}

func (w WeightConfig) Clone() WeightConfig {
	out := make(WeightConfig, len(w))
	for k, v := range w {
		out[k] = v
	}
	return out
}

// Keys returns the configured keys in lexical order.
func (w WeightConfig) Keys() []SignalKey {
	keys := make([]SignalKey, 0, len(w))
	for k := range w {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// DefaultModelWeights are the static model weights used until configured otherwise.
func DefaultModelWeights() WeightConfig {
	return WeightConfig{
		ModelLSTM:         0.35,
		ModelXGBoost:      0.25,
		ModelRandomForest: 0.20,
		ModelARIMA:        0.20,
	}
}

// DefaultComponentWeights are the fallback component weights before the first optimization.
func DefaultComponentWeights() WeightConfig {
	return WeightConfig{
		ComponentTechnical: 0.40,
		ComponentSentiment: 0.20,
		ComponentML:        0.40,
	}
}

type Direction string

const (
	DirectionUp   Direction = "UP"
	DirectionDown Direction = "DOWN"
	DirectionFlat Direction = "FLAT"
)

// SignalDeadZone is the +/- band around zero inside which a signal reads as FLAT.
const SignalDeadZone = 0.1

// DirectionFromSignal classifies a signal in [-1,1] with the shared dead-zone.
func DirectionFromSignal(v float64) Direction {
	return DirectionWithDeadZone(v, SignalDeadZone)
}

func DirectionWithDeadZone(v, deadZone float64) Direction {
	switch {
	case v > deadZone:
		return DirectionUp
	case v < -deadZone:
		return DirectionDown
	default:
		return DirectionFlat
	}
}

type ConfidenceLevel string

const (
	ConfidenceHigh   ConfidenceLevel = "HIGH"
	ConfidenceMedium ConfidenceLevel = "MEDIUM"
	ConfidenceLow    ConfidenceLevel = "LOW"
)

// BaseScore maps a confidence label onto the 0-100 confidence score scale.
func (c ConfidenceLevel) BaseScore() float64 {
	switch c {
	case ConfidenceHigh:
		return 75
	case ConfidenceMedium:
		return 55
	default:
		return 35
	}
}

type Regime string

const (
	RegimeTrending Regime = "trending"
	RegimeSideways Regime = "sideways"
	RegimeVolatile Regime = "volatile"
	RegimeUnknown  Regime = "unknown"
)

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// AccuracyStat is a correct/total tally.
type AccuracyStat struct {
	Total    int     `json:"total"`
	Correct  int     `json:"correct"`
	Accuracy float64 `json:"accuracy"`
}

func (a *AccuracyStat) Add(correct bool) {
	a.Total++
	if correct {
		a.Correct++
	}
	a.Accuracy = float64(a.Correct) / float64(a.Total)
}

// Clamp bounds v to [lo, hi]; NaN and Inf collapse to 0.
func Clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
