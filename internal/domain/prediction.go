package domain

import "time"

// Signal is one directional reading in [-1, 1] from a model or component.
type Signal struct {
	Source SignalKey `json:"source"`
	Value  float64   `json:"value"`
}

// EnsembleResult is the combined forecast for one aggregation round.
type EnsembleResult struct {
	Signal          float64               `json:"signal"`
	Direction       Direction             `json:"direction"`
	PredictedPrice  float64               `json:"predicted_price"`
	ChangePercent   float64               `json:"change_percent"`
	Confidence      ConfidenceLevel       `json:"confidence"`
	PerModelSignals map[SignalKey]float64 `json:"per_model_signals"`
	WeightsUsed     map[SignalKey]float64 `json:"weights_used"`
	ModelCount      int                   `json:"model_count"`
	Failed          []SignalKey           `json:"failed,omitempty"`
}

type PredictionStatus string

const (
	StatusPending  PredictionStatus = "pending"
	StatusResolved PredictionStatus = "resolved"
)

// PredictionRecord is one ledger entry. Component signals are pointers so an
// absent component is distinguishable from a neutral 0.
type PredictionRecord struct {
	ID                 string                `json:"id"`
	Symbol             string                `json:"symbol"`
	MarketType         string                `json:"market_type"`
	Timeframe          string                `json:"timeframe"`
	PredictedDirection Direction             `json:"predicted_direction"`
	PredictedPrice     float64               `json:"predicted_price"`
	CurrentPrice       float64               `json:"current_price"`
	ConfidenceScore    float64               `json:"confidence_score"`
	TechnicalSignal    *float64              `json:"technical_signal,omitempty"`
	SentimentSignal    *float64              `json:"sentiment_signal,omitempty"`
	MLSignal           *float64              `json:"ml_signal,omitempty"`
	IndicatorSignals   map[string]float64    `json:"indicator_signals,omitempty"`
	WeightsUsed        map[SignalKey]float64 `json:"weights_used,omitempty"`
	MarketRegime       Regime                `json:"market_regime"`
	CreatedAt          time.Time             `json:"created_at"`
	ExpiresAt          time.Time             `json:"expires_at"`
	Status             PredictionStatus      `json:"status"`

	ActualPrice       *float64   `json:"actual_price,omitempty"`
	ActualDirection   *Direction `json:"actual_direction,omitempty"`
	DirectionCorrect  *bool      `json:"direction_correct,omitempty"`
	PriceErrorPercent *float64   `json:"price_error_percent,omitempty"`
	ResolvedAt        *time.Time `json:"resolved_at,omitempty"`
}

func (r PredictionRecord) Resolved() bool {
	return r.Status == StatusResolved
}

// ComponentSignal returns the recorded signal for a component, if any.
func (r PredictionRecord) ComponentSignal(k SignalKey) (float64, bool) {
	var p *float64
	switch k {
	case ComponentTechnical:
		p = r.TechnicalSignal
	case ComponentSentiment:
		p = r.SentimentSignal
	case ComponentML:
		p = r.MLSignal
	}
	if p == nil {
		return 0, false
	}
	return *p, true
}

// Clone deep-copies pointer and map fields so callers cannot mutate ledger state.
func (r PredictionRecord) Clone() PredictionRecord {
	out := r
	out.TechnicalSignal = cloneFloat(r.TechnicalSignal)
	out.SentimentSignal = cloneFloat(r.SentimentSignal)
	out.MLSignal = cloneFloat(r.MLSignal)
	out.ActualPrice = cloneFloat(r.ActualPrice)
	out.PriceErrorPercent = cloneFloat(r.PriceErrorPercent)
	if r.ActualDirection != nil {
		d := *r.ActualDirection
		out.ActualDirection = &d
	}
	if r.DirectionCorrect != nil {
		b := *r.DirectionCorrect
		out.DirectionCorrect = &b
	}
	if r.ResolvedAt != nil {
		t := *r.ResolvedAt
		out.ResolvedAt = &t
	}
	if r.IndicatorSignals != nil {
		out.IndicatorSignals = make(map[string]float64, len(r.IndicatorSignals))
		for k, v := range r.IndicatorSignals {
			out.IndicatorSignals[k] = v
		}
	}
	if r.WeightsUsed != nil {
		out.WeightsUsed = make(map[SignalKey]float64, len(r.WeightsUsed))
		for k, v := range r.WeightsUsed {
			out.WeightsUsed[k] = v
		}
	}
	return out
}

func cloneFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Float64Ptr is a small helper for optional signal fields.
func Float64Ptr(v float64) *float64 { return &v }

// Outcome is the realized result attached to a prediction on resolution.
type Outcome struct {
	PredictionID      string    `json:"prediction_id"`
	ActualPrice       float64   `json:"actual_price"`
	ActualDirection   Direction `json:"actual_direction"`
	DirectionCorrect  bool      `json:"direction_correct"`
	PriceErrorPercent float64   `json:"price_error_percent"`
	ResolvedAt        time.Time `json:"resolved_at"`
}

// OutcomeFromRecord rebuilds the outcome of a resolved record.
func OutcomeFromRecord(r PredictionRecord) (Outcome, bool) {
	if !r.Resolved() || r.ActualPrice == nil || r.ActualDirection == nil ||
		r.DirectionCorrect == nil || r.PriceErrorPercent == nil || r.ResolvedAt == nil {
		return Outcome{}, false
	}
	return Outcome{
		PredictionID:      r.ID,
		ActualPrice:       *r.ActualPrice,
		ActualDirection:   *r.ActualDirection,
		DirectionCorrect:  *r.DirectionCorrect,
		PriceErrorPercent: *r.PriceErrorPercent,
		ResolvedAt:        *r.ResolvedAt,
	}, true
}

// IndicatorScore is the rolling reliability of one technical indicator.
type IndicatorScore struct {
	Name             string                  `json:"name"`
	TotalSignals     int                     `json:"total_signals"`
	CorrectSignals   int                     `json:"correct_signals"`
	Accuracy         float64                 `json:"accuracy"`
	RecentAccuracy   float64                 `json:"recent_accuracy"`
	WeightMultiplier float64                 `json:"weight_multiplier"`
	RegimeAccuracy   map[Regime]AccuracyStat `json:"regime_accuracy,omitempty"`
	UpdatedAt        time.Time               `json:"updated_at"`
}

// OptimizedWeights is one snapshot of component weights produced by the optimizer.
type OptimizedWeights struct {
	ComponentWeights       map[SignalKey]float64 `json:"component_weights"`
	MarketRegime           Regime                `json:"market_regime"`
	OptimizationConfidence float64               `json:"optimization_confidence"`
	SampleSize             int                   `json:"sample_size"`
	Timestamp              time.Time             `json:"timestamp"`
}

func (w OptimizedWeights) Clone() OptimizedWeights {
	out := w
	out.ComponentWeights = make(map[SignalKey]float64, len(w.ComponentWeights))
	for k, v := range w.ComponentWeights {
		out.ComponentWeights[k] = v
	}
	return out
}
