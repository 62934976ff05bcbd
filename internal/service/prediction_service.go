package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"adaptive-ensemble/internal/domain"
	"adaptive-ensemble/internal/ml/ensemble"
	"adaptive-ensemble/internal/ml/feedback"
	"adaptive-ensemble/internal/ta"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const (
	defaultRecordWorkers = 8
	historyPoints        = 100
	signalScoreSpread    = 20
)

type Ensemble interface {
	Predict(ctx context.Context, in ensemble.PredictInput, weights domain.WeightConfig) domain.EnsembleResult
}

type PredictionRecorder interface {
	RecordPrediction(ctx context.Context, in feedback.PredictionInput) (domain.PredictionRecord, error)
	AppendPrediction(ctx context.Context, in feedback.PredictionInput) (domain.PredictionRecord, error)
	PersistPrediction(ctx context.Context, rec domain.PredictionRecord)
}

type ComponentWeights interface {
	Weights() domain.WeightConfig
}

type IndicatorMultipliers interface {
	Multiplier(name string) float64
}

type RegimeDetector interface {
	Detect(prices []float64) domain.Regime
}

type PriceHistory interface {
	RecentCloses(ctx context.Context, symbol string, limit int) ([]float64, error)
}

type PredictionDeps struct {
	Ensemble     Ensemble
	Recorder     PredictionRecorder
	Weights      ComponentWeights
	Indicators   IndicatorMultipliers
	Detector     RegimeDetector
	History      PriceHistory
	ModelWeights domain.WeightConfig
	Workers      int
	Log          zerolog.Logger
	Tracer       trace.Tracer
}

type PredictRequest struct {
	ID               string
	Symbol           string
	MarketType       string
	Timeframe        string
	CurrentPrice     float64
	Prices           []float64
	ModelSignals     map[string]float64
	IndicatorSignals map[string]float64
	TechnicalSignal  *float64
	SentimentSignal  *float64
}

type PredictResponse struct {
	PredictionID     string                `json:"prediction_id"`
	Symbol           string                `json:"symbol"`
	MarketType       string                `json:"market_type"`
	Timeframe        string                `json:"timeframe"`
	Forecast         domain.EnsembleResult `json:"forecast"`
	ModelEnsemble    domain.EnsembleResult `json:"model_ensemble"`
	TechnicalSignal  *float64              `json:"technical_signal,omitempty"`
	SentimentSignal  *float64              `json:"sentiment_signal,omitempty"`
	MLSignal         *float64              `json:"ml_signal,omitempty"`
	IndicatorSignals map[string]float64    `json:"indicator_signals,omitempty"`
	MarketRegime     domain.Regime         `json:"market_regime"`
	ConfidenceScore  float64               `json:"confidence_score"`
	CreatedAt        time.Time             `json:"created_at"`
	ExpiresAt        time.Time             `json:"expires_at"`
}

// PredictionService runs a forecast synchronously and hands the ledger write to
// a bounded pool. When the pool is saturated the write happens inline.
type PredictionService struct {
	deps    PredictionDeps
	records errgroup.Group
	now     func() time.Time
}

func NewPredictionService(deps PredictionDeps) *PredictionService {
	if deps.Workers <= 0 {
		deps.Workers = defaultRecordWorkers
	}
	if len(deps.ModelWeights) == 0 {
		deps.ModelWeights = domain.DefaultModelWeights()
	}
	s := &PredictionService{deps: deps, now: time.Now}
	s.records.SetLimit(deps.Workers)
	return s
}

func (s *PredictionService) Predict(ctx context.Context, req PredictRequest) (PredictResponse, error) {
	ctx, span := s.deps.Tracer.Start(ctx, "prediction-service.predict")
	defer span.End()

	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	horizon, err := domain.TimeframeDuration(req.Timeframe)
	if err != nil {
		return PredictResponse{}, err
	}
	if !(req.CurrentPrice > 0) || math.IsInf(req.CurrentPrice, 0) {
		return PredictResponse{}, fmt.Errorf("current price %v: %w", req.CurrentPrice, domain.ErrInvalidRecord)
	}
	models := make(map[domain.SignalKey]ensemble.SignalSource, len(req.ModelSignals))
	for name, v := range req.ModelSignals {
		k, err := domain.ParseModel(name)
		if err != nil {
			return PredictResponse{}, err
		}
		models[k] = ensemble.Static(v)
	}
	span.SetAttributes(attribute.String("symbol", symbol), attribute.Int("models", len(models)))

	prices := req.Prices
	if len(prices) == 0 && s.deps.History != nil && symbol != "" {
		closes, err := s.deps.History.RecentCloses(ctx, symbol, historyPoints)
		if err != nil {
			s.deps.Log.Warn().Err(err).Str("symbol", symbol).Msg("price history unavailable, predicting without it")
		} else {
			prices = closes
		}
	}

	indicators := req.IndicatorSignals
	if len(indicators) == 0 && len(prices) > 0 {
		indicators = ta.Signals(prices)
	}

	technical := req.TechnicalSignal
	if technical == nil {
		technical = s.technicalSignal(indicators)
	}

	modelResult := s.deps.Ensemble.Predict(ctx, ensemble.PredictInput{CurrentPrice: req.CurrentPrice, Sources: models}, s.deps.ModelWeights)
	var mlSignal *float64
	if modelResult.ModelCount > 0 {
		mlSignal = domain.Float64Ptr(modelResult.Signal)
	}

	reg := domain.RegimeUnknown
	if s.deps.Detector != nil {
		reg = s.deps.Detector.Detect(prices)
	}

	forecast := s.deps.Ensemble.Predict(ctx, ensemble.PredictInput{
		CurrentPrice: req.CurrentPrice,
		Sources: map[domain.SignalKey]ensemble.SignalSource{
			domain.ComponentTechnical: ensemble.FromOptional(technical),
			domain.ComponentSentiment: ensemble.FromOptional(req.SentimentSignal),
			domain.ComponentML:        ensemble.FromOptional(mlSignal),
		},
	}, s.deps.Weights.Weights())

	score := math.Min(100, forecast.Confidence.BaseScore()+math.Abs(forecast.Signal)*signalScoreSpread)
	if forecast.ModelCount == 0 {
		score = 0
	}

	created := s.now().UTC()
	id := strings.TrimSpace(req.ID)
	clientID := id != ""
	if !clientID {
		id = uuid.NewString()
	}
	marketType := req.MarketType
	if marketType == "" {
		marketType = "crypto"
	}

	in := feedback.PredictionInput{
		ID:               id,
		Symbol:           symbol,
		MarketType:       marketType,
		Timeframe:        req.Timeframe,
		CurrentPrice:     req.CurrentPrice,
		PredictedPrice:   forecast.PredictedPrice,
		Direction:        forecast.Direction,
		ConfidenceScore:  score,
		TechnicalSignal:  technical,
		SentimentSignal:  req.SentimentSignal,
		MLSignal:         mlSignal,
		IndicatorSignals: indicators,
		WeightsUsed:      forecast.WeightsUsed,
		Regime:           reg,
		CreatedAt:        created,
	}

	// Caller-chosen ids hit the ledger synchronously so a duplicate surfaces
	// as an error. Persisting still goes through the pool.
	if clientID {
		rec, err := s.deps.Recorder.AppendPrediction(ctx, in)
		if err != nil {
			return PredictResponse{}, err
		}
		s.persist(ctx, rec)
	} else {
		s.submit(ctx, in)
	}

	return PredictResponse{
		PredictionID:     id,
		Symbol:           symbol,
		MarketType:       marketType,
		Timeframe:        strings.ToLower(strings.TrimSpace(req.Timeframe)),
		Forecast:         forecast,
		ModelEnsemble:    modelResult,
		TechnicalSignal:  technical,
		SentimentSignal:  req.SentimentSignal,
		MLSignal:         mlSignal,
		IndicatorSignals: indicators,
		MarketRegime:     reg,
		ConfidenceScore:  score,
		CreatedAt:        created,
		ExpiresAt:        created.Add(horizon),
	}, nil
}

func (s *PredictionService) submit(ctx context.Context, in feedback.PredictionInput) {
	bg := context.WithoutCancel(ctx)
	record := func() error {
		if _, err := s.deps.Recorder.RecordPrediction(bg, in); err != nil {
			s.deps.Log.Error().Err(err).Str("prediction_id", in.ID).Msg("record prediction failed")
		}
		return nil
	}
	if s.records.TryGo(record) {
		return
	}
	s.deps.Log.Debug().Str("prediction_id", in.ID).Msg("record pool saturated, recording inline")
	_ = record()
}

func (s *PredictionService) persist(ctx context.Context, rec domain.PredictionRecord) {
	bg := context.WithoutCancel(ctx)
	write := func() error {
		s.deps.Recorder.PersistPrediction(bg, rec)
		return nil
	}
	if s.records.TryGo(write) {
		return
	}
	_ = write()
}

// technicalSignal blends indicator signals weighted by each indicator's trust multiplier.
func (s *PredictionService) technicalSignal(indicators map[string]float64) *float64 {
	if len(indicators) == 0 {
		return nil
	}
	names := make([]string, 0, len(indicators))
	for name := range indicators {
		names = append(names, name)
	}
	sort.Strings(names)

	var sum, weight float64
	for _, name := range names {
		v := indicators[name]
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		m := 1.0
		if s.deps.Indicators != nil {
			m = s.deps.Indicators.Multiplier(name)
		}
		sum += domain.Clamp(v, -1, 1) * m
		weight += m
	}
	if weight <= 0 {
		return nil
	}
	return domain.Float64Ptr(sum / weight)
}

// Close waits for queued ledger writes.
func (s *PredictionService) Close() error {
	return s.records.Wait()
}

// IsClientError reports whether err stems from bad request input.
func IsClientError(err error) bool {
	return errors.Is(err, domain.ErrUnknownSignalKey) ||
		errors.Is(err, domain.ErrUnknownTimeframe) ||
		errors.Is(err, domain.ErrInvalidRecord)
}
