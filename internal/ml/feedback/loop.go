package feedback

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"adaptive-ensemble/internal/domain"
	"adaptive-ensemble/internal/ml/optimizer"
	"adaptive-ensemble/internal/ml/tracker"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type Ledger interface {
	RecordPrediction(rec domain.PredictionRecord) error
	RecordOutcome(id string, actualPrice float64, at time.Time) (domain.Outcome, tracker.ResolveStatus)
	Get(id string) (domain.PredictionRecord, bool)
	PendingDue(asOf time.Time) []domain.PredictionRecord
	ResolvedBetween(from, to time.Time) []domain.PredictionRecord
}

type IndicatorScorer interface {
	RecordSignal(name string, value float64, actual domain.Direction, regime domain.Regime) domain.IndicatorScore
	Damp(name string, factor, floor float64) (domain.IndicatorScore, bool)
}

type WeightOptimizer interface {
	ShouldReoptimize(newPredictions int) bool
	Optimize(ctx context.Context, prices []float64, f optimizer.Filter) (domain.OptimizedWeights, bool)
	AdjustComponent(key domain.SignalKey, delta, floor float64) (domain.OptimizedWeights, error)
}

// PriceSource reports the realized price of a symbol at a point in time.
// ok=false means no price is available yet.
type PriceSource interface {
	FetchActualPrice(ctx context.Context, symbol string, at time.Time) (price float64, ok bool, err error)
}

// Persister stores entities best-effort; failures never reach the caller.
type Persister interface {
	Persist(ctx context.Context, entity any)
}

type Observer interface {
	PredictionRecorded(symbol, timeframe string)
	OutcomeResolved(symbol string, correct bool)
	PriceUnavailable(symbol string)
	WeightsUpdated(w map[domain.SignalKey]float64)
	LessonApplied(kind string)
}

type nopPersister struct{}

func (nopPersister) Persist(context.Context, any) {}

type nopObserver struct{}

func (nopObserver) PredictionRecorded(string, string)           {}
func (nopObserver) OutcomeResolved(string, bool)                {}
func (nopObserver) PriceUnavailable(string)                     {}
func (nopObserver) WeightsUpdated(map[domain.SignalKey]float64) {}
func (nopObserver) LessonApplied(string)                        {}

type Config struct {
	MinLessonSamples       int     `yaml:"min_lesson_samples"`
	OverconfidentScore     float64 `yaml:"overconfident_score"`
	LargePriceErrorPercent float64 `yaml:"large_price_error_percent"`
	ComponentWeakBelow     float64 `yaml:"component_weak_below"`
	ComponentStrongAbove   float64 `yaml:"component_strong_above"`
	IndicatorWeakBelow     float64 `yaml:"indicator_weak_below"`
	IndicatorStrongAbove   float64 `yaml:"indicator_strong_above"`
	ComponentPenalty       float64 `yaml:"component_penalty"`
	ComponentFloor         float64 `yaml:"component_floor"`
	IndicatorDampFactor    float64 `yaml:"indicator_damp_factor"`
	IndicatorFloor         float64 `yaml:"indicator_floor"`
}

func DefaultConfig() Config {
	return Config{
		MinLessonSamples:       5,
		OverconfidentScore:     70,
		LargePriceErrorPercent: 3,
		ComponentWeakBelow:     0.40,
		ComponentStrongAbove:   0.65,
		IndicatorWeakBelow:     0.35,
		IndicatorStrongAbove:   0.70,
		ComponentPenalty:       0.05,
		ComponentFloor:         0.1,
		IndicatorDampFactor:    0.8,
		IndicatorFloor:         0.2,
	}
}

type Deps struct {
	Ledger    Ledger
	Scorer    IndicatorScorer
	Optimizer WeightOptimizer
	Prices    PriceSource
	Persister Persister
	Observer  Observer
	Log       zerolog.Logger
	Tracer    trace.Tracer
}

// Loop ties the ledger, scorer and optimizer together. It owns no domain
// state beyond the count of predictions since the last optimization.
type Loop struct {
	cfg       Config
	ledger    Ledger
	scorer    IndicatorScorer
	optimizer WeightOptimizer
	prices    PriceSource
	persist   Persister
	observe   Observer
	log       zerolog.Logger
	tracer    trace.Tracer
	now       func() time.Time

	sinceOptimize atomic.Int64

	appliedMu sync.Mutex
	applied   map[string]struct{}
}

func NewLoop(cfg Config, deps Deps) *Loop {
	def := DefaultConfig()
	if cfg.MinLessonSamples <= 0 {
		cfg.MinLessonSamples = def.MinLessonSamples
	}
	if cfg.OverconfidentScore <= 0 {
		cfg.OverconfidentScore = def.OverconfidentScore
	}
	if cfg.LargePriceErrorPercent <= 0 {
		cfg.LargePriceErrorPercent = def.LargePriceErrorPercent
	}
	if cfg.ComponentWeakBelow <= 0 {
		cfg.ComponentWeakBelow = def.ComponentWeakBelow
	}
	if cfg.ComponentStrongAbove <= 0 {
		cfg.ComponentStrongAbove = def.ComponentStrongAbove
	}
	if cfg.IndicatorWeakBelow <= 0 {
		cfg.IndicatorWeakBelow = def.IndicatorWeakBelow
	}
	if cfg.IndicatorStrongAbove <= 0 {
		cfg.IndicatorStrongAbove = def.IndicatorStrongAbove
	}
	if cfg.ComponentPenalty <= 0 {
		cfg.ComponentPenalty = def.ComponentPenalty
	}
	if cfg.ComponentFloor <= 0 {
		cfg.ComponentFloor = def.ComponentFloor
	}
	if cfg.IndicatorDampFactor <= 0 || cfg.IndicatorDampFactor >= 1 {
		cfg.IndicatorDampFactor = def.IndicatorDampFactor
	}
	if cfg.IndicatorFloor <= 0 {
		cfg.IndicatorFloor = def.IndicatorFloor
	}

	l := &Loop{
		cfg:       cfg,
		ledger:    deps.Ledger,
		scorer:    deps.Scorer,
		optimizer: deps.Optimizer,
		prices:    deps.Prices,
		persist:   deps.Persister,
		observe:   deps.Observer,
		log:       deps.Log,
		tracer:    deps.Tracer,
		now:       time.Now,
		applied:   map[string]struct{}{},
	}
	if l.persist == nil {
		l.persist = nopPersister{}
	}
	if l.observe == nil {
		l.observe = nopObserver{}
	}
	if l.tracer == nil {
		l.tracer = trace.NewNoopTracerProvider().Tracer("feedback")
	}
	return l
}

type PredictionInput struct {
	ID               string
	Symbol           string
	MarketType       string
	Timeframe        string
	CurrentPrice     float64
	PredictedPrice   float64
	Direction        domain.Direction
	ConfidenceScore  float64
	TechnicalSignal  *float64
	SentimentSignal  *float64
	MLSignal         *float64
	IndicatorSignals map[string]float64
	WeightsUsed      map[domain.SignalKey]float64
	Regime           domain.Regime
	CreatedAt        time.Time
}

// RecordPrediction appends the prediction to the ledger and persists it.
func (l *Loop) RecordPrediction(ctx context.Context, in PredictionInput) (domain.PredictionRecord, error) {
	rec, err := l.AppendPrediction(ctx, in)
	if err != nil {
		return domain.PredictionRecord{}, err
	}
	l.PersistPrediction(ctx, rec)
	return rec, nil
}

// AppendPrediction validates the prediction and appends it to the ledger
// without touching the persistence sinks.
func (l *Loop) AppendPrediction(ctx context.Context, in PredictionInput) (domain.PredictionRecord, error) {
	_, span := l.tracer.Start(ctx, "feedback.append-prediction")
	defer span.End()

	horizon, err := domain.TimeframeDuration(in.Timeframe)
	if err != nil {
		return domain.PredictionRecord{}, err
	}
	id := strings.TrimSpace(in.ID)
	if id == "" {
		id = uuid.NewString()
	}
	created := in.CreatedAt
	if created.IsZero() {
		created = l.now()
	}
	created = created.UTC()
	reg := in.Regime
	if reg == "" {
		reg = domain.RegimeUnknown
	}
	dir := in.Direction
	if dir == "" {
		dir = domain.DirectionFlat
	}

	rec := domain.PredictionRecord{
		ID:                 id,
		Symbol:             strings.ToUpper(strings.TrimSpace(in.Symbol)),
		MarketType:         in.MarketType,
		Timeframe:          strings.ToLower(strings.TrimSpace(in.Timeframe)),
		PredictedDirection: dir,
		PredictedPrice:     in.PredictedPrice,
		CurrentPrice:       in.CurrentPrice,
		ConfidenceScore:    domain.Clamp(in.ConfidenceScore, 0, 100),
		TechnicalSignal:    in.TechnicalSignal,
		SentimentSignal:    in.SentimentSignal,
		MLSignal:           in.MLSignal,
		IndicatorSignals:   in.IndicatorSignals,
		WeightsUsed:        in.WeightsUsed,
		MarketRegime:       reg,
		CreatedAt:          created,
		ExpiresAt:          created.Add(horizon),
		Status:             domain.StatusPending,
	}
	rec = rec.Clone()
	span.SetAttributes(attribute.String("prediction.id", id), attribute.String("prediction.symbol", rec.Symbol))

	if err := l.ledger.RecordPrediction(rec); err != nil {
		return domain.PredictionRecord{}, err
	}
	l.sinceOptimize.Add(1)
	l.observe.PredictionRecorded(rec.Symbol, rec.Timeframe)
	return rec, nil
}

func (l *Loop) PersistPrediction(ctx context.Context, rec domain.PredictionRecord) {
	l.persist.Persist(ctx, rec)
}

// EvidenceCount is the number of predictions recorded since the last optimization.
func (l *Loop) EvidenceCount() int {
	return int(l.sinceOptimize.Load())
}

// CheckAndResolveExpired resolves every due prediction whose realized price is
// available. Predictions without a price stay pending for the next pass.
func (l *Loop) CheckAndResolveExpired(ctx context.Context) int {
	ctx, span := l.tracer.Start(ctx, "feedback.resolve-expired")
	defer span.End()

	due := l.ledger.PendingDue(l.now())
	resolved := 0
	for _, rec := range due {
		if ctx.Err() != nil {
			break
		}
		price, ok, err := l.prices.FetchActualPrice(ctx, rec.Symbol, rec.ExpiresAt)
		if err != nil {
			l.log.Warn().Err(err).Str("prediction_id", rec.ID).Str("symbol", rec.Symbol).Msg("actual price fetch failed, leaving prediction pending")
			l.observe.PriceUnavailable(rec.Symbol)
			continue
		}
		if !ok || !(price > 0) || math.IsInf(price, 0) {
			l.log.Debug().Str("prediction_id", rec.ID).Str("symbol", rec.Symbol).Msg("actual price not available yet")
			l.observe.PriceUnavailable(rec.Symbol)
			continue
		}

		outcome, status := l.ledger.RecordOutcome(rec.ID, price, l.now())
		if status != tracker.Resolved {
			continue
		}
		resolved++

		names := make([]string, 0, len(rec.IndicatorSignals))
		for name := range rec.IndicatorSignals {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			l.scorer.RecordSignal(name, rec.IndicatorSignals[name], outcome.ActualDirection, rec.MarketRegime)
		}

		l.observe.OutcomeResolved(rec.Symbol, outcome.DirectionCorrect)
		if updated, ok := l.ledger.Get(rec.ID); ok {
			l.persist.Persist(ctx, updated)
		}
	}
	span.SetAttributes(attribute.Int("feedback.due", len(due)), attribute.Int("feedback.resolved", resolved))
	if resolved > 0 {
		l.log.Info().Int("due", len(due)).Int("resolved", resolved).Msg("resolved expired predictions")
	}
	return resolved
}

// MaybeOptimizeWeights re-optimizes once enough new predictions have been
// recorded since the previous run. prices is only called when the evidence
// threshold is met. ok reports whether new weights were installed.
func (l *Loop) MaybeOptimizeWeights(ctx context.Context, prices func(context.Context) []float64, f optimizer.Filter) (domain.OptimizedWeights, bool) {
	n := l.sinceOptimize.Load()
	if !l.optimizer.ShouldReoptimize(int(n)) {
		return domain.OptimizedWeights{}, false
	}
	l.sinceOptimize.Add(-n)
	var series []float64
	if prices != nil {
		series = prices(ctx)
	}
	return l.optimize(ctx, series, f)
}

// OptimizeWeights runs an optimization regardless of accumulated evidence.
// The evidence counter is reset all the same.
func (l *Loop) OptimizeWeights(ctx context.Context, prices []float64, f optimizer.Filter) domain.OptimizedWeights {
	l.sinceOptimize.Add(-l.sinceOptimize.Load())
	w, _ := l.optimize(ctx, prices, f)
	return w
}

// optimize persists only snapshots the optimizer actually installed, so a
// declined run never reaches the weights store.
func (l *Loop) optimize(ctx context.Context, prices []float64, f optimizer.Filter) (domain.OptimizedWeights, bool) {
	ctx, span := l.tracer.Start(ctx, "feedback.optimize-weights")
	defer span.End()

	w, installed := l.optimizer.Optimize(ctx, prices, f)
	span.SetAttributes(attribute.Bool("feedback.weights_installed", installed))
	if !installed {
		return w, false
	}
	l.observe.WeightsUpdated(w.ComponentWeights)
	l.persist.Persist(ctx, w)
	return w, true
}

type ApplySummary struct {
	Applied  []domain.Lesson `json:"applied"`
	Surfaced []domain.Lesson `json:"surfaced"`
}

// ApplyLessons auto-applies high severity lessons. Everything else, including
// high lessons that could not be applied, is surfaced for review.
func (l *Loop) ApplyLessons(ctx context.Context, lessons []domain.Lesson) ApplySummary {
	ctx, span := l.tracer.Start(ctx, "feedback.apply-lessons")
	defer span.End()

	summary := ApplySummary{Applied: []domain.Lesson{}, Surfaced: []domain.Lesson{}}
	for _, lesson := range lessons {
		if lesson.Severity != domain.SeverityHigh {
			summary.Surfaced = append(summary.Surfaced, lesson)
			continue
		}
		if err := l.apply(ctx, lesson); err != nil {
			l.log.Warn().Err(err).Str("type", string(lesson.Type)).Str("target", lesson.Target).Msg("lesson not applied")
			summary.Surfaced = append(summary.Surfaced, lesson)
			continue
		}
		l.observe.LessonApplied(string(lesson.Type))
		summary.Applied = append(summary.Applied, lesson)
	}
	span.SetAttributes(attribute.Int("lessons.applied", len(summary.Applied)), attribute.Int("lessons.surfaced", len(summary.Surfaced)))
	return summary
}

// ApplyReportLessons applies a report's lessons at most once per report date.
// A second call for the same date returns ErrLessonsApplied.
func (l *Loop) ApplyReportLessons(ctx context.Context, report domain.DailyReport) (ApplySummary, error) {
	l.appliedMu.Lock()
	if _, done := l.applied[report.Date]; done {
		l.appliedMu.Unlock()
		return ApplySummary{}, fmt.Errorf("report %s: %w", report.Date, domain.ErrLessonsApplied)
	}
	l.applied[report.Date] = struct{}{}
	l.appliedMu.Unlock()

	return l.ApplyLessons(ctx, report.Lessons), nil
}

func (l *Loop) apply(ctx context.Context, lesson domain.Lesson) error {
	switch {
	case lesson.Type == domain.LessonComponent && lesson.Action == domain.ActionDecrease:
		key, err := domain.ParseComponent(lesson.Target)
		if err != nil {
			return err
		}
		w, err := l.optimizer.AdjustComponent(key, -l.cfg.ComponentPenalty, l.cfg.ComponentFloor)
		if err != nil {
			return err
		}
		l.observe.WeightsUpdated(w.ComponentWeights)
		l.persist.Persist(ctx, w)
		return nil

	case lesson.Type == domain.LessonIndicator && lesson.Action == domain.ActionDampen:
		if _, ok := l.scorer.Damp(lesson.Target, l.cfg.IndicatorDampFactor, l.cfg.IndicatorFloor); !ok {
			return fmt.Errorf("indicator %q has no score", lesson.Target)
		}
		return nil

	case lesson.Type == domain.LessonCalibration && len(lesson.Indicators) > 0:
		damped := 0
		for _, name := range lesson.Indicators {
			if _, ok := l.scorer.Damp(name, l.cfg.IndicatorDampFactor, l.cfg.IndicatorFloor); ok {
				damped++
			}
		}
		if damped == 0 {
			return fmt.Errorf("none of %v has a score", lesson.Indicators)
		}
		return nil
	}
	return fmt.Errorf("no automatic action for %s/%s", lesson.Type, lesson.Action)
}
