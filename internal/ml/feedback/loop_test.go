package feedback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"adaptive-ensemble/internal/domain"
	"adaptive-ensemble/internal/ml/optimizer"
	"adaptive-ensemble/internal/ml/regime"
	"adaptive-ensemble/internal/ml/scorer"
	"adaptive-ensemble/internal/ml/tracker"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

var now = time.Date(2026, 7, 10, 12, 0, 0, 0, time.UTC)

type mapPrices map[string]float64

func (m mapPrices) FetchActualPrice(_ context.Context, symbol string, _ time.Time) (float64, bool, error) {
	p, ok := m[symbol]
	return p, ok, nil
}

type failingPrices struct{}

func (failingPrices) FetchActualPrice(context.Context, string, time.Time) (float64, bool, error) {
	return 0, false, errors.New("exchange down")
}

type recordingPersister struct {
	mu       sync.Mutex
	entities []any
}

func (p *recordingPersister) Persist(_ context.Context, e any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entities = append(p.entities, e)
}

func (p *recordingPersister) count(match func(any) bool) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.entities {
		if match(e) {
			n++
		}
	}
	return n
}

type fixture struct {
	loop    *Loop
	ledger  *tracker.Tracker
	scorer  *scorer.Scorer
	opt     *optimizer.Optimizer
	persist *recordingPersister
}

func newFixture(prices PriceSource) *fixture {
	tr := tracker.New()
	sc := scorer.New(scorer.Config{})
	tracer := trace.NewNoopTracerProvider().Tracer("test")
	opt := optimizer.New(optimizer.Config{}, tr, sc, regime.NewDetector(regime.DefaultConfig()), nil, zerolog.Nop(), tracer)
	p := &recordingPersister{}
	l := NewLoop(Config{}, Deps{
		Ledger:    tr,
		Scorer:    sc,
		Optimizer: opt,
		Prices:    prices,
		Persister: p,
		Log:       zerolog.Nop(),
		Tracer:    tracer,
	})
	l.now = func() time.Time { return now }
	return &fixture{loop: l, ledger: tr, scorer: sc, opt: opt, persist: p}
}

func input(id, symbol string, confidence float64, indicators map[string]float64) PredictionInput {
	return PredictionInput{
		ID:               id,
		Symbol:           symbol,
		MarketType:       "crypto",
		Timeframe:        "1h",
		CurrentPrice:     100,
		PredictedPrice:   101,
		Direction:        domain.DirectionUp,
		ConfidenceScore:  confidence,
		TechnicalSignal:  domain.Float64Ptr(0.5),
		IndicatorSignals: indicators,
		Regime:           domain.RegimeTrending,
		CreatedAt:        now.Add(-11 * time.Hour),
	}
}

func TestRecordPredictionBuildsRecord(t *testing.T) {
	f := newFixture(mapPrices{})
	in := input("", "btc", 65, nil)
	in.Timeframe = "4h"
	rec, err := f.loop.RecordPrediction(context.Background(), in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.ID == "" {
		t.Fatal("expected generated id")
	}
	if rec.Symbol != "BTC" || rec.Status != domain.StatusPending {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if !rec.ExpiresAt.Equal(in.CreatedAt.Add(4 * time.Hour)) {
		t.Fatalf("expires at %v", rec.ExpiresAt)
	}
	if rec.SentimentSignal != nil || rec.MLSignal != nil {
		t.Fatal("absent components must stay absent")
	}
	if f.loop.EvidenceCount() != 1 {
		t.Fatalf("evidence count = %d", f.loop.EvidenceCount())
	}
	if f.persist.count(func(e any) bool { _, ok := e.(domain.PredictionRecord); return ok }) != 1 {
		t.Fatal("record should be persisted")
	}
}

func TestAppendPredictionLeavesPersistenceToCaller(t *testing.T) {
	f := newFixture(mapPrices{})
	isRecord := func(e any) bool { _, ok := e.(domain.PredictionRecord); return ok }

	rec, err := f.loop.AppendPrediction(context.Background(), input("a1", "BTC", 50, nil))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, ok := f.ledger.Get("a1"); !ok || f.loop.EvidenceCount() != 1 {
		t.Fatal("append should land in the ledger and count as evidence")
	}
	if n := f.persist.count(isRecord); n != 0 {
		t.Fatalf("append persisted %d records", n)
	}
	f.loop.PersistPrediction(context.Background(), rec)
	if n := f.persist.count(isRecord); n != 1 {
		t.Fatalf("expected one persisted record, got %d", n)
	}
	if _, err := f.loop.AppendPrediction(context.Background(), input("a1", "BTC", 50, nil)); !errors.Is(err, domain.ErrDuplicatePredictionID) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
}

func TestRecordPredictionErrors(t *testing.T) {
	f := newFixture(mapPrices{})
	in := input("x", "BTC", 50, nil)
	in.Timeframe = "2h"
	if _, err := f.loop.RecordPrediction(context.Background(), in); !errors.Is(err, domain.ErrUnknownTimeframe) {
		t.Fatalf("expected unknown timeframe, got %v", err)
	}

	in.Timeframe = "1h"
	if _, err := f.loop.RecordPrediction(context.Background(), in); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := f.loop.RecordPrediction(context.Background(), in); !errors.Is(err, domain.ErrDuplicatePredictionID) {
		t.Fatalf("expected duplicate id, got %v", err)
	}
	if f.loop.EvidenceCount() != 1 {
		t.Fatalf("rejected predictions must not count as evidence, got %d", f.loop.EvidenceCount())
	}
}

func TestCheckAndResolveExpiredNoPrices(t *testing.T) {
	f := newFixture(mapPrices{})
	for i := 0; i < 3; i++ {
		if _, err := f.loop.RecordPrediction(context.Background(), input(fmt.Sprintf("p%d", i), "BTC", 50, map[string]float64{"rsi": 0.4})); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	before := f.ledger.PendingDue(now)

	if n := f.loop.CheckAndResolveExpired(context.Background()); n != 0 {
		t.Fatalf("resolved %d with no prices", n)
	}
	after := f.ledger.PendingDue(now)
	if len(after) != 3 {
		t.Fatalf("expected 3 pending, got %d", len(after))
	}
	for i := range before {
		if after[i].Status != domain.StatusPending || after[i].ActualPrice != nil {
			t.Fatalf("record %s changed: %+v", after[i].ID, after[i])
		}
	}
	if len(f.scorer.AllScores()) != 0 {
		t.Fatal("scorer must not be fed without an outcome")
	}
}

func TestCheckAndResolveExpiredFetchErrorLeavesPending(t *testing.T) {
	f := newFixture(failingPrices{})
	_, _ = f.loop.RecordPrediction(context.Background(), input("a", "BTC", 50, nil))
	if n := f.loop.CheckAndResolveExpired(context.Background()); n != 0 {
		t.Fatalf("resolved %d on fetch error", n)
	}
	rec, _ := f.ledger.Get("a")
	if rec.Status != domain.StatusPending {
		t.Fatal("record should stay pending")
	}
}

func TestCheckAndResolveExpiredFeedsScorer(t *testing.T) {
	f := newFixture(mapPrices{"BTC": 103})
	_, _ = f.loop.RecordPrediction(context.Background(), input("a", "BTC", 50, map[string]float64{"rsi": 0.4, "macd": -0.3}))
	future := input("b", "BTC", 50, map[string]float64{"rsi": 0.4})
	future.CreatedAt = now
	_, _ = f.loop.RecordPrediction(context.Background(), future)

	if n := f.loop.CheckAndResolveExpired(context.Background()); n != 1 {
		t.Fatalf("resolved = %d, want 1", n)
	}
	rsi, ok := f.scorer.Score("rsi")
	if !ok || rsi.TotalSignals != 1 || rsi.CorrectSignals != 1 {
		t.Fatalf("rsi score = %+v", rsi)
	}
	macd, _ := f.scorer.Score("macd")
	if macd.CorrectSignals != 0 || macd.TotalSignals != 1 {
		t.Fatalf("macd score = %+v", macd)
	}

	// second pass finds nothing new and must not double count
	if n := f.loop.CheckAndResolveExpired(context.Background()); n != 0 {
		t.Fatalf("second pass resolved %d", n)
	}
	if rsi, _ := f.scorer.Score("rsi"); rsi.TotalSignals != 1 {
		t.Fatalf("rsi double counted: %+v", rsi)
	}
	resolvedPersisted := f.persist.count(func(e any) bool {
		r, ok := e.(domain.PredictionRecord)
		return ok && r.Status == domain.StatusResolved
	})
	if resolvedPersisted != 1 {
		t.Fatalf("resolved records persisted = %d", resolvedPersisted)
	}
}

// racingLedger reports every outcome as already resolved, as if another
// worker got there first.
type racingLedger struct {
	*tracker.Tracker
}

func (racingLedger) RecordOutcome(string, float64, time.Time) (domain.Outcome, tracker.ResolveStatus) {
	return domain.Outcome{ActualDirection: domain.DirectionUp}, tracker.AlreadyResolved
}

func TestScorerOnlyFedOnActualResolution(t *testing.T) {
	f := newFixture(mapPrices{"BTC": 103})
	f.loop.ledger = racingLedger{f.ledger}
	_, _ = f.loop.RecordPrediction(context.Background(), input("a", "BTC", 50, map[string]float64{"rsi": 0.4}))

	if n := f.loop.CheckAndResolveExpired(context.Background()); n != 0 {
		t.Fatalf("resolved = %d", n)
	}
	if _, ok := f.scorer.Score("rsi"); ok {
		t.Fatal("scorer fed for an outcome this call did not resolve")
	}
}

type countingOptimizer struct {
	WeightOptimizer
	calls   int
	decline bool
}

func (c *countingOptimizer) ShouldReoptimize(n int) bool { return n >= 3 }

func (c *countingOptimizer) Optimize(context.Context, []float64, optimizer.Filter) (domain.OptimizedWeights, bool) {
	c.calls++
	return domain.OptimizedWeights{ComponentWeights: domain.DefaultComponentWeights()}, !c.decline
}

func isWeights(e any) bool {
	_, ok := e.(domain.OptimizedWeights)
	return ok
}

func TestMaybeOptimizeWeights(t *testing.T) {
	f := newFixture(mapPrices{})
	opt := &countingOptimizer{}
	f.loop.optimizer = opt

	for i := 0; i < 2; i++ {
		_, _ = f.loop.RecordPrediction(context.Background(), input(fmt.Sprintf("p%d", i), "BTC", 50, nil))
	}
	if _, ok := f.loop.MaybeOptimizeWeights(context.Background(), nil, optimizer.Filter{}); ok {
		t.Fatal("should not optimize below threshold")
	}
	_, _ = f.loop.RecordPrediction(context.Background(), input("p2", "BTC", 50, nil))
	if _, ok := f.loop.MaybeOptimizeWeights(context.Background(), nil, optimizer.Filter{}); !ok {
		t.Fatal("should optimize at threshold")
	}
	if opt.calls != 1 || f.loop.EvidenceCount() != 0 {
		t.Fatalf("calls=%d evidence=%d", opt.calls, f.loop.EvidenceCount())
	}
	if _, ok := f.loop.MaybeOptimizeWeights(context.Background(), nil, optimizer.Filter{}); ok {
		t.Fatal("counter should have been reset")
	}
	if f.persist.count(isWeights) != 1 {
		t.Fatal("optimized weights should be persisted")
	}
}

func TestMaybeOptimizeWeightsLoadsPricesOnlyPastThreshold(t *testing.T) {
	f := newFixture(mapPrices{})
	f.loop.optimizer = &countingOptimizer{}

	loads := 0
	prices := func(context.Context) []float64 {
		loads++
		return []float64{100, 101, 102}
	}
	_, _ = f.loop.RecordPrediction(context.Background(), input("p0", "BTC", 50, nil))
	f.loop.MaybeOptimizeWeights(context.Background(), prices, optimizer.Filter{})
	if loads != 0 {
		t.Fatalf("prices loaded below threshold: %d", loads)
	}
	for i := 1; i < 3; i++ {
		_, _ = f.loop.RecordPrediction(context.Background(), input(fmt.Sprintf("p%d", i), "BTC", 50, nil))
	}
	f.loop.MaybeOptimizeWeights(context.Background(), prices, optimizer.Filter{})
	if loads != 1 {
		t.Fatalf("expected one price load, got %d", loads)
	}
}

func TestDeclinedOptimizationIsNotPersisted(t *testing.T) {
	f := newFixture(mapPrices{})
	for i := 0; i < 3; i++ {
		_, _ = f.loop.RecordPrediction(context.Background(), input(fmt.Sprintf("p%d", i), "BTC", 50, nil))
	}

	// The real optimizer declines without resolved samples.
	w := f.loop.OptimizeWeights(context.Background(), nil, optimizer.Filter{})
	if len(w.ComponentWeights) != 3 {
		t.Fatalf("expected current weights returned, got %v", w.ComponentWeights)
	}
	if _, ok := f.opt.CurrentWeights(); ok {
		t.Fatal("no weights should be installed")
	}
	if n := f.persist.count(isWeights); n != 0 {
		t.Fatalf("declined optimization persisted %d snapshots", n)
	}

	opt := &countingOptimizer{decline: true}
	f.loop.optimizer = opt
	if _, ok := f.loop.MaybeOptimizeWeights(context.Background(), nil, optimizer.Filter{}); ok {
		t.Fatal("declined optimization should not report installed weights")
	}
	if opt.calls != 1 || f.persist.count(isWeights) != 0 {
		t.Fatalf("calls=%d persisted=%d", opt.calls, f.persist.count(isWeights))
	}
}

func TestOptimizeWeightsForced(t *testing.T) {
	f := newFixture(mapPrices{})
	opt := &countingOptimizer{}
	f.loop.optimizer = opt

	_, _ = f.loop.RecordPrediction(context.Background(), input("p0", "BTC", 50, nil))
	w := f.loop.OptimizeWeights(context.Background(), nil, optimizer.Filter{})
	if opt.calls != 1 || len(w.ComponentWeights) != 3 {
		t.Fatalf("expected a forced optimization, calls=%d weights=%v", opt.calls, w.ComponentWeights)
	}
	if f.loop.EvidenceCount() != 0 {
		t.Fatalf("forced optimization should reset evidence, got %d", f.loop.EvidenceCount())
	}
}
