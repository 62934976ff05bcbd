package tracker

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"adaptive-ensemble/internal/domain"
)

// OutcomeDeadZone is the +/- percent move inside which a realized price reads as FLAT.
const OutcomeDeadZone = 0.05

type ResolveStatus int

const (
	Resolved ResolveStatus = iota
	AlreadyResolved
	NotFound
)

func (s ResolveStatus) String() string {
	switch s {
	case Resolved:
		return "resolved"
	case AlreadyResolved:
		return "already_resolved"
	default:
		return "not_found"
	}
}

// Filter narrows ledger queries. Zero fields match everything.
type Filter struct {
	Symbol     string
	MarketType string
	Regime     domain.Regime
}

func (f Filter) match(r *domain.PredictionRecord) bool {
	if f.Symbol != "" && !strings.EqualFold(f.Symbol, r.Symbol) {
		return false
	}
	if f.MarketType != "" && !strings.EqualFold(f.MarketType, r.MarketType) {
		return false
	}
	if f.Regime != "" && f.Regime != r.MarketRegime {
		return false
	}
	return true
}

type Metrics struct {
	Total                    int     `json:"total"`
	Resolved                 int     `json:"resolved"`
	Pending                  int     `json:"pending"`
	Correct                  int     `json:"correct"`
	DirectionAccuracy        float64 `json:"direction_accuracy"`
	AvgPriceError            float64 `json:"avg_price_error"`
	AvgConfidenceWhenCorrect float64 `json:"avg_confidence_when_correct"`
	AvgConfidenceWhenWrong   float64 `json:"avg_confidence_when_wrong"`
}

type entry struct {
	mu  sync.Mutex
	rec domain.PredictionRecord
}

func (e *entry) snapshot() domain.PredictionRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rec.Clone()
}

// Tracker is the append-only prediction ledger. The index lock only guards
// membership; each record carries its own lock for resolution.
type Tracker struct {
	mu      sync.RWMutex
	byID    map[string]*entry
	ordered []*entry
}

func New() *Tracker {
	return &Tracker{byID: make(map[string]*entry)}
}

func (t *Tracker) RecordPrediction(rec domain.PredictionRecord) error {
	if strings.TrimSpace(rec.ID) == "" {
		return fmt.Errorf("empty id: %w", domain.ErrInvalidRecord)
	}
	if !(rec.CurrentPrice > 0) || math.IsInf(rec.CurrentPrice, 0) {
		return fmt.Errorf("prediction %s current price %v: %w", rec.ID, rec.CurrentPrice, domain.ErrInvalidRecord)
	}
	if rec.Status == "" {
		rec.Status = domain.StatusPending
	}

	e := &entry{rec: rec.Clone()}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.byID[rec.ID]; exists {
		return fmt.Errorf("prediction %s: %w", rec.ID, domain.ErrDuplicatePredictionID)
	}
	t.byID[rec.ID] = e
	t.ordered = append(t.ordered, e)
	return nil
}

// Load seeds the ledger from persisted records, skipping ids already present.
func (t *Tracker) Load(records []domain.PredictionRecord) int {
	loaded := 0
	for _, rec := range records {
		if err := t.RecordPrediction(rec); err == nil {
			loaded++
		}
	}
	return loaded
}

// RecordOutcome resolves a pending prediction. Resolution happens at most once;
// later calls return the stored outcome unchanged.
func (t *Tracker) RecordOutcome(id string, actualPrice float64, at time.Time) (domain.Outcome, ResolveStatus) {
	t.mu.RLock()
	e, ok := t.byID[id]
	t.mu.RUnlock()
	if !ok {
		return domain.Outcome{}, NotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rec.Resolved() {
		out, _ := domain.OutcomeFromRecord(e.rec)
		return out, AlreadyResolved
	}

	current := e.rec.CurrentPrice
	changePct := (actualPrice - current) / current * 100
	actualDir := domain.DirectionWithDeadZone(changePct, OutcomeDeadZone)
	correct := actualDir == e.rec.PredictedDirection
	priceErr := math.Abs(actualPrice-e.rec.PredictedPrice) / current * 100
	resolvedAt := at.UTC()

	e.rec.Status = domain.StatusResolved
	e.rec.ActualPrice = &actualPrice
	e.rec.ActualDirection = &actualDir
	e.rec.DirectionCorrect = &correct
	e.rec.PriceErrorPercent = &priceErr
	e.rec.ResolvedAt = &resolvedAt

	return domain.Outcome{
		PredictionID:      id,
		ActualPrice:       actualPrice,
		ActualDirection:   actualDir,
		DirectionCorrect:  correct,
		PriceErrorPercent: priceErr,
		ResolvedAt:        resolvedAt,
	}, Resolved
}

func (t *Tracker) Get(id string) (domain.PredictionRecord, bool) {
	t.mu.RLock()
	e, ok := t.byID[id]
	t.mu.RUnlock()
	if !ok {
		return domain.PredictionRecord{}, false
	}
	return e.snapshot(), true
}

func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.ordered)
}

// snapshot copies every record without holding the index lock while reading them.
func (t *Tracker) snapshot() []domain.PredictionRecord {
	t.mu.RLock()
	entries := make([]*entry, len(t.ordered))
	copy(entries, t.ordered)
	t.mu.RUnlock()

	out := make([]domain.PredictionRecord, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.snapshot())
	}
	return out
}

// PendingDue returns unresolved predictions whose expiry is at or before asOf,
// oldest expiry first.
func (t *Tracker) PendingDue(asOf time.Time) []domain.PredictionRecord {
	var due []domain.PredictionRecord
	for _, rec := range t.snapshot() {
		if rec.Resolved() || rec.ExpiresAt.After(asOf) {
			continue
		}
		due = append(due, rec)
	}
	sort.SliceStable(due, func(i, j int) bool { return due[i].ExpiresAt.Before(due[j].ExpiresAt) })
	return due
}

// Recent returns up to limit resolved predictions, most recently resolved first.
// limit <= 0 returns all matches.
func (t *Tracker) Recent(f Filter, limit int) []domain.PredictionRecord {
	var out []domain.PredictionRecord
	for _, rec := range t.snapshot() {
		if !rec.Resolved() || !f.match(&rec) {
			continue
		}
		out = append(out, rec)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ResolvedAt.After(*out[j].ResolvedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// ResolvedBetween returns predictions resolved in [from, to), in resolution order.
func (t *Tracker) ResolvedBetween(from, to time.Time) []domain.PredictionRecord {
	var out []domain.PredictionRecord
	for _, rec := range t.snapshot() {
		if !rec.Resolved() || rec.ResolvedAt.Before(from) || !rec.ResolvedAt.Before(to) {
			continue
		}
		out = append(out, rec)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ResolvedAt.Before(*out[j].ResolvedAt) })
	return out
}

func (t *Tracker) AccuracyMetrics(f Filter) Metrics {
	var (
		m                    Metrics
		errSum               float64
		confRight, confWrong float64
	)
	for _, rec := range t.snapshot() {
		if !f.match(&rec) {
			continue
		}
		m.Total++
		if !rec.Resolved() {
			m.Pending++
			continue
		}
		m.Resolved++
		if rec.PriceErrorPercent != nil {
			errSum += *rec.PriceErrorPercent
		}
		if rec.DirectionCorrect != nil && *rec.DirectionCorrect {
			m.Correct++
			confRight += rec.ConfidenceScore
		} else {
			confWrong += rec.ConfidenceScore
		}
	}
	if m.Resolved > 0 {
		m.DirectionAccuracy = float64(m.Correct) / float64(m.Resolved)
		m.AvgPriceError = errSum / float64(m.Resolved)
	}
	if m.Correct > 0 {
		m.AvgConfidenceWhenCorrect = confRight / float64(m.Correct)
	}
	if wrong := m.Resolved - m.Correct; wrong > 0 {
		m.AvgConfidenceWhenWrong = confWrong / float64(wrong)
	}
	return m
}
