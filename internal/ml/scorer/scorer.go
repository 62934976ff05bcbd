package scorer

import (
	"math"
	"sort"
	"sync"
	"time"

	"adaptive-ensemble/internal/domain"
)

const (
	defaultWindow     = 20
	defaultMinSamples = 5
	defaultFloor      = 0.2
	defaultCeiling    = 1.5

	recentBlend = 0.6
)

type Config struct {
	Window     int     `yaml:"window"`
	MinSamples int     `yaml:"min_samples"`
	Floor      float64 `yaml:"floor"`
	Ceiling    float64 `yaml:"ceiling"`
}

func DefaultConfig() Config {
	return Config{Window: defaultWindow, MinSamples: defaultMinSamples, Floor: defaultFloor, Ceiling: defaultCeiling}
}

func (c Config) withDefaults() Config {
	if c.Window <= 0 {
		c.Window = defaultWindow
	}
	if c.MinSamples <= 0 {
		c.MinSamples = defaultMinSamples
	}
	if c.Floor <= 0 {
		c.Floor = defaultFloor
	}
	if c.Ceiling <= c.Floor {
		c.Ceiling = defaultCeiling
	}
	return c
}

type state struct {
	score     domain.IndicatorScore
	recent    []bool
	damping   float64
	dampFloor float64
}

// Scorer tracks how often each technical indicator called the realized
// direction and turns that into a bounded weight multiplier.
type Scorer struct {
	mu     sync.Mutex
	cfg    Config
	scores map[string]*state
	now    func() time.Time
}

func New(cfg Config) *Scorer {
	return &Scorer{
		cfg:    cfg.withDefaults(),
		scores: make(map[string]*state),
		now:    time.Now,
	}
}

func (s *Scorer) RecordSignal(name string, value float64, actual domain.Direction, regime domain.Regime) domain.IndicatorScore {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.scores[name]
	if !ok {
		st = &state{
			score: domain.IndicatorScore{
				Name:             name,
				WeightMultiplier: 1,
				RegimeAccuracy:   map[domain.Regime]domain.AccuracyStat{},
			},
			damping: 1,
		}
		s.scores[name] = st
	}

	correct := domain.DirectionFromSignal(value) == actual
	st.score.TotalSignals++
	if correct {
		st.score.CorrectSignals++
	}
	st.score.Accuracy = float64(st.score.CorrectSignals) / float64(st.score.TotalSignals)

	if regime == "" {
		regime = domain.RegimeUnknown
	}
	rs := st.score.RegimeAccuracy[regime]
	rs.Add(correct)
	st.score.RegimeAccuracy[regime] = rs

	st.recent = append(st.recent, correct)
	if len(st.recent) > s.cfg.Window {
		st.recent = st.recent[len(st.recent)-s.cfg.Window:]
	}
	hits := 0
	for _, c := range st.recent {
		if c {
			hits++
		}
	}
	st.score.RecentAccuracy = float64(hits) / float64(len(st.recent))

	st.score.WeightMultiplier = s.multiplier(st)
	st.score.UpdatedAt = s.now().UTC()
	return cloneScore(st.score)
}

// Damp applies a persistent damping factor to an indicator's multiplier. The
// result never drops below floor (or the configured floor, whichever is higher).
func (s *Scorer) Damp(name string, factor, floor float64) (domain.IndicatorScore, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.scores[name]
	if !ok || factor <= 0 || math.IsNaN(factor) {
		return domain.IndicatorScore{}, false
	}
	st.damping *= factor
	st.dampFloor = math.Max(st.dampFloor, floor)
	st.score.WeightMultiplier = s.multiplier(st)
	st.score.UpdatedAt = s.now().UTC()
	return cloneScore(st.score), true
}

func (s *Scorer) multiplier(st *state) float64 {
	base := 1.0
	if st.score.TotalSignals >= s.cfg.MinSamples {
		blended := recentBlend*st.score.RecentAccuracy + (1-recentBlend)*st.score.Accuracy
		base = s.mapAccuracy(blended)
	}
	lo := math.Max(s.cfg.Floor, st.dampFloor)
	return domain.Clamp(base*st.damping, lo, s.cfg.Ceiling)
}

// mapAccuracy is piecewise linear: 0 -> Floor, 0.5 -> 1, 1 -> Ceiling.
func (s *Scorer) mapAccuracy(acc float64) float64 {
	acc = domain.Clamp(acc, 0, 1)
	if acc <= 0.5 {
		return s.cfg.Floor + (1-s.cfg.Floor)*(acc/0.5)
	}
	return 1 + (s.cfg.Ceiling-1)*((acc-0.5)/0.5)
}

func (s *Scorer) Score(name string) (domain.IndicatorScore, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.scores[name]
	if !ok {
		return domain.IndicatorScore{}, false
	}
	return cloneScore(st.score), true
}

// Multiplier returns 1.0 for indicators with no history.
func (s *Scorer) Multiplier(name string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.scores[name]; ok {
		return st.score.WeightMultiplier
	}
	return 1
}

func (s *Scorer) AllScores() []domain.IndicatorScore {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.IndicatorScore, 0, len(s.scores))
	for _, st := range s.scores {
		out = append(out, cloneScore(st.score))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func cloneScore(sc domain.IndicatorScore) domain.IndicatorScore {
	out := sc
	out.RegimeAccuracy = make(map[domain.Regime]domain.AccuracyStat, len(sc.RegimeAccuracy))
	for k, v := range sc.RegimeAccuracy {
		out.RegimeAccuracy[k] = v
	}
	return out
}
