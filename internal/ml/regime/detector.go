package regime

import (
	"math"

	"adaptive-ensemble/internal/domain"
	"adaptive-ensemble/internal/ta"
)

type Config struct {
	MinPoints int `yaml:"min_points"`
	// VolatileThreshold is the std of log returns above which the market is volatile.
	VolatileThreshold float64 `yaml:"volatile_threshold"`
	// TrendEfficiency is the minimum Kaufman efficiency ratio for a trend.
	TrendEfficiency float64 `yaml:"trend_efficiency"`
	// TrendMinMove is the minimum absolute net relative move for a trend.
	TrendMinMove float64 `yaml:"trend_min_move"`
}

func DefaultConfig() Config {
	return Config{
		MinPoints:         20,
		VolatileThreshold: 0.025,
		TrendEfficiency:   0.5,
		TrendMinMove:      0.01,
	}
}

type Analysis struct {
	Regime     domain.Regime `json:"regime"`
	Volatility float64       `json:"volatility"`
	Efficiency float64       `json:"efficiency"`
	NetChange  float64       `json:"net_change"`
	Points     int           `json:"points"`
}

// Detector classifies a price series. It holds no state.
type Detector struct {
	cfg Config
}

func NewDetector(cfg Config) *Detector {
	def := DefaultConfig()
	if cfg.MinPoints < 2 {
		cfg.MinPoints = def.MinPoints
	}
	if cfg.VolatileThreshold <= 0 {
		cfg.VolatileThreshold = def.VolatileThreshold
	}
	if cfg.TrendEfficiency <= 0 {
		cfg.TrendEfficiency = def.TrendEfficiency
	}
	if cfg.TrendMinMove <= 0 {
		cfg.TrendMinMove = def.TrendMinMove
	}
	return &Detector{cfg: cfg}
}

func (d *Detector) Detect(prices []float64) domain.Regime {
	return d.Analyze(prices).Regime
}

func (d *Detector) Analyze(prices []float64) Analysis {
	a := Analysis{Regime: domain.RegimeUnknown, Points: len(prices)}
	if len(prices) < d.cfg.MinPoints {
		return a
	}
	returns, ok := ta.LogReturns(prices)
	if !ok {
		return a
	}
	_, a.Volatility = ta.MeanStd(returns)
	a.Efficiency = ta.EfficiencyRatio(prices)
	a.NetChange = (prices[len(prices)-1] - prices[0]) / prices[0]

	switch {
	case a.Volatility > d.cfg.VolatileThreshold:
		a.Regime = domain.RegimeVolatile
	case a.Efficiency >= d.cfg.TrendEfficiency && math.Abs(a.NetChange) >= d.cfg.TrendMinMove:
		a.Regime = domain.RegimeTrending
	default:
		a.Regime = domain.RegimeSideways
	}
	return a
}
