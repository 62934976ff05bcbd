package ta

import "math"

const (
	rsiPeriod       = 14
	macdFast        = 12
	macdSlow        = 26
	macdSignal      = 9
	bollingerPeriod = 20
	emaFast         = 9
	emaSlow         = 21
)

// Signals maps the latest reading of each indicator onto [-1, 1] so it can be
// scored and blended into the technical component. Indicators without enough
// history are omitted.
func Signals(closes []float64) map[string]float64 {
	out := make(map[string]float64, 4)
	if len(closes) == 0 {
		return out
	}
	last := closes[len(closes)-1]

	if v, ok := rsiLast(closes, rsiPeriod); ok {
		// oversold reads bullish
		out["rsi"] = bound((50 - v) / 30)
	}

	if len(closes) >= macdSlow+macdSignal && last > 0 {
		out["macd"] = bound(macdHistLast(closes, macdFast, macdSlow, macdSignal) / last * 100)
	}

	if mid, half, ok := bandLast(closes, bollingerPeriod, 2); ok && half > 0 {
		out["bollinger"] = bound((mid - last) / half)
	}

	if len(closes) >= emaSlow {
		if slow := emaLast(closes, emaSlow); slow > 0 {
			out["ema_cross"] = bound((emaLast(closes, emaFast) - slow) / slow * 50)
		}
	}
	return out
}

func bound(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(-1, math.Min(1, v))
}
