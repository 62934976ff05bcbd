package ta

import "math"

func MeanStd(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	var variance float64
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(values))
	return mean, math.Sqrt(variance)
}

// emaLast runs an exponential moving average seeded with the first value and
// returns its final reading.
func emaLast(values []float64, period int) float64 {
	alpha := smoothing(period)
	ema := values[0]
	for _, v := range values[1:] {
		ema += alpha * (v - ema)
	}
	return ema
}

func smoothing(period int) float64 {
	if period <= 1 {
		return 1
	}
	return 2.0 / float64(period+1)
}

// rsiLast is Wilder's RSI at the final close. ok is false until period+1
// closes are available.
func rsiLast(closes []float64, period int) (float64, bool) {
	if period <= 0 || len(closes) <= period {
		return 0, false
	}
	var gain, loss float64
	for i := 1; i < len(closes); i++ {
		up := math.Max(closes[i]-closes[i-1], 0)
		down := math.Max(closes[i-1]-closes[i], 0)
		if i <= period {
			gain += up / float64(period)
			loss += down / float64(period)
			continue
		}
		gain = (gain*float64(period-1) + up) / float64(period)
		loss = (loss*float64(period-1) + down) / float64(period)
	}
	if loss == 0 {
		return 100, true
	}
	return 100 - 100/(1+gain/loss), true
}

// macdHistLast returns MACD minus its signal line at the final value. The
// three averages advance together in one pass.
func macdHistLast(values []float64, fast, slow, signal int) float64 {
	af, as, ag := smoothing(fast), smoothing(slow), smoothing(signal)
	f, s := values[0], values[0]
	sig := 0.0
	for _, v := range values[1:] {
		f += af * (v - f)
		s += as * (v - s)
		sig += ag * ((f - s) - sig)
	}
	return (f - s) - sig
}

// bandLast returns the middle band and its half-width at the final value.
func bandLast(values []float64, period int, width float64) (mid, half float64, ok bool) {
	if period <= 0 || len(values) < period {
		return 0, 0, false
	}
	mean, std := MeanStd(values[len(values)-period:])
	return mean, width * std, true
}

// LogReturns returns ln(p[i]/p[i-1]). It reports false when any price is
// non-positive or non-finite.
func LogReturns(prices []float64) ([]float64, bool) {
	if len(prices) < 2 {
		return nil, len(prices) == 0 || valid(prices[0])
	}
	out := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if !valid(prices[i-1]) || !valid(prices[i]) {
			return nil, false
		}
		out = append(out, math.Log(prices[i]/prices[i-1]))
	}
	return out, true
}

// EfficiencyRatio is Kaufman's ratio of net move to total path length, in [0, 1].
func EfficiencyRatio(prices []float64) float64 {
	if len(prices) < 2 {
		return 0
	}
	var path float64
	for i := 1; i < len(prices); i++ {
		path += math.Abs(prices[i] - prices[i-1])
	}
	if path == 0 {
		return 0
	}
	return math.Abs(prices[len(prices)-1]-prices[0]) / path
}

func valid(p float64) bool {
	return p > 0 && !math.IsNaN(p) && !math.IsInf(p, 0)
}
