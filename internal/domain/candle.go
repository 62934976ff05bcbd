package domain

import "time"

// Candle represents a single OHLCV candle for an asset at a given interval.
// The price source reads closes from stored candles to resolve expired predictions.
type Candle struct {
	Symbol   string    `json:"symbol"`
	Interval string    `json:"interval"`
	OpenTime time.Time `json:"open_time"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
}

// Closes extracts close prices in candle order.
func Closes(candles []*Candle) []float64 {
	out := make([]float64, 0, len(candles))
	for _, c := range candles {
		if c == nil {
			continue
		}
		out = append(out, c.Close)
	}
	return out
}
