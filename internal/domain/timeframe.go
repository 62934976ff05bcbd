package domain

import (
	"fmt"
	"strings"
	"time"
)

var timeframes = map[string]time.Duration{
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
	"1h":  time.Hour,
	"4h":  4 * time.Hour,
	"12h": 12 * time.Hour,
	"1d":  24 * time.Hour,
	"24h": 24 * time.Hour,
	"1w":  7 * 24 * time.Hour,
}

// TimeframeDuration returns how long a prediction for the timeframe stays open.
func TimeframeDuration(tf string) (time.Duration, error) {
	d, ok := timeframes[strings.ToLower(strings.TrimSpace(tf))]
	if !ok {
		return 0, fmt.Errorf("timeframe %q: %w", tf, ErrUnknownTimeframe)
	}
	return d, nil
}
