package bot

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"adaptive-ensemble/internal/domain"
	"adaptive-ensemble/internal/ml/tracker"

	"github.com/rs/zerolog"
	tele "gopkg.in/telebot.v3"
)

type AccuracySource interface {
	AccuracyMetrics(f tracker.Filter) tracker.Metrics
}

type WeightsSource interface {
	Weights() domain.WeightConfig
}

var newBot = tele.NewBot

// StartTelegramBot serves /accuracy and /weights. A nil bot is returned when
// no token is configured.
func StartTelegramBot(token string, accuracy AccuracySource, weights WeightsSource, log zerolog.Logger) (*tele.Bot, error) {
	if token == "" {
		log.Info().Msg("TELEGRAM_BOT_TOKEN not set, skipping Telegram bot startup")
		return nil, nil
	}
	b, err := newBot(tele.Settings{
		Token:  token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	})
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}

	b.Handle("/ping", func(c tele.Context) error {
		return c.Send("pong")
	})

	b.Handle("/accuracy", func(c tele.Context) error {
		f := tracker.Filter{}
		if args := c.Args(); len(args) > 0 {
			f.Symbol = strings.ToUpper(args[0])
		}
		return c.Send(accuracyText(f.Symbol, accuracy.AccuracyMetrics(f)))
	})

	b.Handle("/weights", func(c tele.Context) error {
		return c.Send(weightsText(weights.Weights()))
	})

	log.Info().Msg("telegram bot started")
	go b.Start()
	return b, nil
}

func accuracyText(symbol string, m tracker.Metrics) string {
	scope := "all symbols"
	if symbol != "" {
		scope = symbol
	}
	if m.Resolved == 0 {
		return fmt.Sprintf("No resolved predictions for %s yet (%d pending)", scope, m.Pending)
	}
	return fmt.Sprintf(
		"Accuracy for %s\nResolved: %d (%d pending)\nDirection accuracy: %.1f%%\nAvg price error: %.2f%%\nAvg confidence when right/wrong: %.0f / %.0f",
		scope, m.Resolved, m.Pending, m.DirectionAccuracy*100, m.AvgPriceError,
		m.AvgConfidenceWhenCorrect, m.AvgConfidenceWhenWrong,
	)
}

func weightsText(w domain.WeightConfig) string {
	lines := []string{"Component weights"}
	for _, k := range w.Keys() {
		lines = append(lines, fmt.Sprintf("%s: %.3f", k, w[k]))
	}
	return strings.Join(lines, "\n")
}

// sortedAccuracy renders a name->stat map in name order.
func sortedAccuracy(stats map[string]domain.AccuracyStat) []string {
	names := make([]string, 0, len(stats))
	for name := range stats {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]string, 0, len(names))
	for _, name := range names {
		s := stats[name]
		out = append(out, fmt.Sprintf("  %s: %.0f%% (%d/%d)", name, s.Accuracy*100, s.Correct, s.Total))
	}
	return out
}
