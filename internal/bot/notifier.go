package bot

import (
	"context"
	"fmt"
	"strings"

	"adaptive-ensemble/internal/domain"
	"adaptive-ensemble/internal/ml/feedback"

	"github.com/rs/zerolog"
	tele "gopkg.in/telebot.v3"
)

type messageSender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// ReportNotifier pushes the daily report to one chat. A nil notifier is a no-op.
type ReportNotifier struct {
	sender messageSender
	chat   tele.Recipient
	log    zerolog.Logger
}

// NewReportNotifier returns nil when either the token or the chat id is missing.
func NewReportNotifier(token string, chatID int64, log zerolog.Logger) (*ReportNotifier, error) {
	if token == "" || chatID == 0 {
		log.Info().Msg("telegram report chat not configured, daily reports will not be pushed")
		return nil, nil
	}
	b, err := newBot(tele.Settings{Token: token, Offline: true})
	if err != nil {
		return nil, fmt.Errorf("create telegram notifier: %w", err)
	}
	return &ReportNotifier{sender: b, chat: tele.ChatID(chatID), log: log}, nil
}

func (n *ReportNotifier) NotifyReport(_ context.Context, report domain.DailyReport, applied feedback.ApplySummary) error {
	if n == nil || n.sender == nil {
		return nil
	}
	if _, err := n.sender.Send(n.chat, FormatReport(report, applied)); err != nil {
		return fmt.Errorf("send daily report: %w", err)
	}
	n.log.Debug().Str("date", report.Date).Msg("daily report pushed to telegram")
	return nil
}

func FormatReport(r domain.DailyReport, applied feedback.ApplySummary) string {
	if r.Status == domain.ReportNoData {
		return fmt.Sprintf("Daily report %s: no predictions resolved", r.Date)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Daily report %s\n", r.Date)
	fmt.Fprintf(&b, "Predictions: %d, correct: %d (%.1f%%)\n", r.Summary.Total, r.Summary.Correct, r.Summary.DirectionAccuracy*100)
	fmt.Fprintf(&b, "Avg price error: %.2f%%, avg confidence: %.0f\n", r.Summary.AvgPriceError, r.Summary.AvgConfidence)

	if len(r.ComponentAccuracy) > 0 {
		b.WriteString("Components:\n")
		b.WriteString(strings.Join(sortedAccuracy(r.ComponentAccuracy), "\n"))
		b.WriteString("\n")
	}
	if len(r.FailureReasons) > 0 {
		b.WriteString("Top failure reasons:\n")
		for i, fr := range r.FailureReasons {
			if i == 3 {
				break
			}
			fmt.Fprintf(&b, "  %s x%d\n", fr.Reason, fr.Count)
		}
	}
	writeLessons(&b, "Applied", applied.Applied)
	writeLessons(&b, "Needs review", applied.Surfaced)
	return strings.TrimRight(b.String(), "\n")
}

func writeLessons(b *strings.Builder, title string, lessons []domain.Lesson) {
	if len(lessons) == 0 {
		return
	}
	fmt.Fprintf(b, "%s:\n", title)
	for _, l := range lessons {
		fmt.Fprintf(b, "  [%s] %s %s: %s\n", l.Severity, l.Action, l.Target, l.Reason)
	}
}
