package job

import (
	"context"
	"time"

	"adaptive-ensemble/internal/domain"
	"adaptive-ensemble/internal/ml/feedback"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

type DailyReporter interface {
	GenerateDailyReport(ctx context.Context, date time.Time) domain.DailyReport
	ApplyReportLessons(ctx context.Context, report domain.DailyReport) (feedback.ApplySummary, error)
}

type ReportNotifier interface {
	NotifyReport(ctx context.Context, report domain.DailyReport, applied feedback.ApplySummary) error
}

// DailyReportJob reports on the previous UTC day once a day, applies the
// high severity lessons and forwards the result to the notifier.
type DailyReportJob struct {
	tracer   trace.Tracer
	reporter DailyReporter
	notifier ReportNotifier
	log      zerolog.Logger
	hour     int
	now      func() time.Time
}

func NewDailyReportJob(tracer trace.Tracer, reporter DailyReporter, notifier ReportNotifier, log zerolog.Logger, reportHourUTC int) *DailyReportJob {
	if reportHourUTC < 0 || reportHourUTC > 23 {
		reportHourUTC = 0
	}
	return &DailyReportJob{
		tracer:   tracer,
		reporter: reporter,
		notifier: notifier,
		log:      log,
		hour:     reportHourUTC,
		now:      time.Now,
	}
}

func (j *DailyReportJob) Start(ctx context.Context) {
	if j.reporter == nil {
		j.log.Info().Msg("daily report job disabled: no reporter")
		<-ctx.Done()
		return
	}
	for {
		next := nextRunUTC(j.now().UTC(), j.hour)
		wait := next.Sub(j.now())
		if wait < time.Second {
			wait = time.Second
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			j.runOnce(ctx)
		}
	}
}

func (j *DailyReportJob) runOnce(ctx context.Context) (domain.DailyReport, feedback.ApplySummary) {
	ctx, span := j.tracer.Start(ctx, "daily-report-job.run-once")
	defer span.End()

	day := j.now().UTC().AddDate(0, 0, -1)
	report := j.reporter.GenerateDailyReport(ctx, day)

	var summary feedback.ApplySummary
	if len(report.Lessons) > 0 {
		var err error
		if summary, err = j.reporter.ApplyReportLessons(ctx, report); err != nil {
			j.log.Warn().Err(err).Str("date", report.Date).Msg("report lessons not applied")
		}
	}
	j.log.Info().
		Str("date", report.Date).
		Str("status", string(report.Status)).
		Int("predictions", report.Summary.Total).
		Int("lessons_applied", len(summary.Applied)).
		Int("lessons_surfaced", len(summary.Surfaced)).
		Msg("daily report generated")

	if j.notifier != nil {
		if err := j.notifier.NotifyReport(ctx, report, summary); err != nil {
			j.log.Warn().Err(err).Str("date", report.Date).Msg("daily report notification failed")
		}
	}
	return report, summary
}

func nextRunUTC(now time.Time, hour int) time.Time {
	run := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, time.UTC)
	if !run.After(now) {
		run = run.Add(24 * time.Hour)
	}
	return run
}
