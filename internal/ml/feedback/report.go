package feedback

import (
	"context"
	"fmt"
	"sort"
	"time"

	"adaptive-ensemble/internal/domain"

	"go.opentelemetry.io/otel/attribute"
)

const (
	reasonAllComponentsWrong = "all_components_wrong"
	reasonOverconfident      = "overconfident_wrong_prediction"
	reasonConflicted         = "component_signals_conflicted"
	reasonLargePriceError    = "large_price_error"
	reasonMissedFlat         = "missed_flat_market"
)

func regimeReason(r domain.Regime) string {
	return fmt.Sprintf("wrong_in_%s_regime", r)
}

type bucketSpec struct {
	name     string
	min, max float64
}

var calibrationBuckets = []bucketSpec{
	{"low", 0, 50},
	{"medium", 50, 70},
	{"high", 70, 85},
	{"very_high", 85, 100},
}

func bucketIndex(score float64) int {
	for i, b := range calibrationBuckets[:len(calibrationBuckets)-1] {
		if score < b.max {
			return i
		}
	}
	return len(calibrationBuckets) - 1
}

// GenerateDailyReport builds the report for the UTC day containing date and
// persists it.
func (l *Loop) GenerateDailyReport(ctx context.Context, date time.Time) domain.DailyReport {
	report := l.BuildDailyReport(ctx, date)
	l.persist.Persist(ctx, report)
	return report
}

// BuildDailyReport analyses the predictions resolved during the UTC day
// containing date. Nothing is persisted.
func (l *Loop) BuildDailyReport(ctx context.Context, date time.Time) domain.DailyReport {
	_, span := l.tracer.Start(ctx, "feedback.daily-report")
	defer span.End()

	d := date.UTC()
	from := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 1)
	records := l.ledger.ResolvedBetween(from, to)

	report := domain.DailyReport{
		Date:                  from.Format("2006-01-02"),
		Status:                domain.ReportOK,
		ComponentAccuracy:     map[string]domain.AccuracyStat{},
		IndicatorAccuracy:     map[string]domain.AccuracyStat{},
		RegimeBreakdown:       map[domain.Regime]domain.AccuracyStat{},
		ConfidenceCalibration: []domain.CalibrationBucket{},
		FailureReasons:        []domain.ReasonCount{},
		Lessons:               []domain.Lesson{},
		GeneratedAt:           l.now().UTC(),
	}
	span.SetAttributes(attribute.String("report.date", report.Date), attribute.Int("report.records", len(records)))
	if len(records) == 0 {
		report.Status = domain.ReportNoData
		return report
	}

	buckets := make([]domain.CalibrationBucket, len(calibrationBuckets))
	for i, b := range calibrationBuckets {
		buckets[i] = domain.CalibrationBucket{Name: b.name, Min: b.min, Max: b.max}
	}
	reasons := map[string]int{}
	regimeFailures := map[domain.Regime]int{}
	implicated := map[string]struct{}{}
	overconfidentMisses := 0
	var errSum, confSum float64

	for _, rec := range records {
		a := l.analyse(rec)
		report.Analyses = append(report.Analyses, a)

		report.Summary.Total++
		if a.DirectionCorrect {
			report.Summary.Correct++
		}
		errSum += a.PriceErrorPercent
		confSum += a.ConfidenceScore

		for name, ok := range a.ComponentCorrect {
			st := report.ComponentAccuracy[name]
			st.Add(ok)
			report.ComponentAccuracy[name] = st
		}
		for name, ok := range a.IndicatorCorrect {
			st := report.IndicatorAccuracy[name]
			st.Add(ok)
			report.IndicatorAccuracy[name] = st
		}
		rs := report.RegimeBreakdown[a.MarketRegime]
		rs.Add(a.DirectionCorrect)
		report.RegimeBreakdown[a.MarketRegime] = rs

		b := &buckets[bucketIndex(a.ConfidenceScore)]
		b.Total++
		if a.DirectionCorrect {
			b.Correct++
		}

		for _, r := range a.FailureReasons {
			reasons[r]++
			if r == reasonOverconfident {
				overconfidentMisses++
				for name, ok := range a.IndicatorCorrect {
					if !ok {
						implicated[name] = struct{}{}
					}
				}
			}
		}
		if !a.DirectionCorrect {
			regimeFailures[a.MarketRegime]++
		}
	}

	n := float64(report.Summary.Total)
	report.Summary.DirectionAccuracy = float64(report.Summary.Correct) / n
	report.Summary.AvgPriceError = errSum / n
	report.Summary.AvgConfidence = confSum / n

	for i := range buckets {
		b := &buckets[i]
		if b.Total == 0 {
			b.Status = domain.CalibrationNoSamples
			continue
		}
		b.Accuracy = float64(b.Correct) / float64(b.Total)
		b.Status = domain.CalibrationOK
		if b.Name == "very_high" && b.Accuracy < 0.5 {
			b.Status = domain.CalibrationOverconfident
		}
		if b.Name == "low" && b.Accuracy > 0.7 {
			b.Status = domain.CalibrationUnderconfident
		}
	}
	report.ConfidenceCalibration = buckets

	for reason, count := range reasons {
		report.FailureReasons = append(report.FailureReasons, domain.ReasonCount{Reason: reason, Count: count})
	}
	sort.Slice(report.FailureReasons, func(i, j int) bool {
		a, b := report.FailureReasons[i], report.FailureReasons[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Reason < b.Reason
	})

	report.Lessons = l.lessons(report, overconfidentMisses, implicated, regimeFailures)

	l.log.Info().
		Str("date", report.Date).
		Int("predictions", report.Summary.Total).
		Float64("accuracy", report.Summary.DirectionAccuracy).
		Int("lessons", len(report.Lessons)).
		Msg("daily report generated")
	return report
}

func (l *Loop) analyse(rec domain.PredictionRecord) domain.PredictionAnalysis {
	actual := domain.DirectionFlat
	if rec.ActualDirection != nil {
		actual = *rec.ActualDirection
	}
	correct := rec.DirectionCorrect != nil && *rec.DirectionCorrect
	a := domain.PredictionAnalysis{
		PredictionID:     rec.ID,
		Symbol:           rec.Symbol,
		DirectionCorrect: correct,
		ConfidenceScore:  rec.ConfidenceScore,
		MarketRegime:     rec.MarketRegime,
		ComponentCorrect: map[string]bool{},
		IndicatorCorrect: map[string]bool{},
	}
	if rec.PriceErrorPercent != nil {
		a.PriceErrorPercent = *rec.PriceErrorPercent
	}

	var sawUp, sawDown bool
	allWrong := true
	for _, k := range domain.Components {
		sig, ok := rec.ComponentSignal(k)
		if !ok {
			continue
		}
		dir := domain.DirectionFromSignal(sig)
		a.ComponentCorrect[string(k)] = dir == actual
		if dir == actual {
			allWrong = false
		}
		sawUp = sawUp || dir == domain.DirectionUp
		sawDown = sawDown || dir == domain.DirectionDown
	}
	for name, v := range rec.IndicatorSignals {
		a.IndicatorCorrect[name] = domain.DirectionFromSignal(v) == actual
	}

	if correct {
		return a
	}
	if len(a.ComponentCorrect) > 0 && allWrong {
		a.FailureReasons = append(a.FailureReasons, reasonAllComponentsWrong)
	}
	if rec.ConfidenceScore >= l.cfg.OverconfidentScore {
		a.FailureReasons = append(a.FailureReasons, reasonOverconfident)
	}
	if sawUp && sawDown {
		a.FailureReasons = append(a.FailureReasons, reasonConflicted)
	}
	if a.PriceErrorPercent > l.cfg.LargePriceErrorPercent {
		a.FailureReasons = append(a.FailureReasons, reasonLargePriceError)
	}
	if actual == domain.DirectionFlat && rec.PredictedDirection != domain.DirectionFlat {
		a.FailureReasons = append(a.FailureReasons, reasonMissedFlat)
	}
	a.FailureReasons = append(a.FailureReasons, regimeReason(rec.MarketRegime))
	return a
}

func (l *Loop) lessons(report domain.DailyReport, overconfidentMisses int, implicated map[string]struct{}, regimeFailures map[domain.Regime]int) []domain.Lesson {
	out := []domain.Lesson{}

	for _, k := range domain.Components {
		st, ok := report.ComponentAccuracy[string(k)]
		if !ok || st.Total == 0 {
			continue
		}
		switch {
		case st.Accuracy < l.cfg.ComponentWeakBelow:
			sev := domain.SeverityMedium
			if st.Total >= l.cfg.MinLessonSamples {
				sev = domain.SeverityHigh
			}
			out = append(out, domain.Lesson{
				Type:     domain.LessonComponent,
				Target:   string(k),
				Reason:   fmt.Sprintf("%s accuracy %.0f%% over %d predictions", k, st.Accuracy*100, st.Total),
				Action:   domain.ActionDecrease,
				Severity: sev,
			})
		case st.Accuracy > l.cfg.ComponentStrongAbove:
			out = append(out, domain.Lesson{
				Type:     domain.LessonComponent,
				Target:   string(k),
				Reason:   fmt.Sprintf("%s accuracy %.0f%% over %d predictions", k, st.Accuracy*100, st.Total),
				Action:   domain.ActionIncrease,
				Severity: domain.SeverityMedium,
			})
		}
	}

	names := make([]string, 0, len(report.IndicatorAccuracy))
	for name := range report.IndicatorAccuracy {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		st := report.IndicatorAccuracy[name]
		switch {
		case st.Accuracy < l.cfg.IndicatorWeakBelow:
			sev := domain.SeverityMedium
			if st.Total >= l.cfg.MinLessonSamples {
				sev = domain.SeverityHigh
			}
			out = append(out, domain.Lesson{
				Type:     domain.LessonIndicator,
				Target:   name,
				Reason:   fmt.Sprintf("%s accuracy %.0f%% over %d signals", name, st.Accuracy*100, st.Total),
				Action:   domain.ActionDampen,
				Severity: sev,
			})
		case st.Accuracy > l.cfg.IndicatorStrongAbove:
			out = append(out, domain.Lesson{
				Type:     domain.LessonIndicator,
				Target:   name,
				Reason:   fmt.Sprintf("%s accuracy %.0f%% over %d signals", name, st.Accuracy*100, st.Total),
				Action:   domain.ActionBoost,
				Severity: domain.SeverityMedium,
			})
		}
	}

	if overconfidentMisses >= 2 {
		inds := make([]string, 0, len(implicated))
		for name := range implicated {
			inds = append(inds, name)
		}
		sort.Strings(inds)
		out = append(out, domain.Lesson{
			Type:       domain.LessonCalibration,
			Target:     "confidence",
			Reason:     fmt.Sprintf("%d wrong predictions had confidence >= %.0f", overconfidentMisses, l.cfg.OverconfidentScore),
			Action:     domain.ActionCalibrate,
			Severity:   domain.SeverityHigh,
			Indicators: inds,
		})
	}

	for _, b := range report.ConfidenceCalibration {
		switch b.Status {
		case domain.CalibrationOverconfident:
			out = append(out, domain.Lesson{
				Type:     domain.LessonCalibration,
				Target:   b.Name,
				Reason:   fmt.Sprintf("%s confidence bucket hit %.0f%% over %d predictions", b.Name, b.Accuracy*100, b.Total),
				Action:   domain.ActionCalibrate,
				Severity: domain.SeverityMedium,
			})
		case domain.CalibrationUnderconfident:
			out = append(out, domain.Lesson{
				Type:     domain.LessonCalibration,
				Target:   b.Name,
				Reason:   fmt.Sprintf("%s confidence bucket hit %.0f%% over %d predictions", b.Name, b.Accuracy*100, b.Total),
				Action:   domain.ActionRaise,
				Severity: domain.SeverityMedium,
			})
		}
	}

	regimes := make([]string, 0, len(regimeFailures))
	for r := range regimeFailures {
		regimes = append(regimes, string(r))
	}
	sort.Strings(regimes)
	for _, r := range regimes {
		count := regimeFailures[domain.Regime(r)]
		if count < 2 {
			continue
		}
		out = append(out, domain.Lesson{
			Type:     domain.LessonRegime,
			Target:   r,
			Reason:   fmt.Sprintf("%d wrong predictions in %s regime", count, r),
			Action:   domain.ActionReview,
			Severity: domain.SeverityMedium,
		})
	}
	return out
}
