package domain

import "time"

type ReportStatus string

const (
	ReportOK     ReportStatus = "ok"
	ReportNoData ReportStatus = "no_data"
)

type CalibrationStatus string

const (
	CalibrationOK             CalibrationStatus = "ok"
	CalibrationOverconfident  CalibrationStatus = "overconfident"
	CalibrationUnderconfident CalibrationStatus = "underconfident"
	CalibrationNoSamples      CalibrationStatus = "no_samples"
)

// CalibrationBucket compares stated confidence against realized accuracy for one band.
type CalibrationBucket struct {
	Name     string            `json:"name"`
	Min      float64           `json:"min"`
	Max      float64           `json:"max"`
	Total    int               `json:"total"`
	Correct  int               `json:"correct"`
	Accuracy float64           `json:"accuracy"`
	Status   CalibrationStatus `json:"status"`
}

type ReasonCount struct {
	Reason string `json:"reason"`
	Count  int    `json:"count"`
}

type LessonType string

const (
	LessonComponent   LessonType = "component"
	LessonIndicator   LessonType = "indicator"
	LessonCalibration LessonType = "calibration"
	LessonRegime      LessonType = "regime"
)

type LessonAction string

const (
	ActionDecrease  LessonAction = "decrease_weight"
	ActionIncrease  LessonAction = "increase_weight"
	ActionDampen    LessonAction = "dampen_indicator"
	ActionBoost     LessonAction = "boost_indicator"
	ActionCalibrate LessonAction = "reduce_confidence"
	ActionRaise     LessonAction = "raise_confidence"
	ActionReview    LessonAction = "review_regime"
)

// Lesson is a structured, actionable finding from a daily report.
type Lesson struct {
	Type       LessonType   `json:"type"`
	Target     string       `json:"target"`
	Reason     string       `json:"reason"`
	Action     LessonAction `json:"action"`
	Severity   Severity     `json:"severity"`
	Indicators []string     `json:"indicators,omitempty"`
}

// PredictionAnalysis is the per-record breakdown inside a daily report.
type PredictionAnalysis struct {
	PredictionID      string          `json:"prediction_id"`
	Symbol            string          `json:"symbol"`
	DirectionCorrect  bool            `json:"direction_correct"`
	ConfidenceScore   float64         `json:"confidence_score"`
	PriceErrorPercent float64         `json:"price_error_percent"`
	MarketRegime      Regime          `json:"market_regime"`
	ComponentCorrect  map[string]bool `json:"component_correct,omitempty"`
	IndicatorCorrect  map[string]bool `json:"indicator_correct,omitempty"`
	FailureReasons    []string        `json:"failure_reasons,omitempty"`
}

type ReportSummary struct {
	Total             int     `json:"total"`
	Correct           int     `json:"correct"`
	DirectionAccuracy float64 `json:"direction_accuracy"`
	AvgPriceError     float64 `json:"avg_price_error"`
	AvgConfidence     float64 `json:"avg_confidence"`
}

// DailyReport summarizes predictions resolved during one UTC day.
type DailyReport struct {
	Date                  string                  `json:"date"`
	Status                ReportStatus            `json:"status"`
	Summary               ReportSummary           `json:"summary"`
	ComponentAccuracy     map[string]AccuracyStat `json:"component_accuracy"`
	IndicatorAccuracy     map[string]AccuracyStat `json:"indicator_accuracy"`
	RegimeBreakdown       map[Regime]AccuracyStat `json:"regime_breakdown"`
	ConfidenceCalibration []CalibrationBucket     `json:"confidence_calibration"`
	FailureReasons        []ReasonCount           `json:"failure_reasons"`
	Lessons               []Lesson                `json:"lessons"`
	Analyses              []PredictionAnalysis    `json:"analyses,omitempty"`
	GeneratedAt           time.Time               `json:"generated_at"`
}
