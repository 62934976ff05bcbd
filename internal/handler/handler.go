package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"adaptive-ensemble/internal/domain"
	"adaptive-ensemble/internal/ml/feedback"
	"adaptive-ensemble/internal/ml/optimizer"
	"adaptive-ensemble/internal/ml/tracker"
	"adaptive-ensemble/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"
)

type Predictor interface {
	Predict(ctx context.Context, req service.PredictRequest) (service.PredictResponse, error)
}

type Ledger interface {
	Get(id string) (domain.PredictionRecord, bool)
	Len() int
	AccuracyMetrics(f tracker.Filter) tracker.Metrics
}

type IndicatorScores interface {
	AllScores() []domain.IndicatorScore
}

type WeightSummary interface {
	Summary() optimizer.Summary
}

type Feedback interface {
	CheckAndResolveExpired(ctx context.Context) int
	OptimizeWeights(ctx context.Context, prices []float64, f optimizer.Filter) domain.OptimizedWeights
	BuildDailyReport(ctx context.Context, date time.Time) domain.DailyReport
	ApplyLessons(ctx context.Context, lessons []domain.Lesson) feedback.ApplySummary
	ApplyReportLessons(ctx context.Context, report domain.DailyReport) (feedback.ApplySummary, error)
	EvidenceCount() int
}

type Prices interface {
	RecentCloses(ctx context.Context, symbol string, limit int) ([]float64, error)
	IngestCandles(ctx context.Context, candles []*domain.Candle) error
}

type Deps struct {
	Tracer     trace.Tracer
	Predictor  Predictor
	Ledger     Ledger
	Indicators IndicatorScores
	Weights    WeightSummary
	Feedback   Feedback
	Prices     Prices
	Gatherer   prometheus.Gatherer
	APIKey     string
}

type Handler struct {
	tracer     trace.Tracer
	predictor  Predictor
	ledger     Ledger
	indicators IndicatorScores
	weights    WeightSummary
	feedback   Feedback
	prices     Prices
	gatherer   prometheus.Gatherer
	apiKey     string
	validate   *validator.Validate
	now        func() time.Time
}

func New(deps Deps) *Handler {
	return &Handler{
		tracer:     deps.Tracer,
		predictor:  deps.Predictor,
		ledger:     deps.Ledger,
		indicators: deps.Indicators,
		weights:    deps.Weights,
		feedback:   deps.Feedback,
		prices:     deps.Prices,
		gatherer:   deps.Gatherer,
		apiKey:     deps.APIKey,
		validate:   validator.New(),
		now:        time.Now,
	}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.Health)
	if h.gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))
	}

	api := r.Group("/api")
	api.GET("/predictions/:id", h.GetPrediction)
	api.GET("/metrics/accuracy", h.GetAccuracy)
	api.GET("/indicators", h.GetIndicators)
	api.GET("/weights", h.GetWeights)
	api.GET("/reports/daily", h.GetDailyReport)
	api.GET("/candles/:symbol", h.GetCloses)

	write := api.Group("", APIKeyAuth(h.apiKey))
	write.POST("/predict", h.Predict)
	write.POST("/weights/optimize", h.OptimizeWeights)
	write.POST("/lessons/apply", h.ApplyLessons)
	write.POST("/outcomes/resolve", h.ResolveOutcomes)
	write.POST("/candles", h.IngestCandles)
}

func (h *Handler) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrDuplicatePredictionID), errors.Is(err, domain.ErrLessonsApplied):
		status = http.StatusConflict
	case service.IsClientError(err), errors.Is(err, domain.ErrInvalidWeights):
		status = http.StatusBadRequest
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}
