package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"adaptive-ensemble/internal/domain"
	"adaptive-ensemble/internal/ml/optimizer"
	"adaptive-ensemble/internal/ml/tracker"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
)

const regimeHistory = 100

// GetAccuracy godoc
// @Summary      Prediction accuracy metrics
// @Tags         feedback
// @Produce      json
// @Param        symbol       query     string  false  "Asset symbol"
// @Param        market_type  query     string  false  "Market type"
// @Param        regime       query     string  false  "Market regime"
// @Success      200          {object}  map[string]interface{}
// @Router       /api/metrics/accuracy [get]
func (h *Handler) GetAccuracy(c *gin.Context) {
	_, span := h.tracer.Start(c.Request.Context(), "handler.get-accuracy")
	defer span.End()

	f := tracker.Filter{
		Symbol:     strings.ToUpper(strings.TrimSpace(c.Query("symbol"))),
		MarketType: strings.TrimSpace(c.Query("market_type")),
		Regime:     domain.Regime(strings.ToLower(strings.TrimSpace(c.Query("regime")))),
	}
	c.JSON(http.StatusOK, gin.H{
		"filter":  f,
		"metrics": h.ledger.AccuracyMetrics(f),
	})
}

// GetIndicators godoc
// @Summary      Indicator trust scores
// @Tags         feedback
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Router       /api/indicators [get]
func (h *Handler) GetIndicators(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"indicators": h.indicators.AllScores()})
}

// GetWeights godoc
// @Summary      Component weights and optimization history
// @Tags         weights
// @Produce      json
// @Success      200  {object}  optimizer.Summary
// @Router       /api/weights [get]
func (h *Handler) GetWeights(c *gin.Context) {
	c.JSON(http.StatusOK, h.weights.Summary())
}

type optimizeBody struct {
	Symbol       string `json:"symbol" validate:"omitempty,max=20"`
	MarketType   string `json:"market_type" validate:"omitempty,max=20"`
	RegimeSymbol string `json:"regime_symbol" validate:"omitempty,max=20"`
}

// OptimizeWeights godoc
// @Summary      Force a weight optimization
// @Description  Re-optimizes component weights without waiting for new evidence
// @Tags         weights
// @Accept       json
// @Produce      json
// @Param        request  body      optimizeBody  false  "Optimization scope"
// @Success      200      {object}  domain.OptimizedWeights
// @Failure      400      {object}  map[string]string
// @Failure      401      {object}  map[string]string
// @Security     ApiKeyAuth
// @Router       /api/weights/optimize [post]
func (h *Handler) OptimizeWeights(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.optimize-weights")
	defer span.End()

	var body optimizeBody
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			badRequest(c, err)
			return
		}
	}
	if err := h.validate.Struct(&body); err != nil {
		badRequest(c, err)
		return
	}

	regimeSymbol := body.RegimeSymbol
	if regimeSymbol == "" {
		regimeSymbol = body.Symbol
	}
	var prices []float64
	if regimeSymbol != "" && h.prices != nil {
		closes, err := h.prices.RecentCloses(ctx, strings.ToUpper(regimeSymbol), regimeHistory)
		if err != nil {
			h.fail(c, err)
			return
		}
		prices = closes
	}

	w := h.feedback.OptimizeWeights(ctx, prices, optimizer.Filter{
		Symbol:     strings.ToUpper(body.Symbol),
		MarketType: body.MarketType,
	})
	span.SetAttributes(attribute.Int("samples", w.SampleSize))
	c.JSON(http.StatusOK, w)
}

// GetDailyReport godoc
// @Summary      Daily performance report
// @Description  Builds the report for one UTC day without persisting it, defaulting to yesterday
// @Tags         reports
// @Produce      json
// @Param        date  query     string  false  "Report date (YYYY-MM-DD)"
// @Success      200   {object}  domain.DailyReport
// @Failure      400   {object}  map[string]string
// @Router       /api/reports/daily [get]
func (h *Handler) GetDailyReport(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.get-daily-report")
	defer span.End()

	date, err := h.reportDate(c.Query("date"))
	if err != nil {
		badRequest(c, err)
		return
	}
	c.JSON(http.StatusOK, h.feedback.BuildDailyReport(ctx, date))
}

type applyBody struct {
	Date    string          `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Lessons []domain.Lesson `json:"lessons" validate:"omitempty,dive"`
}

// ApplyLessons godoc
// @Summary      Apply lessons
// @Description  Applies the given lessons, or the lessons of the report for the given date when none are supplied. A report's lessons apply once.
// @Tags         reports
// @Accept       json
// @Produce      json
// @Param        request  body      applyBody  true  "Lessons or report date"
// @Success      200      {object}  feedback.ApplySummary
// @Failure      400      {object}  map[string]string
// @Failure      401      {object}  map[string]string
// @Failure      409      {object}  map[string]string
// @Security     ApiKeyAuth
// @Router       /api/lessons/apply [post]
func (h *Handler) ApplyLessons(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.apply-lessons")
	defer span.End()

	var body applyBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.validate.Struct(&body); err != nil {
		badRequest(c, err)
		return
	}

	if len(body.Lessons) > 0 {
		c.JSON(http.StatusOK, h.feedback.ApplyLessons(ctx, body.Lessons))
		return
	}
	if body.Date == "" {
		badRequest(c, errors.New("either lessons or date is required"))
		return
	}
	date, err := h.reportDate(body.Date)
	if err != nil {
		badRequest(c, err)
		return
	}
	summary, err := h.feedback.ApplyReportLessons(ctx, h.feedback.BuildDailyReport(ctx, date))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// ResolveOutcomes godoc
// @Summary      Resolve expired predictions now
// @Tags         feedback
// @Produce      json
// @Success      200  {object}  map[string]int
// @Failure      401  {object}  map[string]string
// @Security     ApiKeyAuth
// @Router       /api/outcomes/resolve [post]
func (h *Handler) ResolveOutcomes(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.resolve-outcomes")
	defer span.End()

	c.JSON(http.StatusOK, gin.H{"resolved": h.feedback.CheckAndResolveExpired(ctx)})
}

func (h *Handler) reportDate(raw string) (time.Time, error) {
	if raw == "" {
		return h.now().UTC().AddDate(0, 0, -1), nil
	}
	d, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, errors.New("date must be YYYY-MM-DD")
	}
	return d, nil
}
