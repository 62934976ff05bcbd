package handler

import (
	"net/http"
	"strings"

	"adaptive-ensemble/internal/service"

	"github.com/creasty/defaults"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
)

type predictBody struct {
	PredictionID     string             `json:"prediction_id" validate:"omitempty,max=64"`
	Symbol           string             `json:"symbol" validate:"required,max=20"`
	MarketType       string             `json:"market_type" default:"crypto" validate:"oneof=crypto stock forex commodity"`
	Timeframe        string             `json:"timeframe" default:"4h" validate:"required"`
	CurrentPrice     float64            `json:"current_price" validate:"gt=0"`
	Prices           []float64          `json:"prices" validate:"omitempty,dive,gt=0"`
	ModelSignals     map[string]float64 `json:"model_signals"`
	IndicatorSignals map[string]float64 `json:"indicator_signals"`
	TechnicalSignal  *float64           `json:"technical_signal"`
	SentimentSignal  *float64           `json:"sentiment_signal"`
}

// Predict godoc
// @Summary      Run the ensemble forecast
// @Description  Combines model, technical and sentiment signals for one symbol and records the forecast in the ledger
// @Tags         predictions
// @Accept       json
// @Produce      json
// @Param        request  body      predictBody  true  "Prediction request"
// @Success      200      {object}  service.PredictResponse
// @Failure      400      {object}  map[string]string
// @Failure      401      {object}  map[string]string
// @Failure      409      {object}  map[string]string
// @Security     ApiKeyAuth
// @Router       /api/predict [post]
func (h *Handler) Predict(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.predict")
	defer span.End()

	var body predictBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return
	}
	if err := defaults.Set(&body); err != nil {
		badRequest(c, err)
		return
	}
	body.MarketType = strings.ToLower(body.MarketType)
	if err := h.validate.Struct(&body); err != nil {
		badRequest(c, err)
		return
	}
	span.SetAttributes(attribute.String("symbol", body.Symbol), attribute.String("timeframe", body.Timeframe))

	resp, err := h.predictor.Predict(ctx, service.PredictRequest{
		ID:               body.PredictionID,
		Symbol:           body.Symbol,
		MarketType:       body.MarketType,
		Timeframe:        body.Timeframe,
		CurrentPrice:     body.CurrentPrice,
		Prices:           body.Prices,
		ModelSignals:     body.ModelSignals,
		IndicatorSignals: body.IndicatorSignals,
		TechnicalSignal:  body.TechnicalSignal,
		SentimentSignal:  body.SentimentSignal,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// GetPrediction godoc
// @Summary      Get a recorded prediction
// @Tags         predictions
// @Produce      json
// @Param        id   path      string  true  "Prediction ID"
// @Success      200  {object}  domain.PredictionRecord
// @Failure      404  {object}  map[string]string
// @Router       /api/predictions/{id} [get]
func (h *Handler) GetPrediction(c *gin.Context) {
	_, span := h.tracer.Start(c.Request.Context(), "handler.get-prediction")
	defer span.End()

	id := c.Param("id")
	rec, ok := h.ledger.Get(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "prediction not found: " + id})
		return
	}
	c.JSON(http.StatusOK, rec)
}
