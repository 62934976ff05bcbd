package handler

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"adaptive-ensemble/internal/domain"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
)

type candleBody struct {
	Symbol   string    `json:"symbol" validate:"required,max=20"`
	Interval string    `json:"interval" validate:"omitempty,max=8"`
	OpenTime time.Time `json:"open_time" validate:"required"`
	Open     float64   `json:"open" validate:"gt=0"`
	High     float64   `json:"high" validate:"gtefield=Low"`
	Low      float64   `json:"low" validate:"gt=0"`
	Close    float64   `json:"close" validate:"gt=0"`
	Volume   float64   `json:"volume" validate:"gte=0"`
}

type ingestBody struct {
	Candles []candleBody `json:"candles" validate:"required,min=1,max=5000,dive"`
}

// IngestCandles godoc
// @Summary      Ingest OHLCV candles
// @Description  Stores candles whose closes later resolve expired predictions
// @Tags         candles
// @Accept       json
// @Produce      json
// @Param        request  body      ingestBody  true  "Candle batch"
// @Success      202      {object}  map[string]int
// @Failure      400      {object}  map[string]string
// @Failure      401      {object}  map[string]string
// @Failure      500      {object}  map[string]string
// @Security     ApiKeyAuth
// @Router       /api/candles [post]
func (h *Handler) IngestCandles(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.ingest-candles")
	defer span.End()

	var body ingestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.validate.Struct(&body); err != nil {
		badRequest(c, err)
		return
	}

	candles := make([]*domain.Candle, 0, len(body.Candles))
	for _, b := range body.Candles {
		candles = append(candles, &domain.Candle{
			Symbol:   b.Symbol,
			Interval: b.Interval,
			OpenTime: b.OpenTime.UTC(),
			Open:     b.Open,
			High:     b.High,
			Low:      b.Low,
			Close:    b.Close,
			Volume:   b.Volume,
		})
	}
	span.SetAttributes(attribute.Int("candles", len(candles)))
	if err := h.prices.IngestCandles(ctx, candles); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"ingested": len(candles)})
}

// GetCloses godoc
// @Summary      Recent closing prices
// @Tags         candles
// @Produce      json
// @Param        symbol  path      string  true   "Asset symbol (e.g., BTC)"
// @Param        limit   query     int     false  "Number of closes"
// @Success      200     {object}  map[string]interface{}
// @Failure      500     {object}  map[string]string
// @Router       /api/candles/{symbol} [get]
func (h *Handler) GetCloses(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.get-closes")
	defer span.End()

	symbol := strings.ToUpper(c.Param("symbol"))
	limit := 100
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 1000"})
			return
		}
		limit = n
	}
	span.SetAttributes(attribute.String("symbol", symbol), attribute.Int("limit", limit))

	closes, err := h.prices.RecentCloses(ctx, symbol, limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": symbol, "closes": closes})
}
