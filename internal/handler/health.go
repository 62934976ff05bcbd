package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Health godoc
// @Summary      Health check
// @Description  Reports liveness along with the ledger size and pending evidence
// @Tags         health
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Router       /health [get]
func (h *Handler) Health(c *gin.Context) {
	body := gin.H{"status": "healthy"}
	if h.ledger != nil {
		body["predictions"] = h.ledger.Len()
	}
	if h.feedback != nil {
		body["evidence_since_optimize"] = h.feedback.EvidenceCount()
	}
	c.JSON(http.StatusOK, body)
}
