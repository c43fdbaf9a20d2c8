package handlers

import (
	"net/http"
	"time"

	"go-bridge/internal/dto"
	"go-bridge/internal/models"
	"go-bridge/internal/relayer"

	"github.com/gin-gonic/gin"
)

// RelayHandler serves the relay network API.
type RelayHandler struct {
	relay *relayer.Relayer
}

// NewRelayHandler creates a RelayHandler.
func NewRelayHandler(relay *relayer.Relayer) *RelayHandler {
	return &RelayHandler{relay: relay}
}

// SubmitRelayHandler handles POST /api/v1/relay
func (h *RelayHandler) SubmitRelayHandler(c *gin.Context) {
	var body dto.RelayBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid request body",
			"message": err.Error(),
		})
		return
	}

	req, err := body.ToRelayRequest(time.Now())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid expires_at timestamp",
			"message": err.Error(),
		})
		return
	}

	result, err := h.relay.SubmitRequest(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"success":                true,
		"transaction_id":         result.TransactionID,
		"accepted":               true,
		"queue_position":         result.QueuePosition,
		"estimated_time_seconds": int64(result.EstimatedTime / time.Second),
	})
}

// GetRelayStatusHandler handles GET /api/v1/relay/:id
func (h *RelayHandler) GetRelayStatusHandler(c *gin.Context) {
	record, err := h.relay.GetStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error":   "Relay request not found",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"transaction_id": record.TransactionID,
		"status":         record.Status,
		"dest_tx_hash":   record.DestTxHash,
		"attempts":       record.Attempts,
		"last_error":     record.LastError,
		"updated_at":     record.UpdatedAt.UTC().Format(models.ISO8601),
	})
}

// CancelRelayHandler handles DELETE /api/v1/relay/:id
func (h *RelayHandler) CancelRelayHandler(c *gin.Context) {
	cancelled, err := h.relay.CancelRequest(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error":   "Relay request not found",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"cancelled": cancelled,
	})
}

// GetPendingCountHandler handles GET /api/v1/relay/pending
func (h *RelayHandler) GetPendingCountHandler(c *gin.Context) {
	health := h.relay.GetHealth(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"pending": health.PendingCount,
	})
}

// GetEstimateHandler handles GET /api/v1/estimate
func (h *RelayHandler) GetEstimateHandler(c *gin.Context) {
	var query dto.EstimateQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid query parameters",
			"message": err.Error(),
		})
		return
	}

	priority := models.RelayPriority(query.Priority)
	if !priority.Valid() {
		priority = models.RelayPriorityNormal
	}
	eta, err := h.relay.GetEstimatedTime(query.SourceChainID, query.DestChainID, priority)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":                true,
		"estimated_time_seconds": int64(eta / time.Second),
	})
}

// GetRelayerHealthHandler handles GET /api/v1/relayer/health
func (h *RelayHandler) GetRelayerHealthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, h.relay.GetHealth(c.Request.Context()))
}
