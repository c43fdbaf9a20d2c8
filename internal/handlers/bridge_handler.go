package handlers

import (
	"net/http"
	"time"

	"go-bridge/internal/dto"
	"go-bridge/internal/errs"
	"go-bridge/internal/models"
	"go-bridge/internal/orchestrator"

	"github.com/gin-gonic/gin"
)

// BridgeHandler serves quoting, transfer, and transaction query requests.
type BridgeHandler struct {
	orch *orchestrator.Orchestrator
}

// NewBridgeHandler creates a BridgeHandler.
func NewBridgeHandler(orch *orchestrator.Orchestrator) *BridgeHandler {
	return &BridgeHandler{orch: orch}
}

// GetQuoteHandler handles GET /api/v1/quote
func (h *BridgeHandler) GetQuoteHandler(c *gin.Context) {
	var query dto.QuoteQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid query parameters",
			"message": err.Error(),
		})
		return
	}

	quote, err := h.orch.GetQuote(&orchestrator.QuoteRequest{
		SourceChainID: query.SourceChainID,
		DestChainID:   query.DestChainID,
		TokenSymbol:   query.TokenSymbol,
		Amount:        query.Amount,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": quote})
}

// CreateBridgeHandler handles POST /api/v1/bridge
func (h *BridgeHandler) CreateBridgeHandler(c *gin.Context) {
	var body dto.BridgeBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid request body",
			"message": err.Error(),
		})
		return
	}

	tx, err := h.orch.Bridge(c.Request.Context(), &orchestrator.BridgeRequest{
		SourceChainID: body.SourceChainID,
		DestChainID:   body.DestChainID,
		TokenSymbol:   body.TokenSymbol,
		Amount:        body.Amount,
		Sender:        body.Sender,
		Recipient:     body.Recipient,
		Priority:      models.RelayPriority(body.Priority),
		LockDuration:  time.Duration(body.LockSeconds) * time.Second,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "data": tx})
}

// GetTransactionHandler handles GET /api/v1/transactions/:id
func (h *BridgeHandler) GetTransactionHandler(c *gin.Context) {
	tx, err := h.orch.GetTransaction(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error":   "Transaction not found",
			"code":    errs.CodeOf(err),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": tx})
}

// ListTransactionsHandler handles GET /api/v1/transactions
func (h *BridgeHandler) ListTransactionsHandler(c *gin.Context) {
	filter := orchestrator.TransactionFilter{
		Sender: c.Query("sender"),
		Status: models.TransactionStatus(c.Query("status")),
	}
	txs := h.orch.GetTransactions(filter)
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    txs,
		"count":   len(txs),
	})
}

// GetTVLHandler handles GET /api/v1/stats/tvl
func (h *BridgeHandler) GetTVLHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    h.orch.GetTVL(),
	})
}
