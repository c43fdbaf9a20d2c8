package handlers

import (
	"net/http"

	"go-bridge/internal/lockbox"
	"go-bridge/internal/models"

	"github.com/gin-gonic/gin"
)

// DepositHandler serves custody queries per chain.
type DepositHandler struct {
	lockboxes *lockbox.Manager
}

// NewDepositHandler creates a DepositHandler.
func NewDepositHandler(lockboxes *lockbox.Manager) *DepositHandler {
	return &DepositHandler{lockboxes: lockboxes}
}

// ListDepositsHandler handles GET /api/v1/deposits/:chain. Filters by sender
// or commitment when given as query parameters.
func (h *DepositHandler) ListDepositsHandler(c *gin.Context) {
	lb, err := h.lockboxes.Get(c.Param("chain"))
	if err != nil {
		respondError(c, err)
		return
	}

	if commitment := c.Query("commitment"); commitment != "" {
		deposit, err := lb.GetDepositByCommitment(commitment)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": []*models.LockedDeposit{deposit}})
		return
	}

	sender := c.Query("sender")
	if sender == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "sender or commitment query parameter required",
		})
		return
	}
	deposits := lb.GetDepositsBySender(sender)
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    deposits,
		"count":   len(deposits),
	})
}

// GetDepositHandler handles GET /api/v1/deposits/:chain/:id
func (h *DepositHandler) GetDepositHandler(c *gin.Context) {
	lb, err := h.lockboxes.Get(c.Param("chain"))
	if err != nil {
		respondError(c, err)
		return
	}
	deposit, err := lb.GetDeposit(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": deposit})
}
