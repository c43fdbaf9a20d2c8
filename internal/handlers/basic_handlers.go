package handlers

import (
	"net/http"
	"time"

	"go-bridge/internal/errs"
	"go-bridge/internal/registry"

	"github.com/gin-gonic/gin"
)

var startedAt = time.Now()

// statusForCode maps the error taxonomy onto HTTP statuses.
func statusForCode(code string) int {
	switch code {
	case errs.CodeDepositNotFound:
		return http.StatusNotFound
	case errs.CodeNullifierUsed, errs.CodeInvalidState, errs.CodeNotYetExpired:
		return http.StatusConflict
	case errs.CodeAmountTooLow, errs.CodeAmountTooHigh, errs.CodeInvalidDuration,
		errs.CodeInvalidCommitment, errs.CodeInvalidProof, errs.CodeUnsupportedChain,
		errs.CodeInvalidChain, errs.CodeInvalidConfig, errs.CodeRequestExpired:
		return http.StatusBadRequest
	case errs.CodeStaleRoot, errs.CodeProofVerification:
		return http.StatusUnprocessableEntity
	case errs.CodeRelayerUnavailable, errs.CodeChainUnavailable:
		return http.StatusServiceUnavailable
	case errs.CodeRelayerTimeout, errs.CodeTxTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes the standard error envelope for a taxonomy error.
func respondError(c *gin.Context, err error) {
	code := errs.CodeOf(err)
	c.JSON(statusForCode(code), gin.H{
		"success": false,
		"error":   err.Error(),
		"code":    code,
	})
}

// HealthHandler serves GET /health.
type HealthHandler struct {
	registry *registry.ChainRegistry
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(reg *registry.ChainRegistry) *HealthHandler {
	return &HealthHandler{registry: reg}
}

// HealthCheckHandler handles GET /health
func (h *HealthHandler) HealthCheckHandler(c *gin.Context) {
	chains := make([]string, 0)
	for _, info := range h.registry.All() {
		chains = append(chains, info.ID)
	}
	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(startedAt) / time.Second),
		"chains":         chains,
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	})
}

// ListChainsHandler handles GET /api/v1/chains
func (h *HealthHandler) ListChainsHandler(c *gin.Context) {
	chains := h.registry.All()
	out := make([]gin.H, 0, len(chains))
	for _, info := range chains {
		out = append(out, gin.H{
			"id":            info.ID,
			"name":          info.Name,
			"type":          info.Type,
			"symbol":        info.Symbol,
			"confirmations": info.Confirmations,
			"block_time_ms": info.BlockTime.Milliseconds(),
			"explorer_url":  info.ExplorerURL,
		})
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": out})
}
