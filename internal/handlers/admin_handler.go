package handlers

import (
	"crypto/subtle"
	"net/http"
	"time"

	"go-bridge/internal/accumulator"
	"go-bridge/internal/config"
	"go-bridge/internal/dto"
	"go-bridge/internal/errs"
	"go-bridge/internal/lockbox"
	"go-bridge/internal/middleware"
	"go-bridge/internal/orchestrator"

	"github.com/gin-gonic/gin"
	"github.com/pquerna/otp/totp"
	"github.com/sirupsen/logrus"
)

// AdminHandler serves operator login and service introspection.
type AdminHandler struct {
	cfg       config.AdminConfig
	orch      *orchestrator.Orchestrator
	acc       *accumulator.Accumulator
	lockboxes *lockbox.Manager
	logger    *logrus.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(cfg config.AdminConfig, orch *orchestrator.Orchestrator,
	acc *accumulator.Accumulator, lockboxes *lockbox.Manager, logger *logrus.Logger) *AdminHandler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &AdminHandler{cfg: cfg, orch: orch, acc: acc, lockboxes: lockboxes, logger: logger}
}

// LoginHandler handles POST /api/v1/admin/login
func (h *AdminHandler) LoginHandler(c *gin.Context) {
	var body dto.AdminLoginBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid request body",
			"message": err.Error(),
		})
		return
	}

	passwordOK := subtle.ConstantTimeCompare([]byte(body.Password), []byte(h.cfg.Password)) == 1
	totpOK := totp.Validate(body.TOTPCode, h.cfg.TOTPSecret)
	if !passwordOK || !totpOK {
		h.logger.WithFields(logrus.Fields{
			"remote_addr": c.ClientIP(),
		}).Warn("Admin login failed")

		c.JSON(http.StatusUnauthorized, gin.H{
			"success": false,
			"error":   "Invalid credentials",
			"code":    "INVALID_CREDENTIALS",
		})
		return
	}

	token, err := middleware.IssueToken(h.cfg, time.Now())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "Failed to issue token",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"token":      token,
		"expires_in": h.cfg.TokenTTL,
	})
}

// GetAccumulatorStatusHandler handles GET /api/v1/admin/accumulator
func (h *AdminHandler) GetAccumulatorStatusHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"depth":        h.acc.Depth(),
			"capacity":     h.acc.Capacity(),
			"leaf_count":   h.acc.LeafCount(),
			"current_root": h.acc.CurrentRoot(),
		},
	})
}

// GetOverviewHandler handles GET /api/v1/admin/overview
func (h *AdminHandler) GetOverviewHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"tvl":          h.orch.GetTVL(),
			"transactions": len(h.orch.GetTransactions(orchestrator.TransactionFilter{})),
		},
	})
}

// RefundDepositHandler handles POST /api/v1/admin/deposits/:id/refund. It
// runs the same refund path as the expiry sweeper, so the expiry and state
// gates still apply; the operator cannot claw back custody early.
func (h *AdminHandler) RefundDepositHandler(c *gin.Context) {
	depositID := c.Param("id")
	for _, lb := range h.lockboxes.All() {
		if _, err := lb.GetDeposit(depositID); err != nil {
			continue
		}
		deposit, err := lb.Refund(c.Request.Context(), &lockbox.RefundRequest{DepositID: depositID})
		if err != nil {
			respondError(c, err)
			return
		}
		h.logger.WithFields(logrus.Fields{
			"deposit": depositID,
			"chain":   lb.ChainID(),
		}).Info("Deposit refunded by operator")
		c.JSON(http.StatusOK, gin.H{"success": true, "data": deposit})
		return
	}
	c.JSON(http.StatusNotFound, gin.H{
		"success": false,
		"error":   "Deposit not found",
		"code":    errs.CodeDepositNotFound,
	})
}
