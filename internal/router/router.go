package router

import (
	"net/http"
	"os"
	"strings"

	"go-bridge/internal/app"
	"go-bridge/internal/config"
	"go-bridge/internal/handlers"
	"go-bridge/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// corsMiddleware allows configured origins. Environment variable takes
// precedence over the default allow-all.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")

		allowedOrigins := []string{"*"}
		if envOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); envOrigins != "" {
			allowedOrigins = allowedOrigins[:0]
			for _, o := range strings.Split(envOrigins, ",") {
				if trimmed := strings.TrimSpace(o); trimmed != "" {
					allowedOrigins = append(allowedOrigins, trimmed)
				}
			}
		}

		if len(allowedOrigins) == 1 && allowedOrigins[0] == "*" {
			c.Header("Access-Control-Allow-Origin", "*")
		} else if origin != "" {
			for _, allowed := range allowedOrigins {
				if allowed == origin {
					c.Header("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}

		if c.Request.Method == http.MethodOptions {
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, Authorization, Cache-Control, Accept")
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// requestLogger logs each request with its outcome.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		logrus.WithFields(logrus.Fields{
			"method": c.Request.Method,
			"path":   c.Request.URL.Path,
			"status": c.Writer.Status(),
			"client": c.ClientIP(),
		}).Debug("Request handled")
	}
}

// SetupRouter builds the gin engine with all routes wired to the container's
// services.
func SetupRouter(cfg *config.Config, container *app.ServiceContainer) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), corsMiddleware(), requestLogger())

	healthHandler := handlers.NewHealthHandler(container.Registry)
	bridgeHandler := handlers.NewBridgeHandler(container.Orchestrator)
	relayHandler := handlers.NewRelayHandler(container.Relayer)
	depositHandler := handlers.NewDepositHandler(container.Lockboxes)
	adminHandler := handlers.NewAdminHandler(cfg.Admin, container.Orchestrator, container.Accumulator,
		container.Lockboxes, container.Logger)
	wsHandler := handlers.NewWebSocketHandler(container.Bus, container.Logger)

	relayAuth := middleware.NewRelayAuthMiddleware(cfg.Relayer.APIKey, container.Logger)
	adminAuth := middleware.NewAdminAuthMiddleware(cfg.Admin, container.Logger)

	r.GET("/health", healthHandler.HealthCheckHandler)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/ws/events", func(c *gin.Context) {
		wsHandler.HandleWebSocket(c.Writer, c.Request)
	})

	api := r.Group("/api/v1")
	{
		api.GET("/quote", bridgeHandler.GetQuoteHandler)
		api.POST("/bridge", bridgeHandler.CreateBridgeHandler)
		api.GET("/transactions", bridgeHandler.ListTransactionsHandler)
		api.GET("/transactions/:id", bridgeHandler.GetTransactionHandler)
		api.GET("/chains", healthHandler.ListChainsHandler)
		api.GET("/deposits/:chain", depositHandler.ListDepositsHandler)
		api.GET("/deposits/:chain/:id", depositHandler.GetDepositHandler)
		api.GET("/stats/tvl", bridgeHandler.GetTVLHandler)
		api.GET("/estimate", relayHandler.GetEstimateHandler)
		api.GET("/relayer/health", relayHandler.GetRelayerHealthHandler)

		relay := api.Group("/relay", relayAuth.RequireAPIKey())
		{
			relay.POST("", relayHandler.SubmitRelayHandler)
			relay.GET("/pending", relayHandler.GetPendingCountHandler)
			relay.GET("/:id", relayHandler.GetRelayStatusHandler)
			relay.DELETE("/:id", relayHandler.CancelRelayHandler)
		}

		admin := api.Group("/admin")
		{
			admin.POST("/login", adminHandler.LoginHandler)
			authed := admin.Group("", adminAuth.RequireAdminAuth())
			{
				authed.GET("/accumulator", adminHandler.GetAccumulatorStatusHandler)
				authed.GET("/overview", adminHandler.GetOverviewHandler)
				authed.POST("/deposits/:id/refund", adminHandler.RefundDepositHandler)
			}
		}
	}

	return r
}
