package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go-bridge/internal/app"
	"go-bridge/internal/config"
	"go-bridge/internal/db"
	"go-bridge/internal/router"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	flag.Parse()

	logger := logrus.StandardLogger()
	logger.SetFormatter(&logrus.JSONFormatter{})
	if level, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil {
		logger.SetLevel(level)
	}

	if err := config.LoadConfig(*configPath); err != nil {
		logger.WithField("error", err).Fatal("Failed to load configuration")
	}
	cfg := config.AppConfig

	if cfg.Database.DSN != "" {
		db.InitDB()
	} else {
		logger.Warn("Database DSN not configured, running without persistence")
	}

	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	container, err := app.InitializeContainer(logger)
	if err != nil {
		logger.WithField("error", err).Fatal("Failed to initialize services")
	}
	container.Start()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:    addr,
		Handler: router.SetupRouter(cfg, container),
	}

	go func() {
		logger.WithField("addr", addr).Info("Bridge server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithField("error", err).Fatal("Server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.WithField("error", err).Warn("HTTP shutdown did not finish cleanly")
	}
	container.Shutdown()
	logger.Info("Shutdown complete")
}
