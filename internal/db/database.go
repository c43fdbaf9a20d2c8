package db

import (
	"log"
	"time"

	"go-bridge/internal/config"
	"go-bridge/internal/metrics"
	"go-bridge/internal/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

// InitDB connects to the configured database and migrates the bridge
// schema. Fatal on failure; the service cannot run without its audit store.
func InitDB() {
	var err error

	if config.AppConfig == nil || config.AppConfig.Database.DSN == "" {
		log.Fatalf("Database DSN is required")
	}

	dsn := config.AppConfig.Database.DSN

	DB, err = gorm.Open(postgres.Open(dsn), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		SkipDefaultTransaction:                   true,
		PrepareStmt:                              true,
		Logger:                                   logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		log.Fatalf("Failed to connect database: %v", err)
	}

	if err := DB.AutoMigrate(
		&models.LockedDeposit{},
		&models.BridgeTransaction{},
		&models.NullifierRecord{},
		&models.CommitmentRecord{},
		&models.RootRecord{},
		&models.RelayRecord{},
	); err != nil {
		log.Fatalf("Failed to migrate database schema: %v", err)
	}

	log.Println("Database connected and schema migrated")
	startPoolMetrics()
}

// startPoolMetrics exports connection pool gauges once a minute.
func startPoolMetrics() {
	sqlDB, err := DB.DB()
	if err != nil {
		log.Printf("Failed to access sql.DB for metrics: %v", err)
		return
	}

	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			stats := sqlDB.Stats()
			metrics.DBConnectionPoolSize.Set(float64(stats.MaxOpenConnections))
			metrics.DBConnectionActive.Set(float64(stats.InUse))
			metrics.DBConnectionIdle.Set(float64(stats.Idle))
			if err := sqlDB.Ping(); err != nil {
				metrics.DBConnectionStatus.Set(0)
			} else {
				metrics.DBConnectionStatus.Set(1)
			}
		}
	}()
}
