package database

import (
	"fmt"
	"time"

	"payment-service/config"
	"payment-service/models"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// ConnectPostgres opens the transactions database, migrates the schema and
// installs the index that keeps one active transaction per order.
func ConnectPostgres(cfg *config.Config, logger *zap.Logger) (*gorm.DB, error) {
	if err := godotenv.Load(); err != nil {
		logger.Info("No .env file found, using system environment variables")
	}

	dsn := fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=%s",
		cfg.PostgresHost, cfg.PostgresUser, cfg.PostgresPassword,
		cfg.PostgresDB, cfg.PostgresPort, cfg.PostgresSSLMode, cfg.PostgresTimeZone,
	)

	var db *gorm.DB
	var err error

	for i := 0; i < 10; i++ {
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})
		if err == nil {
			sqlDB, poolErr := db.DB()
			if poolErr == nil {
				sqlDB.SetMaxOpenConns(25)
				sqlDB.SetMaxIdleConns(5)
				sqlDB.SetConnMaxLifetime(5 * time.Minute)
			}

			logger.Info("Connected to PostgreSQL successfully")

			if err := db.AutoMigrate(&models.PaymentTransaction{}); err != nil {
				return nil, fmt.Errorf("AutoMigrate failed: %w", err)
			}

			// One in-flight transaction per order. AutoMigrate cannot express a
			// partial index, so it is created directly.
			if err := db.Exec(
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_payment_transactions_active_order
				 ON payment_transactions (order_ref)
				 WHERE status IN ('INITIATED', 'PENDING_CONFIRMATION')`,
			).Error; err != nil {
				return nil, fmt.Errorf("failed to create active-order index: %w", err)
			}

			return db, nil
		}

		logger.Warn("DB connection failed, retrying",
			zap.Int("attempt", i+1),
			zap.Error(err),
		)
		time.Sleep(time.Duration(i+1) * 2 * time.Second)
	}

	return nil, fmt.Errorf("failed to connect to PostgreSQL after retries: %w", err)
}

func Close(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}
	return sqlDB.Close()
}
