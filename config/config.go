package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port             string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresHost     string
	PostgresPort     string
	PostgresSSLMode  string
	PostgresTimeZone string

	// Daraja gateway
	DarajaBaseURL        string
	DarajaConsumerKey    string
	DarajaConsumerSecret string
	DarajaShortCode      string
	DarajaPasskey        string
	DarajaCallbackURL    string

	KafkaBrokers       string
	PaymentEventsTopic string

	JWTSecret string

	TokenExpiryMargin time.Duration // refresh the gateway token this long before it expires
	ExpiryDeadline    time.Duration // pending confirmations older than this are expired
	SweepInterval     time.Duration
	CallbackWorkers   int
}

func LoadConfig() (*Config, error) {
	cfg := &Config{
		Port:             getEnv("PORT", "8087"),
		PostgresUser:     os.Getenv("POSTGRES_USER"),
		PostgresPassword: os.Getenv("POSTGRES_PASSWORD"),
		PostgresDB:       os.Getenv("POSTGRES_DB"),
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
		PostgresTimeZone: getEnv("POSTGRES_TIMEZONE", "Africa/Nairobi"),

		DarajaBaseURL:        os.Getenv("DARAJA_BASE_URL"),
		DarajaConsumerKey:    os.Getenv("DARAJA_CONSUMER_KEY"),
		DarajaConsumerSecret: os.Getenv("DARAJA_CONSUMER_SECRET"),
		DarajaShortCode:      os.Getenv("DARAJA_SHORT_CODE"),
		DarajaPasskey:        os.Getenv("DARAJA_PASSKEY"),
		DarajaCallbackURL:    os.Getenv("DARAJA_CALLBACK_URL"),

		KafkaBrokers:       getEnv("KAFKA_BROKERS", "localhost:9092"),
		PaymentEventsTopic: getEnv("PAYMENT_EVENTS_TOPIC", "payment-events"),

		JWTSecret: os.Getenv("JWT_SECRET"),

		TokenExpiryMargin: getDurationEnv("TOKEN_EXPIRY_MARGIN", time.Minute),
		ExpiryDeadline:    getDurationEnv("PAYMENT_EXPIRY_DEADLINE", 5*time.Minute),
		SweepInterval:     getDurationEnv("SWEEP_INTERVAL", 30*time.Second),
		CallbackWorkers:   getIntEnv("CALLBACK_WORKERS", 4),
	}

	if cfg.PostgresUser == "" || cfg.PostgresPassword == "" || cfg.PostgresDB == "" {
		return nil, fmt.Errorf("missing required Postgres environment variables")
	}
	if cfg.DarajaBaseURL == "" || cfg.DarajaConsumerKey == "" || cfg.DarajaConsumerSecret == "" ||
		cfg.DarajaShortCode == "" || cfg.DarajaPasskey == "" || cfg.DarajaCallbackURL == "" {
		return nil, fmt.Errorf("missing required Daraja environment variables")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET not set")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getDurationEnv(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return fallback
}

func getIntEnv(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return fallback
}
