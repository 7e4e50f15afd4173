package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Stripe   StripeConfig
	Webhook  WebhookConfig
	Secrets  SecretsConfig
	Logger   LoggerConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port        int
	Host        string
	MetricsPort int

	// RateLimitPerSecond caps requests per client IP on the payment API
	RateLimitPerSecond float64
	RateLimitBurst     int

	ShutdownTimeout time.Duration
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int32
	MinConns int32
}

// StripeConfig holds payment provider configuration
type StripeConfig struct {
	BaseURL   string // e.g. https://api.stripe.com/v1
	SecretKey string
	Timeout   time.Duration
}

// WebhookConfig holds inbound webhook verification configuration
type WebhookConfig struct {
	// SigningSecret verifies the HMAC signature on provider events
	SigningSecret string
}

// SecretsConfig selects where runtime secrets are loaded from
type SecretsConfig struct {
	Backend string // env, aws, vault

	AWSRegion    string
	AWSSecretID  string
	VaultAddress string
	VaultToken   string
	VaultPath    string
}

// LoggerConfig holds logging configuration
type LoggerConfig struct {
	Level       string // debug, info, warn, error
	Development bool
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnvAsInt("SERVER_PORT", 8080),
			Host:               getEnv("SERVER_HOST", "0.0.0.0"),
			MetricsPort:        getEnvAsInt("METRICS_PORT", 9090),
			RateLimitPerSecond: getEnvAsFloat("RATE_LIMIT_PER_SECOND", 50),
			RateLimitBurst:     getEnvAsInt("RATE_LIMIT_BURST", 100),
			ShutdownTimeout:    time.Duration(getEnvAsInt("SHUTDOWN_TIMEOUT_SECONDS", 30)) * time.Second,
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			Database: getEnv("DB_NAME", "pos_payments"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
			MaxConns: int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns: int32(getEnvAsInt("DB_MIN_CONNS", 5)),
		},
		Stripe: StripeConfig{
			BaseURL:   getEnv("STRIPE_BASE_URL", "https://api.stripe.com/v1"),
			SecretKey: getEnv("STRIPE_SECRET_KEY", ""),
			Timeout:   time.Duration(getEnvAsInt("STRIPE_TIMEOUT_SECONDS", 30)) * time.Second,
		},
		Webhook: WebhookConfig{
			SigningSecret: getEnv("WEBHOOK_SIGNING_SECRET", ""),
		},
		Secrets: SecretsConfig{
			Backend:      getEnv("SECRETS_BACKEND", "env"),
			AWSRegion:    getEnv("AWS_REGION", "us-east-1"),
			AWSSecretID:  getEnv("AWS_SECRET_ID", "pos-payments"),
			VaultAddress: getEnv("VAULT_ADDR", ""),
			VaultToken:   getEnv("VAULT_TOKEN", ""),
			VaultPath:    getEnv("VAULT_SECRET_PATH", "secret/data/pos-payments"),
		},
		Logger: LoggerConfig{
			Level:       getEnv("LOG_LEVEL", "info"),
			Development: getEnvAsBool("LOG_DEVELOPMENT", false),
		},
	}

	// Validate required fields. Stripe and webhook credentials may come
	// from a secrets backend instead of the environment, so they are
	// validated after secret resolution in main.
	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}
	switch cfg.Secrets.Backend {
	case "env", "aws", "vault":
	default:
		return nil, fmt.Errorf("SECRETS_BACKEND must be one of env, aws, vault (got %q)", cfg.Secrets.Backend)
	}

	return cfg, nil
}

// ConnectionString returns PostgreSQL connection string
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
