// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/remoteprojobs/wallet/internal/money"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "json" or "text"

	// Database
	DatabaseURL    string // PostgreSQL connection string (optional, uses in-memory if not set)
	AutoMigrate    bool
	DBMaxOpenConns int
	DBMaxIdleConns int

	// Redis (optional, enables cross-instance account locks)
	RedisURL string

	// Auth
	JWTSecret string

	// Withdrawal policy (decimal amounts, 2 places)
	MinWithdrawalRegular string
	MinWithdrawalPremium string

	// PayHero gateway
	PayHeroBaseURL     string
	PayHeroBasicAuth   string
	PayHeroChannelID   string
	PayHeroProvider    string
	PayHeroCallbackURL string
	GatewayTimeout     time.Duration

	// Payment flow
	PaymentAmountKES  int64
	ConnectsGranted   int
	ReconcileInterval time.Duration
	PaymentPendingTTL time.Duration

	// Operations
	OTLPEndpoint       string
	RateLimitRPM       int
	CORSAllowedOrigins []string
}

const (
	DefaultPort                 = "8080"
	DefaultEnv                  = "development"
	DefaultLogLevel             = "info"
	DefaultMinWithdrawalRegular = "12.00"
	DefaultMinWithdrawalPremium = "50.00"
	DefaultPayHeroBaseURL       = "https://backend.payhero.co.ke"
	DefaultPayHeroProvider      = "m-pesa"
	DefaultPaymentAmountKES     = 1540
	DefaultConnectsGranted      = 8
	DefaultGatewayTimeout       = 15 * time.Second
	DefaultReconcileInterval    = 2 * time.Minute
	DefaultPaymentPendingTTL    = 30 * time.Minute
	DefaultRateLimitRPM         = 120

	minProductionSecretLen = 32
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	_ = godotenv.Load()

	env := getEnv("ENV", DefaultEnv)
	defaultFormat := "text"
	if env == "production" {
		defaultFormat = "json"
	}

	cfg := &Config{
		Port:                 getEnv("PORT", DefaultPort),
		Env:                  env,
		LogLevel:             getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:            getEnv("LOG_FORMAT", defaultFormat),
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		AutoMigrate:          getEnvBool("AUTO_MIGRATE", true),
		DBMaxOpenConns:       getEnvInt("DB_MAX_OPEN_CONNS", 25),
		DBMaxIdleConns:       getEnvInt("DB_MAX_IDLE_CONNS", 5),
		RedisURL:             os.Getenv("REDIS_URL"),
		JWTSecret:            os.Getenv("JWT_SECRET"),
		MinWithdrawalRegular: getEnv("MIN_WITHDRAWAL_REGULAR", DefaultMinWithdrawalRegular),
		MinWithdrawalPremium: getEnv("MIN_WITHDRAWAL_PREMIUM", DefaultMinWithdrawalPremium),
		PayHeroBaseURL:       strings.TrimRight(getEnv("PAYHERO_BASE_URL", DefaultPayHeroBaseURL), "/"),
		PayHeroBasicAuth:     os.Getenv("PAYHERO_BASIC_AUTH"),
		PayHeroChannelID:     os.Getenv("PAYHERO_CHANNEL_ID"),
		PayHeroProvider:      getEnv("PAYHERO_PROVIDER", DefaultPayHeroProvider),
		PayHeroCallbackURL:   os.Getenv("PAYHERO_CALLBACK_URL"),
		GatewayTimeout:       getEnvDuration("GATEWAY_TIMEOUT", DefaultGatewayTimeout),
		PaymentAmountKES:     int64(getEnvInt("PAYMENT_AMOUNT_KES", DefaultPaymentAmountKES)),
		ConnectsGranted:      getEnvInt("CONNECTS_GRANTED", DefaultConnectsGranted),
		ReconcileInterval:    getEnvDuration("RECONCILE_INTERVAL", DefaultReconcileInterval),
		PaymentPendingTTL:    getEnvDuration("PAYMENT_PENDING_TTL", DefaultPaymentPendingTTL),
		OTLPEndpoint:         os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		RateLimitRPM:         getEnvInt("RATE_LIMIT_RPM", DefaultRateLimitRPM),
		CORSAllowedOrigins:   splitList(os.Getenv("CORS_ALLOWED_ORIGINS")),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present and coherent.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.IsProduction() && len(c.JWTSecret) < minProductionSecretLen {
		return fmt.Errorf("JWT_SECRET must be at least %d bytes in production", minProductionSecretLen)
	}

	regular, ok := money.ParsePositive(c.MinWithdrawalRegular)
	if !ok {
		return fmt.Errorf("MIN_WITHDRAWAL_REGULAR must be a positive amount, got %q", c.MinWithdrawalRegular)
	}
	premium, ok := money.ParsePositive(c.MinWithdrawalPremium)
	if !ok {
		return fmt.Errorf("MIN_WITHDRAWAL_PREMIUM must be a positive amount, got %q", c.MinWithdrawalPremium)
	}
	if !regular.LessThan(premium) {
		return fmt.Errorf("MIN_WITHDRAWAL_REGULAR (%s) must be below MIN_WITHDRAWAL_PREMIUM (%s)",
			c.MinWithdrawalRegular, c.MinWithdrawalPremium)
	}

	if u, err := url.Parse(c.PayHeroBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("PAYHERO_BASE_URL must be an absolute URL")
	}
	if c.IsProduction() {
		if c.PayHeroBasicAuth == "" || c.PayHeroChannelID == "" || c.PayHeroCallbackURL == "" {
			return fmt.Errorf("PAYHERO_BASIC_AUTH, PAYHERO_CHANNEL_ID and PAYHERO_CALLBACK_URL are required in production")
		}
	}

	if c.PaymentAmountKES <= 0 {
		return fmt.Errorf("PAYMENT_AMOUNT_KES must be positive")
	}
	if c.ConnectsGranted <= 0 {
		return fmt.Errorf("CONNECTS_GRANTED must be positive")
	}
	if c.GatewayTimeout <= 0 {
		return fmt.Errorf("GATEWAY_TIMEOUT must be positive")
	}
	if c.ReconcileInterval <= 0 || c.PaymentPendingTTL <= 0 {
		return fmt.Errorf("RECONCILE_INTERVAL and PAYMENT_PENDING_TTL must be positive")
	}

	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
