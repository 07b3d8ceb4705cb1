// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "text" or "json"

	// Database (optional, uses in-memory stores if not set)
	DatabaseURL string

	// Stripe checkout
	StripeSecretKey     string
	StripeWebhookSecret string
	Currency            string
	SiteDomain          string // Frontend origin used to build redirect URLs

	// Identity tokens: Firebase project, or a shared HS256 secret for local setups
	FirebaseProjectID string
	AuthJWTSecret     string

	// HTTP hardening
	CORSOrigins  []string
	RateLimitRPM int

	// Background ledger repair; zero disables it
	RepairInterval time.Duration

	// Tracing (empty disables export)
	OTLPEndpoint string
}

const (
	DefaultPort           = "8080"
	DefaultEnv            = "development"
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "text"
	DefaultCurrency       = "usd"
	DefaultSiteDomain     = "http://localhost:5173"
	DefaultRateLimitRPM   = 120
	DefaultRepairInterval = 5 * time.Minute
)

// Load reads configuration from environment variables.
// A .env file is loaded first if present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:                getEnv("PORT", DefaultPort),
		Env:                 getEnv("ENV", DefaultEnv),
		LogLevel:            getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:           getEnv("LOG_FORMAT", DefaultLogFormat),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		StripeSecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
		StripeWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		Currency:            strings.ToLower(getEnv("CHECKOUT_CURRENCY", DefaultCurrency)),
		SiteDomain:          strings.TrimRight(getEnv("SITE_DOMAIN", DefaultSiteDomain), "/"),
		FirebaseProjectID:   os.Getenv("FIREBASE_PROJECT_ID"),
		AuthJWTSecret:       os.Getenv("AUTH_JWT_SECRET"),
		CORSOrigins:         getEnvList("CORS_ORIGINS"),
		RateLimitRPM:        getEnvInt("RATE_LIMIT_RPM", DefaultRateLimitRPM),
		RepairInterval:      getEnvDuration("REPAIR_INTERVAL", DefaultRepairInterval),
		OTLPEndpoint:        os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT is required")
	}
	if c.Currency == "" || len(c.Currency) != 3 {
		return fmt.Errorf("CHECKOUT_CURRENCY must be a 3-letter ISO code")
	}
	if c.RateLimitRPM < 0 {
		return fmt.Errorf("RATE_LIMIT_RPM must not be negative")
	}

	if !c.IsProduction() {
		return nil
	}

	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required in production")
	}
	if c.StripeSecretKey == "" {
		return fmt.Errorf("STRIPE_SECRET_KEY is required in production")
	}
	if c.FirebaseProjectID == "" && c.AuthJWTSecret == "" {
		return fmt.Errorf("FIREBASE_PROJECT_ID or AUTH_JWT_SECRET is required in production")
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

// SuccessURL is the default post-payment redirect. Stripe substitutes the
// session id placeholder.
func (c *Config) SuccessURL() string {
	return c.SiteDomain + "/dashboard/payment-success?session_id={CHECKOUT_SESSION_ID}"
}

// CancelURL is the default redirect when the customer abandons checkout.
func (c *Config) CancelURL() string {
	return c.SiteDomain + "/dashboard/payment-cancelled"
}

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

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
