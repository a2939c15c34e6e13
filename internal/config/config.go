// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Storage
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)
	RedisURL    string // Redis connection string (optional, uses in-memory if not set)

	// Payment provider
	StripeSecretKey     string // Platform master key for act-as-account billing
	StripeClientID      string // OAuth app client id for account connections
	StripeWebhookSecret string // Signing secret for inbound event verification

	// Source code provider OAuth
	GitHubClientID     string
	GitHubClientSecret string

	// Identity provider metadata mirror (optional)
	IdentityAPIURL    string
	IdentityAPISecret string

	// URLs
	BaseURL     string // Public base URL of this API, used in OAuth callbacks
	FrontendURL string // Dashboard URL, target of post-OAuth redirects

	// Security
	AdminSecret  string // Protects tenant-provisioning and config routes
	RateLimitRPS int

	// Tracing
	OTLPEndpoint string // OTLP gRPC collector address (optional, tracing off if not set)
}

const (
	DefaultPort        = "8080"
	DefaultEnv         = "development"
	DefaultLogLevel    = "info"
	DefaultBaseURL     = "http://localhost:8080"
	DefaultFrontendURL = "http://localhost:3000"
	DefaultRateLimit   = 100
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                getEnv("PORT", DefaultPort),
		Env:                 getEnv("ENV", DefaultEnv),
		LogLevel:            getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:         os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		RedisURL:            os.Getenv("REDIS_URL"),    // Optional, uses in-memory if not set
		StripeSecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
		StripeClientID:      os.Getenv("STRIPE_CLIENT_ID"),
		StripeWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		GitHubClientID:      os.Getenv("GITHUB_CLIENT_ID"),
		GitHubClientSecret:  os.Getenv("GITHUB_CLIENT_SECRET"),
		IdentityAPIURL:      os.Getenv("IDENTITY_API_URL"),
		IdentityAPISecret:   os.Getenv("IDENTITY_API_SECRET"),
		BaseURL:             getEnv("BASE_URL", DefaultBaseURL),
		FrontendURL:         getEnv("FRONTEND_URL", DefaultFrontendURL),
		AdminSecret:         os.Getenv("ADMIN_SECRET"),
		RateLimitRPS:        int(getEnvInt64("RATE_LIMIT_RPS", int64(DefaultRateLimit))),
		OTLPEndpoint:        os.Getenv("OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is coherent
func (c *Config) Validate() error {
	if c.GitHubClientID != "" && c.GitHubClientSecret == "" {
		return fmt.Errorf("GITHUB_CLIENT_SECRET is required when GITHUB_CLIENT_ID is set")
	}
	if c.GitHubClientSecret != "" && c.GitHubClientID == "" {
		return fmt.Errorf("GITHUB_CLIENT_ID is required when GITHUB_CLIENT_SECRET is set")
	}
	if c.IdentityAPIURL != "" && c.IdentityAPISecret == "" {
		return fmt.Errorf("IDENTITY_API_SECRET is required when IDENTITY_API_URL is set")
	}

	if c.IsProduction() {
		if c.AdminSecret == "" {
			return fmt.Errorf("ADMIN_SECRET is required in production")
		}
		if c.StripeWebhookSecret == "" {
			return fmt.Errorf("STRIPE_WEBHOOK_SECRET is required in production")
		}
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required in production")
		}
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

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}
