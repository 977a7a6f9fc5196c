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

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Risk parameters (initial values; runtime changes go through the
	// bounded parameter store)
	WarnThreshold  int // FI below this approves silently
	SlashThreshold int // FI at or above this rejects and slashes
	BanThreshold   int // FI at or above this permanently bans the manager
	GammaPct       int // share of a slash routed to NAV compensation

	// Approval settings
	ApprovalTTLSeconds int64 // default Approval lifetime when the trade deadline is later

	// Chain settings (optional; enables on-chain token ledger adapter)
	RPCURL        string
	PrivateKey    string
	ChainID       int64
	TokenContract string
	TreasuryAddr  string

	// Tracing
	OTLPEndpoint string

	// Capability secrets (header tokens). Empty disables the surface.
	GuardianToken string // manual review / resume
	VaultToken    string // investor behavior recording
	ExecutorToken string // approval consumption
	AdminSecret   string // bounded parameter updates

	// Receipt signing
	ReceiptHMACSecret string

	RateLimitRPM int
}

// Defaults
const (
	DefaultPort           = "8080"
	DefaultEnv            = "development"
	DefaultLogLevel       = "info"
	DefaultWarnThreshold  = 10
	DefaultSlashThreshold = 30
	DefaultBanThreshold   = 85
	DefaultGammaPct       = 80
	DefaultApprovalTTL    = 300 // seconds
	DefaultRateLimit      = 120
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:               getEnv("PORT", DefaultPort),
		Env:                getEnv("ENV", DefaultEnv),
		LogLevel:           getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:        os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		WarnThreshold:      getEnvInt("WARN_THRESHOLD", DefaultWarnThreshold),
		SlashThreshold:     getEnvInt("SLASH_THRESHOLD", DefaultSlashThreshold),
		BanThreshold:       getEnvInt("BAN_THRESHOLD", DefaultBanThreshold),
		GammaPct:           getEnvInt("GAMMA_PCT", DefaultGammaPct),
		ApprovalTTLSeconds: getEnvInt64("APPROVAL_TTL_SECONDS", DefaultApprovalTTL),
		RPCURL:             os.Getenv("RPC_URL"),
		PrivateKey:         os.Getenv("PRIVATE_KEY"),
		ChainID:            getEnvInt64("CHAIN_ID", 0),
		TokenContract:      os.Getenv("TOKEN_CONTRACT"),
		TreasuryAddr:       os.Getenv("TREASURY_ADDR"),
		OTLPEndpoint:       os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		GuardianToken:      os.Getenv("GUARDIAN_TOKEN"),
		VaultToken:         os.Getenv("VAULT_TOKEN"),
		ExecutorToken:      os.Getenv("EXECUTOR_TOKEN"),
		AdminSecret:        os.Getenv("ADMIN_SECRET"),
		ReceiptHMACSecret:  os.Getenv("RECEIPT_HMAC_SECRET"),
		RateLimitRPM:       getEnvInt("RATE_LIMIT_RPM", DefaultRateLimit),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present and coherent
func (c *Config) Validate() error {
	if c.WarnThreshold < 0 || c.WarnThreshold > 100 {
		return fmt.Errorf("WARN_THRESHOLD must be 0-100, got %d", c.WarnThreshold)
	}
	if c.SlashThreshold < 0 || c.SlashThreshold > 100 {
		return fmt.Errorf("SLASH_THRESHOLD must be 0-100, got %d", c.SlashThreshold)
	}
	if c.WarnThreshold >= c.SlashThreshold {
		return fmt.Errorf("WARN_THRESHOLD (%d) must be below SLASH_THRESHOLD (%d)", c.WarnThreshold, c.SlashThreshold)
	}
	if c.BanThreshold < 75 || c.BanThreshold > 95 {
		return fmt.Errorf("BAN_THRESHOLD must be 75-95, got %d", c.BanThreshold)
	}
	if c.GammaPct < 50 || c.GammaPct > 90 {
		return fmt.Errorf("GAMMA_PCT must be 50-90, got %d", c.GammaPct)
	}
	if c.ApprovalTTLSeconds <= 0 {
		return fmt.Errorf("APPROVAL_TTL_SECONDS must be positive, got %d", c.ApprovalTTLSeconds)
	}
	if c.RPCURL != "" && c.TokenContract == "" {
		return fmt.Errorf("TOKEN_CONTRACT is required when RPC_URL is set")
	}
	if c.RPCURL != "" && c.PrivateKey == "" {
		return fmt.Errorf("PRIVATE_KEY is required when RPC_URL is set")
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
	return int(getEnvInt64(key, int64(defaultValue)))
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}
