// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/rivora/rivora/internal/horizon"
	"github.com/rivora/rivora/internal/rules"
	"github.com/rivora/rivora/internal/soroban"
	"github.com/rivora/rivora/internal/stellar"
)

// Persistence modes.
const (
	PersistenceAuto     = "auto"
	PersistenceContract = "contract"
	PersistenceNative   = "native"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "json" or "text"

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory history if not set)

	// Stellar
	Network           string // "testnet" or "public"
	HorizonURL        string // public network Horizon
	TestnetHorizonURL string
	SorobanRPCURL     string
	ContractID        string // C... strkey or 64 hex chars; empty disables the contract strategy
	PersistenceMode   string
	BaseFee           int64 // stroops per operation

	// Scoring
	TrainingDataPath   string
	ModelRetryInterval time.Duration
	GasMode            string

	// Security
	RateLimitRPM int
	CORSOrigins  string // comma separated; empty allows any origin

	// Observability
	OTLPEndpoint string
}

// Defaults
const (
	DefaultPort               = "8080"
	DefaultEnv                = "development"
	DefaultLogLevel           = "info"
	DefaultLogFormat          = "json"
	DefaultNetwork            = "testnet"
	DefaultPersistenceMode    = PersistenceAuto
	DefaultBaseFee            = 100
	DefaultTrainingDataPath   = "training-data.json"
	DefaultModelRetryInterval = 5 * time.Minute
	DefaultGasMode            = string(rules.GasFixed)
	DefaultRateLimitRPM       = 100
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
		LogFormat:          getEnv("LOG_FORMAT", DefaultLogFormat),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		Network:            strings.ToLower(getEnv("STELLAR_NETWORK", DefaultNetwork)),
		HorizonURL:         getEnv("STELLAR_HORIZON_URL", horizon.PublicURL),
		TestnetHorizonURL:  getEnv("STELLAR_TESTNET_HORIZON_URL", horizon.TestnetURL),
		SorobanRPCURL:      os.Getenv("SOROBAN_RPC_URL"),
		ContractID:         os.Getenv("SOROBAN_CONTRACT_ID"),
		PersistenceMode:    strings.ToLower(getEnv("PERSISTENCE_MODE", DefaultPersistenceMode)),
		BaseFee:            getEnvInt64("BASE_FEE", DefaultBaseFee),
		TrainingDataPath:   getEnv("TRAINING_DATA_PATH", DefaultTrainingDataPath),
		ModelRetryInterval: getEnvDuration("MODEL_RETRY_INTERVAL", DefaultModelRetryInterval),
		GasMode:            strings.ToLower(getEnv("GAS_MODE", DefaultGasMode)),
		RateLimitRPM:       int(getEnvInt64("RATE_LIMIT_RPM", DefaultRateLimitRPM)),
		CORSOrigins:        os.Getenv("CORS_ORIGINS"),
		OTLPEndpoint:       os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if cfg.SorobanRPCURL == "" {
		cfg.SorobanRPCURL = defaultSorobanURL(cfg.Network)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	if _, err := stellar.ParseNetwork(c.Network); err != nil {
		return fmt.Errorf("STELLAR_NETWORK must be testnet or public, got %q", c.Network)
	}

	if c.ContractID != "" {
		if _, err := stellar.ParseContractID(c.ContractID); err != nil {
			return fmt.Errorf("SOROBAN_CONTRACT_ID must be a C... address or 64 hex characters")
		}
	}

	switch c.PersistenceMode {
	case PersistenceAuto, PersistenceNative:
	case PersistenceContract:
		if c.ContractID == "" {
			return fmt.Errorf("PERSISTENCE_MODE=contract requires SOROBAN_CONTRACT_ID")
		}
	default:
		return fmt.Errorf("PERSISTENCE_MODE must be auto, contract or native, got %q", c.PersistenceMode)
	}

	if c.BaseFee <= 0 || c.BaseFee > int64(^uint32(0)) {
		return fmt.Errorf("BASE_FEE must be a positive stroop amount")
	}

	if p, err := strconv.Atoi(c.Port); err != nil || p < 1 || p > 65535 {
		return fmt.Errorf("PORT must be a number between 1 and 65535")
	}

	if _, err := rules.ParseGasMode(c.GasMode); err != nil {
		return fmt.Errorf("GAS_MODE must be fixed or legacy, got %q", c.GasMode)
	}

	if c.ModelRetryInterval <= 0 {
		return fmt.Errorf("MODEL_RETRY_INTERVAL must be positive")
	}

	if c.RateLimitRPM <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPM must be positive")
	}

	return nil
}

// StellarNetwork returns the parsed network. Call after Validate.
func (c *Config) StellarNetwork() stellar.Network {
	n, _ := stellar.ParseNetwork(c.Network)
	return n
}

// ActiveHorizonURL returns the Horizon endpoint for the configured network.
func (c *Config) ActiveHorizonURL() string {
	if c.StellarNetwork() == stellar.Public {
		return c.HorizonURL
	}
	return c.TestnetHorizonURL
}

// ContractEnabled reports whether the contract strategy can be used.
func (c *Config) ContractEnabled() bool {
	return c.ContractID != "" && c.PersistenceMode != PersistenceNative
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func defaultSorobanURL(network string) string {
	if n, err := stellar.ParseNetwork(network); err == nil && n == stellar.Public {
		return soroban.PublicURL
	}
	return soroban.TestnetURL
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

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
