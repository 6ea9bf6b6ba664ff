// Package config loads environment configuration and the chain registry.
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Environment selects the data-file path and the deployment-address source.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvProduction  Environment = "production"
	EnvTestnet     Environment = "testnet"
)

// Config holds application configuration
type Config struct {
	Environment Environment
	Port        int
	DataDir     string
	LogLevel    string

	// DefaultChainID is the chain used for one-shot operations.
	DefaultChainID uint64

	// Loop cadences.
	StatsIntervalMs  int
	ActionIntervalMs int

	// Vault signing key, "0x" + 64 hex chars.
	VaultPrivateKey string

	// BridgeAPIURL is the cross-chain quote service.
	BridgeAPIURL string

	// Action tuning knobs.
	TickRangeWidth      int     // tick-spacings per side for new positions
	RebalanceThreshold  float64 // percentage points of allocation drift
	VaultReserveWei     string  // decimal wei kept in the vault
	AlertWebhookURL     string

	// Optional S3-compatible backup target. Backups are disabled when
	// the bucket is empty.
	BackupS3Bucket    string
	BackupS3Endpoint  string
	BackupS3AccessKey string
	BackupS3SecretKey string

	Chains *Registry
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	env := Environment(getEnv("ENVIRONMENT", string(EnvDevelopment)))

	cfg := &Config{
		Environment:        env,
		Port:               getEnvAsInt("PORT", 8080),
		DataDir:            getEnv("DATA_DIR", "./data"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		DefaultChainID:     uint64(getEnvAsInt("CHAIN_ID", int(ParentChainID))),
		StatsIntervalMs:    getEnvAsInt("AGENT_INTERVAL_MS", 30_000),
		ActionIntervalMs:   getEnvAsInt("ACTION_INTERVAL_MS", 300_000),
		VaultPrivateKey:    getEnv("VAULT_PRIVATE_KEY", ""),
		BridgeAPIURL:       getEnv("BRIDGE_API_URL", "https://api.relay.link"),
		TickRangeWidth:     getEnvAsInt("TICK_RANGE_WIDTH", 5),
		RebalanceThreshold: getEnvAsFloat("REBALANCE_THRESHOLD", 10),
		VaultReserveWei:    getEnv("VAULT_RESERVE_WEI", "0"),
		AlertWebhookURL:    getEnv("ALERT_WEBHOOK_URL", ""),
		BackupS3Bucket:     getEnv("BACKUP_S3_BUCKET", ""),
		BackupS3Endpoint:   getEnv("BACKUP_S3_ENDPOINT", ""),
		BackupS3AccessKey:  getEnv("BACKUP_S3_ACCESS_KEY", ""),
		BackupS3SecretKey:  getEnv("BACKUP_S3_SECRET_KEY", ""),
	}

	chains, err := LoadRegistry(env)
	if err != nil {
		return nil, fmt.Errorf("failed to load chain registry: %w", err)
	}
	cfg.Chains = chains

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	switch c.Environment {
	case EnvDevelopment, EnvProduction, EnvTestnet:
	default:
		return fmt.Errorf("unsupported ENVIRONMENT %q", c.Environment)
	}

	if c.VaultPrivateKey != "" {
		if err := ValidatePrivateKey(c.VaultPrivateKey); err != nil {
			return fmt.Errorf("invalid VAULT_PRIVATE_KEY: %w", err)
		}
	}

	if c.Chains.Get(c.DefaultChainID) == nil {
		return fmt.Errorf("CHAIN_ID %d is not a configured chain", c.DefaultChainID)
	}

	if c.TickRangeWidth <= 0 {
		return fmt.Errorf("TICK_RANGE_WIDTH must be positive")
	}

	return nil
}

// ValidatePrivateKey checks the "0x" + 64 hex chars key format.
func ValidatePrivateKey(key string) error {
	if !strings.HasPrefix(key, "0x") {
		return fmt.Errorf("key must start with 0x")
	}
	body := key[2:]
	if len(body) != 64 {
		return fmt.Errorf("key must be 64 hex chars, got %d", len(body))
	}
	if _, err := hex.DecodeString(body); err != nil {
		return fmt.Errorf("key is not valid hex: %w", err)
	}
	return nil
}

// TasksDBPath returns the task store file path.
func (c *Config) TasksDBPath() string {
	return c.DataDir + "/tasks.db"
}

// TimeseriesDBPath returns the time-series store file path.
func (c *Config) TimeseriesDBPath() string {
	return c.DataDir + "/timeseries.db"
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
