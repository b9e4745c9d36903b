package config

import (
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// LoadConfig loads configuration from a YAML file.
// If the file doesn't exist, it returns the default configuration.
func LoadConfig(path string, logger *logrus.Logger) (*AppConfig, error) {
	// Start with default configuration
	config := DefaultConfig()

	// Check if the config file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		logger.Warnf("Configuration file %s not found, using defaults", path)
		// Still apply environment overrides even with defaults
		applyEnvironmentOverrides(config)
		return config, nil
	}

	// Read the configuration file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse YAML
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Override with environment variables
	applyEnvironmentOverrides(config)

	// Validate the configuration
	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

func applyEnvironmentOverrides(config *AppConfig) {
	if v := os.Getenv("A2A_HOST"); v != "" {
		config.Server.Host = v
	}
	if v := os.Getenv("A2A_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			config.Server.Port = port
		}
	}
	if v := os.Getenv("A2A_MAX_CONNECTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Server.MaxConnections = n
		}
	}
	if v := os.Getenv("A2A_RATE_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Server.RateLimitPerMinute = n
		}
	}
	if v := os.Getenv("A2A_PAYMENTS_ENABLED"); v != "" {
		config.Payments.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("CHAIN_RPC_URL"); v != "" {
		config.Chain.RPCURL = v
		config.Chain.Enabled = true
	}
	if v := os.Getenv("REGISTRY_ADDRESS"); v != "" {
		config.Chain.RegistryAddress = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		config.Store.PostgresURL = v
		config.Store.Backend = "postgres"
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
}

// validateConfig checks if the configuration is valid
func validateConfig(config *AppConfig) error {
	if config.Server.Port < 0 || config.Server.Port > 65535 {
		return fmt.Errorf("server port must be within 0-65535")
	}
	if config.Server.MaxConnections <= 0 {
		return fmt.Errorf("max_connections must be positive")
	}
	if config.Server.RateLimitPerMinute <= 0 {
		return fmt.Errorf("rate_limit_per_minute must be positive")
	}
	if config.Server.AuthTimeoutMs <= 0 {
		return fmt.Errorf("auth_timeout_ms must be positive")
	}

	if config.Payments.Enabled {
		if _, ok := new(big.Int).SetString(config.Payments.MinAmount, 10); !ok {
			return fmt.Errorf("payments.min_amount must be a decimal integer string")
		}
		if config.Payments.TimeoutMinutes <= 0 {
			return fmt.Errorf("payments.timeout_minutes must be positive")
		}
	}

	if config.Chain.Enabled {
		if config.Chain.RPCURL == "" {
			return fmt.Errorf("chain.rpc_url must be set when chain is enabled")
		}
		if config.Payments.Enabled && config.Chain.RegistryAddress == "" {
			return fmt.Errorf("chain.registry_address must be set when payments are enabled")
		}
	}

	switch strings.ToLower(config.Store.Backend) {
	case "", "memory":
		config.Store.Backend = "memory"
	case "postgres":
		if config.Store.PostgresURL == "" {
			return fmt.Errorf("store.postgres_url must be set when backend is postgres")
		}
	default:
		return fmt.Errorf("store.backend must be 'memory' or 'postgres'")
	}

	return nil
}
