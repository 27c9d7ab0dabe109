package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

// AppConfig holds all application configuration loaded from environment variables.
// These are populated at startup by the LoadConfig function.
var (
	// IssuerAddress is the identity this pipeline instance dispatches batches under.
	// Batch ids are derived from it, so two instances must never share one.
	IssuerAddress string

	// VerificationKeyID is the key identifier an attested result must carry to be
	// accepted by the reconciler.
	VerificationKeyID string

	// ChainID is the chain ID of the pool engine's network, forwarded as the chain
	// context of every dispatch.
	ChainID string

	// CooldownPeriod is the minimum gap between two recorded activities for the
	// same (user, direction).
	CooldownPeriod time.Duration

	// BatchSize is the maximum number of records drained into one batch.
	BatchSize int

	// AutomationInterval is the minimum gap between two automated flushes.
	AutomationInterval time.Duration

	// BaseFeeBps is the pool base fee in basis points, the anchor of the fee
	// discount read path.
	BaseFeeBps int
)

// Validation bounds. Values outside these abort startup; they are never
// recoverable at runtime.
const (
	MinAutomationInterval = 10 * time.Second
	MaxAutomationInterval = 24 * time.Hour

	MinBatchSize = 1
	MaxBatchSize = 1000

	MinBaseFeeBps = 1
	MaxBaseFeeBps = 10000
)

// LoadConfig loads configuration from environment variables and sets the global config vars.
// All environment variables are required and must be set.
func LoadConfig() error {
	log.Info().Msg("Loading application configuration from environment variables...")

	var err error

	IssuerAddress, err = getEnv("RPM_ISSUER_ADDRESS")
	if err != nil {
		return err
	}

	VerificationKeyID, err = getEnv("RPM_VERIFICATION_KEY_ID")
	if err != nil {
		return err
	}

	ChainID, err = getEnv("CHAIN_ID")
	if err != nil {
		return err
	}

	cooldownSeconds, err := getEnvAsUint64("RPM_COOLDOWN_SECONDS")
	if err != nil {
		return err
	}
	CooldownPeriod = time.Duration(cooldownSeconds) * time.Second

	batchSize, err := getEnvAsUint64("RPM_BATCH_SIZE")
	if err != nil {
		return err
	}
	BatchSize = int(batchSize)

	intervalSeconds, err := getEnvAsUint64("RPM_AUTOMATION_INTERVAL_SECONDS")
	if err != nil {
		return err
	}
	AutomationInterval = time.Duration(intervalSeconds) * time.Second

	baseFeeBps, err := getEnvAsUint64("RPM_BASE_FEE_BPS")
	if err != nil {
		return err
	}
	BaseFeeBps = int(baseFeeBps)

	// Load endpoint configuration
	if err := loadEndpointConfig(); err != nil {
		return err
	}

	if err := validateBounds(); err != nil {
		return err
	}

	log.Debug().
		Str("IssuerAddress", IssuerAddress).
		Str("ChainID", ChainID).
		Dur("CooldownPeriod", CooldownPeriod).
		Int("BatchSize", BatchSize).
		Dur("AutomationInterval", AutomationInterval).
		Msg("Configuration loaded successfully.")

	return nil
}

// validateBounds enforces the fatal-configuration bounds once at startup.
func validateBounds() error {
	if AutomationInterval < MinAutomationInterval || AutomationInterval > MaxAutomationInterval {
		return fmt.Errorf("RPM_AUTOMATION_INTERVAL_SECONDS out of bounds: %s (allowed %s to %s)",
			AutomationInterval, MinAutomationInterval, MaxAutomationInterval)
	}
	if BatchSize < MinBatchSize || BatchSize > MaxBatchSize {
		return fmt.Errorf("RPM_BATCH_SIZE out of bounds: %d (allowed %d to %d)",
			BatchSize, MinBatchSize, MaxBatchSize)
	}
	if BaseFeeBps < MinBaseFeeBps || BaseFeeBps > MaxBaseFeeBps {
		return fmt.Errorf("RPM_BASE_FEE_BPS out of bounds: %d (allowed %d to %d)",
			BaseFeeBps, MinBaseFeeBps, MaxBaseFeeBps)
	}
	if CooldownPeriod < 0 {
		return fmt.Errorf("RPM_COOLDOWN_SECONDS cannot be negative: %s", CooldownPeriod)
	}
	return nil
}

// getEnv retrieves a string environment variable. Returns error if not set.
func getEnv(key string) (string, error) {
	if value, exists := os.LookupEnv(key); exists {
		return value, nil
	}
	return "", errors.New("environment variable " + key + " is required but not set")
}

// getEnvAsUint64 retrieves an environment variable as a uint64. Returns error if not set or invalid.
func getEnvAsUint64(key string) (uint64, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return 0, err
	}
	value, err := strconv.ParseUint(valueStr, 10, 64)
	if err != nil {
		return 0, errors.New("environment variable " + key + " must be a valid uint64, got: " + valueStr)
	}
	return value, nil
}

// getEnvAsFloat64 retrieves an environment variable as a float64. Returns error if not set or invalid.
func getEnvAsFloat64(key string) (float64, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return 0, err
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, errors.New("environment variable " + key + " must be a valid float64, got: " + valueStr)
	}
	return value, nil
}
