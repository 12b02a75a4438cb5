package config

import (
	"errors"
	"os"
	"strconv"

	"github.com/rs/zerolog/log"
)

// AppConfig holds all application configuration loaded from environment
// variables. Populated at startup by LoadConfig.
var (
	// NatsURL is the NATS endpoint carrying the confirmed ledger feed.
	NatsURL string

	// PremiumPeriodDays is the accrual period assumed when a premium event
	// carries no explicit period.
	PremiumPeriodDays int

	// MaxPoolUtilization is the global underwriting ceiling on
	// coverage / effective capital.
	MaxPoolUtilization float64
	// MaxTrancheUtilization is the per-tranche ceiling on
	// allocated coverage / risk-weighted capacity.
	MaxTrancheUtilization float64

	// AmountDecimals is the display precision of the smallest currency unit.
	AmountDecimals int
)

const (
	defaultPremiumPeriodDays     = 30
	defaultMaxPoolUtilization    = 0.85
	defaultMaxTrancheUtilization = 0.95
	defaultAmountDecimals        = 9
)

// LoadConfig loads configuration from environment variables and sets the
// global config vars. NATS_URL is required; risk ceilings fall back to the
// protocol defaults.
func LoadConfig() error {
	log.Info().Msg("Loading application configuration from environment variables...")

	var err error

	NatsURL, err = getEnv("NATS_URL")
	if err != nil {
		return err
	}

	PremiumPeriodDays, err = getEnvAsIntOr("PREMIUM_PERIOD_DAYS", defaultPremiumPeriodDays)
	if err != nil {
		return err
	}
	if PremiumPeriodDays <= 0 {
		return errors.New("PREMIUM_PERIOD_DAYS must be positive")
	}

	MaxPoolUtilization, err = getEnvAsFloat64Or("MAX_POOL_UTILIZATION", defaultMaxPoolUtilization)
	if err != nil {
		return err
	}
	MaxTrancheUtilization, err = getEnvAsFloat64Or("MAX_TRANCHE_UTILIZATION", defaultMaxTrancheUtilization)
	if err != nil {
		return err
	}
	if MaxPoolUtilization <= 0 || MaxPoolUtilization > 1 {
		return errors.New("MAX_POOL_UTILIZATION must be in (0,1]")
	}
	if MaxTrancheUtilization <= 0 || MaxTrancheUtilization > 1 {
		return errors.New("MAX_TRANCHE_UTILIZATION must be in (0,1]")
	}

	AmountDecimals, err = getEnvAsIntOr("AMOUNT_DECIMALS", defaultAmountDecimals)
	if err != nil {
		return err
	}

	log.Debug().
		Str("NatsURL", NatsURL).
		Int("PremiumPeriodDays", PremiumPeriodDays).
		Float64("MaxPoolUtilization", MaxPoolUtilization).
		Float64("MaxTrancheUtilization", MaxTrancheUtilization).
		Msg("Configuration loaded successfully.")

	return nil
}

// getEnv retrieves a string environment variable. Returns error if not set.
func getEnv(key string) (string, error) {
	if value, exists := os.LookupEnv(key); exists {
		return value, nil
	}
	return "", errors.New("environment variable " + key + " is required but not set")
}

// getEnvAsIntOr retrieves an environment variable as an int, falling back to
// the default when unset. Returns error on a malformed value.
func getEnvAsIntOr(key string, defaultValue int) (int, error) {
	valueStr, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return 0, errors.New("environment variable " + key + " must be a valid int, got: " + valueStr)
	}
	return value, nil
}

// getEnvAsFloat64Or retrieves an environment variable as a float64, falling
// back to the default when unset. Returns error on a malformed value.
func getEnvAsFloat64Or(key string, defaultValue float64) (float64, error) {
	valueStr, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue, nil
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, errors.New("environment variable " + key + " must be a valid float64, got: " + valueStr)
	}
	return value, nil
}
