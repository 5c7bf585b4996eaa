package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"
)

const DryRunMode = "dry-run"

// AppConfig holds all application configuration loaded from environment variables.
// These are populated at startup by the LoadConfig function.
var (
	// VaultAddress is the EVM address holding the treasury USDC on every chain.
	VaultAddress common.Address

	// RouterMode selects the executor. Only "dry-run" is supported; live execution is external.
	RouterMode string

	// LoopInterval is the time between routing cycles.
	LoopInterval time.Duration

	// StrategyFile is an optional YAML file overriding the default strategy parameters.
	StrategyFile string

	// RedisAddr enables the Redis opportunity cache when set.
	RedisAddr string

	// WebPort is the port for the dashboard API.
	WebPort string
)

// LoadConfig loads configuration from environment variables and sets the global config vars.
// VAULT_ADDRESS is required; everything else has a default.
func LoadConfig() error {
	log.Info().Msg("Loading application configuration from environment variables...")

	addr, err := getEnv("VAULT_ADDRESS")
	if err != nil {
		return err
	}
	if !common.IsHexAddress(addr) {
		return errors.New("environment variable VAULT_ADDRESS must be a hex address, got: " + addr)
	}
	VaultAddress = common.HexToAddress(addr)

	RouterMode = getEnvOrDefault("ROUTER_MODE", DryRunMode)
	if RouterMode != DryRunMode {
		return errors.New("ROUTER_MODE " + RouterMode + " is not supported, only " + DryRunMode)
	}

	LoopInterval, err = getEnvAsDuration("LOOP_INTERVAL", 10*time.Minute)
	if err != nil {
		return err
	}

	StrategyFile = getEnvOrDefault("STRATEGY_FILE", "")
	RedisAddr = getEnvOrDefault("REDIS_ADDR", "")
	WebPort = getEnvOrDefault("WEB_PORT", "8080")

	if err := loadEndpointConfig(); err != nil {
		return err
	}

	log.Debug().
		Str("VaultAddress", VaultAddress.Hex()).
		Str("RouterMode", RouterMode).
		Dur("LoopInterval", LoopInterval).
		Msg("Configuration loaded successfully.")

	return nil
}

// DBConfigFromEnv reads the DB_* variables.
func DBConfigFromEnv() (host string, port int, user, password, name, sslMode string) {
	port, err := getEnvAsInt("DB_PORT")
	if err != nil {
		port = 5432
	}
	return getEnvOrDefault("DB_HOST", "localhost"), port,
		os.Getenv("DB_USER"), os.Getenv("DB_PASSWORD"),
		os.Getenv("DB_NAME"), getEnvOrDefault("DB_SSLMODE", "disable")
}

// getEnv retrieves a string environment variable. Returns error if not set.
func getEnv(key string) (string, error) {
	if value, exists := os.LookupEnv(key); exists {
		return value, nil
	}
	return "", errors.New("environment variable " + key + " is required but not set")
}

func getEnvOrDefault(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

// getEnvAsInt retrieves an environment variable as an int. Returns error if not set or invalid.
func getEnvAsInt(key string) (int, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return 0, err
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return 0, errors.New("environment variable " + key + " must be a valid int, got: " + valueStr)
	}
	return value, nil
}

// getEnvAsDuration parses a Go duration, falling back when the variable is unset.
func getEnvAsDuration(key string, fallback time.Duration) (time.Duration, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return fallback, nil
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil || value <= 0 {
		return 0, errors.New("environment variable " + key + " must be a positive duration, got: " + valueStr)
	}
	return value, nil
}
