package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

const (
	// MaxCallRequestTimeoutSeconds bounds how long a call request may stay
	// pending. The larger values are meant for extended/administrative
	// invitations, not ordinary peer-to-peer calls.
	MaxCallRequestTimeoutSeconds = 1800

	DefaultCallRequestTimeoutSeconds = 30
	DefaultSweepIntervalSeconds      = 5
)

type Config struct {
	HTTPAddr    string
	DatabaseURL string
	LogLevel    string

	// RedisAddr enables cross-instance change-feed fanout when set.
	RedisAddr string

	CallRequestTimeoutSeconds int
	SweepIntervalSeconds      int
}

func Load() (Config, error) {
	cfg := Config{
		HTTPAddr:    getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL: getEnv("DATABASE_URL", "sqlite::memory:"),
		LogLevel:    strings.TrimSpace(getEnv("LOG_LEVEL", "info")),
		RedisAddr:   strings.TrimSpace(getEnv("REDIS_ADDR", "")),
	}

	if strings.TrimSpace(cfg.HTTPAddr) == "" {
		return Config{}, fmt.Errorf("HTTP_ADDR must not be empty")
	}
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return Config{}, fmt.Errorf("DATABASE_URL must not be empty")
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	var err error
	cfg.CallRequestTimeoutSeconds, err = getEnvInt("CALL_REQUEST_TIMEOUT_SECONDS", DefaultCallRequestTimeoutSeconds)
	if err != nil {
		return Config{}, err
	}
	if cfg.CallRequestTimeoutSeconds <= 0 {
		return Config{}, fmt.Errorf("CALL_REQUEST_TIMEOUT_SECONDS must be positive")
	}
	if cfg.CallRequestTimeoutSeconds > MaxCallRequestTimeoutSeconds {
		return Config{}, fmt.Errorf("CALL_REQUEST_TIMEOUT_SECONDS must not exceed %d", MaxCallRequestTimeoutSeconds)
	}

	cfg.SweepIntervalSeconds, err = getEnvInt("SWEEP_INTERVAL_SECONDS", DefaultSweepIntervalSeconds)
	if err != nil {
		return Config{}, err
	}
	if cfg.SweepIntervalSeconds <= 0 {
		return Config{}, fmt.Errorf("SWEEP_INTERVAL_SECONDS must be positive")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	v, ok := os.LookupEnv(key)
	if !ok {
		return defaultValue
	}
	v = strings.TrimSpace(v)
	if v == "" {
		return defaultValue
	}
	return v
}

func getEnvInt(key string, defaultValue int) (int, error) {
	v := strings.TrimSpace(getEnv(key, ""))
	if v == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}
