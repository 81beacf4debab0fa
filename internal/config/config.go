package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all server configuration, read from the environment.
type Config struct {
	Host           string
	Port           string
	LinksBaseURL   string
	MoveBaseURL    string
	ServiceTimeout time.Duration
	MoveMaxRetries int
	MoveRetryDelay time.Duration
	Debug          bool
}

func Load() (*Config, error) {
	cfg := &Config{
		Host:         getEnv("HOST", "0.0.0.0"),
		Port:         getEnv("PORT", "8080"),
		LinksBaseURL: getEnv("LINKS_BASE_URL", "http://localhost:9001"),
		MoveBaseURL:  getEnv("MOVE_BASE_URL", "http://localhost:9002"),
	}

	timeoutSec, err := getEnvInt("SERVICE_TIMEOUT_SECONDS", 60)
	if err != nil {
		return nil, err
	}
	cfg.ServiceTimeout = time.Duration(timeoutSec) * time.Second

	cfg.MoveMaxRetries, err = getEnvInt("MOVE_MAX_RETRIES", 3)
	if err != nil {
		return nil, err
	}

	delaySec, err := getEnvInt("MOVE_RETRY_DELAY_SECONDS", 2)
	if err != nil {
		return nil, err
	}
	cfg.MoveRetryDelay = time.Duration(delaySec) * time.Second

	debugStr := getEnv("DEBUG", "false")
	cfg.Debug, err = strconv.ParseBool(debugStr)
	if err != nil {
		return nil, fmt.Errorf("invalid DEBUG value: %w", err)
	}

	return cfg, nil
}

func (c *Config) Addr() string {
	return c.Host + ":" + c.Port
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value: %w", key, err)
	}
	return n, nil
}
