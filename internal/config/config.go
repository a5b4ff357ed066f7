package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds everything the server reads from the environment.
type Config struct {
	Port         string
	DatabaseURL  string
	KafkaBrokers []string
	Env          string

	// Rate limiter housekeeping.
	CleanupInterval  time.Duration
	CounterRetention time.Duration
}

// Load reads a .env file when present, then the process environment.
func Load() *Config {
	// Missing .env is normal in production; env vars win either way.
	_ = godotenv.Load()

	return &Config{
		Port:             getEnv("PORT", "8080"),
		DatabaseURL:      getEnv("DATABASE_URL", ""),
		KafkaBrokers:     splitList(getEnv("KAFKA_BROKERS", "")),
		Env:              getEnv("ENV", "development"),
		CleanupInterval:  getDuration("RATE_LIMIT_CLEANUP_INTERVAL", 10*time.Minute),
		CounterRetention: getDuration("RATE_LIMIT_RETENTION", 2*time.Hour),
	}
}

// Production reports whether the server should run with production logging.
func (c *Config) Production() bool {
	return c.Env == "production"
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}

	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	value, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}

	d, err := time.ParseDuration(value)
	if err != nil {
		// Accept bare seconds too.
		if secs, convErr := strconv.Atoi(value); convErr == nil {
			return time.Duration(secs) * time.Second
		}

		return fallback
	}

	return d
}

func splitList(value string) []string {
	if value == "" {
		return nil
	}

	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))

	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}

	return out
}
