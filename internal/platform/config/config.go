package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config captures process-level configuration so main stays lean.
type Config struct {
	Addr string

	// PostgresDSN enables the postgres-backed stores when set; empty keeps
	// everything in memory (dev/test).
	PostgresDSN string

	// RedisURL enables the redis-backed run recorder and schedule store.
	RedisURL string

	// KafkaBrokers/KafkaTopic enable the fiscal event publisher.
	KafkaBrokers []string
	KafkaTopic   string

	// DeviceTimeout bounds every external signing-device call.
	DeviceTimeout time.Duration

	// JobHistoryLimit caps retained job history entries per organization.
	JobHistoryLimit int

	// CloseWindow is the tolerance around a site's configured daily-close
	// time inside which an hourly firing is considered due.
	CloseWindow time.Duration
}

// FromEnv builds a Config from environment variables with development defaults.
func FromEnv() Config {
	cfg := Config{
		Addr:            getenv("FISCALHUB_ADDR", ":8080"),
		PostgresDSN:     os.Getenv("FISCALHUB_POSTGRES_DSN"),
		RedisURL:        os.Getenv("FISCALHUB_REDIS_URL"),
		KafkaTopic:      getenv("FISCALHUB_KAFKA_TOPIC", "fiscal.events"),
		DeviceTimeout:   getduration("FISCALHUB_DEVICE_TIMEOUT", 30*time.Second),
		JobHistoryLimit: getint("FISCALHUB_JOB_HISTORY_LIMIT", 1000),
		CloseWindow:     getduration("FISCALHUB_CLOSE_WINDOW", 30*time.Minute),
	}
	if brokers := os.Getenv("FISCALHUB_KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = strings.Split(brokers, ",")
	}
	return cfg
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getint(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func getduration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}
