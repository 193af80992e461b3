package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	ServiceName    = "order-service"
	ServiceVersion = "1.0.0"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

type Config struct {
	Port           string
	Store          string
	DatabaseURL    string
	DBMaxConns     int32
	RequestTimeout time.Duration
	SeedDemoData   bool
	LogLevel       string

	KafkaBrokers   string
	KafkaTopic     string
	OutboxBatch    int
	OutboxInterval time.Duration

	RedisURL        string
	ProductCacheTTL time.Duration

	OtelEndpoint string
}

type NotifierConfig struct {
	Port         string
	DatabaseURL  string
	KafkaBrokers string
	Topic        string
	GroupID      string
	LogLevel     string
}

// Load reads the order service configuration from the environment. A .env
// file in the working directory, when present, is loaded first and never
// overrides variables that are already set.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:            getenv("PORT", "8080"),
		Store:           strings.ToLower(getenv("STORE", StorePostgres)),
		DatabaseURL:     strings.TrimSpace(os.Getenv("DATABASE_URL")),
		DBMaxConns:      int32(getint("DB_MAX_CONNS", 25)),
		RequestTimeout:  getms("REQUEST_TIMEOUT_MS", 2500),
		SeedDemoData:    getbool("SEED_DEMO_DATA", false),
		LogLevel:        getenv("LOG_LEVEL", "info"),
		KafkaBrokers:    getenv("KAFKA_BROKERS", ""),
		KafkaTopic:      getenv("KAFKA_TOPIC", "txlab.orders"),
		OutboxBatch:     getint("OUTBOX_BATCH", 100),
		OutboxInterval:  getms("OUTBOX_INTERVAL_MS", 1000),
		RedisURL:        getenv("REDIS_URL", ""),
		ProductCacheTTL: getms("PRODUCT_CACHE_TTL_MS", 30000),
		OtelEndpoint:    getenv("OTEL_ENDPOINT", ""),
	}

	switch cfg.Store {
	case StorePostgres:
		if cfg.DatabaseURL == "" {
			return nil, errors.New("DATABASE_URL is required")
		}
	case StoreMemory:
	default:
		return nil, fmt.Errorf("unknown STORE %q", cfg.Store)
	}
	if cfg.RequestTimeout <= 0 {
		return nil, errors.New("REQUEST_TIMEOUT_MS must be > 0")
	}
	return cfg, nil
}

func LoadNotifier() (*NotifierConfig, error) {
	_ = godotenv.Load()

	db := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if db == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	return &NotifierConfig{
		Port:         getenv("PORT", "8080"),
		DatabaseURL:  db,
		KafkaBrokers: getenv("KAFKA_BROKERS", ""),
		Topic:        getenv("KAFKA_TOPIC", "txlab.orders"),
		GroupID:      getenv("KAFKA_GROUP_ID", "notification-service"),
		LogLevel:     getenv("LOG_LEVEL", "info"),
	}, nil
}

func getenv(k, def string) string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	return v
}

func getint(k string, def int) int {
	n, err := strconv.Atoi(getenv(k, ""))
	if err != nil {
		return def
	}
	return n
}

func getms(k string, def int) time.Duration {
	return time.Duration(getint(k, def)) * time.Millisecond
}

func getbool(k string, def bool) bool {
	switch strings.ToLower(getenv(k, "")) {
	case "1", "true", "yes":
		return true
	case "0", "false", "no":
		return false
	}
	return def
}
