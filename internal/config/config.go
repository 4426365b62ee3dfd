package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Queue     QueueConfig
	RateLimit RateLimitConfig
	Verify    VerifyConfig
	Load      LoadConfig
	Storage   StorageConfig
}

type ServerConfig struct {
	ListenAddr   string
	UpstreamAddr string
	AdminAddr    string
	Env          string
}

type QueueConfig struct {
	Capacity      int
	DrainPerTick  int
	DrainInterval time.Duration
}

type RateLimitConfig struct {
	Enabled          bool
	BlockDuration    time.Duration
	OffenseWindow    time.Duration
	OffenseThreshold int
	IgnoredAddresses []string
}

type VerifyConfig struct {
	AuthorityURL               string
	AuthorityTimeout           time.Duration
	BudgetPerMinute            int
	InvalidationAlertThreshold int
}

type LoadConfig struct {
	SuppressThreshold int
}

type StorageConfig struct {
	DataDir string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	upstream := getEnv("UPSTREAM_ADDR", "")
	if upstream == "" {
		return nil, fmt.Errorf("UPSTREAM_ADDR is required")
	}

	authorityURL := getEnv("AUTHORITY_URL", "")
	if authorityURL == "" {
		return nil, fmt.Errorf("AUTHORITY_URL is required")
	}

	cfg := &Config{
		Server: ServerConfig{
			ListenAddr:   getEnv("LISTEN_ADDR", ":25565"),
			UpstreamAddr: upstream,
			AdminAddr:    getEnv("ADMIN_ADDR", ":8080"),
			Env:          getEnv("ENV", "development"),
		},
		Queue: QueueConfig{
			Capacity:      getEnvAsInt("QUEUE_CAPACITY", 40),
			DrainPerTick:  getEnvAsInt("DRAIN_PER_TICK", 8),
			DrainInterval: getEnvAsDuration("DRAIN_INTERVAL", 1*time.Second),
		},
		RateLimit: RateLimitConfig{
			Enabled:          getEnvAsBool("RATE_LIMIT_ENABLED", true),
			BlockDuration:    getEnvAsDuration("RATE_LIMIT_BLOCK_DURATION", 15*time.Second),
			OffenseWindow:    getEnvAsDuration("OFFENSE_WINDOW", 2*time.Second),
			OffenseThreshold: getEnvAsInt("OFFENSE_THRESHOLD", 5),
			IgnoredAddresses: parseIgnoredAddresses(),
		},
		Verify: VerifyConfig{
			AuthorityURL:               authorityURL,
			AuthorityTimeout:           getEnvAsDuration("AUTHORITY_TIMEOUT", 10*time.Second),
			BudgetPerMinute:            getEnvAsInt("VERIFY_BUDGET_PER_MINUTE", 200),
			InvalidationAlertThreshold: getEnvAsInt("INVALIDATION_ALERT_THRESHOLD", 40),
		},
		Load: LoadConfig{
			SuppressThreshold: getEnvAsInt("LOAD_SUPPRESS_THRESHOLD", 150),
		},
		Storage: StorageConfig{
			DataDir: getEnv("DATA_DIR", "./data"),
		},
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func validate(cfg *Config) error {
	if cfg.Queue.Capacity <= 0 {
		return fmt.Errorf("QUEUE_CAPACITY must be > 0")
	}
	if cfg.Queue.DrainPerTick <= 0 {
		return fmt.Errorf("DRAIN_PER_TICK must be > 0")
	}
	if cfg.Queue.DrainInterval <= 0 {
		return fmt.Errorf("DRAIN_INTERVAL must be > 0")
	}
	if cfg.RateLimit.BlockDuration < time.Second {
		return fmt.Errorf("RATE_LIMIT_BLOCK_DURATION must be at least 1s")
	}
	if cfg.RateLimit.OffenseThreshold <= 0 {
		return fmt.Errorf("OFFENSE_THRESHOLD must be > 0")
	}
	if cfg.Verify.BudgetPerMinute <= 0 {
		return fmt.Errorf("VERIFY_BUDGET_PER_MINUTE must be > 0")
	}
	if cfg.Verify.AuthorityTimeout <= 0 {
		return fmt.Errorf("AUTHORITY_TIMEOUT must be > 0")
	}
	if cfg.Load.SuppressThreshold <= 0 {
		return fmt.Errorf("LOAD_SUPPRESS_THRESHOLD must be > 0")
	}
	if cfg.Server.ListenAddr == cfg.Server.UpstreamAddr {
		return fmt.Errorf("LISTEN_ADDR and UPSTREAM_ADDR must not be the same")
	}
	return nil
}

func parseIgnoredAddresses() []string {
	raw := getEnv("IGNORED_ADDRESSES", "")
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	addrs := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			addrs = append(addrs, p)
		}
	}
	return addrs
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}
