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

// Snapshot store backends
const (
	StoreMemory = "memory"
	StoreFile   = "file"
	StoreRedis  = "redis"
)

// Config holds the battle client configuration
type Config struct {
	ServerURL      string
	ConnectTimeout time.Duration
	SwitchGrace    time.Duration
	HeartBeat      string

	ReconnectBaseDelay   time.Duration
	ReconnectMaxAttempts int
	HealthCheckInterval  time.Duration
	StallThreshold       time.Duration
	StallVerifyDelay     time.Duration

	SnapshotStore string
	SnapshotDir   string
	SnapshotTTL   time.Duration
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	LogLevel    string
	LogFormat   string
	MetricsAddr string
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	return &Config{
		ServerURL:            "ws://localhost:8080/ws",
		ConnectTimeout:       10 * time.Second,
		SwitchGrace:          500 * time.Millisecond,
		HeartBeat:            "0,0",
		ReconnectBaseDelay:   5 * time.Second,
		ReconnectMaxAttempts: 3,
		HealthCheckInterval:  5 * time.Second,
		StallThreshold:       30 * time.Second,
		StallVerifyDelay:     3 * time.Second,
		SnapshotStore:        StoreMemory,
		SnapshotDir:          ".quizbattle/snapshots",
		SnapshotTTL:          2 * time.Hour,
		RedisAddr:            "localhost:6379",
		LogLevel:             "info",
		LogFormat:            "json",
	}
}

// Load reads an optional .env file and then the environment
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	d := Default()
	cfg := &Config{
		ServerURL:            getEnv("BATTLE_WS_URL", d.ServerURL),
		ConnectTimeout:       getEnvDuration("BATTLE_CONNECT_TIMEOUT", d.ConnectTimeout),
		SwitchGrace:          getEnvDuration("BATTLE_SWITCH_GRACE", d.SwitchGrace),
		HeartBeat:            getEnv("BATTLE_HEART_BEAT", d.HeartBeat),
		ReconnectBaseDelay:   getEnvDuration("BATTLE_RECONNECT_BASE_DELAY", d.ReconnectBaseDelay),
		ReconnectMaxAttempts: getEnvInt("BATTLE_RECONNECT_MAX_ATTEMPTS", d.ReconnectMaxAttempts),
		HealthCheckInterval:  getEnvDuration("BATTLE_HEALTH_INTERVAL", d.HealthCheckInterval),
		StallThreshold:       getEnvDuration("BATTLE_STALL_THRESHOLD", d.StallThreshold),
		StallVerifyDelay:     getEnvDuration("BATTLE_STALL_VERIFY_DELAY", d.StallVerifyDelay),
		SnapshotStore:        strings.ToLower(getEnv("SNAPSHOT_STORE", d.SnapshotStore)),
		SnapshotDir:          getEnv("SNAPSHOT_DIR", d.SnapshotDir),
		SnapshotTTL:          getEnvDuration("SNAPSHOT_TTL", d.SnapshotTTL),
		RedisAddr:            getEnv("REDIS_ADDR", d.RedisAddr),
		RedisPassword:        getEnv("REDIS_PASSWORD", ""),
		RedisDB:              getEnvInt("REDIS_DB", 0),
		LogLevel:             getEnv("LOG_LEVEL", d.LogLevel),
		LogFormat:            getEnv("LOG_FORMAT", d.LogFormat),
		MetricsAddr:          getEnv("METRICS_ADDR", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks if the configuration is usable
func (c *Config) Validate() error {
	var errs []error

	if c.ServerURL == "" {
		errs = append(errs, errors.New("server url is required"))
	}
	positive := map[string]time.Duration{
		"connect timeout":       c.ConnectTimeout,
		"reconnect base delay":  c.ReconnectBaseDelay,
		"health check interval": c.HealthCheckInterval,
		"stall threshold":       c.StallThreshold,
		"stall verify delay":    c.StallVerifyDelay,
	}
	for name, d := range positive {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	if c.StallVerifyDelay >= c.StallThreshold {
		errs = append(errs, fmt.Errorf("stall verify delay %s must be shorter than the stall threshold %s", c.StallVerifyDelay, c.StallThreshold))
	}
	if c.SwitchGrace < 0 {
		errs = append(errs, fmt.Errorf("switch grace must not be negative, got %s", c.SwitchGrace))
	}
	if c.ReconnectMaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("reconnect max attempts must be at least 1, got %d", c.ReconnectMaxAttempts))
	}
	switch c.SnapshotStore {
	case StoreMemory, StoreFile, StoreRedis:
	default:
		errs = append(errs, fmt.Errorf("unknown snapshot store %q", c.SnapshotStore))
	}

	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("5s") or plain seconds ("5")
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if n, err := strconv.Atoi(value); err == nil {
		return time.Duration(n) * time.Second
	}
	return defaultValue
}
