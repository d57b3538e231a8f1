package config

import (
	"log"
	"os"
	"strconv"
	"strings"

	"cycle-systemv1/internal/cycle"

	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment
// variables (optionally seeded from a .env file).
type Config struct {
	// Instrument
	Symbol    string
	Timeframe string // preset name ("daily") or chart period code ("W", "4H")

	// Cycle length overrides; 0 keeps the preset bound.
	MinCycleLen int
	MaxCycleLen int

	// Infrastructure
	RedisAddr     string
	RedisPassword string
	SQLitePath    string
	MetricsAddr   string
	WSAddr        string

	// Replay
	ReplaySpeed   float64 // 0 = as fast as possible
	SnapshotEvery int     // bars between state checkpoints

	LogLevel string
}

// Load reads configuration from the environment with sensible defaults.
// A .env file in the working directory is loaded first if present; real
// environment variables take precedence over it.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Symbol:    getEnv("CYCLE_SYMBOL", "NIFTY"),
		Timeframe: getEnv("CYCLE_TIMEFRAME", "daily"),

		MinCycleLen: getEnvInt("CYCLE_MIN_LEN", 0),
		MaxCycleLen: getEnvInt("CYCLE_MAX_LEN", 0),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		SQLitePath:    getEnv("SQLITE_PATH", "data/cycles.db"),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),
		WSAddr:        getEnv("WS_ADDR", ":9091"),

		ReplaySpeed:   getEnvFloat("REPLAY_SPEED", 0),
		SnapshotEvery: getEnvInt("SNAPSHOT_EVERY", 500),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
}

// ResolveTimeframe interprets Timeframe as a preset name, falling back to a
// chart period code.
func (c *Config) ResolveTimeframe() cycle.Timeframe {
	if tf, err := cycle.ParseTimeframe(c.Timeframe); err == nil {
		return tf
	}
	return cycle.TimeframeFromPeriod(c.Timeframe)
}

// CycleConfig resolves the timeframe preset, applies the min/max overrides
// and validates the result.
func (c *Config) CycleConfig() (cycle.Config, error) {
	cfg := cycle.PresetFor(c.ResolveTimeframe())
	if c.MinCycleLen != 0 {
		cfg.MinCycleLen = c.MinCycleLen
	}
	if c.MaxCycleLen != 0 {
		cfg.MaxCycleLen = c.MaxCycleLen
	}
	return cfg, cfg.Validate()
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return strings.TrimSpace(v)
}

func getEnvInt(key string, fallback int) int {
	v := getEnv(key, "")
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] invalid int for %s: %q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	v := getEnv(key, "")
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("[config] invalid float for %s: %q, using %g", key, v, fallback)
		return fallback
	}
	return f
}
