package cycleengine

import (
	"cycle-systemv1/config"
	"cycle-systemv1/internal/cycle"
)

// Config holds the resolved configuration of one engine service.
type Config struct {
	Symbol string
	Cycle  cycle.Config

	SQLitePath    string
	RedisAddr     string // empty disables Redis
	RedisPassword string
	MetricsAddr   string // empty disables /metrics and /healthz
	WSAddr        string // empty disables the WebSocket gateway

	ReplaySpeed   float64
	SnapshotEvery int // bars between checkpoints, 0 disables periodic checkpoints

	// Fresh ignores stored snapshots and clears the symbol's stored output.
	Fresh bool
	// ExitWhenDone stops the service once the replay is exhausted instead of
	// serving until cancelled.
	ExitWhenDone bool
}

// FromEnv builds a service Config from the environment configuration.
func FromEnv(c *config.Config) (Config, error) {
	cc, err := c.CycleConfig()
	if err != nil {
		return Config{}, err
	}
	return Config{
		Symbol:        c.Symbol,
		Cycle:         cc,
		SQLitePath:    c.SQLitePath,
		RedisAddr:     c.RedisAddr,
		RedisPassword: c.RedisPassword,
		MetricsAddr:   c.MetricsAddr,
		WSAddr:        c.WSAddr,
		ReplaySpeed:   c.ReplaySpeed,
		SnapshotEvery: c.SnapshotEvery,
	}, nil
}
