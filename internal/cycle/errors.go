package cycle

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig is wrapped by every ConfigError.
	ErrInvalidConfig = errors.New("cycle: invalid config")

	// ErrOrderingViolation is wrapped by every OrderingError.
	ErrOrderingViolation = errors.New("cycle: bar out of order")

	// ErrSnapshotMismatch is returned when a snapshot was taken with a different config.
	ErrSnapshotMismatch = errors.New("cycle: snapshot config mismatch")
)

// ConfigError reports an invalid cycle length configuration.
type ConfigError struct {
	MinCycleLen int
	MaxCycleLen int
	Reason      string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("cycle: invalid config min=%d max=%d: %s", e.MinCycleLen, e.MaxCycleLen, e.Reason)
}

func (e *ConfigError) Unwrap() error { return ErrInvalidConfig }

// OrderingError reports a bar whose index does not advance past the last one seen.
type OrderingError struct {
	Last int
	Got  int
}

func (e *OrderingError) Error() string {
	return fmt.Sprintf("cycle: bar index %d delivered after %d", e.Got, e.Last)
}

func (e *OrderingError) Unwrap() error { return ErrOrderingViolation }
