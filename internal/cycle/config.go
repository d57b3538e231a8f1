package cycle

import (
	"fmt"
	"strings"
)

// Config bounds the length of a cycle in bars.
type Config struct {
	MinCycleLen int `json:"min_cycle_len"`
	MaxCycleLen int `json:"max_cycle_len"`
}

// NewConfig returns a validated Config.
func NewConfig(minLen, maxLen int) (Config, error) {
	cfg := Config{MinCycleLen: minLen, MaxCycleLen: maxLen}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate returns a *ConfigError unless 0 < MinCycleLen <= MaxCycleLen.
func (c Config) Validate() error {
	switch {
	case c.MinCycleLen <= 0:
		return &ConfigError{MinCycleLen: c.MinCycleLen, MaxCycleLen: c.MaxCycleLen, Reason: "min cycle length must be positive"}
	case c.MinCycleLen > c.MaxCycleLen:
		return &ConfigError{MinCycleLen: c.MinCycleLen, MaxCycleLen: c.MaxCycleLen, Reason: "min cycle length exceeds max"}
	}
	return nil
}

// InWindow reports whether a bar offset lies in [MinCycleLen, MaxCycleLen].
func (c Config) InWindow(offset int) bool {
	return offset >= c.MinCycleLen && offset <= c.MaxCycleLen
}

func (c Config) String() string {
	return fmt.Sprintf("%d-%d", c.MinCycleLen, c.MaxCycleLen)
}

// Timeframe selects a default cycle length preset.
type Timeframe string

const (
	Daily   Timeframe = "daily"
	Weekly  Timeframe = "weekly"
	Monthly Timeframe = "monthly"
	Hourly  Timeframe = "hourly"
	Custom  Timeframe = "custom"
)

// Presets holds the default cycle bounds per timeframe. Hourly charts have no
// dedicated table entry and use the Custom bounds.
var Presets = map[Timeframe]Config{
	Daily:   {MinCycleLen: 40, MaxCycleLen: 70},
	Weekly:  {MinCycleLen: 5, MaxCycleLen: 13},
	Monthly: {MinCycleLen: 40, MaxCycleLen: 54},
	Custom:  {MinCycleLen: 40, MaxCycleLen: 70},
}

// PresetFor returns the preset for tf, falling back to Custom.
func PresetFor(tf Timeframe) Config {
	if cfg, ok := Presets[tf]; ok {
		return cfg
	}
	return Presets[Custom]
}

// ParseTimeframe parses a preset name such as "daily" or "Weekly".
func ParseTimeframe(s string) (Timeframe, error) {
	tf := Timeframe(strings.ToLower(strings.TrimSpace(s)))
	switch tf {
	case Daily, Weekly, Monthly, Hourly, Custom:
		return tf, nil
	}
	return "", fmt.Errorf("cycle: unknown timeframe %q", s)
}

// TimeframeFromPeriod maps a chart period code to a timeframe:
// "D" daily, "W" weekly, "M" monthly, anything containing "H" hourly,
// everything else (e.g. "5", "15") custom.
func TimeframeFromPeriod(period string) Timeframe {
	p := strings.ToUpper(strings.TrimSpace(period))
	switch {
	case p == "D" || p == "1D":
		return Daily
	case p == "W" || p == "1W":
		return Weekly
	case p == "M" || p == "1M":
		return Monthly
	case strings.Contains(p, "H"):
		return Hourly
	}
	return Custom
}
