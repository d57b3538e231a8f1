package model

import (
	"encoding/json"
	"time"
)

// PointKind distinguishes cycle lows from cycle highs.
type PointKind string

const (
	KindLow  PointKind = "low"
	KindHigh PointKind = "high"
)

// PointStatus is Potential while the cycle is open and Final once it closes.
type PointStatus string

const (
	StatusPotential PointStatus = "potential"
	StatusFinal     PointStatus = "final"
)

// CyclePoint is a candidate or locked-in extreme of a cycle.
type CyclePoint struct {
	Kind     PointKind   `json:"kind"`
	Status   PointStatus `json:"status"`
	BarIndex int         `json:"bar_index"`
	TS       time.Time   `json:"ts"`
	Price    float64     `json:"price"`
	CycleID  int         `json:"cycle_id"`
}

// Cycle is the record of one trough-to-trough span. Closed cycles are immutable.
type Cycle struct {
	ID         int         `json:"id"`
	StartIndex int         `json:"start_index"`
	StartTS    time.Time   `json:"start_ts"`
	FinalLow   *CyclePoint `json:"final_low,omitempty"`
	FinalHigh  *CyclePoint `json:"final_high,omitempty"`
	LengthBars *int        `json:"length_bars,omitempty"` // nil for the first closed cycle
	Failed     bool        `json:"failed"`
	CloseIndex int         `json:"close_index"` // bar that exhausted the window
}

// Closed reports whether the cycle has locked in its extremes.
func (c *Cycle) Closed() bool {
	return c.FinalLow != nil && c.FinalHigh != nil
}

// JSON returns the JSON-encoded cycle.
func (c *Cycle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}

// CycleStats is the running aggregate over completed cycle lengths.
type CycleStats struct {
	CompletedCount    int     `json:"completed_count"`
	TotalLengthBars   int     `json:"total_length_bars"`
	AverageLengthBars float64 `json:"average_length_bars"`
}

// Average returns the mean cycle length, or false when no sample exists yet.
func (s CycleStats) Average() (float64, bool) {
	if s.CompletedCount == 0 {
		return 0, false
	}
	return s.AverageLengthBars, true
}

// ProjectionEstimate predicts where the currently open cycle will end.
type ProjectionEstimate struct {
	CycleID             int       `json:"cycle_id"`
	StartIndex          int       `json:"start_index"`
	EstimatedEndIndex   int       `json:"estimated_end_index"`
	EstimatedEndTS      time.Time `json:"estimated_end_ts"`
	EstimatedLengthBars int       `json:"estimated_length_bars"`
	BarsIntoCycle       int       `json:"bars_into_cycle"`
	InWindow            bool      `json:"in_window"`
}
