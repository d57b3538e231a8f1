package cycle

import (
	"math"
	"time"

	"cycle-systemv1/internal/model"
)

// Project estimates the end of the open cycle w as seen from bar current.
//
// The estimated length is the rounded mean of the completed cycle lengths,
// or MaxCycleLen while no length sample exists, clamped to the configured
// bounds. The end timestamp extrapolates from the cycle start using the
// observed bar interval.
func Project(cfg Config, stats model.CycleStats, w Window, current int, barInterval time.Duration) model.ProjectionEstimate {
	base := float64(cfg.MaxCycleLen)
	if avg, ok := stats.Average(); ok {
		base = avg
	}
	length := clamp(int(math.Round(base)), cfg.MinCycleLen, cfg.MaxCycleLen)
	offset := current - w.StartIndex

	return model.ProjectionEstimate{
		CycleID:             w.ID,
		StartIndex:          w.StartIndex,
		EstimatedEndIndex:   w.StartIndex + length,
		EstimatedEndTS:      w.StartTS.Add(time.Duration(length) * barInterval),
		EstimatedLengthBars: length,
		BarsIntoCycle:       offset,
		InWindow:            cfg.InWindow(offset),
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
