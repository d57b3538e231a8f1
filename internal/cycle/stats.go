package cycle

import "cycle-systemv1/internal/model"

// cycleLength is the trough-to-trough distance between prev and c.
// The first closed cycle has no predecessor and yields no sample.
func cycleLength(prev *model.Cycle, c model.Cycle) (int, bool) {
	if prev == nil || prev.FinalLow == nil || c.FinalLow == nil {
		return 0, false
	}
	return c.FinalLow.BarIndex - prev.FinalLow.BarIndex, true
}

// addSample folds one cycle length into the running mean in O(1).
func addSample(s model.CycleStats, length int) model.CycleStats {
	s.CompletedCount++
	s.TotalLengthBars += length
	s.AverageLengthBars = float64(s.TotalLengthBars) / float64(s.CompletedCount)
	return s
}
