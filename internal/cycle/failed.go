package cycle

import "cycle-systemv1/internal/model"

// detectFailure reports whether c made a lower low than its predecessor.
// The first closed cycle has no predecessor and never fails.
func detectFailure(prev *model.Cycle, c model.Cycle) bool {
	if prev == nil || prev.FinalLow == nil || c.FinalLow == nil {
		return false
	}
	return c.FinalLow.Price < prev.FinalLow.Price
}
