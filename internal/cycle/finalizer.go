package cycle

import "cycle-systemv1/internal/model"

// finalize closes w on bar b, whose offset has reached MaxCycleLen. It locks
// the running extremes in as Final points and opens the next cycle on the bar
// after the finalized low, re-tracking the retained bars that follow it
// without announcing anything.
//
// The returned Cycle has no Failed flag or length yet; those depend on the
// closed-cycle history and are filled in by Step.
func finalize(cfg Config, w Window, b model.Bar) (Window, model.Cycle, []model.Event) {
	low := w.Low.point(model.KindLow, model.StatusFinal, w.ID)
	high := w.High.point(model.KindHigh, model.StatusFinal, w.ID)

	closed := model.Cycle{
		ID:         w.ID,
		StartIndex: w.StartIndex,
		StartTS:    w.StartTS,
		FinalLow:   &low,
		FinalHigh:  &high,
		CloseIndex: b.Index,
	}

	lowEv, highEv := low, high
	events := []model.Event{
		{Kind: model.EventFinalLow, Point: &lowEv},
		{Kind: model.EventFinalHigh, Point: &highEv},
	}

	start := low.BarIndex + 1
	startTS := b.TS
	for _, rb := range w.Bars {
		if rb.Index >= start {
			startTS = rb.TS
			break
		}
	}

	next := newWindow(w.ID+1, start, startTS)
	for _, rb := range w.Bars {
		if rb.Index < start {
			continue
		}
		next, _ = track(cfg, next, rb, false)
	}
	return next, closed, events
}
