package cycle

import (
	"time"

	"cycle-systemv1/internal/model"
)

// Extreme is the running low or high of the open cycle.
type Extreme struct {
	Set       bool      `json:"set"`
	Index     int       `json:"index"`
	TS        time.Time `json:"ts"`
	Price     float64   `json:"price"`
	Announced bool      `json:"announced"` // emitted as a Potential point
}

func (x Extreme) point(kind model.PointKind, status model.PointStatus, cycleID int) model.CyclePoint {
	return model.CyclePoint{
		Kind:     kind,
		Status:   status,
		BarIndex: x.Index,
		TS:       x.TS,
		Price:    x.Price,
		CycleID:  cycleID,
	}
}

// Window is the open cycle: its start, running extremes and the bars seen
// since the start. Bars are kept so the next cycle can be seeded with the
// ones that follow the finalized low.
type Window struct {
	ID         int         `json:"id"`
	StartIndex int         `json:"start_index"`
	StartTS    time.Time   `json:"start_ts"`
	Low        Extreme     `json:"low"`
	High       Extreme     `json:"high"`
	Bars       []model.Bar `json:"bars"`
}

func newWindow(id, start int, ts time.Time) Window {
	return Window{ID: id, StartIndex: start, StartTS: ts}
}

// track folds b into the window's running extremes. Strictly lower lows and
// strictly higher highs replace the candidate, so ties keep the earliest bar.
//
// Bars before MinCycleLen only update the extremes. From the first bar inside
// the window on, every candidate that has not yet been announced is emitted
// as a Potential point, whether it was just set or carried over from the
// early bars. With emit=false nothing is announced.
func track(cfg Config, w Window, b model.Bar, emit bool) (Window, []model.Event) {
	w.Bars = appendBar(w.Bars, b)
	if !w.Low.Set || b.Low < w.Low.Price {
		w.Low = Extreme{Set: true, Index: b.Index, TS: b.TS, Price: b.Low}
	}
	if !w.High.Set || b.High > w.High.Price {
		w.High = Extreme{Set: true, Index: b.Index, TS: b.TS, Price: b.High}
	}

	if !emit || !cfg.InWindow(b.Index-w.StartIndex) {
		return w, nil
	}

	var events []model.Event
	if !w.Low.Announced {
		w.Low.Announced = true
		p := w.Low.point(model.KindLow, model.StatusPotential, w.ID)
		events = append(events, model.Event{Kind: model.EventPotentialLow, Point: &p})
	}
	if !w.High.Announced {
		w.High.Announced = true
		p := w.High.point(model.KindHigh, model.StatusPotential, w.ID)
		events = append(events, model.Event{Kind: model.EventPotentialHigh, Point: &p})
	}
	return w, events
}

// appendBar appends without writing into a backing array shared with older states.
func appendBar(bars []model.Bar, b model.Bar) []model.Bar {
	out := make([]model.Bar, len(bars), len(bars)+1)
	copy(out, bars)
	return append(out, b)
}
