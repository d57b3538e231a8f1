package cycle

import (
	"time"

	"cycle-systemv1/internal/model"
)

// State is the complete engine state between two bars. Step never mutates a
// State it was given, so any earlier State can be stepped again with the same
// result.
type State struct {
	Started    bool             `json:"started"`
	FirstIndex int              `json:"first_index"`
	FirstTS    time.Time        `json:"first_ts"`
	LastIndex  int              `json:"last_index"`
	LastTS     time.Time        `json:"last_ts"`
	Seq        int64            `json:"seq"` // seq of the last emitted event
	Open       Window           `json:"open"`
	Closed     []model.Cycle    `json:"closed"`
	Stats      model.CycleStats `json:"stats"`
}

// Step folds one bar into st and returns the new state with the events the
// bar produced, in emission order. A bar whose index does not advance past
// the last one seen is rejected with an *OrderingError and st is returned
// unchanged.
func Step(cfg Config, st State, b model.Bar) (State, []model.Event, error) {
	if st.Started && b.Index <= st.LastIndex {
		return st, nil, &OrderingError{Last: st.LastIndex, Got: b.Index}
	}
	if !st.Started {
		st.Started = true
		st.FirstIndex, st.FirstTS = b.Index, b.TS
		st.Open = newWindow(1, b.Index, b.TS)
	}
	st.LastIndex, st.LastTS = b.Index, b.TS

	var events []model.Event

	// The bar that exhausts the window belongs to the next cycle, so close
	// first. Gaps in the index can exhaust more than one window at once.
	for b.Index-st.Open.StartIndex >= cfg.MaxCycleLen {
		if !st.Open.Low.Set {
			st.Open = newWindow(st.Open.ID, b.Index, b.TS)
			break
		}
		var closed model.Cycle
		var finals []model.Event
		st.Open, closed, finals = finalize(cfg, st.Open, b)
		events = append(events, finals...)

		prev := st.lastClosed()
		closed.Failed = detectFailure(prev, closed)
		if n, ok := cycleLength(prev, closed); ok {
			closed.LengthBars = &n
			st.Stats = addSample(st.Stats, n)
		}
		st.Closed = appendCycle(st.Closed, closed)

		rec := closed
		events = append(events, model.Event{Kind: model.EventCycleClosed, Cycle: &rec})
		if closed.Failed {
			failed := closed
			events = append(events, model.Event{Kind: model.EventFailedCycle, Cycle: &failed})
		}
	}

	var potentials []model.Event
	st.Open, potentials = track(cfg, st.Open, b, true)
	events = append(events, potentials...)

	proj := Project(cfg, st.Stats, st.Open, b.Index, st.barInterval())
	events = append(events, model.Event{Kind: model.EventProjection, Projection: &proj})

	for i := range events {
		st.Seq++
		events[i].Seq = st.Seq
		events[i].BarIndex = b.Index
	}
	return st, events, nil
}

// Current returns a view of the open cycle as a Cycle record without finals.
func (st State) Current() model.Cycle {
	return model.Cycle{ID: st.Open.ID, StartIndex: st.Open.StartIndex, StartTS: st.Open.StartTS}
}

func (st State) lastClosed() *model.Cycle {
	if len(st.Closed) == 0 {
		return nil
	}
	return &st.Closed[len(st.Closed)-1]
}

// barInterval is the mean time between consecutive bar indices seen so far.
func (st State) barInterval() time.Duration {
	n := st.LastIndex - st.FirstIndex
	if n <= 0 {
		return 0
	}
	return st.LastTS.Sub(st.FirstTS) / time.Duration(n)
}

// appendCycle appends without writing into a backing array shared with older states.
func appendCycle(cs []model.Cycle, c model.Cycle) []model.Cycle {
	out := make([]model.Cycle, len(cs), len(cs)+1)
	copy(out, cs)
	return append(out, c)
}
