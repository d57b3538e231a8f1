package model

import "encoding/json"

// EventKind names the type of an engine output event.
type EventKind string

const (
	EventPotentialLow  EventKind = "potential_low"
	EventPotentialHigh EventKind = "potential_high"
	EventFinalLow      EventKind = "final_low"
	EventFinalHigh     EventKind = "final_high"
	EventCycleClosed   EventKind = "cycle_closed"
	EventFailedCycle   EventKind = "failed_cycle"
	EventProjection    EventKind = "projection"
)

// Event is one entry of the engine's ordered output stream.
// Exactly one of Point, Cycle or Projection is set, depending on Kind.
type Event struct {
	Seq        int64               `json:"seq"`
	Kind       EventKind           `json:"kind"`
	BarIndex   int                 `json:"bar_index"` // bar whose processing produced the event
	Point      *CyclePoint         `json:"point,omitempty"`
	Cycle      *Cycle              `json:"cycle,omitempty"`
	Projection *ProjectionEstimate `json:"projection,omitempty"`
}

// CycleID returns the id of the cycle the event refers to.
func (e *Event) CycleID() int {
	switch {
	case e.Point != nil:
		return e.Point.CycleID
	case e.Cycle != nil:
		return e.Cycle.ID
	case e.Projection != nil:
		return e.Projection.CycleID
	}
	return 0
}

// StreamKey returns the Redis stream key: "cycle:events:{symbol}".
func StreamKey(symbol string) string {
	return "cycle:events:" + symbol
}

// PubSubChannel returns the live channel: "pub:cycle:{kind}:{symbol}".
func (e *Event) PubSubChannel(symbol string) string {
	return "pub:cycle:" + string(e.Kind) + ":" + symbol
}

// JSON returns the JSON-encoded event.
func (e *Event) JSON() []byte {
	b, _ := json.Marshal(e)
	return b
}
