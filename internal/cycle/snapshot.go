package cycle

import (
	"encoding/json"
	"fmt"
	"log"
)

// snapshotVersion is bumped whenever State changes shape.
const snapshotVersion = 1

// Snapshot is a serializable checkpoint of an engine.
type Snapshot struct {
	Version int    `json:"version"`
	Symbol  string `json:"symbol"`
	Config  Config `json:"config"`
	State   State  `json:"state"`
}

// Snapshot captures the engine state for symbol.
func (e *Engine) Snapshot(symbol string) *Snapshot {
	return &Snapshot{
		Version: snapshotVersion,
		Symbol:  symbol,
		Config:  e.cfg,
		State:   e.state,
	}
}

// MarshalSnapshot encodes a snapshot as JSON.
func MarshalSnapshot(snap *Snapshot) ([]byte, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	return data, nil
}

// UnmarshalSnapshot decodes a JSON snapshot. A nil or empty input yields nil, nil.
func UnmarshalSnapshot(data []byte) (*Snapshot, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// RestoreEngine rebuilds an engine from snap. The snapshot must have been
// taken with the same cycle bounds, otherwise closed cycles and running
// extremes would not match the windows the engine enforces from now on.
func RestoreEngine(cfg Config, snap *Snapshot) (*Engine, error) {
	e, err := NewEngine(cfg)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return e, nil
	}
	if snap.Version != snapshotVersion {
		return nil, fmt.Errorf("cycle: snapshot version %d, want %d", snap.Version, snapshotVersion)
	}
	if snap.Config != cfg {
		return nil, fmt.Errorf("%w: snapshot %s, engine %s", ErrSnapshotMismatch, snap.Config, cfg)
	}
	e.state = snap.State
	log.Printf("[cycle] restored %s: %d closed cycles, open cycle %d from bar %d",
		snap.Symbol, len(snap.State.Closed), snap.State.Open.ID, snap.State.Open.StartIndex)
	return e, nil
}
