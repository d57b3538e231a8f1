package model

import "context"

// ── Storage Port Interfaces ──
// These interfaces decouple the cycle pipeline from concrete storage and
// transport implementations (SQLite, Redis, WebSocket).

// BarReader reads historical bars for replay.
type BarReader interface {
	// ReadBars returns bars for symbol with Index > afterIndex, ordered by Index.
	ReadBars(symbol string, afterIndex int) ([]Bar, error)

	// Close releases underlying resources.
	Close() error
}

// BarWriter persists bars, e.g. when importing a CSV history.
type BarWriter interface {
	WriteBars(symbol string, bars []Bar) (int, error)
	Close() error
}

// EventWriter consumes engine output events.
type EventWriter interface {
	// Run reads events from eventCh and writes them.
	// Blocks until ctx is cancelled or eventCh is closed.
	Run(ctx context.Context, eventCh <-chan Event)
}

// SnapshotStore reads and writes engine state snapshots as raw JSON.
// Using []byte avoids a model→cycle import cycle.
type SnapshotStore interface {
	// SaveSnapshotJSON persists a JSON-encoded engine snapshot for symbol.
	SaveSnapshotJSON(ctx context.Context, symbol string, data []byte) error

	// ReadLatestSnapshotJSON loads the most recent snapshot as raw JSON.
	// Returns nil, nil if no snapshot exists.
	ReadLatestSnapshotJSON(ctx context.Context, symbol string) ([]byte, error)
}
