package gateway

import "sync"

// replayEntry holds a single broadcast envelope.
type replayEntry struct {
	Seq  int64
	Kind string
	Data []byte // pre-built envelope JSON
}

// ReplayBuffer is a fixed-size ring of the most recent envelopes, ordered by
// seq. Safe for concurrent use.
type ReplayBuffer struct {
	mu   sync.RWMutex
	buf  []replayEntry
	cap  int
	pos  int // next write position
	full bool
}

// NewReplayBuffer creates a replay buffer with the given capacity
// (500 if capacity ≤ 0).
func NewReplayBuffer(capacity int) *ReplayBuffer {
	if capacity <= 0 {
		capacity = 500
	}
	return &ReplayBuffer{
		buf: make([]replayEntry, capacity),
		cap: capacity,
	}
}

// Push appends an envelope, overwriting the oldest one when full.
// data is copied.
func (rb *ReplayBuffer) Push(seq int64, kind string, data []byte) {
	cp := make([]byte, len(data))
	copy(cp, data)

	rb.mu.Lock()
	rb.buf[rb.pos] = replayEntry{Seq: seq, Kind: kind, Data: cp}
	rb.pos = (rb.pos + 1) % rb.cap
	if rb.pos == 0 {
		rb.full = true
	}
	rb.mu.Unlock()
}

// Range returns entries with seq in [fromSeq, toSeq], oldest first.
func (rb *ReplayBuffer) Range(fromSeq, toSeq int64) []replayEntry {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	var out []replayEntry
	for i, n := 0, rb.len(); i < n; i++ {
		e := rb.buf[rb.index(i)]
		if e.Seq >= fromSeq && e.Seq <= toSeq {
			out = append(out, e)
		}
	}
	return out
}

// Since returns entries with seq > seq, oldest first.
func (rb *ReplayBuffer) Since(seq int64) []replayEntry {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	var out []replayEntry
	for i, n := 0, rb.len(); i < n; i++ {
		if e := rb.buf[rb.index(i)]; e.Seq > seq {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the number of buffered entries.
func (rb *ReplayBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.len()
}

// Cap returns the buffer capacity.
func (rb *ReplayBuffer) Cap() int { return rb.cap }

func (rb *ReplayBuffer) len() int {
	if rb.full {
		return rb.cap
	}
	return rb.pos
}

// index maps a logical index (0 = oldest) to a slot in buf.
func (rb *ReplayBuffer) index(logical int) int {
	if rb.full {
		return (rb.pos + logical) % rb.cap
	}
	return logical
}
