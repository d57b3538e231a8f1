package gateway

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"cycle-systemv1/internal/model"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

// Hub fans engine events out to WebSocket clients.
//
// Every broadcast envelope is kept in a ReplayBuffer, so a client that joins
// late (or reconnects with ?since_seq=N) first receives what it missed and
// then the live stream, with no gap or duplicate between the two.
type Hub struct {
	Symbol string

	mu      sync.Mutex
	clients map[*Client]bool
	replay  *ReplayBuffer
	lastSeq int64
	sendBuf int

	// OnDrop is called when a slow client's queue is full and an envelope is
	// dropped for it.
	OnDrop func()
}

// NewHub creates a hub for symbol keeping replayCap envelopes for late joiners.
func NewHub(symbol string, replayCap int) *Hub {
	rb := NewReplayBuffer(replayCap)
	return &Hub{
		Symbol:  symbol,
		clients: make(map[*Client]bool),
		replay:  rb,
		sendBuf: rb.Cap() + 64,
	}
}

// Run broadcasts events from eventCh until ctx is cancelled or eventCh is
// closed. Implements model.EventWriter.
func (h *Hub) Run(ctx context.Context, eventCh <-chan model.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-eventCh:
			if !ok {
				return
			}
			h.Broadcast(ev)
		}
	}
}

// Broadcast sends ev to every client subscribed to its kind.
func (h *Hub) Broadcast(ev model.Event) {
	buf := buildEnvelope(ev.PubSubChannel(h.Symbol), ev.JSON(), time.Now().UTC(), ev.Seq)

	h.mu.Lock()
	defer h.mu.Unlock()
	h.replay.Push(ev.Seq, string(ev.Kind), buf)
	h.lastSeq = ev.Seq

	for client := range h.clients {
		if !client.wants(string(ev.Kind)) {
			continue
		}
		select {
		case client.send <- buf:
		default:
			if h.OnDrop != nil {
				h.OnDrop()
			}
		}
	}
}

// buildEnvelope renders {"channel":...,"data":...,"ts":...,"seq":N} without
// a second json.Marshal pass over data.
func buildEnvelope(channel string, data []byte, now time.Time, seq int64) []byte {
	buf := make([]byte, 0, len(channel)+len(data)+96)
	buf = append(buf, `{"channel":"`...)
	buf = append(buf, channel...)
	buf = append(buf, `","data":`...)
	buf = append(buf, data...)
	buf = append(buf, `,"ts":"`...)
	buf = now.AppendFormat(buf, time.RFC3339Nano)
	buf = append(buf, `","seq":`...)
	buf = strconv.AppendInt(buf, seq, 10)
	buf = append(buf, '}')
	return buf
}

// HandleWS upgrades the request and registers the client. The optional
// since_seq query parameter limits the backlog to envelopes after that seq.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	var since int64
	if s := r.URL.Query().Get("since_seq"); s != "" {
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			since = n
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[gateway] ws upgrade error: %v", err)
		return
	}
	conn.EnableWriteCompression(true)

	client := &Client{
		conn: conn,
		send: make(chan []byte, h.sendBuf),
		hub:  h,
	}

	h.mu.Lock()
	for _, e := range h.replay.Since(since) {
		client.send <- e.Data
	}
	h.clients[client] = true
	count := len(h.clients)
	h.mu.Unlock()

	log.Printf("[gateway] ws client connected (%d total, since_seq=%d)", count, since)

	go client.writePump()
	go client.readPump()
}

// RemoveClient unregisters c and closes its send queue.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.clients[c] {
		return
	}
	delete(h.clients, c)
	close(c.send)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// LastSeq returns the seq of the most recently broadcast event.
func (h *Hub) LastSeq() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastSeq
}

// Range returns buffered envelopes with seq in [fromSeq, toSeq].
func (h *Hub) Range(fromSeq, toSeq int64) [][]byte {
	entries := h.replay.Range(fromSeq, toSeq)
	out := make([][]byte, len(entries))
	for i, e := range entries {
		out[i] = e.Data
	}
	return out
}
