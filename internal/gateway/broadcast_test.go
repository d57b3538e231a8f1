package gateway

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"cycle-systemv1/internal/model"

	"github.com/gorilla/websocket"
)

// envelope is the parsed WS message structure.
type envelope struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
	TS      string          `json:"ts"`
	Seq     int64           `json:"seq"`
}

func TestBuildEnvelopeFormat(t *testing.T) {
	ev := model.Event{Seq: 42, Kind: model.EventFinalLow, BarIndex: 70,
		Point: &model.CyclePoint{Kind: model.KindLow, Status: model.StatusFinal, BarIndex: 45, Price: 100, CycleID: 1}}
	channel := ev.PubSubChannel("NIFTY")
	now := time.Date(2026, 2, 25, 10, 0, 1, 0, time.UTC)

	buf := buildEnvelope(channel, ev.JSON(), now, ev.Seq)

	var env envelope
	if err := json.Unmarshal(buf, &env); err != nil {
		t.Fatalf("envelope is not valid JSON: %v\nraw: %s", err, buf)
	}
	if env.Channel != "pub:cycle:final_low:NIFTY" {
		t.Errorf("channel: got %q", env.Channel)
	}
	if env.Seq != 42 {
		t.Errorf("seq: got %d, want 42", env.Seq)
	}
	var got model.Event
	if err := json.Unmarshal(env.Data, &got); err != nil {
		t.Fatalf("data is not a valid event: %v", err)
	}
	if got.Point == nil || got.Point.BarIndex != 45 || got.Point.Price != 100 {
		t.Errorf("data point = %+v", got.Point)
	}
	if parsed, err := time.Parse(time.RFC3339Nano, env.TS); err != nil || !parsed.Equal(now) {
		t.Errorf("ts = %q (%v)", env.TS, err)
	}
}

// readEnvelopes reads frames until n envelopes arrived. Frames may carry
// several newline-separated envelopes.
func readEnvelopes(t *testing.T, conn *websocket.Conn, n int) []envelope {
	t.Helper()
	var out []envelope
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for len(out) < n {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read after %d envelopes: %v", len(out), err)
		}
		for _, line := range bytes.Split(msg, []byte{'\n'}) {
			var env envelope
			if err := json.Unmarshal(line, &env); err != nil {
				t.Fatalf("bad envelope %q: %v", line, err)
			}
			out = append(out, env)
		}
	}
	return out
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func TestHub_BacklogThenLive(t *testing.T) {
	hub := NewHub("NIFTY", 16)
	mux := http.NewServeMux()
	RegisterRoutes(mux, hub)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	for i := int64(1); i <= 3; i++ {
		hub.Broadcast(model.Event{Seq: i, Kind: model.EventProjection})
	}

	conn := dial(t, srv, "?since_seq=1")
	defer conn.Close()

	hub.Broadcast(model.Event{Seq: 4, Kind: model.EventCycleClosed, Cycle: &model.Cycle{ID: 1}})

	got := readEnvelopes(t, conn, 3)
	for i, env := range got {
		if want := int64(i + 2); env.Seq != want {
			t.Errorf("envelope %d seq = %d, want %d", i, env.Seq, want)
		}
	}
	if got[2].Channel != "pub:cycle:cycle_closed:NIFTY" {
		t.Errorf("live channel = %q", got[2].Channel)
	}
}

func TestHub_SubscribeFiltersKinds(t *testing.T) {
	hub := NewHub("NIFTY", 16)
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	sub, _ := json.Marshal(subscribeMsg{Type: "SUBSCRIBE", Kinds: []string{"final_high"}})
	if err := conn.WriteMessage(websocket.TextMessage, sub); err != nil {
		t.Fatalf("write: %v", err)
	}
	// Round-trip a ping so the subscription is applied before broadcasting.
	conn.WriteMessage(websocket.TextMessage, []byte(`{"ping":1}`))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, msg, err := conn.ReadMessage(); err != nil || !bytes.Contains(msg, []byte(`"pong"`)) {
		t.Fatalf("expected pong, got %q (%v)", msg, err)
	}

	hub.Broadcast(model.Event{Seq: 1, Kind: model.EventFinalLow})
	hub.Broadcast(model.Event{Seq: 2, Kind: model.EventFinalHigh})

	got := readEnvelopes(t, conn, 1)
	if got[0].Seq != 2 {
		t.Errorf("expected only final_high (seq 2), got seq %d", got[0].Seq)
	}
}

func TestRegisterRoutes_EventsAndStatus(t *testing.T) {
	hub := NewHub("BTC", 8)
	mux := http.NewServeMux()
	RegisterRoutes(mux, hub)
	for i := int64(1); i <= 5; i++ {
		hub.Broadcast(model.Event{Seq: i, Kind: model.EventProjection})
	}

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/events?from=2&to=3", nil))
	var envs []envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &envs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(envs) != 2 || envs[0].Seq != 2 || envs[1].Seq != 3 {
		t.Errorf("events = %+v", envs)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/events?from=4&to=1", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("inverted range status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	var st struct {
		Symbol  string `json:"symbol"`
		Clients int    `json:"clients"`
		LastSeq int64  `json:"last_seq"`
	}
	json.Unmarshal(rec.Body.Bytes(), &st)
	if st.Symbol != "BTC" || st.LastSeq != 5 || st.Clients != 0 {
		t.Errorf("status = %+v", st)
	}
}
