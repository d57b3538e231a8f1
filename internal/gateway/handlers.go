package gateway

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
)

// SetCORS sets CORS headers for REST endpoints.
func SetCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

// RegisterRoutes registers the WebSocket endpoint and REST helpers on mux.
//
//	GET /ws                      live event stream (?since_seq=N for backlog)
//	GET /api/events?from=&to=    buffered envelopes for gap backfill
//	GET /api/status              symbol, connected clients, last seq
func RegisterRoutes(mux *http.ServeMux, hub *Hub) {
	mux.HandleFunc("/ws", hub.HandleWS)

	mux.HandleFunc("/api/events", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		w.Header().Set("Content-Type", "application/json")

		from := parseSeq(r.URL.Query().Get("from"), 0)
		to := parseSeq(r.URL.Query().Get("to"), math.MaxInt64)
		if from > to {
			http.Error(w, `{"error":"from must be <= to"}`, http.StatusBadRequest)
			return
		}
		envs := hub.Range(from, to)
		raw := make([]json.RawMessage, len(envs))
		for i, e := range envs {
			raw[i] = e
		}
		json.NewEncoder(w).Encode(raw)
	})

	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"symbol":   hub.Symbol,
			"clients":  hub.ClientCount(),
			"last_seq": hub.LastSeq(),
		})
	})
}

func parseSeq(s string, def int64) int64 {
	if s == "" {
		return def
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return def
	}
	return n
}
