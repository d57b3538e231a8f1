package model

import (
	"encoding/json"
	"time"
)

// Bar is a single OHLC bar delivered by a BarFeed.
// Index is the bar's position in the series and must strictly increase.
type Bar struct {
	Symbol string    `json:"symbol,omitempty"`
	Index  int       `json:"index"`
	TS     time.Time `json:"ts"` // bar open time (UTC)
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
}

// JSON returns the JSON-encoded bar (ignoring errors for hot-path usage).
func (b *Bar) JSON() []byte {
	data, _ := json.Marshal(b)
	return data
}
