package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewMetrics_RegistersOnCustomRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.BarsTotal.Add(3)
	m.EventsTotal.WithLabelValues("final_low").Inc()
	m.AvgCycleLen.Set(50)

	h := NewServer(":0", reg, NewHealthStatus("X")).Mux
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{
		"cycle_bars_total 3",
		`cycle_events_total{kind="final_low"} 1`,
		"cycle_average_length_bars 50",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func TestHealthStatus_Statuses(t *testing.T) {
	cases := []struct {
		name       string
		redis, sql error
		wantStatus string
		wantCode   int
	}{
		{"healthy", nil, nil, "healthy", http.StatusOK},
		{"degraded", errors.New("down"), nil, "degraded", http.StatusOK},
		{"unhealthy", nil, errors.New("down"), "unhealthy", http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewHealthStatus("NIFTY")
			h.Check(context.Background(), fakePinger{tc.redis}, fakePinger{tc.sql})
			h.SetLastBar(42, time.Now())

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
			if rec.Code != tc.wantCode {
				t.Errorf("code = %d, want %d", rec.Code, tc.wantCode)
			}
			var got struct {
				Status       string `json:"status"`
				LastBarIndex int    `json:"last_bar_index"`
			}
			json.Unmarshal(rec.Body.Bytes(), &got)
			if got.Status != tc.wantStatus || got.LastBarIndex != 42 {
				t.Errorf("body = %+v", got)
			}
		})
	}
}
