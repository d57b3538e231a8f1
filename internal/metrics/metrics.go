// Package metrics exposes Prometheus metrics and a health endpoint for the
// cycle engine service.
package metrics

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the cycle engine.
type Metrics struct {
	BarsTotal          prometheus.Counter
	EventsTotal        *prometheus.CounterVec // labels: kind
	CyclesClosed       prometheus.Counter
	FailedCycles       prometheus.Counter
	OrderingViolations prometheus.Counter
	StepDur            prometheus.Histogram

	AvgCycleLen   prometheus.Gauge
	CurrentOffset prometheus.Gauge // bars into the open cycle
	LastBarIndex  prometheus.Gauge

	SnapshotsTotal  *prometheus.CounterVec // labels: store
	SQLiteCommitDur prometheus.Histogram

	// Backpressure
	FanoutDropsTotal     *prometheus.CounterVec // labels: subscriber
	ChannelSaturationPct *prometheus.GaugeVec   // labels: channel_name
	WSDropsTotal         prometheus.Counter
	WSClients            prometheus.Gauge

	// Circuit breaker
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
	RedisDroppedEvents       prometheus.Counter
}

// NewMetrics creates all metrics and registers them with reg.
// Pass prometheus.DefaultRegisterer in binaries, a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		BarsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cycle_bars_total",
			Help: "Total bars processed by the engine",
		}),
		EventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cycle_events_total",
			Help: "Events emitted, by kind",
		}, []string{"kind"}),
		CyclesClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cycle_closed_total",
			Help: "Cycles closed (failed or not)",
		}),
		FailedCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cycle_failed_total",
			Help: "Cycles whose final low undercut the previous final low",
		}),
		OrderingViolations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cycle_ordering_violations_total",
			Help: "Bars rejected because their index did not advance",
		}),
		StepDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cycle_step_duration_seconds",
			Help:    "Engine processing latency per bar",
			Buckets: []float64{0.000001, 0.000005, 0.00001, 0.00005, 0.0001, 0.0005, 0.001},
		}),
		AvgCycleLen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cycle_average_length_bars",
			Help: "Running average length of closed cycles",
		}),
		CurrentOffset: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cycle_current_offset_bars",
			Help: "Bars elapsed since the start of the open cycle",
		}),
		LastBarIndex: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cycle_last_bar_index",
			Help: "Index of the last processed bar",
		}),
		SnapshotsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cycle_snapshots_total",
			Help: "State snapshots written, by store",
		}, []string{"store"}),
		SQLiteCommitDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cycle_sqlite_commit_duration_seconds",
			Help:    "SQLite event batch commit latency",
			Buckets: prometheus.DefBuckets,
		}),
		FanoutDropsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cycle_fanout_drops_total",
			Help: "Events dropped by the fan-out bus per lossy subscriber",
		}, []string{"subscriber"}),
		ChannelSaturationPct: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cycle_channel_saturation_pct",
			Help: "Channel fill percentage (len/cap * 100)",
		}, []string{"channel_name"}),
		WSDropsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cycle_ws_drops_total",
			Help: "Envelopes dropped for slow WebSocket clients",
		}),
		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cycle_ws_clients",
			Help: "Connected WebSocket clients",
		}),
		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cycle_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cycle_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),
		RedisDroppedEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cycle_redis_dropped_events_total",
			Help: "Events not published because Redis was unavailable",
		}),
	}

	reg.MustRegister(
		m.BarsTotal,
		m.EventsTotal,
		m.CyclesClosed,
		m.FailedCycles,
		m.OrderingViolations,
		m.StepDur,
		m.AvgCycleLen,
		m.CurrentOffset,
		m.LastBarIndex,
		m.SnapshotsTotal,
		m.SQLiteCommitDur,
		m.FanoutDropsTotal,
		m.ChannelSaturationPct,
		m.WSDropsTotal,
		m.WSClients,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
		m.RedisDroppedEvents,
	)

	return m
}

// Pinger is a dependency that can be probed for liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthStatus represents the service health.
type HealthStatus struct {
	mu sync.RWMutex

	Symbol         string    `json:"symbol"`
	LastBarIndex   int       `json:"last_bar_index"`
	LastBarTime    time.Time `json:"last_bar_time"`
	ReplayDone     bool      `json:"replay_done"`
	RedisConnected bool      `json:"redis_connected"`
	SQLiteOK       bool      `json:"sqlite_ok"`

	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus(symbol string) *HealthStatus {
	return &HealthStatus{
		Symbol:       symbol,
		LastBarIndex: -1,
		StartedAt:    time.Now(),
	}
}

func (h *HealthStatus) SetLastBar(index int, ts time.Time) {
	h.mu.Lock()
	h.LastBarIndex = index
	h.LastBarTime = ts
	h.mu.Unlock()
}

func (h *HealthStatus) SetReplayDone(v bool) {
	h.mu.Lock()
	h.ReplayDone = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetRedisConnected(v bool) {
	h.mu.Lock()
	h.RedisConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetSQLiteOK(v bool) {
	h.mu.Lock()
	h.SQLiteOK = v
	h.mu.Unlock()
}

func probe(ctx context.Context, p Pinger) (bool, float64) {
	start := time.Now()
	err := p.Ping(ctx)
	return err == nil, float64(time.Since(start).Microseconds()) / 1000.0
}

// Check probes redis and sqlite once. Either may be nil.
func (h *HealthStatus) Check(ctx context.Context, redis, sqlite Pinger) {
	if redis != nil {
		ok, ms := probe(ctx, redis)
		h.mu.Lock()
		h.RedisConnected, h.RedisLatencyMs = ok, ms
		h.mu.Unlock()
	}
	if sqlite != nil {
		ok, ms := probe(ctx, sqlite)
		h.mu.Lock()
		h.SQLiteOK, h.SQLiteLatencyMs = ok, ms
		h.mu.Unlock()
	}
	h.mu.Lock()
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs Check every interval until ctx is cancelled.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, redis, sqlite Pinger, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				h.Check(probeCtx, redis, sqlite)
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint. SQLite is the durable sink, so
// the service is unhealthy without it and only degraded without Redis.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK
	switch {
	case !h.SQLiteOK:
		overallStatus = "unhealthy"
		httpCode = http.StatusServiceUnavailable
	case !h.RedisConnected:
		overallStatus = "degraded"
	}

	barAge := ""
	if !h.LastBarTime.IsZero() {
		barAge = time.Since(h.LastBarTime).Round(time.Second).String()
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		Symbol          string  `json:"symbol"`
		LastBarIndex    int     `json:"last_bar_index"`
		LastBarTime     string  `json:"last_bar_time"`
		BarAge          string  `json:"bar_age"`
		ReplayDone      bool    `json:"replay_done"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		Symbol:          h.Symbol,
		LastBarIndex:    h.LastBarIndex,
		LastBarTime:     h.LastBarTime.Format(time.RFC3339),
		BarAge:          barAge,
		ReplayDone:      h.ReplayDone,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics, /healthz and any extra
// routes registered on Mux before Start.
type Server struct {
	Mux *http.ServeMux

	addr string
	srv  *http.Server
}

// NewServer creates a metrics and health server. Metrics are gathered from g.
func NewServer(addr string, g prometheus.Gatherer, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	mux.Handle("/healthz", health)

	return &Server{
		Mux:  mux,
		addr: addr,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
