package cycleengine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"cycle-systemv1/internal/cycle"
	"cycle-systemv1/internal/gateway"
	"cycle-systemv1/internal/logger"
	"cycle-systemv1/internal/marketdata/bus"
	"cycle-systemv1/internal/marketdata/replay"
	"cycle-systemv1/internal/metrics"
	"cycle-systemv1/internal/model"
	redisstore "cycle-systemv1/internal/store/redis"
	sqlitestore "cycle-systemv1/internal/store/sqlite"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const (
	eventBufSize = 1024
	barBufSize   = 256
)

// Service is the top-level orchestrator of the cycle engine.
// It wires all dependencies, manages lifecycle, and coordinates goroutines:
//
//	[SQLite bars] → Replayer → Engine → FanOut → {SQLite, Redis, WebSocket}
type Service struct {
	cfg Config

	engine    *cycle.Engine
	sqlReader *sqlitestore.Reader
	sqlWriter *sqlitestore.Writer
	redis     *redisstore.Publisher // nil when disabled or unreachable
	hub       *gateway.Hub          // nil when disabled

	reg    *prometheus.Registry
	prom   *metrics.Metrics
	health *metrics.HealthStatus

	fan       *bus.FanOut
	sinkNames []string

	mu   sync.RWMutex
	view View
}

// New creates a Service. SQLite is required; Redis is optional and a
// connection failure only disables it.
func New(cfg Config) (*Service, error) {
	if err := cfg.Cycle.Validate(); err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	svc := &Service{
		cfg:    cfg,
		reg:    reg,
		prom:   metrics.NewMetrics(reg),
		health: metrics.NewHealthStatus(cfg.Symbol),
	}

	// ---- Open SQLite ----
	if dir := filepath.Dir(cfg.SQLitePath); dir != "" {
		os.MkdirAll(dir, 0o755)
	}
	var err error
	svc.sqlWriter, err = sqlitestore.New(sqlitestore.WriterConfig{DBPath: cfg.SQLitePath})
	if err != nil {
		return nil, err
	}
	svc.sqlReader, err = sqlitestore.NewReader(cfg.SQLitePath)
	if err != nil {
		svc.sqlWriter.Close()
		return nil, err
	}

	// ---- Connect to Redis ----
	if cfg.RedisAddr != "" {
		pub, err := redisstore.New(redisstore.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err != nil {
			log.Printf("[cycleengine] WARNING: redis unavailable: %v (continuing without Redis)", err)
		} else {
			pub.OnDrop = func(n int) { svc.prom.RedisDroppedEvents.Add(float64(n)) }
			pub.Breaker().OnStateChange = func(from, to redisstore.BreakerState) {
				svc.prom.RedisCircuitBreakerState.Set(float64(to))
				if to == redisstore.BreakerOpen {
					svc.prom.RedisCircuitBreakerTrips.Inc()
				}
				log.Printf("[cycleengine] redis circuit breaker %s → %s", from, to)
			}
			svc.redis = pub
		}
	}

	// ---- WebSocket hub ----
	if cfg.WSAddr != "" {
		svc.hub = gateway.NewHub(cfg.Symbol, 500)
		svc.hub.OnDrop = svc.prom.WSDropsTotal.Inc
	}

	return svc, nil
}

// Run restores the engine, replays the symbol's bars and fans the events out
// to every sink. Blocks until the replay is done (ExitWhenDone) or ctx is
// cancelled.
func (svc *Service) Run(ctx context.Context) error {
	cfg := svc.cfg
	ctx = logger.WithRunID(ctx, logger.NewRunID(cfg.Symbol, time.Now()))

	// ---- Restore engine from snapshot ----
	source, err := svc.restoreEngine(ctx)
	if err != nil {
		return err
	}
	svc.publishView(nil)
	slog.Info("cycle engine starting", append(logger.LogWithRun(ctx),
		"symbol", cfg.Symbol, "cycle", cfg.Cycle.String(), "restored_from", source)...)

	// ---- Sinks ----
	// Sinks run on their own context so they drain everything the engine
	// produced before shutdown.
	sinkCtx, sinkCancel := context.WithCancel(context.Background())
	defer sinkCancel()
	eventCh := make(chan model.Event, eventBufSize)
	sinksDone := svc.startSinks(sinkCtx, eventCh)

	// ---- HTTP ----
	stopHTTP := svc.startHTTP()
	defer stopHTTP()

	var redisPinger metrics.Pinger
	if svc.redis != nil {
		redisPinger = svc.redis
	}
	svc.health.Check(ctx, redisPinger, svc.sqlWriter)
	svc.health.StartLivenessChecker(ctx, redisPinger, svc.sqlWriter, 10*time.Second)
	go svc.saturationLoop(ctx, 5*time.Second)

	// ---- Replay ----
	after := math.MinInt
	if st := svc.engine.State(); st.Started {
		after = st.LastIndex
	}
	barCh := make(chan model.Bar, barBufSize)
	replayErr := make(chan error, 1)
	go func() {
		_, err := replay.New(svc.sqlReader).Run(ctx, cfg.Symbol, after, cfg.ReplaySpeed, barCh)
		close(barCh)
		replayErr <- err
	}()

	processed := svc.processLoop(ctx, barCh, eventCh)

	err = <-replayErr
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	svc.health.SetReplayDone(true)
	stats := svc.engine.Stats()
	slog.Info("replay finished", append(logger.LogWithRun(ctx),
		"bars", processed, "closed_cycles", stats.CompletedCount, "avg_len", stats.AverageLengthBars)...)

	if err == nil && !cfg.ExitWhenDone && ctx.Err() == nil {
		svc.checkpoint(ctx, "replay_done")
		log.Println("[cycleengine] ✅ replay complete, serving until stopped. Press Ctrl+C to stop.")
		<-ctx.Done()
	}

	// ---- Graceful shutdown ----
	close(eventCh)
	<-sinksDone
	svc.shutdown()
	if err != nil {
		return fmt.Errorf("replay: %w", err)
	}
	return nil
}

// restoreEngine installs the engine and returns where its state came from.
// A cold or fresh start clears previously stored output for the symbol.
func (svc *Service) restoreEngine(ctx context.Context) (string, error) {
	var (
		source string
		err    error
	)
	if svc.cfg.Fresh {
		svc.engine, err = cycle.NewEngine(svc.cfg.Cycle)
		source = "fresh"
	} else {
		svc.engine, source, err = Restore(ctx, svc.cfg.Cycle, svc.cfg.Symbol, svc.snapshotStores())
	}
	if err != nil {
		return "", err
	}
	if source == "fresh" || source == "cold" {
		if err := svc.sqlWriter.ResetSession(svc.cfg.Symbol); err != nil {
			log.Printf("[cycleengine] sqlite reset error: %v", err)
		}
		if svc.redis != nil {
			if err := svc.redis.ResetSession(ctx, svc.cfg.Symbol); err != nil {
				log.Printf("[cycleengine] redis reset error: %v", err)
			}
		}
	}
	return source, nil
}

// startSinks subscribes every enabled sink to a FanOut over eventCh. The
// returned channel is closed once every sink has flushed and returned.
func (svc *Service) startSinks(ctx context.Context, eventCh <-chan model.Event) <-chan struct{} {
	svc.fan = bus.New(eventBufSize)
	var wg sync.WaitGroup
	add := func(name string, w model.EventWriter, lossy bool) {
		var ch <-chan model.Event
		if lossy {
			ch = svc.fan.SubscribeLossy()
		} else {
			ch = svc.fan.Subscribe()
		}
		svc.sinkNames = append(svc.sinkNames, name)
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Run(ctx, ch)
		}()
	}

	sqlSink := svc.sqlWriter.EventSink(svc.cfg.Symbol)
	sqlSink.OnCommit = func(_ int, d time.Duration) { svc.prom.SQLiteCommitDur.Observe(d.Seconds()) }
	add("sqlite", sqlSink, false)
	if svc.redis != nil {
		add("redis", svc.redis.Sink(svc.cfg.Symbol), false)
	}
	if svc.hub != nil {
		add("ws", svc.hub, true)
	}

	names := svc.sinkNames
	svc.fan.OnDrop = func(idx int, _ model.Event) {
		svc.prom.FanoutDropsTotal.WithLabelValues(subscriberLabel(names, idx)).Inc()
	}

	done := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		svc.fan.Run(ctx, eventCh)
	}()
	go func() {
		wg.Wait()
		close(done)
	}()
	return done
}

// processLoop feeds bars through the engine until barCh closes or ctx is
// done, and returns the number of bars accepted. Out-of-order bars are
// counted and skipped.
func (svc *Service) processLoop(ctx context.Context, barCh <-chan model.Bar, eventCh chan<- model.Event) int {
	processed := 0
	for b := range barCh {
		if ctx.Err() != nil {
			break
		}
		start := time.Now()
		events, err := svc.engine.Process(b)
		if err != nil {
			var oe *cycle.OrderingError
			if errors.As(err, &oe) {
				svc.prom.OrderingViolations.Inc()
			}
			log.Printf("[cycleengine] skipping bar: %v", err)
			continue
		}
		svc.observe(b, events, time.Since(start))
		svc.publishView(events)

		// Sinks outlive ctx, so this send always completes.
		for _, ev := range events {
			eventCh <- ev
		}

		processed++
		if svc.cfg.SnapshotEvery > 0 && processed%svc.cfg.SnapshotEvery == 0 {
			svc.checkpoint(ctx, "periodic")
		}
	}
	// Let the replayer observe cancellation if we stopped early.
	for range barCh {
	}
	return processed
}

// startHTTP starts the metrics and WebSocket servers. The returned func
// stops them.
func (svc *Service) startHTTP() func() {
	var stops []func(context.Context)

	var apiMux *http.ServeMux
	if svc.cfg.MetricsAddr != "" {
		ms := metrics.NewServer(svc.cfg.MetricsAddr, svc.reg, svc.health)
		apiMux = ms.Mux
		if svc.hub != nil && svc.cfg.WSAddr == svc.cfg.MetricsAddr {
			gateway.RegisterRoutes(ms.Mux, svc.hub)
		}
		svc.registerAPI(ms.Mux)
		ms.Start()
		stops = append(stops, ms.Stop)
	}

	if svc.hub != nil && svc.cfg.WSAddr != svc.cfg.MetricsAddr {
		mux := http.NewServeMux()
		gateway.RegisterRoutes(mux, svc.hub)
		if apiMux == nil {
			svc.registerAPI(mux)
		}
		srv := &http.Server{Addr: svc.cfg.WSAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			log.Printf("[cycleengine] ws gateway listening on %s", svc.cfg.WSAddr)
			if err := srv.ListenAndServe(); err != http.ErrServerClosed {
				log.Printf("[cycleengine] ws gateway error: %v", err)
			}
		}()
		stops = append(stops, func(ctx context.Context) { srv.Shutdown(ctx) })
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		for _, stop := range stops {
			stop(ctx)
		}
	}
}

// shutdown saves a final snapshot and closes connections.
func (svc *Service) shutdown() {
	log.Println("[cycleengine] shutting down, saving final snapshot...")
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	svc.checkpoint(ctx, "shutdown")

	svc.sqlReader.Close()
	svc.sqlWriter.Close()
	if svc.redis != nil {
		svc.redis.Close()
	}
	log.Println("[cycleengine] shutdown complete.")
}
