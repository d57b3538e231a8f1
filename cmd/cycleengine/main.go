// cmd/cycleengine replays a symbol's bars from SQLite through the cycle
// engine and streams the events to SQLite, Redis and WebSocket clients,
// checkpointing engine state so a restart resumes where it stopped.
//
// Usage:
//
//	CYCLE_SYMBOL=NIFTY REPLAY_SPEED=100 go run ./cmd/cycleengine
//	go run ./cmd/cycleengine --fresh --once
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"cycle-systemv1/config"
	"cycle-systemv1/internal/cycleengine"
	"cycle-systemv1/internal/logger"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	fresh := flag.Bool("fresh", false, "Ignore stored snapshots and rebuild all output from the first bar")
	once := flag.Bool("once", false, "Exit after the replay instead of serving until stopped")
	flag.Parse()

	env := config.Load()
	logger.Init("cycleengine", logger.ParseLevel(env.LogLevel))

	cfg, err := cycleengine.FromEnv(env)
	if err != nil {
		log.Fatalf("[cycleengine] config: %v", err)
	}
	cfg.Fresh, cfg.ExitWhenDone = *fresh, *once
	log.Printf("[cycleengine] symbol=%s window=%s speed=%.1fx snapshot every %d bars",
		cfg.Symbol, cfg.Cycle, cfg.ReplaySpeed, cfg.SnapshotEvery)

	svc, err := cycleengine.New(cfg)
	if err != nil {
		log.Fatalf("[cycleengine] init failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if err := svc.Run(ctx); err != nil {
		log.Fatalf("[cycleengine] fatal: %v", err)
	}
}
