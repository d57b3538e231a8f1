// cmd/cyclescan runs a bar history through the cycle engine and prints the
// detected cycles. Bars come from SQLite, a CSV file, or a synthetic sine wave.
//
// Usage:
//
//	go run ./cmd/cyclescan --symbol=NIFTY --timeframe=daily
//	go run ./cmd/cyclescan --csv=data/nifty.csv --min=30 --max=60 --events-out=events.csv
//	go run ./cmd/cyclescan --synthetic=600 --period=50
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cycle-systemv1/config"
	"cycle-systemv1/internal/cycle"
	"cycle-systemv1/internal/logger"
	"cycle-systemv1/internal/marketdata/csvfeed"
	"cycle-systemv1/internal/marketdata/replay"
	"cycle-systemv1/internal/model"
	sqlitestore "cycle-systemv1/internal/store/sqlite"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	env := config.Load()

	// Flags
	symbol := flag.String("symbol", env.Symbol, "Symbol to scan")
	timeframe := flag.String("timeframe", env.Timeframe, "Preset (daily, weekly, monthly, hourly, custom) or period code (D, W, M, 4H)")
	minLen := flag.Int("min", env.MinCycleLen, "Min cycle length in bars (0=preset)")
	maxLen := flag.Int("max", env.MaxCycleLen, "Max cycle length in bars (0=preset)")
	dbPath := flag.String("db", env.SQLitePath, "Path to SQLite database")
	csvPath := flag.String("csv", "", "Read bars from a CSV file instead of SQLite")
	synthetic := flag.Int("synthetic", 0, "Generate N synthetic bars instead of reading any store")
	period := flag.Int("period", 50, "Period of the synthetic sine wave in bars")
	speed := flag.Float64("speed", 0, "Playback speed multiplier (0=max, 1=realtime, 100=100x)")
	eventsOut := flag.String("events-out", "", "Write emitted events to this CSV file")
	withProj := flag.Bool("projections", false, "Include projection events in --events-out")
	flag.Parse()

	logger.Init("cyclescan", logger.ParseLevel(env.LogLevel))

	env.Timeframe, env.MinCycleLen, env.MaxCycleLen = *timeframe, *minLen, *maxLen
	cfg, err := env.CycleConfig()
	if err != nil {
		log.Fatalf("[cyclescan] %v", err)
	}

	bars, source, err := loadBars(*symbol, *dbPath, *csvPath, *synthetic, *period)
	if err != nil {
		log.Fatalf("[cyclescan] load bars: %v", err)
	}

	engine, err := cycle.NewEngine(cfg)
	if err != nil {
		log.Fatalf("[cyclescan] engine init failed: %v", err)
	}

	// Setup context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	barCh := make(chan model.Bar, 1024)
	eventCh := make(chan model.Event, 1024)
	go func() {
		if _, err := replay.Emit(ctx, bars, *speed, barCh); err != nil {
			log.Printf("[cyclescan] replay error: %v", err)
		}
		close(barCh)
	}()

	runErr := make(chan error, 1)
	go func() {
		runErr <- engine.Run(ctx, barCh, eventCh)
		close(eventCh)
	}()

	var events []model.Event
	for ev := range eventCh {
		events = append(events, ev)
		if ev.Kind == model.EventCycleClosed {
			printCycle(ev.Cycle)
		}
	}
	if err := <-runErr; err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("[cyclescan] engine stopped: %v", err)
	}

	if *eventsOut != "" {
		if err := csvfeed.WriteEventsFile(*eventsOut, events, *withProj); err != nil {
			log.Fatalf("[cyclescan] write events: %v", err)
		}
		log.Printf("[cyclescan] wrote events to %s", *eventsOut)
	}

	printSummary(*symbol, source, cfg, engine, len(events))
}

func loadBars(symbol, dbPath, csvPath string, synthetic, period int) ([]model.Bar, string, error) {
	switch {
	case synthetic > 0:
		start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
		bars := cycle.SineSeries(synthetic, period, 100, 10, start, 24*time.Hour)
		for i := range bars {
			bars[i].Symbol = symbol
		}
		return bars, fmt.Sprintf("synthetic P=%d", period), nil
	case csvPath != "":
		bars, err := csvfeed.LoadFile(csvPath, symbol)
		return bars, csvPath, err
	}
	reader, err := sqlitestore.NewReader(dbPath)
	if err != nil {
		return nil, "", err
	}
	defer reader.Close()
	bars, err := reader.ReadBars(symbol, math.MinInt)
	return bars, dbPath, err
}

func printCycle(c *model.Cycle) {
	if c == nil || !c.Closed() {
		return
	}
	length := "-"
	if c.LengthBars != nil {
		length = fmt.Sprintf("%d", *c.LengthBars)
	}
	status := ""
	if c.Failed {
		status = "  FAILED"
	}
	fmt.Printf("  cycle %-3d start=%-5d low=%.2f@%-5d high=%.2f@%-5d len=%s%s\n",
		c.ID, c.StartIndex, c.FinalLow.Price, c.FinalLow.BarIndex,
		c.FinalHigh.Price, c.FinalHigh.BarIndex, length, status)
}

func printSummary(symbol, source string, cfg cycle.Config, e *cycle.Engine, events int) {
	stats := e.Stats()
	failed := 0
	for _, c := range e.Closed() {
		if c.Failed {
			failed++
		}
	}
	avg := "n/a"
	if v, ok := stats.Average(); ok {
		avg = fmt.Sprintf("%.2f bars", v)
	}
	next := "n/a"
	if cur, ok := e.Current(); ok {
		p := cycle.Project(cfg, stats, e.State().Open, e.State().LastIndex, 0)
		next = fmt.Sprintf("bar %d (cycle %d)", p.EstimatedEndIndex, cur.ID)
	}

	fmt.Println()
	fmt.Println("╔══════════════════════════════════════════════╗")
	fmt.Println("║              CYCLE SCAN COMPLETE             ║")
	fmt.Println("╠══════════════════════════════════════════════╣")
	fmt.Printf("║  Symbol:          %-26s ║\n", symbol)
	fmt.Printf("║  Source:          %-26s ║\n", truncate(source, 26))
	fmt.Printf("║  Window:          %-26s ║\n", cfg.String()+" bars")
	fmt.Printf("║  Closed cycles:   %-26d ║\n", len(e.Closed()))
	fmt.Printf("║  Failed cycles:   %-26d ║\n", failed)
	fmt.Printf("║  Average length:  %-26s ║\n", avg)
	fmt.Printf("║  Next low due:    %-26s ║\n", next)
	fmt.Printf("║  Events emitted:  %-26d ║\n", events)
	fmt.Println("╚══════════════════════════════════════════════╝")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "…" + s[len(s)-n+1:]
}
