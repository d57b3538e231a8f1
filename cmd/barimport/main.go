// cmd/barimport loads a CSV bar file into the SQLite bars table.
//
// Usage:
//
//	go run ./cmd/barimport --csv=data/nifty_daily.csv --symbol=NIFTY
package main

import (
	"flag"
	"log"
	"os"
	"path/filepath"

	"cycle-systemv1/config"
	"cycle-systemv1/internal/marketdata/csvfeed"
	sqlitestore "cycle-systemv1/internal/store/sqlite"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	env := config.Load()

	csvPath := flag.String("csv", "", "CSV file with ts,open,high,low,close columns (index optional)")
	symbol := flag.String("symbol", env.Symbol, "Symbol to store the bars under")
	dbPath := flag.String("db", env.SQLitePath, "Path to SQLite database")
	flag.Parse()

	if *csvPath == "" {
		log.Fatal("[barimport] --csv is required")
	}

	bars, err := csvfeed.LoadFile(*csvPath, *symbol)
	if err != nil {
		log.Fatalf("[barimport] %v", err)
	}
	for i := 1; i < len(bars); i++ {
		if bars[i].Index <= bars[i-1].Index {
			log.Fatalf("[barimport] row %d: index %d does not follow %d", i+1, bars[i].Index, bars[i-1].Index)
		}
	}

	os.MkdirAll(filepath.Dir(*dbPath), 0o755)
	w, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: *dbPath})
	if err != nil {
		log.Fatalf("[barimport] sqlite open failed: %v", err)
	}
	defer w.Close()

	n, err := w.WriteBars(*symbol, bars)
	if err != nil {
		log.Fatalf("[barimport] write failed: %v", err)
	}
	log.Printf("[barimport] ✅ imported %d bars for %s into %s", n, *symbol, *dbPath)
}
