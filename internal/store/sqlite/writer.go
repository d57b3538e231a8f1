package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"cycle-systemv1/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

const (
	defaultBatchSize  = 100
	defaultFlushDelay = 200 * time.Millisecond
	snapshotsKept     = 10
)

// WriterConfig configures the SQLite writer.
type WriterConfig struct {
	DBPath string // path to SQLite database file, e.g. "data/cycles.db"
}

// Writer is a single-goroutine SQLite writer with transaction batching.
type Writer struct {
	db *sql.DB
}

// DB returns the underlying sql.DB.
func (w *Writer) DB() *sql.DB { return w.db }

// Ping checks the database connection.
func (w *Writer) Ping(ctx context.Context) error { return w.db.PingContext(ctx) }

// New creates a new SQLite Writer, initializes the database with WAL mode and schema.
func New(cfg WriterConfig) (*Writer, error) {
	db, err := open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Set connection pool for single-writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened database at %s", cfg.DBPath)
	return &Writer{db: db}, nil
}

func open(path string) (*sql.DB, error) {
	return sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS bars (
			symbol TEXT    NOT NULL,
			idx    INTEGER NOT NULL,
			ts     INTEGER NOT NULL,
			open   REAL    NOT NULL,
			high   REAL    NOT NULL,
			low    REAL    NOT NULL,
			close  REAL    NOT NULL,
			PRIMARY KEY (symbol, idx)
		);

		CREATE TABLE IF NOT EXISTS cycle_events (
			symbol    TEXT    NOT NULL,
			seq       INTEGER NOT NULL,
			kind      TEXT    NOT NULL,
			bar_index INTEGER NOT NULL,
			cycle_id  INTEGER NOT NULL,
			data      TEXT    NOT NULL,
			PRIMARY KEY (symbol, seq)
		);

		CREATE TABLE IF NOT EXISTS cycles (
			symbol      TEXT    NOT NULL,
			id          INTEGER NOT NULL,
			start_index INTEGER NOT NULL,
			low_index   INTEGER NOT NULL,
			low_price   REAL    NOT NULL,
			high_index  INTEGER NOT NULL,
			high_price  REAL    NOT NULL,
			length_bars INTEGER,
			failed      INTEGER NOT NULL,
			close_index INTEGER NOT NULL,
			PRIMARY KEY (symbol, id)
		);

		CREATE TABLE IF NOT EXISTS cycle_snapshots (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol     TEXT    NOT NULL,
			data       TEXT    NOT NULL,
			created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
		);
	`)
	return err
}

// WriteBars upserts bars for symbol in a single transaction and returns the
// number written.
func (w *Writer) WriteBars(symbol string, bars []model.Bar) (int, error) {
	tx, err := w.db.Begin()
	if err != nil {
		return 0, err
	}

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO bars (symbol, idx, ts, open, high, low, close)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	defer stmt.Close()

	for _, b := range bars {
		if _, err := stmt.Exec(symbol, b.Index, b.TS.Unix(), b.Open, b.High, b.Low, b.Close); err != nil {
			tx.Rollback()
			return 0, fmt.Errorf("insert bar %d: %w", b.Index, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(bars), nil
}

// ResetSession deletes the stored events and cycles of symbol, so a new
// replay does not mix with the output of an earlier one.
func (w *Writer) ResetSession(symbol string) error {
	if _, err := w.db.Exec(`DELETE FROM cycle_events WHERE symbol = ?`, symbol); err != nil {
		return fmt.Errorf("sqlite reset events: %w", err)
	}
	if _, err := w.db.Exec(`DELETE FROM cycles WHERE symbol = ?`, symbol); err != nil {
		return fmt.Errorf("sqlite reset cycles: %w", err)
	}
	return nil
}

// EventSink returns an EventWriter that stores events and closed cycles for symbol.
func (w *Writer) EventSink(symbol string) *EventSink {
	return &EventSink{w: w, symbol: symbol}
}

// EventSink batches engine events into SQLite.
type EventSink struct {
	w      *Writer
	symbol string

	// OnCommit is called after each committed batch (for metrics).
	OnCommit func(n int, d time.Duration)
}

// Run reads events from eventCh and inserts them in batched transactions.
// Flushes every batchSize events OR every flushDelay, whichever first.
// Blocks until ctx is cancelled or eventCh is closed.
func (s *EventSink) Run(ctx context.Context, eventCh <-chan model.Event) {
	batch := make([]model.Event, 0, defaultBatchSize)
	timer := time.NewTimer(defaultFlushDelay)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		start := time.Now()
		if err := s.w.insertEvents(s.symbol, batch); err != nil {
			log.Printf("[sqlite] event batch insert error: %v", err)
		} else if s.OnCommit != nil {
			s.OnCommit(len(batch), time.Since(start))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return

		case ev, ok := <-eventCh:
			if !ok {
				flush()
				return
			}
			batch = append(batch, ev)
			if len(batch) >= defaultBatchSize {
				flush()
				timer.Reset(defaultFlushDelay)
			}

		case <-timer.C:
			flush()
			timer.Reset(defaultFlushDelay)
		}
	}
}

// insertEvents stores a batch of events, and the cycle record of every
// cycle_closed event, in a single transaction.
func (w *Writer) insertEvents(symbol string, events []model.Event) error {
	tx, err := w.db.Begin()
	if err != nil {
		return err
	}

	evStmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO cycle_events (symbol, seq, kind, bar_index, cycle_id, data)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer evStmt.Close()

	cyStmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO cycles (symbol, id, start_index, low_index, low_price, high_index, high_price, length_bars, failed, close_index)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer cyStmt.Close()

	for i := range events {
		ev := &events[i]
		if _, err := evStmt.Exec(symbol, ev.Seq, string(ev.Kind), ev.BarIndex, ev.CycleID(), string(ev.JSON())); err != nil {
			tx.Rollback()
			return err
		}
		if ev.Kind != model.EventCycleClosed || ev.Cycle == nil || !ev.Cycle.Closed() {
			continue
		}
		c := ev.Cycle
		var length sql.NullInt64
		if c.LengthBars != nil {
			length = sql.NullInt64{Int64: int64(*c.LengthBars), Valid: true}
		}
		if _, err := cyStmt.Exec(symbol, c.ID, c.StartIndex,
			c.FinalLow.BarIndex, c.FinalLow.Price, c.FinalHigh.BarIndex, c.FinalHigh.Price,
			length, c.Failed, c.CloseIndex); err != nil {
			tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

// SaveSnapshotJSON stores an engine snapshot and prunes all but the latest few for symbol.
func (w *Writer) SaveSnapshotJSON(ctx context.Context, symbol string, data []byte) error {
	if _, err := w.db.ExecContext(ctx, `INSERT INTO cycle_snapshots (symbol, data) VALUES (?, ?)`, symbol, string(data)); err != nil {
		return fmt.Errorf("sqlite insert snapshot: %w", err)
	}

	_, err := w.db.ExecContext(ctx, `
		DELETE FROM cycle_snapshots
		WHERE symbol = ? AND id NOT IN (
			SELECT id FROM cycle_snapshots WHERE symbol = ? ORDER BY id DESC LIMIT ?
		)`, symbol, symbol, snapshotsKept)
	if err != nil {
		log.Printf("[sqlite] prune snapshots warning: %v", err)
	}
	return nil
}

// Close closes the database.
func (w *Writer) Close() error {
	return w.db.Close()
}
