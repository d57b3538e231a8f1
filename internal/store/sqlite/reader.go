package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"cycle-systemv1/internal/model"
)

// Reader provides read-only access to SQLite for bar replay and snapshot restore.
type Reader struct {
	db *sql.DB
}

// NewReader opens a SQLite connection for reading.
func NewReader(dbPath string) (*Reader, error) {
	db, err := open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite open reader: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)

	log.Printf("[sqlite-reader] opened %s", dbPath)
	return &Reader{db: db}, nil
}

// ReadBars reads bars of symbol with idx > afterIndex, ordered by idx
// ascending for correct replay order.
func (r *Reader) ReadBars(symbol string, afterIndex int) ([]model.Bar, error) {
	rows, err := r.db.Query(`
		SELECT idx, ts, open, high, low, close
		FROM bars
		WHERE symbol = ? AND idx > ?
		ORDER BY idx ASC
	`, symbol, afterIndex)
	if err != nil {
		return nil, fmt.Errorf("sqlite query bars: %w", err)
	}
	defer rows.Close()

	var bars []model.Bar
	for rows.Next() {
		b := model.Bar{Symbol: symbol}
		var tsUnix int64
		if err := rows.Scan(&b.Index, &tsUnix, &b.Open, &b.High, &b.Low, &b.Close); err != nil {
			return nil, fmt.Errorf("sqlite scan bars: %w", err)
		}
		b.TS = time.Unix(tsUnix, 0).UTC()
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

// Symbols lists the symbols that have stored bars.
func (r *Reader) Symbols() ([]string, error) {
	rows, err := r.db.Query(`SELECT DISTINCT symbol FROM bars ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("sqlite query symbols: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// CycleRow is a closed cycle as stored in the cycles table.
type CycleRow struct {
	ID         int
	StartIndex int
	LowIndex   int
	LowPrice   float64
	HighIndex  int
	HighPrice  float64
	LengthBars sql.NullInt64
	Failed     bool
	CloseIndex int
}

// ReadCycles returns the closed cycles stored for symbol, ordered by id.
func (r *Reader) ReadCycles(symbol string) ([]CycleRow, error) {
	rows, err := r.db.Query(`
		SELECT id, start_index, low_index, low_price, high_index, high_price, length_bars, failed, close_index
		FROM cycles
		WHERE symbol = ?
		ORDER BY id ASC
	`, symbol)
	if err != nil {
		return nil, fmt.Errorf("sqlite query cycles: %w", err)
	}
	defer rows.Close()

	var out []CycleRow
	for rows.Next() {
		var c CycleRow
		if err := rows.Scan(&c.ID, &c.StartIndex, &c.LowIndex, &c.LowPrice, &c.HighIndex, &c.HighPrice,
			&c.LengthBars, &c.Failed, &c.CloseIndex); err != nil {
			return nil, fmt.Errorf("sqlite scan cycles: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CountEvents returns the number of stored events of symbol.
func (r *Reader) CountEvents(symbol string) (int, error) {
	var n int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM cycle_events WHERE symbol = ?`, symbol).Scan(&n)
	return n, err
}

// ReadLatestSnapshotJSON loads the most recent engine snapshot for symbol.
// Returns nil, nil if no snapshot exists.
func (r *Reader) ReadLatestSnapshotJSON(ctx context.Context, symbol string) ([]byte, error) {
	var data string
	err := r.db.QueryRowContext(ctx, `
		SELECT data FROM cycle_snapshots
		WHERE symbol = ?
		ORDER BY id DESC
		LIMIT 1
	`, symbol).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("sqlite read snapshot: %w", err)
	}
	return []byte(data), nil
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.db.Close()
}
