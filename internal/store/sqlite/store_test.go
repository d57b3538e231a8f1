package sqlite

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"cycle-systemv1/internal/cycle"
	"cycle-systemv1/internal/model"
)

func openTestStore(t *testing.T) (*Writer, *Reader) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cycles.db")
	w, err := New(WriterConfig{DBPath: path})
	if err != nil {
		t.Fatalf("open writer: %v", err)
	}
	r, err := NewReader(path)
	if err != nil {
		w.Close()
		t.Fatalf("open reader: %v", err)
	}
	t.Cleanup(func() {
		r.Close()
		w.Close()
	})
	return w, r
}

func TestBars_RoundTripOrdered(t *testing.T) {
	w, r := openTestStore(t)
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	bars := cycle.SineSeries(50, 20, 100, 10, start, 24*time.Hour)

	// Insert out of order to check ORDER BY.
	reversed := make([]model.Bar, len(bars))
	for i, b := range bars {
		reversed[len(bars)-1-i] = b
	}
	if n, err := w.WriteBars("TEST", reversed); err != nil || n != 50 {
		t.Fatalf("WriteBars = %d, %v", n, err)
	}

	got, err := r.ReadBars("TEST", 9)
	if err != nil {
		t.Fatalf("ReadBars: %v", err)
	}
	if len(got) != 40 {
		t.Fatalf("expected 40 bars after index 9, got %d", len(got))
	}
	for i, b := range got {
		want := bars[i+10]
		if b.Index != want.Index || !b.TS.Equal(want.TS) || b.Low != want.Low || b.Symbol != "TEST" {
			t.Fatalf("bar %d = %+v, want %+v", i, b, want)
		}
	}

	syms, err := r.Symbols()
	if err != nil || len(syms) != 1 || syms[0] != "TEST" {
		t.Errorf("Symbols = %v, %v", syms, err)
	}
}

func TestEventSink_StoresEventsAndCycles(t *testing.T) {
	w, r := openTestStore(t)
	cfg, _ := cycle.NewConfig(5, 13)
	bars := cycle.SineSeries(120, 10, 100, 10, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), time.Hour)
	events, st, err := cycle.Replay(cfg, bars)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}

	ch := make(chan model.Event, len(events))
	for _, ev := range events {
		ch <- ev
	}
	close(ch)

	committed := 0
	sink := w.EventSink("SINE")
	sink.OnCommit = func(n int, _ time.Duration) { committed += n }
	sink.Run(context.Background(), ch)

	if committed != len(events) {
		t.Errorf("committed %d events, want %d", committed, len(events))
	}
	n, err := r.CountEvents("SINE")
	if err != nil || n != len(events) {
		t.Fatalf("CountEvents = %d, %v; want %d", n, err, len(events))
	}

	rows, err := r.ReadCycles("SINE")
	if err != nil {
		t.Fatalf("ReadCycles: %v", err)
	}
	if len(rows) != len(st.Closed) {
		t.Fatalf("stored %d cycles, want %d", len(rows), len(st.Closed))
	}
	if rows[0].LengthBars.Valid {
		t.Error("first cycle must have no length")
	}
	for i, row := range rows[1:] {
		c := st.Closed[i+1]
		if !row.LengthBars.Valid || int(row.LengthBars.Int64) != *c.LengthBars || row.LowIndex != c.FinalLow.BarIndex {
			t.Errorf("cycle %d row %+v does not match %+v", c.ID, row, c)
		}
	}

	if err := w.ResetSession("SINE"); err != nil {
		t.Fatalf("ResetSession: %v", err)
	}
	if n, _ := r.CountEvents("SINE"); n != 0 {
		t.Errorf("expected no events after reset, got %d", n)
	}
}

func TestSnapshots_LatestAndPruned(t *testing.T) {
	w, r := openTestStore(t)
	ctx := context.Background()

	if data, err := r.ReadLatestSnapshotJSON(ctx, "X"); data != nil || err != nil {
		t.Fatalf("empty store: got %s, %v", data, err)
	}

	for i := 0; i < 15; i++ {
		if err := w.SaveSnapshotJSON(ctx, "X", []byte(fmt.Sprintf(`{"version":%d}`, i))); err != nil {
			t.Fatalf("save %d: %v", i, err)
		}
	}
	w.SaveSnapshotJSON(ctx, "Y", []byte(`{"version":100}`))

	data, err := r.ReadLatestSnapshotJSON(ctx, "X")
	if err != nil || string(data) != `{"version":14}` {
		t.Fatalf("latest = %s, %v", data, err)
	}

	var kept int
	if err := w.DB().QueryRow(`SELECT COUNT(*) FROM cycle_snapshots WHERE symbol = 'X'`).Scan(&kept); err != nil {
		t.Fatalf("count: %v", err)
	}
	if kept != snapshotsKept {
		t.Errorf("kept %d snapshots, want %d", kept, snapshotsKept)
	}
}
