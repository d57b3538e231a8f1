package cycleengine

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"cycle-systemv1/internal/cycle"
	"cycle-systemv1/internal/model"
	sqlitestore "cycle-systemv1/internal/store/sqlite"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type memSnapshots struct {
	data []byte
	err  error
}

func (m *memSnapshots) SaveSnapshotJSON(_ context.Context, _ string, data []byte) error {
	m.data = data
	return nil
}

func (m *memSnapshots) ReadLatestSnapshotJSON(context.Context, string) ([]byte, error) {
	return m.data, m.err
}

func snapshotAfter(t *testing.T, cfg cycle.Config, bars []model.Bar) []byte {
	t.Helper()
	e, err := cycle.NewEngine(cfg)
	if err != nil {
		t.Fatal(err)
	}
	for _, b := range bars {
		if _, err := e.Process(b); err != nil {
			t.Fatal(err)
		}
	}
	data, err := cycle.MarshalSnapshot(e.Snapshot("X"))
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestRestore_Priority(t *testing.T) {
	cfg := cycle.Config{MinCycleLen: 10, MaxCycleLen: 20}
	bars := cycle.SineSeries(100, 15, 100, 10, t0, time.Hour)

	first := &memSnapshots{data: snapshotAfter(t, cfg, bars[:80])}
	second := &memSnapshots{data: snapshotAfter(t, cfg, bars[:40])}

	e, src, err := Restore(context.Background(), cfg, "X", []NamedStore{{"redis", first}, {"sqlite", second}})
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if src != "redis" || e.State().LastIndex != 79 {
		t.Errorf("restored from %s at bar %d, want redis at 79", src, e.State().LastIndex)
	}
}

func TestRestore_SkipsUnusableSnapshots(t *testing.T) {
	cfg := cycle.Config{MinCycleLen: 10, MaxCycleLen: 20}
	other := cycle.Config{MinCycleLen: 5, MaxCycleLen: 13}
	bars := cycle.SineSeries(60, 15, 100, 10, t0, time.Hour)

	stores := []NamedStore{
		{"down", &memSnapshots{err: errors.New("connection refused")}},
		{"corrupt", &memSnapshots{data: []byte("{not json")}},
		{"mismatch", &memSnapshots{data: snapshotAfter(t, other, bars)}},
		{"empty", &memSnapshots{}},
		{"nil", nil},
		{"good", &memSnapshots{data: snapshotAfter(t, cfg, bars[:30])}},
	}
	e, src, err := Restore(context.Background(), cfg, "X", stores)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if src != "good" || e.State().LastIndex != 29 {
		t.Errorf("restored from %s at bar %d, want good at 29", src, e.State().LastIndex)
	}
}

func TestRestore_ColdStart(t *testing.T) {
	cfg := cycle.Config{MinCycleLen: 10, MaxCycleLen: 20}
	e, src, err := Restore(context.Background(), cfg, "X", []NamedStore{{"sqlite", &memSnapshots{}}})
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if src != "cold" || e.State().Started {
		t.Errorf("expected cold unstarted engine, got %s started=%v", src, e.State().Started)
	}
	if _, _, err := Restore(context.Background(), cycle.Config{}, "X", nil); !errors.Is(err, cycle.ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

func writeBars(t *testing.T, path, symbol string, bars []model.Bar) {
	t.Helper()
	w, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: path})
	if err != nil {
		t.Fatalf("open writer: %v", err)
	}
	defer w.Close()
	if _, err := w.WriteBars(symbol, bars); err != nil {
		t.Fatalf("write bars: %v", err)
	}
}

func runOnce(t *testing.T, cfg Config) *Service {
	t.Helper()
	svc, err := New(cfg)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := svc.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	return svc
}

func TestService_ReplayPersistsAndResumes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cycles.db")
	cc := cycle.Config{MinCycleLen: 40, MaxCycleLen: 70}
	bars := cycle.SineSeries(400, 50, 100, 10, t0, 24*time.Hour)
	for i := range bars {
		bars[i].Symbol = "NIFTY"
	}
	wantEvents, wantState, err := cycle.Replay(cc, bars)
	if err != nil {
		t.Fatal(err)
	}

	cfg := Config{
		Symbol:        "NIFTY",
		Cycle:         cc,
		SQLitePath:    path,
		SnapshotEvery: 50,
		ExitWhenDone:  true,
	}

	// First half, cold start.
	writeBars(t, path, "NIFTY", bars[:250])
	svc := runOnce(t, cfg)
	if v := svc.CurrentView(); v.LastIndex != 249 {
		t.Fatalf("first run stopped at bar %d, want 249", v.LastIndex)
	}

	// Second half resumes from the SQLite snapshot.
	writeBars(t, path, "NIFTY", bars[250:])
	svc = runOnce(t, cfg)
	v := svc.CurrentView()
	if v.LastIndex != 399 {
		t.Fatalf("second run stopped at bar %d, want 399", v.LastIndex)
	}
	if v.Stats != wantState.Stats {
		t.Errorf("stats = %+v, want %+v", v.Stats, wantState.Stats)
	}
	if v.Projection == nil || v.Current == nil {
		t.Errorf("view missing projection or current cycle: %+v", v)
	}

	r, err := sqlitestore.NewReader(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	n, err := r.CountEvents("NIFTY")
	if err != nil {
		t.Fatal(err)
	}
	if n != len(wantEvents) {
		t.Errorf("stored %d events, want %d", n, len(wantEvents))
	}
	rows, err := r.ReadCycles("NIFTY")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != len(wantState.Closed) {
		t.Fatalf("stored %d cycles, want %d", len(rows), len(wantState.Closed))
	}
	for i, row := range rows {
		want := wantState.Closed[i]
		if row.ID != want.ID || row.LowIndex != want.FinalLow.BarIndex || row.HighIndex != want.FinalHigh.BarIndex {
			t.Errorf("cycle %d = %+v, want %+v", i, row, want)
		}
	}
}

func TestService_FreshClearsStoredOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cycles.db")
	cc := cycle.Config{MinCycleLen: 10, MaxCycleLen: 20}
	bars := cycle.SineSeries(120, 15, 100, 10, t0, time.Hour)
	writeBars(t, path, "BTC", bars)

	cfg := Config{Symbol: "BTC", Cycle: cc, SQLitePath: path, ExitWhenDone: true}
	runOnce(t, cfg)
	cfg.Fresh = true
	svc := runOnce(t, cfg)
	if svc.CurrentView().LastIndex != 119 {
		t.Fatalf("fresh run did not replay all bars")
	}

	wantEvents, _, _ := cycle.Replay(cc, bars)
	r, err := sqlitestore.NewReader(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	if n, _ := r.CountEvents("BTC"); n != len(wantEvents) {
		t.Errorf("stored %d events after fresh run, want %d", n, len(wantEvents))
	}
}
