package csvfeed

import (
	"bytes"
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"cycle-systemv1/internal/model"
)

func TestLoad_WithIndexAndRFC3339(t *testing.T) {
	in := `index,ts,open,high,low,close
10,2024-01-01T00:00:00Z,1,2,0.5,1.5
11,2024-01-02T00:00:00Z,1.5,3,1,2
`
	bars, err := Load(strings.NewReader(in), "BTC")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(bars) != 2 {
		t.Fatalf("expected 2 bars, got %d", len(bars))
	}
	b := bars[1]
	if b.Index != 11 || b.High != 3 || b.Low != 1 || b.Symbol != "BTC" {
		t.Errorf("bar = %+v", b)
	}
	if !b.TS.Equal(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("ts = %v", b.TS)
	}
}

func TestLoad_DefaultIndexAndUnixTime(t *testing.T) {
	in := "Time,Open,High,Low,Close\n1700000000,1,2,0,1\n1700086400,1,2,0,1\n2024-05-01,1,2,0,1\n"
	bars, err := Load(strings.NewReader(in), "X")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	for i, b := range bars {
		if b.Index != i {
			t.Errorf("row %d index = %d", i, b.Index)
		}
	}
	if bars[0].TS.Unix() != 1700000000 {
		t.Errorf("unix ts = %v", bars[0].TS)
	}
}

func TestLoad_Errors(t *testing.T) {
	cases := map[string]string{
		"missing column": "ts,open,high,low\n1,1,1,1\n",
		"bad price":      "ts,open,high,low,close\n1,x,1,1,1\n",
		"bad ts":         "ts,open,high,low,close\nyesterday,1,1,1,1\n",
		"empty":          "",
	}
	for name, in := range cases {
		if _, err := Load(strings.NewReader(in), "X"); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestWriteEvents(t *testing.T) {
	n := 50
	events := []model.Event{
		{Seq: 1, BarIndex: 40, Kind: model.EventPotentialLow, Point: &model.CyclePoint{BarIndex: 12, Price: 99.5, CycleID: 1}},
		{Seq: 2, BarIndex: 40, Kind: model.EventProjection, Projection: &model.ProjectionEstimate{CycleID: 1, EstimatedEndIndex: 70}},
		{Seq: 3, BarIndex: 70, Kind: model.EventCycleClosed, Cycle: &model.Cycle{ID: 2, Failed: true, LengthBars: &n}},
	}

	var buf bytes.Buffer
	if err := WriteEvents(&buf, events, false); err != nil {
		t.Fatalf("write: %v", err)
	}
	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header + 2 rows, got %d", len(rows))
	}
	if rows[1][4] != "12" || rows[1][5] != "99.5" {
		t.Errorf("point row = %v", rows[1])
	}
	if rows[2][3] != "2" || rows[2][6] != "true" || rows[2][7] != "50" {
		t.Errorf("cycle row = %v", rows[2])
	}
}
