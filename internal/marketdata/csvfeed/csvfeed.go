// Package csvfeed reads bar histories from CSV files and writes engine
// events back out as CSV.
//
// Bar files need a header row naming at least ts, open, high, low and close;
// an index column is optional and defaults to the row number. Timestamps are
// RFC 3339, "2006-01-02", or Unix seconds.
package csvfeed

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"cycle-systemv1/internal/model"
)

var required = []string{"ts", "open", "high", "low", "close"}

// LoadFile parses the bar file at path.
func LoadFile(path, symbol string) ([]model.Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(f, symbol)
}

// Load parses bars from r. Rows must already be in index order.
func Load(r io.Reader, symbol string) ([]model.Bar, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("csv header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	if _, ok := cols["time"]; ok {
		if _, has := cols["ts"]; !has {
			cols["ts"] = cols["time"]
		}
	}
	for _, name := range required {
		if _, ok := cols[name]; !ok {
			return nil, fmt.Errorf("csv header missing column %q", name)
		}
	}
	idxCol, hasIdx := cols["index"]

	var bars []model.Bar
	for row := 0; ; row++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("csv row %d: %w", row+1, err)
		}

		b := model.Bar{Symbol: symbol, Index: row}
		if hasIdx {
			if b.Index, err = strconv.Atoi(rec[idxCol]); err != nil {
				return nil, fmt.Errorf("csv row %d index: %w", row+1, err)
			}
		}
		if b.TS, err = parseTS(rec[cols["ts"]]); err != nil {
			return nil, fmt.Errorf("csv row %d ts: %w", row+1, err)
		}
		prices := []*float64{&b.Open, &b.High, &b.Low, &b.Close}
		for i, name := range []string{"open", "high", "low", "close"} {
			if *prices[i], err = strconv.ParseFloat(rec[cols[name]], 64); err != nil {
				return nil, fmt.Errorf("csv row %d %s: %w", row+1, name, err)
			}
		}
		bars = append(bars, b)
	}
	return bars, nil
}

func parseTS(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if sec, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(sec, 0).UTC(), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	return time.Parse("2006-01-02", s)
}

// WriteEvents writes point, cycle and failure events as CSV rows. Projection
// events are skipped unless withProjections is set.
func WriteEvents(w io.Writer, events []model.Event, withProjections bool) error {
	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"seq", "bar", "kind", "cycle", "point_bar", "price", "failed", "length", "est_end"})

	for _, ev := range events {
		if ev.Kind == model.EventProjection && !withProjections {
			continue
		}
		row := []string{
			strconv.FormatInt(ev.Seq, 10), strconv.Itoa(ev.BarIndex), string(ev.Kind), strconv.Itoa(ev.CycleID()),
			"", "", "", "", "",
		}
		switch {
		case ev.Point != nil:
			row[4] = strconv.Itoa(ev.Point.BarIndex)
			row[5] = formatF(ev.Point.Price)
		case ev.Cycle != nil:
			row[6] = strconv.FormatBool(ev.Cycle.Failed)
			if ev.Cycle.LengthBars != nil {
				row[7] = strconv.Itoa(*ev.Cycle.LengthBars)
			}
		case ev.Projection != nil:
			row[8] = strconv.Itoa(ev.Projection.EstimatedEndIndex)
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteEventsFile writes events to path, creating or truncating it.
func WriteEventsFile(path string, events []model.Event, withProjections bool) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteEvents(f, events, withProjections); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func formatF(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }
