// Package replay provides a bar replayer that reads historical bars from a
// BarReader and emits them at configurable speed.
package replay

import (
	"context"
	"log"
	"time"

	"cycle-systemv1/internal/model"
)

// maxGap caps the simulated wait between two bars.
const maxGap = 5 * time.Second

// Replayer reads a symbol's bars and replays them at a speed multiplier.
type Replayer struct {
	reader model.BarReader
}

// New creates a Replayer backed by reader.
func New(reader model.BarReader) *Replayer {
	return &Replayer{reader: reader}
}

// Run replays the bars of symbol with Index > afterIndex into outCh, in index order.
// speed controls the playback rate: 1.0 = real-time, 10.0 = 10x, 0 = as fast as possible.
// Returns the number of bars emitted. outCh is not closed.
func (r *Replayer) Run(ctx context.Context, symbol string, afterIndex int, speed float64, outCh chan<- model.Bar) (int, error) {
	bars, err := r.reader.ReadBars(symbol, afterIndex)
	if err != nil {
		return 0, err
	}
	if len(bars) == 0 {
		log.Printf("[replay] no bars found for %s", symbol)
		return 0, nil
	}
	log.Printf("[replay] loaded %d bars for %s, speed=%.1fx", len(bars), symbol, speed)
	return Emit(ctx, bars, speed, outCh)
}

// Emit sends bars into outCh, sleeping the scaled timestamp gap between
// consecutive bars when speed > 0.
func Emit(ctx context.Context, bars []model.Bar, speed float64, outCh chan<- model.Bar) (int, error) {
	var prevTS time.Time
	emitted := 0

	for _, b := range bars {
		if speed > 0 && !prevTS.IsZero() {
			if gap := b.TS.Sub(prevTS); gap > 0 {
				scaled := time.Duration(float64(gap) / speed)
				if scaled > maxGap {
					scaled = maxGap
				}
				select {
				case <-ctx.Done():
					return emitted, ctx.Err()
				case <-time.After(scaled):
				}
			}
		}
		prevTS = b.TS

		select {
		case <-ctx.Done():
			log.Printf("[replay] cancelled after %d bars", emitted)
			return emitted, ctx.Err()
		case outCh <- b:
			emitted++
		}
	}

	log.Printf("[replay] completed: %d bars replayed", emitted)
	return emitted, nil
}
