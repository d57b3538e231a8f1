package cycle

import (
	"context"

	"cycle-systemv1/internal/model"
)

// Engine runs Step over a bar stream, holding the state between bars.
// Designed for single-goroutine usage, no locks needed.
type Engine struct {
	cfg   Config
	state State
}

// NewEngine creates an engine with an empty state.
func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg}, nil
}

// Config returns the engine's cycle bounds.
func (e *Engine) Config() Config { return e.cfg }

// State returns the current state. The returned value stays valid after
// further calls to Process.
func (e *Engine) State() State { return e.state }

// Stats returns the running cycle length statistics.
func (e *Engine) Stats() model.CycleStats { return e.state.Stats }

// Closed returns the closed cycles in closing order.
func (e *Engine) Closed() []model.Cycle { return e.state.Closed }

// Current returns the open cycle. Ok is false before the first bar.
func (e *Engine) Current() (model.Cycle, bool) {
	if !e.state.Started {
		return model.Cycle{}, false
	}
	return e.state.Current(), true
}

// Process feeds one bar and returns the events it produced.
// On an ordering violation the state is left untouched.
func (e *Engine) Process(b model.Bar) ([]model.Event, error) {
	next, events, err := Step(e.cfg, e.state, b)
	if err != nil {
		return nil, err
	}
	e.state = next
	return events, nil
}

// Run consumes bars and emits events until barCh is closed or ctx is done.
// Events are never dropped; a slow consumer slows the engine down.
// An out-of-order bar stops the loop and is returned.
func (e *Engine) Run(ctx context.Context, barCh <-chan model.Bar, eventCh chan<- model.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case b, ok := <-barCh:
			if !ok {
				return nil
			}
			events, err := e.Process(b)
			if err != nil {
				return err
			}
			for _, ev := range events {
				select {
				case eventCh <- ev:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}
}

// Replay runs bars through a fresh engine and returns every event in order
// together with the final state. It stops at the first ordering violation.
func Replay(cfg Config, bars []model.Bar) ([]model.Event, State, error) {
	if err := cfg.Validate(); err != nil {
		return nil, State{}, err
	}
	var (
		st  State
		out []model.Event
	)
	for _, b := range bars {
		next, events, err := Step(cfg, st, b)
		if err != nil {
			return out, st, err
		}
		st = next
		out = append(out, events...)
	}
	return out, st, nil
}
