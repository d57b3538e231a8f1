package bus

import (
	"context"
	"log"
	"sync"

	"cycle-systemv1/internal/model"
)

// FanOut broadcasts engine events from a single input channel to N
// subscribers. Ordering is preserved per subscriber.
//
// Durable subscribers (storage) block the pipeline when full so no event is
// lost. Lossy subscribers (live transports) drop the event instead.
type FanOut struct {
	mu      sync.RWMutex
	outputs []subscriber
	bufSize int

	// OnDrop is called when an event is dropped for a lossy subscriber.
	// subscriberIdx is the 0-based index in subscription order.
	OnDrop func(subscriberIdx int, ev model.Event)
}

type subscriber struct {
	ch    chan model.Event
	lossy bool
}

// New creates a FanOut with the given buffer size for output channels.
func New(outputBufferSize int) *FanOut {
	return &FanOut{
		bufSize: outputBufferSize,
	}
}

// Subscribe returns a durable output channel. Sends to it block.
func (f *FanOut) Subscribe() <-chan model.Event {
	return f.add(false)
}

// SubscribeLossy returns an output channel that drops events when full.
func (f *FanOut) SubscribeLossy() <-chan model.Event {
	return f.add(true)
}

func (f *FanOut) add(lossy bool) <-chan model.Event {
	ch := make(chan model.Event, f.bufSize)
	f.mu.Lock()
	f.outputs = append(f.outputs, subscriber{ch: ch, lossy: lossy})
	f.mu.Unlock()
	return ch
}

// Run reads from input and fans each event out to all subscribers.
// Blocks until ctx is cancelled or input is closed; all outputs are closed
// on return.
func (f *FanOut) Run(ctx context.Context, input <-chan model.Event) {
	defer func() {
		f.mu.RLock()
		for _, s := range f.outputs {
			close(s.ch)
		}
		f.mu.RUnlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-input:
			if !ok {
				return
			}
			f.mu.RLock()
			for i, s := range f.outputs {
				if !s.lossy {
					select {
					case s.ch <- ev:
					case <-ctx.Done():
						f.mu.RUnlock()
						return
					}
					continue
				}
				select {
				case s.ch <- ev:
				default:
					if f.OnDrop != nil {
						f.OnDrop(i, ev)
					} else {
						log.Printf("[bus] output channel %d full, dropping event seq=%d kind=%s", i, ev.Seq, ev.Kind)
					}
				}
			}
			f.mu.RUnlock()
		}
	}
}

// ChannelStat is the (length, capacity) of one subscriber channel.
// Used for reporting channel saturation.
type ChannelStat struct {
	Len int
	Cap int
}

func (f *FanOut) ChannelStats() []ChannelStat {
	f.mu.RLock()
	defer f.mu.RUnlock()
	stats := make([]ChannelStat, len(f.outputs))
	for i, s := range f.outputs {
		stats[i] = ChannelStat{Len: len(s.ch), Cap: cap(s.ch)}
	}
	return stats
}
