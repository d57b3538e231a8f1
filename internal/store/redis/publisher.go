package redis

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"cycle-systemv1/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

const (
	defaultStreamMaxLen = 20000
	defaultLatestTTL    = 30 * time.Minute
	defaultSnapshotTTL  = 24 * time.Hour
	defaultBatchSize    = 64
)

// Config configures the Redis publisher.
type Config struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int

	// StreamMaxLen caps the per-symbol event stream (approximate trim).
	StreamMaxLen int64
}

// Publisher writes cycle events to Redis Streams and Pub/Sub and keeps
// engine snapshots under a per-symbol key.
type Publisher struct {
	client  *goredis.Client
	breaker *Breaker
	maxLen  int64

	// OnDrop is called with the number of events discarded while the breaker is open.
	OnDrop func(n int)
}

// Client returns the underlying Redis client.
func (p *Publisher) Client() *goredis.Client { return p.client }

// Ping checks the Redis connection.
func (p *Publisher) Ping(ctx context.Context) error { return p.client.Ping(ctx).Err() }

// Breaker returns the circuit breaker guarding event writes.
func (p *Publisher) Breaker() *Breaker { return p.breaker }

// New connects to Redis and pings the server.
func New(cfg Config) (*Publisher, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	maxLen := cfg.StreamMaxLen
	if maxLen <= 0 {
		maxLen = defaultStreamMaxLen
	}
	log.Printf("[redis] connected to %s", cfg.Addr)
	return &Publisher{
		client:  client,
		breaker: NewBreaker(5, 10*time.Second),
		maxLen:  maxLen,
	}, nil
}

// LatestKey returns the key holding the most recent event of a kind:
// "cycle:latest:{kind}:{symbol}".
func LatestKey(kind model.EventKind, symbol string) string {
	return "cycle:latest:" + string(kind) + ":" + symbol
}

// SnapshotKey returns the key holding the engine snapshot: "cycle:snapshot:{symbol}".
func SnapshotKey(symbol string) string {
	return "cycle:snapshot:" + symbol
}

// PublishBatch writes events in a single pipeline: XADD to the symbol's
// stream, SET of the latest value per kind, and PUBLISH on the kind channel.
func (p *Publisher) PublishBatch(ctx context.Context, symbol string, events []model.Event) error {
	if len(events) == 0 {
		return nil
	}
	err := p.breaker.Do(func() error {
		pipe := p.client.Pipeline()
		stream := model.StreamKey(symbol)
		for i := range events {
			ev := &events[i]
			data := string(ev.JSON())
			pipe.XAdd(ctx, &goredis.XAddArgs{
				Stream: stream,
				MaxLen: p.maxLen,
				Approx: true,
				Values: map[string]interface{}{"kind": string(ev.Kind), "seq": ev.Seq, "data": data},
			})
			pipe.Set(ctx, LatestKey(ev.Kind, symbol), data, defaultLatestTTL)
			pipe.Publish(ctx, ev.PubSubChannel(symbol), data)
		}
		_, err := pipe.Exec(ctx)
		return err
	})
	if errors.Is(err, ErrBreakerOpen) && p.OnDrop != nil {
		p.OnDrop(len(events))
	}
	return err
}

// ResetSession removes the symbol's event stream and latest values so a new
// replay starts from an empty stream.
func (p *Publisher) ResetSession(ctx context.Context, symbol string) error {
	keys := []string{model.StreamKey(symbol)}
	for _, kind := range []model.EventKind{
		model.EventPotentialLow, model.EventPotentialHigh, model.EventFinalLow, model.EventFinalHigh,
		model.EventCycleClosed, model.EventFailedCycle, model.EventProjection,
	} {
		keys = append(keys, LatestKey(kind, symbol))
	}
	if err := p.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis reset %s: %w", symbol, err)
	}
	return nil
}

// Sink returns an EventWriter that publishes events for symbol.
func (p *Publisher) Sink(symbol string) *Sink {
	return &Sink{pub: p, symbol: symbol}
}

// SaveSnapshotJSON stores a JSON-encoded engine snapshot with a 24h TTL
// (snapshots are also kept in SQLite).
func (p *Publisher) SaveSnapshotJSON(ctx context.Context, symbol string, data []byte) error {
	if err := p.client.Set(ctx, SnapshotKey(symbol), data, defaultSnapshotTTL).Err(); err != nil {
		return fmt.Errorf("redis set snapshot %s: %w", symbol, err)
	}
	return nil
}

// ReadLatestSnapshotJSON loads the snapshot for symbol. Returns nil, nil if none exists.
func (p *Publisher) ReadLatestSnapshotJSON(ctx context.Context, symbol string) ([]byte, error) {
	data, err := p.client.Get(ctx, SnapshotKey(symbol)).Bytes()
	if err != nil {
		if err == goredis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get snapshot %s: %w", symbol, err)
	}
	return data, nil
}

// Close closes the Redis client.
func (p *Publisher) Close() error {
	return p.client.Close()
}

// Sink batches events from a channel into PublishBatch calls.
type Sink struct {
	pub    *Publisher
	symbol string
}

// Run reads events until ctx is cancelled or eventCh is closed. Events are
// flushed per batch of defaultBatchSize and whenever the channel drains.
func (s *Sink) Run(ctx context.Context, eventCh <-chan model.Event) {
	batch := make([]model.Event, 0, defaultBatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := s.pub.PublishBatch(ctx, s.symbol, batch); err != nil && !errors.Is(err, ErrBreakerOpen) {
			log.Printf("[redis] publish %d events for %s: %v", len(batch), s.symbol, err)
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
			if len(batch) >= defaultBatchSize || len(eventCh) == 0 {
				flush()
			}
		}
	}
}
