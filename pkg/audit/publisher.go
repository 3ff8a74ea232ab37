package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Publisher fans events out to the store and any sinks. In async mode,
// events pass through a buffered channel drained by a single worker
// goroutine so domain code never blocks on audit I/O.
type Publisher struct {
	store  Store
	sinks  []Sink
	logger *slog.Logger

	inbox chan Event
	wg    sync.WaitGroup
	once  sync.Once
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithAsyncBuffer enables the background worker with the given channel
// capacity. A full buffer drops the event rather than blocking the caller.
func WithAsyncBuffer(size int) Option {
	return func(p *Publisher) {
		p.inbox = make(chan Event, size)
	}
}

// WithSink attaches an external delivery sink.
func WithSink(sink Sink) Option {
	return func(p *Publisher) {
		if sink != nil {
			p.sinks = append(p.sinks, sink)
		}
	}
}

func NewPublisher(store Store, logger *slog.Logger, opts ...Option) *Publisher {
	p := &Publisher{store: store, logger: logger}
	for _, opt := range opts {
		opt(p)
	}
	if p.inbox != nil {
		p.wg.Add(1)
		go p.run()
	}
	return p
}

// Emit records one event. A nil *Publisher is a no-op so call sites don't
// need guards.
func (p *Publisher) Emit(ctx context.Context, event Event) {
	if p == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if p.inbox == nil {
		p.record(ctx, event)
		return
	}
	select {
	case p.inbox <- event:
	default:
		p.logger.Warn("audit buffer full, event dropped", "action", event.Action)
	}
}

// ListRecent exposes the stored trail for operator surfaces.
func (p *Publisher) ListRecent(ctx context.Context, limit int) ([]Event, error) {
	return p.store.ListRecent(ctx, limit)
}

// Close drains the async buffer and closes all sinks.
func (p *Publisher) Close() {
	if p == nil {
		return
	}
	p.once.Do(func() {
		if p.inbox != nil {
			close(p.inbox)
			p.wg.Wait()
		}
		for _, sink := range p.sinks {
			sink.Close()
		}
	})
}

func (p *Publisher) run() {
	defer p.wg.Done()
	for event := range p.inbox {
		p.record(context.Background(), event)
	}
}

func (p *Publisher) record(ctx context.Context, event Event) {
	if err := p.store.Append(ctx, event); err != nil {
		p.logger.Error("audit append failed", "action", event.Action, "error", err)
	}
	for _, sink := range p.sinks {
		if err := sink.Deliver(ctx, event); err != nil {
			p.logger.Warn("audit sink delivery failed", "action", event.Action, "error", err)
		}
	}
}
