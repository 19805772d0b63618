// internal/events/bus.go
package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrBusClosed = errors.New("event bus is shutting down")
	ErrBusFull   = errors.New("event channel full")
)

// Publisher accepts events for delivery.
type Publisher interface {
	Publish(event Event) error
}

// Handler consumes delivered events. Asynchronous events are handled on the
// dispatcher goroutine in publication order.
type Handler interface {
	Handle(ctx context.Context, event Event) error
}

type HandlerFunc func(ctx context.Context, event Event) error

func (f HandlerFunc) Handle(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Subscription ties a handler to one event type until Unsubscribe.
type Subscription struct {
	bus  *Bus
	id   string
	typ  EventType
	once sync.Once
}

// ID is the key the handler is registered and logged under.
func (s *Subscription) ID() string { return s.id }

// Unsubscribe stops delivery to the handler. Later calls do nothing.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() { s.bus.unsubscribe(s.id, s.typ) })
}

// Bus is an in-memory event bus. Events published with Publish are delivered
// by a single dispatcher goroutine in publication order.
type Bus struct {
	mu         sync.RWMutex
	handlers   map[EventType]map[string]Handler
	logger     *zap.Logger
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
	eventChan  chan Event
	bufferSize int

	published atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64
}

var _ Publisher = (*Bus)(nil)

// NewBus creates a new event bus and starts its dispatcher.
func NewBus(logger *zap.Logger, bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	bus := &Bus{
		handlers:   make(map[EventType]map[string]Handler),
		logger:     logger.Named("event_bus"),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		eventChan:  make(chan Event, bufferSize),
		bufferSize: bufferSize,
	}

	go bus.dispatch()

	return bus
}

// Subscribe registers a handler for a specific event type.
func (b *Bus) Subscribe(eventType EventType, handler Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := uuid.New().String()

	if b.handlers[eventType] == nil {
		b.handlers[eventType] = make(map[string]Handler)
	}

	b.handlers[eventType][id] = handler

	b.logger.Debug("Handler subscribed",
		zap.String("event_type", string(eventType)),
		zap.String("subscription_id", id))

	return &Subscription{bus: b, id: id, typ: eventType}
}

// SubscribeFunc is a convenience method for subscribing with a function.
func (b *Bus) SubscribeFunc(eventType EventType, fn func(context.Context, Event) error) *Subscription {
	return b.Subscribe(eventType, HandlerFunc(fn))
}

// Publish queues an event for asynchronous delivery. It never blocks: when
// the buffer is full the event is dropped and ErrBusFull is returned.
func (b *Bus) Publish(event Event) error {
	if b.ctx.Err() != nil {
		return ErrBusClosed
	}

	select {
	case b.eventChan <- event:
		b.published.Add(1)
		return nil
	default:
		b.dropped.Add(1)
		b.logger.Warn("Event channel full, dropping event",
			zap.String("event_type", string(event.Type())))
		return ErrBusFull
	}
}

// PublishSync delivers an event to all registered handlers on the calling
// goroutine and joins their errors.
func (b *Bus) PublishSync(ctx context.Context, event Event) error {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.handlers[event.Type()]))
	ids := make([]string, 0, len(b.handlers[event.Type()]))
	for id, h := range b.handlers[event.Type()] {
		handlers = append(handlers, h)
		ids = append(ids, id)
	}
	b.mu.RUnlock()

	var errs []error
	for i, handler := range handlers {
		if err := handler.Handle(ctx, event); err != nil {
			b.failed.Add(1)
			b.logger.Error("Handler error",
				zap.String("event_type", string(event.Type())),
				zap.String("handler_id", ids[i]),
				zap.Error(err))
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s: %w", event.Type(), errors.Join(errs...))
	}
	return nil
}

func (b *Bus) dispatch() {
	defer close(b.done)

	for {
		select {
		case <-b.ctx.Done():
			// deliver whatever was queued before shutdown
			for {
				select {
				case event := <-b.eventChan:
					_ = b.PublishSync(context.Background(), event)
				default:
					return
				}
			}
		case event := <-b.eventChan:
			_ = b.PublishSync(b.ctx, event)
		}
	}
}

func (b *Bus) unsubscribe(id string, eventType EventType) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if handlers, ok := b.handlers[eventType]; ok {
		delete(handlers, id)
		if len(handlers) == 0 {
			delete(b.handlers, eventType)
		}
	}

	b.logger.Debug("Handler unsubscribed",
		zap.String("event_type", string(eventType)),
		zap.String("subscription_id", id))
}

// Shutdown stops accepting events and waits until queued events are delivered
// or ctx expires.
func (b *Bus) Shutdown(ctx context.Context) error {
	b.logger.Info("Shutting down event bus")

	b.cancel()

	select {
	case <-b.done:
		b.logger.Info("Event bus shutdown complete",
			zap.Uint64("published", b.published.Load()),
			zap.Uint64("dropped", b.dropped.Load()))
		return nil
	case <-ctx.Done():
		b.logger.Warn("Event bus shutdown timeout")
		return ctx.Err()
	}
}

// Stats is a snapshot of bus counters.
type Stats struct {
	BufferSize      int
	Pending         int
	Published       uint64
	Dropped         uint64
	HandlerFailures uint64
	HandlersPerType map[EventType]int
}

// Stats returns statistics about the event bus.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	counts := make(map[EventType]int, len(b.handlers))
	for eventType, handlers := range b.handlers {
		counts[eventType] = len(handlers)
	}

	return Stats{
		BufferSize:      b.bufferSize,
		Pending:         len(b.eventChan),
		Published:       b.published.Load(),
		Dropped:         b.dropped.Load(),
		HandlerFailures: b.failed.Load(),
		HandlersPerType: counts,
	}
}
