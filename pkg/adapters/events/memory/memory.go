package memory

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/aescanero/stepflow/pkg/domain"
	"github.com/aescanero/stepflow/pkg/ports"
)

// ErrClosed is returned when subscribing to a closed bus.
var ErrClosed = errors.New("event bus closed")

// DefaultBufferSize is the per-subscriber queue length.
const DefaultBufferSize = 256

// EventBus implements ports.EventBus in memory. Each subscriber receives the
// events of its topic in publish order on its own goroutine. Publish never
// blocks: events for a subscriber whose queue is full are dropped.
type EventBus struct {
	logger  *zap.Logger
	bufSize int

	mu     sync.RWMutex
	subs   map[string]map[int]*subscription
	nextID int
	closed bool
	done   chan struct{}
}

type subscription struct {
	events chan domain.Event
	once   sync.Once
}

func (s *subscription) close() {
	s.once.Do(func() { close(s.events) })
}

var _ ports.EventBus = (*EventBus)(nil)

// NewEventBus creates an in-memory event bus.
func NewEventBus(logger *zap.Logger) *EventBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventBus{
		logger:  logger,
		bufSize: DefaultBufferSize,
		subs:    make(map[string]map[int]*subscription),
		done:    make(chan struct{}),
	}
}

// Publish queues event for every subscriber of topic.
func (e *EventBus) Publish(ctx context.Context, topic string, event domain.Event) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, sub := range e.subs[topic] {
		select {
		case sub.events <- event:
		default:
			e.logger.Warn("subscriber queue full, dropping event",
				zap.String("topic", topic),
				zap.String("event_id", event.ID),
				zap.String("type", string(event.Type)))
		}
	}
	return nil
}

// Subscribe delivers events on topic to handler until ctx is canceled or the
// bus is closed.
func (e *EventBus) Subscribe(ctx context.Context, topic string, handler ports.EventHandler) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	id := e.nextID
	e.nextID++
	sub := &subscription{events: make(chan domain.Event, e.bufSize)}
	if e.subs[topic] == nil {
		e.subs[topic] = make(map[int]*subscription)
	}
	e.subs[topic][id] = sub
	e.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			e.unsubscribe(topic, id)
		case <-e.done:
		}
	}()

	go func() {
		for event := range sub.events {
			if err := handler(ctx, event); err != nil {
				e.logger.Error("handler error",
					zap.String("topic", topic),
					zap.String("event_id", event.ID),
					zap.Error(err))
			}
		}
	}()
	return nil
}

// Subscribers returns the number of active subscriptions on topic.
func (e *EventBus) Subscribers(topic string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.subs[topic])
}

// Close drops every subscription.
func (e *EventBus) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	for _, subs := range e.subs {
		for _, sub := range subs {
			sub.close()
		}
	}
	e.subs = make(map[string]map[int]*subscription)
	e.closed = true
	close(e.done)
	return nil
}

func (e *EventBus) unsubscribe(topic string, id int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if sub, ok := e.subs[topic][id]; ok {
		sub.close()
		delete(e.subs[topic], id)
	}
}
