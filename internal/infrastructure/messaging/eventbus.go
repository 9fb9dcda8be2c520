// Package messaging delivers ledger domain events to their handlers, either
// in-process or across instances through Redis pub/sub.
package messaging

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/latetrack/late-ledger/internal/domain/shared"
)

var (
	ErrEventBusClosed    = errors.New("event bus is closed")
	ErrHandlerPanic      = errors.New("handler panicked")
	ErrEventNotSupported = errors.New("event type not supported")

	errNilHandler = errors.New("handler cannot be nil")
	errNilEvent   = errors.New("event cannot be nil")
)

// ══════════════════════════════════════════════════════════════════════════════
// IN-PROCESS BUS
// ══════════════════════════════════════════════════════════════════════════════

type InMemoryEventBusConfig struct {
	// AsyncMode hands each delivery to a goroutine bounded by
	// WorkerPoolSize. Otherwise Publish runs handlers inline.
	AsyncMode      bool
	WorkerPoolSize int
	Logger         *slog.Logger
}

// InMemoryEventBus fans an event out to the handlers registered for its
// type plus the catch-all handlers. Handler failures are logged and
// counted; Publish never reports them, so a broken subscriber cannot undo
// the write that raised the event.
type InMemoryEventBus struct {
	mu       sync.RWMutex
	byType   map[shared.EventType][]shared.EventHandler
	catchAll []shared.EventHandler
	closed   bool

	async    bool
	slots    chan struct{}
	done     chan struct{}
	inflight sync.WaitGroup

	logger  *slog.Logger
	metrics *EventBusMetrics
}

func NewInMemoryEventBus(cfg InMemoryEventBusConfig) *InMemoryEventBus {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	workers := cfg.WorkerPoolSize
	if workers <= 0 {
		workers = 10
	}

	return &InMemoryEventBus{
		byType:  make(map[shared.EventType][]shared.EventHandler),
		async:   cfg.AsyncMode,
		slots:   make(chan struct{}, workers),
		done:    make(chan struct{}),
		logger:  logger.With("component", "event_bus"),
		metrics: NewEventBusMetrics(),
	}
}

func (b *InMemoryEventBus) Subscribe(eventType shared.EventType, handler shared.EventHandler) error {
	return b.register(handler, func() {
		b.byType[eventType] = append(b.byType[eventType], handler)
	})
}

func (b *InMemoryEventBus) SubscribeAll(handler shared.EventHandler) error {
	return b.register(handler, func() {
		b.catchAll = append(b.catchAll, handler)
	})
}

func (b *InMemoryEventBus) register(handler shared.EventHandler, add func()) error {
	if handler == nil {
		return errNilHandler
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrEventBusClosed
	}
	add()
	return nil
}

// targets copies the handler list so delivery runs without the lock.
func (b *InMemoryEventBus) targets(eventType shared.EventType) ([]shared.EventHandler, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, ErrEventBusClosed
	}
	typed := b.byType[eventType]
	out := make([]shared.EventHandler, 0, len(typed)+len(b.catchAll))
	return append(append(out, typed...), b.catchAll...), nil
}

func (b *InMemoryEventBus) Publish(event shared.Event) error {
	if event == nil {
		return errNilEvent
	}
	handlers, err := b.targets(event.EventType())
	if err != nil {
		return err
	}
	b.metrics.RecordPublish(event.EventType())

	for _, h := range handlers {
		if b.async {
			b.spawn(event, h)
		} else {
			b.deliver(event, h)
		}
	}
	return nil
}

func (b *InMemoryEventBus) spawn(event shared.Event, h shared.EventHandler) {
	b.inflight.Add(1)
	go func() {
		defer b.inflight.Done()
		select {
		case b.slots <- struct{}{}:
		case <-b.done:
			return
		}
		defer func() { <-b.slots }()
		b.deliver(event, h)
	}()
}

func (b *InMemoryEventBus) deliver(event shared.Event, h shared.EventHandler) {
	started := time.Now()
	err := invoke(event, h)
	b.metrics.RecordHandlerExecution(event.EventType(), time.Since(started), err == nil)
	if err != nil {
		b.logger.Error("event handler failed",
			"event_type", event.EventType(),
			"aggregate_id", event.AggregateID(),
			"error", err,
		)
	}
}

// invoke converts a handler panic into ErrHandlerPanic.
func invoke(event shared.Event, h shared.EventHandler) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, p)
		}
	}()
	return h(event)
}

// Drain blocks until queued async deliveries have finished.
func (b *InMemoryEventBus) Drain() {
	b.inflight.Wait()
}

// Close rejects further publishes, drops deliveries still waiting for a
// worker slot and waits for running ones. Calling it twice is harmless.
func (b *InMemoryEventBus) Close() error {
	b.mu.Lock()
	already := b.closed
	b.closed = true
	b.mu.Unlock()
	if already {
		return nil
	}

	close(b.done)
	b.inflight.Wait()
	b.logger.Info("event bus closed")
	return nil
}

func (b *InMemoryEventBus) Metrics() *EventBusMetrics {
	return b.metrics
}

// ══════════════════════════════════════════════════════════════════════════════
// METRICS
// ══════════════════════════════════════════════════════════════════════════════

// EventBusMetrics counts publishes per type and handler outcomes.
type EventBusMetrics struct {
	published sync.Map // shared.EventType -> *atomic.Int64

	executions atomic.Int64
	failures   atomic.Int64
	busyNanos  atomic.Int64
}

func NewEventBusMetrics() *EventBusMetrics {
	return &EventBusMetrics{}
}

func (m *EventBusMetrics) RecordPublish(eventType shared.EventType) {
	counter, _ := m.published.LoadOrStore(eventType, new(atomic.Int64))
	counter.(*atomic.Int64).Add(1)
}

func (m *EventBusMetrics) RecordHandlerExecution(_ shared.EventType, took time.Duration, ok bool) {
	m.executions.Add(1)
	m.busyNanos.Add(int64(took))
	if !ok {
		m.failures.Add(1)
	}
}

func (m *EventBusMetrics) Published(eventType shared.EventType) int64 {
	if counter, ok := m.published.Load(eventType); ok {
		return counter.(*atomic.Int64).Load()
	}
	return 0
}

func (m *EventBusMetrics) Executions() int64 { return m.executions.Load() }

func (m *EventBusMetrics) Failures() int64 { return m.failures.Load() }

// HandlerTime is the summed wall time of all handler runs.
func (m *EventBusMetrics) HandlerTime() time.Duration {
	return time.Duration(m.busyNanos.Load())
}
