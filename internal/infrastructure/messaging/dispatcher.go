package messaging

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/latetrack/late-ledger/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// DISPATCHER
// Registers named handlers on a bus behind a middleware chain. Events whose
// handler still fails land in a bounded dead letter queue.
// ══════════════════════════════════════════════════════════════════════════════

// Middleware wraps an event handler.
type Middleware func(name string, next shared.EventHandler) shared.EventHandler

// Dispatcher wires handlers to an event bus.
type Dispatcher struct {
	bus         shared.EventSubscriber
	middlewares []Middleware
	deadLetterQ *DeadLetterQueue
	logger      *slog.Logger
}

// DispatcherConfig contains configuration for the Dispatcher.
type DispatcherConfig struct {
	Bus shared.EventSubscriber

	// DeadLetterQueueSize bounds the DLQ; the oldest entry is dropped first.
	DeadLetterQueueSize int

	Logger *slog.Logger
}

// NewDispatcher creates a dispatcher with recovery and logging middleware.
func NewDispatcher(config DispatcherConfig) *Dispatcher {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.DeadLetterQueueSize <= 0 {
		config.DeadLetterQueueSize = 1000
	}

	logger := config.Logger.With("component", "dispatcher")
	return &Dispatcher{
		bus:         config.Bus,
		middlewares: []Middleware{RecoveryMiddleware(logger), LoggingMiddleware(logger)},
		deadLetterQ: NewDeadLetterQueue(config.DeadLetterQueueSize),
		logger:      logger,
	}
}

// Use appends a middleware. Only handlers registered afterwards see it.
func (d *Dispatcher) Use(m Middleware) {
	d.middlewares = append(d.middlewares, m)
}

// Register subscribes a named handler for eventType.
func (d *Dispatcher) Register(eventType shared.EventType, name string, handler shared.EventHandler) error {
	if handler == nil {
		return errors.New("handler cannot be nil")
	}

	wrapped := handler
	for i := len(d.middlewares) - 1; i >= 0; i-- {
		wrapped = d.middlewares[i](name, wrapped)
	}

	return d.bus.Subscribe(eventType, func(event shared.Event) error {
		err := wrapped(event)
		if err != nil {
			d.deadLetterQ.Add(DeadLetterEntry{
				Handler:  name,
				Event:    event,
				Error:    err.Error(),
				FailedAt: time.Now(),
			})
		}
		return err
	})
}

// DeadLetterQueue returns the queue of failed deliveries.
func (d *Dispatcher) DeadLetterQueue() *DeadLetterQueue {
	return d.deadLetterQ
}

// ──────────────────────────────────────────────────────────────────────────────
// Middleware
// ──────────────────────────────────────────────────────────────────────────────

// RecoveryMiddleware turns handler panics into ErrHandlerPanic.
func RecoveryMiddleware(logger *slog.Logger) Middleware {
	return func(name string, next shared.EventHandler) shared.EventHandler {
		return func(event shared.Event) (err error) {
			defer func() {
				if p := recover(); p != nil {
					logger.Error("handler panic",
						"handler", name,
						"event_type", event.EventType(),
						"panic", p,
						"stack", string(debug.Stack()),
					)
					err = fmt.Errorf("%w: %s: %v", ErrHandlerPanic, name, p)
				}
			}()
			return next(event)
		}
	}
}

// LoggingMiddleware logs failed and slow handler runs.
func LoggingMiddleware(logger *slog.Logger) Middleware {
	return func(name string, next shared.EventHandler) shared.EventHandler {
		return func(event shared.Event) error {
			start := time.Now()
			err := next(event)
			duration := time.Since(start)

			switch {
			case err != nil:
				logger.Error("handler failed",
					"handler", name,
					"event_type", event.EventType(),
					"aggregate_id", event.AggregateID(),
					"duration", duration,
					"error", err,
				)
			case duration > time.Second:
				logger.Warn("slow handler", "handler", name, "event_type", event.EventType(), "duration", duration)
			}
			return err
		}
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// DEAD LETTER QUEUE
// ══════════════════════════════════════════════════════════════════════════════

// DeadLetterEntry is a delivery that failed after all handler retries.
type DeadLetterEntry struct {
	Handler  string
	Event    shared.Event
	Error    string
	FailedAt time.Time
}

// DeadLetterQueue is a bounded FIFO of failed deliveries.
type DeadLetterQueue struct {
	mu      sync.Mutex
	entries []DeadLetterEntry
	maxSize int
}

// NewDeadLetterQueue creates a queue holding at most maxSize entries.
func NewDeadLetterQueue(maxSize int) *DeadLetterQueue {
	return &DeadLetterQueue{maxSize: maxSize}
}

// Add appends an entry, dropping the oldest when full.
func (q *DeadLetterQueue) Add(entry DeadLetterEntry) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) >= q.maxSize {
		q.entries = q.entries[1:]
	}
	q.entries = append(q.entries, entry)
}

// Entries returns a copy of the queued entries, oldest first.
func (q *DeadLetterQueue) Entries() []DeadLetterEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]DeadLetterEntry(nil), q.entries...)
}

// Size returns the number of queued entries.
func (q *DeadLetterQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Pop removes and returns the oldest entry.
func (q *DeadLetterQueue) Pop() (DeadLetterEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) == 0 {
		return DeadLetterEntry{}, false
	}
	entry := q.entries[0]
	q.entries = q.entries[1:]
	return entry, true
}
