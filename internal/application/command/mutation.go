package command

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/latetrack/late-ledger/internal/domain/ledger"
	"github.com/latetrack/late-ledger/internal/domain/shared"
	"github.com/latetrack/late-ledger/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// MUTATION LOOP
// Every write to a ledger goes through Mutator.run: load, apply the domain
// method, compare-and-swap write. A stale version restarts the cycle from a
// fresh read; the whole operation is bounded by OperationTimeout.
// ══════════════════════════════════════════════════════════════════════════════

// Clock returns the current time. Injected for tests.
type Clock func() time.Time

// MutatorConfig contains configuration for the mutation loop.
type MutatorConfig struct {
	// OperationTimeout bounds one operation including all retries.
	OperationTimeout time.Duration

	// MaxAttempts is the number of compare-and-swap attempts before
	// ErrLedgerContention is reported.
	MaxAttempts int

	// LockTimeout bounds the wait for the per-student lock.
	LockTimeout time.Duration

	Policy ledger.Policy
	Clock  Clock
	Logger *slog.Logger
}

// DefaultMutatorConfig returns default configuration.
func DefaultMutatorConfig() MutatorConfig {
	return MutatorConfig{
		OperationTimeout: 5 * time.Second,
		MaxAttempts:      5,
		LockTimeout:      2 * time.Second,
		Policy:           ledger.DefaultPolicy(),
		Clock:            func() time.Time { return time.Now().UTC() },
		Logger:           slog.Default(),
	}
}

// Mutator runs read-modify-write cycles against a ledger repository.
type Mutator struct {
	ledgers   ledger.Repository
	locker    ledger.Locker
	cache     ledger.SnapshotCache
	publisher shared.EventPublisher
	config    MutatorConfig
	logger    *slog.Logger
}

// NewMutator creates a new Mutator. locker, cache and publisher may be nil.
func NewMutator(
	ledgers ledger.Repository,
	locker ledger.Locker,
	cache ledger.SnapshotCache,
	publisher shared.EventPublisher,
	config MutatorConfig,
) *Mutator {
	defaults := DefaultMutatorConfig()
	if config.OperationTimeout <= 0 {
		config.OperationTimeout = defaults.OperationTimeout
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaults.MaxAttempts
	}
	if config.LockTimeout <= 0 {
		config.LockTimeout = defaults.LockTimeout
	}
	if config.Policy == (ledger.Policy{}) {
		config.Policy = defaults.Policy
	}
	if config.Clock == nil {
		config.Clock = defaults.Clock
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}
	if locker == nil {
		locker = ledger.NoopLocker{}
	}
	if publisher == nil {
		publisher = shared.NopPublisher{}
	}

	return &Mutator{
		ledgers:   ledgers,
		locker:    locker,
		cache:     cache,
		publisher: publisher,
		config:    config,
		logger:    config.Logger,
	}
}

// Now returns the current time from the configured clock.
func (m *Mutator) Now() time.Time {
	return m.config.Clock()
}

// Policy returns the status policy new ledgers are created with.
func (m *Mutator) Policy() ledger.Policy {
	return m.config.Policy
}

// writeFunc persists a mutated ledger.
type writeFunc func(ctx context.Context, l *ledger.Ledger) error

// outcome is what a mutation wants done after it succeeded in memory.
type outcome struct {
	// write defaults to Repository.Save.
	write writeFunc

	// skip leaves the ledger untouched and reports success.
	skip bool

	events []shared.Event
}

// mutation applies a domain change to a freshly loaded ledger. It is called
// once per attempt and must not have side effects outside l.
type mutation func(l *ledger.Ledger, now time.Time) (outcome, error)

// runOptions tweak a single run.
type runOptions struct {
	// enroll creates the ledger with this identity when it does not exist.
	enroll *ledger.Identity
}

// runResult reports the final state of a successful run.
type runResult struct {
	ledger   *ledger.Ledger
	attempts int
	created  bool
	skipped  bool
}

// run executes apply under the per-student lock with bounded CAS retries.
func (m *Mutator) run(ctx context.Context, op string, rollNo shared.RollNo, opts runOptions, apply mutation) (*runResult, error) {
	opCtx, cancel := context.WithTimeout(ctx, m.config.OperationTimeout)
	defer cancel()

	unlock := m.lock(opCtx, op, rollNo)
	defer unlock()

	var (
		res    runResult
		events []shared.Event
	)

	retrier := retry.ContentionRetrier(m.config.MaxAttempts,
		retry.WithRetryIf(retry.IsRetryable),
		retry.WithOnRetry(func(attempt int, err error, delay time.Duration) {
			m.logger.Warn("ledger write conflict, retrying",
				"op", op,
				"roll_no", rollNo,
				"attempt", attempt,
				"delay", delay,
				"error", err,
			)
		}),
	)

	err := retrier.Do(opCtx, func(ctx context.Context) error {
		res = runResult{attempts: res.attempts + 1}
		now := m.config.Clock()

		l, err := m.ledgers.Get(ctx, rollNo)
		if errors.Is(err, shared.ErrStudentNotFound) && opts.enroll != nil {
			l, err = ledger.New(*opts.enroll, m.config.Policy, now)
			res.created = true
		}
		if err != nil {
			return classify(err)
		}

		out, err := apply(l, now)
		if err != nil {
			return retry.Permanent(err)
		}
		res.ledger = l
		events = out.events

		if out.skip {
			res.skipped = true
			return nil
		}

		switch {
		case res.created:
			err = m.ledgers.Create(ctx, l)
			if errors.Is(err, shared.ErrStudentAlreadyExists) {
				// Someone enrolled the student between our read and write.
				err = shared.ErrStaleLedgerVersion
			}
		case out.write != nil:
			err = out.write(ctx, l)
		default:
			err = m.ledgers.Save(ctx, l)
		}
		return classify(err)
	})

	if err != nil {
		return nil, m.translate(opCtx, ctx, op, rollNo, err)
	}

	if !res.skipped {
		m.afterWrite(ctx, op, rollNo, res.ledger.Version(), events)
	}
	return &res, nil
}

// classify marks errors for the retrier.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case shared.IsRetryable(err):
		return retry.Retryable(err)
	default:
		return retry.Permanent(err)
	}
}

// translate maps retry and deadline outcomes onto the ledger error catalogue.
func (m *Mutator) translate(opCtx, parent context.Context, op string, rollNo shared.RollNo, err error) error {
	var exhausted *retry.ExhaustedError
	switch {
	case errors.As(err, &exhausted) && errors.Is(err, shared.ErrStaleLedgerVersion):
		m.logger.Error("ledger contention, retries exhausted",
			"op", op, "roll_no", rollNo, "attempts", exhausted.Attempts)
		return shared.Detail(shared.ErrLedgerContention, "%s: %d attempts", op, exhausted.Attempts)

	case shared.IsDomainFailure(err) || shared.IsFatal(err):
		return err

	case errors.Is(opCtx.Err(), context.DeadlineExceeded) && parent.Err() == nil:
		m.logger.Error("ledger operation timed out",
			"op", op, "roll_no", rollNo, "timeout", m.config.OperationTimeout, "error", err)
		return shared.Detail(shared.ErrPersistenceTimeout, "%s after %s: %v", op, m.config.OperationTimeout, err)
	}

	var retryable *retry.RetryableError
	if errors.As(err, &retryable) {
		err = retryable.Err
	}
	m.logger.Error("ledger operation failed", "op", op, "roll_no", rollNo, "error", err)
	return err
}

// lock takes the per-student lock. Infrastructure failures of the lock are
// logged and the operation proceeds on CAS alone.
func (m *Mutator) lock(ctx context.Context, op string, rollNo shared.RollNo) func() {
	lockCtx, cancel := context.WithTimeout(ctx, m.config.LockTimeout)
	defer cancel()

	unlock, err := m.locker.Lock(lockCtx, rollNo)
	if err != nil {
		m.logger.Warn("ledger lock unavailable, relying on version check",
			"op", op, "roll_no", rollNo, "error", err)
		return func() {}
	}

	return func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := unlock(releaseCtx); err != nil {
			m.logger.Warn("ledger unlock failed", "op", op, "roll_no", rollNo, "error", err)
		}
	}
}

// afterWrite drops the cached snapshot and publishes domain events.
// Both are best effort: the write is already committed.
func (m *Mutator) afterWrite(ctx context.Context, op string, rollNo shared.RollNo, version int64, events []shared.Event) {
	if m.cache != nil {
		if err := m.cache.Invalidate(ctx, rollNo, version); err != nil {
			m.logger.Warn("snapshot cache invalidation failed", "op", op, "roll_no", rollNo, "error", err)
		}
	}
	for _, ev := range events {
		if err := m.publisher.Publish(ev); err != nil {
			m.logger.Warn("failed to publish event",
				"op", op, "roll_no", rollNo, "event_type", ev.EventType(), "error", err)
		}
	}
}
