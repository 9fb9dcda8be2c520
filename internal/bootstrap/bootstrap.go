// Package bootstrap assembles the ledger engine from configuration. Both
// the worker and the admin CLI build their object graph here.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/latetrack/late-ledger/config"
	"github.com/latetrack/late-ledger/internal/application/command"
	"github.com/latetrack/late-ledger/internal/application/eventhandler"
	"github.com/latetrack/late-ledger/internal/application/query"
	"github.com/latetrack/late-ledger/internal/domain/audit"
	"github.com/latetrack/late-ledger/internal/domain/ledger"
	"github.com/latetrack/late-ledger/internal/domain/shared"
	"github.com/latetrack/late-ledger/internal/infrastructure/messaging"
	"github.com/latetrack/late-ledger/internal/infrastructure/persistence/memory"
	"github.com/latetrack/late-ledger/internal/infrastructure/persistence/postgres"
	"github.com/latetrack/late-ledger/internal/infrastructure/persistence/redis"
	"github.com/latetrack/late-ledger/pkg/circuitbreaker"
	"github.com/latetrack/late-ledger/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// APPLICATION GRAPH
// ══════════════════════════════════════════════════════════════════════════════

// Commands groups the write-side handlers.
type Commands struct {
	Register  *command.RegisterStudentHandler
	Append    *command.AppendLateEventHandler
	Undo      *command.UndoLateEventHandler
	Remove    *command.RemoveLateEventsHandler
	Bulk      *command.BulkRemoveHandler
	Settle    *command.SettleFineHandler
	Promote   *command.PromoteSemesterHandler
	Reconcile *command.ReconcileLedgersHandler
}

// Queries groups the read-side handlers.
type Queries struct {
	Ledger      *query.GetLedgerHandler
	Outstanding *query.ListOutstandingFinesHandler
	AuditLogs   *query.GetAuditLogsHandler
	VerifyChain *query.VerifyAuditChainHandler
}

// EventBus is the bus the engine publishes to.
type EventBus interface {
	shared.EventBus
	Close() error
}

// App is the assembled engine.
type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	Calendar timeutil.Calendar

	Ledgers ledger.Repository
	Audit   audit.Repository
	Bus     EventBus

	// DB is nil when running on the in-memory store.
	DB *postgres.Connection
	// Redis is nil when REDIS_DISABLED is set.
	Redis *redis.Cache

	Commands Commands
	Queries  Queries

	closers []func() error
}

// Options tweak what Build wires.
type Options struct {
	// Migrate applies pending migrations before anything else runs.
	Migrate bool

	// AsyncEvents runs local event handlers on a worker pool.
	AsyncEvents bool
}

// Build connects to the stores named in cfg and wires every handler.
// Without a database URL outside production the in-memory store is used.
func Build(ctx context.Context, cfg *config.Config, log *slog.Logger, opts Options) (*App, error) {
	if log == nil {
		log = slog.Default()
	}
	app := &App{
		Config:   cfg,
		Logger:   log,
		Calendar: timeutil.NewCalendar(cfg.App.Location),
	}

	if err := app.openStores(ctx, opts); err != nil {
		_ = app.Close()
		return nil, err
	}
	if err := app.openRedis(ctx); err != nil {
		_ = app.Close()
		return nil, err
	}
	if err := app.openBus(opts); err != nil {
		_ = app.Close()
		return nil, err
	}
	app.wireHandlers()
	return app, nil
}

func (a *App) openStores(ctx context.Context, opts Options) error {
	cfg := a.Config
	if cfg.Database.URL == "" {
		if cfg.IsProduction() {
			return errors.New("bootstrap: DATABASE_URL is required in production")
		}
		a.Logger.Warn("DATABASE_URL not set, using in-memory ledger store")
		store := memory.NewStore(cfg.Ledger.Policy)
		a.Ledgers = store.Ledgers()
		a.Audit = store.Audit()
		return nil
	}

	pgCfg := postgres.DefaultConfig()
	pgCfg.URL = cfg.Database.URL
	pgCfg.MaxConns = cfg.Database.MaxConns
	pgCfg.MinConns = cfg.Database.MinConns
	pgCfg.MaxConnLifetime = cfg.Database.ConnMaxLifetime
	pgCfg.MaxConnIdleTime = cfg.Database.ConnMaxIdleTime
	pgCfg.ConnectTimeout = cfg.Database.ConnectTimeout

	conn, err := postgres.NewConnection(ctx, pgCfg)
	if err != nil {
		return fmt.Errorf("bootstrap: connect database: %w", err)
	}
	a.DB = conn
	a.closers = append(a.closers, func() error { conn.Close(); return nil })

	if opts.Migrate {
		if err := postgres.NewMigrator(conn).Migrate(ctx); err != nil {
			return fmt.Errorf("bootstrap: migrate: %w", err)
		}
	}

	a.Ledgers = postgres.NewLedgerRepository(conn, cfg.Ledger.Policy)
	a.Audit = postgres.NewAuditRepository(conn)
	return nil
}

func (a *App) openRedis(ctx context.Context) error {
	cfg := a.Config.Redis
	if cfg.Disabled {
		a.Logger.Info("redis disabled: no snapshot cache, no writer lock, local event bus only")
		return nil
	}

	cache, err := redis.NewCache(redis.Config{
		Host:         cfg.Host,
		Port:         cfg.Port,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		MaxRetries:   3,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
	if err != nil {
		return fmt.Errorf("bootstrap: connect redis: %w", err)
	}
	a.Redis = cache
	a.closers = append(a.closers, cache.Close)
	return nil
}

func (a *App) openBus(opts Options) error {
	local := messaging.InMemoryEventBusConfig{
		AsyncMode:      opts.AsyncEvents,
		WorkerPoolSize: 8,
		Logger:         a.Logger,
	}

	if a.Redis == nil {
		bus := messaging.NewInMemoryEventBus(local)
		a.Bus = bus
		a.closers = append(a.closers, bus.Close)
		return nil
	}

	bus, err := messaging.NewRedisEventBus(messaging.RedisEventBusConfig{
		Client:         messaging.NewGoRedisClient(a.Redis.Client()),
		ChannelName:    redis.PubSubChannel("ledger.events"),
		LocalBusConfig: local,
		Logger:         a.Logger,
	})
	if err != nil {
		return fmt.Errorf("bootstrap: event bus: %w", err)
	}
	a.Bus = bus
	a.closers = append(a.closers, bus.Close)
	return nil
}

func (a *App) wireHandlers() {
	cfg := a.Config
	flags := cfg.Features

	var (
		locker ledger.Locker = ledger.NoopLocker{}
		cache  ledger.SnapshotCache
	)
	if a.Redis != nil {
		locker = &flaggedLocker{
			flags: flags,
			redis: redis.NewLedgerLocker(a.Redis, cfg.Ledger.LockTTL),
		}
		if flags.IsEnabled(config.FeatureSnapshotCache, nil) {
			breaker := circuitbreaker.RedisBreaker(func(name string, from, to circuitbreaker.State) {
				a.Logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
			})
			cache = redis.NewLedgerSnapshotCache(a.Redis, cfg.Ledger.SnapshotCacheTTL).WithBreaker(breaker)
		}
	}

	mutator := command.NewMutator(a.Ledgers, locker, cache, a.Bus, command.MutatorConfig{
		OperationTimeout: cfg.Ledger.OperationTimeout,
		MaxAttempts:      cfg.Ledger.MaxAttempts,
		LockTimeout:      cfg.Ledger.LockTimeout,
		Policy:           cfg.Ledger.Policy,
		Logger:           a.Logger,
	})

	remove := command.NewRemoveLateEventsHandler(a.Ledgers, mutator, a.Calendar)
	a.Commands = Commands{
		Register: command.NewRegisterStudentHandler(a.Ledgers, mutator),
		Append: command.NewAppendLateEventHandler(mutator, command.AppendLateEventHandlerConfig{
			SameDayGuard: ledger.RejectSameDay(a.Calendar),
			GuardEnabled: func(rollNo shared.RollNo, branch shared.Branch) bool {
				return flags.Enabled(config.FeatureSameDayGuard, string(rollNo), string(branch))
			},
		}),
		Undo:   command.NewUndoLateEventHandler(mutator),
		Remove: remove,
		Bulk:   command.NewBulkRemoveHandler(remove, command.BulkRemoveHandlerConfig{Concurrency: cfg.Ledger.BulkConcurrency}),
		Settle: command.NewSettleFineHandler(mutator),
		Promote: command.NewPromoteSemesterHandler(a.Ledgers, mutator, command.PromoteSemesterHandlerConfig{
			Concurrency: cfg.Ledger.PromotionConcurrency,
		}),
		Reconcile: command.NewReconcileLedgersHandler(a.Ledgers, mutator, cfg.Ledger.BulkConcurrency),
	}

	a.Queries = Queries{
		Ledger:      query.NewGetLedgerHandler(a.Ledgers, cache, a.Logger),
		Outstanding: query.NewListOutstandingFinesHandler(a.Ledgers),
		AuditLogs:   query.NewGetAuditLogsHandler(a.Audit),
		VerifyChain: query.NewVerifyAuditChainHandler(a.Audit, a.Logger),
	}
}

// RegisterEventHandlers subscribes the faculty alert handler through a
// dispatcher and returns it so callers can inspect the dead letter queue.
func (a *App) RegisterEventHandlers(notifier eventhandler.FacultyNotifier) (*messaging.Dispatcher, error) {
	if notifier == nil {
		notifier = eventhandler.NewLogNotifier(a.Logger)
	}
	guarded := eventhandler.NewGuardedNotifier(notifier, circuitbreaker.NotifierBreaker(func(name string, from, to circuitbreaker.State) {
		a.Logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
	}))

	flags := a.Config.Features
	alertCfg := eventhandler.DefaultFacultyAlertConfig()
	alertCfg.Enabled = func(rollNo shared.RollNo, branch shared.Branch) bool {
		return flags.Enabled(config.FeatureFacultyAlerts, string(rollNo), string(branch))
	}
	alerts := eventhandler.NewOnFacultyAlertHandler(guarded, a.Logger, alertCfg)

	dispatcher := messaging.NewDispatcher(messaging.DispatcherConfig{Bus: a.Bus, Logger: a.Logger})
	if err := dispatcher.Register(shared.EventFacultyAlertRaised, "on_faculty_alert", alerts.Handle); err != nil {
		return nil, fmt.Errorf("bootstrap: register faculty alert handler: %w", err)
	}
	return dispatcher, nil
}

// Close releases every connection in reverse order of opening.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// ──────────────────────────────────────────────────────────────────────────────
// Flag-aware locker
// ──────────────────────────────────────────────────────────────────────────────

// flaggedLocker takes the Redis lock only for students the
// ledger.redis_lock flag is enabled for.
type flaggedLocker struct {
	flags *config.FeatureFlags
	redis ledger.Locker
}

func (l *flaggedLocker) Lock(ctx context.Context, rollNo shared.RollNo) (func(context.Context) error, error) {
	if !l.flags.Enabled(config.FeatureRedisLock, string(rollNo), "") {
		return ledger.NoopLocker{}.Lock(ctx, rollNo)
	}
	return l.redis.Lock(ctx, rollNo)
}
