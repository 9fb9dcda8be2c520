// Package main - точка входа фонового процесса late-ledger.
//
// Worker подписывается на события ledger'а (уведомления кураторов) и
// выполняет периодические задачи:
// - Проверка целостности цепочки аудита
// - Сверка хранимых счётчиков с журналом опозданий
// - Перевод студентов на следующий семестр по расписанию
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/latetrack/late-ledger/config"
	"github.com/latetrack/late-ledger/internal/bootstrap"
	"github.com/latetrack/late-ledger/internal/infrastructure/scheduler"
	"github.com/latetrack/late-ledger/internal/infrastructure/scheduler/jobs"
	ophttp "github.com/latetrack/late-ledger/internal/interface/http"
	"github.com/latetrack/late-ledger/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. ЗАГРУЗКА КОНФИГУРАЦИИ
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. НАСТРОЙКА ЛОГИРОВАНИЯ
	// ─────────────────────────────────────────────────────────────────────────
	log := logger.Setup(logger.Options{
		Level:     cfg.Observability.LogLevel,
		Format:    cfg.Observability.LogFormat,
		Service:   cfg.App.Name + "-worker",
		Version:   cfg.App.Version,
		AddSource: cfg.IsDevelopment(),
	})
	log.Info("starting late-ledger worker",
		"env", cfg.App.Environment,
		"timezone", cfg.App.Timezone,
		"policy", cfg.Ledger.Policy,
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. ХРАНИЛИЩА, ШИНА СОБЫТИЙ, ОБРАБОТЧИКИ
	// ─────────────────────────────────────────────────────────────────────────
	app, err := bootstrap.Build(ctx, cfg, log, bootstrap.Options{
		Migrate:     cfg.Database.AutoMigrate,
		AsyncEvents: true,
	})
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing connections...")
		if err := app.Close(); err != nil {
			log.Error("close failed", "error", err)
		}
	}()

	dispatcher, err := app.RegisterEventHandlers(nil)
	if err != nil {
		return err
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. ПЛАНИРОВЩИК
	// ─────────────────────────────────────────────────────────────────────────
	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched, err = newScheduler(cfg, app, log)
		if err != nil {
			return err
		}
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
		for _, job := range sched.ListJobs() {
			log.Info("job registered", "job", job.Name, "schedule", job.Schedule, "next_run", job.NextRun)
		}
	} else {
		log.Warn("scheduler disabled")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. OPS HTTP (health, jobs, dead letters)
	// ─────────────────────────────────────────────────────────────────────────
	var (
		ops     *ophttp.Server
		opsErrs <-chan error
	)
	if cfg.Observability.OpsAddr != "" {
		health := ophttp.NewHealthChecker(cfg.App.Version, 0)
		if app.DB != nil {
			health.AddCheck("postgres", ophttp.PingCheck(app.DB))
		}
		if app.Redis != nil {
			health.AddCheck("redis", ophttp.PingCheck(app.Redis))
		}

		deps := ophttp.Dependencies{
			Health:      health,
			DeadLetters: dispatcher.DeadLetterQueue(),
			Logger:      log,
		}
		if sched != nil {
			deps.Jobs = sched
		}

		opsCfg := ophttp.DefaultConfig()
		opsCfg.Addr = cfg.Observability.OpsAddr
		ops = ophttp.NewServer(opsCfg, deps)
		opsErrs = ops.StartAsync()
	}

	log.Info("worker started")

	// ─────────────────────────────────────────────────────────────────────────
	// 6. ОЖИДАНИЕ СИГНАЛА ЗАВЕРШЕНИЯ
	// ─────────────────────────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Info("received shutdown signal", "signal", sig.String())
	case err := <-opsErrs:
		if err != nil {
			log.Error("ops server failed", "error", err)
		}
	case <-ctx.Done():
		log.Info("context cancelled")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 7. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancelShutdown()

	if ops != nil {
		if err := ops.Shutdown(shutdownCtx); err != nil {
			log.Error("failed to stop ops server", "error", err)
		}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if sched != nil {
			if err := sched.Stop(); err != nil && !errors.Is(err, scheduler.ErrSchedulerNotRunning) {
				log.Error("failed to stop scheduler", "error", err)
			}
		}
	}()

	select {
	case <-done:
	case <-shutdownCtx.Done():
		log.Warn("shutdown timed out, abandoning running jobs", "timeout", cfg.App.ShutdownTimeout)
	}

	if n := dispatcher.DeadLetterQueue().Size(); n > 0 {
		log.Warn("undelivered events left in dead letter queue", "count", n)
	}
	log.Info("worker stopped")
	return nil
}

// newScheduler registers the periodic ledger jobs.
func newScheduler(cfg *config.Config, app *bootstrap.App, log *slog.Logger) (*scheduler.Scheduler, error) {
	sched := scheduler.NewScheduler(scheduler.SchedulerConfig{
		Logger:     log,
		Location:   cfg.App.Location,
		JobTimeout: cfg.Scheduler.JobTimeout,
	})

	register := func(job scheduler.Job, schedule scheduler.Schedule) error {
		if err := sched.Register(job, schedule); err != nil {
			return fmt.Errorf("register %s: %w", job.Name(), err)
		}
		return nil
	}

	if err := register(
		jobs.NewVerifyAuditChainJob(app.Queries.VerifyChain, cfg.Scheduler.AuditVerifyBatch, log),
		scheduler.NewIntervalSchedule(cfg.Scheduler.AuditVerifyInterval),
	); err != nil {
		return nil, err
	}

	if err := register(
		jobs.NewReconcileLedgersJob(app.Commands.Reconcile, log),
		scheduler.NewIntervalSchedule(cfg.Scheduler.ReconcileInterval),
	); err != nil {
		return nil, err
	}

	if cfg.Scheduler.PromotionCron != "" {
		schedule, err := scheduler.ParseCron(cfg.Scheduler.PromotionCron, cfg.App.Location)
		if err != nil {
			return nil, fmt.Errorf("SCHEDULER_PROMOTION_CRON: %w", err)
		}
		if err := register(jobs.NewPromoteSemesterJob(app.Commands.Promote, log), schedule); err != nil {
			return nil, err
		}
	}

	return sched, nil
}
