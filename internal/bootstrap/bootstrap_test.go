package bootstrap

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latetrack/late-ledger/config"
	"github.com/latetrack/late-ledger/internal/application/command"
	"github.com/latetrack/late-ledger/internal/application/query"
	"github.com/latetrack/late-ledger/internal/domain/ledger"
	"github.com/latetrack/late-ledger/internal/domain/shared"
	"github.com/latetrack/late-ledger/pkg/logger"
)

func memoryConfig(t *testing.T) *config.Config {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)
	return &config.Config{
		App: config.AppConfig{
			Name:        "late-ledger",
			Environment: config.EnvDevelopment,
			Timezone:    "Asia/Kolkata",
			Location:    loc,
		},
		Redis: config.RedisConfig{Disabled: true},
		Ledger: config.LedgerConfig{
			OperationTimeout:     time.Second,
			MaxAttempts:          3,
			LockTimeout:          time.Second,
			BulkConcurrency:      2,
			PromotionConcurrency: 2,
			Policy:               ledger.DefaultPolicy(),
		},
		Features: config.NewFeatureFlags(),
		Observability: config.ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "json",
		},
	}
}

func TestBuild_InMemory(t *testing.T) {
	ctx := context.Background()
	app, err := Build(ctx, memoryConfig(t), logger.Discard(), Options{})
	require.NoError(t, err)
	defer app.Close()

	assert.Nil(t, app.DB)
	assert.Nil(t, app.Redis)

	_, err = app.Commands.Append.Handle(ctx, command.AppendLateEventCommand{
		RollNo:       "22B81A0501",
		MarkedByName: "Gate Staff",
		Enroll: &command.RegisterStudentCommand{
			RollNo: "22B81A0501", Name: "Asha Rao", Year: 2, Branch: "CSE",
		},
	})
	require.NoError(t, err)

	got, err := app.Queries.Ledger.Handle(ctx, query.GetLedgerQuery{RollNo: "22B81A0501"})
	require.NoError(t, err)
	assert.Equal(t, 1, got.Snapshot.LateDays)
	assert.False(t, got.FromCache)

	logs, err := app.Queries.AuditLogs.Handle(ctx, query.GetAuditLogsQuery{RollNo: "22B81A0501"})
	require.NoError(t, err)
	assert.Zero(t, logs.Total)
}

func TestBuild_ProductionNeedsDatabase(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.App.Environment = config.EnvProduction

	_, err := Build(context.Background(), cfg, logger.Discard(), Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

func TestBuild_SameDayGuardFollowsFlag(t *testing.T) {
	ctx := context.Background()
	cfg := memoryConfig(t)
	require.NoError(t, cfg.Features.EnableFeature(config.FeatureSameDayGuard))

	app, err := Build(ctx, cfg, logger.Discard(), Options{})
	require.NoError(t, err)
	defer app.Close()

	mark := command.AppendLateEventCommand{
		RollNo:       "22B81A0502",
		MarkedByName: "Gate Staff",
		Enroll: &command.RegisterStudentCommand{
			RollNo: "22B81A0502", Name: "Ravi Kumar", Year: 1, Branch: "ECE",
		},
	}
	_, err = app.Commands.Append.Handle(ctx, mark)
	require.NoError(t, err)

	_, err = app.Commands.Append.Handle(ctx, mark)
	require.Error(t, err)
}

func TestRegisterEventHandlers(t *testing.T) {
	app, err := Build(context.Background(), memoryConfig(t), logger.Discard(), Options{})
	require.NoError(t, err)
	defer app.Close()

	dispatcher, err := app.RegisterEventHandlers(nil)
	require.NoError(t, err)
	assert.NotNil(t, dispatcher)
}

type countingLocker struct{ calls int }

func (l *countingLocker) Lock(context.Context, shared.RollNo) (func(context.Context) error, error) {
	l.calls++
	return func(context.Context) error { return nil }, nil
}

func TestFlaggedLocker(t *testing.T) {
	flags := config.NewFeatureFlags()
	inner := &countingLocker{}
	locker := &flaggedLocker{flags: flags, redis: inner}

	unlock, err := locker.Lock(context.Background(), "22B81A0501")
	require.NoError(t, err)
	require.NoError(t, unlock(context.Background()))
	assert.Equal(t, 1, inner.calls)

	flags.SetRollOverride("22B81A0501", config.FeatureRedisLock, false)
	_, err = locker.Lock(context.Background(), "22B81A0501")
	require.NoError(t, err)
	assert.Equal(t, 1, inner.calls)
}
