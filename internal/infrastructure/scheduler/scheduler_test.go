package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)

func newTestScheduler() *Scheduler {
	s := NewScheduler(SchedulerConfig{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	s.now = func() time.Time { return base }
	return s
}

func countingJob(name string, calls *int32, err error) Job {
	return JobFunc{JobName: name, Fn: func(context.Context) error {
		atomic.AddInt32(calls, 1)
		return err
	}}
}

func TestScheduler_RunsDueJobs(t *testing.T) {
	s := newTestScheduler()
	var calls int32
	require.NoError(t, s.Register(countingJob("reconcile", &calls, nil), NewIntervalSchedule(time.Minute)))

	s.runDue(context.Background(), base.Add(30*time.Second))
	s.wg.Wait()
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))

	s.runDue(context.Background(), base.Add(time.Minute))
	s.wg.Wait()
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	jobs := s.ListJobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, base.Add(2*time.Minute), jobs[0].NextRun)
	assert.Equal(t, int64(1), jobs[0].RunCount)
}

func TestScheduler_SkipsOverlappingRun(t *testing.T) {
	s := newTestScheduler()
	release := make(chan struct{})
	var calls int32
	job := JobFunc{JobName: "slow", Fn: func(context.Context) error {
		atomic.AddInt32(&calls, 1)
		<-release
		return nil
	}}
	require.NoError(t, s.Register(job, NewIntervalSchedule(time.Minute)))

	s.runDue(context.Background(), base.Add(time.Minute))
	require.Eventually(t, func() bool { return s.ListJobs()[0].Running }, time.Second, 5*time.Millisecond)

	s.runDue(context.Background(), base.Add(2*time.Minute))
	_, err := s.RunNow(context.Background(), "slow")
	assert.ErrorIs(t, err, ErrJobInProgress)

	close(release)
	s.wg.Wait()
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestScheduler_RunNowRecordsFailureAndPanic(t *testing.T) {
	s := newTestScheduler()
	var calls int32
	boom := errors.New("boom")
	require.NoError(t, s.Register(countingJob("failing", &calls, boom), NewIntervalSchedule(time.Hour)))
	require.NoError(t, s.Register(JobFunc{JobName: "panicky", Fn: func(context.Context) error { panic("nil ledger") }}, NewIntervalSchedule(time.Hour)))

	res, err := s.RunNow(context.Background(), "failing")
	assert.ErrorIs(t, err, boom)
	assert.False(t, res.Success)
	assert.True(t, res.Manual)

	_, err = s.RunNow(context.Background(), "panicky")
	assert.ErrorIs(t, err, ErrJobPanicked)

	_, err = s.RunNow(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)

	history := s.History(0)
	require.Len(t, history, 2)
	assert.Equal(t, "panicky", history[1].JobName)
	assert.Equal(t, int64(1), s.ListJobs()[0].FailCount)
}

func TestScheduler_RegisterAndToggle(t *testing.T) {
	s := newTestScheduler()
	var calls int32
	job := countingJob("verify", &calls, nil)

	assert.ErrorIs(t, s.Register(nil, NewIntervalSchedule(time.Minute)), ErrNilJob)
	assert.ErrorIs(t, s.Register(job, nil), ErrNilSchedule)
	require.NoError(t, s.Register(job, NewIntervalSchedule(time.Minute)))
	assert.ErrorIs(t, s.Register(job, NewIntervalSchedule(time.Minute)), ErrJobAlreadyExists)

	require.NoError(t, s.SetEnabled("verify", false))
	s.runDue(context.Background(), base.Add(time.Hour))
	s.wg.Wait()
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))

	assert.ErrorIs(t, s.SetEnabled("missing", true), ErrJobNotFound)
}

func TestScheduler_StartStop(t *testing.T) {
	s := newTestScheduler()
	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), ErrSchedulerAlreadyRunning)
	require.NoError(t, s.Stop())
	assert.ErrorIs(t, s.Stop(), ErrSchedulerNotRunning)
}
