package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latetrack/late-ledger/internal/infrastructure/messaging"
	"github.com/latetrack/late-ledger/internal/infrastructure/scheduler"
	"github.com/latetrack/late-ledger/pkg/logger"
)

type fakeJobs struct {
	results map[string]scheduler.JobResult
	busy    map[string]bool
}

func (f *fakeJobs) ListJobs() []scheduler.JobInfo {
	return []scheduler.JobInfo{{Name: "verify_audit_chain", Schedule: "@every 1h0m0s", Enabled: true}}
}

func (f *fakeJobs) History(limit int) []scheduler.JobResult {
	return []scheduler.JobResult{{JobName: "verify_audit_chain", Success: false, Error: errors.New("chain broken")}}
}

func (f *fakeJobs) RunNow(_ context.Context, name string) (scheduler.JobResult, error) {
	if f.busy[name] {
		return scheduler.JobResult{}, scheduler.ErrJobInProgress
	}
	r, ok := f.results[name]
	if !ok {
		return scheduler.JobResult{}, scheduler.ErrJobNotFound
	}
	return r, nil
}

func newTestServer(t *testing.T, deps Dependencies) http.Handler {
	t.Helper()
	deps.Logger = logger.Discard()
	return NewServer(DefaultConfig(), deps).Handler()
}

func do(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestHealthz(t *testing.T) {
	h := newTestServer(t, Dependencies{})
	rec := do(t, h, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestReadyz(t *testing.T) {
	health := NewHealthChecker("test", time.Second)
	health.AddCheck("database", func(context.Context) error { return nil })
	h := newTestServer(t, Dependencies{Health: health})

	rec := do(t, h, http.MethodGet, "/readyz")
	assert.Equal(t, http.StatusOK, rec.Code)

	health.AddCheck("redis", func(context.Context) error { return errors.New("connection refused") })
	rec = do(t, h, http.MethodGet, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var status HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.False(t, status.Healthy)
	assert.Equal(t, "failing: redis", status.Message)
	assert.True(t, status.Checks["database"].Healthy)
}

func TestHealthChecker_Timeout(t *testing.T) {
	health := NewHealthChecker("", 20*time.Millisecond)
	health.AddCheck("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	status := health.Check(context.Background())
	assert.False(t, status.Healthy)
}

func TestJobs(t *testing.T) {
	jobs := &fakeJobs{
		results: map[string]scheduler.JobResult{
			"verify_audit_chain": {JobName: "verify_audit_chain", Success: true, Manual: true},
			"reconcile_ledgers":  {JobName: "reconcile_ledgers", Success: false, Error: errors.New("2 ledgers failed")},
		},
		busy: map[string]bool{"promote_semester": true},
	}
	h := newTestServer(t, Dependencies{Jobs: jobs})

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/jobs").Code)

	rec := do(t, h, http.MethodGet, "/jobs/history?limit=5")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "chain broken")

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/jobs/history?limit=x").Code)

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/jobs/verify_audit_chain/run").Code)
	assert.Equal(t, http.StatusInternalServerError, do(t, h, http.MethodPost, "/jobs/reconcile_ledgers/run").Code)
	assert.Equal(t, http.StatusConflict, do(t, h, http.MethodPost, "/jobs/promote_semester/run").Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodPost, "/jobs/unknown/run").Code)
}

func TestJobs_SchedulerDisabled(t *testing.T) {
	h := newTestServer(t, Dependencies{})
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/jobs").Code)
}

func TestDeadLetters(t *testing.T) {
	dlq := messaging.NewDeadLetterQueue(10)
	dlq.Add(messaging.DeadLetterEntry{
		Handler:  "on_faculty_alert",
		Error:    "notifier down",
		FailedAt: time.Now(),
	})

	h := newTestServer(t, Dependencies{DeadLetters: dlq})
	rec := do(t, h, http.MethodGet, "/dead-letters")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Size int `json:"size"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Size)
}
