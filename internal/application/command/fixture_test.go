package command

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/latetrack/late-ledger/internal/domain/ledger"
	"github.com/latetrack/late-ledger/internal/domain/shared"
	"github.com/latetrack/late-ledger/internal/infrastructure/persistence/memory"
	"github.com/latetrack/late-ledger/pkg/timeutil"
)

// testStart is 09:10 IST on 2026-01-05.
var testStart = time.Date(2026, 1, 5, 3, 40, 0, 0, time.UTC)

const (
	rollA = "22B81A0501"
	rollB = "22B81A0502"
	rollC = "22B81A0503"
)

// ─────────────────────────────────────────────────────────────────────────────
// Test doubles
// ─────────────────────────────────────────────────────────────────────────────

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []shared.Event
}

func (p *recordingPublisher) Publish(ev shared.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) Count(t shared.EventType) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, ev := range p.events {
		if ev.EventType() == t {
			n++
		}
	}
	return n
}

// racingRepo lets another writer commit right before the first Save.
type racingRepo struct {
	ledger.Repository
	once sync.Once
	race func()
}

func (r *racingRepo) Save(ctx context.Context, l *ledger.Ledger) error {
	r.once.Do(r.race)
	return r.Repository.Save(ctx, l)
}

// stuckRepo never completes a write before the deadline.
type stuckRepo struct {
	ledger.Repository
}

func (r *stuckRepo) Save(ctx context.Context, _ *ledger.Ledger) error {
	<-ctx.Done()
	return ctx.Err()
}

// staleRepo always loses the compare-and-swap.
type staleRepo struct {
	ledger.Repository
}

func (r *staleRepo) Save(context.Context, *ledger.Ledger) error {
	return shared.ErrStaleLedgerVersion
}

// ─────────────────────────────────────────────────────────────────────────────
// Fixture
// ─────────────────────────────────────────────────────────────────────────────

type fixture struct {
	t        *testing.T
	store    *memory.Store
	clock    *testClock
	events   *recordingPublisher
	calendar timeutil.Calendar
	mutator  *Mutator

	register *RegisterStudentHandler
	mark     *AppendLateEventHandler
	undo     *UndoLateEventHandler
	remove   *RemoveLateEventsHandler
	bulk     *BulkRemoveHandler
	settle   *SettleFineHandler
	promote  *PromoteSemesterHandler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		t:        t,
		store:    memory.NewStore(ledger.DefaultPolicy()),
		clock:    &testClock{now: testStart},
		events:   &recordingPublisher{},
		calendar: timeutil.NewCalendar(nil),
	}

	ledgers := f.store.Ledgers()
	f.mutator = f.newMutator(ledgers, MutatorConfig{})
	f.register = NewRegisterStudentHandler(ledgers, f.mutator)
	f.mark = NewAppendLateEventHandler(f.mutator, AppendLateEventHandlerConfig{})
	f.undo = NewUndoLateEventHandler(f.mutator)
	f.remove = NewRemoveLateEventsHandler(ledgers, f.mutator, f.calendar)
	f.bulk = NewBulkRemoveHandler(f.remove, BulkRemoveHandlerConfig{Concurrency: 4})
	f.settle = NewSettleFineHandler(f.mutator)
	f.promote = NewPromoteSemesterHandler(ledgers, f.mutator, PromoteSemesterHandlerConfig{Concurrency: 4})
	return f
}

func (f *fixture) newMutator(repo ledger.Repository, config MutatorConfig) *Mutator {
	config.Clock = f.clock.Now
	config.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewMutator(repo, nil, nil, f.events, config)
}

func (f *fixture) registerStudent(rollNo string, year, semester int) {
	f.t.Helper()
	_, err := f.register.Handle(context.Background(), RegisterStudentCommand{
		RollNo:   rollNo,
		Name:     "Student " + rollNo,
		Year:     year,
		Semester: semester,
		Branch:   "CSE",
		Section:  "A",
	})
	require.NoError(f.t, err)
}

func (f *fixture) markLate(rollNo string) *AppendLateEventResult {
	f.t.Helper()
	res, err := f.mark.Handle(context.Background(), AppendLateEventCommand{
		RollNo:        rollNo,
		MarkedByName:  "Gate Staff",
		MarkedByEmail: "gate@college.edu",
	})
	require.NoError(f.t, err)
	return res
}

// markLateDays marks the student late once a day for n days, starting today.
func (f *fixture) markLateDays(rollNo string, n int) {
	f.t.Helper()
	for i := 0; i < n; i++ {
		f.markLate(rollNo)
		f.clock.Advance(24 * time.Hour)
	}
}

func (f *fixture) ledger(rollNo string) *ledger.Ledger {
	f.t.Helper()
	l, err := f.store.Ledgers().Get(context.Background(), shared.RollNo(rollNo))
	require.NoError(f.t, err)
	return l
}

// day returns the local date of testStart plus n days.
func day(n int) string {
	return testStart.AddDate(0, 0, n).In(timeutil.InstituteTZ).Format(timeutil.FormatDate)
}

func correction() CorrectionMeta {
	return CorrectionMeta{
		Reason:       "Bus breakdown confirmed by transport office",
		AuthorizedBy: "hod.cse@college.edu",
		PerformedBy:  "admin@college.edu",
		IPAddress:    "10.0.0.7",
		UserAgent:    "ledgerctl/1.0",
	}
}
