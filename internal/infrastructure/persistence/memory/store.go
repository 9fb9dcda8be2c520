// Package memory implements an in-process ledger and audit store with the
// same compare-and-swap semantics as the PostgreSQL store.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/latetrack/late-ledger/internal/domain/audit"
	"github.com/latetrack/late-ledger/internal/domain/ledger"
	"github.com/latetrack/late-ledger/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// STORE
// One mutex guards ledgers and the audit chain so SaveWithAudit is atomic.
// ══════════════════════════════════════════════════════════════════════════════

// Store holds ledger states and the audit chain.
type Store struct {
	mu      sync.RWMutex
	policy  ledger.Policy
	ledgers map[shared.RollNo]ledger.State
	records []*audit.Record
}

// NewStore creates an empty store. Ledgers are restored with policy.
func NewStore(policy ledger.Policy) *Store {
	return &Store{
		policy:  policy,
		ledgers: make(map[shared.RollNo]ledger.State),
	}
}

// Ledgers returns the ledger.Repository view of the store.
func (s *Store) Ledgers() *LedgerRepository {
	return &LedgerRepository{s: s}
}

// Audit returns the audit.Repository view of the store.
func (s *Store) Audit() *AuditRepository {
	return &AuditRepository{s: s}
}

// PutState overwrites a stored state without any version check. Used to
// seed fixtures, including drifted or malformed rows.
func (s *Store) PutState(st ledger.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ledgers[st.Identity.RollNo] = cloneState(st)
}

// State returns the raw stored state.
func (s *Store) State(rollNo shared.RollNo) (ledger.State, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.ledgers[rollNo]
	return cloneState(st), ok
}

// ══════════════════════════════════════════════════════════════════════════════
// LEDGER REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// LedgerRepository implements ledger.Repository in memory.
type LedgerRepository struct {
	s *Store
}

// Create stores a new ledger with version 1.
func (r *LedgerRepository) Create(ctx context.Context, l *ledger.Ledger) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.ledgers[l.RollNo()]; ok {
		return shared.ErrStudentAlreadyExists
	}
	l.MarkPersisted(1)
	r.s.ledgers[l.RollNo()] = cloneState(l.State())
	return nil
}

// Get returns a ledger by roll number.
func (r *LedgerRepository) Get(ctx context.Context, rollNo shared.RollNo) (*ledger.Ledger, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	st, ok := r.s.ledgers[rollNo]
	r.s.mu.RUnlock()

	if !ok {
		return nil, shared.ErrStudentNotFound
	}
	l, err := ledger.Restore(cloneState(st), r.s.policy)
	if err != nil {
		return nil, fmt.Errorf("failed to restore ledger %s: %w", rollNo, err)
	}
	return l, nil
}

// Save writes the ledger if the stored version still matches.
func (r *LedgerRepository) Save(ctx context.Context, l *ledger.Ledger) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.saveLocked(l)
}

// SaveWithAudit writes the ledger and appends rec, or does neither.
func (r *LedgerRepository) SaveWithAudit(ctx context.Context, l *ledger.Ledger, rec *audit.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if err := r.checkVersion(l); err != nil {
		return err
	}
	r.s.appendLocked(rec)
	return r.saveLocked(l)
}

func (r *LedgerRepository) checkVersion(l *ledger.Ledger) error {
	st, ok := r.s.ledgers[l.RollNo()]
	if !ok {
		return shared.ErrStudentNotFound
	}
	if st.Version != l.Version() {
		return shared.Detail(shared.ErrStaleLedgerVersion, "%s: have %d, stored %d", l.RollNo(), l.Version(), st.Version)
	}
	return nil
}

func (r *LedgerRepository) saveLocked(l *ledger.Ledger) error {
	if err := r.checkVersion(l); err != nil {
		return err
	}
	l.MarkPersisted(l.Version() + 1)
	r.s.ledgers[l.RollNo()] = cloneState(l.State())
	return nil
}

// List returns matching ledgers ordered by roll number.
func (r *LedgerRepository) List(ctx context.Context, filter ledger.Filter, opts ledger.ListOptions) ([]*ledger.Ledger, error) {
	all, err := r.matching(ctx, filter)
	if err != nil {
		return nil, err
	}
	if opts.Offset >= len(all) {
		return []*ledger.Ledger{}, nil
	}
	all = all[opts.Offset:]
	if opts.Limit > 0 && opts.Limit < len(all) {
		all = all[:opts.Limit]
	}
	return all, nil
}

// Count returns the number of matching ledgers.
func (r *LedgerRepository) Count(ctx context.Context, filter ledger.Filter) (int, error) {
	all, err := r.matching(ctx, filter)
	if err != nil {
		return 0, err
	}
	return len(all), nil
}

// RollNos returns roll numbers of all matching ledgers. Like the SQL store
// it filters on stored columns, so rows that fail to restore are listed too.
func (r *LedgerRepository) RollNos(ctx context.Context, filter ledger.Filter) ([]shared.RollNo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := make([]shared.RollNo, 0, len(r.s.ledgers))
	for rollNo, st := range r.s.ledgers {
		id := st.Identity
		switch {
		case filter.Year != 0 && id.Year != filter.Year:
			continue
		case filter.Branch != "" && id.Branch != filter.Branch:
			continue
		case filter.Section != "" && id.Section != filter.Section:
			continue
		case !filter.IncludeGraduated && st.Graduated:
			continue
		case filter.WithOutstandingFines && !storedOutstanding(st):
			continue
		}
		out = append(out, rollNo)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func storedOutstanding(st ledger.State) bool {
	if st.Stored == nil {
		return false
	}
	paid := 0
	for _, p := range st.Payments {
		paid += p.Amount
	}
	return st.Stored.Fines > paid
}

func (r *LedgerRepository) matching(ctx context.Context, filter ledger.Filter) ([]*ledger.Ledger, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	states := make([]ledger.State, 0, len(r.s.ledgers))
	for _, st := range r.s.ledgers {
		states = append(states, cloneState(st))
	}
	r.s.mu.RUnlock()

	sort.Slice(states, func(i, j int) bool {
		return states[i].Identity.RollNo < states[j].Identity.RollNo
	})

	out := make([]*ledger.Ledger, 0, len(states))
	for _, st := range states {
		l, err := ledger.Restore(st, r.s.policy)
		if err != nil {
			return nil, fmt.Errorf("failed to restore ledger %s: %w", st.Identity.RollNo, err)
		}
		if filter.Matches(l) {
			out = append(out, l)
		}
	}
	return out, nil
}

func cloneState(st ledger.State) ledger.State {
	st.Events = append([]ledger.LateEvent(nil), st.Events...)
	st.Payments = append([]ledger.Payment(nil), st.Payments...)
	if st.Stored != nil {
		t := *st.Stored
		t.PerEventFine = append([]int(nil), t.PerEventFine...)
		st.Stored = &t
	}
	return st
}
