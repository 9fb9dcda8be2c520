package memory

import (
	"context"

	"github.com/latetrack/late-ledger/internal/domain/audit"
	"github.com/latetrack/late-ledger/internal/domain/shared"
)

// AuditRepository implements audit.Repository in memory.
type AuditRepository struct {
	s *Store
}

// Append seals rec after the last record and stores it.
func (r *AuditRepository) Append(ctx context.Context, rec *audit.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.appendLocked(rec)
	return nil
}

func (s *Store) appendLocked(rec *audit.Record) {
	var prev *audit.Record
	if n := len(s.records); n > 0 {
		prev = s.records[n-1]
	}
	rec.Seal(prev)
	s.records = append(s.records, cloneRecord(rec))
}

// Get returns a record by ID.
func (r *AuditRepository) Get(ctx context.Context, id string) (*audit.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, rec := range r.s.records {
		if rec.ID == id {
			return cloneRecord(rec), nil
		}
	}
	return nil, shared.ErrAuditRecordNotFound
}

// List returns matching records, newest first.
func (r *AuditRepository) List(ctx context.Context, filter audit.Filter, page shared.Pagination) ([]*audit.Record, error) {
	matched, err := r.matching(ctx, filter)
	if err != nil {
		return nil, err
	}

	offset, limit := page.Offset(), page.Limit()
	if offset >= len(matched) {
		return []*audit.Record{}, nil
	}
	matched = matched[offset:]
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}
	return matched, nil
}

// Count returns the number of matching records.
func (r *AuditRepository) Count(ctx context.Context, filter audit.Filter) (int, error) {
	matched, err := r.matching(ctx, filter)
	if err != nil {
		return 0, err
	}
	return len(matched), nil
}

// Range returns up to limit records after afterSequence, ascending.
func (r *AuditRepository) Range(ctx context.Context, afterSequence int64, limit int) ([]*audit.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []*audit.Record
	for _, rec := range r.s.records {
		if rec.Sequence <= afterSequence {
			continue
		}
		out = append(out, cloneRecord(rec))
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Tamper replaces the stored record with the same sequence. Test helper for
// chain verification.
func (s *Store) Tamper(rec *audit.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.records {
		if existing.Sequence == rec.Sequence {
			s.records[i] = cloneRecord(rec)
			return
		}
	}
}

func (r *AuditRepository) matching(ctx context.Context, filter audit.Filter) ([]*audit.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := make([]*audit.Record, 0)
	for i := len(r.s.records) - 1; i >= 0; i-- {
		rec := r.s.records[i]
		if filter.RollNo != "" && rec.TargetRollNo != filter.RollNo.String() {
			continue
		}
		if filter.AuthorizedBy != "" && rec.AuthorizedBy != filter.AuthorizedBy {
			continue
		}
		out = append(out, cloneRecord(rec))
	}
	return out, nil
}

func cloneRecord(rec *audit.Record) *audit.Record {
	c := *rec
	c.RemovedDates = append([]string(nil), rec.RemovedDates...)
	c.RemovedEventIDs = append([]string(nil), rec.RemovedEventIDs...)
	return &c
}
