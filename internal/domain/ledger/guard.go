package ledger

import (
	"time"

	"github.com/latetrack/late-ledger/internal/domain/shared"
	"github.com/latetrack/late-ledger/pkg/timeutil"
)

// SameDayGuard runs immediately before an append. A non-nil error rejects
// the append and leaves the ledger untouched.
type SameDayGuard func(existing []LateEvent, at time.Time) error

// RejectSameDay blocks a second mark on the same local calendar day.
func RejectSameDay(cal timeutil.Calendar) SameDayGuard {
	return func(existing []LateEvent, at time.Time) error {
		// Events are chronological: only the tail can share the day.
		for i := len(existing) - 1; i >= 0; i-- {
			ts := existing[i].Timestamp
			if cal.SameDay(ts, at) {
				return shared.Detail(shared.ErrDuplicateForDay, "already marked at %s", cal.FormatDateTime(ts))
			}
			if ts.Before(cal.StartOfDay(at)) {
				break
			}
		}
		return nil
	}
}
