package ledger

import (
	"github.com/latetrack/late-ledger/internal/domain/shared"
)

// Tally is everything derived from an ordered event list.
type Tally struct {
	PerEventFine    []int  `json:"per_event_fine"`
	LateDays        int    `json:"late_days"`
	ExcuseDaysUsed  int    `json:"excuse_days_used"`
	Fines           int    `json:"fines"`
	Status          Status `json:"status"`
	GracePeriodUsed int    `json:"grace_period_used"`
	AlertFaculty    bool   `json:"alert_faculty"`
}

// Recompute re-derives all cumulative fields from scratch. The result
// depends only on the list order and the policy; calling it twice on the
// same list yields identical output.
//
// A list that is not in chronological order, or carries an event without a
// timestamp, is refused with ErrMalformedEventList.
func Recompute(events []LateEvent, policy Policy) (Tally, error) {
	for i := range events {
		if events[i].Timestamp.IsZero() {
			return Tally{}, shared.Detail(shared.ErrMalformedEventList, "event %d has no timestamp", i+1)
		}
		if i > 0 && events[i].Timestamp.Before(events[i-1].Timestamp) {
			return Tally{}, shared.Detail(shared.ErrMalformedEventList,
				"event %d (%s) precedes event %d (%s)",
				i+1, events[i].Timestamp.Format("2006-01-02T15:04:05.000000Z07:00"),
				i, events[i-1].Timestamp.Format("2006-01-02T15:04:05.000000Z07:00"))
		}
	}

	t := Tally{
		PerEventFine: make([]int, len(events)),
		LateDays:     len(events),
	}
	for i := range events {
		fine := FineForOrdinal(i + 1)
		t.PerEventFine[i] = fine
		t.Fines += fine
	}
	t.ExcuseDaysUsed = min(ExcuseDays, len(events))

	c := policy.Classify(t.LateDays, t.ExcuseDaysUsed, t.Fines)
	t.Status = c.Status
	t.GracePeriodUsed = c.GracePeriodUsed
	t.AlertFaculty = c.AlertFaculty

	return t, nil
}

// Equal reports whether two tallies carry identical derived values.
func (t Tally) Equal(other Tally) bool {
	if t.LateDays != other.LateDays ||
		t.ExcuseDaysUsed != other.ExcuseDaysUsed ||
		t.Fines != other.Fines ||
		t.Status != other.Status ||
		t.GracePeriodUsed != other.GracePeriodUsed ||
		t.AlertFaculty != other.AlertFaculty ||
		len(t.PerEventFine) != len(other.PerEventFine) {
		return false
	}
	for i := range t.PerEventFine {
		if t.PerEventFine[i] != other.PerEventFine[i] {
			return false
		}
	}
	return true
}
