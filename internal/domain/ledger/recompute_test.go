package ledger

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latetrack/late-ledger/internal/domain/shared"
)

var testBase = time.Date(2026, 1, 5, 3, 40, 0, 0, time.UTC)

func eventsOnDays(n int) []LateEvent {
	actor := shared.Actor{Name: "Guard", Email: "gate@college.edu"}
	out := make([]LateEvent, n)
	for i := range out {
		out[i] = NewLateEvent(testBase.AddDate(0, 0, i), actor, "")
	}
	return out
}

func TestRecompute_Empty(t *testing.T) {
	tally, err := Recompute(nil, DefaultPolicy())
	require.NoError(t, err)

	assert.Equal(t, 0, tally.LateDays)
	assert.Equal(t, 0, tally.Fines)
	assert.Equal(t, StatusNormal, tally.Status)
	assert.Empty(t, tally.PerEventFine)
}

func TestRecompute_Idempotent(t *testing.T) {
	events := eventsOnDays(13)

	first, err := Recompute(events, DefaultPolicy())
	require.NoError(t, err)
	second, err := Recompute(events, DefaultPolicy())
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.True(t, first.Equal(second))
}

func TestRecompute_FiveEvents(t *testing.T) {
	tally, err := Recompute(eventsOnDays(5), DefaultPolicy())
	require.NoError(t, err)

	assert.Equal(t, []int{0, 0, 3, 3, 3}, tally.PerEventFine)
	assert.Equal(t, 5, tally.LateDays)
	assert.Equal(t, 2, tally.ExcuseDaysUsed)
	assert.Equal(t, 9, tally.Fines)
	assert.Equal(t, StatusGracePeriod, tally.Status)
	assert.Equal(t, 1, tally.GracePeriodUsed)
}

func TestRecompute_RemovalShiftsOrdinals(t *testing.T) {
	events := eventsOnDays(5)

	for _, removed := range []int{0, 1} {
		remaining := append(append([]LateEvent(nil), events[:removed]...), events[removed+1:]...)

		tally, err := Recompute(remaining, DefaultPolicy())
		require.NoError(t, err)

		assert.Equal(t, []int{0, 0, 3, 3}, tally.PerEventFine, "removed #%d", removed+1)
		assert.Equal(t, 6, tally.Fines)
		assert.Equal(t, StatusApproachingLimit, tally.Status)
	}
}

func TestRecompute_RejectsNonChronological(t *testing.T) {
	events := eventsOnDays(3)
	events[1], events[2] = events[2], events[1]

	_, err := Recompute(events, DefaultPolicy())
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrMalformedEventList))
	assert.True(t, shared.IsFatal(err))
}

func TestRecompute_RejectsMissingTimestamp(t *testing.T) {
	events := eventsOnDays(2)
	events[1].Timestamp = time.Time{}

	_, err := Recompute(events, DefaultPolicy())
	assert.True(t, errors.Is(err, shared.ErrMalformedEventList))
}

func TestRecompute_EqualTimestampsAllowed(t *testing.T) {
	events := eventsOnDays(2)
	events[1].Timestamp = events[0].Timestamp

	tally, err := Recompute(events, DefaultPolicy())
	require.NoError(t, err)
	assert.Equal(t, 2, tally.LateDays)
}

func TestTally_Equal(t *testing.T) {
	a, err := Recompute(eventsOnDays(4), DefaultPolicy())
	require.NoError(t, err)

	b := a
	b.PerEventFine = []int{0, 0, 3, 5}
	assert.False(t, a.Equal(b))

	c := a
	c.Status = StatusFined
	assert.False(t, a.Equal(c))
}
