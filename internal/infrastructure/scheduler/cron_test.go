package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCronSchedule_Next(t *testing.T) {
	from := time.Date(2026, 5, 31, 23, 59, 30, 0, time.UTC) // Sunday

	tests := []struct {
		expr string
		want time.Time
	}{
		{"*/15 * * * *", time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)},
		{"30 2 * * *", time.Date(2026, 6, 1, 2, 30, 0, 0, time.UTC)},
		{"0 6 1 6,12 *", time.Date(2026, 6, 1, 6, 0, 0, 0, time.UTC)},
		{"0 9 * * 1-5", time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)},
		{"0 0 1 1 *", time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)},
		// day-of-month OR day-of-week when both are restricted
		{"0 12 15 * 3", time.Date(2026, 6, 3, 12, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			cs, err := ParseCron(tt.expr, time.UTC)
			require.NoError(t, err)
			assert.Equal(t, tt.want, cs.Next(from))
		})
	}
}

func TestCronSchedule_NextIsStrictlyAfter(t *testing.T) {
	cs := MustParseCron("0 2 * * *", time.UTC)
	at := time.Date(2026, 6, 1, 2, 0, 0, 0, time.UTC)
	assert.Equal(t, at.Add(24*time.Hour), cs.Next(at))
}

func TestCronSchedule_Location(t *testing.T) {
	ist := time.FixedZone("IST", 5*3600+1800)
	cs := MustParseCron("0 6 * * *", ist)

	// 00:45 UTC is 06:15 IST, so the next 06:00 IST is the following day.
	next := cs.Next(time.Date(2026, 6, 1, 0, 45, 0, 0, time.UTC))
	assert.Equal(t, time.Date(2026, 6, 2, 0, 30, 0, 0, time.UTC), next.UTC())
}

func TestCronSchedule_Impossible(t *testing.T) {
	cs := MustParseCron("0 0 31 2 *", time.UTC)
	assert.True(t, cs.Next(time.Now()).IsZero())
}

func TestParseCron_Errors(t *testing.T) {
	for _, expr := range []string{
		"* * * *",
		"60 * * * *",
		"* 24 * * *",
		"* * 0 * *",
		"* * * 13 *",
		"* * * * 7",
		"*/0 * * * *",
		"5-1 * * * *",
		"1,,2 * * * *",
		"a * * * *",
	} {
		_, err := ParseCron(expr, nil)
		assert.Error(t, err, expr)
	}
}

func TestParseSchedule(t *testing.T) {
	s, err := ParseSchedule("@every 15m", nil)
	require.NoError(t, err)
	assert.Equal(t, "@every 15m0s", s.String())

	s, err = ParseSchedule("30 2 * * *", nil)
	require.NoError(t, err)
	assert.IsType(t, &CronSchedule{}, s)

	_, err = ParseSchedule("@every -1s", nil)
	assert.Error(t, err)
}
