package scheduler

import (
	"fmt"
	"time"
)

// IntervalSchedule runs a job at a fixed interval after the previous tick.
type IntervalSchedule struct {
	Interval time.Duration
}

// NewIntervalSchedule creates a new IntervalSchedule.
func NewIntervalSchedule(interval time.Duration) *IntervalSchedule {
	return &IntervalSchedule{Interval: interval}
}

func (s *IntervalSchedule) Next(t time.Time) time.Time {
	return t.Add(s.Interval)
}

func (s *IntervalSchedule) String() string {
	return fmt.Sprintf("@every %s", s.Interval)
}
