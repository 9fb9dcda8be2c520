package ledger

import (
	"errors"
	"fmt"
)

// ══════════════════════════════════════════════════════════════════════════════
// STATUS
// ══════════════════════════════════════════════════════════════════════════════

// Status is the discrete disciplinary state of a ledger.
type Status string

const (
	// StatusNormal - no late events, or nothing else applies.
	StatusNormal Status = "normal"
	// StatusExcused - every recorded event is absorbed by the excuse allowance.
	StatusExcused Status = "excused"
	// StatusApproachingLimit - just below the late limit.
	StatusApproachingLimit Status = "approaching_limit"
	// StatusGracePeriod - past the limit, inside the grace allowance.
	StatusGracePeriod Status = "grace_period"
	// StatusFined - fine-bearing events beyond grace.
	StatusFined Status = "fined"
	// StatusAlert - cumulative lateness at or beyond the alert threshold.
	StatusAlert Status = "alert"
	// StatusGraduated - terminal, set only by promotion.
	StatusGraduated Status = "graduated"
)

// IsValid checks that the status is known.
func (s Status) IsValid() bool {
	switch s {
	case StatusNormal, StatusExcused, StatusApproachingLimit, StatusGracePeriod,
		StatusFined, StatusAlert, StatusGraduated:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the ledger accepts no further events.
func (s Status) IsTerminal() bool {
	return s == StatusGraduated
}

// String returns the string representation.
func (s Status) String() string {
	return string(s)
}

// ══════════════════════════════════════════════════════════════════════════════
// POLICY
// ══════════════════════════════════════════════════════════════════════════════

// Policy holds the classifier thresholds. All counts are in late days.
type Policy struct {
	// LateLimit is the late-day count at which the grace period starts.
	LateLimit int `yaml:"late_limit" json:"late_limit"`

	// ApproachingBand is how many days below LateLimit count as approaching.
	ApproachingBand int `yaml:"approaching_band" json:"approaching_band"`

	// GraceAllowance is the number of late days tolerated past LateLimit.
	GraceAllowance int `yaml:"grace_allowance" json:"grace_allowance"`

	// AlertThreshold is the late-day count from which status is alert.
	AlertThreshold int `yaml:"alert_threshold" json:"alert_threshold"`

	// FacultyAlertAfter raises alertFaculty once lateDays exceeds it.
	FacultyAlertAfter int `yaml:"faculty_alert_after" json:"faculty_alert_after"`
}

// DefaultPolicy returns the institution defaults.
func DefaultPolicy() Policy {
	return Policy{
		LateLimit:         5,
		ApproachingBand:   2,
		GraceAllowance:    4,
		AlertThreshold:    12,
		FacultyAlertAfter: 7,
	}
}

// Validate checks that the bands are ordered and do not overlap.
func (p Policy) Validate() error {
	var errs []error
	if p.ApproachingBand < 0 {
		errs = append(errs, errors.New("approaching_band must not be negative"))
	}
	if p.LateLimit-p.ApproachingBand <= ExcuseDays {
		errs = append(errs, fmt.Errorf("approaching band must start after the %d excuse days", ExcuseDays))
	}
	if p.GraceAllowance < 0 {
		errs = append(errs, errors.New("grace_allowance must not be negative"))
	}
	if p.AlertThreshold < p.LateLimit+p.GraceAllowance {
		errs = append(errs, errors.New("alert_threshold must not fall inside the grace band"))
	}
	if p.FacultyAlertAfter < ExcuseDays {
		errs = append(errs, errors.New("faculty_alert_after must not be below the excuse allowance"))
	}
	return errors.Join(errs...)
}

// graceEnd is the first late-day count past the grace band.
func (p Policy) graceEnd() int {
	return p.LateLimit + p.GraceAllowance
}

// Classification is the classifier output.
type Classification struct {
	Status          Status
	GracePeriodUsed int
	AlertFaculty    bool
}

// Classify maps cumulative counts to a status. Rules are evaluated in order,
// first match wins. It never returns StatusGraduated.
func (p Policy) Classify(lateDays, excuseDaysUsed, fines int) Classification {
	c := Classification{
		AlertFaculty: lateDays > p.FacultyAlertAfter,
	}

	switch {
	case lateDays >= p.graceEnd():
		c.GracePeriodUsed = p.GraceAllowance
	case lateDays >= p.LateLimit:
		c.GracePeriodUsed = lateDays - p.LateLimit + 1
	}

	switch {
	case lateDays == 0:
		c.Status = StatusNormal
	case lateDays <= excuseDaysUsed:
		if fines > 0 {
			c.Status = StatusNormal
		} else {
			c.Status = StatusExcused
		}
	case lateDays >= p.LateLimit-p.ApproachingBand && lateDays < p.LateLimit:
		c.Status = StatusApproachingLimit
	case lateDays >= p.LateLimit && lateDays < p.graceEnd() && lateDays < p.AlertThreshold:
		c.Status = StatusGracePeriod
	case lateDays >= p.AlertThreshold:
		c.Status = StatusAlert
	case fines > 0:
		c.Status = StatusFined
	default:
		c.Status = StatusNormal
	}

	return c
}
