package ledger

import "time"

// EventView is a late event with its derived ordinal and fine.
type EventView struct {
	LateEvent
	Ordinal int `json:"ordinal"`
	Fine    int `json:"fine"`
}

// Snapshot is the read model of a ledger returned to callers and cached.
// It is never turned back into a Ledger.
type Snapshot struct {
	RollNo   string `json:"roll_no"`
	Name     string `json:"name"`
	Year     int    `json:"year"`
	Semester int    `json:"semester"`
	Branch   string `json:"branch"`
	Section  string `json:"section"`

	LateEvents          []EventView `json:"late_events"`
	LateDays            int         `json:"late_days"`
	ExcuseDaysUsed      int         `json:"excuse_days_used"`
	ExcuseDaysRemaining int         `json:"excuse_days_remaining"`
	Fines               int         `json:"fines"`
	FinesPaid           int         `json:"fines_paid"`
	Outstanding         int         `json:"outstanding"`
	Credit              int         `json:"credit,omitempty"`
	Status              Status      `json:"status"`
	GracePeriodUsed     int         `json:"grace_period_used"`
	GraceAllowance      int         `json:"grace_allowance"`
	AlertFaculty        bool        `json:"alert_faculty"`
	FineHistory         []FineEntry `json:"fine_history"`
	Payments            []Payment   `json:"payments"`

	LastPromotionRun string    `json:"last_promotion_run,omitempty"`
	Version          int64     `json:"version"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Snapshot builds the read model.
func (l *Ledger) Snapshot() *Snapshot {
	views := make([]EventView, len(l.events))
	for i, ev := range l.events {
		views[i] = EventView{
			LateEvent: ev,
			Ordinal:   i + 1,
			Fine:      l.tally.PerEventFine[i],
		}
	}

	return &Snapshot{
		RollNo:              l.identity.RollNo.String(),
		Name:                l.identity.Name,
		Year:                l.identity.Year,
		Semester:            l.identity.Semester,
		Branch:              l.identity.Branch.String(),
		Section:             l.identity.Section,
		LateEvents:          views,
		LateDays:            l.tally.LateDays,
		ExcuseDaysUsed:      l.tally.ExcuseDaysUsed,
		ExcuseDaysRemaining: ExcuseDays - l.tally.ExcuseDaysUsed,
		Fines:               l.tally.Fines,
		FinesPaid:           l.FinesPaid(),
		Outstanding:         l.Outstanding(),
		Credit:              l.Credit(),
		Status:              l.Status(),
		GracePeriodUsed:     l.tally.GracePeriodUsed,
		GraceAllowance:      l.policy.GraceAllowance,
		AlertFaculty:        l.tally.AlertFaculty,
		FineHistory:         l.FineHistory(),
		Payments:            l.Payments(),
		LastPromotionRun:    l.lastPromotionRun,
		Version:             l.version,
		UpdatedAt:           l.updatedAt,
	}
}
