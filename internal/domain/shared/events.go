// Package shared contains common domain types, errors and events
// that are used across all domain packages.
package shared

import (
	"encoding/json"
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types. Each event is published after the ledger change it
// describes has been persisted.
const (
	// Ledger events
	EventLateEventAppended  EventType = "ledger.late_event_appended"
	EventLateEventUndone    EventType = "ledger.late_event_undone"
	EventLateEventsRemoved  EventType = "ledger.late_events_removed"
	EventFineSettled        EventType = "ledger.fine_settled"
	EventFacultyAlertRaised EventType = "ledger.faculty_alert_raised"

	// Academic period events
	EventSemesterPromoted EventType = "ledger.semester_promoted"
	EventStudentGraduated EventType = "ledger.student_graduated"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	Version       int       `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event.
func NewBaseEvent(eventType EventType, aggregateID string) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   time.Now().UTC(),
		AggregateId: aggregateID,
		Version:     1,
	}
}

// WithCorrelationID sets the correlation ID for tracing.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// ═══════════════════════════════════════════════════════════════════════════
// Ledger Events
// ═══════════════════════════════════════════════════════════════════════════

// LateEventAppendedEvent is emitted when a late arrival is recorded.
type LateEventAppendedEvent struct {
	BaseEvent
	RollNo     string    `json:"roll_no"`
	EventID    string    `json:"event_id"`
	MarkedAt   time.Time `json:"marked_at"`
	MarkedBy   string    `json:"marked_by"`
	Ordinal    int       `json:"ordinal"`
	Fine       int       `json:"fine"`
	LateDays   int       `json:"late_days"`
	TotalFines int       `json:"total_fines"`
	Status     string    `json:"status"`
}

// Payload implements Event interface.
func (e LateEventAppendedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"roll_no":     e.RollNo,
		"event_id":    e.EventID,
		"marked_at":   e.MarkedAt.Format(time.RFC3339),
		"marked_by":   e.MarkedBy,
		"ordinal":     e.Ordinal,
		"fine":        e.Fine,
		"late_days":   e.LateDays,
		"total_fines": e.TotalFines,
		"status":      e.Status,
	}
}

// NewLateEventAppendedEvent creates a new LateEventAppendedEvent.
func NewLateEventAppendedEvent(rollNo, eventID string, markedAt time.Time, markedBy string, ordinal, fine, lateDays, totalFines int, status string) LateEventAppendedEvent {
	return LateEventAppendedEvent{
		BaseEvent:  NewBaseEvent(EventLateEventAppended, rollNo),
		RollNo:     rollNo,
		EventID:    eventID,
		MarkedAt:   markedAt,
		MarkedBy:   markedBy,
		Ordinal:    ordinal,
		Fine:       fine,
		LateDays:   lateDays,
		TotalFines: totalFines,
		Status:     status,
	}
}

// LateEventUndoneEvent is emitted when a late event is undone inside the undo window.
type LateEventUndoneEvent struct {
	BaseEvent
	RollNo   string    `json:"roll_no"`
	EventID  string    `json:"event_id"`
	MarkedAt time.Time `json:"marked_at"`
	LateDays int       `json:"late_days"`
	Fines    int       `json:"fines"`
}

// Payload implements Event interface.
func (e LateEventUndoneEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"roll_no":   e.RollNo,
		"event_id":  e.EventID,
		"marked_at": e.MarkedAt.Format(time.RFC3339),
		"late_days": e.LateDays,
		"fines":     e.Fines,
	}
}

// NewLateEventUndoneEvent creates a new LateEventUndoneEvent.
func NewLateEventUndoneEvent(rollNo, eventID string, markedAt time.Time, lateDays, fines int) LateEventUndoneEvent {
	return LateEventUndoneEvent{
		BaseEvent: NewBaseEvent(EventLateEventUndone, rollNo),
		RollNo:    rollNo,
		EventID:   eventID,
		MarkedAt:  markedAt,
		LateDays:  lateDays,
		Fines:     fines,
	}
}

// LateEventsRemovedEvent is emitted after an audited correction.
type LateEventsRemovedEvent struct {
	BaseEvent
	RollNo        string   `json:"roll_no"`
	RemovedCount  int      `json:"removed_count"`
	FineReduction int      `json:"fine_reduction"`
	AuditRecordID string   `json:"audit_record_id"`
	AuthorizedBy  string   `json:"authorized_by"`
	RemovedDates  []string `json:"removed_dates"`
}

// Payload implements Event interface.
func (e LateEventsRemovedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"roll_no":         e.RollNo,
		"removed_count":   e.RemovedCount,
		"fine_reduction":  e.FineReduction,
		"audit_record_id": e.AuditRecordID,
		"authorized_by":   e.AuthorizedBy,
		"removed_dates":   e.RemovedDates,
	}
}

// NewLateEventsRemovedEvent creates a new LateEventsRemovedEvent.
func NewLateEventsRemovedEvent(rollNo string, removed, fineReduction int, auditRecordID, authorizedBy string, dates []string) LateEventsRemovedEvent {
	return LateEventsRemovedEvent{
		BaseEvent:     NewBaseEvent(EventLateEventsRemoved, rollNo),
		RollNo:        rollNo,
		RemovedCount:  removed,
		FineReduction: fineReduction,
		AuditRecordID: auditRecordID,
		AuthorizedBy:  authorizedBy,
		RemovedDates:  dates,
	}
}

// FineSettledEvent is emitted when a payment is recorded against a ledger.
type FineSettledEvent struct {
	BaseEvent
	RollNo      string `json:"roll_no"`
	Amount      int    `json:"amount"`
	PaidBy      string `json:"paid_by"`
	Outstanding int    `json:"outstanding"`
}

// Payload implements Event interface.
func (e FineSettledEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"roll_no":     e.RollNo,
		"amount":      e.Amount,
		"paid_by":     e.PaidBy,
		"outstanding": e.Outstanding,
	}
}

// NewFineSettledEvent creates a new FineSettledEvent.
func NewFineSettledEvent(rollNo string, amount int, paidBy string, outstanding int) FineSettledEvent {
	return FineSettledEvent{
		BaseEvent:   NewBaseEvent(EventFineSettled, rollNo),
		RollNo:      rollNo,
		Amount:      amount,
		PaidBy:      paidBy,
		Outstanding: outstanding,
	}
}

// FacultyAlertRaisedEvent is emitted when cumulative lateness first crosses
// the faculty notification threshold.
type FacultyAlertRaisedEvent struct {
	BaseEvent
	RollNo   string `json:"roll_no"`
	Name     string `json:"name"`
	Branch   string `json:"branch"`
	Section  string `json:"section"`
	Year     int    `json:"year"`
	LateDays int    `json:"late_days"`
	Fines    int    `json:"fines"`
	Status   string `json:"status"`
}

// Payload implements Event interface.
func (e FacultyAlertRaisedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"roll_no":   e.RollNo,
		"name":      e.Name,
		"branch":    e.Branch,
		"section":   e.Section,
		"year":      e.Year,
		"late_days": e.LateDays,
		"fines":     e.Fines,
		"status":    e.Status,
	}
}

// NewFacultyAlertRaisedEvent creates a new FacultyAlertRaisedEvent.
func NewFacultyAlertRaisedEvent(rollNo, name, branch, section string, year, lateDays, fines int, status string) FacultyAlertRaisedEvent {
	return FacultyAlertRaisedEvent{
		BaseEvent: NewBaseEvent(EventFacultyAlertRaised, rollNo),
		RollNo:    rollNo,
		Name:      name,
		Branch:    branch,
		Section:   section,
		Year:      year,
		LateDays:  lateDays,
		Fines:     fines,
		Status:    status,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Academic Period Events
// ═══════════════════════════════════════════════════════════════════════════

// SemesterPromotedEvent is emitted for each student advanced by a promotion run.
type SemesterPromotedEvent struct {
	BaseEvent
	RollNo       string `json:"roll_no"`
	RunID        string `json:"run_id"`
	From         string `json:"from"`
	To           string `json:"to"`
	ClearedDays  int    `json:"cleared_days"`
	ClearedFines int    `json:"cleared_fines"`
}

// Payload implements Event interface.
func (e SemesterPromotedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"roll_no":       e.RollNo,
		"run_id":        e.RunID,
		"from":          e.From,
		"to":            e.To,
		"cleared_days":  e.ClearedDays,
		"cleared_fines": e.ClearedFines,
	}
}

// NewSemesterPromotedEvent creates a new SemesterPromotedEvent.
func NewSemesterPromotedEvent(rollNo, runID, from, to string, clearedDays, clearedFines int) SemesterPromotedEvent {
	return SemesterPromotedEvent{
		BaseEvent:    NewBaseEvent(EventSemesterPromoted, rollNo),
		RollNo:       rollNo,
		RunID:        runID,
		From:         from,
		To:           to,
		ClearedDays:  clearedDays,
		ClearedFines: clearedFines,
	}
}

// StudentGraduatedEvent is emitted when promotion closes a final-semester ledger.
type StudentGraduatedEvent struct {
	BaseEvent
	RollNo string `json:"roll_no"`
	RunID  string `json:"run_id"`
	Branch string `json:"branch"`
}

// Payload implements Event interface.
func (e StudentGraduatedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"roll_no": e.RollNo,
		"run_id":  e.RunID,
		"branch":  e.Branch,
	}
}

// NewStudentGraduatedEvent creates a new StudentGraduatedEvent.
func NewStudentGraduatedEvent(rollNo, runID, branch string) StudentGraduatedEvent {
	return StudentGraduatedEvent{
		BaseEvent: NewBaseEvent(EventStudentGraduated, rollNo),
		RollNo:    rollNo,
		RunID:     runID,
		Branch:    branch,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Event Envelope (for serialization and transport)
// ═══════════════════════════════════════════════════════════════════════════

// EventEnvelope wraps an event for transport/storage.
type EventEnvelope struct {
	ID            string          `json:"id"`
	Type          EventType       `json:"type"`
	AggregateID   string          `json:"aggregate_id"`
	Timestamp     time.Time       `json:"timestamp"`
	Version       int             `json:"version"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	// Publish sends an event to subscribers.
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	// Subscribe registers a handler for an event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for all events.
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}

// NopPublisher discards events. Useful when no bus is wired.
type NopPublisher struct{}

// Publish implements EventPublisher.
func (NopPublisher) Publish(Event) error { return nil }
