// Package audit содержит неизменяемый журнал исправлений ledger'ов.
// Записи только добавляются: никогда не обновляются и не удаляются.
// Каждая запись хранит хэш предыдущей, образуя цепочку blake2b.
package audit

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/latetrack/late-ledger/internal/domain/shared"
	"github.com/latetrack/late-ledger/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// VALUE OBJECTS
// ══════════════════════════════════════════════════════════════════════════════

// Snapshot - производные поля ledger'а до или после исправления.
type Snapshot struct {
	LateDays int    `json:"late_days"`
	Fines    int    `json:"fines"`
	Status   string `json:"status"`
}

// RequestMeta - сведения о запросе, выполнившем исправление.
type RequestMeta struct {
	IPAddress string
	UserAgent string
}

// ══════════════════════════════════════════════════════════════════════════════
// MAIN ENTITY: RECORD
// ══════════════════════════════════════════════════════════════════════════════

// Record - неизменяемая запись об исправлении ledger'а.
type Record struct {
	// ID - уникальный идентификатор записи (UUID).
	ID string `json:"id"`

	// Sequence - позиция в цепочке, начиная с 1. Назначается при добавлении.
	Sequence int64 `json:"sequence"`

	// Timestamp - время исправления (UTC, микросекунды).
	Timestamp time.Time `json:"timestamp"`

	// PerformedBy - кто выполнил исправление.
	PerformedBy string `json:"performed_by"`

	// TargetRollNo / TargetName - чей ledger исправлен.
	TargetRollNo string `json:"target_roll_no"`
	TargetName   string `json:"target_name"`

	// RecordsRemoved - сколько событий удалено (может быть 0).
	RecordsRemoved int `json:"records_removed"`

	// RemovedDates - запрошенные даты (YYYY-MM-DD).
	RemovedDates []string `json:"removed_dates"`

	// RemovedEventIDs - идентификаторы фактически удалённых событий.
	RemovedEventIDs []string `json:"removed_event_ids"`

	Before Snapshot `json:"before"`
	After  Snapshot `json:"after"`

	// Reason - обоснование исправления.
	Reason string `json:"reason"`

	// AuthorizedBy - кто разрешил исправление.
	AuthorizedBy string `json:"authorized_by"`

	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`

	// PrevHash - хэш предыдущей записи (пустая строка для первой).
	PrevHash string `json:"prev_hash"`

	// Hash - blake2b-256 канонического представления записи вместе с PrevHash.
	Hash string `json:"hash"`
}

// NewRemovalParams содержит параметры записи об удалении событий.
type NewRemovalParams struct {
	PerformedBy     string
	TargetRollNo    shared.RollNo
	TargetName      string
	RemovedDates    []string
	RemovedEventIDs []string
	Before          Snapshot
	After           Snapshot
	Reason          string
	AuthorizedBy    string
	Request         RequestMeta
	At              time.Time
}

// NewRemovalRecord создаёт запись об удалении. Sequence и хэши назначает
// репозиторий при добавлении в цепочку (см. Seal).
func NewRemovalRecord(p NewRemovalParams) (*Record, error) {
	if !p.TargetRollNo.IsValid() {
		return nil, shared.ErrInvalidIdentity
	}
	if strings.TrimSpace(p.AuthorizedBy) == "" {
		return nil, shared.ErrMissingAuthorizer
	}
	if strings.TrimSpace(p.Reason) == "" {
		return nil, shared.ErrReasonTooShort
	}

	at := p.At
	if at.IsZero() {
		at = time.Now()
	}

	performedBy := strings.TrimSpace(p.PerformedBy)
	if performedBy == "" {
		performedBy = strings.TrimSpace(p.AuthorizedBy)
	}

	return &Record{
		ID:              uuid.NewString(),
		Timestamp:       timeutil.Canonical(at),
		PerformedBy:     performedBy,
		TargetRollNo:    p.TargetRollNo.String(),
		TargetName:      p.TargetName,
		RecordsRemoved:  len(p.RemovedEventIDs),
		RemovedDates:    nonNil(p.RemovedDates),
		RemovedEventIDs: nonNil(p.RemovedEventIDs),
		Before:          p.Before,
		After:           p.After,
		Reason:          strings.TrimSpace(p.Reason),
		AuthorizedBy:    strings.TrimSpace(p.AuthorizedBy),
		IPAddress:       p.Request.IPAddress,
		UserAgent:       p.Request.UserAgent,
	}, nil
}

// FineReduction возвращает, на сколько исправление уменьшило штрафы.
func (r *Record) FineReduction() int {
	return r.Before.Fines - r.After.Fines
}

// IsSealed возвращает true, если запись уже включена в цепочку.
func (r *Record) IsSealed() bool {
	return r.Sequence > 0 && r.Hash != ""
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
