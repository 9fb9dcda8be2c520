// Package query contains read operations (CQRS - Queries).
package query

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/latetrack/late-ledger/internal/domain/ledger"
	"github.com/latetrack/late-ledger/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET LEDGER QUERY
// Возвращает полное состояние ledger'а студента: события с порядковыми
// номерами и штрафами, историю штрафов, оплаты и статус.
// Чтение идёт через кэш снимков; запись в кэш - best effort.
// ══════════════════════════════════════════════════════════════════════════════

// GetLedgerQuery содержит параметры запроса.
type GetLedgerQuery struct {
	// RollNo - номер студента.
	RollNo string

	// SkipCache - читать напрямую из хранилища.
	SkipCache bool
}

// Validate проверяет корректность параметров запроса.
func (q GetLedgerQuery) Validate() error {
	if _, err := shared.NewRollNo(q.RollNo); err != nil {
		return err
	}
	return nil
}

// GetLedgerResult - результат запроса.
type GetLedgerResult struct {
	Snapshot *ledger.Snapshot

	// FromCache - снимок получен из кэша.
	FromCache bool
}

// GetLedgerHandler обрабатывает запрос.
type GetLedgerHandler struct {
	ledgers ledger.Repository
	cache   ledger.SnapshotCache
	logger  *slog.Logger
}

// NewGetLedgerHandler создаёт обработчик. cache может быть nil.
func NewGetLedgerHandler(ledgers ledger.Repository, cache ledger.SnapshotCache, logger *slog.Logger) *GetLedgerHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &GetLedgerHandler{
		ledgers: ledgers,
		cache:   cache,
		logger:  logger,
	}
}

// Handle выполняет запрос.
func (h *GetLedgerHandler) Handle(ctx context.Context, q GetLedgerQuery) (*GetLedgerResult, error) {
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("get_ledger: %w", err)
	}
	rollNo, _ := shared.NewRollNo(q.RollNo)

	if h.cache != nil && !q.SkipCache {
		snap, err := h.cache.GetSnapshot(ctx, rollNo)
		if err != nil {
			h.logger.Warn("snapshot cache read failed", "roll_no", rollNo, "error", err)
		} else if snap != nil {
			return &GetLedgerResult{Snapshot: snap, FromCache: true}, nil
		}
	}

	l, err := h.ledgers.Get(ctx, rollNo)
	if err != nil {
		return nil, fmt.Errorf("get_ledger: %w", err)
	}
	snap := l.Snapshot()

	if h.cache != nil {
		if err := h.cache.SetSnapshot(ctx, snap); err != nil {
			h.logger.Warn("snapshot cache write failed", "roll_no", rollNo, "error", err)
		}
	}

	return &GetLedgerResult{Snapshot: snap}, nil
}
