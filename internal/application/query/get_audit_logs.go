package query

import (
	"context"
	"fmt"
	"strings"

	"github.com/latetrack/late-ledger/internal/domain/audit"
	"github.com/latetrack/late-ledger/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET AUDIT LOGS QUERY
// Журнал исправлений, новые записи первыми.
// ══════════════════════════════════════════════════════════════════════════════

// GetAuditLogsQuery содержит параметры запроса.
type GetAuditLogsQuery struct {
	// RollNo - только записи по этому студенту (пусто = все).
	RollNo string

	// AuthorizedBy - только записи, разрешённые этим лицом.
	AuthorizedBy string

	Page     int
	PageSize int
}

// Validate проверяет корректность параметров запроса.
func (q GetAuditLogsQuery) Validate() error {
	if q.RollNo != "" {
		if _, err := shared.NewRollNo(q.RollNo); err != nil {
			return err
		}
	}
	return nil
}

// GetAuditLogsResult - результат запроса.
type GetAuditLogsResult struct {
	Records  []*audit.Record `json:"records"`
	Total    int             `json:"total"`
	Page     int             `json:"page"`
	PageSize int             `json:"page_size"`
}

// GetAuditLogsHandler обрабатывает запрос.
type GetAuditLogsHandler struct {
	records audit.Repository
}

// NewGetAuditLogsHandler создаёт обработчик.
func NewGetAuditLogsHandler(records audit.Repository) *GetAuditLogsHandler {
	return &GetAuditLogsHandler{records: records}
}

// Handle выполняет запрос.
func (h *GetAuditLogsHandler) Handle(ctx context.Context, q GetAuditLogsQuery) (*GetAuditLogsResult, error) {
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("get_audit_logs: %w", err)
	}

	filter := audit.Filter{AuthorizedBy: strings.TrimSpace(q.AuthorizedBy)}
	if q.RollNo != "" {
		filter.RollNo, _ = shared.NewRollNo(q.RollNo)
	}
	page := shared.NewPagination(q.Page, q.PageSize)

	total, err := h.records.Count(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("get_audit_logs: count: %w", err)
	}
	records, err := h.records.List(ctx, filter, page)
	if err != nil {
		return nil, fmt.Errorf("get_audit_logs: list: %w", err)
	}

	return &GetAuditLogsResult{
		Records:  records,
		Total:    total,
		Page:     page.Page,
		PageSize: page.Limit(),
	}, nil
}
