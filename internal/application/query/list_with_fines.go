package query

import (
	"context"
	"fmt"

	"github.com/latetrack/late-ledger/internal/domain/ledger"
	"github.com/latetrack/late-ledger/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// LIST OUTSTANDING FINES QUERY
// Список студентов с непогашенными штрафами (для бухгалтерии и экспорта).
// Суммы берутся из того же пересчёта, что и в командах: второй реализации
// расписания штрафов нет.
// ══════════════════════════════════════════════════════════════════════════════

// ListOutstandingFinesQuery содержит параметры запроса.
type ListOutstandingFinesQuery struct {
	// Year - курс (0 = все).
	Year int

	// Branch - направление (пусто = все).
	Branch string

	// Section - группа (пусто = все).
	Section string

	Page     int
	PageSize int
}

// Validate проверяет корректность параметров запроса.
func (q ListOutstandingFinesQuery) Validate() error {
	if q.Year < 0 || q.Year > shared.FinalYear {
		return shared.NewDomainError("ledger", "ListOutstandingFines", shared.ErrValidation,
			fmt.Sprintf("year must be between 0 and %d", shared.FinalYear))
	}
	if q.Branch != "" {
		if _, err := shared.NewBranch(q.Branch); err != nil {
			return err
		}
	}
	return nil
}

// OutstandingFineDTO - строка списка.
type OutstandingFineDTO struct {
	RollNo      string        `json:"roll_no"`
	Name        string        `json:"name"`
	Year        int           `json:"year"`
	Semester    int           `json:"semester"`
	Branch      string        `json:"branch"`
	Section     string        `json:"section"`
	LateDays    int           `json:"late_days"`
	Fines       int           `json:"fines"`
	FinesPaid   int           `json:"fines_paid"`
	Outstanding int           `json:"outstanding"`
	Status      ledger.Status `json:"status"`
}

// ListOutstandingFinesResult - результат запроса.
type ListOutstandingFinesResult struct {
	Items      []OutstandingFineDTO `json:"items"`
	Total      int                  `json:"total"`
	Page       int                  `json:"page"`
	PageSize   int                  `json:"page_size"`
	PageAmount int                  `json:"page_amount"`
}

// ListOutstandingFinesHandler обрабатывает запрос.
type ListOutstandingFinesHandler struct {
	ledgers ledger.Repository
}

// NewListOutstandingFinesHandler создаёт обработчик.
func NewListOutstandingFinesHandler(ledgers ledger.Repository) *ListOutstandingFinesHandler {
	return &ListOutstandingFinesHandler{ledgers: ledgers}
}

// Handle выполняет запрос.
func (h *ListOutstandingFinesHandler) Handle(ctx context.Context, q ListOutstandingFinesQuery) (*ListOutstandingFinesResult, error) {
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("list_outstanding_fines: %w", err)
	}

	filter := ledger.Filter{Year: q.Year, WithOutstandingFines: true}
	if q.Branch != "" {
		filter.Branch, _ = shared.NewBranch(q.Branch)
	}
	if q.Section != "" {
		section, err := shared.NormalizeSection(q.Section)
		if err != nil {
			return nil, fmt.Errorf("list_outstanding_fines: %w", err)
		}
		filter.Section = section
	}

	page := shared.NewPagination(q.Page, q.PageSize)

	total, err := h.ledgers.Count(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list_outstanding_fines: count: %w", err)
	}

	ledgers, err := h.ledgers.List(ctx, filter, ledger.ListOptions{Offset: page.Offset(), Limit: page.Limit()})
	if err != nil {
		return nil, fmt.Errorf("list_outstanding_fines: list: %w", err)
	}

	result := &ListOutstandingFinesResult{
		Items:    make([]OutstandingFineDTO, 0, len(ledgers)),
		Total:    total,
		Page:     page.Page,
		PageSize: page.Limit(),
	}
	for _, l := range ledgers {
		id := l.Identity()
		result.Items = append(result.Items, OutstandingFineDTO{
			RollNo:      id.RollNo.String(),
			Name:        id.Name,
			Year:        id.Year,
			Semester:    id.Semester,
			Branch:      id.Branch.String(),
			Section:     id.Section,
			LateDays:    l.LateDays(),
			Fines:       l.Fines(),
			FinesPaid:   l.FinesPaid(),
			Outstanding: l.Outstanding(),
			Status:      l.Status(),
		})
		result.PageAmount += l.Outstanding()
	}

	return result, nil
}
