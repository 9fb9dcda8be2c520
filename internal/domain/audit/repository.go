package audit

import (
	"context"

	"github.com/latetrack/late-ledger/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// Журнал только дополняется. Методов Update/Delete нет намеренно.
// ══════════════════════════════════════════════════════════════════════════════

// Repository определяет операции с журналом исправлений.
type Repository interface {
	// Append запечатывает запись (Seal) после последней записи цепочки и
	// сохраняет её. Добавления сериализуются.
	Append(ctx context.Context, rec *Record) error

	// Get возвращает запись по ID.
	// Возвращает ErrAuditRecordNotFound, если запись не найдена.
	Get(ctx context.Context, id string) (*Record, error)

	// List возвращает записи, новые первыми.
	List(ctx context.Context, filter Filter, page shared.Pagination) ([]*Record, error)

	// Count возвращает количество записей, подходящих под фильтр.
	Count(ctx context.Context, filter Filter) (int, error)

	// Range возвращает до limit записей с Sequence > afterSequence
	// в порядке возрастания. Используется для проверки цепочки.
	Range(ctx context.Context, afterSequence int64, limit int) ([]*Record, error)
}

// Filter ограничивает выборку записей.
type Filter struct {
	// RollNo - только исправления этого студента (пусто - все).
	RollNo shared.RollNo

	// AuthorizedBy - только исправления, разрешённые этим лицом.
	AuthorizedBy string
}
