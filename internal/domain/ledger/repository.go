package ledger

import (
	"context"

	"github.com/latetrack/late-ledger/internal/domain/audit"
	"github.com/latetrack/late-ledger/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// Эти интерфейсы определяют контракт для работы с хранилищем данных.
// Реализации находятся в infrastructure/persistence.
// ══════════════════════════════════════════════════════════════════════════════

// Repository определяет операции с ledger'ами.
//
// Запись всегда условная: Save и SaveWithAudit сравнивают версию,
// прочитанную при загрузке, с версией в хранилище. Слепой перезаписи нет.
type Repository interface {
	// ─────────────────────────────────────────────────────────────────────────
	// CRUD Operations
	// ─────────────────────────────────────────────────────────────────────────

	// Create сохраняет новый ledger с версией 1.
	// Возвращает ErrStudentAlreadyExists, если студент уже существует.
	Create(ctx context.Context, l *Ledger) error

	// Get возвращает ledger по номеру студента.
	// Возвращает ErrStudentNotFound, если студент не найден.
	Get(ctx context.Context, rollNo shared.RollNo) (*Ledger, error)

	// Save записывает ledger, если версия в хранилище совпадает с l.Version().
	// При успехе вызывает l.MarkPersisted с новой версией.
	// Возвращает ErrStaleLedgerVersion при конфликте версий.
	Save(ctx context.Context, l *Ledger) error

	// SaveWithAudit атомарно выполняет Save и добавляет запись журнала.
	// Либо применяется и то и другое, либо ничего.
	SaveWithAudit(ctx context.Context, l *Ledger, rec *audit.Record) error

	// ─────────────────────────────────────────────────────────────────────────
	// Bulk Operations
	// ─────────────────────────────────────────────────────────────────────────

	// List возвращает ledger'ы по фильтру, упорядоченные по номеру студента.
	List(ctx context.Context, filter Filter, opts ListOptions) ([]*Ledger, error)

	// Count возвращает количество ledger'ов по фильтру.
	Count(ctx context.Context, filter Filter) (int, error)

	// RollNos возвращает номера всех студентов по фильтру.
	// Используется массовыми операциями, которые меняют поля фильтра.
	RollNos(ctx context.Context, filter Filter) ([]shared.RollNo, error)
}

// Filter ограничивает выборку ledger'ов. Пустые поля не фильтруют.
type Filter struct {
	Year    int
	Branch  shared.Branch
	Section string

	// IncludeGraduated - включать выпускников.
	IncludeGraduated bool

	// WithOutstandingFines - только с непогашенными штрафами.
	WithOutstandingFines bool
}

// Matches проверяет ledger на соответствие фильтру.
func (f Filter) Matches(l *Ledger) bool {
	id := l.Identity()
	switch {
	case f.Year != 0 && id.Year != f.Year:
		return false
	case f.Branch != "" && id.Branch != f.Branch:
		return false
	case f.Section != "" && id.Section != f.Section:
		return false
	case !f.IncludeGraduated && l.Graduated():
		return false
	case f.WithOutstandingFines && l.Outstanding() == 0:
		return false
	}
	return true
}

// ListOptions содержит параметры пагинации.
type ListOptions struct {
	Offset int
	Limit  int
}

// DefaultListOptions возвращает параметры по умолчанию.
func DefaultListOptions() ListOptions {
	return ListOptions{Offset: 0, Limit: 50}
}

// ══════════════════════════════════════════════════════════════════════════════
// SUPPORTING PORTS
// ══════════════════════════════════════════════════════════════════════════════

// Locker - необязательная сериализация писателей одного ledger'а поверх CAS.
type Locker interface {
	// Lock захватывает блокировку студента. Возвращает ErrLedgerLocked,
	// если блокировку не удалось получить до истечения ctx.
	Lock(ctx context.Context, rollNo shared.RollNo) (unlock func(context.Context) error, err error)
}

// NoopLocker ничего не блокирует; корректность обеспечивает CAS.
type NoopLocker struct{}

// Lock implements Locker.
func (NoopLocker) Lock(context.Context, shared.RollNo) (func(context.Context) error, error) {
	return func(context.Context) error { return nil }, nil
}

// SnapshotCache - кэш read-модели ledger'а.
type SnapshotCache interface {
	// GetSnapshot возвращает (nil, nil) при промахе.
	GetSnapshot(ctx context.Context, rollNo shared.RollNo) (*Snapshot, error)

	// SetSnapshot молча пропускает снимок, версия которого ниже последней
	// инвалидации или уже закэшированной версии.
	SetSnapshot(ctx context.Context, snap *Snapshot) error

	// Invalidate удаляет снимок и запрещает заполнение версиями ниже version.
	Invalidate(ctx context.Context, rollNo shared.RollNo, version int64) error
}
