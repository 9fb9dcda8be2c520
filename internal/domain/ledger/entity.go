package ledger

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/latetrack/late-ledger/internal/domain/audit"
	"github.com/latetrack/late-ledger/internal/domain/shared"
	"github.com/latetrack/late-ledger/pkg/timeutil"
)

// UndoWindow - окно, в течение которого отметку можно отменить.
const UndoWindow = 10 * time.Minute

// ══════════════════════════════════════════════════════════════════════════════
// VALUE OBJECTS
// ══════════════════════════════════════════════════════════════════════════════

// LateEvent - одна зафиксированная отметка об опоздании.
// Атрибуция (кто отметил) никогда не изменяется.
type LateEvent struct {
	ID            string    `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	MarkedByName  string    `json:"marked_by_name"`
	MarkedByEmail string    `json:"marked_by_email"`
	Reason        string    `json:"reason,omitempty"`
}

// NewLateEvent создаёт событие с новым ID. Время нормализуется до UTC
// с точностью до микросекунд.
func NewLateEvent(at time.Time, by shared.Actor, reason string) LateEvent {
	return LateEvent{
		ID:            uuid.NewString(),
		Timestamp:     timeutil.Canonical(at),
		MarkedByName:  strings.TrimSpace(by.Name),
		MarkedByEmail: strings.TrimSpace(by.Email),
		Reason:        strings.TrimSpace(reason),
	}
}

// Payment - оплата штрафа. Погашение штрафов отделено от их начисления.
type Payment struct {
	ID     string    `json:"id"`
	Amount int       `json:"amount"`
	PaidAt time.Time `json:"paid_at"`
	PaidBy string    `json:"paid_by"`
}

// FineEntry - строка истории штрафов, производная от событий и оплат.
type FineEntry struct {
	EventID string    `json:"event_id"`
	Date    time.Time `json:"date"`
	Ordinal int       `json:"ordinal"`
	Amount  int       `json:"amount"`
	Reason  string    `json:"reason"`
	Paid    bool      `json:"paid"`
}

// Identity - идентификационные поля студента. Меняются только
// регистрацией и переводом на следующий семестр.
type Identity struct {
	RollNo   shared.RollNo `json:"roll_no"`
	Name     string        `json:"name"`
	Year     int           `json:"year"`
	Semester int           `json:"semester"`
	Branch   shared.Branch `json:"branch"`
	Section  string        `json:"section"`
}

// NewIdentity нормализует и проверяет идентификационные поля.
// semester = 0 означает первый семестр указанного курса.
func NewIdentity(rollNo, name string, year, semester int, branch, section string) (Identity, error) {
	r, err := shared.NewRollNo(rollNo)
	if err != nil {
		return Identity{}, shared.Detail(shared.ErrInvalidIdentity, "roll number %q", rollNo)
	}

	name = strings.TrimSpace(name)
	if name == "" || len(name) > 100 {
		return Identity{}, shared.Detail(shared.ErrInvalidIdentity, "name must be 1-100 chars")
	}

	period, err := shared.NewAcademicPeriod(year, semester)
	if err != nil {
		return Identity{}, shared.Detail(shared.ErrInvalidIdentity, "%v", err)
	}

	b, err := shared.NewBranch(branch)
	if err != nil {
		return Identity{}, shared.Detail(shared.ErrInvalidIdentity, "branch %q", branch)
	}

	sec, err := shared.NormalizeSection(section)
	if err != nil {
		return Identity{}, shared.Detail(shared.ErrInvalidIdentity, "section %q", section)
	}

	return Identity{
		RollNo:   r,
		Name:     name,
		Year:     period.Year,
		Semester: period.Semester,
		Branch:   b,
		Section:  sec,
	}, nil
}

// Period возвращает текущий учебный период.
func (i Identity) Period() shared.AcademicPeriod {
	return shared.AcademicPeriod{Year: i.Year, Semester: i.Semester}
}

// ══════════════════════════════════════════════════════════════════════════════
// MAIN ENTITY: LEDGER
// ══════════════════════════════════════════════════════════════════════════════

// Ledger - агрегат опозданий и штрафов одного студента.
//
// Источник истины - упорядоченный список событий. Все производные поля
// (lateDays, excuseDaysUsed, fines, status, штраф каждого события, история
// штрафов) неэкспортируемые и получаются только через Recompute.
type Ledger struct {
	identity         Identity
	graduated        bool
	events           []LateEvent
	payments         []Payment
	lastPromotionRun string
	version          int64
	createdAt        time.Time
	updatedAt        time.Time

	policy      Policy
	tally       Tally
	fineHistory []FineEntry

	// stored - производные значения в том виде, в каком они лежат в хранилище.
	stored *Tally
}

// New создаёт пустой ledger для студента.
func New(identity Identity, policy Policy, now time.Time) (*Ledger, error) {
	if !identity.RollNo.IsValid() || !identity.Branch.IsValid() || !identity.Period().IsValid() {
		return nil, shared.ErrInvalidIdentity
	}
	now = timeutil.Canonical(now)

	l := &Ledger{
		identity:  identity,
		policy:    policy,
		createdAt: now,
		updatedAt: now,
	}
	if err := l.refresh(); err != nil {
		return nil, err
	}
	return l, nil
}

// State - форма ledger'а для хранилища.
type State struct {
	Identity         Identity
	Graduated        bool
	Events           []LateEvent
	Payments         []Payment
	LastPromotionRun string
	Version          int64
	CreatedAt        time.Time
	UpdatedAt        time.Time

	// Stored - производные колонки, прочитанные из хранилища (может быть nil).
	Stored *Tally
}

// Restore восстанавливает ledger из хранилища и пересчитывает производные поля.
// Возвращает ErrMalformedEventList, если сохранённые события не упорядочены.
func Restore(s State, policy Policy) (*Ledger, error) {
	l := &Ledger{
		identity:         s.Identity,
		graduated:        s.Graduated,
		events:           append([]LateEvent(nil), s.Events...),
		payments:         append([]Payment(nil), s.Payments...),
		lastPromotionRun: s.LastPromotionRun,
		version:          s.Version,
		createdAt:        s.CreatedAt,
		updatedAt:        s.UpdatedAt,
		policy:           policy,
	}
	if s.Stored != nil {
		stored := *s.Stored
		l.stored = &stored
	}
	if err := l.refresh(); err != nil {
		return nil, err
	}
	return l, nil
}

// State возвращает копию для записи в хранилище. Stored содержит
// значения, которые будут записаны.
func (l *Ledger) State() State {
	t := l.effectiveTally()
	return State{
		Identity:         l.identity,
		Graduated:        l.graduated,
		Events:           l.Events(),
		Payments:         l.Payments(),
		LastPromotionRun: l.lastPromotionRun,
		Version:          l.version,
		CreatedAt:        l.createdAt,
		UpdatedAt:        l.updatedAt,
		Stored:           &t,
	}
}

// MarkPersisted фиксирует новую версию после успешной записи.
func (l *Ledger) MarkPersisted(version int64) {
	l.version = version
	t := l.effectiveTally()
	l.stored = &t
}

// ══════════════════════════════════════════════════════════════════════════════
// ACCESSORS
// ══════════════════════════════════════════════════════════════════════════════

func (l *Ledger) Identity() Identity { return l.identity }
func (l *Ledger) RollNo() shared.RollNo { return l.identity.RollNo }
func (l *Ledger) Name() string { return l.identity.Name }
func (l *Ledger) Period() shared.AcademicPeriod { return l.identity.Period() }
func (l *Ledger) Graduated() bool { return l.graduated }
func (l *Ledger) Version() int64 { return l.version }
func (l *Ledger) CreatedAt() time.Time { return l.createdAt }
func (l *Ledger) UpdatedAt() time.Time { return l.updatedAt }
func (l *Ledger) LastPromotionRun() string { return l.lastPromotionRun }
func (l *Ledger) Policy() Policy { return l.policy }
func (l *Ledger) LateDays() int { return l.tally.LateDays }
func (l *Ledger) ExcuseDaysUsed() int { return l.tally.ExcuseDaysUsed }
func (l *Ledger) Fines() int { return l.tally.Fines }
func (l *Ledger) GracePeriodUsed() int { return l.tally.GracePeriodUsed }
func (l *Ledger) AlertFaculty() bool { return l.tally.AlertFaculty }

// Status возвращает текущий статус. graduated перекрывает результат классификатора.
func (l *Ledger) Status() Status {
	if l.graduated {
		return StatusGraduated
	}
	return l.tally.Status
}

// Events возвращает копию списка событий.
func (l *Ledger) Events() []LateEvent {
	return append([]LateEvent(nil), l.events...)
}

// Payments возвращает копию списка оплат.
func (l *Ledger) Payments() []Payment {
	return append([]Payment(nil), l.payments...)
}

// FineHistory возвращает копию истории штрафов.
func (l *Ledger) FineHistory() []FineEntry {
	return append([]FineEntry(nil), l.fineHistory...)
}

// Tally возвращает копию производных значений со статусом с учётом выпуска.
func (l *Ledger) Tally() Tally {
	return l.effectiveTally()
}

// FinesPaid возвращает сумму всех оплат.
func (l *Ledger) FinesPaid() int {
	total := 0
	for _, p := range l.payments {
		total += p.Amount
	}
	return total
}

// Outstanding возвращает непогашенную сумму штрафов.
func (l *Ledger) Outstanding() int {
	return max(0, l.tally.Fines-l.FinesPaid())
}

// Credit возвращает переплату (оплаты сверх текущих штрафов после исправлений).
func (l *Ledger) Credit() int {
	return max(0, l.FinesPaid()-l.tally.Fines)
}

// AuditSnapshot возвращает поля для записи журнала исправлений.
func (l *Ledger) AuditSnapshot() audit.Snapshot {
	return audit.Snapshot{
		LateDays: l.tally.LateDays,
		Fines:    l.tally.Fines,
		Status:   l.Status().String(),
	}
}

// Drifted возвращает true, если значения в хранилище расходятся с пересчётом.
func (l *Ledger) Drifted() bool {
	return l.stored != nil && !l.stored.Equal(l.effectiveTally())
}

// PromotedBy возвращает true, если ledger уже переведён указанным запуском.
func (l *Ledger) PromotedBy(runID string) bool {
	return runID != "" && l.lastPromotionRun == runID
}

// FindEvent ищет событие по времени, приведённому к точности хранения
// (timeutil.Canonical), так что подходит и исходное время вызывающего.
func (l *Ledger) FindEvent(at time.Time) (LateEvent, int, bool) {
	at = timeutil.Canonical(at)
	for i, ev := range l.events {
		if ev.Timestamp.Equal(at) {
			return ev, i + 1, true
		}
	}
	return LateEvent{}, 0, false
}

// ══════════════════════════════════════════════════════════════════════════════
// DOMAIN METHODS
// ══════════════════════════════════════════════════════════════════════════════

// AppendOutcome - результат добавления события.
type AppendOutcome struct {
	Event       LateEvent
	Ordinal     int
	Fine        int
	AlertRaised bool
}

// AppendEvent добавляет событие в конец списка и пересчитывает ledger.
// guard (может быть nil) вызывается непосредственно перед добавлением.
func (l *Ledger) AppendEvent(ev LateEvent, guard SameDayGuard, now time.Time) (AppendOutcome, error) {
	if l.graduated {
		return AppendOutcome{}, shared.ErrAlreadyGraduated
	}
	if ev.Timestamp.IsZero() {
		return AppendOutcome{}, shared.Detail(shared.ErrMalformedEventList, "event has no timestamp")
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	ev.Timestamp = timeutil.Canonical(ev.Timestamp)

	if n := len(l.events); n > 0 && ev.Timestamp.Before(l.events[n-1].Timestamp) {
		return AppendOutcome{}, shared.Detail(shared.ErrNonChronologicalEvent,
			"%s is before %s", ev.Timestamp.Format(timeutil.FormatTimestamp),
			l.events[n-1].Timestamp.Format(timeutil.FormatTimestamp))
	}

	if guard != nil {
		if err := guard(l.Events(), ev.Timestamp); err != nil {
			return AppendOutcome{}, err
		}
	}

	alertBefore := l.tally.AlertFaculty
	if err := l.replaceEvents(append(l.Events(), ev), now); err != nil {
		return AppendOutcome{}, err
	}

	ordinal := len(l.events)
	return AppendOutcome{
		Event:       ev,
		Ordinal:     ordinal,
		Fine:        l.tally.PerEventFine[ordinal-1],
		AlertRaised: !alertBefore && l.tally.AlertFaculty,
	}, nil
}

// UndoEvent удаляет ровно одно событие с указанным временем, если с момента
// отметки прошло меньше UndoWindow.
func (l *Ledger) UndoEvent(at time.Time, now time.Time) (LateEvent, error) {
	ev, ordinal, ok := l.FindEvent(at)
	if !ok {
		return LateEvent{}, shared.ErrEventNotFound
	}
	if now.Sub(ev.Timestamp) >= UndoWindow {
		return LateEvent{}, shared.Detail(shared.ErrUndoWindowExpired,
			"event marked %s ago", now.Sub(ev.Timestamp).Truncate(time.Second))
	}

	events := l.Events()
	events = append(events[:ordinal-1], events[ordinal:]...)
	if err := l.replaceEvents(events, now); err != nil {
		return LateEvent{}, err
	}
	return ev, nil
}

// Removal - результат удаления событий по датам.
type Removal struct {
	Removed       []LateEvent
	Before        audit.Snapshot
	After         audit.Snapshot
	FineReduction int
}

// RemoveOnDates удаляет все события, чья локальная дата совпадает с одной
// из days. Оставшиеся события пересчитываются с новыми порядковыми номерами.
// Отсутствие совпадений не ошибка.
func (l *Ledger) RemoveOnDates(days []time.Time, cal timeutil.Calendar, now time.Time) (Removal, error) {
	r := Removal{Before: l.AuditSnapshot()}

	kept := make([]LateEvent, 0, len(l.events))
	for _, ev := range l.events {
		if cal.OnAnyDay(ev.Timestamp, days) {
			r.Removed = append(r.Removed, ev)
			continue
		}
		kept = append(kept, ev)
	}

	if len(r.Removed) > 0 {
		if err := l.replaceEvents(kept, now); err != nil {
			return Removal{}, err
		}
	}

	r.After = l.AuditSnapshot()
	r.FineReduction = r.Before.Fines - r.After.Fines
	return r, nil
}

// Settlement - результат оплаты.
type Settlement struct {
	Payment     Payment
	EntriesPaid int
	Outstanding int
}

// Settle регистрирует оплату. Начисленные штрафы и статус не меняются:
// оплата только отмечает строки истории как оплаченные, старые первыми.
func (l *Ledger) Settle(amount int, paidBy string, now time.Time) (Settlement, error) {
	if amount <= 0 {
		return Settlement{}, shared.ErrInvalidPaymentAmount
	}
	outstanding := l.Outstanding()
	if outstanding == 0 {
		return Settlement{}, shared.ErrNoOutstandingFines
	}
	if amount > outstanding {
		return Settlement{}, shared.Detail(shared.ErrPaymentExceedsFines,
			"amount %d, outstanding %d", amount, outstanding)
	}
	if need := l.nextEntryDue(); amount < need {
		return Settlement{}, shared.Detail(shared.ErrPaymentTooSmall,
			"amount %d, oldest unpaid fine needs %d", amount, need)
	}

	paidBefore := l.paidEntries()
	p := Payment{
		ID:     uuid.NewString(),
		Amount: amount,
		PaidAt: timeutil.Canonical(now),
		PaidBy: strings.TrimSpace(paidBy),
	}
	l.payments = append(l.payments, p)
	l.fineHistory = buildFineHistory(l.events, l.tally.PerEventFine, l.FinesPaid())
	l.updatedAt = timeutil.Canonical(now)

	return Settlement{
		Payment:     p,
		EntriesPaid: l.paidEntries() - paidBefore,
		Outstanding: l.Outstanding(),
	}, nil
}

// Promotion - результат перевода на следующий период.
type Promotion struct {
	From         shared.AcademicPeriod
	To           shared.AcademicPeriod
	Graduated    bool
	YearChanged  bool
	ClearedDays  int
	ClearedFines int
}

// Promote переводит студента на следующий семестр (или выпускает после
// последнего) и безусловно очищает события, оплаты и историю штрафов.
// Идентификационные поля кроме периода сохраняются.
func (l *Ledger) Promote(runID string, now time.Time) (Promotion, error) {
	if l.graduated {
		return Promotion{}, shared.ErrAlreadyGraduated
	}
	if l.PromotedBy(runID) {
		return Promotion{}, shared.Detail(shared.ErrAlreadyPromoted, "run %s", runID)
	}

	from := l.identity.Period()
	p := Promotion{
		From:         from,
		To:           from,
		ClearedDays:  l.tally.LateDays,
		ClearedFines: l.tally.Fines,
	}

	if from.IsFinal() {
		p.Graduated = true
	} else {
		p.To = from.Next()
		p.YearChanged = p.To.Year != from.Year
	}

	l.payments = nil
	if err := l.replaceEvents(nil, now); err != nil {
		return Promotion{}, err
	}
	l.identity.Year = p.To.Year
	l.identity.Semester = p.To.Semester
	l.graduated = p.Graduated
	l.lastPromotionRun = runID

	return p, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// INTERNAL
// ══════════════════════════════════════════════════════════════════════════════

// replaceEvents пересчитывает кандидатный список и применяет его только при успехе.
func (l *Ledger) replaceEvents(events []LateEvent, now time.Time) error {
	tally, err := Recompute(events, l.policy)
	if err != nil {
		return err
	}
	l.events = events
	l.tally = tally
	l.fineHistory = buildFineHistory(l.events, l.tally.PerEventFine, l.FinesPaid())
	l.updatedAt = timeutil.Canonical(now)
	return nil
}

func (l *Ledger) refresh() error {
	tally, err := Recompute(l.events, l.policy)
	if err != nil {
		return err
	}
	l.tally = tally
	l.fineHistory = buildFineHistory(l.events, l.tally.PerEventFine, l.FinesPaid())
	return nil
}

func (l *Ledger) effectiveTally() Tally {
	t := l.tally
	t.PerEventFine = append([]int(nil), l.tally.PerEventFine...)
	if l.graduated {
		t.Status = StatusGraduated
	}
	return t
}

// nextEntryDue возвращает сумму, недостающую до полной оплаты
// старейшей неоплаченной строки.
func (l *Ledger) nextEntryDue() int {
	credit := l.FinesPaid()
	for _, e := range l.fineHistory {
		if credit >= e.Amount {
			credit -= e.Amount
			continue
		}
		return e.Amount - credit
	}
	return 0
}

func (l *Ledger) paidEntries() int {
	n := 0
	for _, e := range l.fineHistory {
		if e.Paid {
			n++
		}
	}
	return n
}

// buildFineHistory строит историю штрафов и распределяет оплаченную сумму
// по строкам, старые первыми. Строка оплачена только целиком.
func buildFineHistory(events []LateEvent, fines []int, paid int) []FineEntry {
	history := make([]FineEntry, 0, len(events))
	for i, ev := range events {
		if fines[i] == 0 {
			continue
		}
		entry := FineEntry{
			EventID: ev.ID,
			Date:    ev.Timestamp,
			Ordinal: i + 1,
			Amount:  fines[i],
			Reason:  fineReason(i + 1),
		}
		if paid >= entry.Amount {
			entry.Paid = true
			paid -= entry.Amount
		} else {
			paid = 0
		}
		history = append(history, entry)
	}
	return history
}
