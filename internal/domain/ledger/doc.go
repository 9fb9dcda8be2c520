// Package ledger содержит доменную модель учёта опозданий и штрафов студента.
//
// Это ядро бизнес-логики: пакет не обращается к хранилищу, сети или часам.
// Текущее время передаётся вызывающим кодом.
//
// # Архитектурные принципы
//
// Единственный источник истины - упорядоченный список событий опоздания.
// Количество дней опоздания, использованные дни без штрафа, сумма штрафов,
// статус и штраф каждого события вычисляются функцией Recompute и нигде
// не задаются напрямую. Хранилище держит производные значения только как
// кэш; при загрузке они пересчитываются заново (см. Restore и Drifted).
//
// Штраф события зависит только от его порядкового номера (FineForOrdinal).
// Удаление события сдвигает номера последующих, и их штрафы пересчитываются.
//
// # Основные сущности
//
//   - LateEvent - отметка об опоздании: время, кто отметил, причина.
//   - Ledger - агрегат одного студента: идентификация, события, оплаты.
//   - Tally - результат пересчёта.
//   - Policy - пороги классификатора статусов (можно переопределить из YAML).
//   - Snapshot - read-модель для ответов и кэша.
//
// # Статусы
//
// При политике по умолчанию:
//
//	0 дней            normal
//	1-2 дня           excused
//	3-4 дня           approaching_limit
//	5-8 дней          grace_period
//	9-11 дней         fined
//	12 и более        alert
//	после выпуска     graduated (новые события отклоняются)
//
// # Пример использования
//
//	l, _ := ledger.New(identity, ledger.DefaultPolicy(), now)
//	out, err := l.AppendEvent(ledger.NewLateEvent(now, actor, ""), nil, now)
//	if err != nil {
//	    return err
//	}
//	fmt.Println(out.Ordinal, out.Fine, l.Status())
//
// # Репозитории
//
// Repository описывает хранилище с условной записью по версии. Реализации:
// infrastructure/persistence/postgres и infrastructure/persistence/memory.
package ledger
