package eventhandler

import (
	"context"

	"github.com/latetrack/late-ledger/pkg/circuitbreaker"
)

// GuardedNotifier пропускает уведомления через circuit breaker: пока
// сервис уведомлений недоступен, доставка отклоняется сразу.
type GuardedNotifier struct {
	next    FacultyNotifier
	breaker *circuitbreaker.CircuitBreaker
}

// NewGuardedNotifier оборачивает notifier.
func NewGuardedNotifier(next FacultyNotifier, breaker *circuitbreaker.CircuitBreaker) *GuardedNotifier {
	return &GuardedNotifier{next: next, breaker: breaker}
}

// NotifyFaculty implements FacultyNotifier.
func (n *GuardedNotifier) NotifyFaculty(ctx context.Context, alert FacultyAlert) error {
	return n.breaker.Execute(ctx, func(ctx context.Context) error {
		return n.next.NotifyFaculty(ctx, alert)
	})
}
