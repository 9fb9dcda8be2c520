// Package eventhandler содержит обработчики доменных событий.
package eventhandler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/latetrack/late-ledger/internal/domain/shared"
	"github.com/latetrack/late-ledger/pkg/circuitbreaker"
	"github.com/latetrack/late-ledger/pkg/retry"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON FACULTY ALERT HANDLER
// Передаёт событие "студент превысил порог опозданий" внешнему сервису
// уведомлений. Сам сервис уведомлений (почта, мессенджеры) находится вне
// этого модуля; здесь только порт FacultyNotifier.
// ═══════════════════════════════════════════════════════════════════════════

// FacultyAlert - данные уведомления для куратора.
type FacultyAlert struct {
	RollNo   string
	Name     string
	Branch   string
	Section  string
	Year     int
	LateDays int
	Fines    int
	Status   string
	RaisedAt time.Time
}

// FacultyNotifier - порт внешнего сервиса уведомлений.
type FacultyNotifier interface {
	NotifyFaculty(ctx context.Context, alert FacultyAlert) error
}

// LogNotifier пишет уведомления в лог. Используется, пока внешний
// сервис не подключён.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier создаёт LogNotifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

// NotifyFaculty implements FacultyNotifier.
func (n *LogNotifier) NotifyFaculty(_ context.Context, a FacultyAlert) error {
	n.logger.Warn("faculty alert",
		"roll_no", a.RollNo,
		"name", a.Name,
		"branch", a.Branch,
		"section", a.Section,
		"year", a.Year,
		"late_days", a.LateDays,
		"fines", a.Fines,
		"status", a.Status,
	)
	return nil
}

// FacultyAlertConfig содержит конфигурацию обработчика.
type FacultyAlertConfig struct {
	// Timeout - ограничение на одну доставку, включая повторы.
	Timeout time.Duration

	// MaxAttempts - число попыток доставки.
	MaxAttempts int

	// Cooldown - повторное уведомление по тому же студенту не раньше чем через.
	Cooldown time.Duration

	// Enabled решает по направлению, отправлять ли уведомление. nil = всегда.
	Enabled func(rollNo shared.RollNo, branch shared.Branch) bool
}

// DefaultFacultyAlertConfig возвращает конфигурацию по умолчанию.
func DefaultFacultyAlertConfig() FacultyAlertConfig {
	return FacultyAlertConfig{
		Timeout:     10 * time.Second,
		MaxAttempts: 3,
		Cooldown:    24 * time.Hour,
	}
}

// OnFacultyAlertHandler обрабатывает FacultyAlertRaisedEvent.
type OnFacultyAlertHandler struct {
	notifier FacultyNotifier
	logger   *slog.Logger
	config   FacultyAlertConfig
	now      func() time.Time

	mu       sync.Mutex
	lastSent map[string]time.Time
}

// NewOnFacultyAlertHandler создаёт обработчик.
func NewOnFacultyAlertHandler(notifier FacultyNotifier, logger *slog.Logger, config FacultyAlertConfig) *OnFacultyAlertHandler {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultFacultyAlertConfig()
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaults.MaxAttempts
	}

	return &OnFacultyAlertHandler{
		notifier: notifier,
		logger:   logger.With("handler", "on_faculty_alert"),
		config:   config,
		now:      time.Now,
		lastSent: make(map[string]time.Time),
	}
}

// Handle обрабатывает событие.
// Реализует интерфейс shared.EventHandler.
func (h *OnFacultyAlertHandler) Handle(event shared.Event) error {
	alertEvent, ok := event.(shared.FacultyAlertRaisedEvent)
	if !ok {
		h.logger.Warn("received non-FacultyAlertRaisedEvent", "event_type", event.EventType())
		return nil
	}

	if h.config.Enabled != nil && !h.config.Enabled(shared.RollNo(alertEvent.RollNo), shared.Branch(alertEvent.Branch)) {
		h.logger.Debug("faculty alerts disabled for student", "roll_no", alertEvent.RollNo, "branch", alertEvent.Branch)
		return nil
	}

	if !h.claim(alertEvent.RollNo) {
		h.logger.Info("faculty alert suppressed by cooldown", "roll_no", alertEvent.RollNo)
		return nil
	}

	alert := FacultyAlert{
		RollNo:   alertEvent.RollNo,
		Name:     alertEvent.Name,
		Branch:   alertEvent.Branch,
		Section:  alertEvent.Section,
		Year:     alertEvent.Year,
		LateDays: alertEvent.LateDays,
		Fines:    alertEvent.Fines,
		Status:   alertEvent.Status,
		RaisedAt: alertEvent.OccurredAt(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	err := retry.Do(ctx, func(ctx context.Context) error {
		if err := h.notifier.NotifyFaculty(ctx, alert); err != nil {
			if circuitbreaker.IsRejected(err) {
				return err
			}
			return retry.Retryable(err)
		}
		return nil
	},
		retry.WithMaxAttempts(h.config.MaxAttempts),
		retry.WithInitialDelay(200*time.Millisecond),
		retry.WithMaxDelay(2*time.Second),
	)
	if err != nil {
		h.release(alertEvent.RollNo)
		h.logger.Error("failed to notify faculty", "roll_no", alertEvent.RollNo, "error", err)
		return fmt.Errorf("on_faculty_alert: %w", err)
	}

	h.logger.Info("faculty notified",
		"roll_no", alertEvent.RollNo,
		"late_days", alertEvent.LateDays,
		"status", alertEvent.Status,
	)
	return nil
}

// claim reserves the cooldown slot for a student.
func (h *OnFacultyAlertHandler) claim(rollNo string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.now()
	if last, ok := h.lastSent[rollNo]; ok && h.config.Cooldown > 0 && now.Sub(last) < h.config.Cooldown {
		return false
	}
	h.lastSent[rollNo] = now
	return true
}

func (h *OnFacultyAlertHandler) release(rollNo string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.lastSent, rollNo)
}
