package query

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/latetrack/late-ledger/internal/domain/audit"
)

// ══════════════════════════════════════════════════════════════════════════════
// VERIFY AUDIT CHAIN QUERY
// Проходит цепочку журнала пачками от начала и проверяет порядковые номера,
// ссылки PrevHash и хэши записей. Останавливается на первом разрыве.
// ══════════════════════════════════════════════════════════════════════════════

// DefaultVerifyBatchSize - размер пачки по умолчанию.
const DefaultVerifyBatchSize = 500

// VerifyAuditChainQuery содержит параметры запроса.
type VerifyAuditChainQuery struct {
	BatchSize int
}

// VerifyAuditChainResult - результат проверки.
type VerifyAuditChainResult struct {
	// Verified - сколько записей прошло проверку.
	Verified int `json:"verified"`

	// HeadSequence / HeadHash - последняя проверенная запись.
	HeadSequence int64  `json:"head_sequence"`
	HeadHash     string `json:"head_hash"`

	// Intact - цепочка цела.
	Intact bool `json:"intact"`

	// Problem - описание первого разрыва.
	Problem string `json:"problem,omitempty"`

	Duration time.Duration `json:"duration"`
}

// VerifyAuditChainHandler обрабатывает запрос.
type VerifyAuditChainHandler struct {
	records audit.Repository
	logger  *slog.Logger
}

// NewVerifyAuditChainHandler создаёт обработчик.
func NewVerifyAuditChainHandler(records audit.Repository, logger *slog.Logger) *VerifyAuditChainHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &VerifyAuditChainHandler{records: records, logger: logger}
}

// Handle выполняет проверку. Разрыв цепочки - не ошибка запроса:
// он возвращается в результате с Intact = false.
func (h *VerifyAuditChainHandler) Handle(ctx context.Context, q VerifyAuditChainQuery) (*VerifyAuditChainResult, error) {
	start := time.Now()
	batch := q.BatchSize
	if batch <= 0 {
		batch = DefaultVerifyBatchSize
	}

	result := &VerifyAuditChainResult{Intact: true}
	var prev *audit.Record

	for {
		var after int64
		if prev != nil {
			after = prev.Sequence
		}

		records, err := h.records.Range(ctx, after, batch)
		if err != nil {
			return nil, fmt.Errorf("verify_audit_chain: %w", err)
		}
		if len(records) == 0 {
			break
		}

		if err := audit.VerifyChain(prev, records); err != nil {
			result.Intact = false
			result.Problem = err.Error()
			h.logger.Error("audit chain broken",
				"verified", result.Verified,
				"head_sequence", result.HeadSequence,
				"error", err,
			)
			break
		}

		result.Verified += len(records)
		prev = records[len(records)-1]
		result.HeadSequence = prev.Sequence
		result.HeadHash = prev.Hash

		if len(records) < batch {
			break
		}
	}

	result.Duration = time.Since(start)
	return result, nil
}
