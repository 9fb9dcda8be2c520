// Package jobs contains the scheduled maintenance jobs of the ledger engine.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/latetrack/late-ledger/internal/application/query"
)

// ══════════════════════════════════════════════════════════════════════════════
// VERIFY AUDIT CHAIN JOB
// ══════════════════════════════════════════════════════════════════════════════

// ErrAuditChainBroken is returned when verification finds a broken link.
var ErrAuditChainBroken = errors.New("audit chain broken")

// AuditChainVerifier walks the audit chain.
type AuditChainVerifier interface {
	Handle(ctx context.Context, q query.VerifyAuditChainQuery) (*query.VerifyAuditChainResult, error)
}

// VerifyAuditChainJob re-hashes the audit trail and fails loudly when a
// record was altered or removed behind the engine's back.
type VerifyAuditChainJob struct {
	verifier  AuditChainVerifier
	batchSize int
	logger    *slog.Logger

	last atomic.Pointer[query.VerifyAuditChainResult]
}

// NewVerifyAuditChainJob creates the job.
func NewVerifyAuditChainJob(verifier AuditChainVerifier, batchSize int, logger *slog.Logger) *VerifyAuditChainJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &VerifyAuditChainJob{
		verifier:  verifier,
		batchSize: batchSize,
		logger:    logger.With("job", "verify_audit_chain"),
	}
}

func (j *VerifyAuditChainJob) Name() string { return "verify_audit_chain" }

func (j *VerifyAuditChainJob) Description() string {
	return "Recomputes audit record hashes and checks the chain links"
}

// Run executes the verification.
func (j *VerifyAuditChainJob) Run(ctx context.Context) error {
	res, err := j.verifier.Handle(ctx, query.VerifyAuditChainQuery{BatchSize: j.batchSize})
	if err != nil {
		return fmt.Errorf("verify audit chain: %w", err)
	}
	j.last.Store(res)

	if !res.Intact {
		j.logger.Error("audit chain broken",
			"verified", res.Verified,
			"head_sequence", res.HeadSequence,
			"problem", res.Problem,
		)
		return fmt.Errorf("%w: %s", ErrAuditChainBroken, res.Problem)
	}

	j.logger.Info("audit chain intact",
		"verified", res.Verified,
		"head_sequence", res.HeadSequence,
		"duration", res.Duration.String(),
	)
	return nil
}

// LastResult returns the result of the most recent successful walk, or nil.
func (j *VerifyAuditChainJob) LastResult() *query.VerifyAuditChainResult {
	return j.last.Load()
}
