package command

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/latetrack/late-ledger/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// BULK REMOVE COMMAND
// Applies RemoveLateEvents to many (rollNo, date) pairs. Records are grouped
// per student: one ledger write and one audit record per student. A failing
// student never blocks the others and nothing already applied is rolled back.
// ══════════════════════════════════════════════════════════════════════════════

// Per-record failure messages.
const (
	FailureStudentNotFound = "student not found"
	FailureNoMatch         = "no matching record"
	FailureInvalidRecord   = "invalid record"
)

// BulkRecord is one (student, date) pair to remove.
type BulkRecord struct {
	RollNo string `validate:"required"`
	Date   string `validate:"required"`
}

// BulkRemoveCommand contains the records to remove.
type BulkRemoveCommand struct {
	Records []BulkRecord `validate:"required,min=1,max=5000"`

	CorrectionMeta
}

// Validate validates the command. Individual records are checked later and
// reported as per-record failures.
func (c BulkRemoveCommand) Validate() error {
	if err := c.CorrectionMeta.Validate(); err != nil {
		return err
	}
	return validateStruct("BulkRemove", c)
}

// BulkFailure describes one record that was not removed.
type BulkFailure struct {
	RollNo string `json:"roll_no"`
	Date   string `json:"date"`
	Error  string `json:"error"`
}

// BulkRemoveResult aggregates the per-student outcomes.
type BulkRemoveResult struct {
	TotalRecords       int
	RemovedCount       int
	FineReductionTotal int
	AffectedStudents   int
	Failures           []BulkFailure
	AuditRecordIDs     []string
	Duration           time.Duration
}

// BulkRemoveHandlerConfig contains configuration for the handler.
type BulkRemoveHandlerConfig struct {
	// Concurrency is the number of students processed in parallel.
	Concurrency int
}

// DefaultBulkRemoveHandlerConfig returns default configuration.
func DefaultBulkRemoveHandlerConfig() BulkRemoveHandlerConfig {
	return BulkRemoveHandlerConfig{Concurrency: 8}
}

// BulkRemoveHandler handles the BulkRemoveCommand.
type BulkRemoveHandler struct {
	remove *RemoveLateEventsHandler
	config BulkRemoveHandlerConfig
}

// NewBulkRemoveHandler creates a new BulkRemoveHandler.
func NewBulkRemoveHandler(remove *RemoveLateEventsHandler, config BulkRemoveHandlerConfig) *BulkRemoveHandler {
	if config.Concurrency <= 0 {
		config = DefaultBulkRemoveHandlerConfig()
	}
	return &BulkRemoveHandler{remove: remove, config: config}
}

// studentBatch is the set of dates requested for one student.
type studentBatch struct {
	rollNo shared.RollNo
	days   []time.Time
	raw    []BulkRecord
}

// Handle executes the bulk remove command.
func (h *BulkRemoveHandler) Handle(ctx context.Context, cmd BulkRemoveCommand) (*BulkRemoveResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("bulk_remove: %w", err)
	}
	start := time.Now()

	result := &BulkRemoveResult{TotalRecords: len(cmd.Records)}
	batches, invalid := h.group(cmd.Records)
	result.Failures = append(result.Failures, invalid...)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.config.Concurrency)

	for _, b := range batches {
		b := b
		g.Go(func() error {
			res, err := h.remove.remove(gctx, b.rollNo, b.days, cmd.CorrectionMeta)

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				msg := err.Error()
				if shared.IsNotFound(err) {
					msg = FailureStudentNotFound
				}
				for _, r := range b.raw {
					result.Failures = append(result.Failures, BulkFailure{RollNo: b.rollNo.String(), Date: r.Date, Error: msg})
				}
				return nil
			}

			result.RemovedCount += res.RemovedCount
			result.FineReductionTotal += res.FineReduction
			result.AuditRecordIDs = append(result.AuditRecordIDs, res.AuditRecordID)
			if res.RemovedCount > 0 {
				result.AffectedStudents++
			}
			for _, d := range res.UnmatchedDates {
				result.Failures = append(result.Failures, BulkFailure{RollNo: b.rollNo.String(), Date: d, Error: FailureNoMatch})
			}
			return nil
		})
	}
	// Workers never return errors; failures are collected per record.
	_ = g.Wait()

	sort.Slice(result.Failures, func(i, j int) bool {
		if result.Failures[i].RollNo != result.Failures[j].RollNo {
			return result.Failures[i].RollNo < result.Failures[j].RollNo
		}
		return result.Failures[i].Date < result.Failures[j].Date
	})
	result.Duration = time.Since(start)

	h.remove.mutator.logger.Info("bulk removal completed",
		"records", result.TotalRecords,
		"students", len(batches),
		"removed", result.RemovedCount,
		"fine_reduction", result.FineReductionTotal,
		"failures", len(result.Failures),
		"authorized_by", cmd.AuthorizedBy,
		"duration", result.Duration,
	)

	return result, nil
}

// group parses and buckets records per student, preserving first-seen order.
func (h *BulkRemoveHandler) group(records []BulkRecord) ([]*studentBatch, []BulkFailure) {
	var (
		batches []*studentBatch
		invalid []BulkFailure
		byRoll  = make(map[shared.RollNo]*studentBatch)
		seen    = make(map[string]bool)
	)

	for _, r := range records {
		rollNo, err := shared.NewRollNo(r.RollNo)
		if err != nil {
			invalid = append(invalid, BulkFailure{RollNo: r.RollNo, Date: r.Date, Error: FailureInvalidRecord})
			continue
		}
		day, err := h.remove.calendar.ParseDate(r.Date)
		if err != nil {
			invalid = append(invalid, BulkFailure{RollNo: rollNo.String(), Date: r.Date, Error: FailureInvalidRecord})
			continue
		}

		key := rollNo.String() + "|" + h.remove.calendar.FormatDate(day)
		if seen[key] {
			continue
		}
		seen[key] = true

		b, ok := byRoll[rollNo]
		if !ok {
			b = &studentBatch{rollNo: rollNo}
			byRoll[rollNo] = b
			batches = append(batches, b)
		}
		b.days = append(b.days, day)
		b.raw = append(b.raw, BulkRecord{RollNo: rollNo.String(), Date: h.remove.calendar.FormatDate(day)})
	}
	return batches, invalid
}
