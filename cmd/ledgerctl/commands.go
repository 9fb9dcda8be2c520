package main

import (
	"context"
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/latetrack/late-ledger/internal/application/command"
	"github.com/latetrack/late-ledger/internal/application/query"
	"github.com/latetrack/late-ledger/internal/bootstrap"
	"github.com/latetrack/late-ledger/internal/domain/shared"
	"github.com/latetrack/late-ledger/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// WRITE COMMANDS
// ══════════════════════════════════════════════════════════════════════════════

type identityFlags struct {
	name     string
	year     int
	semester int
	branch   string
	section  string
}

func (f *identityFlags) bind(fs *flag.FlagSet) {
	fs.StringVar(&f.name, "name", "", "student name")
	fs.IntVar(&f.year, "year", 1, "academic year 1-4")
	fs.IntVar(&f.semester, "semester", 0, "semester within the year (0 = first)")
	fs.StringVar(&f.branch, "branch", "", "branch code, e.g. CSE")
	fs.StringVar(&f.section, "section", "", "section")
}

func (f *identityFlags) command(rollNo string) command.RegisterStudentCommand {
	return command.RegisterStudentCommand{
		RollNo:   rollNo,
		Name:     f.name,
		Year:     f.year,
		Semester: f.semester,
		Branch:   f.branch,
		Section:  f.section,
	}
}

func runRegister(ctx context.Context, app *bootstrap.App, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("register", flag.ContinueOnError)
	rollNo := fs.String("roll", "", "roll number")
	var id identityFlags
	id.bind(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx = logger.WithOperation(ctx, "register", *rollNo)
	res, err := app.Commands.Register.Handle(ctx, id.command(*rollNo))
	if err != nil {
		return err
	}
	logger.FromContext(ctx).Info("ledger created")
	return printJSON(out, res.Snapshot)
}

func runAppend(ctx context.Context, app *bootstrap.App, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("append", flag.ContinueOnError)
	rollNo := fs.String("roll", "", "roll number")
	by := fs.String("by", "", "name of the staff member marking the student")
	byEmail := fs.String("by-email", "", "email of the staff member")
	at := fs.String("at", "", "RFC3339 timestamp of the arrival (default: now)")
	reason := fs.String("reason", "", "optional reason")
	enroll := fs.Bool("enroll", false, "create the ledger if the student is unknown")
	var id identityFlags
	id.bind(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cmd := command.AppendLateEventCommand{
		RollNo:        *rollNo,
		MarkedByName:  *by,
		MarkedByEmail: *byEmail,
		Reason:        *reason,
	}
	if *at != "" {
		ts, err := time.Parse(time.RFC3339, *at)
		if err != nil {
			return fmt.Errorf("-at: %w", err)
		}
		cmd.Timestamp = ts
	}
	if *enroll {
		reg := id.command(*rollNo)
		cmd.Enroll = &reg
	}

	ctx = logger.WithOperation(ctx, "append", *rollNo)
	res, err := app.Commands.Append.Handle(ctx, cmd)
	if err != nil {
		return err
	}
	logger.FromContext(ctx).Info("late mark recorded",
		"ordinal", res.Ordinal,
		"fine", res.Fine,
		"alert_raised", res.AlertRaised,
		"attempts", res.Attempts,
	)
	return printJSON(out, res)
}

func runUndo(ctx context.Context, app *bootstrap.App, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("undo", flag.ContinueOnError)
	rollNo := fs.String("roll", "", "roll number")
	at := fs.String("at", "", "RFC3339 timestamp of the mark to undo")
	if err := fs.Parse(args); err != nil {
		return err
	}
	ts, err := time.Parse(time.RFC3339, *at)
	if err != nil {
		return fmt.Errorf("-at: %w", err)
	}

	ctx = logger.WithOperation(ctx, "undo", *rollNo)
	res, err := app.Commands.Undo.Handle(ctx, command.UndoLateEventCommand{RollNo: *rollNo, EventTimestamp: ts})
	if err != nil {
		return err
	}
	logger.FromContext(ctx).Info("late mark undone")
	return printJSON(out, res)
}

type correctionFlags struct {
	reason       string
	authorizedBy string
	performedBy  string
}

func (f *correctionFlags) bind(fs *flag.FlagSet) {
	fs.StringVar(&f.reason, "reason", "", "reason for the correction")
	fs.StringVar(&f.authorizedBy, "authorized-by", "", "who authorized the correction")
	fs.StringVar(&f.performedBy, "performed-by", os.Getenv("USER"), "who performed the correction")
}

func (f *correctionFlags) meta() command.CorrectionMeta {
	return command.CorrectionMeta{
		Reason:       f.reason,
		AuthorizedBy: f.authorizedBy,
		PerformedBy:  f.performedBy,
		UserAgent:    "ledgerctl",
	}
}

func runRemove(ctx context.Context, app *bootstrap.App, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("remove", flag.ContinueOnError)
	rollNo := fs.String("roll", "", "roll number")
	dates := fs.String("dates", "", "comma-separated YYYY-MM-DD dates")
	var meta correctionFlags
	meta.bind(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx = logger.WithOperation(ctx, "remove", *rollNo)
	res, err := app.Commands.Remove.Handle(ctx, command.RemoveLateEventsCommand{
		RollNo:         *rollNo,
		Dates:          splitCSV(*dates),
		CorrectionMeta: meta.meta(),
	})
	if err != nil {
		return err
	}
	logger.FromContext(ctx).Info("late marks removed", "authorized_by", meta.authorizedBy)
	return printJSON(out, res)
}

func runBulkRemove(ctx context.Context, app *bootstrap.App, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("bulk-remove", flag.ContinueOnError)
	file := fs.String("file", "", "CSV of roll_no,date rows (- for stdin)")
	var meta correctionFlags
	meta.bind(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	in := io.Reader(os.Stdin)
	if *file != "-" {
		f, err := os.Open(*file)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}
	records, err := readBulkRecords(in)
	if err != nil {
		return err
	}

	ctx = logger.WithOperation(ctx, "bulk-remove", "")
	res, err := app.Commands.Bulk.Handle(ctx, command.BulkRemoveCommand{
		Records:        records,
		CorrectionMeta: meta.meta(),
	})
	if err != nil {
		return err
	}
	logger.FromContext(ctx).Info("bulk removal finished", "records", len(records))
	return printJSON(out, res)
}

// readBulkRecords reads roll_no,date rows. A header row is skipped.
func readBulkRecords(in io.Reader) ([]command.BulkRecord, error) {
	r := csv.NewReader(in)
	r.FieldsPerRecord = 2
	r.TrimLeadingSpace = true

	var records []command.BulkRecord
	for line := 1; ; line++ {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("csv: %w", err)
		}
		if line == 1 && strings.EqualFold(strings.TrimSpace(row[0]), "roll_no") {
			continue
		}
		records = append(records, command.BulkRecord{
			RollNo: strings.TrimSpace(row[0]),
			Date:   strings.TrimSpace(row[1]),
		})
	}
	if len(records) == 0 {
		return nil, errors.New("csv: no records")
	}
	return records, nil
}

func runSettle(ctx context.Context, app *bootstrap.App, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("settle", flag.ContinueOnError)
	rollNo := fs.String("roll", "", "roll number")
	amount := fs.Int("amount", 0, "amount paid")
	paidBy := fs.String("paid-by", "", "who received the payment")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx = logger.WithOperation(ctx, "settle", *rollNo)
	res, err := app.Commands.Settle.Handle(ctx, command.SettleFineCommand{
		RollNo: *rollNo,
		Amount: *amount,
		PaidBy: *paidBy,
	})
	if err != nil {
		return err
	}
	logger.FromContext(ctx).Info("payment recorded", "amount", *amount)
	return printJSON(out, res)
}

func runPromote(ctx context.Context, app *bootstrap.App, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("promote", flag.ContinueOnError)
	year := fs.Int("year", 0, "only this academic year (0 = all)")
	branch := fs.String("branch", "", "only this branch (empty = all)")
	runID := fs.String("run-id", "", "resume a previous run")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx = logger.WithOperation(ctx, "promote", "")
	res, err := app.Commands.Promote.Handle(ctx, command.PromoteSemesterCommand{
		Year:   *year,
		Branch: *branch,
		RunID:  *runID,
	})
	if err != nil {
		return err
	}
	logger.FromContext(ctx).Info("promotion finished",
		logger.KeyRunID, res.RunID,
		"promoted", res.Promoted,
		"graduated", res.Graduated,
		"failed", res.Failed,
	)
	return printJSON(out, res)
}

func runReconcile(ctx context.Context, app *bootstrap.App, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("reconcile", flag.ContinueOnError)
	year := fs.Int("year", 0, "only this academic year (0 = all)")
	branch := fs.String("branch", "", "only this branch (empty = all)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx = logger.WithOperation(ctx, "reconcile", "")
	res, err := app.Commands.Reconcile.Handle(ctx, command.ReconcileLedgersCommand{
		Year:   *year,
		Branch: shared.Branch(strings.ToUpper(strings.TrimSpace(*branch))),
	})
	if err != nil {
		return err
	}
	logger.FromContext(ctx).Info("reconciliation finished",
		"checked", res.Checked,
		"repaired", len(res.Repaired),
		"failed", len(res.Failed),
	)
	return printJSON(out, res)
}

// ══════════════════════════════════════════════════════════════════════════════
// READ COMMANDS
// ══════════════════════════════════════════════════════════════════════════════

func runGet(ctx context.Context, app *bootstrap.App, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("get", flag.ContinueOnError)
	rollNo := fs.String("roll", "", "roll number")
	fresh := fs.Bool("fresh", false, "bypass the snapshot cache")
	if err := fs.Parse(args); err != nil {
		return err
	}

	res, err := app.Queries.Ledger.Handle(ctx, query.GetLedgerQuery{RollNo: *rollNo, SkipCache: *fresh})
	if err != nil {
		return err
	}
	return printJSON(out, res.Snapshot)
}

func runListFines(ctx context.Context, app *bootstrap.App, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("list-fines", flag.ContinueOnError)
	year := fs.Int("year", 0, "academic year (0 = all)")
	branch := fs.String("branch", "", "branch (empty = all)")
	section := fs.String("section", "", "section (empty = all)")
	page := fs.Int("page", 1, "page number")
	pageSize := fs.Int("page-size", 50, "page size")
	if err := fs.Parse(args); err != nil {
		return err
	}

	res, err := app.Queries.Outstanding.Handle(ctx, query.ListOutstandingFinesQuery{
		Year:     *year,
		Branch:   *branch,
		Section:  *section,
		Page:     *page,
		PageSize: *pageSize,
	})
	if err != nil {
		return err
	}
	return printJSON(out, res)
}

func runAuditLogs(ctx context.Context, app *bootstrap.App, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("audit-logs", flag.ContinueOnError)
	rollNo := fs.String("roll", "", "only this student")
	authorizedBy := fs.String("authorized-by", "", "only corrections authorized by this person")
	page := fs.Int("page", 1, "page number")
	pageSize := fs.Int("page-size", 50, "page size")
	if err := fs.Parse(args); err != nil {
		return err
	}

	res, err := app.Queries.AuditLogs.Handle(ctx, query.GetAuditLogsQuery{
		RollNo:       *rollNo,
		AuthorizedBy: *authorizedBy,
		Page:         *page,
		PageSize:     *pageSize,
	})
	if err != nil {
		return err
	}
	return printJSON(out, res)
}

func runVerifyChain(ctx context.Context, app *bootstrap.App, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("verify-chain", flag.ContinueOnError)
	batch := fs.Int("batch", 500, "records read per batch")
	if err := fs.Parse(args); err != nil {
		return err
	}

	res, err := app.Queries.VerifyChain.Handle(ctx, query.VerifyAuditChainQuery{BatchSize: *batch})
	if err != nil {
		return err
	}
	if err := printJSON(out, res); err != nil {
		return err
	}
	if !res.Intact {
		return fmt.Errorf("audit chain broken: %s", res.Problem)
	}
	return nil
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
