// Command ledgerctl is the administrative CLI for the late-arrival ledger.
// Every subcommand runs one engine operation and prints its result as JSON.
//
//	ledgerctl append -roll 22B81A0501 -by "Gate Staff"
//	ledgerctl remove -roll 22B81A0501 -dates 2026-10-01,2026-10-02 -reason "bus strike" -authorized-by hod.cse
//	ledgerctl verify-chain
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/latetrack/late-ledger/config"
	"github.com/latetrack/late-ledger/internal/bootstrap"
	"github.com/latetrack/late-ledger/pkg/logger"
)

// subcommand parses its own flags and runs against the assembled engine.
type subcommand struct {
	summary string
	run     func(ctx context.Context, app *bootstrap.App, args []string, out io.Writer) error
}

var subcommands = map[string]subcommand{
	"register":     {"create a student's ledger", runRegister},
	"append":       {"mark a student late", runAppend},
	"undo":         {"undo one late mark by its timestamp", runUndo},
	"remove":       {"remove late marks on given dates (audited)", runRemove},
	"bulk-remove":  {"remove late marks listed in a CSV file (audited)", runBulkRemove},
	"settle":       {"record a fine payment", runSettle},
	"promote":      {"advance students to the next semester", runPromote},
	"reconcile":    {"repair stored tallies that drifted from the event log", runReconcile},
	"get":          {"show a student's ledger", runGet},
	"list-fines":   {"list students with outstanding fines", runListFines},
	"audit-logs":   {"list correction audit records", runAuditLogs},
	"verify-chain": {"verify the audit hash chain", runVerifyChain},
}

func main() {
	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(2)
	}
	name := os.Args[1]
	if name == "help" || name == "-h" || name == "--help" {
		usage(os.Stdout)
		return
	}
	sub, ok := subcommands[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "ledgerctl: unknown command %q\n\n", name)
		usage(os.Stderr)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := execute(ctx, name, sub, os.Args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "ledgerctl %s: %v\n", name, err)
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func execute(ctx context.Context, name string, sub subcommand, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log := logger.New(logger.Options{
		Level:   cfg.Observability.LogLevel,
		Format:  cfg.Observability.LogFormat,
		Output:  os.Stderr,
		Service: "ledgerctl",
		Version: cfg.App.Version,
	})
	ctx = logger.WithContext(ctx, log)

	app, err := bootstrap.Build(ctx, cfg, log, bootstrap.Options{Migrate: cfg.Database.AutoMigrate})
	if err != nil {
		return err
	}
	defer app.Close()

	return sub.run(ctx, app, args, os.Stdout)
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: ledgerctl <command> [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "commands:")

	names := make([]string, 0, len(subcommands))
	for name := range subcommands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %-13s %s\n", name, subcommands[name].summary)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "run 'ledgerctl <command> -h' for the command's flags")
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
