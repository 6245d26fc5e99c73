// Command pnacore is the operator tool for the regulatory integrity core:
// it verifies the ledger chain and exports audit bundles.
//
// Usage:
//
//	pnacore verify [-subject ID]
//	pnacore export [-from N] [-to N] [-out FILE]
//	pnacore timeline [-subject ID] [-kind KIND] [-actor ID] [-limit N]
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/aconcagua-systems/pna-core/pkg/config"
	"github.com/aconcagua-systems/pna-core/pkg/ledger"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		slog.Error("pnacore failed", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})).
		With("component", "pnacore")
	slog.SetDefault(logger)

	if len(args) == 0 {
		return fmt.Errorf("usage: pnacore <verify|export|timeline> [flags]")
	}

	db, err := sql.Open("sqlite", cfg.LedgerPath)
	if err != nil {
		return fmt.Errorf("open ledger database %s: %w", cfg.LedgerPath, err)
	}
	defer func() { _ = db.Close() }()

	store, err := ledger.NewSQLiteStore(db)
	if err != nil {
		return err
	}
	led := ledger.New(store)
	ctx := context.Background()

	switch args[0] {
	case "verify":
		return runVerify(ctx, led, args[1:])
	case "export":
		return runExport(ctx, led, args[1:])
	case "timeline":
		return runTimeline(ctx, led, args[1:])
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func runVerify(ctx context.Context, led *ledger.Ledger, args []string) error {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	subject := fs.String("subject", "", "restrict reported violations to one subject id")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ok, violations, err := led.Verify(ctx, *subject)
	if err != nil {
		return err
	}
	if ok {
		slog.Info("chain verified clean")
		return nil
	}
	for _, v := range violations {
		slog.Warn("integrity violation",
			"position", v.Position, "kind", v.Kind,
			"subject", v.SubjectID, "detail", v.Detail)
	}
	return fmt.Errorf("chain verification found %d violation(s)", len(violations))
}

func runExport(ctx context.Context, led *ledger.Ledger, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	from := fs.Uint64("from", 1, "first sequence to export")
	to := fs.Uint64("to", 0, "last sequence to export (0 = chain head)")
	out := fs.String("out", "", "output file (default stdout)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	bundle, err := led.Export(ctx, *from, *to)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(bundle, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal bundle: %w", err)
	}
	if *out == "" {
		fmt.Println(string(data))
		return nil
	}
	if err := os.WriteFile(*out, data, 0o644); err != nil {
		return fmt.Errorf("write bundle: %w", err)
	}
	slog.Info("bundle exported", "file", *out, "entries", bundle.EntryCount, "hash", bundle.BundleHash)
	return nil
}

func runTimeline(ctx context.Context, led *ledger.Ledger, args []string) error {
	fs := flag.NewFlagSet("timeline", flag.ContinueOnError)
	subject := fs.String("subject", "", "filter by subject id")
	kind := fs.String("kind", "", "filter by event kind")
	actor := fs.String("actor", "", "filter by actor id")
	limit := fs.Int("limit", 0, "maximum entries to print (0 = all)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	q := ledger.Query{SubjectID: *subject, ActorID: *actor, Limit: *limit}
	if *kind != "" {
		k := ledger.EventKind(*kind)
		q.Kind = &k
	}
	entries, err := led.Query(ctx, q)
	if err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Printf("%6d  %s  %-22s  %-16s  %s/%s\n",
			e.Sequence, e.Timestamp.Format("2006-01-02T15:04:05Z07:00"),
			e.Kind, e.ActorID, e.SubjectType, e.SubjectID)
	}
	slog.Info("timeline listed", "entries", len(entries))
	return nil
}
