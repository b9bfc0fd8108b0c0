package main

import (
	"context"
	"fmt"
	"os"

	"github.com/mattjoyce/loadsched/internal/inspect"
	"github.com/mattjoyce/loadsched/internal/journal"
	"github.com/mattjoyce/loadsched/internal/log"
	"github.com/mattjoyce/loadsched/internal/storage"
)

func runInspect(args []string) int {
	fs := newFlagSet("inspect")
	configPath := fs.String("config", "", "Path to configuration file or directory")
	dbPath := fs.String("db", "", "Journal database (default: journal.path from config)")
	limit := fs.Int("limit", 0, "Show at most this many loads (0 for all)")
	jsonOut := fs.Bool("json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: loadsched inspect [flags] <owner>")
		return 1
	}
	owner := fs.Arg(0)

	path := *dbPath
	if path == "" {
		cfg, err := resolveConfig(*configPath, true)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			return 1
		}
		path = cfg.Journal.Path
	}
	if _, err := os.Stat(path); err != nil {
		fmt.Fprintf(os.Stderr, "Journal not found: %s\n", path)
		return 1
	}

	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open journal: %v\n", err)
		return 1
	}
	defer db.Close()
	j := journal.New(db, log.WithComponent("inspect"), 1)
	defer j.Close()

	var out string
	if *jsonOut {
		out, err = inspect.BuildJSONReport(ctx, j, owner, *limit)
	} else {
		out, err = inspect.BuildReport(ctx, j, owner, *limit)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Inspect failed: %v\n", err)
		return 1
	}
	fmt.Print(out)
	if *jsonOut {
		fmt.Println()
	}
	return 0
}
