package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/mattjoyce/loadsched/internal/engine"
	"github.com/mattjoyce/loadsched/internal/loader"
	"github.com/mattjoyce/loadsched/internal/log"
)

const flushTimeout = 5 * time.Second

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	return fs
}

func runFetch(args []string) int {
	fs := newFlagSet("fetch")
	configPath := fs.String("config", "", "Path to configuration file or directory")
	owner := fs.String("owner", "cli", "Owner the loads are charged to")
	priority := fs.String("priority", "", "Priority for every URL: low, medium, high (default: by kind)")
	kind := fs.String("kind", "", "Resource kind for every URL (default: from extension)")
	buffered := fs.Bool("buffered", false, "Deliver each body as one chunk")
	insecure := fs.Bool("allow-insecure-redirects", false, "Follow https to http redirects")
	timeout := fs.Duration("timeout", time.Minute, "Give up and cancel after this long")
	asJSON := fs.Bool("json", false, "Print results as JSON")
	logLevel := fs.String("log-level", "warn", "Log level written to stderr")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	urls := fs.Args()
	if len(urls) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: loadsched fetch [flags] <url>...")
		return 1
	}

	cfg, err := resolveConfig(*configPath, true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	log.SetupTo(os.Stderr, *logLevel, cfg.Service.LogFormat)

	opts, err := engineOptions(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid loader configuration: %v\n", err)
		return 1
	}
	eng := engine.New(opts)

	runCtx, stopEngine := context.WithCancel(context.Background())
	go func() { _ = eng.Run(runCtx) }()
	defer func() {
		stopEngine()
		<-eng.Done()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	for _, u := range urls {
		if _, err := eng.Load(ctx, engine.LoadSpec{
			Owner:             *owner,
			URL:               u,
			Kind:              *kind,
			Priority:          *priority,
			Buffered:          *buffered,
			SkipSecurityCheck: *insecure,
		}); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load %s: %v\n", u, err)
			return 1
		}
	}

	timedOut := false
	if err := eng.Wait(ctx, *owner); err != nil {
		timedOut = true
		fmt.Fprintf(os.Stderr, "Timed out after %s; cancelling outstanding loads\n", *timeout)
		cancelCtx, done := context.WithTimeout(context.Background(), flushTimeout)
		_, _, _ = eng.Cancel(cancelCtx, *owner)
		done()
	}

	resultsCtx, done := context.WithTimeout(context.Background(), flushTimeout)
	defer done()
	results, err := eng.Results(resultsCtx, *owner)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to collect results: %v\n", err)
		return 1
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(results); err != nil {
			return 1
		}
	} else {
		printResults(results)
	}

	if timedOut {
		return 1
	}
	for _, r := range results {
		if r.State != loader.StateCompleted {
			return 1
		}
	}
	return 0
}

func printResults(results []engine.Result) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STATE\tPRIORITY\tSTATUS\tBYTES\tTIME\tURL")
	for _, r := range results {
		status := "-"
		if r.Status != 0 {
			status = fmt.Sprint(r.Status)
		}
		elapsed := "-"
		if r.StartedAt != nil && r.CompletedAt != nil {
			elapsed = r.CompletedAt.Sub(*r.StartedAt).Round(time.Millisecond).String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n", r.State, r.Priority, status, r.Bytes, elapsed, r.URL)
		if r.Error != "" {
			fmt.Fprintf(w, "\t\t\t\t\t  error: %s\n", r.Error)
		}
	}
	_ = w.Flush()
}
