package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattjoyce/loadsched/internal/api"
	"github.com/mattjoyce/loadsched/internal/auth"
	"github.com/mattjoyce/loadsched/internal/config"
	"github.com/mattjoyce/loadsched/internal/engine"
	"github.com/mattjoyce/loadsched/internal/events"
	"github.com/mattjoyce/loadsched/internal/journal"
	"github.com/mattjoyce/loadsched/internal/loader"
	"github.com/mattjoyce/loadsched/internal/lock"
	"github.com/mattjoyce/loadsched/internal/log"
	"github.com/mattjoyce/loadsched/internal/storage"
)

const version = "0.3.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "serve":
		os.Exit(runServe(args))
	case "fetch":
		os.Exit(runFetch(args))
	case "watch":
		os.Exit(runWatch(args))
	case "inspect":
		os.Exit(runInspect(args))
	case "config":
		os.Exit(runConfigNoun(args))
	case "version":
		fmt.Printf("loadsched version %s\n", version)
		os.Exit(0)
	case "help", "--help", "-h":
		printUsage()
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`loadsched - per-host, priority-ordered subresource load scheduler

Usage:
  loadsched <command> [flags]

Commands:
  serve             Run the scheduler with its journal and HTTP API
  fetch <url>...    Load URLs through the scheduler and report the results
  watch             Live view of a running server
  inspect <owner>   Report an owner's journaled loads
  config check      Validate syntax, policy, and integrity
  config lock       Record the config's BLAKE3 hash in .checksums
  config get <path> Print one config value (e.g. loader.max_requests_per_host)
  version           Show version information
  help              Show this help message

Config is read from --config, $LOADSCHED_CONFIG, ~/.config/loadsched/config.yaml
or ./config.yaml, in that order.
`)
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if isHelpToken(arg) {
			return true
		}
	}
	return false
}

// resolveConfig loads configPath, or the discovered config when empty. With
// allowDefaults, a missing config yields Defaults instead of an error.
func resolveConfig(configPath string, allowDefaults bool) (*config.Config, error) {
	if configPath == "" {
		discovered, err := config.Discover()
		if err != nil {
			if allowDefaults {
				return config.Defaults(), nil
			}
			return nil, err
		}
		configPath = discovered
	}
	return config.Load(configPath)
}

// engineOptions maps cfg onto engine.Options.
func engineOptions(cfg *config.Config, observers ...loader.Observer) (engine.Options, error) {
	loaderOpts, err := cfg.LoaderOptions(log.WithComponent("loader"))
	if err != nil {
		return engine.Options{}, err
	}
	return engine.Options{
		Loader:        loaderOpts,
		Transport:     cfg.TransportOptions(log.WithComponent("transport")),
		DispatchDelay: cfg.Loader.DispatchDelay,
		DrainTimeout:  cfg.Loader.DrainTimeout,
		Observers:     observers,
		Logger:        log.WithComponent("engine"),
	}, nil
}

func runServe(args []string) int {
	fs := newFlagSet("serve")
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := resolveConfig(*configPath, false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("main")
	logger.Info("loadsched starting", "version", version, "config", cfg.Path)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := events.NewHub(cfg.API.EventBuffer)
	observers := []loader.Observer{events.NewLoaderObserver(hub)}

	var j *journal.Journal
	if cfg.Journal.Enabled {
		pidLock, err := lock.AcquirePIDLock(lock.PathFor(cfg.Journal.Path))
		if err != nil {
			logger.Error("failed to acquire PID lock (another instance may be running)", "error", err)
			return 1
		}
		defer pidLock.Release()

		db, err := storage.OpenSQLite(ctx, cfg.Journal.Path)
		if err != nil {
			logger.Error("failed to open journal", "path", cfg.Journal.Path, "error", err)
			return 1
		}
		defer db.Close()
		logger.Info("journal opened", "path", cfg.Journal.Path)

		j = journal.New(db, log.WithComponent("journal"), cfg.Journal.WriterBuffer)
		defer j.Close()
		observers = append(observers, j)
		go j.RunRetention(ctx, cfg.Journal.PruneInterval, cfg.Journal.Retention)
	}

	opts, err := engineOptions(cfg, observers...)
	if err != nil {
		logger.Error("invalid loader configuration", "error", err)
		return 1
	}
	eng := engine.New(opts)

	errCh := make(chan error, 2)
	go func() {
		if err := eng.Run(ctx); err != nil {
			errCh <- fmt.Errorf("engine: %w", err)
		}
	}()

	if cfg.API.Enabled {
		tokens := make([]auth.TokenConfig, 0, len(cfg.API.Auth.Tokens))
		for _, t := range cfg.API.Auth.Tokens {
			tokens = append(tokens, auth.TokenConfig{Token: t.Token, Scopes: t.Scopes})
		}
		var lj api.LoadJournal
		if j != nil {
			lj = j
		}
		apiServer := api.New(api.Config{
			Listen: cfg.API.Listen,
			APIKey: cfg.API.Auth.APIKey,
			Tokens: tokens,
		}, eng, lj, hub, log.WithComponent("api"))
		go func() {
			if err := apiServer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("api: %w", err)
			}
		}()
	}

	exit := 0
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		logger.Error("component failed", "error", err)
		exit = 1
		stop()
	}
	<-eng.Done()
	if j != nil {
		flushCtx, cancel := context.WithTimeout(context.Background(), flushTimeout)
		if err := j.Flush(flushCtx); err != nil {
			logger.Warn("journal flush incomplete", "error", err)
		}
		cancel()
	}
	logger.Info("loadsched stopped")
	return exit
}
