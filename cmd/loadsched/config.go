package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/mattjoyce/loadsched/internal/config"
	"github.com/mattjoyce/loadsched/internal/doctor"
)

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		printConfigNounHelp(os.Stderr)
		return 1
	}

	if isHelpToken(args[0]) {
		printConfigNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "check":
		if hasHelpFlag(actionArgs) {
			printConfigNounHelp(os.Stdout)
			return 0
		}
		return runConfigCheck(actionArgs)
	case "lock":
		if hasHelpFlag(actionArgs) {
			printConfigNounHelp(os.Stdout)
			return 0
		}
		return runConfigLock(actionArgs)
	case "get":
		if hasHelpFlag(actionArgs) {
			printConfigNounHelp(os.Stdout)
			return 0
		}
		return runConfigGet(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return 1
	}
}

func printConfigNounHelp(w io.Writer) {
	fmt.Fprint(w, `Usage: loadsched config <action> [flags]

Actions:
  check [--strict] [--json]   Validate syntax, integrity, and policy
  lock [--dry-run] [-v]       Record the config's BLAKE3 hash in .checksums
  get <path> [--json]         Print one value, e.g. loader.max_requests_per_host

Every action accepts --config <file|dir>.
`)
}

// discoverPath returns configPath, or the discovered config when empty.
func discoverPath(configPath string) (string, error) {
	if configPath != "" {
		return configPath, nil
	}
	return config.Discover()
}

func runConfigCheck(args []string) int {
	fs := newFlagSet("check")
	configPath := fs.String("config", "", "Path to configuration file or directory")
	strict := fs.Bool("strict", false, "Treat warnings as errors")
	jsonOut := fs.Bool("json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	path, err := discoverPath(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
		return 1
	}
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config load error: %v\n", err)
		return 1
	}

	result := doctor.New(cfg).Validate()
	if *jsonOut {
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "JSON format error: %v\n", err)
			return 1
		}
		fmt.Println(out)
	} else {
		fmt.Print(doctor.FormatHuman(result))
		fmt.Printf("  config: %s (%s)\n", cfg.Path, lockState(cfg.Path))
	}

	if !result.Valid {
		return 1
	}
	if *strict && len(result.Warnings) > 0 {
		return 2
	}
	return 0
}

// lockState reports whether the config beside path is covered by .checksums.
// Load has already verified the hash when it is.
func lockState(path string) string {
	manifest, err := config.LoadChecksums(filepath.Dir(path))
	if errors.Is(err, config.ErrNoChecksums) {
		return "unlocked"
	}
	if err != nil {
		return "checksums unreadable"
	}
	if _, ok := manifest.Hashes[filepath.Base(path)]; !ok {
		return "unlocked"
	}
	return "locked"
}

func runConfigLock(args []string) int {
	var verbose, verboseShort bool
	fs := newFlagSet("lock")
	configPath := fs.String("config", "", "Path to configuration file or directory")
	dryRun := fs.Bool("dry-run", false, "Compute the hash without writing .checksums")
	fs.BoolVar(&verbose, "verbose", false, "Verbose output")
	fs.BoolVar(&verboseShort, "v", false, "Verbose output")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	path, err := discoverPath(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
		return 1
	}
	report, err := config.Lock(path, *dryRun)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to lock config: %v\n", err)
		return 1
	}

	if verbose || verboseShort {
		fmt.Printf("  HASH %s: %s\n", filepath.Base(report.ConfigPath), report.Hash)
	}
	if report.Written {
		fmt.Printf("Locked %s\n  WROTE %s\n", report.ConfigPath, report.ChecksumPath)
	} else {
		fmt.Printf("Dry run for %s\n  DRY-RUN %s (not written)\n", report.ConfigPath, report.ChecksumPath)
	}
	return 0
}

func runConfigGet(args []string) int {
	fs := newFlagSet("get")
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	if fs.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "Usage: loadsched config get <path> [--json]\n")
		return 1
	}

	cfg, err := resolveConfig(*configPath, false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}

	val, err := cfg.GetPath(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	if *jsonOut {
		data, _ := json.MarshalIndent(val, "", "  ")
		fmt.Println(string(data))
	} else {
		fmt.Printf("%v\n", val)
	}
	return 0
}
