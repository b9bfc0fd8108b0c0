package main

import (
	"fmt"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/loadsched/internal/tui/watch"
)

func runWatch(args []string) int {
	fs := newFlagSet("watch")
	configPath := fs.String("config", "", "Path to configuration file (supplies api.listen and api.auth.api_key)")
	apiURL := fs.String("api", "", "Base URL of the server (default: from config)")
	apiKey := fs.String("key", os.Getenv("LOADSCHED_API_KEY"), "Bearer token (default: $LOADSCHED_API_KEY or config)")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	if *apiURL == "" || *apiKey == "" {
		cfg, err := resolveConfig(*configPath, true)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			return 1
		}
		if *apiURL == "" {
			*apiURL = baseURL(cfg.API.Listen)
		}
		if *apiKey == "" {
			*apiKey = cfg.API.Auth.APIKey
		}
	}

	p := tea.NewProgram(watch.New(*apiURL, *apiKey), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "watch failed: %v\n", err)
		return 1
	}
	return 0
}

// baseURL turns a listen address into a URL a local client can dial.
func baseURL(listen string) string {
	if strings.HasPrefix(listen, "http://") || strings.HasPrefix(listen, "https://") {
		return listen
	}
	if strings.HasPrefix(listen, ":") {
		listen = "127.0.0.1" + listen
	}
	return "http://" + listen
}
