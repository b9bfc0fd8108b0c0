// Package doctor reviews a loaded loadsched configuration for settings that
// parse cleanly but are likely mistakes.
package doctor

import (
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/mattjoyce/loadsched/internal/config"
	"github.com/mattjoyce/loadsched/internal/storage"
)

// Result holds the outcome of a review.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor reviews one configuration.
type Doctor struct {
	cfg *config.Config

	// checkFS inspects the journal path; replaced in tests.
	checkFS func(string) error
}

// New creates a Doctor for a config that already passed config.Load.
func New(cfg *config.Config) *Doctor {
	return &Doctor{cfg: cfg, checkFS: storage.CheckFilesystem}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateJournal(r)
	d.validateAPIConfig(r)
	d.warnLoaderBudgets(r)
	d.warnTransport(r)
	d.warnDeprecatedSyntax(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) validateJournal(r *Result) {
	j := d.cfg.Journal
	if !j.Enabled {
		if d.cfg.API.Enabled {
			d.addWarning(r, "journal", "journal.enabled",
				"journal disabled; finished loads are only queryable until the process exits")
		}
		return
	}
	if err := d.checkFS(j.Path); err != nil {
		d.addError(r, "journal", "journal.path", err.Error())
	}
	if j.Retention <= 0 || j.PruneInterval <= 0 {
		d.addWarning(r, "journal", "journal.retention",
			"retention pruning disabled; the journal grows without bound")
	} else if j.PruneInterval > j.Retention {
		d.addWarning(r, "journal", "journal.prune_interval",
			fmt.Sprintf("prune_interval %s exceeds retention %s", j.PruneInterval, j.Retention))
	}
}

// validateAPIConfig checks API exposure and authentication.
func (d *Doctor) validateAPIConfig(r *Result) {
	if !d.cfg.API.Enabled {
		return
	}
	host, _, err := net.SplitHostPort(d.cfg.API.Listen)
	if err != nil {
		d.addError(r, "api", "api.listen", fmt.Sprintf("invalid listen address %q: %v", d.cfg.API.Listen, err))
		return
	}
	if !isLoopback(host) {
		d.addWarning(r, "api", "api.listen",
			fmt.Sprintf("API listens on %q, reachable beyond this host", d.cfg.API.Listen))
	}
	if d.cfg.API.EventBuffer <= 0 {
		d.addWarning(r, "api", "api.event_buffer", "event_buffer is zero; /events cannot replay missed events")
	}
}

// warnLoaderBudgets flags admission settings that stall or serialize loads.
func (d *Doctor) warnLoaderBudgets(r *Result) {
	l := d.cfg.Loader
	if l.MaxRequestsPerHost == 1 {
		d.addWarning(r, "loader", "loader.max_requests_per_host",
			"per-host budget of 1 serializes every load to a host")
	}
	if l.MaxRequestsFallback < l.MaxRequestsPerHost {
		d.addWarning(r, "loader", "loader.max_requests_fallback",
			fmt.Sprintf("fallback budget %d is below the per-host budget %d", l.MaxRequestsFallback, l.MaxRequestsPerHost))
	}
	if l.DispatchDelay > time.Second {
		d.addWarning(r, "loader", "loader.dispatch_delay",
			fmt.Sprintf("dispatch_delay %s holds every queued load that long", l.DispatchDelay))
	}
}

func (d *Doctor) warnTransport(r *Result) {
	t := d.cfg.Transport
	if t.Timeout <= 0 {
		d.addWarning(r, "transport", "transport.timeout", "no fetch timeout; a stalled host holds its slot forever")
	}
	if t.MaxBodyBytes <= 0 {
		d.addWarning(r, "transport", "transport.max_body_bytes", "response bodies are unbounded")
	}
	if strings.TrimSpace(t.UserAgent) == "" {
		d.addWarning(r, "transport", "transport.user_agent", "requests go out with Go's default User-Agent")
	}
}

// warnDeprecatedSyntax warns about legacy auth patterns.
func (d *Doctor) warnDeprecatedSyntax(r *Result) {
	auth := d.cfg.API.Auth
	if !d.cfg.API.Enabled || auth.APIKey == "" {
		return
	}
	if len(auth.Tokens) > 0 {
		d.addWarning(r, "deprecated", "api.auth",
			"both api_key and tokens configured; prefer tokens array only")
		return
	}
	d.addWarning(r, "deprecated", "api.auth.api_key",
		"legacy api_key grants full access; migrate to tokens array with scopes")
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// FormatHuman returns a human-readable report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
		return b.String()
	}

	if r.Valid {
		fmt.Fprintf(&b, "Configuration valid (%d warning(s))\n", len(r.Warnings))
	} else {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		writeIssue(&b, "ERROR", e)
	}
	for _, w := range r.Warnings {
		writeIssue(&b, "WARN ", w)
	}
	return b.String()
}

func writeIssue(b *strings.Builder, level string, i Issue) {
	if i.Field != "" {
		fmt.Fprintf(b, "  %s [%s] %s: %s\n", level, i.Category, i.Field, i.Message)
		return
	}
	fmt.Fprintf(b, "  %s [%s] %s\n", level, i.Category, i.Message)
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
