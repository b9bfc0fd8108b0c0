// Package inspect renders what the journal recorded for one owner's loads.
package inspect

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mattjoyce/loadsched/internal/journal"
)

// Lister reads journaled loads for an owner.
type Lister interface {
	ListByOwner(ctx context.Context, owner string, limit int) ([]journal.Record, error)
}

// Report is the structured JSON representation of an owner report.
type Report struct {
	Owner   string         `json:"owner"`
	Total   int            `json:"total"`
	States  map[string]int `json:"states"`
	Hosts   []HostSummary  `json:"hosts"`
	Loads   []Step         `json:"loads"`
	Elapsed string         `json:"elapsed,omitempty"`
}

// HostSummary totals an owner's loads against one endpoint.
type HostSummary struct {
	Endpoint  string `json:"endpoint"`
	Loads     int    `json:"loads"`
	Completed int    `json:"completed"`
	Failed    int    `json:"failed"`
}

// Step is one load in enqueue order.
type Step struct {
	Seq       int    `json:"seq"`
	ID        string `json:"id"`
	URL       string `json:"url"`
	Endpoint  string `json:"endpoint"`
	Kind      string `json:"kind"`
	Priority  string `json:"priority"`
	State     string `json:"state"`
	Error     string `json:"error,omitempty"`
	QueueWait string `json:"queue_wait,omitempty"`
	Duration  string `json:"duration,omitempty"`
}

// BuildReport renders a terminal-friendly report for owner.
func BuildReport(ctx context.Context, j Lister, owner string, limit int) (string, error) {
	report, err := gatherReportData(ctx, j, owner, limit)
	if err != nil {
		return "", err
	}

	var out strings.Builder
	fmt.Fprintf(&out, "Load Report\n")
	fmt.Fprintf(&out, "Owner       : %s\n", report.Owner)
	fmt.Fprintf(&out, "Loads       : %d\n", report.Total)
	fmt.Fprintf(&out, "States      : %s\n", renderStates(report.States))
	if report.Elapsed != "" {
		fmt.Fprintf(&out, "Elapsed     : %s\n", report.Elapsed)
	}
	fmt.Fprintf(&out, "\n")

	for _, h := range report.Hosts {
		fmt.Fprintf(&out, "host %s : %d loads, %d completed, %d failed\n", h.Endpoint, h.Loads, h.Completed, h.Failed)
	}
	if len(report.Hosts) > 0 {
		fmt.Fprintf(&out, "\n")
	}

	for _, step := range report.Loads {
		fmt.Fprintf(&out, "[%d] %s %s\n", step.Seq, step.State, step.URL)
		fmt.Fprintf(&out, "    id         : %s\n", step.ID)
		fmt.Fprintf(&out, "    kind       : %s (%s)\n", step.Kind, step.Priority)
		fmt.Fprintf(&out, "    queue_wait : %s\n", renderUnset(step.QueueWait, "<not started>"))
		fmt.Fprintf(&out, "    duration   : %s\n", renderUnset(step.Duration, "<unfinished>"))
		if step.Error != "" {
			fmt.Fprintf(&out, "    error      : %s\n", step.Error)
		}
		fmt.Fprintf(&out, "\n")
	}

	return strings.TrimRight(out.String(), "\n") + "\n", nil
}

// BuildJSONReport returns the machine-readable report.
func BuildJSONReport(ctx context.Context, j Lister, owner string, limit int) (string, error) {
	report, err := gatherReportData(ctx, j, owner, limit)
	if err != nil {
		return "", err
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal json report: %w", err)
	}
	return string(data), nil
}

func gatherReportData(ctx context.Context, j Lister, owner string, limit int) (*Report, error) {
	if strings.TrimSpace(owner) == "" {
		return nil, fmt.Errorf("owner is required")
	}

	records, err := j.ListByOwner(ctx, owner, limit)
	if err != nil {
		return nil, fmt.Errorf("list loads for %q: %w", owner, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("no loads journaled for owner %q", owner)
	}

	// Oldest first reads as a timeline.
	sort.SliceStable(records, func(a, b int) bool {
		return records[a].EnqueuedAt.Before(records[b].EnqueuedAt)
	})

	report := &Report{
		Owner:  owner,
		Total:  len(records),
		States: make(map[string]int),
		Loads:  make([]Step, 0, len(records)),
	}
	hosts := make(map[string]*HostSummary)
	var first, last time.Time

	for idx, rec := range records {
		report.States[rec.State]++

		h, ok := hosts[rec.Endpoint]
		if !ok {
			h = &HostSummary{Endpoint: rec.Endpoint}
			hosts[rec.Endpoint] = h
		}
		h.Loads++
		switch rec.State {
		case "completed":
			h.Completed++
		case "failed":
			h.Failed++
		}

		step := Step{
			Seq:      idx + 1,
			ID:       rec.ID,
			URL:      rec.URL,
			Endpoint: rec.Endpoint,
			Kind:     rec.Kind,
			Priority: rec.Priority,
			State:    rec.State,
		}
		if rec.Error != nil {
			step.Error = *rec.Error
		}
		if rec.StartedAt != nil {
			step.QueueWait = rec.StartedAt.Sub(rec.EnqueuedAt).Round(time.Millisecond).String()
		}
		if rec.StartedAt != nil && rec.CompletedAt != nil {
			step.Duration = rec.CompletedAt.Sub(*rec.StartedAt).Round(time.Millisecond).String()
		}
		report.Loads = append(report.Loads, step)

		if first.IsZero() || rec.EnqueuedAt.Before(first) {
			first = rec.EnqueuedAt
		}
		if rec.CompletedAt != nil && rec.CompletedAt.After(last) {
			last = *rec.CompletedAt
		}
	}
	if !last.IsZero() && allTerminal(records) {
		report.Elapsed = last.Sub(first).Round(time.Millisecond).String()
	}

	report.Hosts = make([]HostSummary, 0, len(hosts))
	for _, h := range hosts {
		report.Hosts = append(report.Hosts, *h)
	}
	sort.Slice(report.Hosts, func(a, b int) bool { return report.Hosts[a].Endpoint < report.Hosts[b].Endpoint })

	return report, nil
}

// allTerminal reports whether every record has finished.
func allTerminal(records []journal.Record) bool {
	for _, r := range records {
		if !r.Terminal() {
			return false
		}
	}
	return true
}

func renderStates(states map[string]int) string {
	order := []string{"queued", "in_flight", "completed", "failed", "cancelled"}
	parts := make([]string, 0, len(states))
	for _, s := range order {
		if n := states[s]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s=%d", s, n))
		}
	}
	return strings.Join(parts, " ")
}

func renderUnset(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
