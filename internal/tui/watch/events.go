package watch

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/loadsched/internal/events"
)

const maxShownEvents = 10

func renderEventStream(eventLog []events.Event, theme Theme, width int) string {
	innerWidth := width - 4

	if len(eventLog) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("EVENT STREAM"),
			theme.Dim.Render("  Waiting for events..."),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	var lines []string
	for _, e := range eventLog[:min(len(eventLog), maxShownEvents)] {
		lines = append(lines, formatEvent(e, theme))
	}

	eventsText := lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n"))
	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("EVENT STREAM"),
		eventsText,
	)
	return theme.Border.Width(innerWidth).Render(content)
}

func formatEvent(e events.Event, theme Theme) string {
	ts := theme.Dim.Render(e.At.Format("15:04:05"))

	var typeStyle lipgloss.Style
	switch e.Type {
	case events.TypeLoadCompleted:
		typeStyle = theme.StatusOK
	case events.TypeLoadFailed, events.TypeLoadCancelled:
		typeStyle = theme.StatusFailed
	case events.TypeLoadAdmitted:
		typeStyle = theme.StatusRunning
	case events.TypeLoaderSuspend, events.TypeLoaderResume, events.TypeHostEvicted:
		typeStyle = theme.Highlight
	default:
		typeStyle = theme.StatusQueued
	}

	typeName := typeStyle.Render(fmt.Sprintf("%-16s", e.Type))
	return fmt.Sprintf("%s %s %s", ts, typeName, extractEventDesc(e))
}

// extractEventDesc summarises the payload of a load or host event.
func extractEventDesc(e events.Event) string {
	var data struct {
		ID       string `json:"id"`
		URL      string `json:"url"`
		Owner    string `json:"owner"`
		Priority string `json:"priority"`
		Error    string `json:"error"`
		Endpoint string `json:"endpoint"`
	}
	_ = json.Unmarshal(e.Data, &data)

	var parts []string
	if data.ID != "" {
		id := data.ID
		if len(id) > 8 {
			id = id[:8]
		}
		parts = append(parts, fmt.Sprintf("[%s]", id))
	}
	if data.Owner != "" {
		parts = append(parts, data.Owner)
	}
	if data.Priority != "" {
		parts = append(parts, data.Priority)
	}
	switch {
	case data.URL != "":
		parts = append(parts, truncate(data.URL, 60))
	case data.Endpoint != "":
		parts = append(parts, data.Endpoint)
	}
	if data.Error != "" {
		parts = append(parts, "error: "+truncate(data.Error, 40))
	}
	return strings.Join(parts, " ")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
