package watch

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/loadsched/internal/loader"
)

func newHostTable() table.Model {
	t := table.New(
		table.WithColumns(hostColumns(80)),
		table.WithFocused(true),
		table.WithHeight(8),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)
	return t
}

// hostColumns gives the endpoint column whatever the counters leave over.
func hostColumns(width int) []table.Column {
	counters := []table.Column{
		{Title: "High", Width: 5},
		{Title: "Med", Width: 5},
		{Title: "Low", Width: 5},
		{Title: "Flight", Width: 7},
		{Title: "NonCache", Width: 8},
		{Title: "Budget", Width: 7},
	}
	used := 0
	for _, c := range counters {
		used += c.Width + 2
	}
	endpoint := max(16, width-used-10)
	return append([]table.Column{{Title: "Endpoint", Width: endpoint}}, counters...)
}

func hostRows(hosts []loader.HostSnapshot) []table.Row {
	rows := make([]table.Row, 0, len(hosts))
	for _, h := range hosts {
		endpoint := string(h.Endpoint)
		if h.Endpoint == loader.FallbackEndpoint {
			endpoint += " (fallback)"
		}
		rows = append(rows, table.Row{
			endpoint,
			strconv.Itoa(h.QueuedHigh),
			strconv.Itoa(h.QueuedMedium),
			strconv.Itoa(h.QueuedLow),
			strconv.Itoa(h.InFlight),
			strconv.Itoa(h.NonCache),
			fmt.Sprintf("%d/%d", h.InFlight+h.NonCache, h.MaxConcurrent),
		})
	}
	return rows
}

func renderHosts(t table.Model, snap loader.Snapshot, theme Theme, width int) string {
	title := theme.Title.Render(fmt.Sprintf("HOSTS  dispatch: %s", snap.Dispatch))
	if snap.Deferred {
		title += theme.StatusSuspended.Render(" (deferred)")
	}
	return theme.Border.Width(width - 4).Render(lipgloss.JoinVertical(lipgloss.Left, title, t.View()))
}
