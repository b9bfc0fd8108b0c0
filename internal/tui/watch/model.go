package watch

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/loadsched/internal/api"
	"github.com/mattjoyce/loadsched/internal/events"
	"github.com/mattjoyce/loadsched/internal/loader"
)

const (
	pollInterval   = time.Second
	retryInterval  = 3 * time.Second
	maxEventLog    = 50
	eventChanDepth = 100
)

// Model is the main BubbleTea model for the watch TUI.
type Model struct {
	client Client

	width  int
	height int

	health   HealthState
	snapshot loader.Snapshot
	eventLog []events.Event

	ticker   PassTicker
	activity Activity

	theme     Theme
	hostTable table.Model

	hubEvents chan events.Event

	lastError string
	now       func() time.Time
}

// New creates a watch model for the server at apiURL.
func New(apiURL, apiKey string) *Model {
	return &Model{
		client:    Client{BaseURL: apiURL, APIKey: apiKey},
		eventLog:  make([]events.Event, 0),
		hubEvents: make(chan events.Event, eventChanDepth),
		ticker:    NewPassTicker(),
		theme:     NewDefaultTheme(),
		hostTable: newHostTable(),
		now:       time.Now,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		subscribeToEvents(m.client, m.hubEvents),
		receiveNextEvent(m.hubEvents),
		fetchHealth(m.client),
		fetchHosts(m.client),
		tea.Tick(pollInterval, func(t time.Time) tea.Msg { return tickMsg(t) }),
		tea.EnterAltScreen,
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "s":
			if m.snapshot.Suspended {
				return m, sendControl(m.client, "/resume")
			}
			return m, sendControl(m.client, "/suspend")
		case "d":
			return m, sendControl(m.client, "/serve")
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.hostTable.SetColumns(hostColumns(m.width))
		m.hostTable.SetWidth(m.width - 6)
		m.hostTable.SetHeight(max(4, m.height/3))

	case tickMsg:
		m.activity.Decay(m.now())
		return m, tea.Batch(
			fetchHealth(m.client),
			fetchHosts(m.client),
			tea.Tick(pollInterval, func(t time.Time) tea.Msg { return tickMsg(t) }),
		)

	case eventMsg:
		e := events.Event(msg)
		m.eventLog = append([]events.Event{e}, m.eventLog...)
		if len(m.eventLog) > maxEventLog {
			m.eventLog = m.eventLog[:maxEventLog]
		}
		m.activity.OnEvent(m.now())
		m.health.Connected = true
		m.lastError = ""
		return m, receiveNextEvent(m.hubEvents)

	case healthMsg:
		m.health.HealthzResponse = api.HealthzResponse(msg)
		m.health.Connected = true
		m.health.LastCheck = m.now()
		m.lastError = ""
		return m, nil

	case hostsMsg:
		m.snapshot = loader.Snapshot(msg)
		m.ticker.Observe(m.snapshot.Stats.DispatchPasses)
		m.hostTable.SetRows(hostRows(m.snapshot.Hosts))
		return m, nil

	case controlMsg:
		m.lastError = ""
		return m, fetchHosts(m.client)

	case sseDisconnectedMsg:
		m.health.Connected = false
		m.lastError = "SSE disconnected, reconnecting..."
		// The pending receiveNextEvent keeps reading the same channel.
		return m, tea.Tick(retryInterval, func(time.Time) tea.Msg { return reconnectMsg{} })

	case reconnectMsg:
		return m, subscribeToEvents(m.client, m.hubEvents)

	case errMsg:
		m.lastError = msg.Error()
		return m, nil
	}

	var cmd tea.Cmd
	m.hostTable, cmd = m.hostTable.Update(msg)
	return m, cmd
}

func (m Model) View() string {
	if m.width == 0 {
		return "Connecting to loadsched..."
	}

	parts := []string{
		renderHeader(m.health, m.ticker, m.activity, m.theme, m.width),
		renderHosts(m.hostTable, m.snapshot, m.theme, m.width),
		renderEventStream(m.eventLog, m.theme, m.width),
	}
	if m.lastError != "" {
		parts = append(parts, m.theme.StatusFailed.Render(fmt.Sprintf(" ⚠ %s", m.lastError)))
	}
	parts = append(parts, lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")).
		Render(" [q] Quit • [s] Suspend/Resume • [d] Dispatch now • [↑/↓] Hosts"))

	return lipgloss.NewStyle().Margin(1, 2).Render(
		lipgloss.JoinVertical(lipgloss.Left, parts...),
	)
}
