package watch

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/loadsched/internal/api"
)

// HealthState tracks server health from /healthz polling.
type HealthState struct {
	api.HealthzResponse
	Connected bool
	LastCheck time.Time
}

// PassTicker turns one frame per observed dispatch pass, so a frozen frame
// means the loader has stopped dispatching.
type PassTicker struct {
	frames []string
	index  int
	passes uint64
}

func NewPassTicker() PassTicker {
	return PassTicker{frames: []string{"◐", "◓", "◑", "◒"}}
}

// Observe advances the frame when the pass counter moved.
func (t *PassTicker) Observe(passes uint64) {
	if passes == t.passes {
		return
	}
	t.passes = passes
	t.index = (t.index + 1) % len(t.frames)
}

func (t PassTicker) Current() string {
	return t.frames[t.index]
}

// Activity shows event activity with dots that fade over time.
type Activity struct {
	dots      int
	lastEvent time.Time
}

func (a *Activity) OnEvent(at time.Time) {
	a.dots = 5
	a.lastEvent = at
}

// Decay drops one dot per two quiet seconds.
func (a *Activity) Decay(now time.Time) {
	if a.dots == 0 {
		return
	}
	quiet := int(now.Sub(a.lastEvent) / (2 * time.Second))
	a.dots = max(0, 5-quiet)
}

func (a Activity) Render(theme Theme) string {
	var b strings.Builder
	for i := range 5 {
		if i < a.dots {
			b.WriteString(theme.TickerActive.Render("●"))
		} else {
			b.WriteString(theme.TickerInactive.Render("○"))
		}
	}
	return b.String()
}

func renderHeader(health HealthState, ticker PassTicker, activity Activity, theme Theme, width int) string {
	innerWidth := width - 4

	statusText := theme.StatusOK.Render("RUNNING")
	switch {
	case !health.Connected:
		statusText = theme.StatusFailed.Render("CONNECTING")
	case health.Suspended:
		statusText = theme.StatusSuspended.Render("SUSPENDED")
	case health.Status != "ok" && health.Status != "":
		statusText = theme.StatusFailed.Render("DEGRADED")
	}

	uptime := formatDuration(time.Duration(health.UptimeSeconds) * time.Second)

	lastEvent := "never"
	if !activity.lastEvent.IsZero() {
		lastEvent = fmt.Sprintf("%s ago", time.Since(activity.lastEvent).Round(time.Second))
	}

	clock := theme.Dim.Render(time.Now().Format("15:04:05"))
	titleText := fmt.Sprintf(" LOADSCHED WATCH %s", theme.Highlight.Render(ticker.Current()))
	pad := max(1, innerWidth-lipgloss.Width(titleText)-lipgloss.Width(clock)-4)
	titleLine := titleText + strings.Repeat(" ", pad) + clock + " "

	stats := health.Stats
	statsLine := fmt.Sprintf(" %s  up %s  hosts %d  queued %d  in flight %d",
		statusText, uptime, health.Hosts, health.Queued, health.InFlight)
	countersLine := fmt.Sprintf(" enqueued %d  admitted %d  completed %d  failed %d  cancelled %d  passes %d",
		stats.Enqueued, stats.Admitted, stats.Completed, stats.Failed, stats.Cancelled, stats.DispatchPasses)
	activityLine := fmt.Sprintf(" Last event: %s %s", lastEvent, activity.Render(theme))

	content := lipgloss.JoinVertical(lipgloss.Left,
		titleLine,
		statsLine,
		theme.Dim.Render(countersLine),
		activityLine,
	)
	return theme.Border.Width(innerWidth).Render(content)
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}
