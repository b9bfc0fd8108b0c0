package journal

import (
	"errors"
	"time"
)

// ErrNotFound is returned when no load_log row has the requested id.
var ErrNotFound = errors.New("journal: load not found")

// ErrClosed is returned by Flush after Close.
var ErrClosed = errors.New("journal: closed")

// Record is one row of load_log.
type Record struct {
	ID          string     `json:"id"`
	Owner       string     `json:"owner"`
	URL         string     `json:"url"`
	Endpoint    string     `json:"endpoint"`
	Kind        string     `json:"kind"`
	Priority    string     `json:"priority"`
	State       string     `json:"state"`
	Error       *string    `json:"error,omitempty"`
	EnqueuedAt  time.Time  `json:"enqueued_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Terminal reports whether the load has finished one way or another.
func (r Record) Terminal() bool {
	switch r.State {
	case "completed", "failed", "cancelled":
		return true
	}
	return false
}

// timeLayout is fixed width so stored timestamps sort lexicographically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) (time.Time, error) { return time.Parse(timeLayout, s) }
