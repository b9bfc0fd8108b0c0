package loader

import "fmt"

// DispatchState is the position of the dispatch pipeline.
type DispatchState int

const (
	DispatchIdle DispatchState = iota
	DispatchArmed
	DispatchRunning
)

func (s DispatchState) String() string {
	switch s {
	case DispatchArmed:
		return "armed"
	case DispatchRunning:
		return "dispatching"
	default:
		return "idle"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s DispatchState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *DispatchState) UnmarshalText(b []byte) error {
	for v := DispatchIdle; v <= DispatchRunning; v++ {
		if v.String() == string(b) {
			*s = v
			return nil
		}
	}
	return fmt.Errorf("unknown dispatch state %q", b)
}

// dispatchTimer coalesces arm requests into one posted callback per tick.
// stop invalidates an outstanding callback through the generation counter, so a
// later arm never races a stale one.
type dispatchTimer struct {
	ticker Ticker
	fire   func()
	armed  bool
	gen    uint64
}

// arm posts the callback unless one is already outstanding. It reports whether
// a new callback was posted.
func (t *dispatchTimer) arm() bool {
	if t.armed {
		return false
	}
	t.armed = true
	t.gen++
	gen := t.gen
	t.ticker.Post(func() { t.fired(gen) })
	return true
}

func (t *dispatchTimer) stop() {
	t.armed = false
}

func (t *dispatchTimer) fired(gen uint64) {
	if !t.armed || gen != t.gen {
		return
	}
	t.armed = false
	t.fire()
}
