package loader

import (
	"fmt"
	"time"
)

// Owner identifies the context (typically a document) that issued a request.
// It is only compared, never dereferenced.
type Owner string

// State is the lifecycle position of a Request.
type State int

const (
	StateQueued State = iota
	StateInFlight
	StateCompleted
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateQueued:
		return "queued"
	case StateInFlight:
		return "in_flight"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition can leave s.
func (s State) Terminal() bool {
	return s >= StateCompleted
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(b []byte) error {
	for v := StateQueued; v <= StateCancelled; v++ {
		if v.String() == string(b) {
			*s = v
			return nil
		}
	}
	return fmt.Errorf("unknown request state %q", b)
}

// LoadRequest is the input to Loader.Load. The zero values of the flags select
// the default behavior: incremental delivery, security checks on, callbacks on.
type LoadRequest struct {
	Owner    Owner
	Resource Resource

	// Priority forces a bucket; PriorityAuto derives it from Resource.Kind.
	Priority Priority

	// Buffered holds body chunks until Finished instead of forwarding them as
	// they arrive.
	Buffered bool

	// SkipSecurityCheck and SuppressCallbacks are passed through to the
	// transport untouched.
	SkipSecurityCheck bool
	SuppressCallbacks bool
}

// Request is one scheduled load. Exported fields are fixed at creation; the
// lifecycle fields are owned by the Host that holds the request.
type Request struct {
	ID            string
	URL           string
	Endpoint      EndpointKey
	Owner         Owner
	Kind          Kind
	Priority      Priority
	Resource      Resource
	Incremental   bool
	SecurityCheck bool
	SendCallbacks bool
	EnqueuedAt    time.Time

	state       State
	handle      Handle
	startedAt   time.Time
	completedAt time.Time
	err         error
	cancelSent  bool
	buffered    []byte
}

// State returns the current lifecycle state.
func (r *Request) State() State { return r.state }

// Handle returns the transport handle; zero until admitted.
func (r *Request) Handle() Handle { return r.handle }

// RequestInfo is a point-in-time copy of a request for observers.
type RequestInfo struct {
	ID          string      `json:"id"`
	URL         string      `json:"url"`
	Endpoint    EndpointKey `json:"endpoint"`
	Owner       Owner       `json:"owner"`
	Kind        Kind        `json:"kind"`
	Priority    Priority    `json:"priority"`
	State       State       `json:"state"`
	Error       string      `json:"error,omitempty"`
	EnqueuedAt  time.Time   `json:"enqueued_at"`
	StartedAt   *time.Time  `json:"started_at,omitempty"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
}

// Info snapshots r.
func (r *Request) Info() RequestInfo {
	info := RequestInfo{
		ID:         r.ID,
		URL:        r.URL,
		Endpoint:   r.Endpoint,
		Owner:      r.Owner,
		Kind:       r.Kind,
		Priority:   r.Priority,
		State:      r.state,
		EnqueuedAt: r.EnqueuedAt,
	}
	if r.err != nil {
		info.Error = r.err.Error()
	}
	if !r.startedAt.IsZero() {
		t := r.startedAt
		info.StartedAt = &t
	}
	if !r.completedAt.IsZero() {
		t := r.completedAt
		info.CompletedAt = &t
	}
	return info
}
