package loader

import (
	"fmt"
	"log/slog"
	"sort"
)

// Host queues and admits the requests bound for one endpoint.
type Host struct {
	key           EndpointKey
	maxConcurrent int
	loader        *Loader
	logger        *slog.Logger

	pending          [numPriorities][]*Request
	inFlight         map[Handle]*Request
	nonCacheInFlight int
}

func newHost(l *Loader, key EndpointKey, maxConcurrent int) *Host {
	return &Host{
		key:           key,
		maxConcurrent: maxConcurrent,
		loader:        l,
		logger:        l.logger.With("endpoint", string(key)),
		inFlight:      make(map[Handle]*Request),
	}
}

// Key returns the endpoint this Host serves.
func (h *Host) Key() EndpointKey { return h.key }

// enqueue appends req to the bucket of its priority.
func (h *Host) enqueue(req *Request) {
	b := req.Priority.bucket()
	h.pending[b] = append(h.pending[b], req)
}

func (h *Host) load() int {
	return len(h.inFlight) + h.nonCacheInFlight
}

func (h *Host) queued() int {
	n := 0
	for _, q := range h.pending {
		n += len(q)
	}
	return n
}

// highestReady returns the highest priority with a queued request.
func (h *Host) highestReady() (Priority, bool) {
	for p := High; p >= Low; p-- {
		if len(h.pending[p.bucket()]) > 0 {
			return p, true
		}
	}
	return PriorityAuto, false
}

// hasOutstandingWork reports whether anything is queued, in flight, or counted
// as a non-cache request.
func (h *Host) hasOutstandingWork() bool {
	return h.queued() > 0 || len(h.inFlight) > 0 || h.nonCacheInFlight > 0
}

// servePending admits queued requests, highest priority first, down to min,
// until the budget is spent. It never touches requests already in flight.
func (h *Host) servePending(min Priority) {
	if h.loader.suspended {
		return
	}
	if !min.Valid() {
		min = Low
	}
	for p := High; p >= min; p-- {
		b := p.bucket()
		for len(h.pending[b]) > 0 {
			if h.load() >= h.maxConcurrent {
				return
			}
			req := h.pending[b][0]
			h.pending[b][0] = nil
			h.pending[b] = h.pending[b][1:]
			h.admit(req)
		}
	}
}

func (h *Host) admit(req *Request) {
	handle, err := h.loader.transport.Start(req, h)
	if err != nil {
		h.logger.Warn("transport refused request", "request_id", req.ID, "url", req.URL, "error", err)
		h.complete(req, StateFailed, Failed{Err: fmt.Errorf("%w: %w", ErrTransportStart, err)})
		return
	}
	if _, dup := h.inFlight[handle]; dup {
		h.logger.Error("transport reused an active handle", "handle", uint64(handle), "request_id", req.ID)
		h.complete(req, StateFailed, Failed{Err: fmt.Errorf("%w: duplicate handle %d", ErrTransportStart, handle)})
		return
	}

	req.state = StateInFlight
	req.handle = handle
	req.startedAt = h.loader.now()
	h.inFlight[handle] = req
	h.loader.stats.admitted.Add(1)
	h.logger.Debug("admitted request",
		"request_id", req.ID,
		"priority", req.Priority.String(),
		"in_flight", len(h.inFlight),
		"non_cache", h.nonCacheInFlight,
	)
	h.loader.observer.RequestChanged(req.Info())
}

// Deliver routes a transport event to the request holding handle. Events for
// handles this Host does not know are dropped.
func (h *Host) Deliver(handle Handle, ev Event) {
	req, ok := h.inFlight[handle]
	if !ok {
		h.logger.Debug("dropping event for unknown handle", "handle", uint64(handle), "event", fmt.Sprintf("%T", ev))
		return
	}

	switch e := ev.(type) {
	case ResponseReceived:
		req.Resource.HandleEvent(e)
	case DataReceived:
		if req.Incremental {
			req.Resource.HandleEvent(e)
		} else {
			req.buffered = append(req.buffered, e.Data...)
		}
	case Finished:
		delete(h.inFlight, handle)
		if !req.Incremental && len(req.buffered) > 0 {
			data := req.buffered
			req.buffered = nil
			req.Resource.HandleEvent(DataReceived{Data: data})
		}
		h.complete(req, StateCompleted, e)
	case Failed:
		delete(h.inFlight, handle)
		req.buffered = nil
		state := StateFailed
		if e.Cancelled {
			state = StateCancelled
			if e.Err == nil {
				e.Err = ErrCancelled
			}
		}
		h.complete(req, state, e)
	}
	if terminal(ev) {
		h.servePending(Low)
	}
}

// complete moves req to a terminal state and reports ev to its resource.
func (h *Host) complete(req *Request, state State, ev Event) {
	req.state = state
	req.completedAt = h.loader.now()
	if f, ok := ev.(Failed); ok {
		req.err = f.Err
	}
	req.Resource.HandleEvent(ev)
	h.loader.requestDone(req)
}

// cancelAll drops owner's queued requests and asks the transport to cancel its
// in-flight ones. It returns how many of each were affected.
func (h *Host) cancelAll(owner Owner) (queued, inFlight int) {
	var dropped []*Request
	for b := range h.pending {
		keep := h.pending[b][:0]
		for _, req := range h.pending[b] {
			if req.Owner == owner {
				dropped = append(dropped, req)
			} else {
				keep = append(keep, req)
			}
		}
		for i := len(keep); i < len(h.pending[b]); i++ {
			h.pending[b][i] = nil
		}
		h.pending[b] = keep
	}
	for _, req := range dropped {
		h.complete(req, StateCancelled, Failed{Err: ErrCancelled, Cancelled: true})
	}

	var active []*Request
	for _, req := range h.inFlight {
		if req.Owner == owner && !req.cancelSent {
			active = append(active, req)
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].handle < active[j].handle })
	for _, req := range active {
		req.cancelSent = true
		h.loader.transport.Cancel(req.handle)
	}

	if len(dropped) > 0 || len(active) > 0 {
		h.logger.Info("cancelled requests for owner",
			"owner", string(owner),
			"queued", len(dropped),
			"in_flight", len(active),
		)
	}
	return len(dropped), len(active)
}

func (h *Host) trackNonCacheRequestStart() {
	h.nonCacheInFlight++
}

func (h *Host) trackNonCacheRequestEnd() error {
	if h.nonCacheInFlight == 0 {
		return fmt.Errorf("%w: %s", ErrNonCacheUnderflow, h.key)
	}
	h.nonCacheInFlight--
	return nil
}

// HostSnapshot is a point-in-time view of one Host.
type HostSnapshot struct {
	Endpoint      EndpointKey `json:"endpoint"`
	QueuedHigh    int         `json:"queued_high"`
	QueuedMedium  int         `json:"queued_medium"`
	QueuedLow     int         `json:"queued_low"`
	InFlight      int         `json:"in_flight"`
	NonCache      int         `json:"non_cache"`
	MaxConcurrent int         `json:"max_concurrent"`
}

func (h *Host) snapshot() HostSnapshot {
	return HostSnapshot{
		Endpoint:      h.key,
		QueuedHigh:    len(h.pending[High.bucket()]),
		QueuedMedium:  len(h.pending[Medium.bucket()]),
		QueuedLow:     len(h.pending[Low.bucket()]),
		InFlight:      len(h.inFlight),
		NonCache:      h.nonCacheInFlight,
		MaxConcurrent: h.maxConcurrent,
	}
}
