package loader

import (
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultMaxRequestsPerHost is the admission budget of a network Host.
	DefaultMaxRequestsPerHost = 6

	// DefaultMaxRequestsFallback is the admission budget of the fallback Host.
	DefaultMaxRequestsFallback = 20
)

// Options configure a Loader. Zero values are replaced by defaults.
type Options struct {
	MaxRequestsPerHost  int
	MaxRequestsFallback int

	// EagerDispatch serves a new request immediately when it is not Low
	// priority, targets the fallback Host, or is the first work for its Host.
	// Otherwise every admission waits for the next dispatch tick.
	EagerDispatch bool

	// Priorities overrides the kind → priority table.
	Priorities PriorityTable

	Logger   *slog.Logger
	Observer Observer

	// Now and NewID exist for tests.
	Now   func() time.Time
	NewID func() string
}

func (o *Options) fillDefaults() {
	if o.MaxRequestsPerHost <= 0 {
		o.MaxRequestsPerHost = DefaultMaxRequestsPerHost
	}
	if o.MaxRequestsFallback <= 0 {
		o.MaxRequestsFallback = DefaultMaxRequestsFallback
	}
	o.Priorities = DefaultPriorities().Merge(o.Priorities)
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Observer == nil {
		o.Observer = NopObserver{}
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.NewID == nil {
		o.NewID = uuid.NewString
	}
}

// Loader routes requests to per-endpoint Hosts and drives admission.
type Loader struct {
	opts      Options
	transport Transport
	logger    *slog.Logger
	observer  Observer

	hosts    map[EndpointKey]*Host
	fallback *Host

	timer       dispatchTimer
	dispatching bool

	suspended             bool
	pendingWhileSuspended bool

	owners map[Owner]int
	stats  Stats
}

// New creates a Loader that starts fetches on t and schedules dispatch ticks
// on ticker.
func New(t Transport, ticker Ticker, opts Options) *Loader {
	opts.fillDefaults()
	l := &Loader{
		opts:      opts,
		transport: t,
		logger:    opts.Logger.With("component", "loader"),
		observer:  opts.Observer,
		hosts:     make(map[EndpointKey]*Host),
		owners:    make(map[Owner]int),
	}
	l.fallback = newHost(l, FallbackEndpoint, opts.MaxRequestsFallback)
	l.timer = dispatchTimer{ticker: ticker, fire: l.onTick}
	return l
}

func (l *Loader) now() time.Time { return l.opts.Now() }

// Stats returns the outcome counters. Safe to read from any goroutine.
func (l *Loader) Stats() *Stats { return &l.stats }

// DeterminePriority returns the priority a resource of kind k gets when the
// caller does not force one.
func (l *Loader) DeterminePriority(k Kind) Priority {
	return l.opts.Priorities.Lookup(k)
}

// hostFor returns the Host serving locator, creating it on demand. The boolean
// is false when the locator was routed to the fallback Host.
func (l *Loader) hostFor(locator string) (*Host, bool) {
	key, ok := ResolveEndpoint(locator)
	if !ok {
		return l.fallback, false
	}
	h, exists := l.hosts[key]
	if !exists {
		h = newHost(l, key, l.opts.MaxRequestsPerHost)
		l.hosts[key] = h
		l.logger.Debug("created host", "endpoint", string(key), "max_concurrent", h.maxConcurrent)
	}
	return h, true
}

// Load queues a fetch of in.Resource for in.Owner and returns the request.
func (l *Loader) Load(in LoadRequest) (*Request, error) {
	if in.Resource == nil {
		return nil, ErrNilResource
	}
	if in.Owner == "" {
		return nil, ErrNoOwner
	}

	locator := in.Resource.URL()
	host, routed := l.hostFor(locator)
	if !routed {
		l.logger.Debug("no network route, using fallback host", "url", locator)
	}

	priority := in.Priority
	if !priority.Valid() {
		priority = l.DeterminePriority(in.Resource.Kind())
	}

	req := &Request{
		ID:            l.opts.NewID(),
		URL:           locator,
		Endpoint:      host.key,
		Owner:         in.Owner,
		Kind:          in.Resource.Kind(),
		Priority:      priority,
		Resource:      in.Resource,
		Incremental:   !in.Buffered,
		SecurityCheck: !in.SkipSecurityCheck,
		SendCallbacks: !in.SuppressCallbacks,
		EnqueuedAt:    l.now(),
		state:         StateQueued,
	}

	hadWork := host.queued() > 0 || len(host.inFlight) > 0
	host.enqueue(req)
	l.owners[req.Owner]++
	l.stats.enqueued.Add(1)
	l.observer.RequestChanged(req.Info())

	if l.opts.EagerDispatch && (priority > Low || !routed || !hadWork) {
		host.servePending(priority)
	}
	l.scheduleDispatch()
	return req, nil
}

// CancelRequests cancels every request issued by owner on every Host. Queued
// requests are reported Cancelled before this returns; in-flight ones once the
// transport confirms.
func (l *Loader) CancelRequests(owner Owner) (queued, inFlight int) {
	for _, h := range l.allHosts() {
		q, f := h.cancelAll(owner)
		queued += q
		inFlight += f
	}
	return queued, inFlight
}

// CancelAll cancels the outstanding requests of every owner, in owner order.
func (l *Loader) CancelAll() (queued, inFlight int) {
	owners := make([]Owner, 0, len(l.owners))
	for o := range l.owners {
		owners = append(owners, o)
	}
	sort.Slice(owners, func(i, j int) bool { return owners[i] < owners[j] })
	for _, o := range owners {
		q, f := l.CancelRequests(o)
		queued += q
		inFlight += f
	}
	return queued, inFlight
}

// ServePendingRequests runs a dispatch pass now. Hosts whose best queued
// request is below min are skipped; Hosts with nothing left are evicted. It
// does nothing while suspended.
func (l *Loader) ServePendingRequests(min Priority) {
	if l.suspended {
		l.pendingWhileSuspended = true
		return
	}
	if !min.Valid() {
		min = Low
	}
	l.timer.stop()
	l.dispatching = true
	defer func() { l.dispatching = false }()
	l.stats.passes.Add(1)

	for _, h := range l.allHosts() {
		if best, ok := h.highestReady(); ok {
			if best >= min {
				h.servePending(min)
			}
			continue
		}
		if h != l.fallback && !h.hasOutstandingWork() {
			l.evict(h)
		}
	}
}

func (l *Loader) evict(h *Host) {
	if l.hosts[h.key] != h {
		return
	}
	delete(l.hosts, h.key)
	l.logger.Debug("evicted idle host", "endpoint", string(h.key))
	l.observer.HostEvicted(h.key)
}

// SuspendPendingRequests stops new admissions. In-flight transports continue.
func (l *Loader) SuspendPendingRequests() {
	if l.suspended {
		return
	}
	l.suspended = true
	l.logger.Info("suspended pending requests")
	l.observer.SuspendChanged(true)
}

// ResumePendingRequests lifts a suspension and dispatches immediately.
func (l *Loader) ResumePendingRequests() {
	if !l.suspended {
		return
	}
	l.suspended = false
	l.pendingWhileSuspended = false
	l.logger.Info("resumed pending requests")
	l.observer.SuspendChanged(false)
	l.ServePendingRequests(Low)
}

// IsSuspended reports whether admissions are paused.
func (l *Loader) IsSuspended() bool { return l.suspended }

// scheduleDispatch arms the dispatch timer for the next tick. Repeated calls
// before the tick coalesce into one pass.
func (l *Loader) scheduleDispatch() {
	if l.suspended {
		l.pendingWhileSuspended = true
		return
	}
	l.timer.arm()
}

func (l *Loader) onTick() {
	if l.suspended {
		l.pendingWhileSuspended = true
		return
	}
	l.ServePendingRequests(Low)
}

// DispatchState reports where the dispatch pipeline is.
func (l *Loader) DispatchState() DispatchState {
	switch {
	case l.dispatching:
		return DispatchRunning
	case l.timer.armed:
		return DispatchArmed
	default:
		return DispatchIdle
	}
}

// NonCacheRequestInFlight charges a fetch issued outside the queue against the
// budget of locator's Host. Non-network locators are ignored.
func (l *Loader) NonCacheRequestInFlight(locator string) {
	key, ok := ResolveEndpoint(locator)
	if !ok {
		return
	}
	h, _ := l.hostFor(locator)
	h.trackNonCacheRequestStart()
	l.logger.Debug("non-cache request started", "endpoint", string(key), "non_cache", h.nonCacheInFlight)
}

// NonCacheRequestComplete releases a slot charged by NonCacheRequestInFlight
// and schedules a dispatch pass to reuse it.
func (l *Loader) NonCacheRequestComplete(locator string) error {
	key, ok := ResolveEndpoint(locator)
	if !ok {
		return nil
	}
	h, exists := l.hosts[key]
	if !exists {
		return ErrUnknownHost
	}
	if err := h.trackNonCacheRequestEnd(); err != nil {
		return err
	}
	l.scheduleDispatch()
	return nil
}

// OutstandingRequests returns how many of owner's requests have not reached a
// terminal state.
func (l *Loader) OutstandingRequests(owner Owner) int {
	return l.owners[owner]
}

// Drained reports whether no Host has queued, in-flight or non-cache work. The
// Loader must be drained before it is discarded.
func (l *Loader) Drained() bool {
	for _, h := range l.allHosts() {
		if h.hasOutstandingWork() {
			return false
		}
	}
	return true
}

// requestDone is called once per request when it reaches a terminal state.
func (l *Loader) requestDone(req *Request) {
	if n := l.owners[req.Owner] - 1; n > 0 {
		l.owners[req.Owner] = n
	} else {
		delete(l.owners, req.Owner)
	}
	l.stats.recordOutcome(req.state)
	l.observer.RequestChanged(req.Info())
}

// allHosts returns the fallback Host followed by the network Hosts in key
// order. The slice is a copy, so callers may create or evict Hosts while
// iterating.
func (l *Loader) allHosts() []*Host {
	keys := make([]string, 0, len(l.hosts))
	for k := range l.hosts {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)

	out := make([]*Host, 0, len(keys)+1)
	out = append(out, l.fallback)
	for _, k := range keys {
		out = append(out, l.hosts[EndpointKey(k)])
	}
	return out
}

// Snapshot is a point-in-time view of the Loader.
type Snapshot struct {
	Suspended bool `json:"suspended"`
	// Deferred is set when dispatch was requested while suspended.
	Deferred bool           `json:"deferred"`
	Dispatch DispatchState  `json:"dispatch"`
	Hosts    []HostSnapshot `json:"hosts"`
	Stats    StatsSnapshot  `json:"stats"`
}

// Snapshot copies the state of every Host.
func (l *Loader) Snapshot() Snapshot {
	hosts := l.allHosts()
	s := Snapshot{
		Suspended: l.suspended,
		Deferred:  l.pendingWhileSuspended,
		Dispatch:  l.DispatchState(),
		Hosts:     make([]HostSnapshot, 0, len(hosts)),
		Stats:     l.stats.Snapshot(),
	}
	for _, h := range hosts {
		s.Hosts = append(s.Hosts, h.snapshot())
	}
	return s
}
