package loader

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"
)

// manualTicker queues posted callbacks until the test fires them.
type manualTicker struct {
	posted []func()
}

func (m *manualTicker) Post(fn func()) { m.posted = append(m.posted, fn) }

// Fire runs the callbacks posted before the call. Callbacks posted while
// firing wait for the next Fire.
func (m *manualTicker) Fire() {
	batch := m.posted
	m.posted = nil
	for _, fn := range batch {
		fn()
	}
}

func (m *manualTicker) Pending() int { return len(m.posted) }

// fakeTransport records starts and cancels and lets tests drive events.
type fakeTransport struct {
	next     Handle
	started  []*Request
	sinks    map[Handle]Sink
	cancels  []Handle
	refuse   map[string]error
	handleOf map[string]Handle
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		sinks:    make(map[Handle]Sink),
		refuse:   make(map[string]error),
		handleOf: make(map[string]Handle),
	}
}

func (f *fakeTransport) Start(req *Request, sink Sink) (Handle, error) {
	if err, ok := f.refuse[req.URL]; ok {
		return 0, err
	}
	f.next++
	f.started = append(f.started, req)
	f.sinks[f.next] = sink
	f.handleOf[req.URL] = f.next
	return f.next, nil
}

func (f *fakeTransport) Cancel(h Handle) {
	f.cancels = append(f.cancels, h)
}

func (f *fakeTransport) deliver(url string, ev Event) {
	h, ok := f.handleOf[url]
	if !ok {
		panic(fmt.Sprintf("no transport started for %s", url))
	}
	f.sinks[h].Deliver(h, ev)
}

func (f *fakeTransport) finish(url string) {
	f.deliver(url, Finished{})
}

// honorCancels reports every requested cancellation back as Failed{Cancelled}.
func (f *fakeTransport) honorCancels() {
	pending := f.cancels
	f.cancels = nil
	for _, h := range pending {
		f.sinks[h].Deliver(h, Failed{Err: errors.New("context canceled"), Cancelled: true})
	}
}

func (f *fakeTransport) startedURLs() []string {
	out := make([]string, 0, len(f.started))
	for _, r := range f.started {
		out = append(out, r.URL)
	}
	return out
}

// recordingResource remembers every event it receives.
type recordingResource struct {
	url    string
	kind   Kind
	events []Event
	onDone func()
}

func newResource(url string, kind Kind) *recordingResource {
	return &recordingResource{url: url, kind: kind}
}

func (r *recordingResource) URL() string { return r.url }
func (r *recordingResource) Kind() Kind  { return r.kind }

func (r *recordingResource) HandleEvent(ev Event) {
	r.events = append(r.events, ev)
	if terminal(ev) && r.onDone != nil {
		r.onDone()
	}
}

func (r *recordingResource) terminalEvents() []Event {
	var out []Event
	for _, ev := range r.events {
		if terminal(ev) {
			out = append(out, ev)
		}
	}
	return out
}

type harness struct {
	loader    *Loader
	ticker    *manualTicker
	transport *fakeTransport
	observer  *recordingObserver
}

type recordingObserver struct {
	changes   []RequestInfo
	evicted   []EndpointKey
	suspended []bool
}

func (o *recordingObserver) RequestChanged(info RequestInfo) { o.changes = append(o.changes, info) }
func (o *recordingObserver) HostEvicted(endpoint EndpointKey) {
	o.evicted = append(o.evicted, endpoint)
}
func (o *recordingObserver) SuspendChanged(suspended bool) {
	o.suspended = append(o.suspended, suspended)
}

func newHarness(t *testing.T, mutate func(*Options)) *harness {
	t.Helper()
	h := &harness{
		ticker:    &manualTicker{},
		transport: newFakeTransport(),
		observer:  &recordingObserver{},
	}
	seq := 0
	opts := Options{
		MaxRequestsPerHost: 2,
		Logger:             slog.New(slog.NewTextHandler(io.Discard, nil)),
		Observer:           h.observer,
		Now:                func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) },
		NewID: func() string {
			seq++
			return fmt.Sprintf("req-%d", seq)
		},
	}
	if mutate != nil {
		mutate(&opts)
	}
	h.loader = New(h.transport, h.ticker, opts)
	return h
}

func (h *harness) load(t *testing.T, owner Owner, res *recordingResource, p Priority) *Request {
	t.Helper()
	req, err := h.loader.Load(LoadRequest{Owner: owner, Resource: res, Priority: p})
	if err != nil {
		t.Fatalf("Load(%s): %v", res.url, err)
	}
	return req
}
