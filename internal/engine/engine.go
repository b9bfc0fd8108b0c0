// Package engine assembles the loader, its event loop, the HTTP transport and
// the observers, and exposes them through a goroutine-safe facade.
//
// Every Engine method is a round trip onto the loop goroutine, so callers
// never touch loader state directly.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/mattjoyce/loadsched/internal/eventloop"
	"github.com/mattjoyce/loadsched/internal/loader"
	"github.com/mattjoyce/loadsched/internal/transport"
)

var (
	// ErrUnknownLoad is returned by Result for ids the Engine does not remember.
	ErrUnknownLoad = errors.New("engine: unknown load")

	// ErrInvalidLoad wraps every reason Load rejects a LoadSpec.
	ErrInvalidLoad = errors.New("engine: invalid load")

	// ErrShuttingDown is returned by Load once Run has begun draining.
	ErrShuttingDown = errors.New("engine: shutting down")
)

const (
	defaultMaxResults   = 4096
	defaultDrainTimeout = 5 * time.Second
)

// Options configure an Engine.
type Options struct {
	Loader        loader.Options
	Transport     transport.Options
	DispatchDelay time.Duration

	// Observers receive loader notifications in addition to the Engine.
	Observers []loader.Observer

	// MaxResults bounds how many finished load results stay queryable.
	MaxResults int

	// DrainTimeout bounds how long Run waits at shutdown for cancelled loads
	// to report their outcome.
	DrainTimeout time.Duration

	Logger *slog.Logger
}

// LoadSpec describes one load submitted through the Engine.
type LoadSpec struct {
	Owner             string `json:"owner"`
	URL               string `json:"url"`
	Kind              string `json:"kind,omitempty"`
	Priority          string `json:"priority,omitempty"`
	Buffered          bool   `json:"buffered,omitempty"`
	SkipSecurityCheck bool   `json:"skip_security_check,omitempty"`
	SuppressCallbacks bool   `json:"suppress_callbacks,omitempty"`
}

// Engine owns a Loader and the goroutine it runs on.
type Engine struct {
	loop      *eventloop.Loop
	transport *transport.HTTP
	loader    *loader.Loader
	logger    *slog.Logger
	now       func() time.Time

	drainTimeout time.Duration
	running      atomic.Bool
	done         chan struct{}

	// Loop-owned.
	results    map[string]*sinkResource
	order      []string
	maxResults int
	waiters    map[loader.Owner][]chan struct{}
	closing    bool
	drained    chan struct{}
}

// New builds an Engine. Nothing runs until Run is called.
func New(opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MaxResults <= 0 {
		opts.MaxResults = defaultMaxResults
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = defaultDrainTimeout
	}
	if opts.Loader.Logger == nil {
		opts.Loader.Logger = opts.Logger
	}
	if opts.Transport.Logger == nil {
		opts.Transport.Logger = opts.Logger
	}
	now := opts.Loader.Now
	if now == nil {
		now = time.Now
	}

	e := &Engine{
		logger:       opts.Logger.With("component", "engine"),
		now:          now,
		drainTimeout: opts.DrainTimeout,
		done:         make(chan struct{}),
		results:      make(map[string]*sinkResource),
		maxResults:   opts.MaxResults,
		waiters:      make(map[loader.Owner][]chan struct{}),
	}
	e.loop = eventloop.New(opts.Logger)
	e.transport = transport.New(e.loop, opts.Transport)

	observers := loader.Observers{engineObserver{e}}
	observers = append(observers, opts.Observers...)
	opts.Loader.Observer = observers

	e.loader = loader.New(e.transport, e.loop.Delayed(opts.DispatchDelay), opts.Loader)
	return e
}

// Run drives the loop until ctx is done, then drains the loader: admissions
// stop, every outstanding load is cancelled, and the loop keeps running until
// each load has reported its outcome or DrainTimeout passes. The transport is
// closed after the loop stops.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return eventloop.ErrAlreadyRunning
	}
	defer close(e.done)

	loopCtx, stopLoop := context.WithCancel(context.WithoutCancel(ctx))
	defer stopLoop()
	loopErr := make(chan error, 1)
	go func() { loopErr <- e.loop.Run(loopCtx) }()
	e.logger.Info("engine started")

	<-ctx.Done()
	e.drain()
	stopLoop()
	err := <-loopErr
	e.transport.Close()
	e.logger.Info("engine stopped", "turns", e.loop.Turns())
	return err
}

func (e *Engine) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), e.drainTimeout)
	defer cancel()

	drained := make(chan struct{})
	var queued, inFlight int
	err := e.do(ctx, func() {
		e.closing = true
		e.loader.SuspendPendingRequests()
		queued, inFlight = e.loader.CancelAll()
		if e.loader.Drained() {
			close(drained)
			return
		}
		e.drained = drained
	})
	if err != nil {
		e.logger.Warn("drain did not start", "error", err)
		return
	}
	e.logger.Info("draining loader", "queued_cancelled", queued, "in_flight_cancelled", inFlight)

	select {
	case <-drained:
	case <-ctx.Done():
		e.logger.Warn("drain timed out; abandoning outstanding loads",
			"timeout", e.drainTimeout.String(),
			"active_fetches", e.transport.Active(),
		)
	}
}

// checkDrained releases drain once the loader holds no work. Loop-owned.
func (e *Engine) checkDrained() {
	if e.drained != nil && e.loader.Drained() {
		close(e.drained)
		e.drained = nil
	}
}

// Done is closed once Run has returned and the transport is closed.
func (e *Engine) Done() <-chan struct{} { return e.done }

func (e *Engine) do(ctx context.Context, fn func()) error {
	return e.loop.Do(ctx, fn)
}

// Load submits spec and returns the queued request.
func (e *Engine) Load(ctx context.Context, spec LoadSpec) (loader.RequestInfo, error) {
	kind := loader.KindFromURL(spec.URL)
	if spec.Kind != "" {
		k, err := loader.ParseKind(spec.Kind)
		if err != nil {
			return loader.RequestInfo{}, fmt.Errorf("%w: %w", ErrInvalidLoad, err)
		}
		kind = k
	}
	priority, err := loader.ParsePriority(spec.Priority)
	if err != nil {
		return loader.RequestInfo{}, fmt.Errorf("%w: %w", ErrInvalidLoad, err)
	}
	if spec.URL == "" {
		return loader.RequestInfo{}, fmt.Errorf("%w: url is empty", ErrInvalidLoad)
	}

	res := newSinkResource(spec.URL, kind, e.now)
	var (
		info    loader.RequestInfo
		loadErr error
	)
	err = e.do(ctx, func() {
		if e.closing {
			loadErr = ErrShuttingDown
			return
		}
		req, err := e.loader.Load(loader.LoadRequest{
			Owner:             loader.Owner(spec.Owner),
			Resource:          res,
			Priority:          priority,
			Buffered:          spec.Buffered,
			SkipSecurityCheck: spec.SkipSecurityCheck,
			SuppressCallbacks: spec.SuppressCallbacks,
		})
		if err != nil {
			loadErr = fmt.Errorf("%w: %w", ErrInvalidLoad, err)
			return
		}
		info = req.Info()
		res.info = info
		e.remember(req.ID, res)
	})
	if err != nil {
		return loader.RequestInfo{}, err
	}
	return info, loadErr
}

func (e *Engine) remember(id string, res *sinkResource) {
	e.results[id] = res
	e.order = append(e.order, id)
	for len(e.order) > e.maxResults {
		oldest := e.order[0]
		e.order = e.order[1:]
		delete(e.results, oldest)
	}
}

// Result returns what the Engine knows about load id.
func (e *Engine) Result(ctx context.Context, id string) (Result, error) {
	var (
		out   Result
		found bool
	)
	if err := e.do(ctx, func() {
		if res, ok := e.results[id]; ok {
			out, found = res.result(), true
		}
	}); err != nil {
		return Result{}, err
	}
	if !found {
		return Result{}, ErrUnknownLoad
	}
	return out, nil
}

// Results returns the remembered results for owner in submission order.
func (e *Engine) Results(ctx context.Context, owner string) ([]Result, error) {
	var out []Result
	err := e.do(ctx, func() {
		for _, id := range e.order {
			if res := e.results[id]; res.info.Owner == loader.Owner(owner) {
				out = append(out, res.result())
			}
		}
	})
	return out, err
}

// Cancel cancels every load of owner.
func (e *Engine) Cancel(ctx context.Context, owner string) (queued, inFlight int, err error) {
	err = e.do(ctx, func() {
		queued, inFlight = e.loader.CancelRequests(loader.Owner(owner))
	})
	return queued, inFlight, err
}

// Suspend pauses admissions.
func (e *Engine) Suspend(ctx context.Context) error {
	return e.do(ctx, e.loader.SuspendPendingRequests)
}

// Resume lifts a suspension.
func (e *Engine) Resume(ctx context.Context) error {
	return e.do(ctx, e.loader.ResumePendingRequests)
}

// Serve runs a dispatch pass immediately.
func (e *Engine) Serve(ctx context.Context, min loader.Priority) error {
	return e.do(ctx, func() { e.loader.ServePendingRequests(min) })
}

// NonCacheStarted charges an out-of-band fetch to url's host.
func (e *Engine) NonCacheStarted(ctx context.Context, url string) error {
	return e.do(ctx, func() { e.loader.NonCacheRequestInFlight(url) })
}

// NonCacheFinished releases a slot charged by NonCacheStarted.
func (e *Engine) NonCacheFinished(ctx context.Context, url string) error {
	var opErr error
	if err := e.do(ctx, func() {
		opErr = e.loader.NonCacheRequestComplete(url)
		e.checkDrained()
	}); err != nil {
		return err
	}
	return opErr
}

// Snapshot returns the state of every host.
func (e *Engine) Snapshot(ctx context.Context) (loader.Snapshot, error) {
	var snap loader.Snapshot
	err := e.do(ctx, func() { snap = e.loader.Snapshot() })
	return snap, err
}

// Outstanding returns how many of owner's loads are not finished.
func (e *Engine) Outstanding(ctx context.Context, owner string) (int, error) {
	var n int
	err := e.do(ctx, func() { n = e.loader.OutstandingRequests(loader.Owner(owner)) })
	return n, err
}

// Wait blocks until owner has no outstanding loads.
func (e *Engine) Wait(ctx context.Context, owner string) error {
	done := make(chan struct{})
	if err := e.do(ctx, func() {
		o := loader.Owner(owner)
		if e.loader.OutstandingRequests(o) == 0 {
			close(done)
			return
		}
		e.waiters[o] = append(e.waiters[o], done)
	}); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.loop.Done():
		return eventloop.ErrStopped
	}
}

// engineObserver keeps results current and releases waiters. It runs on the
// loop goroutine.
type engineObserver struct{ e *Engine }

func (o engineObserver) RequestChanged(info loader.RequestInfo) {
	e := o.e
	if res, ok := e.results[info.ID]; ok {
		res.info = info
	}
	if !info.State.Terminal() {
		return
	}
	e.checkDrained()
	if e.loader.OutstandingRequests(info.Owner) > 0 {
		return
	}
	for _, ch := range e.waiters[info.Owner] {
		close(ch)
	}
	delete(e.waiters, info.Owner)
}

func (engineObserver) HostEvicted(loader.EndpointKey) {}

func (o engineObserver) SuspendChanged(suspended bool) {
	o.e.logger.Debug("loader suspension changed", "suspended", suspended)
}
