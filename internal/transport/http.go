// Package transport fetches admitted requests over HTTP and reports their
// progress back to the loader's goroutine.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	boff "github.com/Andrej220/go-utils/backoff"

	"github.com/mattjoyce/loadsched/internal/loader"
)

var (
	// ErrUnsupportedScheme is returned by Start for locators it cannot fetch.
	ErrUnsupportedScheme = errors.New("transport: unsupported scheme")

	// ErrInsecureRedirect fails a security-checked request redirected from
	// https to http.
	ErrInsecureRedirect = errors.New("transport: refusing redirect from https to http")

	// ErrBodyTooLarge fails a request whose body exceeds MaxBodyBytes.
	ErrBodyTooLarge = errors.New("transport: response body too large")

	// ErrClosed is returned by Start after Close.
	ErrClosed = errors.New("transport: closed")
)

const (
	defaultChunkSize = 32 << 10
	maxRedirects     = 10
)

// RetryPolicy bounds reconnect attempts made before any response arrives.
type RetryPolicy struct {
	Attempts int
	Initial  time.Duration
	Max      time.Duration
}

// Options configure an HTTP transport.
type Options struct {
	Timeout      time.Duration
	UserAgent    string
	MaxBodyBytes int64
	ChunkSize    int
	Retry        RetryPolicy

	// Client replaces the default client. Its CheckRedirect is wrapped.
	Client *http.Client
	Logger *slog.Logger
}

// Poster runs a task on the loader's goroutine.
type Poster interface {
	Post(fn func())
}

// HTTP is a loader.Transport backed by net/http. Each started request runs on
// its own goroutine; events are posted back in order.
type HTTP struct {
	poster Poster
	opts   Options
	client *http.Client
	logger *slog.Logger

	mu     sync.Mutex
	next   loader.Handle
	active map[loader.Handle]*fetch
	closed bool
	wg     sync.WaitGroup
}

type fetch struct {
	cancel    context.CancelFunc
	cancelled atomic.Bool
}

// New creates an HTTP transport that posts events through poster.
func New(poster Poster, opts Options) *HTTP {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = defaultChunkSize
	}
	if opts.Retry.Attempts <= 0 {
		opts.Retry.Attempts = 1
	}
	if opts.Retry.Initial <= 0 {
		opts.Retry.Initial = 100 * time.Millisecond
	}
	if opts.Retry.Max < opts.Retry.Initial {
		opts.Retry.Max = opts.Retry.Initial
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	client := &http.Client{Timeout: opts.Timeout}
	if opts.Client != nil {
		c := *opts.Client
		client = &c
	}

	return &HTTP{
		poster: poster,
		opts:   opts,
		client: client,
		logger: opts.Logger.With("component", "transport"),
		active: make(map[loader.Handle]*fetch),
	}
}

// Start begins fetching req in the background.
func (t *HTTP) Start(req *loader.Request, sink loader.Sink) (loader.Handle, error) {
	scheme, _, _ := strings.Cut(req.URL, ":")
	scheme = strings.ToLower(scheme)
	if scheme != "http" && scheme != "https" && scheme != "data" {
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedScheme, scheme)
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return 0, ErrClosed
	}
	t.next++
	h := t.next
	ctx, cancel := context.WithCancel(context.Background())
	f := &fetch{cancel: cancel}
	t.active[h] = f
	t.wg.Add(1)
	t.mu.Unlock()

	e := &emitter{t: t, h: h, sink: sink, callbacks: req.SendCallbacks}
	go func() {
		defer t.wg.Done()
		defer t.release(h)
		if scheme == "data" {
			t.serveData(req, e)
			return
		}
		t.fetch(ctx, f, req, e)
	}()
	return h, nil
}

// Cancel aborts the fetch behind h. The request ends with Failed{Cancelled}.
// Unknown handles are ignored.
func (t *HTTP) Cancel(h loader.Handle) {
	t.mu.Lock()
	f, ok := t.active[h]
	t.mu.Unlock()
	if !ok {
		return
	}
	f.cancelled.Store(true)
	f.cancel()
}

// Active returns how many fetches are running.
func (t *HTTP) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.active)
}

// Close cancels every running fetch and waits for their goroutines.
func (t *HTTP) Close() {
	t.mu.Lock()
	t.closed = true
	for _, f := range t.active {
		f.cancelled.Store(true)
		f.cancel()
	}
	t.mu.Unlock()
	t.wg.Wait()
}

func (t *HTTP) release(h loader.Handle) {
	t.mu.Lock()
	if f, ok := t.active[h]; ok {
		f.cancel()
		delete(t.active, h)
	}
	t.mu.Unlock()
}

func (t *HTTP) fetch(ctx context.Context, f *fetch, req *loader.Request, e *emitter) {
	logger := t.logger.With("request_id", req.ID, "url", req.URL)

	resp, err := t.roundTrip(ctx, req, logger)
	if err != nil {
		e.fail(err, f.cancelled.Load())
		return
	}
	defer resp.Body.Close()

	e.emit(loader.ResponseReceived{Response: loader.Response{
		StatusCode:    resp.StatusCode,
		Header:        resp.Header.Clone(),
		ContentLength: resp.ContentLength,
		FinalURL:      resp.Request.URL.String(),
	}})

	var total int64
	buf := make([]byte, t.opts.ChunkSize)
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			total += int64(n)
			if t.opts.MaxBodyBytes > 0 && total > t.opts.MaxBodyBytes {
				e.fail(fmt.Errorf("%w: limit %d bytes", ErrBodyTooLarge, t.opts.MaxBodyBytes), false)
				return
			}
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			e.emit(loader.DataReceived{Data: chunk})
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			e.fail(rerr, f.cancelled.Load())
			return
		}
	}
	logger.Debug("fetch finished", "status", resp.StatusCode, "bytes", total)
	e.emit(loader.Finished{})
}

// roundTrip sends req, retrying connection errors with backoff until a
// response arrives or the attempts run out.
func (t *HTTP) roundTrip(ctx context.Context, req *loader.Request, logger *slog.Logger) (*http.Response, error) {
	client := *t.client
	client.CheckRedirect = t.checkRedirect(req.SecurityCheck)

	bo := boff.New(t.opts.Retry.Initial, t.opts.Retry.Max, time.Now().UnixNano())
	for attempt := 1; ; attempt++ {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
		if err != nil {
			return nil, err
		}
		if t.opts.UserAgent != "" {
			httpReq.Header.Set("User-Agent", t.opts.UserAgent)
		}

		resp, err := client.Do(httpReq)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil || errors.Is(err, ErrInsecureRedirect) || attempt >= t.opts.Retry.Attempts {
			return nil, err
		}

		delay := bo.Next()
		logger.Warn("fetch attempt failed; backing off",
			"attempt", attempt,
			"sleep", delay.String(),
			"error", err,
		)
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}
}

func (t *HTTP) checkRedirect(secure bool) func(*http.Request, []*http.Request) error {
	inner := t.client.CheckRedirect
	return func(next *http.Request, via []*http.Request) error {
		if secure && len(via) > 0 && via[len(via)-1].URL.Scheme == "https" && next.URL.Scheme == "http" {
			return ErrInsecureRedirect
		}
		if inner != nil {
			return inner(next, via)
		}
		if len(via) >= maxRedirects {
			return fmt.Errorf("stopped after %d redirects", maxRedirects)
		}
		return nil
	}
}

// emitter posts events for one handle onto the loader goroutine.
type emitter struct {
	t         *HTTP
	h         loader.Handle
	sink      loader.Sink
	callbacks bool
}

func (e *emitter) emit(ev loader.Event) {
	switch ev.(type) {
	case loader.ResponseReceived, loader.DataReceived:
		if !e.callbacks {
			return
		}
	}
	h, sink := e.h, e.sink
	e.t.poster.Post(func() { sink.Deliver(h, ev) })
}

func (e *emitter) fail(err error, cancelled bool) {
	if cancelled {
		err = fmt.Errorf("%w: %w", loader.ErrCancelled, err)
	}
	e.emit(loader.Failed{Err: err, Cancelled: cancelled})
}
