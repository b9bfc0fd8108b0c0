package loader

//go:generate mockgen -destination=mocks/mock_loader.go -package=mocks github.com/mattjoyce/loadsched/internal/loader Transport,Resource

// Handle identifies one started transport. Transports allocate them; a handle
// must not be reused while its request is in flight.
type Handle uint64

// Sink receives transport events. Deliver must be called on the scheduling
// goroutine.
type Sink interface {
	Deliver(h Handle, ev Event)
}

// Transport starts and cancels network fetches. Both calls must return without
// blocking; outcomes are reported later through the Sink given to Start.
type Transport interface {
	Start(req *Request, sink Sink) (Handle, error)
	Cancel(h Handle)
}

// Resource is the caller-side object a request loads into. The loader never
// inspects it beyond URL and Kind; it only forwards events.
type Resource interface {
	URL() string
	Kind() Kind
	HandleEvent(ev Event)
}

// Ticker runs fn on a later turn of the scheduling goroutine, never
// synchronously from Post.
type Ticker interface {
	Post(fn func())
}

// TickerFunc adapts a function to Ticker.
type TickerFunc func(fn func())

// Post calls f(fn).
func (f TickerFunc) Post(fn func()) { f(fn) }

// Observer is notified of request and loader state changes on the scheduling
// goroutine. Implementations must not block.
type Observer interface {
	RequestChanged(info RequestInfo)
	HostEvicted(endpoint EndpointKey)
	SuspendChanged(suspended bool)
}

// NopObserver ignores every notification. Embed it to implement a subset.
type NopObserver struct{}

func (NopObserver) RequestChanged(RequestInfo) {}
func (NopObserver) HostEvicted(EndpointKey)    {}
func (NopObserver) SuspendChanged(bool)        {}

// Observers fans notifications out to several observers in order.
type Observers []Observer

func (o Observers) RequestChanged(info RequestInfo) {
	for _, ob := range o {
		ob.RequestChanged(info)
	}
}

func (o Observers) HostEvicted(endpoint EndpointKey) {
	for _, ob := range o {
		ob.HostEvicted(endpoint)
	}
}

func (o Observers) SuspendChanged(suspended bool) {
	for _, ob := range o {
		ob.SuspendChanged(suspended)
	}
}
