package events

import "github.com/mattjoyce/loadsched/internal/loader"

// Event types published for the loader.
const (
	TypeLoadQueued    = "load.queued"
	TypeLoadAdmitted  = "load.admitted"
	TypeLoadCompleted = "load.completed"
	TypeLoadFailed    = "load.failed"
	TypeLoadCancelled = "load.cancelled"
	TypeHostEvicted   = "host.evicted"
	TypeLoaderSuspend = "loader.suspended"
	TypeLoaderResume  = "loader.resumed"
)

// LoaderObserver publishes loader notifications on a Hub.
type LoaderObserver struct {
	hub *Hub
}

// NewLoaderObserver returns a loader.Observer backed by hub.
func NewLoaderObserver(hub *Hub) *LoaderObserver {
	return &LoaderObserver{hub: hub}
}

var _ loader.Observer = (*LoaderObserver)(nil)

// RequestChanged publishes one event per state transition.
func (o *LoaderObserver) RequestChanged(info loader.RequestInfo) {
	o.hub.Publish(requestEventType(info.State), info)
}

// HostEvicted publishes host.evicted.
func (o *LoaderObserver) HostEvicted(endpoint loader.EndpointKey) {
	o.hub.Publish(TypeHostEvicted, map[string]string{"endpoint": string(endpoint)})
}

// SuspendChanged publishes loader.suspended or loader.resumed.
func (o *LoaderObserver) SuspendChanged(suspended bool) {
	if suspended {
		o.hub.Publish(TypeLoaderSuspend, nil)
		return
	}
	o.hub.Publish(TypeLoaderResume, nil)
}

func requestEventType(s loader.State) string {
	switch s {
	case loader.StateInFlight:
		return TypeLoadAdmitted
	case loader.StateCompleted:
		return TypeLoadCompleted
	case loader.StateFailed:
		return TypeLoadFailed
	case loader.StateCancelled:
		return TypeLoadCancelled
	default:
		return TypeLoadQueued
	}
}
