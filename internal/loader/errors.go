package loader

import "errors"

var (
	// ErrCancelled is reported to resources whose owner cancelled them.
	ErrCancelled = errors.New("loader: request cancelled")

	// ErrTransportStart wraps a transport refusal to start a request.
	ErrTransportStart = errors.New("loader: transport failed to start request")

	// ErrNilResource is returned by Load when no resource is given.
	ErrNilResource = errors.New("loader: resource is nil")

	// ErrNoOwner is returned by Load when the owner identity is empty.
	ErrNoOwner = errors.New("loader: owner is empty")

	// ErrUnknownHost is returned when a non-cache completion names an endpoint
	// that has no Host.
	ErrUnknownHost = errors.New("loader: no host for endpoint")

	// ErrNonCacheUnderflow is returned when more non-cache completions than
	// starts are reported for a Host.
	ErrNonCacheUnderflow = errors.New("loader: non-cache request count underflow")
)
