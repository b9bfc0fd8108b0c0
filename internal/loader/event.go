package loader

import "net/http"

// Event is a transport lifecycle notification. The set is closed: the only
// implementations are ResponseReceived, DataReceived, Finished and Failed.
type Event interface {
	isEvent()
}

// Response carries the metadata of a transport response.
type Response struct {
	StatusCode    int
	Header        http.Header
	ContentLength int64
	FinalURL      string
}

// ResponseReceived is delivered once response metadata is available.
type ResponseReceived struct {
	Response Response
}

// DataReceived carries one chunk of body bytes.
type DataReceived struct {
	Data []byte
}

// Finished marks successful completion.
type Finished struct{}

// Failed marks unsuccessful completion. Cancelled is set when the failure is the
// transport honoring a Cancel call.
type Failed struct {
	Err       error
	Cancelled bool
}

func (ResponseReceived) isEvent() {}
func (DataReceived) isEvent()     {}
func (Finished) isEvent()         {}
func (Failed) isEvent()           {}

// terminal reports whether ev ends a request.
func terminal(ev Event) bool {
	switch ev.(type) {
	case Finished, Failed:
		return true
	default:
		return false
	}
}
