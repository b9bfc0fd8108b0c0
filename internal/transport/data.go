package transport

import (
	"encoding/base64"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/mattjoyce/loadsched/internal/loader"
)

var errMalformedDataURL = errors.New("transport: malformed data URL")

// serveData answers a data: locator locally, as a 200 response carrying the
// decoded payload.
func (t *HTTP) serveData(req *loader.Request, e *emitter) {
	mediaType, body, err := decodeDataURL(req.URL)
	if err != nil {
		e.fail(err, false)
		return
	}
	if t.opts.MaxBodyBytes > 0 && int64(len(body)) > t.opts.MaxBodyBytes {
		e.fail(ErrBodyTooLarge, false)
		return
	}

	header := http.Header{}
	header.Set("Content-Type", mediaType)
	header.Set("Content-Length", strconv.Itoa(len(body)))
	e.emit(loader.ResponseReceived{Response: loader.Response{
		StatusCode:    http.StatusOK,
		Header:        header,
		ContentLength: int64(len(body)),
		FinalURL:      req.URL,
	}})
	if len(body) > 0 {
		e.emit(loader.DataReceived{Data: body})
	}
	e.emit(loader.Finished{})
}

// decodeDataURL parses data:[<mediatype>][;base64],<data>.
func decodeDataURL(locator string) (string, []byte, error) {
	rest, ok := strings.CutPrefix(locator, "data:")
	if !ok {
		rest, ok = strings.CutPrefix(locator, "DATA:")
	}
	if !ok {
		return "", nil, errMalformedDataURL
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, errMalformedDataURL
	}

	isBase64 := false
	if m, found := strings.CutSuffix(meta, ";base64"); found {
		meta, isBase64 = m, true
	}
	if meta == "" {
		meta = "text/plain;charset=US-ASCII"
	}

	if isBase64 {
		body, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			body, err = base64.RawStdEncoding.DecodeString(payload)
		}
		if err != nil {
			return "", nil, errors.Join(errMalformedDataURL, err)
		}
		return meta, body, nil
	}
	body, err := url.PathUnescape(payload)
	if err != nil {
		return "", nil, errors.Join(errMalformedDataURL, err)
	}
	return meta, []byte(body), nil
}
