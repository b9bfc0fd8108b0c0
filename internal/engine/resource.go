package engine

import (
	"encoding/hex"
	"hash"
	"time"

	"github.com/zeebo/blake3"

	"github.com/mattjoyce/loadsched/internal/loader"
)

// sinkResource is the Resource behind loads started through the Engine. It
// keeps no body, only its size and BLAKE3 digest.
type sinkResource struct {
	url  string
	kind loader.Kind

	info        loader.RequestInfo
	status      int
	contentType string
	finalURL    string
	bytes       int64
	chunks      int
	hasher      hash.Hash
	digest      string
	firstByte   time.Time
	now         func() time.Time
}

func newSinkResource(url string, kind loader.Kind, now func() time.Time) *sinkResource {
	return &sinkResource{url: url, kind: kind, hasher: blake3.New(), now: now}
}

func (r *sinkResource) URL() string       { return r.url }
func (r *sinkResource) Kind() loader.Kind { return r.kind }

func (r *sinkResource) HandleEvent(ev loader.Event) {
	switch e := ev.(type) {
	case loader.ResponseReceived:
		r.status = e.Response.StatusCode
		r.finalURL = e.Response.FinalURL
		if e.Response.Header != nil {
			r.contentType = e.Response.Header.Get("Content-Type")
		}
	case loader.DataReceived:
		if r.chunks == 0 {
			r.firstByte = r.now()
		}
		r.chunks++
		r.bytes += int64(len(e.Data))
		_, _ = r.hasher.Write(e.Data)
	case loader.Finished:
		r.digest = "blake3:" + hex.EncodeToString(r.hasher.Sum(nil))
	}
}

// Result is the outcome of a load started through the Engine.
type Result struct {
	loader.RequestInfo
	Status      int        `json:"status,omitempty"`
	ContentType string     `json:"content_type,omitempty"`
	FinalURL    string     `json:"final_url,omitempty"`
	Bytes       int64      `json:"bytes"`
	Chunks      int        `json:"chunks"`
	Digest      string     `json:"digest,omitempty"`
	FirstByteAt *time.Time `json:"first_byte_at,omitempty"`
}

func (r *sinkResource) result() Result {
	out := Result{
		RequestInfo: r.info,
		Status:      r.status,
		ContentType: r.contentType,
		FinalURL:    r.finalURL,
		Bytes:       r.bytes,
		Chunks:      r.chunks,
		Digest:      r.digest,
	}
	if !r.firstByte.IsZero() {
		t := r.firstByte
		out.FirstByteAt = &t
	}
	return out
}
