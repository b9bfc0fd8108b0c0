package api

import (
	"github.com/mattjoyce/loadsched/internal/engine"
	"github.com/mattjoyce/loadsched/internal/journal"
	"github.com/mattjoyce/loadsched/internal/loader"
)

// LoadResponse is returned by GET /loads/{id}. Exactly one of Result and
// Record is set: Result while the engine still holds the load, Record once
// only the journal does.
type LoadResponse struct {
	Source string          `json:"source"`
	Result *engine.Result  `json:"result,omitempty"`
	Record *journal.Record `json:"record,omitempty"`
}

// OwnerLoadsResponse is returned by GET /owners/{owner}/loads.
type OwnerLoadsResponse struct {
	Owner   string           `json:"owner"`
	Source  string           `json:"source"`
	Results []engine.Result  `json:"results,omitempty"`
	Records []journal.Record `json:"records,omitempty"`
}

// CancelResponse is returned by DELETE /owners/{owner}.
type CancelResponse struct {
	Owner    string `json:"owner"`
	Queued   int    `json:"queued"`
	InFlight int    `json:"in_flight"`
}

// NonCacheRequest is the JSON body for POST /noncache/{start,finish}.
type NonCacheRequest struct {
	URL string `json:"url"`
}

// StatusResponse acknowledges control calls.
type StatusResponse struct {
	Status string `json:"status"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string               `json:"status"`
	UptimeSeconds int64                `json:"uptime_seconds"`
	Suspended     bool                 `json:"suspended"`
	Hosts         int                  `json:"hosts"`
	InFlight      int                  `json:"in_flight"`
	Queued        int                  `json:"queued"`
	Stats         loader.StatsSnapshot `json:"stats"`
}
