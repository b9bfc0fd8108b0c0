package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/loadsched/internal/engine"
	"github.com/mattjoyce/loadsched/internal/journal"
	"github.com/mattjoyce/loadsched/internal/loader"
)

const (
	maxBodyBytes      = 1 << 20
	defaultOwnerLimit = 100
	maxOwnerLimit     = 1000
)

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	snap, err := s.scheduler.Snapshot(r.Context())
	if err != nil {
		s.logger.Error("failed to snapshot loader", "error", err)
		s.writeError(w, http.StatusServiceUnavailable, "scheduler unavailable")
		return
	}

	resp := HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Suspended:     snap.Suspended,
		Hosts:         len(snap.Hosts),
		Stats:         snap.Stats,
	}
	for _, h := range snap.Hosts {
		resp.InFlight += h.InFlight
		resp.Queued += h.QueuedHigh + h.QueuedMedium + h.QueuedLow
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleCreateLoad handles POST /loads.
func (s *Server) handleCreateLoad(w http.ResponseWriter, r *http.Request) {
	var spec engine.LoadSpec
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if err := json.Unmarshal(body, &spec); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	info, err := s.scheduler.Load(r.Context(), spec)
	if err != nil {
		if errors.Is(err, engine.ErrInvalidLoad) {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("failed to submit load", "error", err, "url", spec.URL)
		s.writeError(w, http.StatusServiceUnavailable, "failed to submit load")
		return
	}

	s.logger.Info("load submitted via API", "id", info.ID, "owner", info.Owner, "url", info.URL)
	respondJSON(w, http.StatusAccepted, info)
}

// handleGetLoad handles GET /loads/{id}. The engine's in-memory result wins;
// the journal answers for loads the engine has forgotten.
func (s *Server) handleGetLoad(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	res, err := s.scheduler.Result(r.Context(), id)
	if err == nil {
		respondJSON(w, http.StatusOK, LoadResponse{Source: "engine", Result: &res})
		return
	}
	if !errors.Is(err, engine.ErrUnknownLoad) {
		s.logger.Error("failed to get load", "id", id, "error", err)
		s.writeError(w, http.StatusServiceUnavailable, "failed to get load")
		return
	}

	if s.journal != nil {
		rec, err := s.journal.Get(r.Context(), id)
		if err == nil {
			respondJSON(w, http.StatusOK, LoadResponse{Source: "journal", Record: rec})
			return
		}
		if !errors.Is(err, journal.ErrNotFound) {
			s.logger.Error("failed to read journal", "id", id, "error", err)
			s.writeError(w, http.StatusInternalServerError, "failed to get load")
			return
		}
	}
	s.writeError(w, http.StatusNotFound, "load not found")
}

// handleOwnerLoads handles GET /owners/{owner}/loads?limit=N.
func (s *Server) handleOwnerLoads(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	results, err := s.scheduler.Results(r.Context(), owner)
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "failed to list loads")
		return
	}
	if len(results) > 0 || s.journal == nil {
		if len(results) > limit {
			results = results[len(results)-limit:]
		}
		respondJSON(w, http.StatusOK, OwnerLoadsResponse{Owner: owner, Source: "engine", Results: results})
		return
	}

	records, err := s.journal.ListByOwner(r.Context(), owner, limit)
	if err != nil {
		s.logger.Error("failed to read journal", "owner", owner, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list loads")
		return
	}
	respondJSON(w, http.StatusOK, OwnerLoadsResponse{Owner: owner, Source: "journal", Records: records})
}

func parseLimit(v string) (int, error) {
	if v == "" {
		return defaultOwnerLimit, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, errors.New("limit must be a positive integer")
	}
	return min(n, maxOwnerLimit), nil
}

// handleCancelOwner handles DELETE /owners/{owner}.
func (s *Server) handleCancelOwner(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")
	queued, inFlight, err := s.scheduler.Cancel(r.Context(), owner)
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "failed to cancel loads")
		return
	}
	s.logger.Info("owner cancelled via API", "owner", owner, "queued", queued, "in_flight", inFlight)
	respondJSON(w, http.StatusOK, CancelResponse{Owner: owner, Queued: queued, InFlight: inFlight})
}

// handleHosts handles GET /hosts.
func (s *Server) handleHosts(w http.ResponseWriter, r *http.Request) {
	snap, err := s.scheduler.Snapshot(r.Context())
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "failed to snapshot loader")
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

func (s *Server) handleSuspend(w http.ResponseWriter, r *http.Request) {
	s.control(w, s.scheduler.Suspend(r.Context()), "suspended")
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.control(w, s.scheduler.Resume(r.Context()), "resumed")
}

// handleServe handles POST /serve?min=low|medium|high.
func (s *Server) handleServe(w http.ResponseWriter, r *http.Request) {
	p := loader.Low
	if v := r.URL.Query().Get("min"); v != "" {
		parsed, err := loader.ParsePriority(v)
		if err != nil || !parsed.Valid() {
			s.writeError(w, http.StatusBadRequest, "min must be low, medium or high")
			return
		}
		p = parsed
	}
	s.control(w, s.scheduler.Serve(r.Context(), p), "served")
}

// handleNonCache handles POST /noncache/start and /noncache/finish.
func (s *Server) handleNonCache(start bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req NonCacheRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil || req.URL == "" {
			s.writeError(w, http.StatusBadRequest, "body must be {\"url\": ...}")
			return
		}

		if start {
			s.control(w, s.scheduler.NonCacheStarted(r.Context(), req.URL), "started")
			return
		}
		err := s.scheduler.NonCacheFinished(r.Context(), req.URL)
		if errors.Is(err, loader.ErrUnknownHost) || errors.Is(err, loader.ErrNonCacheUnderflow) {
			s.writeError(w, http.StatusConflict, err.Error())
			return
		}
		s.control(w, err, "finished")
	}
}

func (s *Server) control(w http.ResponseWriter, err error, status string) {
	if err != nil {
		s.logger.Error("control call failed", "status", status, "error", err)
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, StatusResponse{Status: status})
}

// respondJSON is a helper to write JSON responses
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
