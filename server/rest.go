package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-pkgz/lgr"
	"github.com/google/uuid"

	"github.com/umputun/newsflux/pkg/domain"
)

// enqueueBatchHandler enqueues a batch run. With no sources in the body the
// configured default sources are used. The response state tells the caller
// whether the job is queued or already ran synchronously.
func (s *Server) enqueueBatchHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Sources []domain.Source `json:"sources"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			renderError(w, r, fmt.Errorf("invalid request body"), http.StatusBadRequest)
			return
		}
	}

	sources := req.Sources
	if len(sources) == 0 {
		sources = s.config.DefaultSources()
	}
	if len(sources) == 0 {
		renderError(w, r, fmt.Errorf("no sources to process"), http.StatusBadRequest)
		return
	}

	unit := domain.WorkUnit{ID: uuid.New().String(), Sources: sources}
	rec, err := s.jobs.Enqueue(r.Context(), []domain.WorkUnit{unit})
	if err != nil {
		lgr.Printf("[ERROR] failed to enqueue batch: %v", err)
		renderError(w, r, err, http.StatusInternalServerError)
		return
	}

	code := http.StatusAccepted
	if rec.State.Terminal() { // backend was down, the job already ran in-process
		code = http.StatusOK
	}
	renderJSON(w, r, code, rec)
}

// jobStatusHandler returns the job record by id
func (s *Server) jobStatusHandler(w http.ResponseWriter, r *http.Request) {
	rec, err := s.jobs.GetStatus(r.PathValue("id"))
	if err != nil {
		renderError(w, r, err, http.StatusNotFound)
		return
	}
	renderJSON(w, r, http.StatusOK, rec)
}

// cancelJobHandler cancels a queued job
func (s *Server) cancelJobHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.jobs.Cancel(r.PathValue("id")); err != nil {
		renderError(w, r, err, http.StatusBadRequest)
		return
	}
	renderJSON(w, r, http.StatusOK, map[string]string{"result": "cancelled"})
}

// queueStatsHandler returns per-state job counts and backend depth
func (s *Server) queueStatsHandler(w http.ResponseWriter, r *http.Request) {
	renderJSON(w, r, http.StatusOK, s.jobs.Stats(r.Context()))
}

// cacheStatsHandler returns cache counters since the last reset
func (s *Server) cacheStatsHandler(w http.ResponseWriter, r *http.Request) {
	renderJSON(w, r, http.StatusOK, s.cache.Stats())
}

// invalidateCacheHandler removes all cache keys with the given prefix
func (s *Server) invalidateCacheHandler(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("prefix")
	if prefix == "" {
		renderError(w, r, fmt.Errorf("prefix query parameter is required"), http.StatusBadRequest)
		return
	}

	deleted, err := s.cache.DeleteByPrefix(r.Context(), prefix)
	if err != nil {
		lgr.Printf("[ERROR] cache invalidation failed for %q: %v", prefix, err)
		renderError(w, r, err, http.StatusInternalServerError)
		return
	}
	renderJSON(w, r, http.StatusOK, map[string]interface{}{"deleted": deleted})
}

// breakerStateHandler returns the circuit breaker snapshot
func (s *Server) breakerStateHandler(w http.ResponseWriter, r *http.Request) {
	renderJSON(w, r, http.StatusOK, s.cache.BreakerState())
}

// resetBreakerHandler closes the breaker and clears its failure counter
func (s *Server) resetBreakerHandler(w http.ResponseWriter, r *http.Request) {
	s.cache.ResetBreaker()
	renderJSON(w, r, http.StatusOK, map[string]string{"result": "reset"})
}

// statusHandler returns server status with article counts per category
func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"status":  "ok",
		"version": s.version,
		"time":    time.Now().UTC(),
	}
	if counts, err := s.articles.CountByCategory(r.Context()); err == nil {
		status["categories"] = counts
	} else {
		lgr.Printf("[WARN] failed to count articles: %v", err)
	}
	renderJSON(w, r, http.StatusOK, status)
}

// renderJSON sends JSON response
func renderJSON(w http.ResponseWriter, _ *http.Request, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			lgr.Printf("[ERROR] can't encode response to JSON: %v", err)
		}
	}
}

// renderError sends error response as JSON
func renderError(w http.ResponseWriter, r *http.Request, err error, code int) {
	errMsg := "unknown error"
	if err != nil {
		errMsg = err.Error()
	}
	renderJSON(w, r, code, map[string]string{"error": errMsg})
}
