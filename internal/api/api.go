package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/joescharf/prreview/internal/models"
	"github.com/joescharf/prreview/internal/review"
	"github.com/joescharf/prreview/internal/session"
	"github.com/joescharf/prreview/internal/store"
)

// Server provides the REST API handlers.
type Server struct {
	orch            *review.Orchestrator
	defaultCriteria string
	log             zerolog.Logger
}

// NewServer creates a new API server. defaultCriteria is used for review
// requests that carry none.
func NewServer(orch *review.Orchestrator, defaultCriteria string, logger zerolog.Logger) *Server {
	return &Server{
		orch:            orch,
		defaultCriteria: defaultCriteria,
		log:             logger,
	}
}

// Router returns an http.Handler for the API routes.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/sessions", s.listSessions)
	mux.HandleFunc("GET /api/v1/sessions/{id}", s.getSession)
	mux.HandleFunc("POST /api/v1/sessions/{id}/replay", s.replaySession)

	mux.HandleFunc("POST /api/v1/reviews", s.createReview)

	mux.HandleFunc("GET /api/v1/stats", s.statistics)

	return s.requestLogger(corsMiddleware(mux))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// --- Sessions ---

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	repo := r.URL.Query().Get("repo")
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	summaries, err := s.orch.Controller().ListSessions(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	out := make([]session.Summary, 0, len(summaries))
	for _, sum := range summaries {
		if repo != "" && sum.Repo != repo {
			continue
		}
		out = append(out, sum)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	writeJSON(w, http.StatusOK, out)
}

type sessionResponse struct {
	Session   *models.Session        `json:"session"`
	Steps     []models.ReasoningStep `json:"steps"`
	StepCount int                    `json:"step_count"`
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := store.ValidateID(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	details, err := s.orch.Controller().GetSessionDetails(r.Context(), id)
	if errors.Is(err, session.ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if r.URL.Query().Get("all_events") == "true" {
		writeJSON(w, http.StatusOK, details)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{
		Session:   details.Session,
		Steps:     models.LatestSteps(details.Steps),
		StepCount: details.StepCount,
	})
}

func (s *Server) replaySession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := store.ValidateID(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var body struct {
		Criteria string `json:"criteria"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}

	res, err := s.orch.Replay(r.Context(), id, body.Criteria)
	if errors.Is(err, session.ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// --- Reviews ---

func (s *Server) createReview(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Repo     string `json:"repo"`
		PRNumber int    `json:"pr_number"`
		Criteria string `json:"criteria"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.Repo == "" {
		writeError(w, http.StatusBadRequest, "repo is required")
		return
	}
	if body.PRNumber < 1 {
		writeError(w, http.StatusBadRequest, "pr_number must be a positive integer")
		return
	}
	if body.Criteria == "" {
		body.Criteria = s.defaultCriteria
	}

	res, err := s.orch.ReviewPullRequest(r.Context(), body.Repo, body.PRNumber, body.Criteria)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// --- Stats ---

func (s *Server) statistics(w http.ResponseWriter, r *http.Request) {
	stats, err := s.orch.Controller().Statistics(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
