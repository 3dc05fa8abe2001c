package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/prreview/internal/github"
	"github.com/joescharf/prreview/internal/models"
	"github.com/joescharf/prreview/internal/retrieval"
	"github.com/joescharf/prreview/internal/review"
	"github.com/joescharf/prreview/internal/session"
	"github.com/joescharf/prreview/internal/store"
)

type staticGenerator struct{ reply string }

func (g staticGenerator) Generate(context.Context, string, string) (string, error) {
	return g.reply, nil
}

const reply = `{"comments": [{"file_path": "src/auth/models.py", "line_number": 8, "comment_text": "Hash the password before storing it", "severity": "error"}], "comment_summary": "Password storage needs work.", "high_level_summary_md": "**Security fix needed**"}`

func setupTestServer(t *testing.T) (*Server, store.Store) {
	t.Helper()
	dir := t.TempDir()

	s, err := store.Open(context.Background(), store.BackendSQLite, filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	provider, err := github.NewMockProvider("")
	require.NoError(t, err)
	r, err := retrieval.New(provider, retrieval.Options{}, zerolog.Nop())
	require.NoError(t, err)
	rv := review.NewReviewer(r, review.ReviewerOptions{Generator: staticGenerator{reply: reply}}, zerolog.Nop())
	orch := review.NewOrchestrator(session.NewController(s, zerolog.Nop()), provider, rv, zerolog.Nop())

	return NewServer(orch, "security", zerolog.Nop()), s
}

func postReview(t *testing.T, router http.Handler, body string) review.Result {
	t.Helper()
	req := httptest.NewRequest("POST", "/api/v1/reviews", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var res review.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	return res
}

func TestListSessions_Empty(t *testing.T) {
	srv, _ := setupTestServer(t)
	router := srv.Router()

	req := httptest.NewRequest("GET", "/api/v1/sessions", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var sessions []session.Summary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sessions))
	assert.Empty(t, sessions)
}

func TestCreateReview(t *testing.T) {
	srv, s := setupTestServer(t)
	router := srv.Router()

	res := postReview(t, router, `{"repo":"demo/auth-service","pr_number":1}`)
	assert.True(t, res.Success)
	assert.Equal(t, "security", res.Metadata.Criteria)
	require.NotNil(t, res.Review)
	require.Len(t, res.Review.Comments, 1)
	assert.Equal(t, models.SeverityError, res.Review.Comments[0].Severity)
	assert.Equal(t, review.SecurityMedium, res.Review.SecurityRiskRating)

	stored, err := s.ReadSession(context.Background(), res.SessionID)
	require.NoError(t, err)
	assert.True(t, stored.Success)
	assert.Equal(t, "security", stored.CriteriaText)
}

func TestCreateReview_Validation(t *testing.T) {
	srv, _ := setupTestServer(t)
	router := srv.Router()

	tests := []struct {
		name string
		body string
		want string
	}{
		{"bad json", `{`, "invalid JSON body"},
		{"no repo", `{"pr_number":1}`, "repo is required"},
		{"no pr", `{"repo":"a/b"}`, "pr_number must be a positive integer"},
		{"negative pr", `{"repo":"a/b","pr_number":-3}`, "pr_number must be a positive integer"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/api/v1/reviews", bytes.NewBufferString(tt.body))
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			var body map[string]string
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.want, body["error"])
		})
	}
}

func TestGetSession(t *testing.T) {
	srv, _ := setupTestServer(t)
	router := srv.Router()
	res := postReview(t, router, `{"repo":"demo/auth-service","pr_number":1,"criteria":"strict style"}`)

	req := httptest.NewRequest("GET", "/api/v1/sessions/"+res.SessionID, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var got sessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, res.SessionID, got.Session.SessionID)
	assert.Equal(t, 8, got.StepCount)
	require.Len(t, got.Steps, 4)
	assert.Equal(t, models.StepCriteriaProcessing, got.Steps[0].StepID)
	assert.Equal(t, models.StepReviewSummary, got.Steps[3].StepID)

	req = httptest.NewRequest("GET", "/api/v1/sessions/"+res.SessionID+"?all_events=true", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var details session.Details
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &details))
	assert.Len(t, details.Steps, 8)
}

func TestGetSession_NotFound(t *testing.T) {
	srv, _ := setupTestServer(t)
	router := srv.Router()

	req := httptest.NewRequest("GET", "/api/v1/sessions/nonexistent", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSessionRoutes_RejectInvalidID(t *testing.T) {
	srv, _ := setupTestServer(t)
	router := srv.Router()

	for _, tc := range []struct{ method, path string }{
		{"GET", "/api/v1/sessions/..%2F..%2Fx"},
		{"GET", "/api/v1/sessions/bad%20id"},
		{"POST", "/api/v1/sessions/..%2Fescape/replay"},
	} {
		req := httptest.NewRequest(tc.method, tc.path, nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code, tc.path)
		assert.Contains(t, w.Body.String(), "invalid session id", tc.path)
	}
}

func TestListSessions_Filters(t *testing.T) {
	srv, _ := setupTestServer(t)
	router := srv.Router()
	postReview(t, router, `{"repo":"demo/auth-service","pr_number":1}`)
	postReview(t, router, `{"repo":"acme/api","pr_number":4}`)
	postReview(t, router, `{"repo":"acme/api","pr_number":5}`)

	req := httptest.NewRequest("GET", "/api/v1/sessions?repo=acme/api", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	var filtered []session.Summary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &filtered))
	assert.Len(t, filtered, 2)

	req = httptest.NewRequest("GET", "/api/v1/sessions?limit=1", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	var limited []session.Summary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &limited))
	assert.Len(t, limited, 1)

	req = httptest.NewRequest("GET", "/api/v1/sessions?limit=abc", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStats_Empty(t *testing.T) {
	srv, _ := setupTestServer(t)
	router := srv.Router()

	req := httptest.NewRequest("GET", "/api/v1/stats", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var stats session.Statistics
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, 0, stats.TotalSessions)
	assert.Zero(t, stats.SuccessRate)
	assert.Zero(t, stats.AverageCommentsPerSession)
}

func TestCORSPreflight(t *testing.T) {
	srv, _ := setupTestServer(t)
	router := srv.Router()

	req := httptest.NewRequest("OPTIONS", "/api/v1/reviews", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
