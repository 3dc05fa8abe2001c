package review

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/prreview/internal/criteria"
	"github.com/joescharf/prreview/internal/github"
	"github.com/joescharf/prreview/internal/llm"
	"github.com/joescharf/prreview/internal/models"
	"github.com/joescharf/prreview/internal/retrieval"
	"github.com/joescharf/prreview/internal/session"
	"github.com/joescharf/prreview/internal/store"
)

const fencedReply = "```json\n" + `{
  "comments": [
    {"file_path": "src/auth/jwt_auth.py", "line_number": 0, "comment_text": "Validate the token secret", "severity": "critical"},
    {"file_path": "src/auth/models.py", "line_number": 12, "comment_text": "Add type hints", "severity": "warning"}
  ],
  "package_suggestions": [{"name": "PyJWT", "reason": "Token handling"}],
  "comment_summary": "Two issues.",
  "high_level_summary_md": "**Solid start**"
}` + "\n```"

type fakeGenerator struct {
	mu     sync.Mutex
	reply  string
	err    error
	calls  int
	system string
	user   string
}

func (g *fakeGenerator) Generate(_ context.Context, system, user string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	g.system, g.user = system, user
	return g.reply, g.err
}

// recordingStore counts writes that reach the underlying store.
type recordingStore struct {
	store.Store
	mu             sync.Mutex
	stepWrites     int
	snapshotWrites int
}

func (r *recordingStore) WriteStep(ctx context.Context, id string, ev *models.StepEvent) error {
	r.mu.Lock()
	r.stepWrites++
	r.mu.Unlock()
	return r.Store.WriteStep(ctx, id, ev)
}

func (r *recordingStore) WriteSession(ctx context.Context, s *models.Session) error {
	r.mu.Lock()
	r.snapshotWrites++
	r.mu.Unlock()
	return r.Store.WriteSession(ctx, s)
}

type failingProvider struct {
	github.Provider
}

func (failingProvider) GetPR(context.Context, string, int) (*github.PullRequest, error) {
	return nil, errors.New("rate limited")
}

type fixture struct {
	orch  *Orchestrator
	store *recordingStore
	gen   *fakeGenerator
}

func newFixture(t *testing.T, gen Generator, provider github.Provider) fixture {
	t.Helper()
	fs, err := store.NewFileStore(filepath.Join(t.TempDir(), "sessions"))
	require.NoError(t, err)
	rec := &recordingStore{Store: fs}

	mock, err := github.NewMockProvider("")
	require.NoError(t, err)
	if provider == nil {
		provider = mock
	}
	r, err := retrieval.New(mock, retrieval.Options{}, zerolog.Nop())
	require.NoError(t, err)

	params := llm.Params{Model: "test-model", Temperature: 0.2, TopP: 0.95, MaxTokens: 1024}
	rv := NewReviewer(r, ReviewerOptions{Generator: gen, ModelParams: params.ModelParams()}, zerolog.Nop())
	c := session.NewController(rec, zerolog.Nop())

	f := fixture{orch: NewOrchestrator(c, provider, rv, zerolog.Nop()), store: rec}
	if fg, ok := gen.(*fakeGenerator); ok {
		f.gen = fg
	}
	return f
}

func stepIDs(events []*models.StepEvent) []string {
	out := make([]string, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.StepID)
	}
	return out
}

func TestReviewPullRequest_EndToEnd(t *testing.T) {
	f := newFixture(t, &fakeGenerator{reply: fencedReply}, nil)
	ctx := context.Background()

	res, err := f.orch.ReviewPullRequest(ctx, "demo/auth-service", 1, "strict style")
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Empty(t, res.Error)
	assert.Equal(t, 1, f.gen.calls)
	assert.Contains(t, f.gen.system, "code style and formatting consistency")
	assert.Contains(t, f.gen.user, "**PR Title:** Add user authentication feature")

	r := res.Review
	require.Len(t, r.Comments, 2)
	assert.Equal(t, 1, r.Comments[0].LineNumber)
	assert.Equal(t, models.SeverityInfo, r.Comments[0].Severity)
	assert.Equal(t, models.SeverityWarning, r.Comments[1].Severity)
	require.NotNil(t, r.StyleAdherenceScore)
	assert.InDelta(t, 1.0, *r.StyleAdherenceScore, 1e-9)
	assert.Equal(t, SecurityMedium, r.SecurityRiskRating)
	assert.Equal(t, OptimizationLow, r.OptimizationPotential)

	events, err := f.store.ReadSteps(ctx, res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, []string{
		models.StepCriteriaProcessing, models.StepCriteriaProcessing,
		models.StepContextRetrieval, models.StepContextRetrieval,
		models.StepReviewGeneration, models.StepReviewGeneration,
		models.StepReviewSummary, models.StepReviewSummary,
	}, stepIDs(events))
	assert.Equal(t, pendingCriteria, events[0].Output[models.KeyCriteriaData])

	latest := models.LatestSteps(events)
	require.Len(t, latest, 4)
	for _, s := range latest {
		assert.NoError(t, models.ValidateStepOutput(s))
		assert.Empty(t, s.Error)
		assert.Equal(t, "test-model", s.ModelParams["model"])
		assert.Contains(t, s.ModelParams, "top_p")
	}
	assert.Equal(t, models.StepTypeGeneration, latest[2].StepType)
	assert.Equal(t, fencedReply, latest[2].ReasoningTrace)

	summary, err := models.DecodePayload[models.ReviewSummary](latest[3].Output[models.KeySummary])
	require.NoError(t, err)
	assert.Equal(t, 2, summary.TotalComments)
	assert.Equal(t, 1, summary.PackageSuggestions)

	stored, err := f.orch.Controller().LoadSession(ctx, res.SessionID)
	require.NoError(t, err)
	assert.True(t, stored.Success)
	require.NotNil(t, stored.EndTime)
	assert.Len(t, stored.ReasoningSteps, 8)
	assert.Equal(t, "demo/auth-service", stored.Repo())
	n, ok := stored.PRNumber()
	assert.True(t, ok)
	assert.Equal(t, 1, n)
	assert.EqualValues(t, 3, stored.PRInfo["files_changed"])
	require.NotNil(t, stored.FinalReview)
	assert.Equal(t, "Two issues.", stored.FinalReview.CommentSummary)
	assert.Equal(t, stored, res.Session)
	assert.Equal(t, 1, f.store.snapshotWrites)
}

func TestReviewPullRequest_GeneratorErrorUsesFallback(t *testing.T) {
	f := newFixture(t, &fakeGenerator{err: errors.New("overloaded")}, nil)
	ctx := context.Background()

	res, err := f.orch.ReviewPullRequest(ctx, "demo/auth-service", 1, "performance")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "Review of 3 changed files", res.Review.CommentSummary)
	assert.Equal(t, "**Code review completed**", res.Review.HighLevelSummaryMD)
	require.Len(t, res.Review.Comments, 3)
	assert.Equal(t, "Review changes in src/auth/__init__.py", res.Review.Comments[0].CommentText)

	events, err := f.store.ReadSteps(ctx, res.SessionID)
	require.NoError(t, err)
	gen := models.LatestSteps(events)[2]
	assert.Equal(t, models.StepReviewGeneration, gen.StepID)
	assert.Contains(t, gen.Error, "overloaded")
}

func TestReviewPullRequest_NoGenerator(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	res, err := f.orch.ReviewPullRequest(ctx, "demo/auth-service", 1, "security")
	require.NoError(t, err)
	assert.True(t, res.Success)

	events, err := f.store.ReadSteps(ctx, res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, ErrNoGenerator.Error(), models.LatestSteps(events)[2].Error)
}

func TestReviewPullRequest_ProviderFailure(t *testing.T) {
	f := newFixture(t, &fakeGenerator{reply: fencedReply}, failingProvider{})
	ctx := context.Background()

	res, err := f.orch.ReviewPullRequest(ctx, "acme/api", 7, "strict style")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "rate limited")
	assert.Equal(t, 0, f.gen.calls)

	stored, err := f.orch.Controller().LoadSession(ctx, res.SessionID)
	require.NoError(t, err)
	assert.False(t, stored.Success)
	assert.Contains(t, stored.ErrorMessage, "rate limited")
	require.NotNil(t, stored.FinalReview)
	assert.Equal(t, "Review failed due to error", stored.FinalReview.CommentSummary)
	assert.Equal(t, "acme/api", stored.Repo())
	assert.Len(t, stored.PRInfo, 2)
	assert.Equal(t, 0, f.store.stepWrites)
}

func TestReviewPullRequest_CancelledContextStillCompletes(t *testing.T) {
	f := newFixture(t, &fakeGenerator{reply: fencedReply}, failingProvider{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := f.orch.ReviewPullRequest(ctx, "acme/api", 7, "strict style")
	require.NoError(t, err)
	assert.False(t, res.Success)

	stored, err := f.orch.Controller().LoadSession(context.Background(), res.SessionID)
	require.NoError(t, err)
	assert.NotNil(t, stored.EndTime)
}

func TestReplay_SubstitutesCriteria(t *testing.T) {
	f := newFixture(t, &fakeGenerator{reply: fencedReply}, nil)
	ctx := context.Background()

	orig, err := f.orch.ReviewPullRequest(ctx, "demo/auth-service", 1, "strict style")
	require.NoError(t, err)

	res, err := f.orch.Replay(ctx, orig.SessionID, "security")
	require.NoError(t, err)
	assert.NotEqual(t, orig.SessionID, res.SessionID)
	assert.Equal(t, orig.SessionID, res.Metadata.ReplayOf)
	assert.Equal(t, "demo/auth-service", res.Metadata.Repo)
	assert.Equal(t, 1, res.Metadata.PRNumber)
	assert.Equal(t, "security", res.Session.CriteriaText)
	assert.Contains(t, f.gen.system, "security vulnerabilities")

	// The original is untouched.
	before, err := f.orch.Controller().LoadSession(ctx, orig.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "strict style", before.CriteriaText)

	again, err := f.orch.Replay(ctx, orig.SessionID, "")
	require.NoError(t, err)
	assert.Equal(t, "strict style", again.Session.CriteriaText)
}

func TestReplay_DefaultsWithoutPRInfo(t *testing.T) {
	f := newFixture(t, &fakeGenerator{reply: fencedReply}, nil)
	ctx := context.Background()

	bare := models.NewSession("review_bare", nil, "correctness", f.orch.now())
	require.NoError(t, f.store.Store.WriteSession(ctx, bare))

	res, err := f.orch.Replay(ctx, "review_bare", "")
	require.NoError(t, err)
	assert.Equal(t, replayDefaultRepo, res.Metadata.Repo)
	assert.Equal(t, replayDefaultPR, res.Metadata.PRNumber)
	assert.Equal(t, "correctness", res.Session.CriteriaText)
}

func TestReplay_MissingSessionWritesNothing(t *testing.T) {
	f := newFixture(t, &fakeGenerator{reply: fencedReply}, nil)

	res, err := f.orch.Replay(context.Background(), "missing-id", "")
	assert.Nil(t, res)
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
	assert.Equal(t, 0, f.store.stepWrites)
	assert.Equal(t, 0, f.store.snapshotWrites)
	assert.Equal(t, 0, f.gen.calls)
}

// cancellingStore cancels the review context once the retrieval placeholder
// is written and rejects steps that carry an error.
type cancellingStore struct {
	store.Store
	cancel context.CancelFunc
}

func (s *cancellingStore) WriteStep(ctx context.Context, id string, ev *models.StepEvent) error {
	if ev.Error != "" {
		return errors.New("disk full")
	}
	if err := s.Store.WriteStep(ctx, id, ev); err != nil {
		return err
	}
	if ev.StepID == models.StepContextRetrieval {
		s.cancel()
	}
	return nil
}

func TestReview_RetrievalFailureLogsUnrecordedStep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fs, err := store.NewFileStore(filepath.Join(t.TempDir(), "sessions"))
	require.NoError(t, err)
	st := &cancellingStore{Store: fs, cancel: cancel}

	mock, err := github.NewMockProvider("")
	require.NoError(t, err)
	r, err := retrieval.New(mock, retrieval.Options{}, zerolog.Nop())
	require.NoError(t, err)

	var logs bytes.Buffer
	rv := NewReviewer(r, ReviewerOptions{}, zerolog.New(&logs))
	h := session.NewController(st, zerolog.Nop()).Start(ctx, "s1", nil, "strict style")

	_, err = rv.Review(ctx, h, "demo/auth-service", demoPR(t), "strict style")
	require.ErrorIs(t, err, context.Canceled)
	assert.Contains(t, logs.String(), "record retrieval failure")
	assert.Contains(t, logs.String(), "disk full")

	events, err := fs.ReadSteps(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{models.StepCriteriaProcessing, models.StepCriteriaProcessing, models.StepContextRetrieval}, stepIDs(events))
}

func demoPR(t *testing.T) *github.PullRequest {
	t.Helper()
	m, err := github.NewMockProvider("")
	require.NoError(t, err)
	pr, err := m.GetPR(context.Background(), "demo/auth-service", 1)
	require.NoError(t, err)
	return pr
}

func TestJSONParser(t *testing.T) {
	pr := demoPR(t)

	r, err := JSONParser{}.Parse(fencedReply, pr)
	require.NoError(t, err)
	assert.Len(t, r.Comments, 2)
	assert.Equal(t, "**Solid start**", r.HighLevelSummaryMD)

	r, err = JSONParser{}.Parse(`Here you go: {"comment_summary": "ok"} hope it helps`, pr)
	require.NoError(t, err)
	assert.Equal(t, "ok", r.CommentSummary)
	assert.NotNil(t, r.Comments)
	assert.NotNil(t, r.PackageSuggestions)

	_, err = JSONParser{}.Parse(`{"unrelated": true}`, pr)
	assert.Error(t, err)

	_, err = JSONParser{}.Parse("no json here", pr)
	assert.Error(t, err)
}

func TestHeuristicParser(t *testing.T) {
	pr := demoPR(t)
	raw := "Looks fine overall. The JWT handling needs auth checks. Also more."

	r, err := DefaultParser().Parse(raw, pr)
	require.NoError(t, err)
	require.Len(t, r.Comments, 3)
	assert.Equal(t, "Review changes in src/auth/__init__.py (+15 lines)", r.Comments[0].CommentText)
	assert.Equal(t, "Looks fine overall. The JWT handling needs auth checks.", r.CommentSummary)
	assert.Equal(t, "**Code review completed**", r.HighLevelSummaryMD)

	names := []string{}
	for _, p := range r.PackageSuggestions {
		names = append(names, p.Name)
	}
	assert.Equal(t, []string{"PyJWT", "python-jose"}, names)

	r, err = HeuristicParser{}.Parse("Intro. **Needs security work** later.", pr)
	require.NoError(t, err)
	assert.Equal(t, "**Needs security work**", r.HighLevelSummaryMD)

	r, err = HeuristicParser{}.Parse("Mostly about performance", pr)
	require.NoError(t, err)
	assert.Equal(t, "**Performance optimization review completed**", r.HighLevelSummaryMD)

	long := strings.Repeat("word ", 60) + ". second."
	r, err = HeuristicParser{}.Parse(long, pr)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(r.CommentSummary, "..."))
	assert.Len(t, []rune(r.CommentSummary), maxCommentSummary+3)

	_, err = DefaultParser().Parse("   ", pr)
	assert.Error(t, err)
}

func TestStyleScore(t *testing.T) {
	tests := []struct {
		name     string
		criteria string
		comments int
		want     float64
	}{
		{"style no comments", "strict style", 0, 0.9},
		{"style one comment", "strict style", 1, 0.95},
		{"style capped", "strict style", 5, 1.0},
		{"performance two comments", "performance", 2, 0.8},
		{"custom", "check naming", 0, 0.7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &models.PRReview{}
			for range tt.comments {
				r.Comments = append(r.Comments, models.Comment{CommentText: "x"})
			}
			assert.InDelta(t, tt.want, StyleScore(r, criteria.Translate(tt.criteria)), 1e-9)
		})
	}
}

func TestSummarize_Labels(t *testing.T) {
	r := &models.PRReview{Comments: []models.Comment{
		{CommentText: "This loop is a bottleneck"},
	}}
	s := Summarize(r, criteria.Translate("performance"))
	assert.Equal(t, SecurityLow, s.SecurityRiskRating)
	assert.Equal(t, OptimizationMedium, s.OptimizationPotential)
	assert.Equal(t, 1, s.TotalComments)
	require.NotNil(t, r.StyleAdherenceScore)
	assert.InDelta(t, 0.75, *r.StyleAdherenceScore, 1e-9)

	r = &models.PRReview{Comments: []models.Comment{{CommentText: "Sanitize user INPUT"}}}
	assert.Equal(t, SecurityMedium, SecurityRating(r))
}

func TestFormatContext_Truncates(t *testing.T) {
	docs := []models.RetrievedDocument{
		{Content: strings.Repeat("a", 600), Source: "big.py", RelevanceScore: models.Float(0.9)},
		{Content: "small", Source: "small.py"},
	}

	full := FormatContext(docs, 0)
	assert.Contains(t, full, "**big.py** (Relevance: 0.9):\n"+strings.Repeat("a", 500)+"...")
	assert.Contains(t, full, "**small.py** (Relevance: N/A):\nsmall")

	cut := FormatContext(docs, 50)
	assert.True(t, strings.HasSuffix(cut, "\n[context truncated]"))
	assert.Len(t, []rune(cut), 50+len("\n[context truncated]"))
}

func TestBuildUserPrompt(t *testing.T) {
	pr := demoPR(t)
	p := BuildUserPrompt(pr, "ctx")
	assert.Contains(t, p, "**Files Changed:** 3 files")
	assert.Contains(t, p, "**Total Changes:** +80 -0")
	assert.Contains(t, p, "```diff")
	assert.True(t, strings.HasSuffix(p, "Context:\nctx"))
}
