// Package review runs pull request reviews and records every step of each
// run as a replayable session.
package review

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/joescharf/prreview/internal/github"
	"github.com/joescharf/prreview/internal/models"
	"github.com/joescharf/prreview/internal/session"
)

// Defaults used when a replayed session lacks repository information.
const (
	replayDefaultRepo = "demo-repo"
	replayDefaultPR   = 1
)

// Metadata describes the request behind a Result.
type Metadata struct {
	Repo      string    `json:"repo"`
	PRNumber  int       `json:"pr_number"`
	Criteria  string    `json:"criteria"`
	Timestamp time.Time `json:"timestamp"`
	ReplayOf  string    `json:"replay_of,omitempty"`
}

// Result is the outcome of one review run.
type Result struct {
	SessionID string           `json:"session_id"`
	Success   bool             `json:"success"`
	Error     string           `json:"error,omitempty"`
	Review    *models.PRReview `json:"review"`
	Session   *models.Session  `json:"session,omitempty"`
	Metadata  Metadata         `json:"metadata"`
}

// Orchestrator ties the provider, the reviewer and the session controller
// together.
type Orchestrator struct {
	controller *session.Controller
	provider   github.Provider
	reviewer   *Reviewer
	log        zerolog.Logger
	now        func() time.Time
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(c *session.Controller, p github.Provider, r *Reviewer, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		controller: c,
		provider:   p,
		reviewer:   r,
		log:        logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Controller returns the session controller reviews are recorded with.
func (o *Orchestrator) Controller() *session.Controller { return o.controller }

// ReviewPullRequest reviews pull request number of repo against criteria
// in a new session. Review failures are reported on the Result and the
// stored session; the returned error is non-nil only when the session
// could not be persisted.
func (o *Orchestrator) ReviewPullRequest(ctx context.Context, repo string, number int, criteria string) (*Result, error) {
	return o.run(ctx, repo, number, criteria, "")
}

// Replay re-runs a stored session under a new id. An empty newCriteria
// reuses the original criteria.
func (o *Orchestrator) Replay(ctx context.Context, id, newCriteria string) (*Result, error) {
	orig, err := o.controller.LoadSession(ctx, id)
	if err != nil {
		return nil, err
	}

	criteria := orig.CriteriaText
	if newCriteria != "" {
		criteria = newCriteria
	}
	repo := replayDefaultRepo
	if r, ok := orig.PRInfo["repo"].(string); ok && r != "" {
		repo = r
	}
	number, ok := orig.PRNumber()
	if !ok {
		number = replayDefaultPR
	}

	o.log.Info().
		Str("original", id).
		Str("repo", repo).
		Int("pr", number).
		Bool("new_criteria", newCriteria != "").
		Msg("replaying session")
	return o.run(ctx, repo, number, criteria, id)
}

func (o *Orchestrator) run(ctx context.Context, repo string, number int, criteria, replayOf string) (*Result, error) {
	start := o.now()
	id := session.NewSessionID(start)
	log := o.log.With().Str("session_id", id).Str("repo", repo).Int("pr", number).Logger()

	res := &Result{
		SessionID: id,
		Metadata: Metadata{
			Repo:      repo,
			PRNumber:  number,
			Criteria:  criteria,
			Timestamp: start,
			ReplayOf:  replayOf,
		},
	}

	pr, err := o.provider.GetPR(ctx, repo, number)
	if err != nil {
		err = fmt.Errorf("fetch PR %s#%d: %w", repo, number, err)
		h := o.controller.Start(ctx, id, map[string]any{"repo": repo, "pr_number": number}, criteria)
		return o.fail(ctx, h, res, err, log)
	}

	h := o.controller.Start(ctx, id, pr.Info(repo, number), criteria)
	review, err := o.reviewer.Review(ctx, h, repo, pr, criteria)
	if err != nil {
		return o.fail(ctx, h, res, err, log)
	}

	sess, err := h.Complete(ctx, review, true, "")
	if err != nil {
		return nil, err
	}
	res.Success = true
	res.Review = review
	res.Session = sess
	log.Info().Int("comments", len(review.Comments)).Msg("review completed")
	return res, nil
}

// fail completes h as failed. Completion ignores cancellation of ctx so a
// cancelled review still leaves a terminal snapshot behind.
func (o *Orchestrator) fail(ctx context.Context, h *session.Handle, res *Result, cause error, log zerolog.Logger) (*Result, error) {
	log.Error().Err(cause).Msg("review failed")

	review := FailedReview()
	sess, err := h.Complete(context.WithoutCancel(ctx), review, false, cause.Error())
	if err != nil {
		return nil, errors.Join(cause, err)
	}
	res.Success = false
	res.Error = cause.Error()
	res.Review = review
	res.Session = sess
	return res, nil
}
