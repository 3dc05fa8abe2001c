package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/joescharf/prreview/internal/models"
	"github.com/joescharf/prreview/internal/store"
)

const (
	summaryCriteriaLen = 100
	statsCriteriaLen   = 50
)

// Details is a stored session together with its durable step log.
type Details struct {
	Session   *models.Session     `json:"session"`
	Steps     []*models.StepEvent `json:"steps"`
	StepCount int                 `json:"step_count"`
}

// Summary is the listing projection of a session.
type Summary struct {
	SessionID    string     `json:"session_id"`
	Repo         string     `json:"repo"`
	PRNumber     *int       `json:"pr_number,omitempty"`
	Criteria     string     `json:"criteria"`
	Success      bool       `json:"success"`
	StartTime    time.Time  `json:"start_time"`
	EndTime      *time.Time `json:"end_time,omitempty"`
	CommentCount int        `json:"comment_count"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

// Statistics aggregates every readable stored session.
type Statistics struct {
	TotalSessions             int            `json:"total_sessions"`
	SuccessfulSessions        int            `json:"successful_sessions"`
	FailedSessions            int            `json:"failed_sessions"`
	SuccessRate               float64        `json:"success_rate"`
	TotalComments             int            `json:"total_comments"`
	TotalPackageSuggestions   int            `json:"total_package_suggestions"`
	AverageCommentsPerSession float64        `json:"average_comments_per_session"`
	CriteriaDistribution      map[string]int `json:"criteria_distribution"`
	RepositoryDistribution    map[string]int `json:"repository_distribution"`
}

// GetSessionDetails returns the snapshot and step log for id.
func (c *Controller) GetSessionDetails(ctx context.Context, id string) (*Details, error) {
	sess, err := c.store.ReadSession(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	steps, err := c.store.ReadSteps(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Details{Session: sess, Steps: steps, StepCount: len(steps)}, nil
}

// LoadSession returns the stored snapshot for id.
func (c *Controller) LoadSession(ctx context.Context, id string) (*models.Session, error) {
	sess, err := c.store.ReadSession(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return sess, err
}

// ListSessions returns a summary for every stored session, newest first.
// Unreadable snapshots are logged and skipped.
func (c *Controller) ListSessions(ctx context.Context) ([]Summary, error) {
	sessions, err := c.loadAll(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Summary, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, Summarize(s))
	}
	return out, nil
}

// Summarize projects a session to its listing form.
func Summarize(s *models.Session) Summary {
	sum := Summary{
		SessionID:    s.SessionID,
		Repo:         s.Repo(),
		Criteria:     truncate(s.CriteriaText, summaryCriteriaLen, "..."),
		Success:      s.Success,
		StartTime:    s.StartTime,
		EndTime:      s.EndTime,
		ErrorMessage: s.ErrorMessage,
	}
	if n, ok := s.PRNumber(); ok {
		sum.PRNumber = &n
	}
	if s.FinalReview != nil {
		sum.CommentCount = len(s.FinalReview.Comments)
	}
	return sum
}

// Statistics aggregates every readable stored session.
func (c *Controller) Statistics(ctx context.Context) (*Statistics, error) {
	sessions, err := c.loadAll(ctx)
	if err != nil {
		return nil, err
	}

	st := &Statistics{
		CriteriaDistribution:   map[string]int{},
		RepositoryDistribution: map[string]int{},
	}
	for _, s := range sessions {
		st.TotalSessions++
		if s.Success {
			st.SuccessfulSessions++
		}
		if s.FinalReview != nil {
			st.TotalComments += len(s.FinalReview.Comments)
			st.TotalPackageSuggestions += len(s.FinalReview.PackageSuggestions)
		}
		st.CriteriaDistribution[truncate(s.CriteriaText, statsCriteriaLen, "")]++
		st.RepositoryDistribution[s.Repo()]++
	}
	st.FailedSessions = st.TotalSessions - st.SuccessfulSessions
	if st.TotalSessions > 0 {
		st.SuccessRate = float64(st.SuccessfulSessions) / float64(st.TotalSessions)
	}
	if st.SuccessfulSessions > 0 {
		st.AverageCommentsPerSession = float64(st.TotalComments) / float64(st.SuccessfulSessions)
	}
	return st, nil
}

func (c *Controller) loadAll(ctx context.Context) ([]*models.Session, error) {
	ids, err := c.store.ListSessionIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	sessions := make([]*models.Session, 0, len(ids))
	for _, id := range ids {
		s, err := c.store.ReadSession(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.log.Warn().Err(err).Str("session_id", id).Msg("skipping unreadable session")
			continue
		}
		sessions = append(sessions, s)
	}
	return sessions, nil
}

// truncate cuts s to n runes, appending suffix only when it cut.
func truncate(s string, n int, suffix string) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + suffix
}
