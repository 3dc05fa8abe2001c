// Package session drives the lifecycle of review sessions on top of a Store.
//
// A session moves Idle -> Active on Start and back to Idle on Complete.
// Start returns a Handle that owns the session; callers that run several
// reviews at once should thread the handle through. The Controller also
// keeps a single "current" slot for callers that do not: the most recent
// Start wins that slot, silently replacing any session still open in it.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/joescharf/prreview/internal/models"
	"github.com/joescharf/prreview/internal/store"
)

var (
	// ErrNoActiveSession is returned when logging or completing without an
	// open session. It always indicates a caller bug.
	ErrNoActiveSession = errors.New("no active session")

	// ErrSessionNotFound is returned for an unknown session ID.
	ErrSessionNotFound = errors.New("session not found")
)

// NewSessionID returns an ID of the form review_<YYYYmmdd_HHMMSS>_<8 hex>.
// IDs double as file name stems, so they only contain [a-z0-9_].
func NewSessionID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("review_%s_%s", now.Format("20060102_150405"), suffix)
}

// Controller creates sessions and answers queries over the stored ones.
type Controller struct {
	store store.Store
	log   zerolog.Logger
	now   func() time.Time

	mu      sync.Mutex
	current *Handle
}

// NewController returns a controller persisting to st.
func NewController(st store.Store, logger zerolog.Logger) *Controller {
	return &Controller{
		store: st,
		log:   logger,
		now:   func() time.Time { return time.Now().UTC().Round(0) },
	}
}

// Store returns the underlying store.
func (c *Controller) Store() store.Store { return c.store }

// Start opens a new session and makes it current. Nothing is persisted
// until the first step or completion.
func (c *Controller) Start(_ context.Context, id string, prInfo map[string]any, criteria string) *Handle {
	h := &Handle{
		c:       c,
		session: models.NewSession(id, prInfo, criteria, c.now()),
	}

	c.mu.Lock()
	replaced := c.current
	c.current = h
	c.mu.Unlock()

	if replaced != nil && replaced.Active() {
		c.log.Debug().
			Str("replaced", replaced.ID()).
			Str("session_id", id).
			Msg("current session replaced before completion")
	}

	c.log.Info().Str("session_id", id).Msg("session started")
	return h
}

// Current returns the handle in the current slot, or nil.
func (c *Controller) Current() *Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// LogStep records a step on the current session.
func (c *Controller) LogStep(ctx context.Context, step models.ReasoningStep) error {
	h := c.Current()
	if h == nil {
		return ErrNoActiveSession
	}
	return h.LogStep(ctx, step)
}

// Complete finishes the current session and clears the slot.
func (c *Controller) Complete(ctx context.Context, review *models.PRReview, success bool, errMsg string) (*models.Session, error) {
	h := c.Current()
	if h == nil {
		return nil, ErrNoActiveSession
	}
	return h.Complete(ctx, review, success, errMsg)
}

func (c *Controller) release(h *Handle) {
	c.mu.Lock()
	if c.current == h {
		c.current = nil
	}
	c.mu.Unlock()
}

// Handle owns one open session.
type Handle struct {
	c *Controller

	mu      sync.Mutex
	session *models.Session
	done    bool
}

// ID returns the session ID.
func (h *Handle) ID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.session.SessionID
}

// Active reports whether the session is still open.
func (h *Handle) Active() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.done
}

// Session returns a copy of the in-memory session.
func (h *Handle) Session() *models.Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.session.Clone()
}

// LogStep appends a copy of step to the session and to the durable log.
// The copy is normalized through JSON so the session held in memory equals
// the one read back from the store.
// Logging a step ID that was already used appends a new record; it never
// overwrites.
func (h *Handle) LogStep(ctx context.Context, step models.ReasoningStep) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.done {
		return ErrNoActiveSession
	}

	if step.Timestamp.IsZero() {
		step.Timestamp = h.c.now()
	}
	recorded, err := step.Normalized()
	if err != nil {
		return fmt.Errorf("log step %s: %w", step.StepID, err)
	}
	ev := &models.StepEvent{ReasoningStep: recorded.Clone()}
	if err := h.c.store.WriteStep(ctx, h.session.SessionID, ev); err != nil {
		return fmt.Errorf("log step %s: %w", step.StepID, err)
	}
	h.session.ReasoningSteps = append(h.session.ReasoningSteps, recorded)

	h.c.log.Debug().
		Str("session_id", h.session.SessionID).
		Str("step_id", step.StepID).
		Str("step_type", string(step.StepType)).
		Msg("step logged")
	return nil
}

// Complete sets the terminal fields and persists the snapshot. If the
// snapshot cannot be written the session stays open and may be completed
// again.
func (h *Handle) Complete(ctx context.Context, review *models.PRReview, success bool, errMsg string) (*models.Session, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.done {
		return nil, ErrNoActiveSession
	}

	final := h.session.Clone()
	end := h.c.now()
	if end.Before(final.StartTime) {
		end = final.StartTime
	}
	final.EndTime = &end
	final.FinalReview = review
	final.Success = success
	final.ErrorMessage = errMsg

	if err := h.c.store.WriteSession(ctx, final); err != nil {
		return nil, fmt.Errorf("complete session %s: %w", final.SessionID, err)
	}

	h.session = final
	h.done = true
	h.c.release(h)

	h.c.log.Info().
		Str("session_id", final.SessionID).
		Bool("success", success).
		Int("steps", len(final.ReasoningSteps)).
		Msg("session completed")
	return final.Clone(), nil
}
