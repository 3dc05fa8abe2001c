package review

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/rs/zerolog"

	"github.com/joescharf/prreview/internal/criteria"
	"github.com/joescharf/prreview/internal/github"
	"github.com/joescharf/prreview/internal/models"
	"github.com/joescharf/prreview/internal/retrieval"
	"github.com/joescharf/prreview/internal/session"
)

// Generator produces text from a system and user prompt.
type Generator interface {
	Generate(ctx context.Context, system, user string) (string, error)
}

// ErrNoGenerator is recorded on the generation step when no model is
// configured.
var ErrNoGenerator = errors.New("no LLM generator configured")

// Placeholder outputs logged before a step's real output exists.
const (
	pendingCriteria   = "Processing user criteria..."
	pendingRetrieval  = "Retrieving context..."
	pendingGeneration = "Generating review..."
	pendingSummary    = "Generating summary..."
)

// ReviewerOptions configures a Reviewer.
type ReviewerOptions struct {
	// Generator may be nil, in which case every review is the fallback.
	Generator        Generator
	Parser           Parser
	ModelParams      map[string]any
	MaxContextLength int
}

// Reviewer runs the four-step review pipeline and logs every step.
type Reviewer struct {
	retriever *retrieval.Retriever
	opts      ReviewerOptions
	log       zerolog.Logger
}

// NewReviewer returns a Reviewer that gathers context with r.
func NewReviewer(r *retrieval.Retriever, opts ReviewerOptions, logger zerolog.Logger) *Reviewer {
	if opts.Parser == nil {
		opts.Parser = DefaultParser()
	}
	if opts.MaxContextLength <= 0 {
		opts.MaxContextLength = DefaultMaxContextChars
	}
	if opts.ModelParams == nil {
		opts.ModelParams = map[string]any{}
	}
	return &Reviewer{retriever: r, opts: opts, log: logger}
}

// Review reviews pr against criteriaText, logging each step on h. Each
// step is logged once with a placeholder output and again when its output
// is ready. Model failures degrade to FallbackReview; only logging and
// retrieval failures are returned.
func (rv *Reviewer) Review(ctx context.Context, h *session.Handle, repo string, pr *github.PullRequest, criteriaText string) (*models.PRReview, error) {
	log := rv.log.With().Str("session_id", h.ID()).Logger()

	// 1. Criteria
	step := rv.step(models.StepTypeReasoning, models.StepCriteriaProcessing,
		map[string]any{"criteria_text": criteriaText},
		map[string]any{models.KeyCriteriaData: pendingCriteria})
	if err := h.LogStep(ctx, step); err != nil {
		return nil, err
	}
	crit := criteria.Translate(criteriaText)
	critPayload, err := models.ToPayload(crit)
	if err != nil {
		return nil, err
	}
	step.Output[models.KeyCriteriaData] = critPayload
	step.StyleGuide = crit.StyleGuide
	if err := h.LogStep(ctx, step); err != nil {
		return nil, err
	}
	log.Debug().Str("focus", crit.Focus).Msg("criteria processed")

	// 2. Retrieval
	prPayload, err := models.ToPayload(pr)
	if err != nil {
		return nil, err
	}
	step = rv.step(models.StepTypeRetrieval, models.StepContextRetrieval,
		map[string]any{"repo": repo, "pr_info": prPayload, "criteria": critPayload},
		map[string]any{models.KeyRetrievedDocs: pendingRetrieval})
	if err := h.LogStep(ctx, step); err != nil {
		return nil, err
	}
	rc, err := rv.retriever.Retrieve(ctx, repo, pr, crit)
	if err != nil {
		step.Error = err.Error()
		if lerr := h.LogStep(context.WithoutCancel(ctx), step); lerr != nil {
			log.Warn().Err(lerr).Str("step_id", step.StepID).Msg("record retrieval failure")
		}
		return nil, fmt.Errorf("retrieve context: %w", err)
	}
	rcPayload, err := models.ToPayload(rc)
	if err != nil {
		return nil, err
	}
	step.Output[models.KeyRetrievedDocs] = rc.Documents
	step.Output[models.KeyContextSummary] = rcPayload
	step.RetrievedDocs = rc.Documents
	if err := h.LogStep(ctx, step); err != nil {
		return nil, err
	}
	log.Debug().Int("documents", rc.TotalDocuments).Msg("context retrieved")

	// 3. Generation
	system := BuildSystemPrompt(crit)
	user := BuildUserPrompt(pr, FormatContext(rc.Documents, rv.opts.MaxContextLength))
	step = rv.step(models.StepTypeGeneration, models.StepReviewGeneration,
		map[string]any{
			"criteria_focus":  crit.Focus,
			"total_documents": rc.TotalDocuments,
			"system_prompt":   system,
			"user_prompt":     user,
		},
		map[string]any{models.KeyReview: pendingGeneration})
	step.StyleGuide = crit.StyleGuide
	step.RetrievedDocs = rc.Documents
	if err := h.LogStep(ctx, step); err != nil {
		return nil, err
	}
	review, raw, genErr := rv.generate(ctx, system, user, pr)
	if genErr != nil {
		step.Error = genErr.Error()
		log.Warn().Err(genErr).Msg("using fallback review")
	}
	step.ReasoningTrace = raw
	reviewPayload, err := models.ToPayload(review)
	if err != nil {
		return nil, err
	}
	step.Output[models.KeyReview] = reviewPayload
	step.PackageSuggestions = review.PackageSuggestions
	if err := h.LogStep(ctx, step); err != nil {
		return nil, err
	}

	// 4. Summary
	step = rv.step(models.StepTypeSummary, models.StepReviewSummary,
		map[string]any{models.KeyReview: reviewPayload},
		map[string]any{models.KeySummary: pendingSummary})
	if err := h.LogStep(ctx, step); err != nil {
		return nil, err
	}
	summary := Summarize(review, crit)
	summaryPayload, err := models.ToPayload(summary)
	if err != nil {
		return nil, err
	}
	step.Output[models.KeySummary] = summaryPayload
	step.PackageSuggestions = review.PackageSuggestions
	if err := h.LogStep(ctx, step); err != nil {
		return nil, err
	}

	return review, nil
}

// generate returns a usable review in every case; the error reports why
// the fallback was used.
func (rv *Reviewer) generate(ctx context.Context, system, user string, pr *github.PullRequest) (*models.PRReview, string, error) {
	if rv.opts.Generator == nil {
		return FallbackReview(pr), "", ErrNoGenerator
	}
	raw, err := rv.opts.Generator.Generate(ctx, system, user)
	if err != nil {
		return FallbackReview(pr), "", fmt.Errorf("generate review: %w", err)
	}
	review, err := rv.opts.Parser.Parse(raw, pr)
	if err != nil {
		return FallbackReview(pr), raw, fmt.Errorf("parse review: %w", err)
	}
	return review, raw, nil
}

func (rv *Reviewer) step(t models.StepType, id string, input, output map[string]any) models.ReasoningStep {
	// The zero timestamp is stamped by the handle at each LogStep.
	s := models.NewStep(t, id, input, output, time.Time{})
	s.ModelParams = maps.Clone(rv.opts.ModelParams)
	return s
}
