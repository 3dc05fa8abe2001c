package review

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/joescharf/prreview/internal/github"
	"github.com/joescharf/prreview/internal/llm"
	"github.com/joescharf/prreview/internal/models"
)

// Parser turns raw model output into a structured review.
type Parser interface {
	Parse(raw string, pr *github.PullRequest) (*models.PRReview, error)
}

// DefaultParser tries strict JSON first and falls back to heuristics.
func DefaultParser() Parser {
	return ChainParser{JSONParser{}, HeuristicParser{}}
}

// JSONParser decodes a PRReview from a JSON reply, with or without a
// markdown fence around it.
type JSONParser struct{}

func (JSONParser) Parse(raw string, _ *github.PullRequest) (*models.PRReview, error) {
	text := llm.StripFences(raw)
	if start, end := strings.Index(text, "{"), strings.LastIndex(text, "}"); start >= 0 && end > start {
		text = text[start : end+1]
	}

	var r models.PRReview
	if err := json.Unmarshal([]byte(text), &r); err != nil {
		return nil, fmt.Errorf("parse review JSON: %w", err)
	}
	if len(r.Comments) == 0 && r.CommentSummary == "" && r.HighLevelSummaryMD == "" {
		return nil, errors.New("parse review JSON: no review fields present")
	}
	normalize(&r)
	return &r, nil
}

// HeuristicParser derives a review from free text: one comment per changed
// file, package suggestions from keywords, the first sentences as the
// comment summary and the first bold span as the headline.
type HeuristicParser struct{}

var boldRe = regexp.MustCompile(`\*\*(.*?)\*\*`)

const maxCommentSummary = 200

func (HeuristicParser) Parse(raw string, pr *github.PullRequest) (*models.PRReview, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, errors.New("empty model output")
	}
	r := &models.PRReview{
		Comments:           fileComments(pr, true),
		PackageSuggestions: packageSuggestions(raw),
		CommentSummary:     commentSummary(raw),
		HighLevelSummaryMD: headline(raw),
	}
	return r, nil
}

// ChainParser returns the result of the first parser that succeeds.
type ChainParser []Parser

func (c ChainParser) Parse(raw string, pr *github.PullRequest) (*models.PRReview, error) {
	var errs []error
	for _, p := range c {
		r, err := p.Parse(raw, pr)
		if err == nil {
			return r, nil
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil, errors.New("no parsers configured")
	}
	return nil, errors.Join(errs...)
}

// FallbackReview is the minimal review used when the model cannot be
// reached or its output cannot be parsed.
func FallbackReview(pr *github.PullRequest) *models.PRReview {
	return &models.PRReview{
		Comments:           fileComments(pr, false),
		PackageSuggestions: []models.PackageSuggestion{},
		CommentSummary:     fmt.Sprintf("Review of %d changed files", len(pr.Files)),
		HighLevelSummaryMD: "**Code review completed**",
	}
}

// FailedReview is recorded on sessions whose review did not run to the end.
func FailedReview() *models.PRReview {
	return &models.PRReview{
		Comments:           []models.Comment{},
		PackageSuggestions: []models.PackageSuggestion{},
		CommentSummary:     "Review failed due to error",
		HighLevelSummaryMD: "**Review failed**",
	}
}

func fileComments(pr *github.PullRequest, withCounts bool) []models.Comment {
	comments := []models.Comment{}
	if pr == nil {
		return comments
	}
	for _, f := range pr.Files {
		text := "Review changes in " + f.Path
		if withCounts && f.Additions > 0 {
			text += fmt.Sprintf(" (+%d lines)", f.Additions)
		}
		if withCounts && f.Deletions > 0 {
			text += fmt.Sprintf(" (-%d lines)", f.Deletions)
		}
		comments = append(comments, models.Comment{
			FilePath:    f.Path,
			LineNumber:  1,
			CommentText: text,
			Severity:    models.SeverityInfo,
		})
	}
	return comments
}

func packageSuggestions(raw string) []models.PackageSuggestion {
	lower := strings.ToLower(raw)
	out := []models.PackageSuggestion{}
	if strings.Contains(lower, "jwt") {
		out = append(out, models.PackageSuggestion{Name: "PyJWT", Reason: "For JWT token handling", Version: "2.8.0"})
	}
	if strings.Contains(lower, "auth") {
		out = append(out, models.PackageSuggestion{Name: "python-jose", Reason: "For JWT and JWE/JWS operations", Version: "3.3.0"})
	}
	return out
}

func commentSummary(raw string) string {
	parts := strings.SplitN(strings.TrimSpace(raw), ".", 3)
	if len(parts) > 2 {
		parts = parts[:2]
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	summary := strings.Join(parts, ". ") + "."
	if r := []rune(summary); len(r) > maxCommentSummary {
		return string(r[:maxCommentSummary]) + "..."
	}
	return summary
}

func headline(raw string) string {
	if m := boldRe.FindStringSubmatch(raw); m != nil {
		return "**" + m[1] + "**"
	}
	lower := strings.ToLower(raw)
	switch {
	case strings.Contains(lower, "security"):
		return "**Security-focused review completed**"
	case strings.Contains(lower, "performance"):
		return "**Performance optimization review completed**"
	case strings.Contains(lower, "style"):
		return "**Code style review completed**"
	}
	return "**Code review completed**"
}

func normalize(r *models.PRReview) {
	if r.Comments == nil {
		r.Comments = []models.Comment{}
	}
	if r.PackageSuggestions == nil {
		r.PackageSuggestions = []models.PackageSuggestion{}
	}
	for i := range r.Comments {
		c := &r.Comments[i]
		if c.LineNumber < 1 {
			c.LineNumber = 1
		}
		switch c.Severity {
		case models.SeverityInfo, models.SeverityWarning, models.SeverityError:
		default:
			c.Severity = models.SeverityInfo
		}
	}
}
