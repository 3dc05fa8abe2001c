package review

import (
	"math"
	"strings"

	"github.com/joescharf/prreview/internal/models"
)

var (
	securityKeywords = []string{"password", "secret", "token", "auth", "validation", "input"}
	perfKeywords     = []string{"loop", "algorithm", "efficient", "bottleneck", "performance"}
)

// Risk and potential labels.
const (
	SecurityMedium     = "Medium - Security considerations identified"
	SecurityLow        = "Low - No obvious security concerns"
	OptimizationMedium = "Medium - Performance optimizations identified"
	OptimizationLow    = "Low - No obvious optimization opportunities"
)

// Summarize fills the score fields of r and returns the summary recorded on
// the review_summary step.
func Summarize(r *models.PRReview, crit models.CriteriaResult) models.ReviewSummary {
	score := StyleScore(r, crit)
	r.StyleAdherenceScore = &score
	r.SecurityRiskRating = SecurityRating(r)
	r.OptimizationPotential = OptimizationPotential(r)

	return models.ReviewSummary{
		TotalComments:         len(r.Comments),
		PackageSuggestions:    len(r.PackageSuggestions),
		StyleAdherenceScore:   score,
		SecurityRiskRating:    r.SecurityRiskRating,
		OptimizationPotential: r.OptimizationPotential,
	}
}

// StyleScore is 0.7, plus 0.2 for a style focus, plus 0.05 per comment up
// to 0.1, capped at 1.0 and rounded to two decimals.
func StyleScore(r *models.PRReview, crit models.CriteriaResult) float64 {
	score := 0.7
	if strings.Contains(strings.ToLower(crit.Focus), "style") {
		score += 0.2
	}
	if n := len(r.Comments); n > 0 {
		score += math.Min(float64(n)*0.05, 0.1)
	}
	return math.Round(math.Min(score, 1.0)*100) / 100
}

// SecurityRating flags reviews whose comments mention security topics.
func SecurityRating(r *models.PRReview) string {
	if commentsMention(r, securityKeywords) {
		return SecurityMedium
	}
	return SecurityLow
}

// OptimizationPotential flags reviews whose comments mention performance.
func OptimizationPotential(r *models.PRReview) string {
	if commentsMention(r, perfKeywords) {
		return OptimizationMedium
	}
	return OptimizationLow
}

func commentsMention(r *models.PRReview, keywords []string) bool {
	for _, c := range r.Comments {
		text := strings.ToLower(c.CommentText)
		for _, kw := range keywords {
			if strings.Contains(text, kw) {
				return true
			}
		}
	}
	return false
}
