package models

// Severity is the level attached to a review comment.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Comment is a single file/line comment on a PR.
type Comment struct {
	FilePath      string   `json:"file_path"`
	LineNumber    int      `json:"line_number"`
	CommentText   string   `json:"comment_text"`
	EndLineNumber *int     `json:"end_line_number,omitempty"`
	Severity      Severity `json:"severity"`
}

// PackageSuggestion recommends a dependency for the change under review.
type PackageSuggestion struct {
	Name    string `json:"name"`
	Reason  string `json:"reason"`
	Snippet string `json:"snippet,omitempty"`
	Version string `json:"version,omitempty"`
}

// PRReview is the final output of a review session.
type PRReview struct {
	Comments              []Comment           `json:"comments"`
	PackageSuggestions    []PackageSuggestion `json:"package_suggestions"`
	CommentSummary        string              `json:"comment_summary"`
	HighLevelSummaryMD    string              `json:"high_level_summary_md"`
	StyleAdherenceScore   *float64            `json:"style_adherence_score,omitempty"`
	SecurityRiskRating    string              `json:"security_risk_rating,omitempty"`
	OptimizationPotential string              `json:"optimization_potential,omitempty"`
}

// RetrievedDocument is a piece of context gathered for a review.
type RetrievedDocument struct {
	Content        string         `json:"content"`
	Source         string         `json:"source"`
	RelevanceScore *float64       `json:"relevance_score,omitempty"`
	Metadata       map[string]any `json:"metadata"`
}

// Score returns the relevance score, treating a missing score as zero.
func (d RetrievedDocument) Score() float64 {
	if d.RelevanceScore == nil {
		return 0
	}
	return *d.RelevanceScore
}

// Type returns the "type" metadata value, or "general".
func (d RetrievedDocument) Type() string {
	if t, ok := d.Metadata["type"].(string); ok && t != "" {
		return t
	}
	return "general"
}

// Float returns a pointer to f.
func Float(f float64) *float64 { return &f }

// Int returns a pointer to i.
func Int(i int) *int { return &i }
