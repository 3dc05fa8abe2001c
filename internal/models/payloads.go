package models

import (
	"encoding/json"
	"fmt"
)

// Step IDs written by the review pipeline.
const (
	StepCriteriaProcessing = "criteria_processing"
	StepContextRetrieval   = "context_retrieval"
	StepReviewGeneration   = "review_generation"
	StepReviewSummary      = "review_summary"
)

// Output keys the pipeline steps populate.
const (
	KeyCriteriaData   = "criteria_data"
	KeyRetrievedDocs  = "retrieved_docs"
	KeyContextSummary = "context_summary"
	KeyReview         = "review"
	KeySummary        = "summary"
)

var requiredOutputKeys = map[string][]string{
	StepCriteriaProcessing: {KeyCriteriaData},
	StepContextRetrieval:   {KeyRetrievedDocs, KeyContextSummary},
	StepReviewGeneration:   {KeyReview},
	StepReviewSummary:      {KeySummary},
}

// CriteriaResult is the translated form of free-form review criteria.
type CriteriaResult struct {
	Type          string   `json:"type"`
	Preset        string   `json:"preset_used,omitempty"`
	Focus         string   `json:"focus"`
	Rules         []string `json:"rules"`
	CustomRules   []string `json:"custom_rules,omitempty"`
	FocusAreas    []string `json:"focus_areas,omitempty"`
	StyleGuide    string   `json:"style_guide"`
	OriginalInput string   `json:"original_input"`
}

// RetrievalContext is the output of the context retrieval step.
type RetrievalContext struct {
	Documents       []RetrievedDocument            `json:"documents"`
	DocumentsByType map[string][]RetrievedDocument `json:"documents_by_type"`
	TotalDocuments  int                            `json:"total_documents"`
	CriteriaFocus   string                         `json:"criteria_focus"`
	Repository      string                         `json:"repository"`
	PRSummary       PRSummary                      `json:"pr_summary"`
}

// PRSummary is the short description of a PR carried with its context.
type PRSummary struct {
	Title          string `json:"title"`
	FilesChanged   int    `json:"files_changed"`
	TotalAdditions int    `json:"total_additions"`
	TotalDeletions int    `json:"total_deletions"`
}

// ReviewSummary is the output of the review summary step.
type ReviewSummary struct {
	TotalComments         int     `json:"total_comments"`
	PackageSuggestions    int     `json:"package_suggestions"`
	StyleAdherenceScore   float64 `json:"style_adherence_score"`
	SecurityRiskRating    string  `json:"security_risk_rating"`
	OptimizationPotential string  `json:"optimization_potential"`
}

// ToPayload converts v into the schema-less map form stored on a step.
func ToPayload(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("payload is not an object: %w", err)
	}
	return m, nil
}

// DecodePayload converts a schema-less value (typically one entry of a
// step's Output) back into T.
func DecodePayload[T any](v any) (T, error) {
	var out T
	data, err := json.Marshal(v)
	if err != nil {
		return out, fmt.Errorf("marshal payload: %w", err)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("decode payload: %w", err)
	}
	return out, nil
}

// ValidateStepOutput checks that a step written by the review pipeline
// carries the output keys its readers depend on. Steps with an error or an
// unknown step ID are not checked.
func ValidateStepOutput(step ReasoningStep) error {
	if step.Error != "" {
		return nil
	}
	keys, ok := requiredOutputKeys[step.StepID]
	if !ok {
		return nil
	}
	for _, k := range keys {
		if _, present := step.Output[k]; !present {
			return fmt.Errorf("step %s: missing output key %q", step.StepID, k)
		}
	}
	return nil
}
