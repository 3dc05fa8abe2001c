package models

import (
	"encoding/json"
	"strconv"
	"time"
)

// Session is one end-to-end review (or replay) attempt.
type Session struct {
	SessionID      string          `json:"session_id"`
	PRInfo         map[string]any  `json:"pr_info"`
	CriteriaText   string          `json:"criteria_text"`
	StartTime      time.Time       `json:"start_time"`
	EndTime        *time.Time      `json:"end_time,omitempty"`
	ReasoningSteps []ReasoningStep `json:"reasoning_steps"`
	FinalReview    *PRReview       `json:"final_review,omitempty"`
	Success        bool            `json:"success"`
	ErrorMessage   string          `json:"error_message,omitempty"`
}

// NewSession returns an open session with an empty step list. PRInfo is
// stored in its JSON-decoded form so the session reads back unchanged.
func NewSession(id string, prInfo map[string]any, criteria string, start time.Time) *Session {
	if m, err := ToPayload(prInfo); err == nil && m != nil {
		prInfo = m
	}
	if prInfo == nil {
		prInfo = map[string]any{}
	}
	return &Session{
		SessionID:      id,
		PRInfo:         prInfo,
		CriteriaText:   criteria,
		StartTime:      start,
		ReasoningSteps: []ReasoningStep{},
		Success:        true,
	}
}

// Completed reports whether the terminal fields have been set.
func (s *Session) Completed() bool {
	return s.EndTime != nil
}

// Repo returns the repository name recorded in PRInfo, or "Unknown".
func (s *Session) Repo() string {
	if v, ok := s.PRInfo["repo"].(string); ok && v != "" {
		return v
	}
	return "Unknown"
}

// PRNumber returns the PR number recorded in PRInfo. JSON decoding turns
// numbers into float64, so every numeric shape is accepted.
func (s *Session) PRNumber() (int, bool) {
	switch v := s.PRInfo["pr_number"].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	case json.Number:
		n, err := v.Int64()
		return int(n), err == nil
	case string:
		n, err := strconv.Atoi(v)
		return n, err == nil
	default:
		return 0, false
	}
}

// Clone returns a copy of the session whose step list and PR info can be
// mutated without touching the original.
func (s *Session) Clone() *Session {
	c := *s
	c.PRInfo = cloneMap(s.PRInfo)
	c.ReasoningSteps = make([]ReasoningStep, len(s.ReasoningSteps))
	for i, step := range s.ReasoningSteps {
		c.ReasoningSteps[i] = step.Clone()
	}
	if s.EndTime != nil {
		t := *s.EndTime
		c.EndTime = &t
	}
	return &c
}
