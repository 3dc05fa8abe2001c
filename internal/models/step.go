package models

import (
	"maps"
	"slices"
	"time"
)

// StepType is the kind of work a reasoning step records.
type StepType string

const (
	StepTypeRetrieval  StepType = "retrieval"
	StepTypeReasoning  StepType = "reasoning"
	StepTypeGeneration StepType = "generation"
	StepTypeToolCall   StepType = "tool_call"
	StepTypeSummary    StepType = "summary"
)

// Valid reports whether t is one of the known step types.
func (t StepType) Valid() bool {
	switch t {
	case StepTypeRetrieval, StepTypeReasoning, StepTypeGeneration, StepTypeToolCall, StepTypeSummary:
		return true
	}
	return false
}

// ReasoningStep is one discrete unit of work inside a session.
// StepID is unique only within its session.
type ReasoningStep struct {
	Timestamp          time.Time           `json:"timestamp"`
	StepType           StepType            `json:"step_type"`
	StepID             string              `json:"step_id"`
	Input              map[string]any      `json:"input"`
	Output             map[string]any      `json:"output"`
	RetrievedDocs      []RetrievedDocument `json:"retrieved_docs"`
	StyleGuide         string              `json:"style_guide,omitempty"`
	PackageSuggestions []PackageSuggestion `json:"package_suggestions"`
	ModelParams        map[string]any      `json:"model_params"`
	ReasoningTrace     string              `json:"reasoning_trace,omitempty"`
	Error              string              `json:"error,omitempty"`
}

// NewStep returns a step stamped with ts and non-nil collections.
func NewStep(stepType StepType, stepID string, input, output map[string]any, ts time.Time) ReasoningStep {
	if input == nil {
		input = map[string]any{}
	}
	if output == nil {
		output = map[string]any{}
	}
	return ReasoningStep{
		Timestamp:          ts,
		StepType:           stepType,
		StepID:             stepID,
		Input:              input,
		Output:             output,
		RetrievedDocs:      []RetrievedDocument{},
		PackageSuggestions: []PackageSuggestion{},
		ModelParams:        map[string]any{},
	}
}

// Clone copies the step so later in-place updates to its maps and slices
// do not leak into an already recorded event. Map values are copied
// shallowly.
func (s ReasoningStep) Clone() ReasoningStep {
	c := s
	c.Input = cloneMap(s.Input)
	c.Output = cloneMap(s.Output)
	c.ModelParams = cloneMap(s.ModelParams)
	if s.RetrievedDocs != nil {
		c.RetrievedDocs = make([]RetrievedDocument, len(s.RetrievedDocs))
		for i, d := range s.RetrievedDocs {
			c.RetrievedDocs[i] = d
			c.RetrievedDocs[i].Metadata = cloneMap(d.Metadata)
		}
	}
	c.PackageSuggestions = slices.Clone(s.PackageSuggestions)
	return c
}

// Normalized returns the step as it reads back from its JSON encoding.
// Typed values inside the schema-less maps become their decoded shapes
// (numbers become float64, structs become maps).
func (s ReasoningStep) Normalized() (ReasoningStep, error) {
	return DecodePayload[ReasoningStep](s)
}

// StepEvent is a single record of the durable step log. The same step ID
// may appear in several events; later events supersede earlier ones for
// display.
type StepEvent struct {
	EventID   string `json:"event_id"`
	SessionID string `json:"session_id"`
	ReasoningStep
}

// LatestSteps collapses events by step ID, keeping the last event for each
// ID at the position where the ID first appeared.
func LatestSteps(events []*StepEvent) []ReasoningStep {
	index := make(map[string]int)
	var out []ReasoningStep
	for _, ev := range events {
		if i, ok := index[ev.StepID]; ok {
			out[i] = ev.ReasoningStep
			continue
		}
		index[ev.StepID] = len(out)
		out = append(out, ev.ReasoningStep)
	}
	return out
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	return maps.Clone(m)
}
