// Package criteria turns free-form review criteria into a focus, a rule
// list and a markdown style guide. Translation is pure and deterministic.
package criteria

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/joescharf/prreview/internal/models"
)

// Result types.
const (
	TypePreset = "preset"
	TypeCustom = "custom"
)

// CustomFocus is the focus reported for criteria matching no preset.
const CustomFocus = "Custom criteria"

// Preset is a named, built-in set of review rules.
type Preset struct {
	Name  string
	Focus string
	Rules []string
}

// Presets are matched in this order; the first whose name appears in the
// criteria text wins.
var Presets = []Preset{
	{
		Name:  "strict style",
		Focus: "Code style and formatting consistency",
		Rules: []string{
			"Check for consistent indentation (4 spaces)",
			"Verify proper import ordering",
			"Ensure consistent naming conventions",
			"Check for proper docstrings and comments",
		},
	},
	{
		Name:  "performance",
		Focus: "Performance optimization and efficiency",
		Rules: []string{
			"Identify potential performance bottlenecks",
			"Suggest more efficient algorithms",
			"Check for unnecessary loops or computations",
			"Recommend performance monitoring tools",
		},
	},
	{
		Name:  "security",
		Focus: "Security vulnerabilities and best practices",
		Rules: []string{
			"Check for SQL injection vulnerabilities",
			"Verify proper input validation",
			"Check for hardcoded secrets",
			"Ensure proper authentication/authorization",
		},
	},
	{
		Name:  "correctness",
		Focus: "Logical correctness and error handling",
		Rules: []string{
			"Verify edge case handling",
			"Check for proper error handling",
			"Ensure input validation",
			"Verify business logic correctness",
		},
	},
}

type focusArea struct {
	name     string
	keywords []string
}

var focusAreas = []focusArea{
	{"style", []string{"style", "format", "indent", "naming", "convention"}},
	{"performance", []string{"performance", "speed", "efficient", "optimize", "bottleneck"}},
	{"security", []string{"security", "vulnerability", "secure", "auth", "validation"}},
	{"correctness", []string{"correct", "logic", "error", "edge case", "validation"}},
	{"testing", []string{"test", "coverage", "unit", "integration"}},
	{"documentation", []string{"doc", "comment", "readme", "api"}},
}

var (
	bulletRe = regexp.MustCompile(`^[-*•]\s*`)
	numberRe = regexp.MustCompile(`^\d+\.\s*`)
)

// minRuleLen drops fragments like headings or single words.
const minRuleLen = 10

// Translate processes criteria text into a CriteriaResult.
func Translate(text string) models.CriteriaResult {
	lower := strings.ToLower(strings.TrimSpace(text))
	for _, p := range Presets {
		if strings.Contains(lower, p.Name) {
			return fromPreset(p, text)
		}
	}
	return fromCustom(text)
}

// Lookup returns the preset with the given name.
func Lookup(name string) (Preset, bool) {
	for _, p := range Presets {
		if p.Name == name {
			return p, true
		}
	}
	return Preset{}, false
}

func fromPreset(p Preset, text string) models.CriteriaResult {
	r := models.CriteriaResult{
		Type:          TypePreset,
		Preset:        p.Name,
		Focus:         p.Focus,
		Rules:         append([]string(nil), p.Rules...),
		CustomRules:   ExtractRules(text),
		OriginalInput: text,
	}
	r.StyleGuide = presetStyleGuide(r)
	return r
}

func fromCustom(text string) models.CriteriaResult {
	areas := DetectFocusAreas(text)
	rules := ExtractRules(text)
	return models.CriteriaResult{
		Type:          TypeCustom,
		Focus:         CustomFocus,
		Rules:         rules,
		CustomRules:   rules,
		FocusAreas:    areas,
		StyleGuide:    customStyleGuide(text, areas),
		OriginalInput: text,
	}
}

// DetectFocusAreas returns every focus area with a keyword in text.
func DetectFocusAreas(text string) []string {
	lower := strings.ToLower(text)
	var areas []string
	for _, fa := range focusAreas {
		for _, kw := range fa.keywords {
			if strings.Contains(lower, kw) {
				areas = append(areas, fa.name)
				break
			}
		}
	}
	return areas
}

// ExtractRules splits text into lines, strips bullet and number markers
// and keeps lines longer than ten characters.
func ExtractRules(text string) []string {
	var rules []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		line = bulletRe.ReplaceAllString(line, "")
		line = numberRe.ReplaceAllString(line, "")
		if len(line) > minRuleLen {
			rules = append(rules, line)
		}
	}
	return rules
}

func presetStyleGuide(r models.CriteriaResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Style Guide: %s\n\n", r.Focus)

	if len(r.Rules) > 0 {
		b.WriteString("## Standard Rules\n")
		for _, rule := range r.Rules {
			fmt.Fprintf(&b, "- %s\n", rule)
		}
		b.WriteString("\n")
	}

	if len(r.CustomRules) > 0 {
		b.WriteString("## Custom Requirements\n")
		for _, rule := range r.CustomRules {
			fmt.Fprintf(&b, "- %s\n", rule)
		}
		b.WriteString("\n")
	}

	b.WriteString("## Review Focus\n")
	fmt.Fprintf(&b, "All code changes should be evaluated against these %s criteria. ", strings.ToLower(r.Focus))
	b.WriteString("Comments should be specific and actionable, referencing the relevant rules above.")
	return b.String()
}

func customStyleGuide(text string, areas []string) string {
	var b strings.Builder
	b.WriteString("# Custom Style Guide\n\n")

	if len(areas) > 0 {
		b.WriteString("## Detected Focus Areas\n")
		for _, a := range areas {
			fmt.Fprintf(&b, "- %s\n", titleCase(a))
		}
		b.WriteString("\n")
	}

	b.WriteString("## Custom Requirements\n")
	fmt.Fprintf(&b, "%s\n\n", text)

	b.WriteString("## Review Instructions\n")
	b.WriteString("Review the code changes according to the custom criteria provided above. ")
	b.WriteString("Provide specific, actionable feedback that addresses these requirements.")
	return b.String()
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// RelevantDocuments returns reference material matching the result's focus.
func RelevantDocuments(r models.CriteriaResult) []models.RetrievedDocument {
	focus := strings.ToLower(r.Focus)
	doc := func(content, source string) []models.RetrievedDocument {
		return []models.RetrievedDocument{{
			Content:        content,
			Source:         source,
			RelevanceScore: models.Float(0.9),
			Metadata:       map[string]any{"type": "criteria"},
		}}
	}
	switch {
	case strings.Contains(focus, "style"):
		return doc("Python PEP 8 Style Guide: Use 4 spaces for indentation, snake_case for variables", "PEP 8")
	case strings.Contains(focus, "security"):
		return doc("OWASP Top 10: Validate all inputs, use parameterized queries, implement proper authentication", "OWASP")
	case strings.Contains(focus, "performance"):
		return doc("Performance best practices: Use efficient data structures, avoid N+1 queries, profile bottlenecks", "Performance Guide")
	}
	return nil
}
