package review

import (
	"fmt"
	"strings"

	"github.com/joescharf/prreview/internal/github"
	"github.com/joescharf/prreview/internal/models"
)

const (
	maxDocChars            = 500
	DefaultMaxContextChars = 8000
)

// BuildSystemPrompt generates the reviewer persona from the translated
// criteria.
func BuildSystemPrompt(crit models.CriteriaResult) string {
	focus := crit.Focus
	if focus == "" {
		focus = "Code quality"
	}
	guide := crit.StyleGuide
	if guide == "" {
		guide = "General code quality standards"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are an expert code reviewer specializing in %s.\n\n", strings.ToLower(focus))
	b.WriteString(guide)
	b.WriteString("\n\n")

	b.WriteString("Your task is to review a pull request and provide:\n")
	b.WriteString("1. Specific, actionable comments on code changes\n")
	b.WriteString("2. Package suggestions with reasons\n")
	b.WriteString("3. A concise comment summary\n")
	b.WriteString("4. A high-level summary with bold headlines\n\n")
	b.WriteString("Focus on the criteria provided and ensure all feedback is constructive and actionable.\n\n")

	b.WriteString("## Output Format\n")
	b.WriteString("Return ONLY a JSON object with these fields:\n")
	b.WriteString("- \"comments\": array of {\"file_path\", \"line_number\", \"end_line_number\" (optional), \"comment_text\", \"severity\": one of \"info\", \"warning\", \"error\"}\n")
	b.WriteString("- \"package_suggestions\": array of {\"name\", \"reason\", \"version\" (optional), \"snippet\" (optional)}\n")
	b.WriteString("- \"comment_summary\": one or two sentences\n")
	b.WriteString("- \"high_level_summary_md\": markdown with a bold headline\n")
	return b.String()
}

// BuildUserPrompt describes the PR and appends the formatted context.
func BuildUserPrompt(pr *github.PullRequest, contextText string) string {
	var b strings.Builder
	b.WriteString("Please review this pull request:\n\n")
	fmt.Fprintf(&b, "**PR Title:** %s\n", pr.Title)
	fmt.Fprintf(&b, "**Description:** %s\n", pr.Description)
	fmt.Fprintf(&b, "**Files Changed:** %d files\n", len(pr.Files))
	fmt.Fprintf(&b, "**Total Changes:** +%d -%d\n\n", pr.TotalAdditions, pr.TotalDeletions)

	b.WriteString("**Changed Files:**\n")
	for _, f := range pr.Files {
		fmt.Fprintf(&b, "- %s (%s): +%d -%d\n", f.Path, f.Status, f.Additions, f.Deletions)
	}

	for _, f := range pr.Files {
		if strings.TrimSpace(f.Patch) == "" {
			continue
		}
		fmt.Fprintf(&b, "\n**Diff for %s:**\n```diff\n%s\n```\n", f.Path, strings.TrimRight(f.Patch, "\n"))
	}

	b.WriteString("\nPlease provide a comprehensive review following the style guide and criteria.")
	if contextText != "" {
		b.WriteString("\n\nContext:\n")
		b.WriteString(contextText)
	}
	return b.String()
}

// FormatContext renders retrieved documents for the prompt. Each document
// is cut to 500 characters and the whole block to maxChars.
func FormatContext(docs []models.RetrievedDocument, maxChars int) string {
	if maxChars <= 0 {
		maxChars = DefaultMaxContextChars
	}

	var b strings.Builder
	b.WriteString("**Repository Context:**\n")
	for _, d := range docs {
		relevance := "N/A"
		if d.RelevanceScore != nil {
			relevance = fmt.Sprintf("%.1f", *d.RelevanceScore)
		}
		fmt.Fprintf(&b, "\n**%s** (Relevance: %s):\n", d.Source, relevance)
		b.WriteString(truncateRunes(d.Content, maxDocChars, "..."))
		b.WriteString("\n")
	}
	return truncateRunes(b.String(), maxChars, "\n[context truncated]")
}

func truncateRunes(s string, n int, suffix string) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + suffix
}
