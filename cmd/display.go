package cmd

import (
	"cmp"
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/joescharf/prreview/internal/models"
	"github.com/joescharf/prreview/internal/output"
	"github.com/joescharf/prreview/internal/review"
	"github.com/joescharf/prreview/internal/session"
)

const (
	commentDisplayLen  = 100
	criteriaDisplayLen = 50
	sessionIDDisplay   = 20
	timestampLayout    = "2006-01-02 15:04:05"
)

// displayReviewResult prints the review tables and panels for res.
func displayReviewResult(res *review.Result) error {
	rv := res.Review
	if rv == nil {
		rv = &models.PRReview{}
	}

	fmt.Fprintf(ui.Out, "PR Review Results - Session %s\n\n", output.Cyan(res.SessionID))

	score := "N/A"
	if rv.StyleAdherenceScore != nil {
		score = output.ScoreColor(*rv.StyleAdherenceScore)
	}
	table := ui.Table([]string{"Metric", "Value"})
	table.Append([]string{"Comments", fmt.Sprintf("%d", len(rv.Comments))})
	table.Append([]string{"Package Suggestions", fmt.Sprintf("%d", len(rv.PackageSuggestions))})
	table.Append([]string{"Style Score", score})
	table.Append([]string{"Security Rating", orNA(rv.SecurityRiskRating)})
	table.Append([]string{"Optimization Potential", orNA(rv.OptimizationPotential)})
	table.Render()
	fmt.Fprintln(ui.Out)

	summary := rv.HighLevelSummaryMD
	if summary == "" {
		summary = "**No summary available**"
	}
	fmt.Fprintln(ui.Out, output.Cyan("High-Level Summary"))
	if err := ui.Markdown(summary); err != nil {
		return fmt.Errorf("render summary: %w", err)
	}

	commentSummary := rv.CommentSummary
	if commentSummary == "" {
		commentSummary = "No comment summary available"
	}
	ui.Panel("Comment Summary", commentSummary)

	if len(rv.Comments) > 0 {
		fmt.Fprintln(ui.Out)
		ct := ui.Table([]string{"File", "Line", "Comment", "Severity"})
		for _, c := range rv.Comments {
			ct.Append([]string{
				output.Cyan(c.FilePath),
				fmt.Sprintf("%d", c.LineNumber),
				truncate(c.CommentText, commentDisplayLen),
				output.SeverityColor(string(c.Severity)),
			})
		}
		ct.Render()
	}

	if len(rv.PackageSuggestions) > 0 {
		fmt.Fprintln(ui.Out)
		pt := ui.Table([]string{"Package", "Reason", "Version"})
		for _, p := range rv.PackageSuggestions {
			version := p.Version
			if version == "" {
				version = "Latest"
			}
			pt.Append([]string{output.Cyan(p.Name), p.Reason, version})
		}
		pt.Render()
	}
	return nil
}

// displaySessionList prints one row per session summary.
func displaySessionList(summaries []session.Summary) {
	if len(summaries) == 0 {
		ui.Info("No review sessions recorded. Use 'prreview review' to start one.")
		return
	}

	table := ui.Table([]string{"Session ID", "Repository", "PR", "Criteria", "Status", "Started"})
	for _, s := range summaries {
		pr := "Unknown"
		if s.PRNumber != nil {
			pr = fmt.Sprintf("#%d", *s.PRNumber)
		}
		table.Append([]string{
			output.Cyan(truncate(s.SessionID, sessionIDDisplay)),
			s.Repo,
			pr,
			truncate(s.Criteria, criteriaDisplayLen),
			output.SuccessLabel(s.Success),
			timeAgo(s.StartTime),
		})
	}
	table.Render()
	fmt.Fprintf(ui.Out, "\nTotal Sessions: %d\n", len(summaries))
}

// displaySessionDetails prints the session overview and its steps.
func displaySessionDetails(sess *models.Session, steps []models.ReasoningStep) {
	pr := "Unknown"
	if n, ok := sess.PRNumber(); ok {
		pr = fmt.Sprintf("#%d", n)
	}
	end := "in progress"
	if sess.EndTime != nil {
		end = sess.EndTime.Local().Format(timestampLayout)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Session ID: %s\n", sess.SessionID)
	fmt.Fprintf(&b, "Repository: %s\n", sess.Repo())
	fmt.Fprintf(&b, "PR Number:  %s\n", pr)
	fmt.Fprintf(&b, "Criteria:   %s\n", sess.CriteriaText)
	fmt.Fprintf(&b, "Status:     %s\n", output.SuccessLabel(sess.Success))
	fmt.Fprintf(&b, "Start Time: %s\n", sess.StartTime.Local().Format(timestampLayout))
	fmt.Fprintf(&b, "End Time:   %s", end)
	if sess.ErrorMessage != "" {
		fmt.Fprintf(&b, "\nError:      %s", output.Red(sess.ErrorMessage))
	}
	ui.Panel("Session Overview", b.String())

	if len(steps) == 0 {
		return
	}
	fmt.Fprintln(ui.Out)
	table := ui.Table([]string{"Step ID", "Type", "Timestamp", "Status"})
	for _, st := range steps {
		status := output.Green("ok")
		if st.Error != "" {
			status = output.Red(truncate(st.Error, criteriaDisplayLen))
		}
		table.Append([]string{
			output.Cyan(st.StepID),
			string(st.StepType),
			st.Timestamp.Local().Format(timestampLayout),
			status,
		})
	}
	table.Render()
}

// displayStatistics prints the overall panel and the distributions.
func displayStatistics(st *session.Statistics) {
	var b strings.Builder
	fmt.Fprintf(&b, "Total Sessions:            %d\n", st.TotalSessions)
	fmt.Fprintf(&b, "Successful:                %d\n", st.SuccessfulSessions)
	fmt.Fprintf(&b, "Failed:                    %d\n", st.FailedSessions)
	fmt.Fprintf(&b, "Success Rate:              %.1f%%\n", st.SuccessRate*100)
	fmt.Fprintf(&b, "Total Comments:            %d\n", st.TotalComments)
	fmt.Fprintf(&b, "Total Package Suggestions: %d\n", st.TotalPackageSuggestions)
	fmt.Fprintf(&b, "Avg Comments per Session:  %.1f", st.AverageCommentsPerSession)
	ui.Panel("Review Statistics", b.String())

	displayDistribution("Criteria", st.CriteriaDistribution)
	displayDistribution("Repository", st.RepositoryDistribution)
}

// displayDistribution prints counts in descending order, ties by name.
func displayDistribution(label string, dist map[string]int) {
	if len(dist) == 0 {
		return
	}
	keys := make([]string, 0, len(dist))
	for k := range dist {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b string) int {
		if c := cmp.Compare(dist[b], dist[a]); c != 0 {
			return c
		}
		return cmp.Compare(a, b)
	})

	fmt.Fprintln(ui.Out)
	table := ui.Table([]string{label, "Count"})
	for _, k := range keys {
		table.Append([]string{output.Cyan(k), fmt.Sprintf("%d", dist[k])})
	}
	table.Render()
}

// writeJSONFile writes v as indented JSON to path.
func writeJSONFile(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal results: %w", err)
	}
	if dryRun {
		ui.DryRunMsg("Would write %d bytes to %s", len(data), path)
		return nil
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	ui.Success("Results saved to %s", path)
	return nil
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

// truncate shortens s to n runes, marking the cut with "...".
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// timeAgo returns a human-readable relative time string.
func timeAgo(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
