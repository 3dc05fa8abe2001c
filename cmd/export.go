package cmd

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/joescharf/prreview/internal/session"
)

var (
	exportFormat string
	exportRepo   string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export session summaries as JSON, CSV, or Markdown",
	Long:  "Export review session summaries, newest first, to stdout in various formats.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return exportRun(cmd.Context())
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportFormat, "format", "json", "Output format: json, csv, markdown")
	exportCmd.Flags().StringVar(&exportRepo, "repo", "", "Only sessions for this repository")
	rootCmd.AddCommand(exportCmd)
}

func exportRun(ctx context.Context) error {
	switch exportFormat {
	case "json", "csv", "markdown":
	default:
		return fmt.Errorf("unknown format: %s (use: json, csv, markdown)", exportFormat)
	}

	orch, err := getOrchestrator(ctx)
	if err != nil {
		return err
	}
	summaries, err := orch.Controller().ListSessions(ctx)
	if err != nil {
		return err
	}
	summaries = filterSummaries(summaries, exportRepo, 0)

	switch exportFormat {
	case "json":
		enc := json.NewEncoder(ui.Out)
		enc.SetIndent("", "  ")
		return enc.Encode(summaries)
	case "csv":
		return exportCSV(summaries)
	default:
		return exportMarkdown(summaries)
	}
}

func exportCSV(summaries []session.Summary) error {
	w := csv.NewWriter(ui.Out)
	_ = w.Write([]string{"SessionID", "Repo", "PR", "Criteria", "Success", "Comments", "Started", "Ended", "Error"})
	for _, s := range summaries {
		_ = w.Write([]string{
			s.SessionID,
			s.Repo,
			prString(s.PRNumber),
			s.Criteria,
			strconv.FormatBool(s.Success),
			strconv.Itoa(s.CommentCount),
			s.StartTime.Format(time.RFC3339),
			endString(s.EndTime),
			s.ErrorMessage,
		})
	}
	w.Flush()
	return w.Error()
}

func exportMarkdown(summaries []session.Summary) error {
	fmt.Fprintln(ui.Out, "# Review Sessions")
	fmt.Fprintln(ui.Out)
	fmt.Fprintln(ui.Out, "| Session | Repo | PR | Criteria | Status | Comments |")
	fmt.Fprintln(ui.Out, "|---------|------|----|----------|--------|----------|")
	for _, s := range summaries {
		status := "failed"
		if s.Success {
			status = "success"
		}
		fmt.Fprintf(ui.Out, "| %s | %s | %s | %s | %s | %d |\n",
			s.SessionID, s.Repo, prString(s.PRNumber), markdownCell(s.Criteria), status, s.CommentCount)
	}
	return nil
}

func prString(n *int) string {
	if n == nil {
		return ""
	}
	return strconv.Itoa(*n)
}

func endString(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}

// markdownCell escapes pipes and flattens newlines for a table cell.
func markdownCell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.ReplaceAll(s, "\n", " ")
}
