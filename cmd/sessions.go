package cmd

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/joescharf/prreview/internal/models"
	"github.com/joescharf/prreview/internal/session"
)

var (
	sessionsID        string
	sessionsAllEvents bool
	sessionsRepo      string
	sessionsLimit     int
	sessionsOutput    string
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List review sessions or view a specific session",
	Long: `List recorded review sessions, newest first, or show one session with
its reasoning steps.

Each step is shown once with its final output. Use --all-events to see
every event in the step log, including placeholder entries.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if sessionsID != "" {
			return sessionShowRun(cmd.Context(), sessionsID)
		}
		return sessionsListRun(cmd.Context())
	},
}

func init() {
	sessionsCmd.Flags().StringVar(&sessionsID, "session-id", "", "Specific session ID to view")
	sessionsCmd.Flags().BoolVar(&sessionsAllEvents, "all-events", false, "Show every logged step event")
	sessionsCmd.Flags().StringVar(&sessionsRepo, "repo", "", "Only sessions for this repository")
	sessionsCmd.Flags().IntVar(&sessionsLimit, "limit", 0, "Maximum number of sessions to list (0 for all)")
	sessionsCmd.Flags().StringVarP(&sessionsOutput, "output", "o", "", "Write results as JSON to this file")
	rootCmd.AddCommand(sessionsCmd)
}

func sessionsListRun(ctx context.Context) error {
	orch, err := getOrchestrator(ctx)
	if err != nil {
		return err
	}
	summaries, err := orch.Controller().ListSessions(ctx)
	if err != nil {
		return err
	}
	summaries = filterSummaries(summaries, sessionsRepo, sessionsLimit)

	displaySessionList(summaries)
	if sessionsOutput != "" {
		return writeJSONFile(sessionsOutput, map[string]any{
			"sessions":       summaries,
			"total_sessions": len(summaries),
		})
	}
	return nil
}

// filterSummaries keeps summaries for repo (all when empty), up to limit.
func filterSummaries(summaries []session.Summary, repo string, limit int) []session.Summary {
	out := make([]session.Summary, 0, len(summaries))
	for _, s := range summaries {
		if repo != "" && s.Repo != repo {
			continue
		}
		out = append(out, s)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func sessionShowRun(ctx context.Context, id string) error {
	orch, err := getOrchestrator(ctx)
	if err != nil {
		return err
	}
	details, err := orch.Controller().GetSessionDetails(ctx, id)
	if errors.Is(err, session.ErrSessionNotFound) {
		ui.Error("Session %s not found", id)
		return nil
	}
	if err != nil {
		return err
	}

	var steps []models.ReasoningStep
	if sessionsAllEvents {
		for _, ev := range details.Steps {
			steps = append(steps, ev.ReasoningStep)
		}
	} else {
		steps = models.LatestSteps(details.Steps)
	}

	displaySessionDetails(details.Session, steps)
	if sessionsOutput != "" {
		return writeJSONFile(sessionsOutput, details)
	}
	return nil
}
