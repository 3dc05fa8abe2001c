package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joescharf/prreview/internal/session"
)

var (
	replayCriteria string
	replayOutput   string
)

var replayCmd = &cobra.Command{
	Use:   "replay <session-id>",
	Short: "Replay a review session with optional new criteria",
	Long: `Replay a stored session as a new session. The original session is not
modified. Without --criteria the original criteria are reused.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return replayRun(cmd.Context(), args[0])
	},
}

func init() {
	replayCmd.Flags().StringVar(&replayCriteria, "criteria", "", "New criteria for the replay")
	replayCmd.Flags().StringVarP(&replayOutput, "output", "o", "", "Write results as JSON to this file")
	rootCmd.AddCommand(replayCmd)
}

func replayRun(ctx context.Context, id string) error {
	orch, err := getOrchestrator(ctx)
	if err != nil {
		return err
	}
	if err := requireGenerator(); err != nil {
		return err
	}

	shown := replayCriteria
	if shown == "" {
		shown = "Original criteria"
	}
	ui.Panel("Replay Configuration", fmt.Sprintf("Session ID: %s\nNew Criteria: %s", id, shown))

	if dryRun {
		ui.DryRunMsg("Would replay session %s", id)
		return nil
	}

	ui.Info("Replaying session...")
	res, err := orch.Replay(ctx, id, replayCriteria)
	if errors.Is(err, session.ErrSessionNotFound) {
		ui.Error("Session %s not found", id)
		return nil
	}
	if err != nil {
		return fmt.Errorf("replay: %w", err)
	}
	if !res.Success {
		ui.Error("Replay failed: %s", res.Error)
		ui.Info("Session %s recorded", res.SessionID)
		return nil
	}

	ui.Success("Replay completed")
	fmt.Fprintln(ui.Out)
	if err := displayReviewResult(res); err != nil {
		return err
	}
	if replayOutput != "" {
		return writeJSONFile(replayOutput, res)
	}
	return nil
}
