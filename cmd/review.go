package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	reviewRepo     string
	reviewPR       int
	reviewCriteria string
	reviewOutput   string
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Review a pull request against criteria",
	Long: `Review a pull request with the given criteria and record the run as a session.

Criteria can be a preset name (strict style, performance, security,
correctness) or free-form text. Without --criteria the configured
review.default_criteria is used.`,
	Example: `  prreview review --repo demo/auth-service --pr 1
  prreview review --criteria "security" -o review.json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return reviewRun(cmd.Context())
	},
}

func init() {
	reviewCmd.Flags().StringVar(&reviewRepo, "repo", "demo-repo", "Repository name")
	reviewCmd.Flags().IntVar(&reviewPR, "pr", 1, "Pull request number")
	reviewCmd.Flags().StringVar(&reviewCriteria, "criteria", "", "Review criteria (default from review.default_criteria)")
	reviewCmd.Flags().StringVarP(&reviewOutput, "output", "o", "", "Write results as JSON to this file")
	rootCmd.AddCommand(reviewCmd)
}

func reviewRun(ctx context.Context) error {
	if reviewPR < 1 {
		return fmt.Errorf("invalid PR number %d", reviewPR)
	}
	cfg, err := getConfig()
	if err != nil {
		return err
	}
	criteria := reviewCriteria
	if criteria == "" {
		criteria = cfg.Review.DefaultCriteria
	}

	orch, err := getOrchestrator(ctx)
	if err != nil {
		return err
	}
	if err := requireGenerator(); err != nil {
		return err
	}

	ui.Panel("Review Configuration", fmt.Sprintf("Repository: %s\nPR: #%d\nCriteria: %s", reviewRepo, reviewPR, criteria))

	if dryRun {
		ui.DryRunMsg("Would review %s#%d", reviewRepo, reviewPR)
		return nil
	}

	ui.Info("Reviewing PR...")
	res, err := orch.ReviewPullRequest(ctx, reviewRepo, reviewPR, criteria)
	if err != nil {
		return fmt.Errorf("review: %w", err)
	}
	if !res.Success {
		ui.Error("Review failed: %s", res.Error)
		ui.Info("Session %s recorded", res.SessionID)
		return nil
	}

	ui.Success("Review completed")
	fmt.Fprintln(ui.Out)
	if err := displayReviewResult(res); err != nil {
		return err
	}
	if reviewOutput != "" {
		return writeJSONFile(reviewOutput, res)
	}
	return nil
}
