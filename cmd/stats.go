package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

var statsOutput string

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show review statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		return statsRun(cmd.Context())
	},
}

func init() {
	statsCmd.Flags().StringVarP(&statsOutput, "output", "o", "", "Write statistics as JSON to this file")
	rootCmd.AddCommand(statsCmd)
}

func statsRun(ctx context.Context) error {
	orch, err := getOrchestrator(ctx)
	if err != nil {
		return err
	}
	stats, err := orch.Controller().Statistics(ctx)
	if err != nil {
		ui.Error("Error getting statistics: %v", err)
		return nil
	}

	displayStatistics(stats)
	if statsOutput != "" {
		return writeJSONFile(statsOutput, stats)
	}
	return nil
}
