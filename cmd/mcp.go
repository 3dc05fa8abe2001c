package cmd

import (
	"github.com/spf13/cobra"

	"github.com/joescharf/prreview/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

This lets an MCP client run reviews and inspect recorded sessions.
Configure it with:

  {
    "mcpServers": {
      "prreview": { "command": "prreview", "args": ["mcp"] }
    }
  }

Available tools: prreview_list_sessions, prreview_get_session,
prreview_statistics, prreview_review, prreview_replay`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg, err := getConfig()
		if err != nil {
			return err
		}
		orch, err := getOrchestrator(ctx)
		if err != nil {
			return err
		}
		logger, err := getLogger()
		if err != nil {
			return err
		}
		if !generatorReady {
			logger.Warn().Msg("no Anthropic API key configured; reviews will record fallback results")
		}
		return mcp.NewServer(orch, cfg.Review.DefaultCriteria, buildVersion, logger).ServeStdio(ctx)
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
