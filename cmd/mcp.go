package cmd

import (
	"context"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/tlarkin/revu/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server for Claude Code integration",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

This lets Claude Code drive review sessions natively. Configure in
Claude Code with:

  {
    "mcpServers": {
      "revu": { "command": "revu", "args": ["mcp"] }
    }
  }

Available tools: revu_start_review, revu_active_review, revu_list_issues,
revu_apply_fix, revu_bulk_fix, revu_score, revu_archive`,
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := getManager()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), shutdownSignals()...)
		defer stop()

		return mcp.NewServer(dataStore, m).ServeStdio(ctx)
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
