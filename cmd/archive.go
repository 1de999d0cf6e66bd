package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

var archiveCmd = &cobra.Command{
	Use:   "archive [session-id]",
	Short: "Archive a review session",
	Long: `Archive a review session, freeing its slot for a new review.
Without an argument, archives the active session for the configured
owner and service. Archiving an archived session is a no-op.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var sessionID string
		if len(args) == 1 {
			sessionID = args[0]
		}
		return archiveRun(sessionID)
	},
}

func init() {
	rootCmd.AddCommand(archiveCmd)
}

func archiveRun(sessionID string) error {
	m, err := getManager()
	if err != nil {
		return err
	}
	ctx := context.Background()

	if sessionID == "" {
		sess, err := activeSession(ctx)
		if err != nil {
			return err
		}
		sessionID = sess.ID
	}

	if err := m.Archive(ctx, sessionID); err != nil {
		return err
	}
	ui.Success("Archived session %s", sessionID)
	return nil
}
