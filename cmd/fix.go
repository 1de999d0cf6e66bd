package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tlarkin/revu/internal/engine"
	"github.com/tlarkin/revu/internal/models"
	"github.com/tlarkin/revu/internal/output"
)

var fixText string

var fixCmd = &cobra.Command{
	Use:   "fix <issue-id>...",
	Short: "Record an applied fix and rescore",
	Long: `Record that one or more issues were fixed, then recompute the score.

With a single issue and --text, records the exact replacement text the
user applied. Without --text, or with multiple issues, applies each
issue's suggested fix; issues without one are skipped.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return fixRun(args)
	},
}

func init() {
	fixCmd.Flags().StringVar(&fixText, "text", "", "The replacement text that was applied")
	rootCmd.AddCommand(fixCmd)
}

func fixRun(issueIDs []string) error {
	if fixText != "" && len(issueIDs) > 1 {
		return fmt.Errorf("--text only applies to a single issue")
	}

	m, err := getManager()
	if err != nil {
		return err
	}
	ctx := context.Background()

	sess, err := activeSession(ctx)
	if err != nil {
		return err
	}
	ledger := m.Ledger()

	if len(issueIDs) == 1 && fixText != "" {
		rec, err := ledger.ApplyFix(ctx, sess.ID, issueIDs[0], fixText, models.FixOriginManual)
		if err != nil {
			return err
		}
		ui.Success("Fix recorded for %s (%s)", rec.IssueID, rec.Origin)
	} else {
		result, err := ledger.ApplyBulkFix(ctx, sess.ID, issueIDs)
		if err != nil {
			return err
		}
		applied := 0
		for _, item := range result.Items {
			if item.Status == engine.BulkFixApplied {
				applied++
			} else {
				ui.Warning("%s skipped: %s", item.IssueID, item.Reason)
			}
		}
		ui.Success("%d fixed, %d skipped", applied, len(result.Items)-applied)
	}

	if snap, err := dataStore.LatestScoreSnapshot(ctx, sess.ID); err == nil {
		ui.Info("Score: %s", output.ScoreColor(snap.Score))
	}
	return nil
}
