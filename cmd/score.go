package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tlarkin/revu/internal/models"
	"github.com/tlarkin/revu/internal/output"
)

var scoreRecompute bool

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Show the active session's score",
	Long: `Show the latest score snapshot for the active review session,
including the per-severity breakdown of remaining issues. Scores never
decrease within a session.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return scoreRun()
	},
}

func init() {
	scoreCmd.Flags().BoolVar(&scoreRecompute, "recompute", false, "Recompute the score before showing it")
	rootCmd.AddCommand(scoreCmd)
}

func scoreRun() error {
	m, err := getManager()
	if err != nil {
		return err
	}
	ctx := context.Background()

	sess, err := activeSession(ctx)
	if err != nil {
		return err
	}

	var snap *models.ScoreSnapshot
	if scoreRecompute {
		snap, err = m.Ledger().RecomputeScore(ctx, sess.ID)
	} else {
		snap, err = dataStore.LatestScoreSnapshot(ctx, sess.ID)
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(ui.Out, "Score: %s", output.ScoreColor(snap.Score))
	if snap.PreviousScore != nil {
		fmt.Fprintf(ui.Out, " (was %d)", *snap.PreviousScore)
	}
	fmt.Fprintln(ui.Out)

	table := ui.Table([]string{"Severity", "Remaining"})
	for _, sev := range models.Severities {
		table.Append([]string{output.SeverityColor(string(sev)), fmt.Sprintf("%d", snap.Breakdown.Get(sev))})
	}
	table.Render()
	return nil
}
