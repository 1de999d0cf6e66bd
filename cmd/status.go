package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tlarkin/revu/internal/catalog"
	"github.com/tlarkin/revu/internal/engine"
	"github.com/tlarkin/revu/internal/models"
	"github.com/tlarkin/revu/internal/output"
)

var statusAudit bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the active review session",
	Long: `Show the active review session for the configured owner and service:
its lifecycle state, latest score, and issue counts by severity.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return statusRun()
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusAudit, "audit", false, "Show the session's audit trail")
	rootCmd.AddCommand(statusCmd)
}

func statusRun() error {
	owner, service, err := ownerAndService()
	if err != nil {
		return err
	}
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	sess, err := s.GetActiveSession(ctx, owner, service)
	if err != nil {
		if errors.Is(err, engine.ErrNotFound) {
			ui.Info("No active %s session. Use 'revu upload' then 'revu start'.", service)
			return nil
		}
		return err
	}

	fmt.Fprintf(ui.Out, "Session:  %s\n", sess.ID)
	fmt.Fprintf(ui.Out, "Service:  %s\n", sess.Service)
	fmt.Fprintf(ui.Out, "Status:   %s\n", output.StatusColor(string(sess.Status)))
	fmt.Fprintf(ui.Out, "Started:  %s\n", sess.CreatedAt.Local().Format(time.RFC822))

	if snap, err := s.LatestScoreSnapshot(ctx, sess.ID); err == nil {
		fmt.Fprintf(ui.Out, "Score:    %s\n", output.ScoreColor(snap.Score))
	}

	cat := catalog.New(s)
	if counts, err := cat.Counts(ctx, sess.ID); err == nil && counts.Total > 0 {
		fmt.Fprintln(ui.Out)
		table := ui.Table([]string{"Severity", "Count"})
		for _, sev := range models.Severities {
			if n := counts.BySeverity.Get(sev); n > 0 {
				table.Append([]string{output.SeverityColor(string(sev)), fmt.Sprintf("%d", n)})
			}
		}
		table.Render()
		if counts.Visible < counts.Total {
			ui.Info("%d of %d issues visible (filters active)", counts.Visible, counts.Total)
		}
	}

	if statusAudit {
		entries, err := s.ListAuditEntries(ctx, sess.ID)
		if err != nil {
			return err
		}
		fmt.Fprintln(ui.Out)
		table := ui.Table([]string{"Time", "Event", "Detail"})
		for _, e := range entries {
			table.Append([]string{e.At.Local().Format(time.RFC822), string(e.Event), e.Detail})
		}
		table.Render()
	}

	return nil
}
