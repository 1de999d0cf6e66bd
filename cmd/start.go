package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tlarkin/revu/internal/models"
	"github.com/tlarkin/revu/internal/progress"
)

var (
	startReplace bool
	startWait    bool
)

var startCmd = &cobra.Command{
	Use:   "start <document-ref>",
	Short: "Start a review session",
	Long: `Start a review session for a previously uploaded document.

Each owner has one active session per service. If one already exists,
start fails; pass --replace to archive it and start fresh.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return startRun(args[0])
	},
}

func init() {
	startCmd.Flags().BoolVar(&startReplace, "replace", false, "Archive any active session first")
	startCmd.Flags().BoolVar(&startWait, "wait", false, "Wait for the scan to finish")
	rootCmd.AddCommand(startCmd)
}

func startRun(documentRef string) error {
	owner, service, err := ownerAndService()
	if err != nil {
		return err
	}
	m, err := getManager()
	if err != nil {
		return err
	}

	ctx := rootCmd.Context()
	var sess *models.ReviewSession
	if startReplace {
		sess, err = m.Replace(ctx, owner, service, documentRef)
	} else {
		sess, err = m.StartReview(ctx, owner, service, documentRef)
	}
	if err != nil {
		return err
	}

	ui.Success("Started %s session %s", sess.Service, sess.ID)

	if !startWait {
		ui.Info("Scan running. Check 'revu status' for results.")
		return nil
	}

	for {
		reporter := m.Progress(sess.ID)
		if reporter == nil {
			break
		}
		pct, state, errMsg := reporter.Snapshot()
		switch state {
		case progress.StateDone:
			ui.Success("Scan complete")
			return statusRun()
		case progress.StateFailed:
			return fmt.Errorf("scan failed: %s", errMsg)
		}
		ui.VerboseLog("scanning... %d%%", pct)
		time.Sleep(500 * time.Millisecond)
	}
	return nil
}
