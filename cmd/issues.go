package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tlarkin/revu/internal/catalog"
	"github.com/tlarkin/revu/internal/models"
	"github.com/tlarkin/revu/internal/output"
	"github.com/tlarkin/revu/internal/spans"
)

var (
	issuesSeverity string
	issuesSpans    bool
)

var issuesCmd = &cobra.Command{
	Use:     "issues",
	Aliases: []string{"ls"},
	Short:   "List issues in the active review session",
	Long: `List the issues found in the active review session, ordered by
severity. Session-level category and severity filters are applied.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return issuesRun()
	},
}

var issuesFilterCmd = &cobra.Command{
	Use:   "filter <category|severity> <value> <on|off>",
	Short: "Toggle visibility of a category or severity tier",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return issuesFilterRun(args[0], args[1], args[2])
	},
}

func init() {
	issuesCmd.Flags().StringVar(&issuesSeverity, "severity", "", "Only show issues of this severity")
	issuesCmd.Flags().BoolVar(&issuesSpans, "spans", false, "Show mapped document spans")
	issuesCmd.AddCommand(issuesFilterCmd)
	rootCmd.AddCommand(issuesCmd)
}

func issuesRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	sess, err := activeSession(ctx)
	if err != nil {
		return err
	}

	cat := catalog.New(s)
	issues, err := cat.List(ctx, sess.ID)
	if err != nil {
		return err
	}

	if issuesSeverity != "" {
		filtered := issues[:0]
		for _, issue := range issues {
			if issue.Severity == models.Severity(issuesSeverity) {
				filtered = append(filtered, issue)
			}
		}
		issues = filtered
	}

	if len(issues) == 0 {
		ui.Info("No issues to show.")
		return nil
	}

	var spanByIssue map[string]spans.TextSpan
	if issuesSpans {
		doc, err := s.GetDocument(ctx, sess.DocumentRef)
		if err != nil {
			return err
		}
		spanByIssue = make(map[string]spans.TextSpan)
		for _, sp := range spans.MapIssues(doc.Text, issues) {
			spanByIssue[sp.IssueID] = sp
		}
	}

	headers := []string{"ID", "Severity", "Category", "Location", "Difficulty"}
	if issuesSpans {
		headers = append(headers, "Span")
	}
	table := ui.Table(headers)

	for _, issue := range issues {
		row := []string{
			issue.ID,
			output.SeverityColor(string(issue.Severity)),
			issue.Category,
			issue.LocationHint,
			string(issue.FixDifficulty),
		}
		if issuesSpans {
			sp := spanByIssue[issue.ID]
			if sp.Matched() {
				row = append(row, fmt.Sprintf("%d-%d (%s)", sp.Start, sp.End, sp.Confidence))
			} else {
				row = append(row, "unmatched")
			}
		}
		table.Append(row)
	}
	table.Render()

	for _, issue := range issues {
		ui.VerboseLog("%s: %s -> %s", issue.ID, issue.CurrentText, issue.SuggestedFix)
	}
	return nil
}

func issuesFilterRun(kind, value, state string) error {
	var enabled bool
	switch state {
	case "on":
		enabled = true
	case "off":
		enabled = false
	default:
		return fmt.Errorf("state must be 'on' or 'off', got %q", state)
	}

	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	sess, err := activeSession(ctx)
	if err != nil {
		return err
	}

	cat := catalog.New(s)
	switch kind {
	case "category":
		err = cat.ToggleCategory(ctx, sess.ID, value, enabled)
	case "severity":
		if !models.Severity(value).Valid() {
			return fmt.Errorf("unknown severity %q", value)
		}
		err = cat.ToggleSeverity(ctx, sess.ID, models.Severity(value), enabled)
	default:
		return fmt.Errorf("kind must be 'category' or 'severity', got %q", kind)
	}
	if err != nil {
		return err
	}

	ui.Success("Filter updated: %s %s %s", kind, value, state)
	return nil
}

// activeSession loads the active session for the configured owner/service.
func activeSession(ctx context.Context) (*models.ReviewSession, error) {
	owner, service, err := ownerAndService()
	if err != nil {
		return nil, err
	}
	s, err := getStore()
	if err != nil {
		return nil, err
	}
	sess, err := s.GetActiveSession(ctx, owner, service)
	if err != nil {
		return nil, fmt.Errorf("no active %s session: %w", service, err)
	}
	return sess, nil
}
