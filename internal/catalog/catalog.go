// Package catalog provides filtered, deterministic views over a session's
// issues. Visibility toggles never alter the underlying issue set, only
// what List and Counts return.
package catalog

import (
	"context"
	"fmt"

	"github.com/tlarkin/revu/internal/engine"
	"github.com/tlarkin/revu/internal/models"
	"github.com/tlarkin/revu/internal/store"
)

// Counts summarizes a session's issues under the current filter.
type Counts struct {
	BySeverity models.SeverityCounts `json:"by_severity"`
	Total      int                   `json:"total"`
	Visible    int                   `json:"visible"`
}

// Catalog serves issue listings for review sessions.
type Catalog struct {
	store store.Store
}

// New creates a catalog backed by the given store.
func New(s store.Store) *Catalog {
	return &Catalog{store: s}
}

// List returns the session's visible issues, severity-descending and
// stable by creation order within a tier.
func (c *Catalog) List(ctx context.Context, sessionID string) ([]*models.Issue, error) {
	issues, err := c.store.ListIssues(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	disabled, err := c.disabledSets(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	visible := make([]*models.Issue, 0, len(issues))
	for _, issue := range issues {
		if disabled.hides(issue) {
			continue
		}
		visible = append(visible, issue)
	}
	return visible, nil
}

// Counts reports per-severity totals for all issues plus the visible count
// under the current filter.
func (c *Catalog) Counts(ctx context.Context, sessionID string) (*Counts, error) {
	issues, err := c.store.ListIssues(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	disabled, err := c.disabledSets(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	counts := &Counts{}
	for _, issue := range issues {
		counts.BySeverity.Add(issue.Severity)
		counts.Total++
		if !disabled.hides(issue) {
			counts.Visible++
		}
	}
	return counts, nil
}

// ToggleCategory enables or disables visibility of one category.
func (c *Catalog) ToggleCategory(ctx context.Context, sessionID, category string, enabled bool) error {
	if category == "" {
		return fmt.Errorf("category is required: %w", engine.ErrValidation)
	}
	f := store.DisabledFilter{Kind: store.FilterKindCategory, Value: category}
	return c.store.SetFilter(ctx, sessionID, f, !enabled)
}

// ToggleSeverity enables or disables visibility of one severity tier.
func (c *Catalog) ToggleSeverity(ctx context.Context, sessionID string, severity models.Severity, enabled bool) error {
	if !severity.Valid() {
		return fmt.Errorf("unknown severity %q: %w", severity, engine.ErrValidation)
	}
	f := store.DisabledFilter{Kind: store.FilterKindSeverity, Value: string(severity)}
	return c.store.SetFilter(ctx, sessionID, f, !enabled)
}

// filterSets holds a session's persisted filter as lookup sets.
type filterSets struct {
	categories map[string]bool
	severities map[string]bool
}

func (f filterSets) hides(issue *models.Issue) bool {
	return f.categories[issue.Category] || f.severities[string(issue.Severity)]
}

func (c *Catalog) disabledSets(ctx context.Context, sessionID string) (filterSets, error) {
	sets := filterSets{
		categories: make(map[string]bool),
		severities: make(map[string]bool),
	}
	filters, err := c.store.ListDisabledFilters(ctx, sessionID)
	if err != nil {
		return sets, err
	}
	for _, f := range filters {
		switch f.Kind {
		case store.FilterKindCategory:
			sets.categories[f.Value] = true
		case store.FilterKindSeverity:
			sets.severities[f.Value] = true
		}
	}
	return sets, nil
}
