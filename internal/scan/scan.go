// Package scan defines the external scanner and scorer collaborators.
// Issue detection and numeric scoring are opaque to the engine; it only
// depends on these two interfaces, so tests substitute deterministic stubs.
package scan

import (
	"context"

	"github.com/tlarkin/revu/internal/models"
)

// DetectedIssue is one defect reported by a scan, before it is persisted
// as a models.Issue.
type DetectedIssue struct {
	Severity      string `json:"severity"`
	Category      string `json:"category"`
	LocationHint  string `json:"location_hint"`
	CurrentText   string `json:"current_text"`
	SuggestedFix  string `json:"suggested_fix"`
	FixDifficulty string `json:"fix_difficulty"`
}

// Result is the outcome of scanning one document.
type Result struct {
	Issues []DetectedIssue
	Score  int // initial quality score, 0-100
}

// Scanner produces the issue list and initial score for a document.
type Scanner interface {
	Scan(ctx context.Context, doc *models.Document) (*Result, error)
}

// Scorer recomputes a document's quality score given the applied fixes.
// Implementations must be deterministic for an unchanged (document, fixes)
// pair: re-running with the same inputs yields the same number.
type Scorer interface {
	Score(ctx context.Context, doc *models.Document, fixes []*models.FixRecord) (int, error)
}
