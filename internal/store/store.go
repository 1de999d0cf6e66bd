package store

import (
	"context"
	"errors"

	"github.com/tlarkin/revu/internal/models"
)

// ErrNotFound is returned when a requested entity does not exist. Callers
// test for it with errors.Is.
var ErrNotFound = errors.New("not found")

// FilterKind distinguishes the two visibility-filter dimensions.
type FilterKind string

const (
	FilterKindCategory FilterKind = "category"
	FilterKindSeverity FilterKind = "severity"
)

// DisabledFilter marks one category or severity hidden for a session.
type DisabledFilter struct {
	Kind  FilterKind
	Value string
}

// Store defines the persistence interface for revu.
type Store interface {
	// Documents
	CreateDocument(ctx context.Context, doc *models.Document) error
	GetDocument(ctx context.Context, ref string) (*models.Document, error)

	// Review sessions
	CreateSession(ctx context.Context, s *models.ReviewSession) error
	GetSession(ctx context.Context, id string) (*models.ReviewSession, error)
	GetActiveSession(ctx context.Context, ownerID string, service models.Service) (*models.ReviewSession, error)
	UpdateSession(ctx context.Context, s *models.ReviewSession) error
	ListSessions(ctx context.Context, ownerID string, limit int) ([]*models.ReviewSession, error)

	// Issues
	CreateIssues(ctx context.Context, issues []*models.Issue) error
	GetIssue(ctx context.Context, id string) (*models.Issue, error)
	ListIssues(ctx context.Context, sessionID string) ([]*models.Issue, error)

	// Fix records
	CreateFixRecord(ctx context.Context, rec *models.FixRecord) error
	LatestFixRecord(ctx context.Context, issueID string) (*models.FixRecord, error)
	ListFixRecords(ctx context.Context, sessionID string) ([]*models.FixRecord, error)

	// Score snapshots
	CreateScoreSnapshot(ctx context.Context, snap *models.ScoreSnapshot) error
	LatestScoreSnapshot(ctx context.Context, sessionID string) (*models.ScoreSnapshot, error)
	ListScoreSnapshots(ctx context.Context, sessionID string) ([]*models.ScoreSnapshot, error)

	// Visibility filters
	SetFilter(ctx context.Context, sessionID string, f DisabledFilter, disabled bool) error
	ListDisabledFilters(ctx context.Context, sessionID string) ([]DisabledFilter, error)

	// Audit trail
	CreateAuditEntry(ctx context.Context, e *models.AuditEntry) error
	ListAuditEntries(ctx context.Context, sessionID string) ([]*models.AuditEntry, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
