package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/tlarkin/revu/internal/models"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite only supports one concurrent writer. Limiting to a single connection
	// serializes all DB access through Go's connection pool, preventing
	// "database is locked" errors from concurrent HTTP requests.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	// Set busy timeout so concurrent writes wait instead of failing immediately
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// boolToInt converts a bool to 0 or 1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// NewULID generates a new ULID string.
func NewULID() string {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(entropy, 0)).String()
}

// Migrate runs all embedded SQL migration files in order.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	// Create migrations tracking table
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	// Sort by filename
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()

		// Check if already applied
		var count int
		err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Documents ---

func (s *SQLiteStore) CreateDocument(ctx context.Context, doc *models.Document) error {
	if doc.Ref == "" {
		doc.Ref = NewULID()
	}
	doc.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (ref, owner_id, filename, text, created_at) VALUES (?, ?, ?, ?, ?)`,
		doc.Ref, doc.OwnerID, doc.Filename, doc.Text, doc.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create document: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetDocument(ctx context.Context, ref string) (*models.Document, error) {
	doc := &models.Document{}
	err := s.db.QueryRowContext(ctx,
		`SELECT ref, owner_id, filename, text, created_at FROM documents WHERE ref = ?`, ref,
	).Scan(&doc.Ref, &doc.OwnerID, &doc.Filename, &doc.Text, &doc.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("document %s: %w", ref, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return doc, nil
}

// --- Review sessions ---

func (s *SQLiteStore) CreateSession(ctx context.Context, rs *models.ReviewSession) error {
	if rs.ID == "" {
		rs.ID = NewULID()
	}
	now := time.Now().UTC()
	rs.CreatedAt = now
	rs.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO review_sessions (id, owner_id, service, document_ref, status, created_at, updated_at, archived_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rs.ID, rs.OwnerID, string(rs.Service), rs.DocumentRef, string(rs.Status),
		rs.CreatedAt, rs.UpdatedAt, rs.ArchivedAt,
	)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) scanSession(row *sql.Row) (*models.ReviewSession, error) {
	rs := &models.ReviewSession{}
	var service, status string
	var archivedAt sql.NullTime

	err := row.Scan(&rs.ID, &rs.OwnerID, &service, &rs.DocumentRef, &status,
		&rs.CreatedAt, &rs.UpdatedAt, &archivedAt)
	if err != nil {
		return nil, err
	}
	rs.Service = models.Service(service)
	rs.Status = models.SessionStatus(status)
	if archivedAt.Valid {
		rs.ArchivedAt = &archivedAt.Time
	}
	return rs, nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*models.ReviewSession, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, owner_id, service, document_ref, status, created_at, updated_at, archived_at
		FROM review_sessions WHERE id = ?`, id)
	rs, err := s.scanSession(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return rs, nil
}

func (s *SQLiteStore) GetActiveSession(ctx context.Context, ownerID string, service models.Service) (*models.ReviewSession, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, owner_id, service, document_ref, status, created_at, updated_at, archived_at
		FROM review_sessions WHERE owner_id = ? AND service = ? AND status != 'archived'`,
		ownerID, string(service))
	rs, err := s.scanSession(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("active session for %s/%s: %w", ownerID, service, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get active session: %w", err)
	}
	return rs, nil
}

func (s *SQLiteStore) UpdateSession(ctx context.Context, rs *models.ReviewSession) error {
	rs.UpdatedAt = time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		`UPDATE review_sessions SET status=?, updated_at=?, archived_at=? WHERE id=?`,
		string(rs.Status), rs.UpdatedAt, rs.ArchivedAt, rs.ID,
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("session %s: %w", rs.ID, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) ListSessions(ctx context.Context, ownerID string, limit int) ([]*models.ReviewSession, error) {
	query := `SELECT id, owner_id, service, document_ref, status, created_at, updated_at, archived_at
		FROM review_sessions`
	var args []any
	if ownerID != "" {
		query += " WHERE owner_id = ?"
		args = append(args, ownerID)
	}
	query += " ORDER BY created_at DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []*models.ReviewSession
	for rows.Next() {
		rs := &models.ReviewSession{}
		var service, status string
		var archivedAt sql.NullTime
		if err := rows.Scan(&rs.ID, &rs.OwnerID, &service, &rs.DocumentRef, &status,
			&rs.CreatedAt, &rs.UpdatedAt, &archivedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		rs.Service = models.Service(service)
		rs.Status = models.SessionStatus(status)
		if archivedAt.Valid {
			rs.ArchivedAt = &archivedAt.Time
		}
		sessions = append(sessions, rs)
	}
	return sessions, rows.Err()
}

// --- Issues ---

func (s *SQLiteStore) CreateIssues(ctx context.Context, issues []*models.Issue) error {
	if len(issues) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	for i, issue := range issues {
		if issue.ID == "" {
			issue.ID = NewULID()
		}
		issue.CreatedAt = now
		if issue.FixDifficulty == "" {
			issue.FixDifficulty = models.FixDifficultyMedium
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO issues (id, session_id, seq, severity, category, location_hint, current_text, suggested_fix, fix_difficulty, is_highlightable, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			issue.ID, issue.SessionID, i, string(issue.Severity), issue.Category,
			issue.LocationHint, issue.CurrentText, issue.SuggestedFix,
			string(issue.FixDifficulty), boolToInt(issue.IsHighlightable), issue.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("create issue: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetIssue(ctx context.Context, id string) (*models.Issue, error) {
	issue := &models.Issue{}
	var severity, difficulty string

	err := s.db.QueryRowContext(ctx,
		`SELECT id, session_id, severity, category, location_hint, current_text, suggested_fix, fix_difficulty, is_highlightable, created_at
		FROM issues WHERE id = ?`, id,
	).Scan(&issue.ID, &issue.SessionID, &severity, &issue.Category, &issue.LocationHint,
		&issue.CurrentText, &issue.SuggestedFix, &difficulty, &issue.IsHighlightable, &issue.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("issue %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get issue: %w", err)
	}
	issue.Severity = models.Severity(severity)
	issue.FixDifficulty = models.FixDifficulty(difficulty)
	return issue, nil
}

// ListIssues returns a session's issues ordered severity-descending,
// stable by creation order within a tier.
func (s *SQLiteStore) ListIssues(ctx context.Context, sessionID string) ([]*models.Issue, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, severity, category, location_hint, current_text, suggested_fix, fix_difficulty, is_highlightable, created_at
		FROM issues WHERE session_id = ?
		ORDER BY
			CASE severity WHEN 'critical' THEN 0 WHEN 'important' THEN 1 WHEN 'consider' THEN 2 WHEN 'polish' THEN 3 ELSE 4 END,
			seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list issues: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var issues []*models.Issue
	for rows.Next() {
		issue := &models.Issue{}
		var severity, difficulty string
		if err := rows.Scan(&issue.ID, &issue.SessionID, &severity, &issue.Category,
			&issue.LocationHint, &issue.CurrentText, &issue.SuggestedFix,
			&difficulty, &issue.IsHighlightable, &issue.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan issue: %w", err)
		}
		issue.Severity = models.Severity(severity)
		issue.FixDifficulty = models.FixDifficulty(difficulty)
		issues = append(issues, issue)
	}
	return issues, rows.Err()
}

// --- Fix records ---

func (s *SQLiteStore) CreateFixRecord(ctx context.Context, rec *models.FixRecord) error {
	if rec.ID == "" {
		rec.ID = NewULID()
	}
	rec.AppliedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO fix_records (id, session_id, issue_id, applied_text, origin, applied_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.SessionID, rec.IssueID, rec.AppliedText, string(rec.Origin), rec.AppliedAt,
	)
	if err != nil {
		return fmt.Errorf("create fix record: %w", err)
	}
	return nil
}

// LatestFixRecord returns the most recent fix for an issue, or ErrNotFound
// when the issue has never been fixed. ULIDs sort by creation time, so the
// id tie-break keeps same-instant records ordered.
func (s *SQLiteStore) LatestFixRecord(ctx context.Context, issueID string) (*models.FixRecord, error) {
	rec := &models.FixRecord{}
	var origin string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, session_id, issue_id, applied_text, origin, applied_at
		FROM fix_records WHERE issue_id = ?
		ORDER BY applied_at DESC, id DESC LIMIT 1`, issueID,
	).Scan(&rec.ID, &rec.SessionID, &rec.IssueID, &rec.AppliedText, &origin, &rec.AppliedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("fix record for issue %s: %w", issueID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("latest fix record: %w", err)
	}
	rec.Origin = models.FixOrigin(origin)
	return rec, nil
}

func (s *SQLiteStore) ListFixRecords(ctx context.Context, sessionID string) ([]*models.FixRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, issue_id, applied_text, origin, applied_at
		FROM fix_records WHERE session_id = ? ORDER BY applied_at, id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list fix records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*models.FixRecord
	for rows.Next() {
		rec := &models.FixRecord{}
		var origin string
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.IssueID, &rec.AppliedText, &origin, &rec.AppliedAt); err != nil {
			return nil, fmt.Errorf("scan fix record: %w", err)
		}
		rec.Origin = models.FixOrigin(origin)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// --- Score snapshots ---

func (s *SQLiteStore) CreateScoreSnapshot(ctx context.Context, snap *models.ScoreSnapshot) error {
	if snap.ID == "" {
		snap.ID = NewULID()
	}
	snap.TakenAt = time.Now().UTC()

	var prev any
	if snap.PreviousScore != nil {
		prev = *snap.PreviousScore
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO score_snapshots (id, session_id, score, previous_score, critical_count, important_count, consider_count, polish_count, taken_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.ID, snap.SessionID, snap.Score, prev,
		snap.Breakdown.Critical, snap.Breakdown.Important, snap.Breakdown.Consider, snap.Breakdown.Polish,
		snap.TakenAt,
	)
	if err != nil {
		return fmt.Errorf("create score snapshot: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LatestScoreSnapshot(ctx context.Context, sessionID string) (*models.ScoreSnapshot, error) {
	snap := &models.ScoreSnapshot{}
	var prev sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, session_id, score, previous_score, critical_count, important_count, consider_count, polish_count, taken_at
		FROM score_snapshots WHERE session_id = ?
		ORDER BY taken_at DESC, id DESC LIMIT 1`, sessionID,
	).Scan(&snap.ID, &snap.SessionID, &snap.Score, &prev,
		&snap.Breakdown.Critical, &snap.Breakdown.Important, &snap.Breakdown.Consider, &snap.Breakdown.Polish,
		&snap.TakenAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("score snapshot for session %s: %w", sessionID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("latest score snapshot: %w", err)
	}
	if prev.Valid {
		p := int(prev.Int64)
		snap.PreviousScore = &p
	}
	return snap, nil
}

func (s *SQLiteStore) ListScoreSnapshots(ctx context.Context, sessionID string) ([]*models.ScoreSnapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, score, previous_score, critical_count, important_count, consider_count, polish_count, taken_at
		FROM score_snapshots WHERE session_id = ? ORDER BY taken_at, id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list score snapshots: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var snaps []*models.ScoreSnapshot
	for rows.Next() {
		snap := &models.ScoreSnapshot{}
		var prev sql.NullInt64
		if err := rows.Scan(&snap.ID, &snap.SessionID, &snap.Score, &prev,
			&snap.Breakdown.Critical, &snap.Breakdown.Important, &snap.Breakdown.Consider, &snap.Breakdown.Polish,
			&snap.TakenAt); err != nil {
			return nil, fmt.Errorf("scan score snapshot: %w", err)
		}
		if prev.Valid {
			p := int(prev.Int64)
			snap.PreviousScore = &p
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

// --- Visibility filters ---

func (s *SQLiteStore) SetFilter(ctx context.Context, sessionID string, f DisabledFilter, disabled bool) error {
	if disabled {
		_, err := s.db.ExecContext(ctx,
			"INSERT OR IGNORE INTO session_filters (session_id, kind, value) VALUES (?, ?, ?)",
			sessionID, string(f.Kind), f.Value)
		if err != nil {
			return fmt.Errorf("set filter: %w", err)
		}
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM session_filters WHERE session_id = ? AND kind = ? AND value = ?",
		sessionID, string(f.Kind), f.Value)
	if err != nil {
		return fmt.Errorf("clear filter: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListDisabledFilters(ctx context.Context, sessionID string) ([]DisabledFilter, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT kind, value FROM session_filters WHERE session_id = ? ORDER BY kind, value", sessionID)
	if err != nil {
		return nil, fmt.Errorf("list filters: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var filters []DisabledFilter
	for rows.Next() {
		var kind, value string
		if err := rows.Scan(&kind, &value); err != nil {
			return nil, fmt.Errorf("scan filter: %w", err)
		}
		filters = append(filters, DisabledFilter{Kind: FilterKind(kind), Value: value})
	}
	return filters, rows.Err()
}

// --- Audit trail ---

func (s *SQLiteStore) CreateAuditEntry(ctx context.Context, e *models.AuditEntry) error {
	if e.ID == "" {
		e.ID = NewULID()
	}
	e.At = time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log (id, session_id, event, detail, at) VALUES (?, ?, ?, ?, ?)`,
		e.ID, e.SessionID, string(e.Event), e.Detail, e.At,
	)
	if err != nil {
		return fmt.Errorf("create audit entry: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListAuditEntries(ctx context.Context, sessionID string) ([]*models.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, session_id, event, detail, at FROM audit_log WHERE session_id = ? ORDER BY at, id", sessionID)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []*models.AuditEntry
	for rows.Next() {
		e := &models.AuditEntry{}
		var event string
		if err := rows.Scan(&e.ID, &e.SessionID, &event, &e.Detail, &e.At); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Event = models.AuditEvent(event)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
