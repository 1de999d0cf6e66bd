// Package engine implements the review lifecycle: session state
// transitions, the one-active-session-per-service invariant, and fix
// application with score recomputation. The (owner, service) slot is the
// only shared mutation-guarded resource; every write to it runs under the
// slot's lock so check-then-act is a single critical section.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tlarkin/revu/internal/models"
	"github.com/tlarkin/revu/internal/progress"
	"github.com/tlarkin/revu/internal/scan"
	"github.com/tlarkin/revu/internal/spans"
	"github.com/tlarkin/revu/internal/store"
)

// Manager orchestrates review session lifecycles.
type Manager struct {
	store   store.Store
	scanner scan.Scanner
	ledger  *Ledger

	slots *keyedLocks // one lock per (owner, service) slot

	mu        sync.Mutex
	reporters map[string]*progress.Reporter // sessionID -> outstanding scan
}

// NewManager creates a lifecycle manager with its fix ledger.
// The scanner and scorer may be nil when no LLM is configured; operations
// that need them fail with ErrOperationFailed.
func NewManager(s store.Store, scanner scan.Scanner, scorer scan.Scorer) *Manager {
	m := &Manager{
		store:     s,
		scanner:   scanner,
		slots:     newKeyedLocks(),
		reporters: make(map[string]*progress.Reporter),
	}
	m.ledger = &Ledger{
		store:      s,
		scorer:     scorer,
		slots:      m.slots,
		issueLocks: newKeyedLocks(),
	}
	return m
}

// Ledger returns the fix ledger sharing this manager's locks.
func (m *Manager) Ledger() *Ledger {
	return m.ledger
}

func slotKey(ownerID string, service models.Service) string {
	return ownerID + "|" + string(service)
}

// StartReview creates a session for (ownerID, service) and kicks off the
// asynchronous scan. Returns ErrConflict when an active session already
// holds the slot; the caller must archive it first.
func (m *Manager) StartReview(ctx context.Context, ownerID string, service models.Service, documentRef string) (*models.ReviewSession, error) {
	if ownerID == "" || documentRef == "" {
		return nil, fmt.Errorf("owner_id and document_ref are required: %w", ErrValidation)
	}
	if !service.Valid() {
		return nil, fmt.Errorf("unknown service %q: %w", service, ErrValidation)
	}
	if m.scanner == nil {
		return nil, fmt.Errorf("no scanner configured: %w", ErrOperationFailed)
	}

	lock := m.slots.get(slotKey(ownerID, service))
	lock.Lock()
	defer lock.Unlock()

	return m.startLocked(ctx, ownerID, service, documentRef)
}

// startLocked runs the create-and-scan sequence. Caller holds the slot lock.
func (m *Manager) startLocked(ctx context.Context, ownerID string, service models.Service, documentRef string) (*models.ReviewSession, error) {
	// Active-session check happens before any scan work is issued.
	if _, err := m.store.GetActiveSession(ctx, ownerID, service); err == nil {
		return nil, fmt.Errorf("active session exists for %s/%s: %w", ownerID, service, ErrConflict)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("check active session: %w", err)
	}

	doc, err := m.store.GetDocument(ctx, documentRef)
	if err != nil {
		return nil, err
	}

	sess := &models.ReviewSession{
		OwnerID:     ownerID,
		Service:     service,
		DocumentRef: documentRef,
		Status:      models.SessionStatusPending,
	}
	if err := m.store.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	m.audit(ctx, sess.ID, models.AuditEventCreated, "document "+documentRef)

	sess.Status = models.SessionStatusScanning
	if err := m.store.UpdateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("transition to scanning: %w", err)
	}
	m.audit(ctx, sess.ID, models.AuditEventScanStarted, "")

	reporter := progress.NewReporter()
	m.mu.Lock()
	m.reporters[sess.ID] = reporter
	m.mu.Unlock()

	// The scan outlives the caller's request: if the caller goes away the
	// operation still completes server-side, and its result is discarded
	// only when the session was archived in the meantime.
	go m.runScan(context.WithoutCancel(ctx), sess.ID, slotKey(sess.OwnerID, sess.Service), doc, reporter)

	return sess, nil
}

// runScan performs the external scan and, on completion, populates the
// issue catalog and the initial score snapshot.
func (m *Manager) runScan(ctx context.Context, sessionID, slot string, doc *models.Document, reporter *progress.Reporter) {
	result, scanErr := m.scanner.Scan(ctx, doc)

	lock := m.slots.get(slot)
	lock.Lock()
	defer lock.Unlock()

	sess, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		slog.Warn("scan completion for unknown session", "session_id", sessionID, "error", err)
		return
	}
	if sess.Status.IsTerminal() {
		// Archived while the scan was in flight; discard the result.
		m.dropReporter(sessionID)
		return
	}

	if scanErr != nil {
		// The session stays in scanning so retrying the scan is meaningful.
		m.audit(ctx, sessionID, models.AuditEventScanFailed, scanErr.Error())
		reporter.Fail(fmt.Errorf("%w: %v", ErrScanFailed, scanErr))
		return
	}

	issues := make([]*models.Issue, 0, len(result.Issues))
	for _, d := range result.Issues {
		issue := &models.Issue{
			SessionID:     sessionID,
			Severity:      parseSeverity(d.Severity),
			Category:      d.Category,
			LocationHint:  d.LocationHint,
			CurrentText:   d.CurrentText,
			SuggestedFix:  d.SuggestedFix,
			FixDifficulty: parseDifficulty(d.FixDifficulty),
		}
		issue.IsHighlightable = spans.MapIssue(doc.Text, issue).Matched()
		issues = append(issues, issue)
	}
	if err := m.store.CreateIssues(ctx, issues); err != nil {
		m.audit(ctx, sessionID, models.AuditEventScanFailed, err.Error())
		reporter.Fail(fmt.Errorf("%w: store issues: %v", ErrOperationFailed, err))
		return
	}

	snap := &models.ScoreSnapshot{
		SessionID: sessionID,
		Score:     result.Score,
	}
	for _, issue := range issues {
		snap.Breakdown.Add(issue.Severity)
	}
	if err := m.store.CreateScoreSnapshot(ctx, snap); err != nil {
		m.audit(ctx, sessionID, models.AuditEventScanFailed, err.Error())
		reporter.Fail(fmt.Errorf("%w: store snapshot: %v", ErrOperationFailed, err))
		return
	}

	sess.Status = models.SessionStatusScanned
	if err := m.store.UpdateSession(ctx, sess); err != nil {
		reporter.Fail(fmt.Errorf("%w: transition to scanned: %v", ErrOperationFailed, err))
		return
	}
	m.audit(ctx, sessionID, models.AuditEventScanned,
		fmt.Sprintf("%d issues, score %d", len(issues), result.Score))

	// Only the real completion event moves the percentage to 100.
	reporter.Complete()
}

// Archive moves a session to the terminal archived state. Idempotent:
// archiving an already-archived session returns nil with no side effects
// and no duplicate audit entry. Only after Archive returns is the
// (owner, service) slot free for a new StartReview.
func (m *Manager) Archive(ctx context.Context, sessionID string) error {
	sess, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}

	lock := m.slots.get(slotKey(sess.OwnerID, sess.Service))
	lock.Lock()
	defer lock.Unlock()

	return m.archiveLocked(ctx, sessionID, models.AuditEventArchived)
}

// archiveLocked seals the session. Caller holds the slot lock, which also
// means any in-flight fix application has settled.
func (m *Manager) archiveLocked(ctx context.Context, sessionID string, event models.AuditEvent) error {
	sess, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.Status.IsTerminal() {
		return nil
	}

	now := time.Now().UTC()
	sess.Status = models.SessionStatusArchived
	sess.ArchivedAt = &now
	if err := m.store.UpdateSession(ctx, sess); err != nil {
		return fmt.Errorf("archive session: %w", err)
	}
	m.audit(ctx, sessionID, event, "")
	m.dropReporter(sessionID)
	return nil
}

// Replace archives the current active session (if any) and starts a new
// review for the given document, as one critical section. If the archive
// step fails the new review is not started.
func (m *Manager) Replace(ctx context.Context, ownerID string, service models.Service, newDocumentRef string) (*models.ReviewSession, error) {
	if ownerID == "" || newDocumentRef == "" {
		return nil, fmt.Errorf("owner_id and document_ref are required: %w", ErrValidation)
	}
	if !service.Valid() {
		return nil, fmt.Errorf("unknown service %q: %w", service, ErrValidation)
	}
	if m.scanner == nil {
		return nil, fmt.Errorf("no scanner configured: %w", ErrOperationFailed)
	}

	lock := m.slots.get(slotKey(ownerID, service))
	lock.Lock()
	defer lock.Unlock()

	current, err := m.store.GetActiveSession(ctx, ownerID, service)
	if err == nil {
		if err := m.archiveLocked(ctx, current.ID, models.AuditEventReplaced); err != nil {
			return nil, fmt.Errorf("archive current session: %w", err)
		}
	} else if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("check active session: %w", err)
	}

	return m.startLocked(ctx, ownerID, service, newDocumentRef)
}

// GetActive returns the active session for (ownerID, service), or
// ErrNotFound when the slot is free.
func (m *Manager) GetActive(ctx context.Context, ownerID string, service models.Service) (*models.ReviewSession, error) {
	return m.store.GetActiveSession(ctx, ownerID, service)
}

// Progress returns the reporter for a session's outstanding scan, or nil
// when no scan is outstanding (completed reporters stay registered until
// the session is archived so late polls still observe 100).
func (m *Manager) Progress(sessionID string) *progress.Reporter {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reporters[sessionID]
}

func (m *Manager) dropReporter(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.reporters, sessionID)
}

// audit appends a lifecycle audit entry; failures are logged, not fatal.
func (m *Manager) audit(ctx context.Context, sessionID string, event models.AuditEvent, detail string) {
	entry := &models.AuditEntry{SessionID: sessionID, Event: event, Detail: detail}
	if err := m.store.CreateAuditEntry(ctx, entry); err != nil {
		slog.Warn("failed to write audit entry", "session_id", sessionID, "event", event, "error", err)
	}
}

func parseSeverity(s string) models.Severity {
	sev := models.Severity(s)
	if sev.Valid() {
		return sev
	}
	return models.SeverityConsider
}

func parseDifficulty(s string) models.FixDifficulty {
	switch models.FixDifficulty(s) {
	case models.FixDifficultyQuick, models.FixDifficultyMedium, models.FixDifficultyComplex:
		return models.FixDifficulty(s)
	default:
		return models.FixDifficultyMedium
	}
}
