package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/tlarkin/revu/internal/models"
	"github.com/tlarkin/revu/internal/scan"
	"github.com/tlarkin/revu/internal/store"
)

// Ledger tracks fix application and owns score recomputation triggering:
// exactly one recomputation per ApplyFix and one per ApplyBulkFix call.
// The numeric computation itself is delegated to the external scorer.
type Ledger struct {
	store      store.Store
	scorer     scan.Scorer
	slots      *keyedLocks // shared with the lifecycle manager
	issueLocks *keyedLocks // serializes fixes per issue
}

// BulkFixStatus is the per-issue outcome of a bulk fix.
type BulkFixStatus string

const (
	BulkFixApplied BulkFixStatus = "fixed"
	BulkFixSkipped BulkFixStatus = "skipped"
)

// BulkFixItem reports what happened to one issue in a bulk fix. Issues
// lacking a suggested fix are skipped and reported, never silently dropped.
type BulkFixItem struct {
	IssueID string            `json:"issue_id"`
	Status  BulkFixStatus     `json:"status"`
	Reason  string            `json:"reason,omitempty"`
	Record  *models.FixRecord `json:"record,omitempty"`
}

// BulkFixResult is the outcome of one ApplyBulkFix call.
type BulkFixResult struct {
	Items    []BulkFixItem         `json:"items"`
	Snapshot *models.ScoreSnapshot `json:"snapshot,omitempty"`
}

// ApplyFix records one applied remedy for an issue and triggers exactly
// one score recomputation. Idempotent: when the latest fix for the issue
// already carries the same text, that record is returned unchanged and no
// recomputation runs, so a caller's retry-after-failure is always safe.
func (l *Ledger) ApplyFix(ctx context.Context, sessionID, issueID, appliedText string, origin models.FixOrigin) (*models.FixRecord, error) {
	if appliedText == "" {
		return nil, fmt.Errorf("applied_text is required: %w", ErrValidation)
	}
	if origin == "" {
		origin = models.FixOriginManual
	}

	sess, err := l.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	lock := l.slots.get(slotKey(sess.OwnerID, sess.Service))
	lock.Lock()
	defer lock.Unlock()

	issueLock := l.issueLocks.get(issueID)
	issueLock.Lock()
	defer issueLock.Unlock()

	sess, issue, err := l.loadMutable(ctx, sessionID, issueID)
	if err != nil {
		return nil, err
	}

	// Idempotency: identical repeat produces no new record and no
	// recomputation.
	latest, err := l.store.LatestFixRecord(ctx, issue.ID)
	if err == nil && latest.AppliedText == appliedText {
		return latest, nil
	}
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	if err := l.enterFixing(ctx, sess); err != nil {
		return nil, err
	}

	rec := &models.FixRecord{
		SessionID:   sessionID,
		IssueID:     issue.ID,
		AppliedText: appliedText,
		Origin:      origin,
	}
	if err := l.store.CreateFixRecord(ctx, rec); err != nil {
		l.leaveFixing(ctx, sess)
		return nil, fmt.Errorf("record fix: %w", err)
	}
	l.auditFix(ctx, sessionID, models.AuditEventFixApplied, "issue "+issue.ID)

	if _, err := l.recomputeLocked(ctx, sess); err != nil {
		// The fix record stands; the caller can safely retry recompute.
		l.leaveFixing(ctx, sess)
		return nil, err
	}
	l.leaveFixing(ctx, sess)
	return rec, nil
}

// ApplyBulkFix applies each issue's own suggested fix with bulk-auto
// origin. The whole batch is resolved and validated before any record is
// written, so a bad ID anywhere in it fails the call with the ledger
// untouched. Issues without a suggested fix are reported as skipped. The
// score is recomputed once for the whole batch, appending at most one
// snapshot; records left by an earlier interrupted attempt still count
// toward that recomputation.
func (l *Ledger) ApplyBulkFix(ctx context.Context, sessionID string, issueIDs []string) (*BulkFixResult, error) {
	if len(issueIDs) == 0 {
		return nil, fmt.Errorf("issue_ids is required: %w", ErrValidation)
	}

	sess, err := l.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	lock := l.slots.get(slotKey(sess.OwnerID, sess.Service))
	lock.Lock()
	defer lock.Unlock()

	sess, err = l.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status.IsTerminal() {
		return nil, fmt.Errorf("session %s is archived: %w", sessionID, ErrConflict)
	}

	issues := make([]*models.Issue, 0, len(issueIDs))
	for _, issueID := range issueIDs {
		issue, err := l.store.GetIssue(ctx, issueID)
		if err != nil {
			return nil, err
		}
		if issue.SessionID != sessionID {
			return nil, fmt.Errorf("issue %s does not belong to session %s: %w", issueID, sessionID, ErrNotFound)
		}
		issues = append(issues, issue)
	}

	if err := l.enterFixing(ctx, sess); err != nil {
		return nil, err
	}
	defer l.leaveFixing(ctx, sess)

	result := &BulkFixResult{}
	created := 0
	resolved := 0
	for _, issue := range issues {
		if issue.SuggestedFix == "" {
			result.Items = append(result.Items, BulkFixItem{
				IssueID: issue.ID,
				Status:  BulkFixSkipped,
				Reason:  "no suggested fix",
			})
			continue
		}

		issueLock := l.issueLocks.get(issue.ID)
		issueLock.Lock()
		latest, err := l.store.LatestFixRecord(ctx, issue.ID)
		if err == nil && latest.AppliedText == issue.SuggestedFix {
			issueLock.Unlock()
			resolved++
			result.Items = append(result.Items, BulkFixItem{IssueID: issue.ID, Status: BulkFixApplied, Record: latest})
			continue
		}
		if err != nil && !errors.Is(err, ErrNotFound) {
			issueLock.Unlock()
			return nil, err
		}

		rec := &models.FixRecord{
			SessionID:   sessionID,
			IssueID:     issue.ID,
			AppliedText: issue.SuggestedFix,
			Origin:      models.FixOriginBulkAuto,
		}
		if err := l.store.CreateFixRecord(ctx, rec); err != nil {
			issueLock.Unlock()
			return nil, fmt.Errorf("record fix: %w", err)
		}
		issueLock.Unlock()
		created++
		resolved++
		result.Items = append(result.Items, BulkFixItem{IssueID: issue.ID, Status: BulkFixApplied, Record: rec})
	}

	if resolved > 0 {
		if created > 0 {
			l.auditFix(ctx, sessionID, models.AuditEventBulkFix, fmt.Sprintf("%d applied, %d skipped", created, len(issueIDs)-created))
		}
		snap, err := l.recomputeLocked(ctx, sess)
		if err != nil {
			return nil, err
		}
		result.Snapshot = snap
	}
	return result, nil
}

// RecomputeScore re-runs scoring against the current fix ledger and
// appends a snapshot. With an unchanged ledger the external scorer's
// determinism contract means the score cannot move, and the engine
// additionally never lets a snapshot regress.
func (l *Ledger) RecomputeScore(ctx context.Context, sessionID string) (*models.ScoreSnapshot, error) {
	sess, err := l.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	lock := l.slots.get(slotKey(sess.OwnerID, sess.Service))
	lock.Lock()
	defer lock.Unlock()

	sess, err = l.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status.IsTerminal() {
		return nil, fmt.Errorf("session %s is archived: %w", sessionID, ErrConflict)
	}
	return l.recomputeLocked(ctx, sess)
}

// recomputeLocked delegates scoring to the external scorer and appends a
// snapshot. Caller holds the slot lock.
func (l *Ledger) recomputeLocked(ctx context.Context, sess *models.ReviewSession) (*models.ScoreSnapshot, error) {
	doc, err := l.store.GetDocument(ctx, sess.DocumentRef)
	if err != nil {
		return nil, err
	}
	fixes, err := l.store.ListFixRecords(ctx, sess.ID)
	if err != nil {
		return nil, err
	}

	if l.scorer == nil {
		return nil, fmt.Errorf("no scorer configured: %w", ErrOperationFailed)
	}
	score, err := l.scorer.Score(ctx, doc, fixes)
	if err != nil {
		return nil, fmt.Errorf("%w: score: %v", ErrOperationFailed, err)
	}

	snap := &models.ScoreSnapshot{
		SessionID: sess.ID,
		Score:     score,
	}

	// Breakdown counts the issues still awaiting a fix.
	issues, err := l.store.ListIssues(ctx, sess.ID)
	if err != nil {
		return nil, err
	}
	fixed := make(map[string]bool, len(fixes))
	for _, f := range fixes {
		fixed[f.IssueID] = true
	}
	for _, issue := range issues {
		if !fixed[issue.ID] {
			snap.Breakdown.Add(issue.Severity)
		}
	}

	latest, err := l.store.LatestScoreSnapshot(ctx, sess.ID)
	if err == nil {
		snap.PreviousScore = &latest.Score
		// Scores never regress within a session; a reset only happens via
		// document replacement, which starts a fresh session.
		if snap.Score < latest.Score {
			snap.Score = latest.Score
		}
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	if err := l.store.CreateScoreSnapshot(ctx, snap); err != nil {
		return nil, fmt.Errorf("store snapshot: %w", err)
	}
	return snap, nil
}

// loadMutable re-reads session and issue under the slot lock and rejects
// writes to archived sessions.
func (l *Ledger) loadMutable(ctx context.Context, sessionID, issueID string) (*models.ReviewSession, *models.Issue, error) {
	sess, err := l.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	if sess.Status.IsTerminal() {
		return nil, nil, fmt.Errorf("session %s is archived: %w", sessionID, ErrConflict)
	}
	issue, err := l.store.GetIssue(ctx, issueID)
	if err != nil {
		return nil, nil, err
	}
	if issue.SessionID != sessionID {
		return nil, nil, fmt.Errorf("issue %s does not belong to session %s: %w", issueID, sessionID, ErrNotFound)
	}
	return sess, issue, nil
}

// enterFixing moves a scanned session to fixing for the duration of a fix
// operation; leaveFixing restores it. Sessions still scanning stay put.
func (l *Ledger) enterFixing(ctx context.Context, sess *models.ReviewSession) error {
	if sess.Status != models.SessionStatusScanned {
		return nil
	}
	sess.Status = models.SessionStatusFixing
	if err := l.store.UpdateSession(ctx, sess); err != nil {
		return fmt.Errorf("transition to fixing: %w", err)
	}
	return nil
}

func (l *Ledger) leaveFixing(ctx context.Context, sess *models.ReviewSession) {
	if sess.Status != models.SessionStatusFixing {
		return
	}
	sess.Status = models.SessionStatusScanned
	_ = l.store.UpdateSession(ctx, sess)
}

// auditFix appends a fix audit entry; failures are non-fatal.
func (l *Ledger) auditFix(ctx context.Context, sessionID string, event models.AuditEvent, detail string) {
	entry := &models.AuditEntry{SessionID: sessionID, Event: event, Detail: detail}
	_ = l.store.CreateAuditEntry(ctx, entry)
}
