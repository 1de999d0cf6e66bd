package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tlarkin/revu/internal/models"
	"github.com/tlarkin/revu/internal/store"
)

// scannedSession starts a review and waits for the scan to settle.
func scannedSession(t *testing.T, s store.Store, m *Manager) *models.ReviewSession {
	t.Helper()
	doc := newTestDocument(t, s, "owner-1")
	sess, err := m.StartReview(context.Background(), "owner-1", models.ServiceCVReview, doc.Ref)
	require.NoError(t, err)
	return waitForStatus(t, s, sess.ID, models.SessionStatusScanned)
}

func TestApplyFix(t *testing.T) {
	s := newTestStore(t)
	scorer := &stubScorer{scores: []int{70}}
	m := NewManager(s, &stubScanner{result: defaultScanResult()}, scorer)
	ctx := context.Background()

	sess := scannedSession(t, s, m)
	issues, err := s.ListIssues(ctx, sess.ID)
	require.NoError(t, err)
	critical := issues[0]

	rec, err := m.Ledger().ApplyFix(ctx, sess.ID, critical.ID, "Owned the backend serving 2M requests/day", models.FixOriginManual)
	require.NoError(t, err)
	assert.Equal(t, critical.ID, rec.IssueID)
	assert.Equal(t, models.FixOriginManual, rec.Origin)

	// One recomputation appended exactly one new snapshot.
	history, err := s.ListScoreSnapshots(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 70, history[len(history)-1].Score)

	// Breakdown now counts only the unfixed issue.
	latest, err := s.LatestScoreSnapshot(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, latest.Breakdown.Critical)
	assert.Equal(t, 1, latest.Breakdown.Polish)

	// The session returned to scanned after the fix settled.
	got, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusScanned, got.Status)
}

func TestApplyFix_Idempotent(t *testing.T) {
	s := newTestStore(t)
	scorer := &stubScorer{scores: []int{70}}
	m := NewManager(s, &stubScanner{result: defaultScanResult()}, scorer)
	ctx := context.Background()

	sess := scannedSession(t, s, m)
	issues, err := s.ListIssues(ctx, sess.ID)
	require.NoError(t, err)
	issueID := issues[0].ID

	first, err := m.Ledger().ApplyFix(ctx, sess.ID, issueID, "new text", models.FixOriginManual)
	require.NoError(t, err)

	// Identical repeat: same record back, no new snapshot.
	again, err := m.Ledger().ApplyFix(ctx, sess.ID, issueID, "new text", models.FixOriginManual)
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	history, err := s.ListScoreSnapshots(ctx, sess.ID)
	require.NoError(t, err)
	assert.Len(t, history, 2, "repeat must not trigger recomputation")

	records, err := s.ListFixRecords(ctx, sess.ID)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestApplyFix_DifferentTextAppends(t *testing.T) {
	s := newTestStore(t)
	scorer := &stubScorer{scores: []int{70, 75}}
	m := NewManager(s, &stubScanner{result: defaultScanResult()}, scorer)
	ctx := context.Background()

	sess := scannedSession(t, s, m)
	issues, err := s.ListIssues(ctx, sess.ID)
	require.NoError(t, err)
	issueID := issues[0].ID

	_, err = m.Ledger().ApplyFix(ctx, sess.ID, issueID, "first attempt", models.FixOriginManual)
	require.NoError(t, err)
	_, err = m.Ledger().ApplyFix(ctx, sess.ID, issueID, "second attempt", models.FixOriginManual)
	require.NoError(t, err)

	records, err := s.ListFixRecords(ctx, sess.ID)
	require.NoError(t, err)
	assert.Len(t, records, 2, "fix history is append-only")

	latest, err := s.LatestFixRecord(ctx, issueID)
	require.NoError(t, err)
	assert.Equal(t, "second attempt", latest.AppliedText)
}

func TestApplyFix_Errors(t *testing.T) {
	s := newTestStore(t)
	m := NewManager(s, &stubScanner{result: defaultScanResult()}, &stubScorer{scores: []int{55}})
	ctx := context.Background()

	sess := scannedSession(t, s, m)
	issues, err := s.ListIssues(ctx, sess.ID)
	require.NoError(t, err)

	_, err = m.Ledger().ApplyFix(ctx, sess.ID, issues[0].ID, "", models.FixOriginManual)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = m.Ledger().ApplyFix(ctx, sess.ID, "no-such-issue", "text", models.FixOriginManual)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = m.Ledger().ApplyFix(ctx, "no-such-session", issues[0].ID, "text", models.FixOriginManual)
	assert.ErrorIs(t, err, ErrNotFound)

	// An issue from another owner's session is not reachable through this one.
	otherDoc := newTestDocument(t, s, "owner-2")
	other, err := m.StartReview(ctx, "owner-2", models.ServiceCVReview, otherDoc.Ref)
	require.NoError(t, err)
	waitForStatus(t, s, other.ID, models.SessionStatusScanned)

	_, err = m.Ledger().ApplyFix(ctx, other.ID, issues[0].ID, "text", models.FixOriginManual)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestApplyFix_ArchivedSession(t *testing.T) {
	s := newTestStore(t)
	m := NewManager(s, &stubScanner{result: defaultScanResult()}, &stubScorer{scores: []int{55}})
	ctx := context.Background()

	sess := scannedSession(t, s, m)
	issues, err := s.ListIssues(ctx, sess.ID)
	require.NoError(t, err)

	require.NoError(t, m.Archive(ctx, sess.ID))

	_, err = m.Ledger().ApplyFix(ctx, sess.ID, issues[0].ID, "text", models.FixOriginManual)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestScoreMonotonic(t *testing.T) {
	s := newTestStore(t)
	// The scorer tries to regress; the ledger must clamp.
	scorer := &stubScorer{scores: []int{70, 60}}
	m := NewManager(s, &stubScanner{result: defaultScanResult()}, scorer)
	ctx := context.Background()

	sess := scannedSession(t, s, m)
	issues, err := s.ListIssues(ctx, sess.ID)
	require.NoError(t, err)

	_, err = m.Ledger().ApplyFix(ctx, sess.ID, issues[0].ID, "fix one", models.FixOriginManual)
	require.NoError(t, err)
	_, err = m.Ledger().ApplyFix(ctx, sess.ID, issues[0].ID, "fix two", models.FixOriginManual)
	require.NoError(t, err)

	latest, err := s.LatestScoreSnapshot(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 70, latest.Score, "score never decreases within a session")
	require.NotNil(t, latest.PreviousScore)
	assert.Equal(t, 70, *latest.PreviousScore)
}

func TestApplyBulkFix(t *testing.T) {
	s := newTestStore(t)
	scorer := &stubScorer{scores: []int{72}}
	m := NewManager(s, &stubScanner{result: defaultScanResult()}, scorer)
	ctx := context.Background()

	sess := scannedSession(t, s, m)
	issues, err := s.ListIssues(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, issues, 2)

	// issues[0] has a suggested fix; issues[1] does not.
	ids := []string{issues[0].ID, issues[1].ID}
	result, err := m.Ledger().ApplyBulkFix(ctx, sess.ID, ids)
	require.NoError(t, err)
	require.Len(t, result.Items, 2)

	assert.Equal(t, BulkFixApplied, result.Items[0].Status)
	require.NotNil(t, result.Items[0].Record)
	assert.Equal(t, models.FixOriginBulkAuto, result.Items[0].Record.Origin)
	assert.Equal(t, issues[0].SuggestedFix, result.Items[0].Record.AppliedText)

	assert.Equal(t, BulkFixSkipped, result.Items[1].Status)
	assert.Equal(t, "no suggested fix", result.Items[1].Reason)

	require.NotNil(t, result.Snapshot)
	assert.Equal(t, 72, result.Snapshot.Score)

	// Exactly one snapshot for the whole batch.
	history, err := s.ListScoreSnapshots(ctx, sess.ID)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestApplyBulkFix_AllSkipped(t *testing.T) {
	s := newTestStore(t)
	scorer := &stubScorer{scores: []int{55}}
	m := NewManager(s, &stubScanner{result: defaultScanResult()}, scorer)
	ctx := context.Background()

	sess := scannedSession(t, s, m)
	issues, err := s.ListIssues(ctx, sess.ID)
	require.NoError(t, err)

	// Only the issue without a suggested fix: nothing applied, no snapshot.
	result, err := m.Ledger().ApplyBulkFix(ctx, sess.ID, []string{issues[1].ID})
	require.NoError(t, err)
	require.Len(t, result.Items, 1)
	assert.Equal(t, BulkFixSkipped, result.Items[0].Status)
	assert.Nil(t, result.Snapshot)

	history, err := s.ListScoreSnapshots(ctx, sess.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1, "no recomputation when nothing was applied")
}

func TestApplyBulkFix_Idempotent(t *testing.T) {
	s := newTestStore(t)
	scorer := &stubScorer{scores: []int{72}}
	m := NewManager(s, &stubScanner{result: defaultScanResult()}, scorer)
	ctx := context.Background()

	sess := scannedSession(t, s, m)
	issues, err := s.ListIssues(ctx, sess.ID)
	require.NoError(t, err)

	_, err = m.Ledger().ApplyBulkFix(ctx, sess.ID, []string{issues[0].ID})
	require.NoError(t, err)

	// Repeating the batch reuses the existing record but still recomputes,
	// so a retry after a crash between record and snapshot is never lost.
	again, err := m.Ledger().ApplyBulkFix(ctx, sess.ID, []string{issues[0].ID})
	require.NoError(t, err)
	require.NotNil(t, again.Snapshot)
	assert.Equal(t, 72, again.Snapshot.Score)

	records, err := s.ListFixRecords(ctx, sess.ID)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestApplyBulkFix_BadIDWritesNothing(t *testing.T) {
	s := newTestStore(t)
	scorer := &stubScorer{scores: []int{72}}
	m := NewManager(s, &stubScanner{result: defaultScanResult()}, scorer)
	ctx := context.Background()

	sess := scannedSession(t, s, m)
	issues, err := s.ListIssues(ctx, sess.ID)
	require.NoError(t, err)

	// An unknown ID anywhere in the batch fails the whole call before any
	// record lands.
	_, err = m.Ledger().ApplyBulkFix(ctx, sess.ID, []string{issues[0].ID, "no-such-issue"})
	assert.ErrorIs(t, err, ErrNotFound)

	records, err := s.ListFixRecords(ctx, sess.ID)
	require.NoError(t, err)
	assert.Empty(t, records)

	// The corrected batch applies the fix and recomputes.
	result, err := m.Ledger().ApplyBulkFix(ctx, sess.ID, []string{issues[0].ID})
	require.NoError(t, err)
	require.NotNil(t, result.Snapshot)
	assert.Equal(t, 72, result.Snapshot.Score)

	history, err := s.ListScoreSnapshots(ctx, sess.ID)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestApplyBulkFix_PreexistingRecordStillRecomputes(t *testing.T) {
	s := newTestStore(t)
	scorer := &stubScorer{scores: []int{72}}
	m := NewManager(s, &stubScanner{result: defaultScanResult()}, scorer)
	ctx := context.Background()

	sess := scannedSession(t, s, m)
	issues, err := s.ListIssues(ctx, sess.ID)
	require.NoError(t, err)

	// A record without a matching snapshot, as an interrupted earlier
	// attempt would leave behind.
	orphan := &models.FixRecord{
		SessionID:   sess.ID,
		IssueID:     issues[0].ID,
		AppliedText: issues[0].SuggestedFix,
		Origin:      models.FixOriginBulkAuto,
	}
	require.NoError(t, s.CreateFixRecord(ctx, orphan))

	result, err := m.Ledger().ApplyBulkFix(ctx, sess.ID, []string{issues[0].ID})
	require.NoError(t, err)
	require.Len(t, result.Items, 1)
	assert.Equal(t, BulkFixApplied, result.Items[0].Status)
	assert.Equal(t, orphan.ID, result.Items[0].Record.ID)

	// The pre-existing record counts: the batch ends with a snapshot.
	require.NotNil(t, result.Snapshot)
	assert.Equal(t, 72, result.Snapshot.Score)

	records, err := s.ListFixRecords(ctx, sess.ID)
	require.NoError(t, err)
	assert.Len(t, records, 1, "no duplicate record for the same text")
}

func TestApplyBulkFix_Errors(t *testing.T) {
	s := newTestStore(t)
	m := NewManager(s, &stubScanner{result: defaultScanResult()}, &stubScorer{scores: []int{55}})
	ctx := context.Background()

	sess := scannedSession(t, s, m)

	_, err := m.Ledger().ApplyBulkFix(ctx, sess.ID, nil)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = m.Ledger().ApplyBulkFix(ctx, sess.ID, []string{"no-such-issue"})
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, m.Archive(ctx, sess.ID))
	issues, err := s.ListIssues(ctx, sess.ID)
	require.NoError(t, err)
	_, err = m.Ledger().ApplyBulkFix(ctx, sess.ID, []string{issues[0].ID})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestRecomputeScore(t *testing.T) {
	s := newTestStore(t)
	scorer := &stubScorer{scores: []int{55}}
	m := NewManager(s, &stubScanner{result: defaultScanResult()}, scorer)
	ctx := context.Background()

	sess := scannedSession(t, s, m)

	snap, err := m.Ledger().RecomputeScore(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 55, snap.Score)
	require.NotNil(t, snap.PreviousScore)
	assert.Equal(t, 55, *snap.PreviousScore)

	require.NoError(t, m.Archive(ctx, sess.ID))
	_, err = m.Ledger().RecomputeScore(ctx, sess.ID)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestRecomputeScore_ScorerFailure(t *testing.T) {
	s := newTestStore(t)
	scorer := &stubScorer{scores: []int{55}}
	m := NewManager(s, &stubScanner{result: defaultScanResult()}, scorer)
	ctx := context.Background()

	sess := scannedSession(t, s, m)
	issues, err := s.ListIssues(ctx, sess.ID)
	require.NoError(t, err)

	scorer.mu.Lock()
	scorer.err = assert.AnError
	scorer.mu.Unlock()

	_, err = m.Ledger().ApplyFix(ctx, sess.ID, issues[0].ID, "fix text", models.FixOriginManual)
	assert.ErrorIs(t, err, ErrOperationFailed)

	// The fix record survives the failed recompute, so a retry is cheap.
	records, err := s.ListFixRecords(ctx, sess.ID)
	require.NoError(t, err)
	assert.Len(t, records, 1)

	// The session is not stuck in fixing.
	got, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusScanned, got.Status)
}
