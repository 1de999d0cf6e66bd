package engine

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tlarkin/revu/internal/models"
	"github.com/tlarkin/revu/internal/progress"
	"github.com/tlarkin/revu/internal/scan"
	"github.com/tlarkin/revu/internal/store"
)

// stubScanner returns a canned result, optionally blocking until released.
type stubScanner struct {
	result *scan.Result
	err    error
	block  chan struct{}
}

func (s *stubScanner) Scan(ctx context.Context, doc *models.Document) (*scan.Result, error) {
	if s.block != nil {
		<-s.block
	}
	return s.result, s.err
}

// stubScorer replays a fixed score sequence.
type stubScorer struct {
	mu     sync.Mutex
	scores []int
	calls  int
	err    error
}

func (s *stubScorer) Score(ctx context.Context, doc *models.Document, fixes []*models.FixRecord) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	score := s.scores[len(s.scores)-1]
	if s.calls < len(s.scores) {
		score = s.scores[s.calls]
	}
	s.calls++
	return score, nil
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestDocument(t *testing.T, s store.Store, owner string) *models.Document {
	t.Helper()
	doc := &models.Document{
		OwnerID:  owner,
		Filename: "cv.txt",
		Text:     "Responsible for the backend. Team player with attention to detail.",
	}
	require.NoError(t, s.CreateDocument(context.Background(), doc))
	return doc
}

func defaultScanResult() *scan.Result {
	return &scan.Result{
		Score: 55,
		Issues: []scan.DetectedIssue{
			{
				Severity:      "critical",
				Category:      "impact",
				LocationHint:  "first paragraph",
				CurrentText:   "Responsible for the backend",
				SuggestedFix:  "Owned the backend serving 2M requests/day",
				FixDifficulty: "quick",
			},
			{
				Severity:      "polish",
				Category:      "wording",
				LocationHint:  "first paragraph",
				CurrentText:   "Team player",
				SuggestedFix:  "",
				FixDifficulty: "medium",
			},
		},
	}
}

// waitForStatus polls until the session reaches the wanted status.
func waitForStatus(t *testing.T, s store.Store, sessionID string, want models.SessionStatus) *models.ReviewSession {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		sess, err := s.GetSession(context.Background(), sessionID)
		require.NoError(t, err)
		if sess.Status == want {
			return sess
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("session %s never reached status %s", sessionID, want)
	return nil
}

func TestStartReview(t *testing.T) {
	s := newTestStore(t)
	m := NewManager(s, &stubScanner{result: defaultScanResult()}, &stubScorer{scores: []int{55}})
	ctx := context.Background()
	doc := newTestDocument(t, s, "owner-1")

	sess, err := m.StartReview(ctx, "owner-1", models.ServiceCVReview, doc.Ref)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusScanning, sess.Status)

	done := waitForStatus(t, s, sess.ID, models.SessionStatusScanned)
	assert.Nil(t, done.ArchivedAt)

	issues, err := s.ListIssues(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, issues, 2)
	assert.Equal(t, models.SeverityCritical, issues[0].Severity)
	assert.True(t, issues[0].IsHighlightable, "verbatim excerpt should map to a span")
	assert.Equal(t, models.FixDifficultyQuick, issues[0].FixDifficulty)

	snap, err := s.LatestScoreSnapshot(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 55, snap.Score)
	assert.Equal(t, 1, snap.Breakdown.Critical)
	assert.Equal(t, 1, snap.Breakdown.Polish)

	// The reporter reports completion only after the real event.
	reporter := m.Progress(sess.ID)
	require.NotNil(t, reporter)
	pct, state, _ := reporter.Snapshot()
	assert.Equal(t, 100, pct)
	assert.Equal(t, progress.StateDone, state)

	entries, err := s.ListAuditEntries(ctx, sess.ID)
	require.NoError(t, err)
	var events []models.AuditEvent
	for _, e := range entries {
		events = append(events, e.Event)
	}
	assert.Equal(t, []models.AuditEvent{
		models.AuditEventCreated,
		models.AuditEventScanStarted,
		models.AuditEventScanned,
	}, events)
}

func TestStartReview_Validation(t *testing.T) {
	s := newTestStore(t)
	m := NewManager(s, &stubScanner{result: defaultScanResult()}, &stubScorer{scores: []int{55}})
	ctx := context.Background()

	_, err := m.StartReview(ctx, "", models.ServiceCVReview, "ref")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = m.StartReview(ctx, "owner-1", "resume-roast", "ref")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = m.StartReview(ctx, "owner-1", models.ServiceCVReview, "")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = m.StartReview(ctx, "owner-1", models.ServiceCVReview, "no-such-doc")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStartReview_Conflict(t *testing.T) {
	s := newTestStore(t)
	m := NewManager(s, &stubScanner{result: defaultScanResult()}, &stubScorer{scores: []int{55}})
	ctx := context.Background()
	doc := newTestDocument(t, s, "owner-1")

	first, err := m.StartReview(ctx, "owner-1", models.ServiceCVReview, doc.Ref)
	require.NoError(t, err)

	_, err = m.StartReview(ctx, "owner-1", models.ServiceCVReview, doc.Ref)
	assert.ErrorIs(t, err, ErrConflict)

	// A different service slot for the same owner is independent.
	_, err = m.StartReview(ctx, "owner-1", models.ServiceCoverLetter, doc.Ref)
	assert.NoError(t, err)

	waitForStatus(t, s, first.ID, models.SessionStatusScanned)
}

func TestStartReview_NoScanner(t *testing.T) {
	s := newTestStore(t)
	m := NewManager(s, nil, nil)
	doc := newTestDocument(t, s, "owner-1")

	_, err := m.StartReview(context.Background(), "owner-1", models.ServiceCVReview, doc.Ref)
	assert.ErrorIs(t, err, ErrOperationFailed)
}

func TestScanFailure(t *testing.T) {
	s := newTestStore(t)
	m := NewManager(s, &stubScanner{err: assert.AnError}, &stubScorer{scores: []int{55}})
	ctx := context.Background()
	doc := newTestDocument(t, s, "owner-1")

	sess, err := m.StartReview(ctx, "owner-1", models.ServiceCVReview, doc.Ref)
	require.NoError(t, err)

	reporter := m.Progress(sess.ID)
	require.NotNil(t, reporter)

	deadline := time.Now().Add(5 * time.Second)
	for {
		_, state, _ := reporter.Snapshot()
		if state == progress.StateFailed {
			break
		}
		require.True(t, time.Now().Before(deadline), "scan never failed")
		time.Sleep(10 * time.Millisecond)
	}

	// The session stays in scanning so a retry remains possible.
	got, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusScanning, got.Status)

	entries, err := s.ListAuditEntries(ctx, sess.ID)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, models.AuditEventScanFailed, entries[len(entries)-1].Event)
}

func TestArchive_Idempotent(t *testing.T) {
	s := newTestStore(t)
	m := NewManager(s, &stubScanner{result: defaultScanResult()}, &stubScorer{scores: []int{55}})
	ctx := context.Background()
	doc := newTestDocument(t, s, "owner-1")

	sess, err := m.StartReview(ctx, "owner-1", models.ServiceCVReview, doc.Ref)
	require.NoError(t, err)
	waitForStatus(t, s, sess.ID, models.SessionStatusScanned)

	require.NoError(t, m.Archive(ctx, sess.ID))
	require.NoError(t, m.Archive(ctx, sess.ID), "second archive is a no-op")

	got, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusArchived, got.Status)
	require.NotNil(t, got.ArchivedAt)

	entries, err := s.ListAuditEntries(ctx, sess.ID)
	require.NoError(t, err)
	archived := 0
	for _, e := range entries {
		if e.Event == models.AuditEventArchived {
			archived++
		}
	}
	assert.Equal(t, 1, archived, "no duplicate archive audit entries")

	// Slot is free again.
	_, err = m.StartReview(ctx, "owner-1", models.ServiceCVReview, doc.Ref)
	assert.NoError(t, err)
}

func TestArchive_NotFound(t *testing.T) {
	s := newTestStore(t)
	m := NewManager(s, &stubScanner{result: defaultScanResult()}, &stubScorer{scores: []int{55}})

	err := m.Archive(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestArchiveDuringScan_DiscardsResult(t *testing.T) {
	s := newTestStore(t)
	scanner := &stubScanner{result: defaultScanResult(), block: make(chan struct{})}
	m := NewManager(s, scanner, &stubScorer{scores: []int{55}})
	ctx := context.Background()
	doc := newTestDocument(t, s, "owner-1")

	sess, err := m.StartReview(ctx, "owner-1", models.ServiceCVReview, doc.Ref)
	require.NoError(t, err)

	// Archive while the scan is still in flight.
	require.NoError(t, m.Archive(ctx, sess.ID))
	close(scanner.block)

	// Archiving drops the progress reporter immediately.
	assert.Nil(t, m.Progress(sess.ID))

	// The stale result must not resurrect the session or write issues.
	time.Sleep(100 * time.Millisecond)
	got, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusArchived, got.Status)

	issues, err := s.ListIssues(ctx, sess.ID)
	require.NoError(t, err)
	assert.Empty(t, issues)
}

func TestReplace(t *testing.T) {
	s := newTestStore(t)
	m := NewManager(s, &stubScanner{result: defaultScanResult()}, &stubScorer{scores: []int{55}})
	ctx := context.Background()
	oldDoc := newTestDocument(t, s, "owner-1")
	newDoc := newTestDocument(t, s, "owner-1")

	old, err := m.StartReview(ctx, "owner-1", models.ServiceCVReview, oldDoc.Ref)
	require.NoError(t, err)
	waitForStatus(t, s, old.ID, models.SessionStatusScanned)

	fresh, err := m.Replace(ctx, "owner-1", models.ServiceCVReview, newDoc.Ref)
	require.NoError(t, err)
	assert.NotEqual(t, old.ID, fresh.ID)
	assert.Equal(t, newDoc.Ref, fresh.DocumentRef)

	gotOld, err := s.GetSession(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusArchived, gotOld.Status)

	entries, err := s.ListAuditEntries(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AuditEventReplaced, entries[len(entries)-1].Event)

	active, err := m.GetActive(ctx, "owner-1", models.ServiceCVReview)
	require.NoError(t, err)
	assert.Equal(t, fresh.ID, active.ID)

	waitForStatus(t, s, fresh.ID, models.SessionStatusScanned)

	// The new session starts its own score history.
	snap, err := s.LatestScoreSnapshot(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Nil(t, snap.PreviousScore)
}

func TestReplace_EmptySlot(t *testing.T) {
	s := newTestStore(t)
	m := NewManager(s, &stubScanner{result: defaultScanResult()}, &stubScorer{scores: []int{55}})
	ctx := context.Background()
	doc := newTestDocument(t, s, "owner-1")

	// Replace with no active session just starts one.
	sess, err := m.Replace(ctx, "owner-1", models.ServiceCVReview, doc.Ref)
	require.NoError(t, err)
	waitForStatus(t, s, sess.ID, models.SessionStatusScanned)
}

func TestGetActive_None(t *testing.T) {
	s := newTestStore(t)
	m := NewManager(s, &stubScanner{result: defaultScanResult()}, &stubScorer{scores: []int{55}})

	_, err := m.GetActive(context.Background(), "owner-1", models.ServiceCVReview)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUnknownSeverityMapsToConsider(t *testing.T) {
	s := newTestStore(t)
	result := &scan.Result{
		Score: 70,
		Issues: []scan.DetectedIssue{
			{Severity: "catastrophic", Category: "other", FixDifficulty: "trivial"},
		},
	}
	m := NewManager(s, &stubScanner{result: result}, &stubScorer{scores: []int{70}})
	ctx := context.Background()
	doc := newTestDocument(t, s, "owner-1")

	sess, err := m.StartReview(ctx, "owner-1", models.ServiceCVReview, doc.Ref)
	require.NoError(t, err)
	waitForStatus(t, s, sess.ID, models.SessionStatusScanned)

	issues, err := s.ListIssues(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, models.SeverityConsider, issues[0].Severity)
	assert.Equal(t, models.FixDifficultyMedium, issues[0].FixDifficulty)
}
