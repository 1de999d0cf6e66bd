package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/tlarkin/revu/internal/catalog"
	"github.com/tlarkin/revu/internal/engine"
	"github.com/tlarkin/revu/internal/models"
	"github.com/tlarkin/revu/internal/progress"
	"github.com/tlarkin/revu/internal/spans"
	"github.com/tlarkin/revu/internal/store"
)

// Server provides the REST API handlers.
type Server struct {
	store   store.Store
	manager *engine.Manager
	ledger  *engine.Ledger
	catalog *catalog.Catalog
}

// NewServer creates a new API server.
func NewServer(s store.Store, m *engine.Manager) *Server {
	return &Server{
		store:   s,
		manager: m,
		ledger:  m.Ledger(),
		catalog: catalog.New(s),
	}
}

// Router returns an http.Handler for the API routes.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/documents", s.createDocument)
	mux.HandleFunc("GET /api/v1/documents/{ref}", s.getDocument)

	mux.HandleFunc("GET /api/v1/reviews", s.listReviews)
	mux.HandleFunc("POST /api/v1/reviews", s.startReview)
	mux.HandleFunc("GET /api/v1/reviews/active", s.getActiveReview)
	mux.HandleFunc("POST /api/v1/reviews/replace", s.replaceReview)
	mux.HandleFunc("GET /api/v1/reviews/{id}", s.getReview)
	mux.HandleFunc("POST /api/v1/reviews/{id}/archive", s.archiveReview)
	mux.HandleFunc("GET /api/v1/reviews/{id}/progress", s.reviewProgress)
	mux.HandleFunc("GET /api/v1/reviews/{id}/audit", s.reviewAudit)

	mux.HandleFunc("GET /api/v1/reviews/{id}/issues", s.listReviewIssues)
	mux.HandleFunc("GET /api/v1/reviews/{id}/issues/counts", s.reviewIssueCounts)
	mux.HandleFunc("POST /api/v1/reviews/{id}/filters", s.setReviewFilter)
	mux.HandleFunc("GET /api/v1/reviews/{id}/spans", s.reviewSpans)

	mux.HandleFunc("POST /api/v1/issues/{id}/fix", s.applyFix)
	mux.HandleFunc("POST /api/v1/reviews/{id}/bulk-fix", s.bulkFix)

	mux.HandleFunc("GET /api/v1/reviews/{id}/score", s.getScore)
	mux.HandleFunc("POST /api/v1/reviews/{id}/score", s.recomputeScore)

	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeEngineError maps engine sentinel errors to HTTP statuses.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, engine.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, engine.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, engine.ErrScanFailed), errors.Is(err, engine.ErrOperationFailed):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// --- Documents ---

type createDocumentRequest struct {
	OwnerID  string `json:"owner_id"`
	Filename string `json:"filename"`
	Text     string `json:"text"`
}

func (s *Server) createDocument(w http.ResponseWriter, r *http.Request) {
	var req createDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.OwnerID == "" || req.Text == "" {
		writeError(w, http.StatusBadRequest, "owner_id and text are required")
		return
	}
	doc := models.Document{OwnerID: req.OwnerID, Filename: req.Filename, Text: req.Text}
	if err := s.store.CreateDocument(r.Context(), &doc); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

func (s *Server) getDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.store.GetDocument(r.Context(), r.PathValue("ref"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// --- Reviews ---

type startReviewRequest struct {
	OwnerID     string         `json:"owner_id"`
	Service     models.Service `json:"service"`
	DocumentRef string         `json:"document_ref"`
}

func (s *Server) startReview(w http.ResponseWriter, r *http.Request) {
	var req startReviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	sess, err := s.manager.StartReview(r.Context(), req.OwnerID, req.Service, req.DocumentRef)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) replaceReview(w http.ResponseWriter, r *http.Request) {
	var req startReviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	sess, err := s.manager.Replace(r.Context(), req.OwnerID, req.Service, req.DocumentRef)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) listReviews(w http.ResponseWriter, r *http.Request) {
	ownerID := r.URL.Query().Get("owner_id")
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, _ = strconv.Atoi(v)
	}
	sessions, err := s.store.ListSessions(r.Context(), ownerID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) getActiveReview(w http.ResponseWriter, r *http.Request) {
	ownerID := r.URL.Query().Get("owner_id")
	service := models.Service(r.URL.Query().Get("service"))
	sess, err := s.manager.GetActive(r.Context(), ownerID, service)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// reviewDetail enriches a session with its latest score and issue counts.
type reviewDetail struct {
	*models.ReviewSession
	Score  *models.ScoreSnapshot `json:"score,omitempty"`
	Counts *catalog.Counts       `json:"counts,omitempty"`
}

func (s *Server) getReview(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, err := s.store.GetSession(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	detail := reviewDetail{ReviewSession: sess}
	if snap, err := s.store.LatestScoreSnapshot(r.Context(), id); err == nil {
		detail.Score = snap
	}
	if counts, err := s.catalog.Counts(r.Context(), id); err == nil {
		detail.Counts = counts
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) archiveReview(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.manager.Archive(r.Context(), id); err != nil {
		writeEngineError(w, err)
		return
	}
	sess, err := s.store.GetSession(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

type progressResponse struct {
	Percent int            `json:"percent"`
	State   progress.State `json:"state"`
	Error   string         `json:"error,omitempty"`
}

func (s *Server) reviewProgress(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, err := s.store.GetSession(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	resp := progressResponse{Percent: 100, State: progress.StateDone}
	if reporter := s.manager.Progress(id); reporter != nil {
		resp.Percent, resp.State, resp.Error = reporter.Snapshot()
	} else if sess.Status == models.SessionStatusPending || sess.Status == models.SessionStatusScanning {
		// No reporter survives a restart; fall back to the stored status.
		resp = progressResponse{Percent: 0, State: progress.StateRunning}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) reviewAudit(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.store.GetSession(r.Context(), id); err != nil {
		writeEngineError(w, err)
		return
	}
	entries, err := s.store.ListAuditEntries(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// --- Issues ---

func (s *Server) listReviewIssues(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.store.GetSession(r.Context(), id); err != nil {
		writeEngineError(w, err)
		return
	}
	severity := models.Severity(r.URL.Query().Get("severity"))
	if severity != "" && !severity.Valid() {
		writeError(w, http.StatusBadRequest, "unknown severity: "+string(severity))
		return
	}
	category := r.URL.Query().Get("category")

	issues, err := s.catalog.List(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	// Query params narrow one response without touching the session's
	// persisted filter.
	if severity != "" || category != "" {
		filtered := issues[:0]
		for _, issue := range issues {
			if severity != "" && issue.Severity != severity {
				continue
			}
			if category != "" && issue.Category != category {
				continue
			}
			filtered = append(filtered, issue)
		}
		issues = filtered
	}
	writeJSON(w, http.StatusOK, issues)
}

func (s *Server) reviewIssueCounts(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.store.GetSession(r.Context(), id); err != nil {
		writeEngineError(w, err)
		return
	}
	counts, err := s.catalog.Counts(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

type filterRequest struct {
	Kind    store.FilterKind `json:"kind"`
	Value   string           `json:"value"`
	Enabled bool             `json:"enabled"`
}

func (s *Server) setReviewFilter(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.store.GetSession(r.Context(), id); err != nil {
		writeEngineError(w, err)
		return
	}
	var req filterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	var err error
	switch req.Kind {
	case store.FilterKindCategory:
		err = s.catalog.ToggleCategory(r.Context(), id, req.Value, req.Enabled)
	case store.FilterKindSeverity:
		err = s.catalog.ToggleSeverity(r.Context(), id, models.Severity(req.Value), req.Enabled)
	default:
		writeError(w, http.StatusBadRequest, "kind must be category or severity")
		return
	}
	if err != nil {
		writeEngineError(w, err)
		return
	}
	counts, err := s.catalog.Counts(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

func (s *Server) reviewSpans(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, err := s.store.GetSession(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	doc, err := s.store.GetDocument(r.Context(), sess.DocumentRef)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	issues, err := s.catalog.List(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, spans.MapIssues(doc.Text, issues))
}

// --- Fixes ---

type applyFixRequest struct {
	AppliedText string           `json:"applied_text"`
	Origin      models.FixOrigin `json:"origin"`
}

func (s *Server) applyFix(w http.ResponseWriter, r *http.Request) {
	issueID := r.PathValue("id")
	var req applyFixRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	issue, err := s.store.GetIssue(r.Context(), issueID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	origin := req.Origin
	if origin == "" {
		origin = models.FixOriginManual
	}
	rec, err := s.ledger.ApplyFix(r.Context(), issue.SessionID, issueID, req.AppliedText, origin)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

type bulkFixRequest struct {
	IssueIDs []string `json:"issue_ids"`
}

func (s *Server) bulkFix(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req bulkFixRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	result, err := s.ledger.ApplyBulkFix(r.Context(), id, req.IssueIDs)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// --- Scores ---

func (s *Server) getScore(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.store.GetSession(r.Context(), id); err != nil {
		writeEngineError(w, err)
		return
	}
	snap, err := s.store.LatestScoreSnapshot(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) recomputeScore(w http.ResponseWriter, r *http.Request) {
	snap, err := s.ledger.RecomputeScore(r.Context(), r.PathValue("id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}
