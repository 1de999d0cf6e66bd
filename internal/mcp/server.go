package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/tlarkin/revu/internal/catalog"
	"github.com/tlarkin/revu/internal/engine"
	"github.com/tlarkin/revu/internal/models"
	"github.com/tlarkin/revu/internal/store"
)

// Server wraps the review engine and exposes it as MCP tools.
type Server struct {
	store   store.Store
	manager *engine.Manager
	ledger  *engine.Ledger
	catalog *catalog.Catalog
}

// NewServer creates the MCP server wrapper.
func NewServer(s store.Store, m *engine.Manager) *Server {
	return &Server{
		store:   s,
		manager: m,
		ledger:  m.Ledger(),
		catalog: catalog.New(s),
	}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("revu", "1.0.0", server.WithToolCapabilities(true))

	srv.AddTool(s.startReviewTool())
	srv.AddTool(s.activeReviewTool())
	srv.AddTool(s.listIssuesTool())
	srv.AddTool(s.applyFixTool())
	srv.AddTool(s.bulkFixTool())
	srv.AddTool(s.scoreTool())
	srv.AddTool(s.archiveTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := s.MCPServer()
	stdioServer := server.NewStdioServer(srv)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// ---------------------------------------------------------------------------
// Tool definitions and handlers
// ---------------------------------------------------------------------------

// revu_start_review
func (s *Server) startReviewTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("revu_start_review",
		mcp.WithDescription("Start a review session for an uploaded document. Fails with a conflict if the owner already has an active session for the service; use replace=true to archive it and start fresh."),
		mcp.WithString("owner_id", mcp.Required(), mcp.Description("Owner of the document")),
		mcp.WithString("service", mcp.Required(), mcp.Description("Review service: cv-review or cover-letter")),
		mcp.WithString("document_ref", mcp.Required(), mcp.Description("Reference of a previously uploaded document")),
		mcp.WithBoolean("replace", mcp.Description("Archive any active session for this slot before starting")),
	)
	return tool, s.handleStartReview
}

func (s *Server) handleStartReview(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ownerID, err := request.RequireString("owner_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: owner_id"), nil
	}
	service, err := request.RequireString("service")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: service"), nil
	}
	documentRef, err := request.RequireString("document_ref")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: document_ref"), nil
	}

	var sess *models.ReviewSession
	if request.GetBool("replace", false) {
		sess, err = s.manager.Replace(ctx, ownerID, models.Service(service), documentRef)
	} else {
		sess, err = s.manager.StartReview(ctx, ownerID, models.Service(service), documentRef)
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to start review: %v", err)), nil
	}
	return jsonResult(sess)
}

// revu_active_review
func (s *Server) activeReviewTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("revu_active_review",
		mcp.WithDescription("Get the active review session for an owner and service, including its latest score and issue counts."),
		mcp.WithString("owner_id", mcp.Required(), mcp.Description("Owner of the document")),
		mcp.WithString("service", mcp.Required(), mcp.Description("Review service: cv-review or cover-letter")),
	)
	return tool, s.handleActiveReview
}

func (s *Server) handleActiveReview(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ownerID, err := request.RequireString("owner_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: owner_id"), nil
	}
	service, err := request.RequireString("service")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: service"), nil
	}

	sess, err := s.manager.GetActive(ctx, ownerID, models.Service(service))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("no active session: %v", err)), nil
	}

	result := map[string]any{
		"session": sess,
	}
	if snap, err := s.store.LatestScoreSnapshot(ctx, sess.ID); err == nil {
		result["score"] = snap
	}
	if counts, err := s.catalog.Counts(ctx, sess.ID); err == nil {
		result["counts"] = counts
	}
	return jsonResult(result)
}

// revu_list_issues
func (s *Server) listIssuesTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("revu_list_issues",
		mcp.WithDescription("List the issues found in a review session, ordered by severity (critical, important, consider, polish). Each issue has category, location_hint, current_text, suggested_fix, and fix_difficulty. Session-level visibility filters are applied."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Review session id")),
		mcp.WithString("severity", mcp.Description("Only return issues of this severity")),
	)
	return tool, s.handleListIssues
}

func (s *Server) handleListIssues(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: session_id"), nil
	}

	issues, err := s.catalog.List(ctx, sessionID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list issues: %v", err)), nil
	}

	if sev := request.GetString("severity", ""); sev != "" {
		filtered := issues[:0]
		for _, issue := range issues {
			if issue.Severity == models.Severity(sev) {
				filtered = append(filtered, issue)
			}
		}
		issues = filtered
	}
	return jsonResult(issues)
}

// revu_apply_fix
func (s *Server) applyFixTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("revu_apply_fix",
		mcp.WithDescription("Record that a fix was applied to an issue, then recompute the session score. Applying the same text to the same issue twice is a no-op that returns the original record."),
		mcp.WithString("issue_id", mcp.Required(), mcp.Description("Issue id")),
		mcp.WithString("applied_text", mcp.Required(), mcp.Description("The replacement text the user applied")),
	)
	return tool, s.handleApplyFix
}

func (s *Server) handleApplyFix(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	issueID, err := request.RequireString("issue_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: issue_id"), nil
	}
	appliedText, err := request.RequireString("applied_text")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: applied_text"), nil
	}

	issue, err := s.store.GetIssue(ctx, issueID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("issue not found: %s", issueID)), nil
	}
	rec, err := s.ledger.ApplyFix(ctx, issue.SessionID, issueID, appliedText, models.FixOriginManual)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to apply fix: %v", err)), nil
	}
	return jsonResult(rec)
}

// revu_bulk_fix
func (s *Server) bulkFixTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("revu_bulk_fix",
		mcp.WithDescription("Apply the suggested fixes for several issues at once. Issues without a suggested fix are skipped and reported; the score is recomputed once for the whole batch."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Review session id")),
		mcp.WithArray("issue_ids", mcp.Required(), mcp.Description("Issue ids to fix")),
	)
	return tool, s.handleBulkFix
}

func (s *Server) handleBulkFix(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: session_id"), nil
	}
	raw := request.GetStringSlice("issue_ids", nil)
	if len(raw) == 0 {
		return mcp.NewToolResultError("missing required parameter: issue_ids"), nil
	}

	result, err := s.ledger.ApplyBulkFix(ctx, sessionID, raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to bulk-fix: %v", err)), nil
	}
	return jsonResult(result)
}

// revu_score
func (s *Server) scoreTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("revu_score",
		mcp.WithDescription("Get the latest score snapshot for a review session, or recompute it. Scores never decrease within a session."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Review session id")),
		mcp.WithBoolean("recompute", mcp.Description("Recompute the score instead of returning the latest snapshot")),
	)
	return tool, s.handleScore
}

func (s *Server) handleScore(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: session_id"), nil
	}

	if request.GetBool("recompute", false) {
		snap, err := s.ledger.RecomputeScore(ctx, sessionID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to recompute score: %v", err)), nil
		}
		return jsonResult(snap)
	}

	snap, err := s.store.LatestScoreSnapshot(ctx, sessionID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("no score yet: %v", err)), nil
	}
	return jsonResult(snap)
}

// revu_archive
func (s *Server) archiveTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("revu_archive",
		mcp.WithDescription("Archive a review session, freeing its owner/service slot. Archiving an already-archived session is a no-op."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Review session id")),
	)
	return tool, s.handleArchive
}

func (s *Server) handleArchive(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: session_id"), nil
	}
	if err := s.manager.Archive(ctx, sessionID); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to archive: %v", err)), nil
	}
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to load session: %v", err)), nil
	}
	return jsonResult(sess)
}
