package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"

	"github.com/joescharf/prreview/internal/models"
	"github.com/joescharf/prreview/internal/review"
	"github.com/joescharf/prreview/internal/session"
	"github.com/joescharf/prreview/internal/store"
)

// Server exposes review sessions as MCP tools.
type Server struct {
	orch            *review.Orchestrator
	defaultCriteria string
	version         string
	log             zerolog.Logger
}

// NewServer creates the MCP server wrapper. defaultCriteria is used when a
// review request carries none.
func NewServer(orch *review.Orchestrator, defaultCriteria, version string, logger zerolog.Logger) *Server {
	if version == "" {
		version = "dev"
	}
	return &Server{
		orch:            orch,
		defaultCriteria: defaultCriteria,
		version:         version,
		log:             logger,
	}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("prreview", s.version, server.WithToolCapabilities(true))

	srv.AddTool(s.listSessionsTool())
	srv.AddTool(s.getSessionTool())
	srv.AddTool(s.statisticsTool())
	srv.AddTool(s.reviewTool())
	srv.AddTool(s.replayTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := s.MCPServer()
	stdioServer := server.NewStdioServer(srv)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

func (s *Server) controller() *session.Controller { return s.orch.Controller() }

// prreview_list_sessions
func (s *Server) listSessionsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("prreview_list_sessions",
		mcp.WithDescription("List stored review sessions, newest first. Returns a JSON array of summaries with session_id, repo, pr_number, criteria, success and start_time."),
		mcp.WithNumber("limit", mcp.Description("Maximum number of sessions to return (0 for all)")),
		mcp.WithString("repo", mcp.Description("Only sessions for this repository")),
	)
	return tool, s.handleListSessions
}

func (s *Server) handleListSessions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := request.GetInt("limit", 0)
	repo := request.GetString("repo", "")

	summaries, err := s.controller().ListSessions(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list sessions: %v", err)), nil
	}

	out := make([]session.Summary, 0, len(summaries))
	for _, sum := range summaries {
		if repo != "" && sum.Repo != repo {
			continue
		}
		out = append(out, sum)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return jsonResult(out, "sessions")
}

// prreview_get_session
func (s *Server) getSessionTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("prreview_get_session",
		mcp.WithDescription("Get a review session with its reasoning steps. By default each step appears once with its final output; set all_events to include every logged event."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session ID")),
		mcp.WithBoolean("all_events", mcp.Description("Return the full step log instead of the latest event per step")),
	)
	return tool, s.handleGetSession
}

func (s *Server) handleGetSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: session_id"), nil
	}
	if err := store.ValidateID(id); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	details, err := s.controller().GetSessionDetails(ctx, id)
	if errors.Is(err, session.ErrSessionNotFound) {
		return mcp.NewToolResultError(fmt.Sprintf("session not found: %s", id)), nil
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to load session: %v", err)), nil
	}

	if request.GetBool("all_events", false) {
		return jsonResult(details, "session")
	}

	type sessionOut struct {
		Session   *models.Session        `json:"session"`
		Steps     []models.ReasoningStep `json:"steps"`
		StepCount int                    `json:"step_count"`
	}
	return jsonResult(sessionOut{
		Session:   details.Session,
		Steps:     models.LatestSteps(details.Steps),
		StepCount: details.StepCount,
	}, "session")
}

// prreview_statistics
func (s *Server) statisticsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("prreview_statistics",
		mcp.WithDescription("Aggregate statistics over all stored review sessions: counts, success rate, comment totals and criteria/repository distributions."),
	)
	return tool, s.handleStatistics
}

func (s *Server) handleStatistics(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats, err := s.controller().Statistics(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to compute statistics: %v", err)), nil
	}
	return jsonResult(stats, "statistics")
}

// prreview_review
func (s *Server) reviewTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("prreview_review",
		mcp.WithDescription("Review a pull request against criteria. The run is recorded as a new session; failures are reported in the result with success=false."),
		mcp.WithString("repo", mcp.Required(), mcp.Description("Repository in owner/name form")),
		mcp.WithNumber("pr_number", mcp.Required(), mcp.Description("Pull request number"), mcp.Min(1)),
		mcp.WithString("criteria", mcp.Description("Preset name (strict style, performance, security, correctness) or free-form criteria")),
	)
	return tool, s.handleReview
}

func (s *Server) handleReview(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	repo, err := request.RequireString("repo")
	if err != nil || repo == "" {
		return mcp.NewToolResultError("missing required parameter: repo"), nil
	}
	number, err := request.RequireInt("pr_number")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: pr_number"), nil
	}
	if number < 1 {
		return mcp.NewToolResultError(fmt.Sprintf("invalid pr_number: %d", number)), nil
	}
	criteria := request.GetString("criteria", s.defaultCriteria)

	res, err := s.orch.ReviewPullRequest(ctx, repo, number, criteria)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to record review: %v", err)), nil
	}
	return jsonResult(res, "review")
}

// prreview_replay
func (s *Server) replayTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("prreview_replay",
		mcp.WithDescription("Replay a stored session as a new session, optionally with different criteria. The original session is not modified."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session ID to replay")),
		mcp.WithString("criteria", mcp.Description("Replacement criteria; omit to reuse the original")),
	)
	return tool, s.handleReplay
}

func (s *Server) handleReplay(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: session_id"), nil
	}
	if err := store.ValidateID(id); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	res, err := s.orch.Replay(ctx, id, request.GetString("criteria", ""))
	if errors.Is(err, session.ErrSessionNotFound) {
		return mcp.NewToolResultError(fmt.Sprintf("session not found: %s", id)), nil
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to replay session: %v", err)), nil
	}
	s.log.Info().Str("original", id).Str("session_id", res.SessionID).Msg("replayed via MCP")
	return jsonResult(res, "replay")
}

func jsonResult(v any, what string) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal %s: %v", what, err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
