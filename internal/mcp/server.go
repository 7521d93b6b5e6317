// Package mcp exposes the query pipeline to AI clients over the Model
// Context Protocol: ask a question against an indexed codebase, or list
// what is available to ask about.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/askrepo/askrepo/internal/agent"
	"github.com/askrepo/askrepo/internal/session"
	"github.com/askrepo/askrepo/internal/store"
)

const serverName = "askrepo"

// Server bridges MCP clients with the query pipeline and codebase store.
type Server struct {
	mcp       *mcp.Server
	pipeline  *agent.Pipeline
	codebases *store.CodebaseStore
	logger    *slog.Logger
}

// AskInput is the input schema for the ask_codebase tool.
type AskInput struct {
	CodebaseID string `json:"codebase_id" jsonschema:"id of the codebase to query"`
	Query      string `json:"query" jsonschema:"the question to answer from the code"`
	SessionID  string `json:"session_id,omitempty" jsonschema:"conversation session id for follow-up questions"`
}

// AskOutput is the output schema for the ask_codebase tool.
type AskOutput struct {
	Answer       string             `json:"answer" jsonschema:"the generated answer"`
	Sources      []session.Citation `json:"sources,omitempty" jsonschema:"code locations the answer cites"`
	QualityScore float64            `json:"quality_score" jsonschema:"validation score between 0 and 1"`
	SessionID    string             `json:"session_id,omitempty" jsonschema:"session id to pass back for follow-ups"`
}

// ListInput is the input schema for the list_codebases tool.
type ListInput struct {
	Page  int `json:"page,omitempty" jsonschema:"page number, 1-based"`
	Limit int `json:"limit,omitempty" jsonschema:"page size, default 20"`
}

// CodebaseSummary is one entry of the list_codebases output.
type CodebaseSummary struct {
	ID              string `json:"id" jsonschema:"codebase id"`
	Name            string `json:"name" jsonschema:"display name"`
	Status          string `json:"status" jsonschema:"ingestion status: queued, processing, completed, failed"`
	PrimaryLanguage string `json:"primary_language,omitempty" jsonschema:"dominant language of the indexed code"`
	ChunksCreated   int    `json:"chunks_created" jsonschema:"number of indexed chunks"`
}

// ListOutput is the output schema for the list_codebases tool.
type ListOutput struct {
	Codebases []CodebaseSummary `json:"codebases" jsonschema:"available codebases"`
	Total     int               `json:"total" jsonschema:"total number of codebases"`
}

// NewServer creates the MCP server and registers its tools.
func NewServer(pipeline *agent.Pipeline, codebases *store.CodebaseStore, version string, logger *slog.Logger) (*Server, error) {
	if pipeline == nil {
		return nil, errors.New("query pipeline is required")
	}
	if codebases == nil {
		return nil, errors.New("codebase store is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		pipeline:  pipeline,
		codebases: codebases,
		logger:    logger,
	}
	s.mcp = mcp.NewServer(
		&mcp.Implementation{Name: serverName, Version: version},
		nil,
	)
	s.registerTools()
	return s, nil
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "ask_codebase",
		Description: "Ask a question about an indexed codebase. Answers are grounded in retrieved code and come with file/line citations plus a quality score. Pass the returned session_id to keep conversational context across questions.",
	}, s.handleAsk)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "list_codebases",
		Description: "List the codebases available for questioning, with their ingestion status. Only codebases with status completed have a fully populated index.",
	}, s.handleList)
}

func (s *Server) handleAsk(ctx context.Context, req *mcp.CallToolRequest, input AskInput) (
	*mcp.CallToolResult,
	AskOutput,
	error,
) {
	if input.CodebaseID == "" {
		return nil, AskOutput{}, fmt.Errorf("codebase_id parameter is required")
	}
	if input.Query == "" {
		return nil, AskOutput{}, fmt.Errorf("query parameter is required")
	}
	if _, err := s.codebases.Get(ctx, input.CodebaseID); err != nil {
		return nil, AskOutput{}, fmt.Errorf("codebase %s not found", input.CodebaseID)
	}

	state, err := s.pipeline.Run(ctx, agent.Request{
		CodebaseID: input.CodebaseID,
		Query:      input.Query,
		SessionID:  input.SessionID,
	}, nil)
	if err != nil {
		var perr *agent.PipelineError
		if errors.As(err, &perr) {
			return nil, AskOutput{}, fmt.Errorf("%s %s", perr.Message, perr.Suggestion)
		}
		return nil, AskOutput{}, err
	}

	output := AskOutput{
		Answer:    state.Response,
		Sources:   state.Sources,
		SessionID: input.SessionID,
	}
	if state.Validation != nil {
		output.QualityScore = state.Validation.OverallQualityScore
	}
	return nil, output, nil
}

func (s *Server) handleList(ctx context.Context, req *mcp.CallToolRequest, input ListInput) (
	*mcp.CallToolResult,
	ListOutput,
	error,
) {
	page := input.Page
	if page < 1 {
		page = 1
	}
	limit := input.Limit
	if limit < 1 {
		limit = 20
	}

	codebases, total, err := s.codebases.List(ctx, page, limit)
	if err != nil {
		return nil, ListOutput{}, err
	}

	output := ListOutput{
		Codebases: make([]CodebaseSummary, 0, len(codebases)),
		Total:     total,
	}
	for _, cb := range codebases {
		output.Codebases = append(output.Codebases, CodebaseSummary{
			ID:              cb.ID,
			Name:            cb.Name,
			Status:          string(cb.Status),
			PrimaryLanguage: cb.PrimaryLanguage,
			ChunksCreated:   cb.ChunksCreated,
		})
	}
	return nil, output, nil
}

// Serve runs the server over stdio until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("mcp_server_starting", slog.String("transport", "stdio"))
	err := s.mcp.Run(ctx, &mcp.StdioTransport{})
	if err != nil && err != context.Canceled {
		s.logger.Error("mcp_server_stopped", slog.String("error", err.Error()))
		return err
	}
	s.logger.Info("mcp_server_stopped")
	return nil
}

// MCPServer returns the underlying SDK server.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}
