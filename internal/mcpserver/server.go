// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes Duetology tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/duetology/internal/aggregate"
	"github.com/starford/duetology/internal/apperr"
	"github.com/starford/duetology/internal/models"
	"github.com/starford/duetology/internal/service"
)

const rulesURI = "duetology://submission-rules"

// Server wraps the MCP server with Duetology tools.
type Server struct {
	mcp *server.MCPServer
	svc *service.Service
}

// New creates a new MCP server with all Duetology tools registered.
func New(svc *service.Service) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"Duetology",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_records",
		mcp.WithDescription("List teacher ratings or confessions, newest first, with optional filters."),
		mcp.WithString("collection", mcp.Required(),
			mcp.Enum(models.CollectionRatings, models.CollectionConfessions),
			mcp.Description("Collection to list")),
		mcp.WithString("category", mcp.Description("Department (ratings) or category (confessions); empty or 'all' for every one")),
		mcp.WithString("search", mcp.Description("Case-insensitive substring of the teacher name")),
		mcp.WithNumber("min_score", mcp.Description("Only ratings with at least this many stars")),
	), s.listRecords)

	s.mcp.AddTool(mcp.NewTool("summarize_ratings",
		mcp.WithDescription("Per-teacher rating summaries (count and average stars), best first."),
		mcp.WithString("department", mcp.Description("Only this department")),
		mcp.WithString("search", mcp.Description("Case-insensitive substring of the teacher name")),
		mcp.WithNumber("min_stars", mcp.Description("Only count ratings with at least this many stars")),
	), s.summarizeRatings)

	s.mcp.AddTool(mcp.NewTool("get_record",
		mcp.WithDescription("Read a single rating or confession by id."),
		mcp.WithString("collection", mcp.Required(),
			mcp.Enum(models.CollectionRatings, models.CollectionConfessions)),
		mcp.WithString("id", mcp.Required(), mcp.Description("Record id")),
	), s.getRecord)

	s.mcp.AddTool(mcp.NewTool("submit_rating",
		mcp.WithDescription("Submit an anonymous teacher rating. Read the submission rules first via "+
			"the get_submission_rules tool or the "+rulesURI+" resource."),
		mcp.WithString("teacherName", mcp.Required()),
		mcp.WithString("department", mcp.Required()),
		mcp.WithNumber("stars", mcp.Required(), mcp.Min(models.MinScore), mcp.Max(models.MaxScore)),
		mcp.WithString("review", mcp.Required()),
	), s.submitRating)

	s.mcp.AddTool(mcp.NewTool("submit_confession",
		mcp.WithDescription("Submit an anonymous confession."),
		mcp.WithString("text", mcp.Required()),
		mcp.WithString("category", mcp.Enum(models.ConfessionCategories...),
			mcp.Description("Defaults to "+models.DefaultConfessionCategory)),
	), s.submitConfession)

	s.mcp.AddTool(mcp.NewTool("get_submission_rules",
		mcp.WithDescription("Returns the field rules for ratings and confessions."),
	), s.getSubmissionRules)

	s.mcp.AddResource(
		mcp.NewResource(rulesURI, "Submission Rules",
			mcp.WithResourceDescription("Field rules every rating and confession must follow."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readRulesResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) listRecords(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	collection, err := req.RequireString("collection")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	snap, err := s.svc.List(ctx, collection, aggregate.Criteria{
		Category: req.GetString("category", ""),
		Search:   req.GetString("search", ""),
		MinScore: req.GetInt("min_score", 0),
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(snap.Records)
}

func (s *Server) summarizeRatings(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sums, err := s.svc.Summaries(ctx, aggregate.Criteria{
		Category: req.GetString("department", ""),
		Search:   req.GetString("search", ""),
		MinScore: req.GetInt("min_stars", 0),
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(sums) == 0 {
		return mcp.NewToolResultText("no ratings found"), nil
	}
	type row struct {
		Teacher    string  `json:"teacherName"`
		Department string  `json:"department"`
		Ratings    int     `json:"ratings"`
		Average    float64 `json:"averageStars"`
	}
	rows := make([]row, len(sums))
	for i, sm := range sums {
		rows[i] = row{Teacher: sm.SubjectName, Department: sm.SubjectCategory, Ratings: sm.Count, Average: sm.Rounded()}
	}
	return jsonResult(rows)
}

func (s *Server) getRecord(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	collection, err := req.RequireString("collection")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rec, err := s.svc.Get(ctx, collection, id)
	if errors.Is(err, apperr.ErrNotFound) {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", id)), nil
	}
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(rec)
}

func (s *Server) submitRating(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("teacherName")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	dept, err := req.RequireString("department")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	stars, err := req.RequireInt("stars")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	review, err := req.RequireString("review")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	rec, err := s.svc.Submit(ctx, models.CollectionRatings, models.Record{
		SubjectName:     name,
		SubjectCategory: dept,
		Score:           models.Score(stars),
		Text:            review,
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("created: %s", rec.ID)), nil
}

func (s *Server) submitConfession(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := req.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rec, err := s.svc.Submit(ctx, models.CollectionConfessions, models.Record{
		SubjectCategory: req.GetString("category", ""),
		Text:            text,
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("created: %s", rec.ID)), nil
}

func (s *Server) getSubmissionRules(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(SubmissionRules), nil
}

func (s *Server) readRulesResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      rulesURI,
			MIMEType: "text/markdown",
			Text:     SubmissionRules,
		},
	}, nil
}
