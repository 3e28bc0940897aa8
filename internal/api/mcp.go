package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/herald/internal/pipeline"
	"github.com/kalambet/herald/internal/storage"
	"github.com/kalambet/herald/internal/voice"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store      *storage.Store
	Voice      *voice.Store
	Learner    *voice.Learner // optional; if nil, learn_voice returns an error
	Controller *pipeline.Controller
}

// NewMCPServer creates an MCP server with all herald tools registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"herald",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("herald: score incoming signals, draft on-voice social posts, dedup and queue them for publishing."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("run_pipeline",
			mcp.WithDescription("Trigger a full pipeline run: gather signals, score, generate, persist. Returns immediately; the run executes in the background."),
		),
		mcpRunPipeline(deps),
	)

	s.AddTool(
		mcp.NewTool("get_voice_profile",
			mcp.WithDescription("Return the current learned voice profile as JSON."),
		),
		mcpGetVoiceProfile(deps),
	)

	s.AddTool(
		mcp.NewTool("recent_content",
			mcp.WithDescription("List recently generated content drafts."),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 10)")),
		),
		mcpRecentContent(deps),
	)

	s.AddTool(
		mcp.NewTool("learn_voice",
			mcp.WithDescription("Learn a fresh voice profile from writing samples and merge it with the persisted one."),
			mcp.WithArray("posts", mcp.Description("Past published posts to learn from"), mcp.Required()),
			mcp.WithArray("docs", mcp.Description("Optional brand documents as plain text")),
		),
		mcpLearnVoice(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"herald://runs",
			"Recent Runs",
			mcp.WithResourceDescription("Last 10 pipeline runs with counts and state"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRuns(deps),
	)

	return s
}

func mcpRunPipeline(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if deps.Controller.State() != pipeline.StateIdle {
			return mcpError("a pipeline run is already in progress"), nil
		}

		go func() {
			report, err := deps.Controller.Run(context.Background())
			if err != nil && !errors.Is(err, pipeline.ErrRunInProgress) {
				slog.Error("mcp-triggered run failed", "run_id", report.RunID, "error", err)
			}
		}()

		return mcpText("pipeline run started"), nil
	}
}

func mcpGetVoiceProfile(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		p, err := deps.Voice.Load()
		if err != nil {
			return mcpError(fmt.Sprintf("failed to load profile: %v", err)), nil
		}
		if p == nil {
			def := voice.DefaultProfile()
			p = &def
		}

		b, err := json.Marshal(p)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal profile: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpRecentContent(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := req.GetInt("limit", 10)
		if limit <= 0 {
			limit = 10
		}
		if limit > 50 {
			limit = 50
		}

		records, err := deps.Store.ListContent(limit)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list content: %v", err)), nil
		}

		out := make([]contentResponse, len(records))
		for i, rec := range records {
			out[i] = toContentResponse(rec)
		}
		b, err := json.Marshal(out)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal content: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpLearnVoice(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if deps.Learner == nil {
			return mcpError("voice learning not available: no generation backend configured"), nil
		}

		posts := req.GetStringSlice("posts", nil)
		if len(posts) == 0 {
			return mcpError("posts is required"), nil
		}
		docs := req.GetStringSlice("docs", nil)

		learned, err := deps.Learner.LearnFromSamples(ctx, voice.Samples{Posts: posts, Docs: docs})
		if err != nil {
			return mcpError(fmt.Sprintf("voice learning failed: %v", err)), nil
		}

		merged := *learned
		if existing, err := deps.Voice.Load(); err == nil && existing != nil {
			merged = voice.Merge(*existing, *learned, 0.7, 0.3)
		}
		if err := deps.Voice.Save(merged); err != nil {
			return mcpError(fmt.Sprintf("learned but failed to save profile: %v", err)), nil
		}

		b, err := json.Marshal(merged)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal profile: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceRuns(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		runs, err := deps.Store.GetRecentRuns(10)
		if err != nil {
			return nil, fmt.Errorf("failed to get recent runs: %w", err)
		}

		out := make([]runResponse, len(runs))
		for i, run := range runs {
			out[i] = toRunResponse(run)
		}
		b, err := json.Marshal(out)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal runs: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
