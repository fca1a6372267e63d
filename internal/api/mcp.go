package api

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/blogpilot/internal/pipeline"
	"github.com/kalambet/blogpilot/internal/schedule"
	"github.com/kalambet/blogpilot/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store       *storage.Store
	Pipeline    PipelineRunner
	Replenisher Replenisher
	Schedule    *schedule.Manager
}

// NewMCPServer creates an MCP server exposing the pipeline and queue as tools.
func NewMCPServer(deps MCPDeps, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"blogpilot",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("blogpilot drafts, reviews and publishes blog posts from a topic queue."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("run_pipeline",
			mcp.WithDescription("Process the oldest pending topic: draft, revise, illustrate and publish or hold it."),
		),
		mcpRunPipeline(deps),
	)

	s.AddTool(
		mcp.NewTool("add_topic",
			mcp.WithDescription("Add a topic to the end of the queue."),
			mcp.WithString("topic", mcp.Description("Post topic"), mcp.Required()),
			mcp.WithString("focus_keyphrase", mcp.Description("SEO focus keyphrase; defaults to the topic")),
			mcp.WithArray("keywords", mcp.Description("Supporting keywords")),
		),
		mcpAddTopic(deps),
	)

	s.AddTool(
		mcp.NewTool("queue_status",
			mcp.WithDescription("Count queue items by status."),
		),
		mcpQueueStatus(deps),
	)

	s.AddTool(
		mcp.NewTool("recent_logs",
			mcp.WithDescription("List recent pipeline outcomes, newest first."),
			mcp.WithNumber("limit", mcp.Description("Maximum number of entries (default 10, max 200)")),
		),
		mcpRecentLogs(deps),
	)

	s.AddTool(
		mcp.NewTool("replenish",
			mcp.WithDescription("Top the queue up with suggested topics if it is running low."),
		),
		mcpReplenish(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"blogpilot://schedule",
			"Run Schedule",
			mcp.WithResourceDescription("Current schedule settings as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceSchedule(deps),
	)

	return s
}

func mcpRunPipeline(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		res := deps.Pipeline.RunTriggered(ctx)
		b, err := json.Marshal(res)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
		}
		if res.Status == pipeline.StatusError {
			return mcpError(string(b)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpAddTopic(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		topic, err := req.RequireString("topic")
		if err != nil || strings.TrimSpace(topic) == "" {
			return mcpError("topic is required"), nil
		}

		item, err := deps.Store.AddQueueItem(ctx, storage.QueueItem{
			Topic:          strings.TrimSpace(topic),
			FocusKeyphrase: strings.TrimSpace(req.GetString("focus_keyphrase", "")),
			Keywords:       req.GetStringSlice("keywords", nil),
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to add topic: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Queued topic %s", item.ID)), nil
	}
}

var reportedStatuses = []storage.QueueStatus{
	storage.StatusPending,
	storage.StatusInProgress,
	storage.StatusPublished,
	storage.StatusHeld,
	storage.StatusDiscarded,
}

func mcpQueueStatus(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		counts := make(map[storage.QueueStatus]int, len(reportedStatuses))
		for _, st := range reportedStatuses {
			n, err := deps.Store.CountByStatus(ctx, st)
			if err != nil {
				return mcpError(fmt.Sprintf("failed to count %s: %v", st, err)), nil
			}
			counts[st] = n
		}
		b, err := json.Marshal(counts)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal counts: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpRecentLogs(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := req.GetInt("limit", 10)
		if limit <= 0 {
			limit = 10
		}
		if limit > maxLogLimit {
			limit = maxLogLimit
		}

		logs, err := deps.Store.ListLogs(ctx, storage.LogFilter{Limit: limit})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list logs: %v", err)), nil
		}
		if len(logs) == 0 {
			return mcpText("[]"), nil
		}
		b, err := json.Marshal(logs)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal logs: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpReplenish(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		res, err := deps.Replenisher.Run(ctx)
		if err != nil {
			return mcpError(fmt.Sprintf("replenish failed: %v", err)), nil
		}
		if res.Added == 0 {
			return mcpText(fmt.Sprintf("Queue has %d pending topics; nothing added", res.Pending)), nil
		}
		return mcpText(fmt.Sprintf("Added %d topics (had %d pending)", res.Added, res.Pending)), nil
	}
}

func mcpResourceSchedule(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		s, err := deps.Schedule.Load(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load schedule: %w", err)
		}

		b, err := json.Marshal(s)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal schedule: %w", err)
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
