package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/sunday/internal/chat"
	"github.com/kalambet/sunday/internal/storage"
	"github.com/kalambet/sunday/internal/turn"
)

const recentThreads = 10

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store    *storage.Store
	Registry *turn.Registry
	AI       func() chat.AIConfig
	// UserID is the user every MCP call acts as.
	UserID string
}

// NewMCPServer creates an MCP server with the thread tools and resources registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"sunday",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("sunday: ask questions in persistent threads, with answers grounded in your Gmail inbox when linked."),
		server.WithRecovery(),
	)

	// Tools
	s.AddTool(
		mcp.NewTool("ask",
			mcp.WithDescription("Ask a question in a thread and return the full answer. Omit thread_id to start a new thread."),
			mcp.WithString("question", mcp.Description("The question to ask"), mcp.Required()),
			mcp.WithString("thread_id", mcp.Description("Existing thread to continue")),
			mcp.WithString("mode", mcp.Description("Answer mode: chat (default) or image")),
			mcp.WithString("context", mcp.Description("Extra context text to ground the first answer of a thread")),
		),
		mcpAsk(deps),
	)

	s.AddTool(
		mcp.NewTool("rewrite",
			mcp.WithDescription("Regenerate the last answer of a thread."),
			mcp.WithString("thread_id", mcp.Description("Thread to rewrite"), mcp.Required()),
		),
		mcpRewrite(deps),
	)

	s.AddTool(
		mcp.NewTool("get_thread",
			mcp.WithDescription("Return a thread's questions and answers as JSON."),
			mcp.WithString("thread_id", mcp.Description("Thread ID"), mcp.Required()),
		),
		mcpGetThread(deps),
	)

	s.AddTool(
		mcp.NewTool("list_threads",
			mcp.WithDescription("List threads, most recently updated first."),
			mcp.WithNumber("limit", mcp.Description("Maximum number of threads (default 20)")),
		),
		mcpListThreads(deps),
	)

	// Resources
	s.AddResource(
		mcp.NewResource(
			"threads://recent",
			"Recent Threads",
			mcp.WithResourceDescription("Last 10 threads with their first question"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecent(deps),
	)

	return s
}

func mcpAsk(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}

		mode := chat.Mode(req.GetString("mode", string(chat.ModeChat)))
		if mode != chat.ModeChat && mode != chat.ModeImage {
			return mcpError(fmt.Sprintf("unknown mode %q", mode)), nil
		}

		threadID := req.GetString("thread_id", "")
		if threadID == "" {
			threadID = uuid.New().String()
		}

		o, err := deps.Registry.Get(ctx, deps.UserID, threadID)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to load thread: %v", err)), nil
		}
		res := o.Answer(ctx, turn.AnswerRequest{
			Question: question,
			Mode:     mode,
			Context:  req.GetString("context", ""),
			AI:       deps.AI(),
		})
		deps.Registry.Record(deps.UserID, threadID, res)
		return mcpResult(threadID, res), nil
	}
}

func mcpRewrite(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		threadID, err := req.RequireString("thread_id")
		if err != nil {
			return mcpError("thread_id is required"), nil
		}

		o, err := deps.Registry.Get(ctx, deps.UserID, threadID)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to load thread: %v", err)), nil
		}
		res := o.Rewrite(ctx, turn.RewriteRequest{AI: deps.AI()})
		deps.Registry.Record(deps.UserID, threadID, res)
		return mcpResult(threadID, res), nil
	}
}

// mcpResult renders an operation result. Cancelled answers are returned as
// text since the partial answer is kept on the thread.
func mcpResult(threadID string, res turn.Result) *mcp.CallToolResult {
	switch res.Outcome {
	case turn.OutcomeCompleted, turn.OutcomeCancelled:
		return mcpText(fmt.Sprintf("[thread %s]\n%s", threadID, res.Answer))
	case turn.OutcomeSkipped:
		return mcpError("thread has no answer to rewrite")
	default:
		msg := turn.MsgRequestFailed
		if res.Err != nil {
			msg = res.Err.Message
		}
		return mcpError(msg)
	}
}

func mcpGetThread(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		threadID, err := req.RequireString("thread_id")
		if err != nil {
			return mcpError("thread_id is required"), nil
		}

		var t chat.Thread
		if o, ok := deps.Registry.Lookup(deps.UserID, threadID); ok {
			t = o.Snapshot()
		} else {
			t, err = deps.Store.GetThread(ctx, deps.UserID, threadID)
			if errors.Is(err, storage.ErrNotFound) {
				return mcpError(fmt.Sprintf("thread %s not found", threadID)), nil
			}
			if err != nil {
				return mcpError(fmt.Sprintf("failed to get thread: %v", err)), nil
			}
		}

		b, err := json.Marshal(struct {
			ID    string      `json:"id"`
			Title string      `json:"title,omitempty"`
			Chats []chat.Turn `json:"chats"`
		}{t.ID, t.Title, t.Chats})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal thread: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpListThreads(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := req.GetInt("limit", 20)
		if limit <= 0 {
			limit = 20
		}
		if limit > 100 {
			limit = 100
		}

		threads, err := deps.Store.ListThreads(ctx, deps.UserID, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list threads: %v", err)), nil
		}
		if len(threads) == 0 {
			return mcpText("[]"), nil
		}

		b, err := json.Marshal(threads)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal threads: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceRecent(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		threads, err := deps.Store.ListThreads(ctx, deps.UserID, recentThreads)
		if err != nil {
			return nil, fmt.Errorf("failed to list threads: %w", err)
		}

		type threadSummary struct {
			ID        string `json:"id"`
			UpdatedAt string `json:"updated_at"`
			Title     string `json:"title"`
			Turns     int    `json:"turns"`
		}

		summaries := make([]threadSummary, len(threads))
		for i, t := range threads {
			title := t.Title
			if utf8.RuneCountInString(title) > 60 {
				runes := []rune(title)
				title = string(runes[:60]) + "..."
			}
			summaries[i] = threadSummary{
				ID:        t.ID,
				UpdatedAt: t.UpdatedAt.Format(time.RFC3339),
				Title:     title,
				Turns:     t.Turns,
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal threads: %w", err)
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
