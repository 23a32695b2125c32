package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hyperjump/shiori/internal/errs"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"
)

// QueryArgument is the input of query_class_notes.
type QueryArgument struct {
	Query string `json:"query" jsonschema:"Question to answer from the class notes"`
}

// QueryHandler answers a question from the notes.
type QueryHandler struct {
	answers Answerer
	logger  *zap.Logger
}

// NewQueryHandler creates a query handler.
func NewQueryHandler(answers Answerer, logger *zap.Logger) *QueryHandler {
	return &QueryHandler{answers: answers, logger: logger}
}

// Handle answers args.Query. Failures come back as tool errors with a readable
// message rather than protocol errors.
func (h *QueryHandler) Handle(ctx context.Context, req *mcp.CallToolRequest, args QueryArgument) (*mcp.CallToolResult, any, error) {
	if strings.TrimSpace(args.Query) == "" {
		return toolError("Query cannot be empty"), nil, nil
	}
	answer, err := h.answers.Answer(ctx, args.Query)
	if err != nil {
		h.logger.Warn("query_class_notes failed", zap.Error(err))
		return toolError(describe(err)), nil, nil
	}

	var sb strings.Builder
	sb.WriteString(answer.Answer)
	if len(answer.Sources) > 0 {
		sb.WriteString("\n\nSources:\n")
		for _, src := range answer.Sources {
			fmt.Fprintf(&sb, "- %s\n", src)
		}
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: strings.TrimRight(sb.String(), "\n")}},
	}, nil, nil
}

// GetToolDefinition returns the tool definition.
func (h *QueryHandler) GetToolDefinition() *mcp.Tool {
	return &mcp.Tool{
		Name:        "query_class_notes",
		Description: "Answer a question using the indexed class notes, citing the source files",
	}
}

// RegisterQueryTool registers query_class_notes with an MCP server.
func RegisterQueryTool(server *mcp.Server, handler *QueryHandler) {
	mcp.AddTool(server, handler.GetToolDefinition(), handler.Handle)
}

// RebuildArgument is the (empty) input of rebuild_index.
type RebuildArgument struct{}

// RebuildHandler rebuilds the index from the corpus.
type RebuildHandler struct {
	index  IndexService
	logger *zap.Logger
}

// NewRebuildHandler creates a rebuild handler.
func NewRebuildHandler(index IndexService, logger *zap.Logger) *RebuildHandler {
	return &RebuildHandler{index: index, logger: logger}
}

// Handle runs a full build and reports its summary.
func (h *RebuildHandler) Handle(ctx context.Context, req *mcp.CallToolRequest, _ RebuildArgument) (*mcp.CallToolResult, any, error) {
	report, err := h.index.Build(ctx)
	if err != nil {
		h.logger.Warn("rebuild_index failed", zap.Error(err))
		return toolError(describe(err)), nil, nil
	}
	text := fmt.Sprintf("Rebuilt index: %d documents, %d chunks embedded, %d failed, took %s.",
		report.Indexed, report.Embedded, len(report.Failed), report.Duration.Round(time.Millisecond))
	for _, f := range report.Failed {
		text += fmt.Sprintf("\n- skipped %s: %s", f.Path, f.Error)
	}
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}, nil, nil
}

// GetToolDefinition returns the tool definition.
func (h *RebuildHandler) GetToolDefinition() *mcp.Tool {
	return &mcp.Tool{
		Name:        "rebuild_index",
		Description: "Re-read every document in the notes directory and rebuild the search index",
	}
}

// RegisterRebuildTool registers rebuild_index with an MCP server.
func RegisterRebuildTool(server *mcp.Server, handler *RebuildHandler) {
	mcp.AddTool(server, handler.GetToolDefinition(), handler.Handle)
}

// StatusArgument is the (empty) input of index_status.
type StatusArgument struct{}

// StatusHandler reports the index state.
type StatusHandler struct {
	index IndexService
}

// NewStatusHandler creates a status handler.
func NewStatusHandler(index IndexService) *StatusHandler {
	return &StatusHandler{index: index}
}

// Handle returns the status as indented JSON.
func (h *StatusHandler) Handle(ctx context.Context, req *mcp.CallToolRequest, _ StatusArgument) (*mcp.CallToolResult, any, error) {
	data, err := json.MarshalIndent(h.index.Status(), "", "  ")
	if err != nil {
		return toolError(err.Error()), nil, nil
	}
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: string(data)}}}, nil, nil
}

// GetToolDefinition returns the tool definition.
func (h *StatusHandler) GetToolDefinition() *mcp.Tool {
	return &mcp.Tool{
		Name:        "index_status",
		Description: "Report whether the notes index is ready and how many documents and chunks it holds",
	}
}

// RegisterStatusTool registers index_status with an MCP server.
func RegisterStatusTool(server *mcp.Server, handler *StatusHandler) {
	mcp.AddTool(server, handler.GetToolDefinition(), handler.Handle)
}

func toolError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: msg}},
		IsError: true,
	}
}

// describe turns engine errors into messages for the model on the other end.
func describe(err error) string {
	switch {
	case errors.Is(err, errs.ErrIndexNotReady):
		return "The notes index is not ready yet. Try again after it has been built."
	case errors.Is(err, errs.ErrEmptyCorpus):
		return "The notes directory has no indexable documents."
	case errors.Is(err, errs.ErrProviderTimeout):
		return fmt.Sprintf("The model provider timed out: %s", err)
	case errors.Is(err, errs.ErrProvider):
		return fmt.Sprintf("The model provider rejected the request: %s", err)
	case errors.Is(err, errs.ErrInvalidInput):
		return fmt.Sprintf("Invalid query: %s", err)
	default:
		return fmt.Sprintf("Query failed: %s", err)
	}
}
