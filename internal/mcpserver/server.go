// Package mcpserver exposes the notes index as Model Context Protocol tools.
package mcpserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/hyperjump/shiori/internal/config"
	"github.com/hyperjump/shiori/internal/indexer"
	"github.com/hyperjump/shiori/internal/models"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"
)

// Answerer answers questions over the corpus.
type Answerer interface {
	Answer(ctx context.Context, question string) (*models.Answer, error)
}

// IndexService rebuilds and reports on the index.
type IndexService interface {
	Build(ctx context.Context) (*indexer.BuildReport, error)
	Status() indexer.Status
}

// CreateServer creates the MCP server and registers the query, rebuild and
// status tools.
func CreateServer(version string, answers Answerer, index IndexService, logger *zap.Logger) *mcp.Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := mcp.NewServer(&mcp.Implementation{
		Name:    "shiori",
		Version: version,
	}, nil)
	RegisterQueryTool(s, NewQueryHandler(answers, logger))
	RegisterRebuildTool(s, NewRebuildHandler(index, logger))
	RegisterStatusTool(s, NewStatusHandler(index))
	return s
}

// Run serves s over the configured transport until ctx is cancelled. stdio
// owns stdout, so nothing else may write there while it runs.
func Run(ctx context.Context, s *mcp.Server, cfg config.MCPConfig, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Transport {
	case "", "stdio":
		logger.Info("Starting MCP server", zap.String("transport", "stdio"))
		return s.Run(ctx, &mcp.StdioTransport{})
	case "sse":
		srv := NewSSEServer(s, cfg.Address)
		logger.Info("Starting MCP server", zap.String("transport", "sse"), zap.String("addr", srv.Addr))
		errc := make(chan error, 1)
		go func() { errc <- srv.ListenAndServe() }()
		select {
		case err := <-errc:
			return err
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		}
	default:
		return fmt.Errorf("unknown mcp transport: %s", cfg.Transport)
	}
}

// NewSSEServer serves s at /sse with a /health probe.
func NewSSEServer(s *mcp.Server, addr string) *http.Server {
	sseHandler := mcp.NewSSEHandler(func(r *http.Request) *mcp.Server {
		return s
	}, nil)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/sse", sseHandler)
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
