// Package mcpserver exposes the document index as MCP tools so other agents
// can search the same passages the bot answers from.
package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/uDoug/ChatBot/internal/corpus"
)

type Corpus interface {
	Retrieve(ctx context.Context, query string) ([]corpus.Chunk, error)
	Status() corpus.Status
}

type SearchParams struct {
	Query string `json:"query" mcp:"question or keywords to look up in the legal documents"`
}

type StatusParams struct{}

type Tools struct {
	corpus Corpus
	logger *slog.Logger
}

func NewTools(c Corpus, logger *slog.Logger) *Tools {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tools{corpus: c, logger: logger}
}

// NewServer registers the tools on a fresh MCP server.
func NewServer(t *Tools, version string) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "themis-corpus",
		Version: version,
	}, nil)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "themis_search",
		Description: "Returns the passages of the legal document corpus most relevant to a query",
	}, t.Search)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "themis_status",
		Description: "Reports whether the document index is loaded and how many passages it holds",
	}, t.Status)
	return server
}

func (t *Tools) Search(ctx context.Context, _ *mcp.ServerSession, params *mcp.CallToolParamsFor[SearchParams]) (*mcp.CallToolResultFor[any], error) {
	query := strings.TrimSpace(params.Arguments.Query)
	if query == "" {
		return errorResult("query must not be empty"), nil
	}
	t.logger.Info("mcp search", "chars", len(query))

	chunks, err := t.corpus.Retrieve(ctx, query)
	if errors.Is(err, corpus.ErrNoDocuments) {
		return textResult("No documents are indexed."), nil
	}
	if err != nil {
		t.logger.Error("mcp search failed", "error", err)
		return errorResult(fmt.Sprintf("search failed: %v", err)), nil
	}

	var b strings.Builder
	for i, ch := range chunks {
		fmt.Fprintf(&b, "[%d] %s", i+1, ch.Source)
		if ch.Page > 0 {
			fmt.Fprintf(&b, ", página %d", ch.Page)
		}
		fmt.Fprintf(&b, "\n%s\n\n", ch.Content)
	}
	return textResult(strings.TrimSpace(b.String())), nil
}

func (t *Tools) Status(_ context.Context, _ *mcp.ServerSession, _ *mcp.CallToolParamsFor[StatusParams]) (*mcp.CallToolResultFor[any], error) {
	st := t.corpus.Status()
	if !st.Ready {
		return textResult("index not loaded"), nil
	}
	return textResult(fmt.Sprintf("index ready: %d passages", st.Chunks)), nil
}

func textResult(text string) *mcp.CallToolResultFor[any] {
	return &mcp.CallToolResultFor[any]{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

func errorResult(text string) *mcp.CallToolResultFor[any] {
	return &mcp.CallToolResultFor[any]{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}
