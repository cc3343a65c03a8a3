package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/uDoug/ChatBot/internal/app"
	"github.com/uDoug/ChatBot/internal/config"
	"github.com/uDoug/ChatBot/internal/corpus"
	"github.com/uDoug/ChatBot/internal/llm"
	"github.com/uDoug/ChatBot/internal/mcpserver"
)

const version = "1.0.0"

// Stdout carries the MCP protocol, so logs go to stderr.
func main() {
	_ = godotenv.Load(".env")

	cfg, err := config.Parse()
	if err != nil {
		fatal("failed to parse config", err)
	}
	logger := app.SetupLogging(os.Stderr, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	embedder, err := llm.NewFactory(cfg).CreateEmbedder(cfg.EmbeddingModel)
	if err != nil {
		fatal("failed to create embedder", err)
	}
	bucket, _, err := app.OpenBucket(ctx, cfg)
	if err != nil {
		fatal("failed to open bucket", err)
	}
	store, err := app.OpenCorpusStore(cfg)
	if err != nil {
		fatal("failed to open corpus store", err)
	}
	defer store.Close()

	mgr := corpus.NewManager(app.NewBuilder(cfg, store, embedder, logger), app.NewSource(cfg, bucket, logger), logger)
	server := mcpserver.NewServer(mcpserver.NewTools(mgr, logger), version)

	slog.Info("themis MCP server starting on stdin/stdout")
	if err := server.Run(ctx, mcp.NewStdioTransport()); err != nil && ctx.Err() == nil {
		fatal("MCP server failed", err)
	}
}

func fatal(msg string, err error) {
	slog.Error(msg, "error", err)
	os.Exit(1)
}
