package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/uDoug/ChatBot/internal/analytics"
	"github.com/uDoug/ChatBot/internal/answer"
	"github.com/uDoug/ChatBot/internal/api"
	"github.com/uDoug/ChatBot/internal/app"
	"github.com/uDoug/ChatBot/internal/auth"
	"github.com/uDoug/ChatBot/internal/config"
	"github.com/uDoug/ChatBot/internal/conversation"
	"github.com/uDoug/ChatBot/internal/corpus"
	"github.com/uDoug/ChatBot/internal/events"
	"github.com/uDoug/ChatBot/internal/history"
	"github.com/uDoug/ChatBot/internal/llm"
	"github.com/uDoug/ChatBot/internal/scheduler"
	"github.com/uDoug/ChatBot/internal/storage"
	"github.com/uDoug/ChatBot/internal/telegram"
)

func main() {
	if err := godotenv.Load(".env"); err != nil {
		slog.Warn(".env file not found", "error", err)
	}

	cfg := config.New()
	logger := app.SetupLogging(os.Stdout, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Allowlist
	var allowRepo auth.Repository
	if cfg.AllowlistFilePath != "" {
		repo, err := auth.NewFileRepository(cfg.AllowlistFilePath)
		if err != nil {
			slog.Warn("failed to init allowlist repo", "error", err)
		} else {
			allowRepo = repo
		}
	}
	authSvc, err := auth.NewWithRepo(allowRepo, cfg.AllowedUsers, cfg.AllowlistEnabled, cfg.AdminUserID)
	if err != nil {
		fatal("failed to init allowlist", err)
	}
	var pendingRepo auth.Repository
	if cfg.PendingFilePath != "" {
		repo, err := auth.NewFileRepository(cfg.PendingFilePath)
		if err != nil {
			slog.Warn("failed to init pending repo", "error", err)
		} else {
			pendingRepo = repo
		}
	}

	// LLM
	factory := llm.NewFactory(cfg)
	llmClient, err := factory.CreateClient(cfg.LLMProvider, cfg.OpenAIModel)
	if err != nil {
		fatal("failed to create llm client", err)
	}
	embedder, err := factory.CreateEmbedder(cfg.EmbeddingModel)
	if err != nil {
		fatal("failed to create embedder", err)
	}
	slog.Info("llm ready", "provider", cfg.LLMProvider, "model", cfg.OpenAIModel, "embeddings", cfg.EmbeddingModel)

	// Object storage
	bucket, awsCfg, err := app.OpenBucket(ctx, cfg)
	if err != nil {
		fatal("failed to open bucket", err)
	}
	if bucket != nil {
		slog.Info("bucket connected", "bucket", bucket.Bucket())
	}

	// Corpus
	corpusStore, err := app.OpenCorpusStore(cfg)
	if err != nil {
		fatal("failed to open corpus store", err)
	}
	defer corpusStore.Close()
	builder := app.NewBuilder(cfg, corpusStore, embedder, logger)
	source := app.NewSource(cfg, bucket, logger)
	corpusMgr := corpus.NewManager(builder, source, logger)

	composer, err := answer.New(corpusMgr, llmClient,
		answer.WithPromptFiles(cfg.SystemPromptPath, cfg.HumanPromptPath),
		answer.WithHistoryWindow(cfg.HistoryMaxTurns),
		answer.WithLogger(logger),
	)
	if err != nil {
		fatal("failed to load prompts", err)
	}

	// History
	historyStore, closeHistory, err := app.OpenHistory(ctx, cfg)
	if err != nil {
		fatal("failed to open history store", err)
	}
	defer closeHistory()
	slog.Info("history store ready", "backend", cfg.HistoryBackend)

	opts := []conversation.Option{
		conversation.WithGenerationTimeout(cfg.GenerationTimeout),
		conversation.WithLogger(logger),
	}

	transcriber, err := app.NewTranscriber(cfg, awsCfg, bucket, logger)
	if err != nil {
		fatal("failed to init transcriber", err)
	}
	if transcriber != nil {
		opts = append(opts, conversation.WithTranscriber(transcriber))
	} else {
		slog.Warn("voice messages disabled")
	}

	var rec storage.Recorder
	if cfg.LogFilePath != "" {
		fr, err := storage.NewFileRecorder(cfg.LogFilePath)
		if err != nil {
			slog.Warn("failed to init interaction log", "error", err)
		} else {
			rec = fr
			opts = append(opts, conversation.WithRecorder(fr))
		}
	}

	if cfg.NatsURL != "" {
		pub, err := events.Connect(cfg.NatsURL, cfg.NatsToken, logger)
		if err != nil {
			fatal("failed to connect to NATS", err)
		}
		defer pub.Close()
		opts = append(opts, conversation.WithPublisher(pub))
		slog.Info("NATS connected", "url", cfg.NatsURL)
	}

	orchestrator := conversation.New(history.NewManager(historyStore), composer, opts...)

	bot, err := telegram.New(cfg.TelegramBotToken, orchestrator, authSvc, telegram.Options{
		AdminID:        cfg.AdminUserID,
		MaxConcurrency: cfg.MaxConcurrency,
		PendingRepo:    pendingRepo,
		Logger:         logger,
	})
	if err != nil {
		fatal("failed to create bot", err)
	}

	// Scheduled jobs
	sched := scheduler.New(logger)
	if rec != nil && cfg.AdminUserID != 0 && cfg.ReportCron != "" {
		reporter := analytics.Reporter{Recorder: rec, Send: bot.Notify}
		if err := sched.AddJob("daily_report", cfg.ReportCron, func(context.Context) error {
			return reporter.Run()
		}); err != nil {
			fatal("failed to schedule report", err)
		}
	}
	if s3src, ok := source.(*corpus.S3Source); ok && cfg.CorpusSyncCron != "" {
		if err := sched.AddJob("corpus_sync", cfg.CorpusSyncCron, func(ctx context.Context) error {
			_, fresh, err := s3src.Sync(ctx)
			if err != nil {
				return err
			}
			if fresh == 0 {
				return nil
			}
			slog.Info("new documents synced, rebuilding index", "documents", fresh)
			return corpusMgr.Rebuild(ctx, true)
		}); err != nil {
			fatal("failed to schedule corpus sync", err)
		}
	}
	sched.Start()
	defer sched.Stop()

	if cfg.WatchDataset {
		w, err := corpus.NewWatcher(cfg.DatasetDir, 2*time.Second, func() {
			slog.Info("dataset changed, rebuilding index")
			if err := corpusMgr.Rebuild(ctx, true); err != nil {
				slog.Error("corpus rebuild failed", "error", err)
			}
		}, logger)
		if err != nil {
			fatal("failed to watch dataset", err)
		}
		go func() {
			if err := w.Run(ctx); err != nil {
				slog.Error("dataset watcher stopped", "error", err)
			}
		}()
	}

	// Warm the index so the first question does not pay for it.
	go func() {
		if _, err := corpusMgr.Index(ctx); err != nil {
			slog.Warn("corpus index not ready", "error", err)
		}
	}()

	srv := api.NewServer(cfg.HTTPPort, corpusMgr, orchestrator)
	go func() {
		if err := srv.Start(ctx); err != nil {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	slog.Info("themis ready", "port", cfg.HTTPPort)
	bot.Start(ctx)
	slog.Info("themis stopped")
}

func fatal(msg string, err error) {
	slog.Error(msg, "error", err)
	os.Exit(1)
}
