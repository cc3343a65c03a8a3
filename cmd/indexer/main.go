package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/uDoug/ChatBot/internal/app"
	"github.com/uDoug/ChatBot/internal/config"
	"github.com/uDoug/ChatBot/internal/corpus"
	"github.com/uDoug/ChatBot/internal/llm"
)

func main() {
	if err := godotenv.Load(".env"); err != nil {
		slog.Warn(".env file not found", "error", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var datasetDir string
	root := &cobra.Command{
		Use:           "indexer",
		Short:         "Build and inspect the document index used by the bot.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&datasetDir, "dataset", "", "Dataset directory (overrides CORPUS_DATASET_DIR).")

	withManager := func(run func(ctx context.Context, env *indexEnv, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			env, err := newIndexEnv(cmd.Context(), datasetDir)
			if err != nil {
				return err
			}
			defer env.close()
			return run(cmd.Context(), env, args)
		}
	}

	root.AddCommand(&cobra.Command{
		Use:   "build",
		Short: "Load the persisted index, building it when missing.",
		Args:  cobra.NoArgs,
		RunE: withManager(func(ctx context.Context, env *indexEnv, _ []string) error {
			return env.report(ctx)
		}),
	})
	root.AddCommand(&cobra.Command{
		Use:   "rebuild",
		Short: "Rebuild the index from the source documents.",
		Args:  cobra.NoArgs,
		RunE: withManager(func(ctx context.Context, env *indexEnv, _ []string) error {
			if err := env.manager.Rebuild(ctx, true); err != nil {
				return err
			}
			return env.report(ctx)
		}),
	})
	root.AddCommand(&cobra.Command{
		Use:   "sync",
		Short: "Download new documents from the bucket without indexing.",
		Args:  cobra.NoArgs,
		RunE: withManager(func(ctx context.Context, env *indexEnv, _ []string) error {
			s3src, ok := env.source.(*corpus.S3Source)
			if !ok {
				return errors.New("sync requires BUCKET_NAME")
			}
			paths, fresh, err := s3src.Sync(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("%d documents, %d new\n", len(paths), fresh)
			return nil
		}),
	})
	root.AddCommand(&cobra.Command{
		Use:   "query <question>",
		Short: "Print the passages retrieved for a question.",
		Args:  cobra.MinimumNArgs(1),
		RunE: withManager(func(ctx context.Context, env *indexEnv, args []string) error {
			chunks, err := env.manager.Retrieve(ctx, strings.Join(args, " "))
			if err != nil {
				return err
			}
			for i, ch := range chunks {
				fmt.Printf("[%d] %s, página %d\n%s\n\n", i+1, ch.Source, ch.Page, ch.Content)
			}
			return nil
		}),
	})
	return root
}

type indexEnv struct {
	manager *corpus.Manager
	source  corpus.Source
	close   func()
}

func newIndexEnv(ctx context.Context, datasetDir string) (*indexEnv, error) {
	cfg, err := config.Parse()
	if err != nil {
		return nil, err
	}
	if datasetDir != "" {
		cfg.DatasetDir = datasetDir
	}
	logger := app.SetupLogging(os.Stderr, cfg.LogLevel)

	embedder, err := llm.NewFactory(cfg).CreateEmbedder(cfg.EmbeddingModel)
	if err != nil {
		return nil, err
	}
	bucket, _, err := app.OpenBucket(ctx, cfg)
	if err != nil {
		return nil, err
	}
	store, err := app.OpenCorpusStore(cfg)
	if err != nil {
		return nil, err
	}
	source := app.NewSource(cfg, bucket, logger)
	builder := app.NewBuilder(cfg, store, embedder, logger)
	return &indexEnv{
		manager: corpus.NewManager(builder, source, logger),
		source:  source,
		close:   func() { _ = store.Close() },
	}, nil
}

func (e *indexEnv) report(ctx context.Context) error {
	ix, err := e.manager.Index(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("index ready: %d chunks\n", ix.Len())
	return nil
}
