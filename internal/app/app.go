// Package app builds the configured backends shared by the bot and the
// indexer commands.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"

	"github.com/uDoug/ChatBot/internal/config"
	"github.com/uDoug/ChatBot/internal/conversation"
	"github.com/uDoug/ChatBot/internal/corpus"
	"github.com/uDoug/ChatBot/internal/history"
	"github.com/uDoug/ChatBot/internal/llm"
	"github.com/uDoug/ChatBot/internal/objectstore"
	"github.com/uDoug/ChatBot/internal/transcribe"
)

// OpenHistory returns the configured history store and a function that
// releases it.
func OpenHistory(ctx context.Context, cfg *config.Config) (history.Store, func(), error) {
	switch cfg.HistoryBackend {
	case config.HistoryFile, "":
		s, err := history.NewFileStore(cfg.HistoryDir)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {}, nil
	case config.HistoryRedis:
		if cfg.RedisURL == "" {
			return nil, nil, fmt.Errorf("history backend redis requires REDIS_URL")
		}
		s, err := history.NewRedisStoreFromURL(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	case config.HistoryPostgres:
		if cfg.DatabaseURL == "" {
			return nil, nil, fmt.Errorf("history backend postgres requires DATABASE_URL")
		}
		s, err := history.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown history backend: %s", cfg.HistoryBackend)
	}
}

func OpenCorpusStore(cfg *config.Config) (corpus.Store, error) {
	switch cfg.CorpusBackend {
	case config.CorpusBolt, "":
		return corpus.NewBoltStore(cfg.CorpusIndexPath)
	case config.CorpusQdrant:
		if cfg.QdrantURL == "" {
			return nil, fmt.Errorf("corpus backend qdrant requires QDRANT_URL")
		}
		return corpus.NewQdrantStore(cfg.QdrantURL, cfg.QdrantAPIKey, cfg.QdrantCollection)
	default:
		return nil, fmt.Errorf("unknown corpus backend: %s", cfg.CorpusBackend)
	}
}

func NewBuilder(cfg *config.Config, store corpus.Store, embedder llm.Embedder, logger *slog.Logger) *corpus.Builder {
	return corpus.NewBuilder(store, embedder,
		corpus.WithSplitter(corpus.NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap)),
		corpus.WithRetrieval(cfg.RetrieveK, cfg.RetrieveFetchK, cfg.MMRLambda),
		corpus.WithFingerprintCheck(cfg.VerifyFingerprint),
		corpus.WithLogger(logger),
	)
}

// OpenBucket connects to BUCKET_NAME. Without a bucket it returns a nil
// client and no error.
func OpenBucket(ctx context.Context, cfg *config.Config) (*objectstore.Client, aws.Config, error) {
	if cfg.BucketName == "" {
		return nil, aws.Config{}, nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		return nil, aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	bucket, err := objectstore.NewFromConfig(ctx, awsCfg, cfg.BucketName)
	if err != nil {
		return nil, aws.Config{}, err
	}
	return bucket, awsCfg, nil
}

// NewSource mirrors the bucket into the dataset dir when one is configured
// and reads the dataset dir alone otherwise.
func NewSource(cfg *config.Config, bucket *objectstore.Client, logger *slog.Logger) corpus.Source {
	if bucket == nil {
		return corpus.DirSource{Dir: cfg.DatasetDir}
	}
	return corpus.NewS3Source(bucket, cfg.DatasetDir, logger)
}

// NewTranscriber returns nil when voice messages are disabled.
func NewTranscriber(cfg *config.Config, awsCfg aws.Config, bucket *objectstore.Client, logger *slog.Logger) (conversation.Transcriber, error) {
	switch cfg.Transcriber {
	case config.TranscriberNone:
		return nil, nil
	case config.TranscriberOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("transcriber openai requires OPENAI_API_KEY")
		}
		return transcribe.NewWhisperService(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.TranscribeLanguage, cfg.TranscribeTimeout), nil
	case config.TranscriberAWS, "":
		if bucket == nil {
			return nil, fmt.Errorf("transcriber aws requires BUCKET_NAME")
		}
		httpClient := &http.Client{Timeout: cfg.TranscribeHTTPTimeout}
		stager := transcribe.NewS3Stager(bucket, httpClient, cfg.AudioPrefix, cfg.TranscribeFormat)
		return transcribe.NewService(stager, transcribe.NewAWSJobs(awsCfg), transcribe.Options{
			Language:        cfg.TranscribeLanguage,
			Format:          cfg.TranscribeFormat,
			PollInterval:    cfg.TranscribePollInterval,
			MaxPollInterval: cfg.TranscribeMaxPollWait,
			Timeout:         cfg.TranscribeTimeout,
			HTTPClient:      httpClient,
			Logger:          logger,
		}), nil
	default:
		return nil, fmt.Errorf("unknown transcriber: %s", cfg.Transcriber)
	}
}
