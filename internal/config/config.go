package config

import (
	"errors"
	"log"
	"time"

	"github.com/caarlos0/env/v6"
)

type LLMProvider string

const (
	ProviderOpenAI LLMProvider = "openai"
	ProviderYandex LLMProvider = "yandex"
)

type HistoryBackend string

const (
	HistoryFile     HistoryBackend = "file"
	HistoryRedis    HistoryBackend = "redis"
	HistoryPostgres HistoryBackend = "postgres"
)

type CorpusBackend string

const (
	CorpusBolt   CorpusBackend = "bolt"
	CorpusQdrant CorpusBackend = "qdrant"
)

type Transcriber string

const (
	TranscriberAWS    Transcriber = "aws"
	TranscriberOpenAI Transcriber = "openai"
	TranscriberNone   Transcriber = "none"
)

type Config struct {
	TelegramBotToken string  `env:"TELEGRAM_BOT_TOKEN"`
	AllowlistEnabled bool    `env:"ALLOWLIST_ENABLED" envDefault:"false"`
	AllowedUsers     []int64 `env:"ALLOWED_USERS" envSeparator:":"`
	AdminUserID      int64   `env:"ADMIN_USER"`
	MaxConcurrency   int     `env:"MAX_CONCURRENCY" envDefault:"4"`

	// LLM settings
	LLMProvider       LLMProvider   `env:"LLM_PROVIDER" envDefault:"openai"`
	OpenAIAPIKey      string        `env:"OPENAI_API_KEY"`
	OpenAIBaseURL     string        `env:"OPENAI_BASE_URL"`
	OpenAIModel       string        `env:"OPENAI_MODEL" envDefault:"gpt-4o-mini"`
	EmbeddingModel    string        `env:"EMBEDDING_MODEL" envDefault:"text-embedding-3-small"`
	YandexOAuthToken  string        `env:"YANDEX_OAUTH_TOKEN"`
	YandexFolderID    string        `env:"YANDEX_FOLDER_ID"`
	GenerationTimeout time.Duration `env:"GENERATION_TIMEOUT" envDefault:"2m"`

	// OpenRouter (optional)
	OpenRouterReferrer string `env:"OPENROUTER_REFERRER"`
	OpenRouterTitle    string `env:"OPENROUTER_TITLE"`

	// Prompts; empty means the embedded defaults
	SystemPromptPath string `env:"SYSTEM_PROMPT_PATH"`
	HumanPromptPath  string `env:"HUMAN_PROMPT_PATH"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Storage
	LogFilePath       string         `env:"LOG_FILE_PATH" envDefault:"logs/interactions.jsonl"`
	AllowlistFilePath string         `env:"ALLOWLIST_FILE_PATH" envDefault:"data/allowlist.json"`
	PendingFilePath   string         `env:"PENDING_FILE_PATH" envDefault:"data/pending.json"`
	HistoryBackend    HistoryBackend `env:"HISTORY_BACKEND" envDefault:"file"`
	HistoryDir        string         `env:"HISTORY_DIR" envDefault:"data/history"`
	HistoryMaxTurns   int            `env:"HISTORY_PROMPT_MAX_TURNS" envDefault:"0"`
	RedisURL          string         `env:"REDIS_URL"`
	DatabaseURL       string         `env:"DATABASE_URL"`

	// Corpus
	CorpusBackend     CorpusBackend `env:"CORPUS_BACKEND" envDefault:"bolt"`
	CorpusIndexPath   string        `env:"CORPUS_INDEX_PATH" envDefault:"vector_store/index.bolt"`
	DatasetDir        string        `env:"CORPUS_DATASET_DIR" envDefault:"dataset"`
	VerifyFingerprint bool          `env:"CORPUS_VERIFY_FINGERPRINT" envDefault:"false"`
	WatchDataset      bool          `env:"CORPUS_WATCH" envDefault:"false"`
	CorpusSyncCron    string        `env:"CORPUS_SYNC_CRON"`
	ChunkSize         int           `env:"CHUNK_SIZE" envDefault:"1000"`
	ChunkOverlap      int           `env:"CHUNK_OVERLAP" envDefault:"180"`
	RetrieveK         int           `env:"RETRIEVE_K" envDefault:"4"`
	RetrieveFetchK    int           `env:"RETRIEVE_FETCH_K" envDefault:"20"`
	MMRLambda         float64       `env:"MMR_LAMBDA" envDefault:"0.5"`
	QdrantURL         string        `env:"QDRANT_URL"`
	QdrantAPIKey      string        `env:"QDRANT_API_KEY"`
	QdrantCollection  string        `env:"QDRANT_COLLECTION" envDefault:"themis"`

	// AWS object storage and transcription
	AWSRegion              string        `env:"AWS_REGION" envDefault:"us-east-1"`
	BucketName             string        `env:"BUCKET_NAME"`
	AudioPrefix            string        `env:"AUDIO_PREFIX" envDefault:"audios/"`
	Transcriber            Transcriber   `env:"TRANSCRIBER" envDefault:"aws"`
	TranscribeLanguage     string        `env:"TRANSCRIBE_LANGUAGE" envDefault:"pt-BR"`
	TranscribeFormat       string        `env:"TRANSCRIBE_FORMAT" envDefault:"ogg"`
	TranscribePollInterval time.Duration `env:"TRANSCRIBE_POLL_INTERVAL" envDefault:"2s"`
	TranscribeMaxPollWait  time.Duration `env:"TRANSCRIBE_MAX_POLL_INTERVAL" envDefault:"15s"`
	TranscribeTimeout      time.Duration `env:"TRANSCRIBE_TIMEOUT" envDefault:"5m"`
	TranscribeHTTPTimeout  time.Duration `env:"TRANSCRIBE_HTTP_TIMEOUT" envDefault:"30s"`

	// Ops
	HTTPPort   int    `env:"HTTP_PORT" envDefault:"8080"`
	NatsURL    string `env:"NATS_URL"`
	NatsToken  string `env:"NATS_TOKEN"`
	ReportCron string `env:"REPORT_CRON" envDefault:"0 21 * * *"`
}

// Parse reads the configuration from the environment.
func Parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings the bot cannot run without. The indexer
// only needs Parse.
func (c *Config) Validate() error {
	if c.TelegramBotToken == "" {
		return errors.New("TELEGRAM_BOT_TOKEN is required")
	}
	if c.MaxConcurrency <= 0 {
		return errors.New("MAX_CONCURRENCY must be positive")
	}
	return nil
}

// New parses and validates the bot configuration and exits on failure.
func New() *Config {
	cfg, err := Parse()
	if err != nil {
		log.Fatalf("failed to parse config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}
	return cfg
}
