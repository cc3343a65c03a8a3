// Package transcribe turns voice messages into question text.
package transcribe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

// ErrTranscription covers failed jobs, timeouts and unusable results.
var ErrTranscription = errors.New("transcription failed")

// AudioRef points at a downloadable audio file.
type AudioRef struct {
	URL      string
	FileName string
}

type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

type Job struct {
	ID        string
	Status    Status
	ResultURI string
	// FailureReason is set for failed jobs when the service reports one.
	FailureReason string
}

// JobClient drives the asynchronous speech-to-text service.
type JobClient interface {
	Start(ctx context.Context, name, mediaURI, language, format string) error
	Get(ctx context.Context, name string) (Job, error)
}

// Stager makes the audio available to the job service and returns its URI.
type Stager interface {
	Stage(ctx context.Context, ref AudioRef) (string, error)
}

type Options struct {
	Language        string
	Format          string
	PollInterval    time.Duration
	MaxPollInterval time.Duration
	// Timeout bounds the whole call: staging, polling and result fetch.
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Service transcribes audio with a job-based service, polling with
// exponential backoff until the job settles or the timeout expires.
type Service struct {
	stager Stager
	jobs   JobClient
	opts   Options
}

func NewService(stager Stager, jobs JobClient, opts Options) *Service {
	if opts.Language == "" {
		opts.Language = "pt-BR"
	}
	if opts.Format == "" {
		opts.Format = "ogg"
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.MaxPollInterval < opts.PollInterval {
		opts.MaxPollInterval = opts.PollInterval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Minute
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Service{stager: stager, jobs: jobs, opts: opts}
}

// JobName returns a fresh unique job name.
func JobName() string {
	return "job_name_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func (s *Service) Transcribe(ctx context.Context, ref AudioRef) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	uri, err := s.stager.Stage(ctx, ref)
	if err != nil {
		return "", fmt.Errorf("%w: stage audio: %w", ErrTranscription, err)
	}

	name := JobName()
	if err := s.jobs.Start(ctx, name, uri, s.opts.Language, s.opts.Format); err != nil {
		return "", fmt.Errorf("%w: start job: %w", ErrTranscription, err)
	}
	s.opts.Logger.Debug("transcription job started", "job", name, "media", uri)

	job, err := s.wait(ctx, name)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrTranscription, name, err)
	}

	text, err := fetchTranscript(ctx, s.opts.HTTPClient, job.ResultURI)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrTranscription, name, err)
	}
	return text, nil
}

var errJobRunning = errors.New("job still running")

func (s *Service) wait(ctx context.Context, name string) (Job, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.opts.PollInterval
	b.MaxInterval = s.opts.MaxPollInterval
	// The context deadline bounds the wait.
	b.MaxElapsedTime = 0

	var job Job
	op := func() error {
		j, err := s.jobs.Get(ctx, name)
		if err != nil {
			return backoff.Permanent(err)
		}
		switch j.Status {
		case StatusCompleted:
			job = j
			return nil
		case StatusFailed:
			if j.FailureReason != "" {
				return backoff.Permanent(fmt.Errorf("job failed: %s", j.FailureReason))
			}
			return backoff.Permanent(errors.New("job failed"))
		default:
			return errJobRunning
		}
	}
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Job{}, fmt.Errorf("waiting for job: %w", ctxErr)
		}
		return Job{}, err
	}
	return job, nil
}

type transcriptPayload struct {
	Results struct {
		Transcripts []struct {
			Transcript string `json:"transcript"`
		} `json:"transcripts"`
	} `json:"results"`
}

// fetchTranscript reads results.transcripts[0].transcript from the result
// document.
func fetchTranscript(ctx context.Context, client *http.Client, uri string) (string, error) {
	if uri == "" {
		return "", errors.New("job has no result uri")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch result: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch result: status %d", resp.StatusCode)
	}

	var p transcriptPayload
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return "", fmt.Errorf("decode result: %w", err)
	}
	if len(p.Results.Transcripts) == 0 {
		return "", errors.New("result has no transcripts")
	}
	text := strings.TrimSpace(p.Results.Transcripts[0].Transcript)
	if text == "" {
		return "", errors.New("empty transcript")
	}
	return text, nil
}

// maxAudioBytes matches the Telegram bot download limit.
const maxAudioBytes = 20 << 20

func downloadAudio(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download audio: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download audio: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioBytes+1))
	if err != nil {
		return nil, fmt.Errorf("download audio: %w", err)
	}
	if len(data) > maxAudioBytes {
		return nil, fmt.Errorf("download audio: larger than %d bytes", maxAudioBytes)
	}
	if len(data) == 0 {
		return nil, errors.New("download audio: empty file")
	}
	return data, nil
}
