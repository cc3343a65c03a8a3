package transcribe

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

type whisperAPI interface {
	CreateTranscription(ctx context.Context, req openai.AudioRequest) (openai.AudioResponse, error)
}

// WhisperService transcribes synchronously through the OpenAI audio API.
type WhisperService struct {
	api      whisperAPI
	http     *http.Client
	language string
	timeout  time.Duration
}

func NewWhisperService(apiKey, baseURL, language string, timeout time.Duration) *WhisperService {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &WhisperService{
		api:      openai.NewClientWithConfig(cfg),
		http:     &http.Client{Timeout: 30 * time.Second},
		language: language,
		timeout:  timeout,
	}
}

func (w *WhisperService) Transcribe(ctx context.Context, ref AudioRef) (string, error) {
	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}
	data, err := downloadAudio(ctx, w.http, ref.URL)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrTranscription, err)
	}
	name := ref.FileName
	if name == "" {
		name = "voice.ogg"
	}
	resp, err := w.api.CreateTranscription(ctx, openai.AudioRequest{
		Model:    openai.Whisper1,
		FilePath: name,
		Reader:   bytes.NewReader(data),
		Language: isoLanguage(w.language),
	})
	if err != nil {
		return "", fmt.Errorf("%w: whisper: %w", ErrTranscription, err)
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", fmt.Errorf("%w: empty transcript", ErrTranscription)
	}
	return text, nil
}

// isoLanguage reduces a locale such as pt-BR to its ISO-639-1 code.
func isoLanguage(locale string) string {
	lang, _, _ := strings.Cut(locale, "-")
	return strings.ToLower(lang)
}
