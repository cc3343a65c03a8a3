// Package conversation answers one user message end to end: optional
// transcription, retrieval-grounded generation and history bookkeeping.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/uDoug/ChatBot/internal/answer"
	"github.com/uDoug/ChatBot/internal/corpus"
	"github.com/uDoug/ChatBot/internal/events"
	"github.com/uDoug/ChatBot/internal/history"
	"github.com/uDoug/ChatBot/internal/storage"
	"github.com/uDoug/ChatBot/internal/transcribe"
)

// GenericErrorReply is sent whenever a message could not be answered.
const GenericErrorReply = "Ocorreu um erro ao processar sua solicitação. Tente novamente."

// ErrEmptyQuestion is returned for messages with neither text nor audio.
var ErrEmptyQuestion = errors.New("empty question")

// Message is one inbound user message. Audio, when set, replaces Text.
type Message struct {
	UserID      int64
	DisplayName string
	Text        string
	Audio       *transcribe.AudioRef
}

type Composer interface {
	Compose(ctx context.Context, req answer.Request) (string, error)
}

type Transcriber interface {
	Transcribe(ctx context.Context, ref transcribe.AudioRef) (string, error)
}

type Publisher interface {
	PublishAnswered(ctx context.Context, ev events.Answered) error
}

type Orchestrator struct {
	sessions    *history.Manager
	composer    Composer
	transcriber Transcriber
	recorder    storage.Recorder
	publisher   Publisher
	timeout     time.Duration
	logger      *slog.Logger
	now         func() time.Time
}

type Option func(*Orchestrator)

func WithTranscriber(t Transcriber) Option {
	return func(o *Orchestrator) { o.transcriber = t }
}

func WithRecorder(r storage.Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

func WithPublisher(p Publisher) Option {
	return func(o *Orchestrator) { o.publisher = p }
}

// WithGenerationTimeout bounds retrieval plus generation; zero disables it.
func WithGenerationTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.timeout = d }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

func New(sessions *history.Manager, composer Composer, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		sessions: sessions,
		composer: composer,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Handle always returns a reply fit for the user. A non-nil error explains
// why the reply is a fallback and is meant for logging only.
func (o *Orchestrator) Handle(ctx context.Context, msg Message) (string, error) {
	started := o.now()
	source := storage.SourceText
	question := msg.Text

	if msg.Audio != nil {
		source = storage.SourceVoice
		if o.transcriber == nil {
			return GenericErrorReply, fmt.Errorf("%w: voice messages are disabled", transcribe.ErrTranscription)
		}
		text, err := o.transcriber.Transcribe(ctx, *msg.Audio)
		if err != nil {
			return GenericErrorReply, err
		}
		o.logger.Info("voice message transcribed", "user_id", msg.UserID, "chars", utf8.RuneCountInString(text))
		question = text
	}

	question = strings.TrimSpace(question)
	if question == "" {
		return GenericErrorReply, ErrEmptyQuestion
	}

	var reply string
	var turns int
	err := o.sessions.Update(ctx, msg.UserID, func(h history.History) (history.History, error) {
		genCtx := ctx
		if o.timeout > 0 {
			var cancel context.CancelFunc
			genCtx, cancel = context.WithTimeout(ctx, o.timeout)
			defer cancel()
		}
		text, err := o.composer.Compose(genCtx, answer.Request{
			Question: question,
			UserName: msg.DisplayName,
			History:  h.Since(o.sessions.ContextStart(msg.UserID)),
		})
		if err != nil {
			return nil, err
		}
		reply = text
		next := h.Append(question, text)
		turns = len(next)
		return next, nil
	})
	switch {
	case errors.Is(err, corpus.ErrNoDocuments):
		return answer.NoDocumentsReply, err
	case err != nil:
		return GenericErrorReply, err
	}

	elapsed := o.now().Sub(started)
	o.logger.Info("question answered",
		"user_id", msg.UserID,
		"source", source,
		"history_turns", turns,
		"duration", elapsed,
	)
	o.observe(ctx, msg, source, question, reply, turns, elapsed)
	return reply, nil
}

// Reset starts a fresh context for the user. Earlier turns stay stored but
// are no longer sent to the model.
func (o *Orchestrator) Reset(ctx context.Context, userID int64) error {
	return o.sessions.DisableAll(ctx, userID)
}

// Sessions reports the number of users with a cached conversation.
func (o *Orchestrator) Sessions() int {
	return o.sessions.Len()
}

func (o *Orchestrator) observe(ctx context.Context, msg Message, source, question, reply string, turns int, elapsed time.Duration) {
	if o.recorder != nil {
		ev := storage.Event{
			Timestamp: o.now().UTC(),
			UserID:    msg.UserID,
			UserName:  msg.DisplayName,
			Source:    source,
			Question:  question,
			Answer:    reply,
			Duration:  elapsed.Seconds(),
		}
		if err := o.recorder.AppendInteraction(ev); err != nil {
			o.logger.Warn("failed to record interaction", "user_id", msg.UserID, "error", err)
		}
	}
	if o.publisher != nil {
		ev := events.Answered{
			UserID:        msg.UserID,
			Source:        source,
			QuestionChars: utf8.RuneCountInString(question),
			AnswerChars:   utf8.RuneCountInString(reply),
			HistoryTurns:  turns,
			DurationMs:    elapsed.Milliseconds(),
		}
		if err := o.publisher.PublishAnswered(ctx, ev); err != nil {
			o.logger.Warn("failed to publish answered event", "user_id", msg.UserID, "error", err)
		}
	}
}
