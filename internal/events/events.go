// Package events publishes conversation events on NATS.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// SubjectAnswered receives one message per successfully answered question.
const SubjectAnswered = "themis.conversation.answered"

// Answered carries metadata only; question and answer text stay local.
type Answered struct {
	EventID       string    `json:"event_id"`
	UserID        int64     `json:"user_id"`
	Source        string    `json:"source"`
	QuestionChars int       `json:"question_chars"`
	AnswerChars   int       `json:"answer_chars"`
	HistoryTurns  int       `json:"history_turns"`
	DurationMs    int64     `json:"duration_ms"`
	At            time.Time `json:"at"`
}

type conn interface {
	Publish(subject string, data []byte) error
	Close()
}

type Publisher struct {
	conn   conn
	logger *slog.Logger
}

func Connect(url, token string, logger *slog.Logger) (*Publisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts := []nats.Option{
		nats.Name("themis-bot"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &Publisher{conn: nc, logger: logger}, nil
}

// PublishAnswered fills EventID and At when empty.
func (p *Publisher) PublishAnswered(ctx context.Context, ev Answered) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ev.EventID == "" {
		ev.EventID = uuid.NewString()
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	if err := p.conn.Publish(SubjectAnswered, payload); err != nil {
		return fmt.Errorf("publish %s: %w", SubjectAnswered, err)
	}
	return nil
}

func (p *Publisher) Close() {
	p.conn.Close()
}
