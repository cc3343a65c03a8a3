// Package answer turns a question, the user's history and the retrieved
// passages into a generated reply.
package answer

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"text/template"

	"github.com/uDoug/ChatBot/internal/corpus"
	"github.com/uDoug/ChatBot/internal/history"
	"github.com/uDoug/ChatBot/internal/llm"
)

// NoDocumentsReply is returned, together with corpus.ErrNoDocuments, when
// there is nothing to base an answer on.
const NoDocumentsReply = "Não existe nenhum documento para basear minha resposta."

// ErrGeneration means the model call failed or returned no text.
var ErrGeneration = errors.New("generation failed")

//go:embed prompts/*.tmpl
var promptFS embed.FS

type Retriever interface {
	Retrieve(ctx context.Context, query string) ([]corpus.Chunk, error)
}

type Request struct {
	Question string
	UserName string
	History  history.History
}

type Composer struct {
	retriever Retriever
	client    llm.Client
	system    *template.Template
	human     *template.Template
	maxTurns  int
	logger    *slog.Logger
}

type Option func(*Composer) error

// WithPromptFiles replaces the embedded templates; empty paths keep them.
func WithPromptFiles(systemPath, humanPath string) Option {
	return func(c *Composer) error {
		if systemPath != "" {
			t, err := parseFile("system", systemPath)
			if err != nil {
				return err
			}
			c.system = t
		}
		if humanPath != "" {
			t, err := parseFile("human", humanPath)
			if err != nil {
				return err
			}
			c.human = t
		}
		return nil
	}
}

// WithHistoryWindow limits the prompt to the last n turns; zero keeps all.
func WithHistoryWindow(n int) Option {
	return func(c *Composer) error {
		c.maxTurns = n
		return nil
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Composer) error {
		c.logger = l
		return nil
	}
}

func New(retriever Retriever, client llm.Client, opts ...Option) (*Composer, error) {
	c := &Composer{
		retriever: retriever,
		client:    client,
		system:    template.Must(template.ParseFS(promptFS, "prompts/system.tmpl")),
		human:     template.Must(template.ParseFS(promptFS, "prompts/human.tmpl")),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

type passage struct {
	N       int
	Source  string
	Page    int
	Content string
}

type promptData struct {
	UserName         string
	FirstInteraction bool
	Passages         []passage
	Question         string
}

// Compose retrieves passages for the question and asks the model for an
// answer, returned verbatim.
func (c *Composer) Compose(ctx context.Context, req Request) (string, error) {
	chunks, err := c.retriever.Retrieve(ctx, req.Question)
	if errors.Is(err, corpus.ErrNoDocuments) {
		return NoDocumentsReply, err
	}
	if err != nil {
		return "", err
	}

	msgs, err := c.Messages(req, chunks)
	if err != nil {
		return "", err
	}

	resp, err := c.client.Generate(ctx, msgs)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrGeneration, err)
	}
	if strings.TrimSpace(resp.Content) == "" {
		return "", fmt.Errorf("%w: empty response from %s", ErrGeneration, resp.Model)
	}
	c.logger.Debug("answer generated",
		"model", resp.Model,
		"passages", len(chunks),
		"prompt_tokens", resp.PromptTokens,
		"completion_tokens", resp.CompletionTokens,
	)
	return resp.Content, nil
}

// Messages assembles the prompt: system block, history turns, then the
// human block with the passages and the question.
func (c *Composer) Messages(req Request, chunks []corpus.Chunk) ([]llm.Message, error) {
	data := promptData{
		UserName:         req.UserName,
		FirstInteraction: len(req.History) == 0,
		Question:         req.Question,
	}
	for i, ch := range chunks {
		data.Passages = append(data.Passages, passage{
			N:       i + 1,
			Source:  ch.Source,
			Page:    ch.Page,
			Content: ch.Content,
		})
	}

	system, err := render(c.system, data)
	if err != nil {
		return nil, err
	}
	human, err := render(c.human, data)
	if err != nil {
		return nil, err
	}

	turns := req.History.Window(c.maxTurns)
	msgs := make([]llm.Message, 0, len(turns)+2)
	msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: system})
	for _, t := range turns {
		role := llm.RoleAssistant
		if t.Role == history.RoleUser {
			role = llm.RoleUser
		}
		msgs = append(msgs, llm.Message{Role: role, Content: t.Content})
	}
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: human})
	return msgs, nil
}

func render(t *template.Template, data promptData) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s prompt: %w", t.Name(), err)
	}
	return buf.String(), nil
}

func parseFile(name, path string) (*template.Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s prompt: %w", name, err)
	}
	t, err := template.New(name).Parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("parse %s prompt: %w", name, err)
	}
	return t, nil
}
