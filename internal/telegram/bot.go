// Package telegram is the long-polling Telegram front end of the bot.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/uDoug/ChatBot/internal/auth"
	"github.com/uDoug/ChatBot/internal/conversation"
	"github.com/uDoug/ChatBot/internal/corpus"
	"github.com/uDoug/ChatBot/internal/transcribe"
)

const (
	// MaxMessageLength is Telegram's limit for one text message, in characters.
	MaxMessageLength = 4096

	queueSize = 32
)

// Handler answers user messages; *conversation.Orchestrator implements it.
type Handler interface {
	Handle(ctx context.Context, msg conversation.Message) (string, error)
	Reset(ctx context.Context, userID int64) error
}

type Options struct {
	AdminID        int64
	MaxConcurrency int
	// PendingRepo persists access requests; nil keeps them in memory only.
	PendingRepo auth.Repository
	Logger      *slog.Logger
}

type Bot struct {
	api     botAPI
	handler Handler
	authSvc *auth.Service
	adminID int64
	logger  *slog.Logger
	sem     chan struct{}

	mu      sync.Mutex
	workers map[int64]chan tgbotapi.Update
	wg      sync.WaitGroup

	pendingMu   sync.Mutex
	pending     map[int64]auth.User
	pendingRepo auth.Repository
}

func New(botToken string, handler Handler, authSvc *auth.Service, opts Options) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("connect to telegram: %w", err)
	}
	return newBot(api, handler, authSvc, opts)
}

func newBot(api botAPI, handler Handler, authSvc *auth.Service, opts Options) (*Bot, error) {
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = 1
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	b := &Bot{
		api:         api,
		handler:     handler,
		authSvc:     authSvc,
		adminID:     opts.AdminID,
		logger:      opts.Logger,
		sem:         make(chan struct{}, opts.MaxConcurrency),
		workers:     make(map[int64]chan tgbotapi.Update),
		pending:     make(map[int64]auth.User),
		pendingRepo: opts.PendingRepo,
	}
	if b.pendingRepo != nil {
		users, err := b.pendingRepo.LoadAll()
		if err != nil {
			return nil, fmt.Errorf("load pending requests: %w", err)
		}
		for _, u := range users {
			b.pending[u.ID] = u
		}
	}
	return b, nil
}

// Start polls for updates until ctx is cancelled, then waits for the
// per-user workers to finish their queues.
func (b *Bot) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.api.GetUpdatesChan(u)
	b.logger.Info("telegram polling started")

	defer b.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			b.dispatch(ctx, update)
		}
	}
}

// dispatch queues the update on its sender's worker. Updates of one user are
// processed in arrival order; different users proceed in parallel, bounded
// by MaxConcurrency.
func (b *Bot) dispatch(ctx context.Context, update tgbotapi.Update) {
	userID, chatID, ok := origin(update)
	if !ok {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	queue, running := b.workers[userID]
	if !running {
		queue = make(chan tgbotapi.Update, queueSize)
		b.workers[userID] = queue
		b.wg.Add(1)
		go b.runWorker(ctx, userID, queue)
	}
	select {
	case queue <- update:
	default:
		b.logger.Warn("user queue full, dropping update", "user_id", userID)
		go b.sendText(chatID, busyReply, nil)
	}
}

func (b *Bot) runWorker(ctx context.Context, userID int64, queue chan tgbotapi.Update) {
	defer b.wg.Done()
	for {
		select {
		case update := <-queue:
			b.process(ctx, update)
		default:
			b.mu.Lock()
			if len(queue) == 0 {
				delete(b.workers, userID)
				b.mu.Unlock()
				return
			}
			b.mu.Unlock()
		}
	}
}

func (b *Bot) process(ctx context.Context, update tgbotapi.Update) {
	if _, _, ok := origin(update); !ok {
		return
	}
	select {
	case b.sem <- struct{}{}:
		defer func() { <-b.sem }()
	case <-ctx.Done():
		return
	}

	switch {
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil && update.Message.IsCommand():
		b.handleCommand(ctx, update.Message)
	case update.Message != nil:
		b.handleIncomingMessage(ctx, update.Message)
	}
}

func (b *Bot) handleIncomingMessage(ctx context.Context, msg *tgbotapi.Message) {
	if !b.authSvc.IsAllowed(msg.From.ID) {
		b.requestAccess(msg)
		return
	}

	in := conversation.Message{
		UserID:      msg.From.ID,
		DisplayName: displayName(msg.From),
		Text:        msg.Text,
	}
	audio, err := b.audioRef(msg)
	if err != nil {
		b.logger.Error("failed to resolve audio file", "user_id", msg.From.ID, "error", err)
		b.sendText(msg.Chat.ID, conversation.GenericErrorReply, nil)
		return
	}
	in.Audio = audio
	if in.Audio == nil && strings.TrimSpace(in.Text) == "" {
		b.logger.Debug("ignoring message without text or audio", "user_id", msg.From.ID)
		return
	}

	b.logger.Info("incoming message",
		"user_id", msg.From.ID,
		"username", msg.From.UserName,
		"voice", in.Audio != nil,
	)
	if _, err := b.api.Request(tgbotapi.NewChatAction(msg.Chat.ID, tgbotapi.ChatTyping)); err != nil {
		b.logger.Debug("failed to send typing action", "error", err)
	}

	reply, err := b.handler.Handle(ctx, in)
	switch {
	case errors.Is(err, corpus.ErrNoDocuments):
		b.logger.Warn("no documents to answer from", "user_id", msg.From.ID)
	case err != nil:
		b.logger.Error("failed to answer message", "user_id", msg.From.ID, "error", err)
	}
	b.sendText(msg.Chat.ID, reply, resetKeyboard())
}

func (b *Bot) audioRef(msg *tgbotapi.Message) (*transcribe.AudioRef, error) {
	var fileID, name string
	switch {
	case msg.Voice != nil:
		fileID, name = msg.Voice.FileID, msg.Voice.FileUniqueID+".ogg"
	case msg.Audio != nil:
		fileID, name = msg.Audio.FileID, msg.Audio.FileName
		if name == "" {
			name = msg.Audio.FileUniqueID
		}
	default:
		return nil, nil
	}
	url, err := b.api.GetFileDirectURL(fileID)
	if err != nil {
		return nil, err
	}
	return &transcribe.AudioRef{URL: url, FileName: name}, nil
}

// Notify sends text to the administrator.
func (b *Bot) Notify(text string) error {
	if b.adminID == 0 {
		return errors.New("no administrator configured")
	}
	return b.sendText(b.adminID, text, nil)
}

// sendText splits text at MaxMessageLength and attaches markup to the last
// part only.
func (b *Bot) sendText(chatID int64, text string, markup any) error {
	parts := splitMessage(text, MaxMessageLength)
	for i, part := range parts {
		out := tgbotapi.NewMessage(chatID, part)
		if i == len(parts)-1 && markup != nil {
			out.ReplyMarkup = markup
		}
		if _, err := b.api.Send(out); err != nil {
			b.logger.Error("failed to send message", "chat_id", chatID, "error", err)
			return err
		}
	}
	return nil
}

// splitMessage cuts text into parts of at most limit runes, preferring to
// break after a newline in the second half of a part.
func splitMessage(text string, limit int) []string {
	runes := []rune(text)
	if len(runes) <= limit {
		return []string{text}
	}
	var parts []string
	for len(runes) > limit {
		cut := limit
		for i := limit - 1; i >= limit/2; i-- {
			if runes[i] == '\n' {
				cut = i + 1
				break
			}
		}
		parts = append(parts, string(runes[:cut]))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		parts = append(parts, string(runes))
	}
	return parts
}

func origin(update tgbotapi.Update) (userID, chatID int64, ok bool) {
	switch {
	case update.Message != nil && update.Message.From != nil && update.Message.Chat != nil:
		return update.Message.From.ID, update.Message.Chat.ID, true
	case update.CallbackQuery != nil && update.CallbackQuery.From != nil &&
		update.CallbackQuery.Message != nil && update.CallbackQuery.Message.Chat != nil:
		return update.CallbackQuery.From.ID, update.CallbackQuery.Message.Chat.ID, true
	}
	return 0, 0, false
}

func displayName(u *tgbotapi.User) string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		name = u.UserName
	}
	return name
}
