package telegram

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/uDoug/ChatBot/internal/auth"
)

const (
	resetCmd      = "reset_ctx"
	approvePrefix = "approve:"
	denyPrefix    = "deny:"
)

const (
	startReply         = "Olá, %s! Eu sou a Themis, sua assistente jurídica. Envie sua pergunta por texto ou áudio."
	resetReply         = "Contexto da conversa reiniciado."
	busyReply          = "Ainda estou respondendo suas mensagens anteriores. Aguarde um momento."
	accessRequested    = "Seu pedido de acesso foi enviado ao administrador. Você será avisado quando for aprovado."
	accessPending      = "Seu pedido de acesso já foi enviado. Aguarde a aprovação do administrador."
	accessGranted      = "Seu acesso foi aprovado. Envie sua pergunta."
	accessDenied       = "Seu pedido de acesso foi negado."
	adminOnlyReply     = "Comando disponível apenas para o administrador."
	unknownCommand     = "Comando desconhecido."
	invalidUserIDReply = "user_id inválido."
)

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start":
		if !b.authSvc.IsAllowed(msg.From.ID) {
			b.requestAccess(msg)
			return
		}
		b.sendText(msg.Chat.ID, fmt.Sprintf(startReply, displayName(msg.From)), nil)
		return
	case "reset":
		if !b.authSvc.IsAllowed(msg.From.ID) {
			b.requestAccess(msg)
			return
		}
		b.reset(ctx, msg.From.ID, msg.Chat.ID)
		return
	}

	if !b.authSvc.IsAdmin(msg.From.ID) {
		b.sendText(msg.Chat.ID, adminOnlyReply, nil)
		return
	}
	switch msg.Command() {
	case "allowlist":
		var bld strings.Builder
		bld.WriteString("Usuários autorizados:\n")
		for _, u := range b.authSvc.List() {
			bld.WriteString(formatUser(u))
		}
		b.sendText(msg.Chat.ID, bld.String(), nil)
	case "pending":
		var bld strings.Builder
		bld.WriteString("Pedidos de acesso:\n")
		for _, u := range b.pendingUsers() {
			bld.WriteString(formatUser(u))
		}
		b.sendText(msg.Chat.ID, bld.String(), nil)
	case "allow":
		uid, ok := b.commandUserID(msg)
		if !ok {
			return
		}
		b.approveUser(uid)
	case "revoke":
		uid, ok := b.commandUserID(msg)
		if !ok {
			return
		}
		if err := b.authSvc.Remove(uid); err != nil {
			b.logger.Error("failed to revoke user", "user_id", uid, "error", err)
			b.sendText(msg.Chat.ID, fmt.Sprintf("Erro ao remover %d: %v", uid, err), nil)
			return
		}
		b.sendText(msg.Chat.ID, fmt.Sprintf("Usuário %d removido da lista de acesso.", uid), nil)
	default:
		b.sendText(msg.Chat.ID, unknownCommand, nil)
	}
}

func (b *Bot) commandUserID(msg *tgbotapi.Message) (int64, bool) {
	args := strings.Fields(msg.CommandArguments())
	if len(args) != 1 {
		b.sendText(msg.Chat.ID, fmt.Sprintf("Uso: /%s <user_id>", msg.Command()), nil)
		return 0, false
	}
	uid, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		b.sendText(msg.Chat.ID, invalidUserIDReply, nil)
		return 0, false
	}
	return uid, true
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	if _, err := b.api.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
		b.logger.Debug("failed to answer callback", "error", err)
	}
	switch {
	case cb.Data == resetCmd:
		if b.authSvc.IsAllowed(cb.From.ID) {
			b.reset(ctx, cb.From.ID, cb.Message.Chat.ID)
		}
	case strings.HasPrefix(cb.Data, approvePrefix), strings.HasPrefix(cb.Data, denyPrefix):
		if !b.authSvc.IsAdmin(cb.From.ID) {
			return
		}
		approve := strings.HasPrefix(cb.Data, approvePrefix)
		raw := strings.TrimPrefix(strings.TrimPrefix(cb.Data, approvePrefix), denyPrefix)
		uid, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			b.logger.Warn("malformed callback data", "data", cb.Data)
			return
		}
		if approve {
			b.approveUser(uid)
		} else {
			b.denyUser(uid)
		}
	}
}

func (b *Bot) reset(ctx context.Context, userID, chatID int64) {
	if err := b.handler.Reset(ctx, userID); err != nil {
		b.logger.Error("failed to reset conversation", "user_id", userID, "error", err)
		b.sendText(chatID, "Não foi possível reiniciar o contexto. Tente novamente.", nil)
		return
	}
	b.sendText(chatID, resetReply, nil)
}

// requestAccess records the sender as pending and asks the administrator
// once per user.
func (b *Bot) requestAccess(msg *tgbotapi.Message) {
	b.logger.Info("unauthorized access attempt", "user_id", msg.From.ID, "username", msg.From.UserName)
	user := auth.User{
		ID:        msg.From.ID,
		Username:  msg.From.UserName,
		FirstName: msg.From.FirstName,
		LastName:  msg.From.LastName,
	}

	b.pendingMu.Lock()
	_, known := b.pending[user.ID]
	if !known {
		b.pending[user.ID] = user
	}
	b.pendingMu.Unlock()

	if known {
		b.sendText(msg.Chat.ID, accessPending, nil)
		return
	}
	if b.pendingRepo != nil {
		if err := b.pendingRepo.Upsert(user); err != nil {
			b.logger.Error("failed to persist access request", "user_id", user.ID, "error", err)
		}
	}
	b.sendText(msg.Chat.ID, accessRequested, nil)
	b.notifyAdminRequest(user)
}

func (b *Bot) notifyAdminRequest(u auth.User) {
	if b.adminID == 0 {
		return
	}
	id := strconv.FormatInt(u.ID, 10)
	kb := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Aprovar", approvePrefix+id),
			tgbotapi.NewInlineKeyboardButtonData("Negar", denyPrefix+id),
		),
	)
	text := fmt.Sprintf("O usuário @%s (%s) com id %d pediu acesso à Themis.", u.Username, strings.TrimSpace(u.FirstName+" "+u.LastName), u.ID)
	b.sendText(b.adminID, text, kb)
}

func (b *Bot) approveUser(uid int64) {
	u := b.takePending(uid)
	if err := b.authSvc.Upsert(u); err != nil {
		b.logger.Error("failed to allow user", "user_id", uid, "error", err)
		if b.adminID != 0 {
			b.sendText(b.adminID, fmt.Sprintf("Erro ao autorizar %d: %v", uid, err), nil)
		}
		return
	}
	b.logger.Info("user allowed", "user_id", uid)
	if b.adminID != 0 {
		b.sendText(b.adminID, fmt.Sprintf("Usuário %d autorizado.", uid), nil)
	}
	b.sendText(uid, accessGranted, nil)
}

func (b *Bot) denyUser(uid int64) {
	b.takePending(uid)
	b.logger.Info("access request denied", "user_id", uid)
	if b.adminID != 0 {
		b.sendText(b.adminID, fmt.Sprintf("Pedido de %d negado.", uid), nil)
	}
	b.sendText(uid, accessDenied, nil)
}

// takePending removes uid from the pending requests and returns what was
// known about the user.
func (b *Bot) takePending(uid int64) auth.User {
	b.pendingMu.Lock()
	u, ok := b.pending[uid]
	delete(b.pending, uid)
	b.pendingMu.Unlock()
	if !ok {
		u = auth.User{ID: uid}
	}
	if b.pendingRepo != nil {
		if err := b.pendingRepo.Remove(uid); err != nil {
			b.logger.Error("failed to remove access request", "user_id", uid, "error", err)
		}
	}
	return u
}

func (b *Bot) pendingUsers() []auth.User {
	b.pendingMu.Lock()
	out := make([]auth.User, 0, len(b.pending))
	for _, u := range b.pending {
		out = append(out, u)
	}
	b.pendingMu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func resetKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Limpar contexto", resetCmd),
		),
	)
}

func formatUser(u auth.User) string {
	line := fmt.Sprintf("- id=%d", u.ID)
	if u.Username != "" {
		line += " @" + u.Username
	}
	if name := strings.TrimSpace(u.FirstName + " " + u.LastName); name != "" {
		line += " " + name
	}
	return line + "\n"
}
