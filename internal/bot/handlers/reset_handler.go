package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/wardenbot/internal/violation"
)

// NewResetHandler returns a handler for the /warden_reset command. It clears
// an identity's active ban window in the current chat's community; permanent
// bans are never cleared.
func NewResetHandler(deps HandlerDeps) bot.HandlerFunc {
	return resetHandler{deps}.Handle
}

type resetHandler struct {
	deps HandlerDeps
}

func (h resetHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "reset")
	if update.Message == nil || update.Message.From == nil {
		log.ErrorContext(ctx, "Reset handler called with nil message or sender", "update_id", update.ID)
		return
	}

	chatID := update.Message.Chat.ID
	identity := commandArgument(update.Message.Text)
	if identity == "" {
		h.send(ctx, b, chatID, "Usage: /warden_reset <identity>")
		return
	}

	log.InfoContext(ctx, "Admin requested ban reset", "chat_id", chatID, "identity", identity)

	timeoutCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	src := violation.ChatSource(fmt.Sprintf("%d", chatID))
	if err := h.deps.Engine.ResetBan(timeoutCtx, identity, src); err != nil {
		log.ErrorContext(ctx, "Failed to reset ban", "error", err, "identity", identity)
		h.send(ctx, b, chatID, h.deps.Config.Messages.GeneralError)
		return
	}

	h.send(ctx, b, chatID, fmt.Sprintf("Ban window cleared for identity %s.", identity))
}

func (h resetHandler) send(ctx context.Context, b *bot.Bot, chatID int64, text string) {
	if _, err := b.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: text}); err != nil {
		h.deps.Logger.ErrorContext(ctx, "Failed to send reset message", "error", err, "chat_id", chatID)
	}
}
