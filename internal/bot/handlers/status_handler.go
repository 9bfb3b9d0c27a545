package handlers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/wardenbot/internal/database"
	"github.com/edgard/wardenbot/internal/violation"
)

const statusHistoryLimit = 10

// NewStatusHandler returns a handler for the /warden_status command. It
// reports an identity's escalation standing and recent violation history
// within the current chat's community.
func NewStatusHandler(deps HandlerDeps) bot.HandlerFunc {
	return statusHandler{deps}.Handle
}

type statusHandler struct {
	deps HandlerDeps
}

func (h statusHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "status")
	if update.Message == nil || update.Message.From == nil {
		log.ErrorContext(ctx, "Status handler called with nil message or sender", "update_id", update.ID)
		return
	}

	chatID := update.Message.Chat.ID
	identity := commandArgument(update.Message.Text)
	if identity == "" {
		identity = fmt.Sprintf("%d", update.Message.From.ID)
	}
	src := violation.ChatSource(fmt.Sprintf("%d", chatID))

	log.InfoContext(ctx, "Admin requested violation status", "chat_id", chatID, "identity", identity)

	status, err := h.deps.Engine.Status(ctx, identity, src)
	if err != nil {
		log.ErrorContext(ctx, "Failed to load violation status", "error", err, "identity", identity)
		h.send(ctx, b, chatID, h.deps.Config.Messages.GeneralError)
		return
	}
	records, err := h.deps.Engine.History(ctx, identity, src, statusHistoryLimit)
	if err != nil {
		log.ErrorContext(ctx, "Failed to load violation history", "error", err, "identity", identity)
		h.send(ctx, b, chatID, h.deps.Config.Messages.GeneralError)
		return
	}

	h.send(ctx, b, chatID, formatStatus(identity, status, records))
}

func formatStatus(identity string, status violation.Status, records []*database.ViolationRecord) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Identity %s\n", identity)

	switch {
	case status.Permanent:
		sb.WriteString("Standing: permanently banned\n")
	case status.Blocked:
		fmt.Fprintf(&sb, "Standing: banned until %s\n", status.ExpiresAt.UTC().Format(time.RFC1123))
	default:
		sb.WriteString("Standing: in good standing\n")
	}

	if len(records) == 0 {
		sb.WriteString("No recorded violations.")
		return sb.String()
	}

	fmt.Fprintf(&sb, "Last %d violation(s):\n", len(records))
	for _, r := range records {
		fmt.Fprintf(&sb, "- %s %s [%s] terms: %s\n",
			r.OccurredAt.UTC().Format("2006-01-02 15:04"), r.Action, r.Source, r.Terms)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (h statusHandler) send(ctx context.Context, b *bot.Bot, chatID int64, text string) {
	if _, err := b.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: text}); err != nil {
		h.deps.Logger.ErrorContext(ctx, "Failed to send status message", "error", err, "chat_id", chatID)
	}
}

// commandArgument returns the first argument after the command word, if any.
func commandArgument(text string) string {
	fields := strings.Fields(text)
	if len(fields) < 2 {
		return ""
	}
	return fields[1]
}
