package handlers

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/wardenbot/internal/pipeline"
)

// NewMessageHandler creates the default handler feeding user messages into
// the processing pipeline. In group chats only messages that mention the bot,
// use one of its aliases, or reply to it are handled; direct chats always are.
func NewMessageHandler(deps HandlerDeps) bot.HandlerFunc {
	return messageHandler{deps}.Handle
}

type messageHandler struct {
	deps HandlerDeps
}

func (h messageHandler) Handle(ctx context.Context, _ *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "message")

	msg := update.Message
	if msg == nil || msg.From == nil {
		log.DebugContext(ctx, "Ignoring update with nil message or sender", "update_id", update.ID)
		return
	}
	if msg.From.IsBot || msg.From.ID == h.deps.Config.Telegram.BotInfo.ID {
		log.DebugContext(ctx, "Ignoring bot-authored message", "chat_id", msg.Chat.ID)
		return
	}

	text := msg.Text
	if text == "" {
		text = msg.Caption
	}
	if strings.TrimSpace(text) == "" {
		log.DebugContext(ctx, "Ignoring message without text content", "chat_id", msg.Chat.ID)
		return
	}

	isGroup := msg.Chat.Type != models.ChatTypePrivate
	if isGroup && !h.addressesBot(msg, text) {
		log.DebugContext(ctx, "Bot not addressed in group message, skipping", "chat_id", msg.Chat.ID)
		return
	}

	h.deps.Pipeline.Handle(ctx, &pipeline.InboundMessage{
		ID:         fmt.Sprintf("%d:%d", msg.Chat.ID, msg.ID),
		AuthorID:   msg.From.ID,
		ChatID:     msg.Chat.ID,
		MessageID:  msg.ID,
		IsGroup:    isGroup,
		Content:    text,
		ReceivedAt: time.Unix(int64(msg.Date), 0).UTC(),
	})
}

// addressesBot reports whether the group message is directed at the bot:
// an @mention entity, a bare username or alias word, or a reply to the bot.
func (h messageHandler) addressesBot(msg *models.Message, text string) bool {
	botInfo := h.deps.Config.Telegram.BotInfo
	if botInfo.Username == "" {
		return false
	}

	lower := strings.ToLower(text)
	mention := "@" + strings.ToLower(botInfo.Username)

	for _, e := range append(msg.Entities, msg.CaptionEntities...) {
		if e.Type != models.MessageEntityTypeMention {
			continue
		}
		if e.Offset >= 0 && e.Length > 0 && e.Offset+e.Length <= len(lower) {
			if lower[e.Offset:e.Offset+e.Length] == mention {
				return true
			}
		}
	}

	names := append([]string{botInfo.Username}, h.deps.Config.Telegram.BotAliases...)
	for _, w := range strings.Fields(lower) {
		stripped := strings.TrimFunc(w, unicode.IsPunct)
		for _, name := range names {
			if stripped == strings.ToLower(name) {
				return true
			}
		}
	}

	if msg.ReplyToMessage != nil && msg.ReplyToMessage.From != nil && msg.ReplyToMessage.From.ID == botInfo.ID {
		return true
	}

	return false
}
