package telegram

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/wardenbot/internal/pipeline"
)

const (
	sendMessageTimeout = 10 * time.Second
	typingInterval     = 5 * time.Second
)

// Transport adapts the Telegram API to the pipeline's delivery interface.
type Transport struct {
	b   *bot.Bot
	log *slog.Logger
}

// NewTransport wraps a connected bot instance.
func NewTransport(b *bot.Bot, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Transport{b: b, log: logger.With("component", "telegram_transport")}
}

// SendReply sends text as a direct reply to the inbound message.
func (t *Transport) SendReply(ctx context.Context, msg *pipeline.InboundMessage, text string) error {
	params := &bot.SendMessageParams{
		ChatID: msg.ChatID,
		Text:   strings.TrimSpace(text),
	}
	if msg.MessageID > 0 {
		params.ReplyParameters = &models.ReplyParameters{MessageID: msg.MessageID}
	}
	return t.send(ctx, params)
}

// SendFollowUp sends text to the same chat without reply linkage.
func (t *Transport) SendFollowUp(ctx context.Context, msg *pipeline.InboundMessage, text string) error {
	return t.send(ctx, &bot.SendMessageParams{
		ChatID: msg.ChatID,
		Text:   strings.TrimSpace(text),
	})
}

func (t *Transport) send(ctx context.Context, params *bot.SendMessageParams) error {
	if params.Text == "" {
		return nil
	}

	sendCtx, cancel := context.WithTimeout(ctx, sendMessageTimeout)
	defer cancel()

	sent, err := t.b.SendMessage(sendCtx, params)
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	t.log.DebugContext(ctx, "Sent message", "chat_id", params.ChatID, "message_id", sent.ID)
	return nil
}

// StartTyping shows a typing indicator for the chat until the returned stop
// function is called. Failures are logged and never interrupt processing.
func (t *Transport) StartTyping(ctx context.Context, chatID int64) func() {
	typingCtx, cancel := context.WithCancel(ctx)

	go func() {
		ticker := time.NewTicker(typingInterval)
		defer ticker.Stop()

		t.sendTyping(typingCtx, chatID)
		for {
			select {
			case <-typingCtx.Done():
				return
			case <-ticker.C:
				t.sendTyping(typingCtx, chatID)
			}
		}
	}()

	return cancel
}

func (t *Transport) sendTyping(ctx context.Context, chatID int64) {
	_, err := t.b.SendChatAction(ctx, &bot.SendChatActionParams{
		ChatID: chatID,
		Action: models.ChatActionTyping,
	})
	if err != nil && ctx.Err() == nil {
		t.log.DebugContext(ctx, "Typing action failed", "error", err, "chat_id", chatID)
	}
}
