package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/edgard/wardenbot/internal/config"
	"github.com/edgard/wardenbot/internal/database"
	"github.com/edgard/wardenbot/internal/moderation"
	"github.com/edgard/wardenbot/internal/text"
	"github.com/edgard/wardenbot/internal/violation"
)

// Service orchestrates a message's life from admission to delivered reply.
type Service struct {
	pctx      *Context
	cfg       *config.Config
	store     database.Store
	gate      *moderation.Gate
	engine    *violation.Engine
	completer Completer
	transport Transport
	sendRate  *rate.Limiter
	logger    *slog.Logger
}

// NewService wires the pipeline together.
func NewService(
	pctx *Context,
	cfg *config.Config,
	store database.Store,
	gate *moderation.Gate,
	engine *violation.Engine,
	completer Completer,
	transport Transport,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{
		pctx:      pctx,
		cfg:       cfg,
		store:     store,
		gate:      gate,
		engine:    engine,
		completer: completer,
		transport: transport,
		sendRate:  rate.NewLimiter(rate.Limit(cfg.Delivery.SendsPerSecond), 1),
		logger:    logger.With("component", "pipeline"),
	}
}

// Handle admits the message and schedules it on the author's serial queue.
// It returns immediately; processing continues in the background and is not
// cancelled when the transport handler's context ends.
func (s *Service) Handle(ctx context.Context, msg *InboundMessage) {
	switch s.pctx.Admit(msg) {
	case DuplicateRejected:
		s.logger.DebugContext(ctx, "Duplicate delivery rejected",
			"message_id", msg.ID, "user_id", msg.AuthorID)
		return
	case RateLimited:
		s.logger.InfoContext(ctx, "Message rate limited",
			"message_id", msg.ID, "user_id", msg.AuthorID)
		// The notice goes through the author's serial queue so it cannot
		// interleave with a reply already in flight for the same author.
		notifyCtx := context.WithoutCancel(ctx)
		s.pctx.Serializer.Do(msg.AuthorID, func() {
			s.notifyRateLimited(notifyCtx, msg)
		})
		return
	}

	bg := context.WithoutCancel(ctx)
	s.pctx.Serializer.Do(msg.AuthorID, func() {
		s.process(bg, msg)
	})
}

// notifyRateLimited sends the throttle notice once per message id. The claim
// made during admission is committed so redeliveries stay silent.
func (s *Service) notifyRateLimited(ctx context.Context, msg *InboundMessage) {
	if err := s.transport.SendReply(ctx, msg, s.cfg.Messages.RateLimited); err != nil {
		s.logger.ErrorContext(ctx, "Failed to send rate limit notice",
			"message_id", msg.ID, "error", err)
		s.pctx.Ledger.Release(msg.ID)
		return
	}
	s.pctx.Ledger.MarkResponded(msg.ID)
}

// process runs the full pipeline for an admitted message. The ledger claim is
// released on every path that did not commit a reply, so redeliveries after a
// failure get a fresh attempt.
func (s *Service) process(ctx context.Context, msg *InboundMessage) {
	s.pctx.Ledger.StartProcessing(msg.ID)

	responded := false
	defer func() {
		if !responded {
			s.pctx.Ledger.Release(msg.ID)
		}
	}()

	identity, src := s.violationScope(msg)

	status, err := s.engine.Status(ctx, identity, src)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to check violation status",
			"message_id", msg.ID, "user_id", msg.AuthorID, "error", err)
		// Status unknown: proceed rather than silently drop a legitimate user.
	}
	if status.Blocked {
		s.logger.InfoContext(ctx, "Dropped message from banned identity",
			"message_id", msg.ID,
			"user_id", msg.AuthorID,
			"permanent", status.Permanent,
		)
		responded = s.pctx.Ledger.MarkResponded(msg.ID)
		return
	}

	// Moderation runs before authorization so violations count even for
	// users who could never receive a reply.
	if verdict := s.gate.CheckInbound(ctx, msg.Content); verdict.Offending {
		s.handleViolation(ctx, msg, identity, src, verdict)
		responded = s.pctx.Ledger.MarkResponded(msg.ID)
		return
	}

	if !s.cfg.IsUserAuthorized(msg.AuthorID) {
		if err := s.transport.SendReply(ctx, msg, s.cfg.Messages.NotAuthorized); err != nil {
			s.logger.ErrorContext(ctx, "Failed to send authorization notice",
				"message_id", msg.ID, "error", err)
			return
		}
		responded = s.pctx.Ledger.MarkResponded(msg.ID)
		return
	}

	if err := s.store.SaveMessage(ctx, &database.Message{
		ChatID:    msg.ChatID,
		UserID:    msg.AuthorID,
		Content:   msg.Content,
		Timestamp: msg.ReceivedAt.UTC(),
	}); err != nil {
		s.logger.ErrorContext(ctx, "Failed to persist inbound message",
			"message_id", msg.ID, "error", err)
		// History is best effort; the reply still goes out.
	}

	stopTyping := s.transport.StartTyping(ctx, msg.ChatID)
	reply := s.respond(ctx, msg)
	stopTyping()

	s.deliver(ctx, msg, reply, &responded)
}

// violationScope maps the message onto the escalation keyspace: group chats
// are community scoped, direct chats use the chat itself as the community.
func (s *Service) violationScope(msg *InboundMessage) (string, violation.Source) {
	identity := strconv.FormatInt(msg.AuthorID, 10)
	return identity, violation.ChatSource(strconv.FormatInt(msg.ChatID, 10))
}

// handleViolation records the violation and tells the user which penalty tier
// they landed on. The offending content itself is never echoed or answered.
func (s *Service) handleViolation(ctx context.Context, msg *InboundMessage, identity string, src violation.Source, verdict moderation.Result) {
	outcome, err := s.engine.RecordViolation(ctx, identity, verdict.Terms, excerptOf(msg.Content), src)
	if err != nil {
		// Treat the identity as not yet escalated for this event.
		s.logger.ErrorContext(ctx, "Failed to record violation",
			"message_id", msg.ID, "user_id", msg.AuthorID, "error", err)
		return
	}

	notice := s.penaltyNotice(outcome)
	if notice == "" {
		return
	}
	if err := s.transport.SendReply(ctx, msg, notice); err != nil {
		s.logger.ErrorContext(ctx, "Failed to send penalty notice",
			"message_id", msg.ID, "error", err)
	}
}

func (s *Service) penaltyNotice(outcome *violation.Outcome) string {
	switch outcome.Action {
	case violation.ActionWarning:
		return fmt.Sprintf(s.cfg.Messages.WarningNotice, outcome.WarningCount)
	case violation.ActionBanned:
		return fmt.Sprintf(s.cfg.Messages.BanNotice,
			outcome.BanExpiresAt.UTC().Format(time.RFC1123))
	case violation.ActionPermanentBan:
		return s.cfg.Messages.PermanentBan
	default:
		return ""
	}
}

// respond produces the reply text: cache first, then the completion provider,
// then the outbound moderation gate. Provider exhaustion yields the fallback
// text, which is never cached; an unsafe provider reply is replaced with the
// safe fallback, which is cached so the provider is not re-asked.
func (s *Service) respond(ctx context.Context, msg *InboundMessage) string {
	key := CacheKey(msg.Content, s.cfg.Gemini.SystemInstruction)
	if cached, ok := s.pctx.Cache.Get(key); ok {
		s.logger.DebugContext(ctx, "Reply served from cache", "message_id", msg.ID)
		return cached
	}

	history, err := s.store.GetRecentMessages(ctx, msg.ChatID, s.cfg.Database.MaxHistoryMessages)
	if err != nil {
		s.logger.WarnContext(ctx, "Failed to load chat history, continuing without",
			"message_id", msg.ID, "error", err)
		history = nil
	}

	reply, err := s.completer.Complete(ctx, history, msg.Content)
	if err != nil {
		s.logger.ErrorContext(ctx, "Completion provider failed",
			"message_id", msg.ID, "error", err)
		return s.cfg.Messages.ProviderFallback
	}

	if verdict := s.gate.CheckOutbound(ctx, reply); verdict.Offending {
		s.logger.WarnContext(ctx, "Outbound reply failed moderation, substituting fallback",
			"message_id", msg.ID, "terms", verdict.Terms)
		reply = s.cfg.Messages.UnsafeFallback
	}

	s.pctx.Cache.Put(key, reply)
	return reply
}

// deliver splits the reply into transport-sized chunks and sends them in
// order: the first chunk as a direct reply, the rest as plain messages. The
// reply is committed only after the first chunk is confirmed sent; a failed
// first chunk rolls the claim back so a redelivery can retry. Later chunk
// failures are logged but never retried, keeping at-most-one reply per id.
func (s *Service) deliver(ctx context.Context, msg *InboundMessage, reply string, responded *bool) {
	chunks := text.Split(reply, s.cfg.Delivery.MaxMessageLength)
	if len(chunks) == 0 {
		*responded = s.pctx.Ledger.MarkResponded(msg.ID)
		return
	}

	if err := s.sendRate.Wait(ctx); err != nil {
		s.logger.ErrorContext(ctx, "Send pacing interrupted", "message_id", msg.ID, "error", err)
		return
	}
	if err := s.transport.SendReply(ctx, msg, chunks[0]); err != nil {
		s.logger.ErrorContext(ctx, "Failed to send reply",
			"message_id", msg.ID, "chat_id", msg.ChatID, "error", err)
		return
	}
	*responded = s.pctx.Ledger.MarkResponded(msg.ID)

	if err := s.store.SaveMessage(ctx, &database.Message{
		ChatID:    msg.ChatID,
		UserID:    s.cfg.Telegram.BotInfo.ID,
		Content:   reply,
		Timestamp: time.Now().UTC(),
	}); err != nil {
		s.logger.ErrorContext(ctx, "Failed to persist reply",
			"message_id", msg.ID, "error", err)
	}

	for i, chunk := range chunks[1:] {
		if err := s.sendRate.Wait(ctx); err != nil {
			s.logger.ErrorContext(ctx, "Send pacing interrupted mid-delivery",
				"message_id", msg.ID, "chunk", i+2, "error", err)
			return
		}
		if err := s.transport.SendFollowUp(ctx, msg, chunk); err != nil {
			s.logger.ErrorContext(ctx, "Partial delivery, remaining chunks dropped",
				"message_id", msg.ID,
				"chunk", i+2,
				"total_chunks", len(chunks),
				"error", err,
			)
			return
		}
	}
}

// excerptOf truncates content for the audit trail.
func excerptOf(content string) string {
	const maxExcerpt = 200
	runes := []rune(content)
	if len(runes) <= maxExcerpt {
		return content
	}
	return string(runes[:maxExcerpt]) + "..."
}
