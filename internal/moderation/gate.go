package moderation

import (
	"context"
	"io"
	"log/slog"
)

// Gate wraps the fast-path keyword scan and the authoritative classifier into
// the two checks the pipeline needs: inbound content before a reply is
// generated, and the generated reply before delivery.
type Gate struct {
	fastPath      *KeywordClassifier
	authoritative Classifier // nil means the fast path is authoritative
	failClosedOut bool
	logger        *slog.Logger
}

// NewGate creates a moderation gate. authoritative may be nil, in which case
// a fast-path hit is treated as a confirmed violation. failClosedOutbound
// controls what happens to outbound text when the authoritative classifier is
// unavailable: false (the default product choice) delivers the reply anyway.
func NewGate(fastPath *KeywordClassifier, authoritative Classifier, failClosedOutbound bool, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Gate{
		fastPath:      fastPath,
		authoritative: authoritative,
		failClosedOut: failClosedOutbound,
		logger:        logger.With("component", "moderation_gate"),
	}
}

// CheckInbound classifies user-submitted text. Classifier downtime fails
// open: ambiguous input is treated as not offending for availability, and
// the failure is logged for audit.
func (g *Gate) CheckInbound(ctx context.Context, text string) Result {
	candidate, _ := g.fastPath.Classify(ctx, text)
	if !candidate.Offending {
		return Result{}
	}
	if g.authoritative == nil {
		return candidate
	}

	verdict, err := g.authoritative.Classify(ctx, text)
	if err != nil {
		g.logger.WarnContext(ctx, "Inbound classifier unavailable, failing open",
			"error", err, "fast_path_terms", candidate.Terms)
		return Result{}
	}
	return verdict
}

// CheckOutbound classifies provider-generated text before delivery. On
// classifier downtime the configured policy applies: fail open delivers the
// reply (logged), fail closed suppresses it using the fast-path terms.
func (g *Gate) CheckOutbound(ctx context.Context, text string) Result {
	candidate, _ := g.fastPath.Classify(ctx, text)
	if !candidate.Offending {
		return Result{}
	}
	if g.authoritative == nil {
		return candidate
	}

	verdict, err := g.authoritative.Classify(ctx, text)
	if err != nil {
		if g.failClosedOut {
			g.logger.WarnContext(ctx, "Outbound classifier unavailable, failing closed",
				"error", err, "fast_path_terms", candidate.Terms)
			return candidate
		}
		g.logger.WarnContext(ctx, "Outbound classifier unavailable, failing open",
			"error", err, "fast_path_terms", candidate.Terms)
		return Result{}
	}
	return verdict
}
