package pipeline

import (
	"github.com/edgard/wardenbot/internal/config"
)

// Context owns the in-memory pipeline state: the dedup ledger, the per-author
// rate-limit table, the reply cache, and the author serializer. One Context
// is shared by every surface that feeds the pipeline.
type Context struct {
	Ledger     *Ledger
	RateLimits *RateLimiter
	Cache      *Cache
	Serializer *AuthorSerializer
}

// NewContext builds the pipeline state from configuration.
func NewContext(cfg config.PipelineConfig) *Context {
	return &Context{
		Ledger:     NewLedger(cfg.DedupHorizon),
		RateLimits: NewRateLimiter(cfg.RateLimitCount, cfg.RateLimitWindow),
		Cache:      NewCache(cfg.CacheTTL),
		Serializer: NewAuthorSerializer(),
	}
}

// Admit runs the ordered admission checks for the message: the dedup ledger
// first (exactly one concurrent delivery of an id wins), then the author's
// rate budget. A rate-limited message keeps its ledger claim so the throttle
// notice is itself deduplicated across redeliveries.
func (c *Context) Admit(msg *InboundMessage) AdmitResult {
	if !c.Ledger.Begin(msg.ID) {
		return DuplicateRejected
	}
	if !c.RateLimits.Allow(msg.AuthorID) {
		return RateLimited
	}
	return Admitted
}

// Sweep evicts expired entries from all time-bounded tables and returns the
// total number of entries removed.
func (c *Context) Sweep() int {
	return c.Ledger.Sweep() + c.RateLimits.Sweep() + c.Cache.Sweep()
}
