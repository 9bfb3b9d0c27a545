// Package moderation gates user-visible text through a content policy.
// A local keyword scan runs first as a cheap fast path; the authoritative
// classifier (possibly remote) is only consulted when the fast path finds a
// candidate hit, so moderation overhead is paid only for suspicious text.
package moderation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode"

	"github.com/edgard/wardenbot/internal/resilience"
)

// Result is the outcome of classifying a piece of text.
type Result struct {
	Offending bool
	Terms     []string
}

// Classifier decides whether text violates the content policy.
// Implementations may be local (keyword list) or remote; callers treat both
// uniformly.
type Classifier interface {
	Classify(ctx context.Context, text string) (Result, error)
}

// KeywordClassifier matches text against a fixed lowercase term list on word
// boundaries. It never fails and serves as the local fast path.
type KeywordClassifier struct {
	terms map[string]struct{}
}

// NewKeywordClassifier builds a classifier from the configured term list.
// Terms are matched case-insensitively as standalone words.
func NewKeywordClassifier(terms []string) *KeywordClassifier {
	set := make(map[string]struct{}, len(terms))
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			set[t] = struct{}{}
		}
	}
	return &KeywordClassifier{terms: set}
}

// Classify scans the text for configured terms, preserving first-hit order.
func (k *KeywordClassifier) Classify(_ context.Context, text string) (Result, error) {
	if len(k.terms) == 0 {
		return Result{}, nil
	}

	var hits []string
	seen := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(text)) {
		stripped := strings.TrimFunc(w, unicode.IsPunct)
		if stripped == "" {
			continue
		}
		if _, ok := k.terms[stripped]; !ok {
			continue
		}
		if _, dup := seen[stripped]; dup {
			continue
		}
		seen[stripped] = struct{}{}
		hits = append(hits, stripped)
	}

	return Result{Offending: len(hits) > 0, Terms: hits}, nil
}

// HTTPClassifier calls a remote classification endpoint. Requests go through
// a circuit breaker so a struggling classifier degrades to the gate's
// fail-open/fail-closed policy instead of stalling the pipeline.
type HTTPClassifier struct {
	url     string
	client  *http.Client
	breaker *resilience.CircuitBreaker
}

// NewHTTPClassifier creates a remote classifier for the given endpoint.
func NewHTTPClassifier(url string, timeout time.Duration) *HTTPClassifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClassifier{
		url:    url,
		client: &http.Client{Timeout: timeout},
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:    "moderation_classifier",
			Timeout: timeout,
		}),
	}
}

type classifyRequest struct {
	Text string `json:"text"`
}

type classifyResponse struct {
	Offending bool     `json:"offending"`
	Terms     []string `json:"terms"`
}

// Classify posts the text to the remote endpoint and decodes the verdict.
func (h *HTTPClassifier) Classify(ctx context.Context, text string) (Result, error) {
	var result Result

	err := h.breaker.Execute(ctx, func(ctx context.Context) error {
		body, err := json.Marshal(classifyRequest{Text: text})
		if err != nil {
			return fmt.Errorf("failed to encode classify request: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("failed to create classify request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := h.client.Do(req)
		if err != nil {
			return fmt.Errorf("classifier request failed: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusOK {
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return fmt.Errorf("classifier returned status %d: %s", resp.StatusCode, string(snippet))
		}

		var decoded classifyResponse
		if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
			return fmt.Errorf("failed to decode classifier response: %w", err)
		}

		result = Result{Offending: decoded.Offending, Terms: decoded.Terms}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return result, nil
}
