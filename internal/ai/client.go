// Package ai implements the completion provider on top of Google's Gemini API.
package ai

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"google.golang.org/genai"

	"github.com/edgard/wardenbot/internal/config"
	"github.com/edgard/wardenbot/internal/database"
	"github.com/edgard/wardenbot/internal/resilience"
)

// Client generates replies through the Gemini API with bounded retries.
type Client struct {
	genaiClient   *genai.Client
	log           *slog.Logger
	contentConfig *genai.GenerateContentConfig
	modelName     string
	timeout       time.Duration
	retry         resilience.RetryConfig
	botID         int64
}

// NewClient creates a Gemini-backed completion client.
func NewClient(ctx context.Context, cfg config.GeminiConfig, log *slog.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}

	gi, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	contentConfig := &genai.GenerateContentConfig{
		Temperature: &cfg.Temperature,
	}
	if cfg.SystemInstruction != "" {
		contentConfig.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: cfg.SystemInstruction}},
		}
	}

	retry := resilience.DefaultRetryConfig()
	retry.MaxAttempts = cfg.MaxAttempts

	logger := log.With("component", "ai_client")
	logger.Info("Gemini client initialized", "model", cfg.ModelName)
	return &Client{
		genaiClient:   gi,
		log:           logger,
		contentConfig: contentConfig,
		modelName:     cfg.ModelName,
		timeout:       cfg.Timeout,
		retry:         retry,
	}, nil
}

func formatHistoryMessage(m *database.Message) string {
	return fmt.Sprintf("[%s] UID %d: %s", m.Timestamp.Format("2006-01-02 15:04:05"), m.UserID, m.Content)
}

// SetBotID records the bot's own account id so history rows it authored take
// the model role. Call once at startup, before serving.
func (c *Client) SetBotID(id int64) {
	c.botID = id
}

// Complete generates a reply for the user's message given recent chat history.
// Transient API failures are retried with backoff; a safety block or empty
// response surfaces as an error so the caller can fall back.
func (c *Client) Complete(ctx context.Context, history []*database.Message, content string) (string, error) {
	c.log.DebugContext(ctx, "Generating reply", "history_count", len(history))

	var contents []*genai.Content
	for _, m := range history {
		role := genai.Role(genai.RoleUser)
		if c.botID != 0 && m.UserID == c.botID {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(formatHistoryMessage(m), role))
	}
	contents = append(contents, genai.NewContentFromText(content, genai.RoleUser))

	callCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var resp *genai.GenerateContentResponse
	err := resilience.WithRetry(callCtx, func(ctx context.Context) error {
		var callErr error
		resp, callErr = c.genaiClient.Models.GenerateContent(ctx, c.modelName, contents, c.contentConfig)
		return callErr
	}, c.retry)
	if err != nil {
		c.log.ErrorContext(ctx, "Gemini reply generation failed", "error", err)
		return "", fmt.Errorf("gemini API call failed: %w", err)
	}

	return c.extractText(ctx, resp)
}

var historyPrefixRE = regexp.MustCompile(`(?m)^(?:\[\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}\] UID \d+: )+`)

func (c *Client) extractText(ctx context.Context, resp *genai.GenerateContentResponse) (string, error) {
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != genai.BlockedReasonUnspecified {
		reason := fmt.Sprintf("%v", resp.PromptFeedback.BlockReason)
		if resp.PromptFeedback.BlockReasonMessage != "" {
			reason = resp.PromptFeedback.BlockReasonMessage
		}
		c.log.ErrorContext(ctx, "Gemini request blocked", "reason", reason)
		return "", fmt.Errorf("reply blocked by safety filter: %s", reason)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		finishReason := "unknown"
		if len(resp.Candidates) > 0 && resp.Candidates[0].FinishReason != genai.FinishReasonUnspecified {
			finishReason = fmt.Sprintf("%v", resp.Candidates[0].FinishReason)
		}
		c.log.WarnContext(ctx, "Gemini response missing content", "finish_reason", finishReason)
		return "", fmt.Errorf("reply generation returned no content, finish reason: %s", finishReason)
	}

	// The model occasionally parrots the history framing back; strip it.
	text := historyPrefixRE.ReplaceAllString(resp.Text(), "")
	if text == "" {
		return "", fmt.Errorf("reply generation returned empty text")
	}
	return text, nil
}
