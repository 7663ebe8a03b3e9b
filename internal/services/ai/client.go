package ai

import (
	"context"
	"strings"
	"time"

	"github.com/hat-ai-tgbot-go/internal/config"
	"github.com/hat-ai-tgbot-go/internal/middleware"
	"github.com/hat-ai-tgbot-go/internal/models"
	"github.com/hat-ai-tgbot-go/internal/services/retry"
	"github.com/hat-ai-tgbot-go/pkg/logger"
	"github.com/sirupsen/logrus"
)

// HistoryReader supplies prior turns for a chat
type HistoryReader interface {
	Read(chatID string) []models.ConversationTurn
}

// PromptSource renders the system prompt for a chat type
type PromptSource interface {
	SystemPrompt(lang string, chatType models.ChatType) string
}

// GenerationContext describes where a message came from
type GenerationContext struct {
	ChatType  models.ChatType
	ChatID    string
	RequestID string
}

// Client assembles the message list and calls the configured backend
type Client struct {
	enabled  bool
	backend  Backend
	sampling Sampling
	timeout  time.Duration
	policy   retry.Policy
	history  HistoryReader
	prompts  PromptSource
	lang     string
	metrics  *middleware.Metrics
	logger   *logrus.Logger
}

// NewClient creates a generation client
func NewClient(
	cfg *config.Config,
	backend Backend,
	history HistoryReader,
	prompts PromptSource,
	metrics *middleware.Metrics,
	logger *logrus.Logger,
) *Client {
	backoff := retry.NewBackoff(cfg.AI.MaxRetries, logger)
	backoff.OnRetry = func(int, time.Duration, error) {
		metrics.RecordRetry("backoff")
	}

	timeout := cfg.AI.RequestTimeout
	if timeout <= 0 {
		timeout = config.DefaultRequestTimeout
	}

	logger.WithFields(logrus.Fields{
		"provider": backend.Name(),
		"model":    backend.Model(),
		"endpoint": backend.Endpoint(),
	}).Info("Generation client initialized")

	return &Client{
		enabled: cfg.AI.Enabled,
		backend: backend,
		sampling: Sampling{
			Temperature: cfg.AI.Temperature,
			MaxTokens:   cfg.AI.MaxTokens,
		},
		timeout: timeout,
		policy:  backoff,
		history: history,
		prompts: prompts,
		lang:    cfg.I18n.DefaultLanguage,
		metrics: metrics,
		logger:  logger,
	}
}

// Backend returns the active backend
func (c *Client) Backend() Backend {
	return c.backend
}

// Sampling returns the sampling parameters sent with each request
func (c *Client) Sampling() Sampling {
	return c.sampling
}

// Enabled reports whether generation is switched on
func (c *Client) Enabled() bool {
	return c.enabled
}

// BuildMessages returns the system prompt, the chat history and the new user
// message, in that order.
func (c *Client) BuildMessages(content string, gc GenerationContext) []models.Message {
	messages := []models.Message{{
		Role:    models.RoleSystem,
		Content: c.prompts.SystemPrompt(c.lang, gc.ChatType),
	}}
	if gc.ChatID != "" && c.history != nil {
		messages = append(messages, models.ToMessages(c.history.Read(gc.ChatID))...)
	}
	return append(messages, models.Message{Role: models.RoleUser, Content: content})
}

// Generate returns the trimmed reply and true, or false when generation is
// disabled, the backend is not ready, or every attempt failed.
func (c *Client) Generate(ctx context.Context, content string, gc GenerationContext) (string, bool) {
	log := logger.WithChat(c.logger, gc.ChatID, gc.RequestID).WithField("provider", c.backend.Name())

	if !c.enabled {
		log.Debug("Generation disabled")
		return "", false
	}
	if err := c.backend.Ready(); err != nil {
		log.WithError(err).Warn("Generation backend not ready")
		c.metrics.RecordAIRequest(c.backend.Name(), "not_ready", 0)
		return "", false
	}

	messages := c.BuildMessages(content, gc)

	start := time.Now()
	reply, err := retry.Value(ctx, c.policy, func(ctx context.Context) (string, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		return c.backend.Complete(attemptCtx, messages, c.sampling)
	})
	elapsed := time.Since(start)

	if err != nil {
		log.WithError(err).WithField("duration", elapsed.String()).Error("Failed to get AI response")
		c.metrics.RecordAIRequest(c.backend.Name(), "error", elapsed)
		return "", false
	}

	reply = strings.TrimSpace(reply)
	if reply == "" {
		c.metrics.RecordAIRequest(c.backend.Name(), "empty", elapsed)
		return "", false
	}

	c.metrics.RecordAIRequest(c.backend.Name(), "success", elapsed)
	log.WithFields(logrus.Fields{
		"duration": elapsed.String(),
		"messages": len(messages),
	}).Debug("AI response received")
	return reply, true
}
