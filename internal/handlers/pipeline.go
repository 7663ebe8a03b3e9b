package handlers

import (
	"context"
	"runtime/debug"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/hat-ai-tgbot-go/internal/middleware"
	"github.com/hat-ai-tgbot-go/internal/models"
	"github.com/hat-ai-tgbot-go/internal/services/ai"
	"github.com/hat-ai-tgbot-go/internal/services/storage"
	"github.com/hat-ai-tgbot-go/internal/services/trigger"
	"github.com/hat-ai-tgbot-go/pkg/logger"
	"github.com/sirupsen/logrus"
)

// Engager decides whether a message should get a reply
type Engager interface {
	ShouldEngage(text, chatID string, chatType models.ChatType, senderID string) bool
}

// Generator produces a reply for cleaned content
type Generator interface {
	Generate(ctx context.Context, content string, gc ai.GenerationContext) (string, bool)
}

// Pipeline turns an inbound event into a reply or silence
type Pipeline struct {
	engager   Engager
	security  *middleware.SecurityMiddleware
	limiter   middleware.RateLimiter
	generator Generator
	memory    storage.ConversationStore
	metrics   *middleware.Metrics
	logger    *logrus.Logger
}

// NewPipeline creates the dispatch pipeline
func NewPipeline(
	engager Engager,
	security *middleware.SecurityMiddleware,
	limiter middleware.RateLimiter,
	generator Generator,
	memory storage.ConversationStore,
	metrics *middleware.Metrics,
	logger *logrus.Logger,
) *Pipeline {
	return &Pipeline{
		engager:   engager,
		security:  security,
		limiter:   limiter,
		generator: generator,
		memory:    memory,
		metrics:   metrics,
		logger:    logger,
	}
}

// Process returns the reply for ev and true, or false when the bot stays
// silent. History is written only after a reply was produced.
func (p *Pipeline) Process(ctx context.Context, ev models.Event) (reply string, ok bool) {
	requestID := uuid.NewString()
	chatID := NormalizeChatID(ev.ChatID)

	log := logger.WithChat(p.logger, chatID, requestID).WithField("chat_type", ev.ChatType)

	defer func() {
		if r := recover(); r != nil {
			log.WithFields(logrus.Fields{
				"panic": r,
				"stack": string(debug.Stack()),
			}).Error("Recovered from panic while processing message")
			p.metrics.RecordDispatch(middleware.OutcomePanic)
			reply, ok = "", false
		}
	}()

	p.metrics.RecordMessageReceived(string(ev.ChatType))

	if ev.SelfOriginated {
		p.metrics.RecordDispatch(middleware.OutcomeNotEngaged)
		return "", false
	}

	if !p.engager.ShouldEngage(ev.Text, chatID, ev.ChatType, ev.SenderID) {
		p.metrics.RecordDispatch(middleware.OutcomeNotEngaged)
		return "", false
	}

	if err := p.security.ValidateInput(ev.Text); err != nil {
		log.WithError(err).Warn("Input validation failed")
		p.metrics.RecordDispatch(middleware.OutcomeTooLong)
		return "", false
	}

	if !p.limiter.Allow(ev.SenderID) {
		log.WithField("sender_id", ev.SenderID).Info("Rate limit exceeded")
		p.metrics.RecordDispatch(middleware.OutcomeRateLimited)
		return "", false
	}

	content := trigger.ExtractContent(ev.Text)
	if content == "" {
		// Bare wake-word: let the model answer the greeting itself.
		content = strings.TrimSpace(ev.Text)
	}

	reply, ok = p.generator.Generate(ctx, content, ai.GenerationContext{
		ChatType:  ev.ChatType,
		ChatID:    chatID,
		RequestID: requestID,
	})
	if !ok {
		p.metrics.RecordDispatch(middleware.OutcomeNoReply)
		return "", false
	}

	p.memory.Append(chatID, models.RoleUser, content)
	p.memory.Append(chatID, models.RoleAssistant, reply)

	p.metrics.RecordDispatch(middleware.OutcomeReplied)
	log.WithField("reply_length", len(reply)).Debug("Reply generated")
	return reply, true
}

// NormalizeChatID returns the canonical string form of a chat id. Numeric ids
// are reformatted so "+42" and "042" match "42".
func NormalizeChatID(chatID string) string {
	chatID = strings.TrimSpace(chatID)
	if n, err := strconv.ParseInt(chatID, 10, 64); err == nil {
		return strconv.FormatInt(n, 10)
	}
	return chatID
}
