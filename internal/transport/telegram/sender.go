package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/hat-ai-tgbot-go/internal/config"
	"github.com/hat-ai-tgbot-go/internal/middleware"
	"github.com/hat-ai-tgbot-go/internal/services/retry"
	"github.com/hat-ai-tgbot-go/pkg/markdown"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// API is the part of the Bot API client used for delivery
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Sender delivers replies with pacing and flood-wait handling
type Sender struct {
	api     API
	limiter *rate.Limiter
	policy  retry.Policy
	metrics *middleware.Metrics
	logger  *logrus.Logger
}

// NewSender creates a sender from the delivery settings
func NewSender(api API, cfg *config.DeliveryConfig, metrics *middleware.Metrics, logger *logrus.Logger) *Sender {
	perSecond := cfg.MessagesPerSecond
	if perSecond <= 0 {
		perSecond = config.DefaultMessagesPerSec
	}

	policy := retry.NewFloodWait(cfg.FloodMaxRetries, cfg.FloodMaxWait, logger)
	policy.OnRetry = func(int, time.Duration) {
		metrics.RecordRetry("flood_wait")
	}

	return &Sender{
		api:     api,
		limiter: rate.NewLimiter(rate.Limit(perSecond), 1),
		policy:  policy,
		metrics: metrics,
		logger:  logger,
	}
}

// Send delivers text to chatID as Telegram HTML, falling back to plain text
// when Telegram rejects the markup.
func (s *Sender) Send(ctx context.Context, chatID int64, text string, replyTo int) error {
	html := markdown.ToTelegramHTML(text)

	err := s.deliver(ctx, chatID, html, tgbotapi.ModeHTML, replyTo)
	if err != nil && isBadRequest(err) {
		s.logger.WithField("chat_id", chatID).Debug("HTML rejected, sending plain text")
		err = s.deliver(ctx, chatID, text, "", replyTo)
	}

	if err != nil {
		s.metrics.RecordMessageSent("error")
		return fmt.Errorf("failed to send message: %w", err)
	}
	s.metrics.RecordMessageSent("success")
	return nil
}

func (s *Sender) deliver(ctx context.Context, chatID int64, text, parseMode string, replyTo int) error {
	return s.policy.Do(ctx, func(ctx context.Context) error {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}

		msg := tgbotapi.NewMessage(chatID, text)
		msg.ParseMode = parseMode
		msg.ReplyToMessageID = replyTo
		msg.DisableWebPagePreview = true

		_, err := s.api.Send(msg)
		return AdaptError(err)
	})
}

// AdaptError turns a Telegram "retry after" response into a flood-wait error.
// Other errors are returned unchanged.
func AdaptError(err error) error {
	if err == nil {
		return nil
	}
	if apiErr, ok := asAPIError(err); ok && apiErr.RetryAfter > 0 {
		return &retry.FloodWaitError{
			Wait: time.Duration(apiErr.RetryAfter) * time.Second,
			Err:  err,
		}
	}
	return err
}

func isBadRequest(err error) bool {
	apiErr, ok := asAPIError(err)
	return ok && apiErr.Code == http.StatusBadRequest
}

func asAPIError(err error) (*tgbotapi.Error, bool) {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) && apiErr != nil {
		return apiErr, true
	}
	return nil, false
}
