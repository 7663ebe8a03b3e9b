package handlers

import (
	"context"
	"strings"

	"github.com/hat-ai-tgbot-go/internal/i18n"
	"github.com/hat-ai-tgbot-go/internal/services/status"
	"github.com/hat-ai-tgbot-go/internal/services/storage"
	"github.com/sirupsen/logrus"
)

// Command is a parsed slash command
type Command struct {
	Name     string
	Args     string
	ChatID   string
	SenderID string
}

// StatusSource provides the current status snapshot
type StatusSource interface {
	Snapshot(ctx context.Context) status.Snapshot
}

// LimitResetter forgets a sender's rate window
type LimitResetter interface {
	Reset(senderID string)
}

// CommandHandler handles owner commands
type CommandHandler struct {
	ownerID   string
	status    StatusSource
	memory    storage.ConversationStore
	limits    LimitResetter
	localizer *i18n.Localizer
	logger    *logrus.Logger
}

// NewCommandHandler creates a new command handler
func NewCommandHandler(
	ownerID string,
	status StatusSource,
	memory storage.ConversationStore,
	limits LimitResetter,
	localizer *i18n.Localizer,
	logger *logrus.Logger,
) *CommandHandler {
	return &CommandHandler{
		ownerID:   strings.TrimSpace(ownerID),
		status:    status,
		memory:    memory,
		limits:    limits,
		localizer: localizer,
		logger:    logger,
	}
}

// HandleCommand returns the reply for cmd. Commands from anyone but the
// owner are ignored.
func (h *CommandHandler) HandleCommand(ctx context.Context, cmd Command) (string, bool) {
	if h.ownerID == "" || strings.TrimSpace(cmd.SenderID) != h.ownerID {
		h.logger.WithFields(logrus.Fields{
			"command":   cmd.Name,
			"sender_id": cmd.SenderID,
		}).Debug("Ignoring command from non-owner")
		return "", false
	}

	lang := h.localizer.DefaultLanguage()
	chatID := NormalizeChatID(cmd.ChatID)

	switch strings.ToLower(cmd.Name) {
	case "status":
		snap := h.status.Snapshot(ctx)
		return h.localizer.Get(lang, i18n.MsgStatus, snap.TemplateData()), true
	case "clear":
		h.memory.Clear(chatID)
		h.logger.WithField("chat_id", chatID).Info("Conversation history cleared")
		return h.localizer.Get(lang, i18n.MsgHistoryCleared, nil), true
	case "reset":
		args := strings.Fields(cmd.Args)
		if len(args) != 1 {
			return h.localizer.Get(lang, i18n.MsgResetUsage, nil), true
		}
		h.limits.Reset(args[0])
		h.logger.WithField("sender_id", args[0]).Info("Rate limit window reset")
		return h.localizer.Get(lang, i18n.MsgRateReset, map[string]interface{}{"SenderID": args[0]}), true
	default:
		return h.localizer.Get(lang, i18n.MsgUnknownCommand, nil), true
	}
}
