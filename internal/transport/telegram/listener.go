// Package telegram adapts the Telegram Bot API to the dispatch pipeline.
package telegram

import (
	"context"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hat-ai-tgbot-go/internal/handlers"
	"github.com/hat-ai-tgbot-go/internal/models"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
)

// Dispatcher decides on and produces replies
type Dispatcher interface {
	Process(ctx context.Context, ev models.Event) (string, bool)
}

// Commander handles slash commands
type Commander interface {
	HandleCommand(ctx context.Context, cmd handlers.Command) (string, bool)
}

// Replier delivers a reply
type Replier interface {
	Send(ctx context.Context, chatID int64, text string, replyTo int) error
}

// Listener reads updates and dispatches each message in its own goroutine
type Listener struct {
	selfID   int64
	pipeline Dispatcher
	commands Commander
	sender   Replier
	logger   *logrus.Logger
	wg       sync.WaitGroup

	// abandoned is cancelled when Drain gives up on in-flight handlers.
	abandoned context.Context
	abandon   context.CancelFunc
}

// NewListener creates a listener. selfID is the bot's own user id.
func NewListener(selfID int64, pipeline Dispatcher, commands Commander, sender Replier, logger *logrus.Logger) *Listener {
	abandoned, abandon := context.WithCancel(context.Background())
	return &Listener{
		selfID:    selfID,
		pipeline:  pipeline,
		commands:  commands,
		sender:    sender,
		logger:    logger,
		abandoned: abandoned,
		abandon:   abandon,
	}
}

// Run consumes updates until ctx is done or the channel closes
func (l *Listener) Run(ctx context.Context, updates <-chan tgbotapi.Update) {
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			l.Handle(ctx, update)
		}
	}
}

// Handle dispatches one update asynchronously. The handler keeps running after
// ctx is cancelled, until it finishes or Drain gives up on it.
func (l *Listener) Handle(ctx context.Context, update tgbotapi.Update) {
	msg := update.Message
	if msg == nil {
		msg = update.ChannelPost
	}
	if msg == nil || msg.Chat == nil {
		return
	}

	ev := EventFromMessage(msg, l.selfID)
	if ev.SelfOriginated {
		return
	}

	work, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(l.abandoned, cancel)

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer cancel()
		defer stop()
		defer func() {
			if r := recover(); r != nil {
				l.logger.WithFields(logrus.Fields{
					"panic":     r,
					"stack":     string(debug.Stack()),
					"update_id": update.UpdateID,
				}).Error("Recovered from panic in update handler")
			}
		}()

		var (
			reply string
			ok    bool
		)
		if msg.IsCommand() {
			reply, ok = l.commands.HandleCommand(work, handlers.Command{
				Name:     msg.Command(),
				Args:     strings.TrimSpace(msg.CommandArguments()),
				ChatID:   ev.ChatID,
				SenderID: ev.SenderID,
			})
		} else {
			reply, ok = l.pipeline.Process(work, ev)
		}
		if !ok {
			return
		}

		if err := l.sender.Send(work, msg.Chat.ID, reply, msg.MessageID); err != nil {
			l.logger.WithError(err).WithField("chat_id", msg.Chat.ID).Error("Failed to deliver reply")
		}
	}()
}

// Wait blocks until in-flight handlers finish
func (l *Listener) Wait() {
	l.wg.Wait()
}

// Drain waits up to timeout for in-flight handlers. On timeout their contexts
// are cancelled and Drain returns false without waiting further.
func (l *Listener) Drain(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		return true
	case <-timer.C:
		l.abandon()
		return false
	}
}

// EventFromMessage converts a Telegram message into a pipeline event
func EventFromMessage(msg *tgbotapi.Message, selfID int64) models.Event {
	text := msg.Text
	if text == "" {
		text = msg.Caption
	}

	ev := models.Event{
		Text:      text,
		ChatID:    strconv.FormatInt(msg.Chat.ID, 10),
		ChatType:  ChatTypeOf(msg.Chat),
		MessageID: msg.MessageID,
	}
	if msg.From != nil {
		ev.SenderID = strconv.FormatInt(msg.From.ID, 10)
		ev.SelfOriginated = selfID != 0 && msg.From.ID == selfID
	}
	return ev
}

// ChatTypeOf maps Telegram chat types onto the pipeline's three kinds
func ChatTypeOf(chat *tgbotapi.Chat) models.ChatType {
	switch {
	case chat.IsPrivate():
		return models.ChatPrivate
	case chat.IsChannel():
		return models.ChatChannel
	default:
		return models.ChatGroup
	}
}
