package models

import (
	"time"
)

// Role tags a message for the generation backend
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatType is the transport's chat classification
type ChatType string

const (
	ChatPrivate ChatType = "private"
	ChatGroup   ChatType = "group"
	ChatChannel ChatType = "channel"
)

// Message represents a chat message sent to a backend
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ConversationTurn is one stored exchange unit. Immutable once created.
type ConversationTurn struct {
	Role      Role
	Content   string
	CreatedAt time.Time
}

// RateWindow is the per-sender fixed counting window
type RateWindow struct {
	Count         int
	WindowResetAt time.Time
}

// Expired reports whether the window has lapsed at now.
func (w RateWindow) Expired(now time.Time) bool {
	return now.After(w.WindowResetAt)
}

// Event is an inbound message as delivered by the transport
type Event struct {
	Text           string
	ChatID         string
	ChatType       ChatType
	SenderID       string
	SelfOriginated bool
	MessageID      int
}

// ToMessages converts stored turns into backend messages.
func ToMessages(turns []ConversationTurn) []Message {
	out := make([]Message, 0, len(turns))
	for _, turn := range turns {
		out = append(out, Message{Role: turn.Role, Content: turn.Content})
	}
	return out
}

// ProbeResult is a cached backend reachability check
type ProbeResult struct {
	Reachable bool
	CheckedAt time.Time
}
