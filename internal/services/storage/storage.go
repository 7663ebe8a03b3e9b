package storage

import (
	"time"

	"github.com/hat-ai-tgbot-go/internal/config"
	"github.com/hat-ai-tgbot-go/internal/models"
	"github.com/hat-ai-tgbot-go/internal/syncutil"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
)

// ConversationStore defines conversation memory operations
type ConversationStore interface {
	Append(chatID string, role models.Role, content string)
	Read(chatID string) []models.ConversationTurn
	Clear(chatID string)
	Sweep(now time.Time) int
	Len() int
}

// Memory keeps a bounded, time-expiring log of turns per chat. Each log is
// replaced as a whole under its key lock.
type Memory struct {
	logs        *cache.Cache
	locks       *syncutil.KeyedMutex
	maxMessages int
	ttl         time.Duration
	logger      *logrus.Logger
	now         func() time.Time
}

// NewMemory creates conversation memory from the context settings
func NewMemory(cfg *config.ContextConfig, logger *logrus.Logger) *Memory {
	maxMessages := cfg.MaxMessages
	if maxMessages <= 0 {
		maxMessages = config.DefaultMaxMessages
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = config.DefaultContextTTL
	}

	return &Memory{
		logs:        cache.New(cache.NoExpiration, 0),
		locks:       syncutil.NewKeyedMutex(),
		maxMessages: maxMessages,
		ttl:         ttl,
		logger:      logger,
		now:         time.Now,
	}
}

// Append records a turn for the chat, pruning expired turns and trimming the
// log to the newest maxMessages entries.
func (m *Memory) Append(chatID string, role models.Role, content string) {
	unlock := m.locks.Lock(chatID)
	defer unlock()

	now := m.now()
	turns := m.fresh(m.load(chatID), now)
	turns = append(turns, models.ConversationTurn{
		Role:      role,
		Content:   content,
		CreatedAt: now,
	})
	if len(turns) > m.maxMessages {
		turns = turns[len(turns)-m.maxMessages:]
	}

	m.logs.Set(chatID, turns, cache.NoExpiration)
}

// Read returns the unexpired turns for a chat, oldest first. The stored log
// is left untouched.
func (m *Memory) Read(chatID string) []models.ConversationTurn {
	unlock := m.locks.Lock(chatID)
	defer unlock()

	return m.fresh(m.load(chatID), m.now())
}

// Clear forgets a chat's history
func (m *Memory) Clear(chatID string) {
	unlock := m.locks.Lock(chatID)
	defer unlock()

	m.logs.Delete(chatID)
}

// Sweep re-filters every log by TTL and deletes the ones left empty. It
// returns the number of chats removed.
func (m *Memory) Sweep(now time.Time) int {
	removed := 0
	for chatID := range m.logs.Items() {
		unlock := m.locks.Lock(chatID)
		turns := m.fresh(m.load(chatID), now)
		if len(turns) == 0 {
			m.logs.Delete(chatID)
			removed++
		} else {
			m.logs.Set(chatID, turns, cache.NoExpiration)
		}
		unlock()
	}

	if removed > 0 {
		m.logger.WithField("removed", removed).Debug("Swept idle conversations")
	}
	return removed
}

// Len returns the number of chats with a stored log
func (m *Memory) Len() int {
	return m.logs.ItemCount()
}

func (m *Memory) load(chatID string) []models.ConversationTurn {
	if val, found := m.logs.Get(chatID); found {
		return val.([]models.ConversationTurn)
	}
	return nil
}

// fresh copies the turns that are still within the TTL at now.
func (m *Memory) fresh(turns []models.ConversationTurn, now time.Time) []models.ConversationTurn {
	cutoff := now.Add(-m.ttl)
	out := make([]models.ConversationTurn, 0, len(turns)+1)
	for _, turn := range turns {
		if turn.CreatedAt.Before(cutoff) {
			continue
		}
		out = append(out, turn)
	}
	return out
}
