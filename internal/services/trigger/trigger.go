// Package trigger decides whether the bot engages with a message and
// extracts the text to forward to the generation backend.
package trigger

import (
	"regexp"
	"strings"

	"github.com/hat-ai-tgbot-go/internal/config"
	"github.com/hat-ai-tgbot-go/internal/models"
	"golang.org/x/text/cases"
)

// ChannelPrefix is how the transport prefixes channel and supergroup ids.
const ChannelPrefix = "-100"

const (
	// wakeStem covers the wake-word and its inflected forms, longest
	// alternatives first.
	wakeStem = `шляп(?:ою|ами|ах|ам|очко|очка|очку|очки|ка|ку|ки|ко|а|о|и|і|у|е)?`
	boundary = `[\s\p{P}\p{S}]`
)

var (
	wakePattern  = regexp.MustCompile(`(?i)(?:^|` + boundary + `)` + wakeStem + `(?:` + boundary + `|$)`)
	stripPattern = regexp.MustCompile(`(?i)(?:^|` + boundary + `+)` + wakeStem + `(?:` + boundary + `+|$)`)
	spaceRun     = regexp.MustCompile(`[ \t]{2,}`)
)

// Options configures a Classifier
type Options struct {
	Enabled         bool
	OwnerID         string
	AllowedChats    []string
	TriggerWords    []string
	RespondInGroups bool
}

// OptionsFromConfig collects classifier options from the loaded config.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Enabled:         cfg.AI.Enabled,
		OwnerID:         cfg.Bot.OwnerID,
		AllowedChats:    cfg.Trigger.AllowedChats,
		TriggerWords:    cfg.Trigger.TriggerWords,
		RespondInGroups: cfg.Trigger.RespondInGroups,
	}
}

// Classifier is immutable after construction and safe for concurrent use.
type Classifier struct {
	enabled         bool
	ownerID         string
	allowed         map[string]struct{}
	triggerWords    []string
	rawTriggerWords []string
	respondInGroups bool
}

// New builds a classifier
func New(opts Options) *Classifier {
	c := &Classifier{
		enabled:         opts.Enabled,
		ownerID:         strings.TrimSpace(opts.OwnerID),
		allowed:         make(map[string]struct{}, len(opts.AllowedChats)),
		respondInGroups: opts.RespondInGroups,
	}
	for _, id := range opts.AllowedChats {
		if id = strings.TrimSpace(id); id != "" {
			c.allowed[id] = struct{}{}
		}
	}
	for _, word := range opts.TriggerWords {
		word = strings.TrimSpace(word)
		if word == "" {
			continue
		}
		c.rawTriggerWords = append(c.rawTriggerWords, word)
		c.triggerWords = append(c.triggerWords, fold(word))
	}
	return c
}

// ShouldEngage applies the engagement rules in order: global switch, chat
// type gate, allow-list, owner exclusion, wake-word, generic trigger words.
func (c *Classifier) ShouldEngage(text, chatID string, chatType models.ChatType, senderID string) bool {
	if !c.enabled {
		return false
	}

	isPrivate := chatType == models.ChatPrivate
	if !isPrivate {
		if len(c.allowed) == 0 {
			return false
		}
		if !c.MatchesAllowList(chatID) {
			return false
		}
	}

	if c.ownerID != "" && senderID == c.ownerID {
		return false
	}

	if text == "" {
		return false
	}

	if HasWakeWord(text) {
		return isPrivate || c.respondInGroups
	}

	folded := fold(text)
	for _, word := range c.triggerWords {
		if strings.Contains(folded, word) {
			return true
		}
	}
	return false
}

// MatchesAllowList reports whether chatID is allow-listed in either its raw
// form or its channel-prefixed equivalent.
func (c *Classifier) MatchesAllowList(chatID string) bool {
	chatID = strings.TrimSpace(chatID)
	if chatID == "" {
		return false
	}
	if _, ok := c.allowed[chatID]; ok {
		return true
	}
	_, ok := c.allowed[channelForm(chatID)]
	return ok
}

// AllowListSize returns the number of allow-listed chat ids
func (c *Classifier) AllowListSize() int {
	return len(c.allowed)
}

// TriggerWords returns the configured generic trigger words
func (c *Classifier) TriggerWords() []string {
	return append([]string(nil), c.rawTriggerWords...)
}

// HasWakeWord reports whether text contains the wake-word in any form.
func HasWakeWord(text string) bool {
	return wakePattern.MatchString(text)
}

// ExtractContent removes every wake-word together with adjacent punctuation
// and whitespace. Text without the wake-word is returned unchanged.
func ExtractContent(text string) string {
	if !stripPattern.MatchString(text) {
		return text
	}
	// One pass consumes the separator shared by back-to-back wake-words.
	cleaned := text
	for {
		next := stripPattern.ReplaceAllString(cleaned, " ")
		if next == cleaned {
			break
		}
		cleaned = next
	}
	cleaned = spaceRun.ReplaceAllString(cleaned, " ")
	return strings.TrimSpace(cleaned)
}

// channelForm toggles the channel prefix on a chat id.
func channelForm(chatID string) string {
	if strings.HasPrefix(chatID, ChannelPrefix) && len(chatID) > len(ChannelPrefix) {
		return strings.TrimPrefix(chatID, ChannelPrefix)
	}
	return ChannelPrefix + chatID
}

func fold(s string) string {
	return cases.Fold().String(s)
}
