package status

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hat-ai-tgbot-go/internal/services/ai"
	"github.com/hat-ai-tgbot-go/internal/services/cache"
)

// Generator exposes the generation client settings
type Generator interface {
	Enabled() bool
	Backend() ai.Backend
	Sampling() ai.Sampling
}

// TriggerInfo exposes the classifier settings
type TriggerInfo interface {
	AllowListSize() int
	TriggerWords() []string
}

// Sized is a registry with a current entry count
type Sized interface {
	Len() int
}

// Snapshot is a read-only view of the running bot
type Snapshot struct {
	Enabled       bool     `json:"enabled"`
	Provider      string   `json:"provider"`
	Reachable     bool     `json:"reachable"`
	Model         string   `json:"model"`
	Endpoint      string   `json:"endpoint"`
	AllowListSize int      `json:"allow_list_size"`
	TriggerWords  []string `json:"trigger_words"`
	Temperature   float64  `json:"temperature"`
	MaxTokens     int      `json:"max_tokens"`
	ActiveWindows int      `json:"active_windows"`
	ActiveChats   int      `json:"active_chats"`
	Uptime        string   `json:"uptime"`
}

// Service builds snapshots
type Service struct {
	generator Generator
	trigger   TriggerInfo
	windows   Sized
	chats     Sized
	probes    cache.Service
	started   time.Time
	now       func() time.Time
}

// NewService creates a status service
func NewService(generator Generator, trigger TriggerInfo, windows, chats Sized, probes cache.Service) *Service {
	return &Service{
		generator: generator,
		trigger:   trigger,
		windows:   windows,
		chats:     chats,
		probes:    probes,
		started:   time.Now(),
		now:       time.Now,
	}
}

// Snapshot collects the current state. Reachability comes from the probe cache.
func (s *Service) Snapshot(ctx context.Context) Snapshot {
	backend := s.generator.Backend()
	sampling := s.generator.Sampling()

	snap := Snapshot{
		Enabled:       s.generator.Enabled(),
		Provider:      backend.Name(),
		Model:         backend.Model(),
		Endpoint:      backend.Endpoint(),
		AllowListSize: s.trigger.AllowListSize(),
		TriggerWords:  s.trigger.TriggerWords(),
		Temperature:   sampling.Temperature,
		MaxTokens:     sampling.MaxTokens,
		ActiveWindows: s.windows.Len(),
		ActiveChats:   s.chats.Len(),
		Uptime:        s.now().Sub(s.started).Truncate(time.Second).String(),
	}
	if snap.Enabled {
		snap.Reachable = s.probes.Probe(ctx, backend).Reachable
	}
	return snap
}

// Status satisfies the metrics router's status hook
func (s *Service) Status(ctx context.Context) interface{} {
	return s.Snapshot(ctx)
}

// Format renders a snapshot as plain text
func Format(snap Snapshot) string {
	yesNo := func(b bool) string {
		if b {
			return "yes"
		}
		return "no"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "enabled: %s\n", yesNo(snap.Enabled))
	fmt.Fprintf(&sb, "provider: %s\n", snap.Provider)
	fmt.Fprintf(&sb, "reachable: %s\n", yesNo(snap.Reachable))
	fmt.Fprintf(&sb, "model: %s\n", snap.Model)
	fmt.Fprintf(&sb, "endpoint: %s\n", snap.Endpoint)
	fmt.Fprintf(&sb, "allowed chats: %d\n", snap.AllowListSize)
	fmt.Fprintf(&sb, "trigger words: %s\n", strings.Join(snap.TriggerWords, ", "))
	fmt.Fprintf(&sb, "temperature: %.2f\n", snap.Temperature)
	fmt.Fprintf(&sb, "max tokens: %d\n", snap.MaxTokens)
	fmt.Fprintf(&sb, "rate windows: %d\n", snap.ActiveWindows)
	fmt.Fprintf(&sb, "conversations: %d\n", snap.ActiveChats)
	fmt.Fprintf(&sb, "uptime: %s", snap.Uptime)
	return sb.String()
}

// TemplateData returns the snapshot as localizer template data
func (s Snapshot) TemplateData() map[string]interface{} {
	return map[string]interface{}{
		"Enabled":       s.Enabled,
		"Provider":      s.Provider,
		"Model":         s.Model,
		"Endpoint":      s.Endpoint,
		"Reachable":     s.Reachable,
		"AllowListSize": s.AllowListSize,
		"TriggerWords":  strings.Join(s.TriggerWords, ", "),
		"Temperature":   s.Temperature,
		"MaxTokens":     s.MaxTokens,
		"ActiveWindows": s.ActiveWindows,
		"ActiveChats":   s.ActiveChats,
		"Uptime":        s.Uptime,
	}
}
