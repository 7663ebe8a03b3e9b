package ai

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/hat-ai-tgbot-go/internal/config"
	"github.com/hat-ai-tgbot-go/internal/middleware"
	"github.com/hat-ai-tgbot-go/internal/models"
	"github.com/hat-ai-tgbot-go/internal/services/retry"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedBackend struct {
	mu       sync.Mutex
	replies  []string
	errs     []error
	calls    int
	notReady error
	seen     [][]models.Message
}

func (b *scriptedBackend) Name() string     { return "scripted" }
func (b *scriptedBackend) Model() string    { return "test-model" }
func (b *scriptedBackend) Endpoint() string { return "memory://" }
func (b *scriptedBackend) Ready() error     { return b.notReady }
func (b *scriptedBackend) sealed()          {}

func (b *scriptedBackend) Ping(context.Context) error { return b.notReady }

func (b *scriptedBackend) Complete(_ context.Context, messages []models.Message, _ Sampling) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	i := b.calls
	b.calls++
	b.seen = append(b.seen, messages)
	if i < len(b.errs) && b.errs[i] != nil {
		return "", b.errs[i]
	}
	if i < len(b.replies) {
		return b.replies[i], nil
	}
	return "", ErrEmptyResponse
}

type staticHistory map[string][]models.ConversationTurn

func (h staticHistory) Read(chatID string) []models.ConversationTurn {
	return h[chatID]
}

type staticPrompts string

func (p staticPrompts) SystemPrompt(string, models.ChatType) string {
	return string(p)
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

type sleepRecorder struct {
	delays []time.Duration
}

func (s *sleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return ctx.Err()
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func testConfig() *config.Config {
	return &config.Config{
		AI: config.AIConfig{
			Enabled:        true,
			Provider:       config.ProviderOllama,
			Temperature:    config.DefaultTemperature,
			MaxTokens:      config.DefaultMaxTokens,
			RequestTimeout: time.Second,
			MaxRetries:     config.DefaultMaxRetries,
		},
		I18n: config.I18nConfig{DefaultLanguage: "uk"},
	}
}

func newTestClient(cfg *config.Config, backend Backend, history HistoryReader) (*Client, *sleepRecorder) {
	c := NewClient(cfg, backend, history, staticPrompts("persona"), middleware.NewMetrics(), quietLogger())
	sleeper := &sleepRecorder{}
	c.policy.(*retry.Backoff).Sleep = sleeper.Sleep
	return c, sleeper
}

func TestBuildMessagesOrder(t *testing.T) {
	now := time.Now()
	history := staticHistory{
		"42": {
			{Role: models.RoleUser, Content: "перше", CreatedAt: now},
			{Role: models.RoleAssistant, Content: "відповідь", CreatedAt: now},
		},
	}
	c, _ := newTestClient(testConfig(), &scriptedBackend{}, history)

	msgs := c.BuildMessages("друге", GenerationContext{ChatID: "42", ChatType: models.ChatGroup})

	assert.Equal(t, []models.Message{
		{Role: models.RoleSystem, Content: "persona"},
		{Role: models.RoleUser, Content: "перше"},
		{Role: models.RoleAssistant, Content: "відповідь"},
		{Role: models.RoleUser, Content: "друге"},
	}, msgs)
}

func TestBuildMessagesWithoutChatID(t *testing.T) {
	history := staticHistory{"": {{Role: models.RoleUser, Content: "stray"}}}
	c, _ := newTestClient(testConfig(), &scriptedBackend{}, history)

	msgs := c.BuildMessages("hi", GenerationContext{})

	require.Len(t, msgs, 2)
	assert.Equal(t, models.RoleSystem, msgs[0].Role)
	assert.Equal(t, "hi", msgs[1].Content)
}

func TestGenerateTrimsReply(t *testing.T) {
	backend := &scriptedBackend{replies: []string{"  Привіт!\n"}}
	c, sleeper := newTestClient(testConfig(), backend, nil)

	reply, ok := c.Generate(context.Background(), "привіт", GenerationContext{ChatID: "1"})

	assert.True(t, ok)
	assert.Equal(t, "Привіт!", reply)
	assert.Empty(t, sleeper.delays)
	assert.Equal(t, 1, backend.calls)
}

func TestGenerateRetriesTimeouts(t *testing.T) {
	backend := &scriptedBackend{
		errs:    []error{timeoutErr{}, timeoutErr{}, nil},
		replies: []string{"", "", "готово"},
	}
	c, sleeper := newTestClient(testConfig(), backend, nil)

	reply, ok := c.Generate(context.Background(), "питання", GenerationContext{ChatID: "1"})

	assert.True(t, ok)
	assert.Equal(t, "готово", reply)
	assert.Equal(t, 3, backend.calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, sleeper.delays)
}

func TestGenerateGivesUpAfterRetries(t *testing.T) {
	backend := &scriptedBackend{
		errs: []error{timeoutErr{}, timeoutErr{}, timeoutErr{}, nil},
	}
	c, sleeper := newTestClient(testConfig(), backend, nil)

	_, ok := c.Generate(context.Background(), "питання", GenerationContext{ChatID: "1"})

	assert.False(t, ok)
	assert.Equal(t, 3, backend.calls)
	assert.Len(t, sleeper.delays, 2)
}

func TestGeneratePermanentErrorNotRetried(t *testing.T) {
	backend := &scriptedBackend{errs: []error{&retry.StatusError{Code: 401}}}
	c, sleeper := newTestClient(testConfig(), backend, nil)

	_, ok := c.Generate(context.Background(), "питання", GenerationContext{ChatID: "1"})

	assert.False(t, ok)
	assert.Equal(t, 1, backend.calls)
	assert.Empty(t, sleeper.delays)
}

func TestGenerateBackendNotReady(t *testing.T) {
	backend := &scriptedBackend{notReady: errors.New("missing key")}
	c, _ := newTestClient(testConfig(), backend, nil)

	_, ok := c.Generate(context.Background(), "питання", GenerationContext{ChatID: "1"})

	assert.False(t, ok)
	assert.Zero(t, backend.calls)
}

func TestGenerateMissingOpenRouterKey(t *testing.T) {
	cfg := testConfig()
	cfg.AI.Provider = config.ProviderOpenRouter
	cfg.AI.OpenRouter = config.OpenRouterConfig{Model: "meta/llama"}
	backend, err := NewBackend(&cfg.AI, nil)
	require.NoError(t, err)

	c, _ := newTestClient(cfg, backend, nil)
	_, ok := c.Generate(context.Background(), "питання", GenerationContext{ChatID: "1"})

	assert.False(t, ok)
}

func TestGenerateDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.AI.Enabled = false
	backend := &scriptedBackend{replies: []string{"ok"}}
	c, _ := newTestClient(cfg, backend, nil)

	_, ok := c.Generate(context.Background(), "питання", GenerationContext{ChatID: "1"})

	assert.False(t, ok)
	assert.False(t, c.Enabled())
	assert.Zero(t, backend.calls)
}

func TestGenerateWhitespaceReply(t *testing.T) {
	backend := &scriptedBackend{replies: []string{"   "}}
	c, _ := newTestClient(testConfig(), backend, nil)

	_, ok := c.Generate(context.Background(), "питання", GenerationContext{ChatID: "1"})

	assert.False(t, ok)
}

func TestGenerateSendsHistory(t *testing.T) {
	history := staticHistory{
		"7": {{Role: models.RoleUser, Content: "раніше"}},
	}
	backend := &scriptedBackend{replies: []string{"ok"}}
	c, _ := newTestClient(testConfig(), backend, history)

	_, ok := c.Generate(context.Background(), "зараз", GenerationContext{ChatID: "7"})

	require.True(t, ok)
	require.Len(t, backend.seen, 1)
	assert.Len(t, backend.seen[0], 3)
	assert.Equal(t, "раніше", backend.seen[0][1].Content)
}
