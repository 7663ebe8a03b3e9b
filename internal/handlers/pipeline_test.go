package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hat-ai-tgbot-go/internal/config"
	"github.com/hat-ai-tgbot-go/internal/i18n"
	"github.com/hat-ai-tgbot-go/internal/middleware"
	"github.com/hat-ai-tgbot-go/internal/models"
	"github.com/hat-ai-tgbot-go/internal/services/ai"
	"github.com/hat-ai-tgbot-go/internal/services/storage"
	"github.com/hat-ai-tgbot-go/internal/services/trigger"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubGenerator struct {
	mu      sync.Mutex
	reply   string
	ok      bool
	panics  bool
	content []string
}

func (g *stubGenerator) Generate(_ context.Context, content string, _ ai.GenerationContext) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.panics {
		panic("backend exploded")
	}
	g.content = append(g.content, content)
	return g.reply, g.ok
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func testConfig() *config.Config {
	return &config.Config{
		Bot: config.BotConfig{OwnerID: "1"},
		AI: config.AIConfig{
			Enabled:        true,
			Provider:       config.ProviderOllama,
			Temperature:    config.DefaultTemperature,
			MaxTokens:      config.DefaultMaxTokens,
			RequestTimeout: 5 * time.Second,
			MaxRetries:     0,
		},
		Trigger: config.TriggerConfig{
			AllowedChats: []string{"-1001234"},
			TriggerWords: []string{"bot", "бот"},
		},
		RateLimit: config.RateLimitConfig{Enabled: true, Window: time.Minute, MaxRequests: 2},
		Context:   config.ContextConfig{MaxMessages: 10, TTL: 30 * time.Minute},
		Security:  config.SecurityConfig{MaxMessageLength: 20},
		I18n:      config.I18nConfig{DefaultLanguage: "uk"},
	}
}

func newTestPipeline(cfg *config.Config, gen Generator) (*Pipeline, *storage.Memory) {
	logger := quietLogger()
	memory := storage.NewMemory(&cfg.Context, logger)
	p := NewPipeline(
		trigger.New(trigger.OptionsFromConfig(cfg)),
		middleware.NewSecurityMiddleware(cfg.Security.MaxMessageLength, logger),
		middleware.NewRateLimiter(cfg, logger),
		gen,
		memory,
		middleware.NewMetrics(),
		logger,
	)
	return p, memory
}

func privateEvent(text string) models.Event {
	return models.Event{Text: text, ChatID: "42", ChatType: models.ChatPrivate, SenderID: "7"}
}

func TestProcessEndToEndWithOllama(t *testing.T) {
	var got struct {
		Messages []models.Message `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"message":{"role":"assistant","content":"Привіт!"}}`))
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.AI.Ollama = config.OllamaConfig{BaseURL: srv.URL, Model: "llama3.1"}

	localizer, err := i18n.NewLocalizer(&cfg.I18n)
	require.NoError(t, err)
	backend, err := ai.NewBackend(&cfg.AI, srv.Client())
	require.NoError(t, err)

	logger := quietLogger()
	memory := storage.NewMemory(&cfg.Context, logger)
	client := ai.NewClient(cfg, backend, memory, localizer, middleware.NewMetrics(), logger)
	p := NewPipeline(
		trigger.New(trigger.OptionsFromConfig(cfg)),
		middleware.NewSecurityMiddleware(cfg.Security.MaxMessageLength, logger),
		middleware.NewRateLimiter(cfg, logger),
		client,
		memory,
		middleware.NewMetrics(),
		logger,
	)

	reply, ok := p.Process(context.Background(), privateEvent("шляпа привіт"))

	require.True(t, ok)
	assert.Equal(t, "Привіт!", reply)

	turns := memory.Read("42")
	require.Len(t, turns, 2)
	assert.Equal(t, models.RoleUser, turns[0].Role)
	assert.Equal(t, "привіт", turns[0].Content)
	assert.Equal(t, models.RoleAssistant, turns[1].Role)
	assert.Equal(t, "Привіт!", turns[1].Content)

	require.Len(t, got.Messages, 2)
	assert.Equal(t, models.RoleSystem, got.Messages[0].Role)
	assert.True(t, strings.HasPrefix(got.Messages[0].Content, "Тебе звати Шляпа"))
	assert.Equal(t, models.Message{Role: models.RoleUser, Content: "привіт"}, got.Messages[1])
}

func TestProcessOversizedMessage(t *testing.T) {
	gen := &stubGenerator{reply: "ok", ok: true}
	p, memory := newTestPipeline(testConfig(), gen)
	memory.Append("42", models.RoleUser, "раніше")

	_, ok := p.Process(context.Background(), privateEvent("bot "+strings.Repeat("я", 30)))

	assert.False(t, ok)
	assert.Empty(t, gen.content)
	require.Len(t, memory.Read("42"), 1)
}

func TestProcessFailedGenerationKeepsHistory(t *testing.T) {
	gen := &stubGenerator{ok: false}
	p, memory := newTestPipeline(testConfig(), gen)

	_, ok := p.Process(context.Background(), privateEvent("bot привіт"))

	assert.False(t, ok)
	assert.Len(t, gen.content, 1)
	assert.Empty(t, memory.Read("42"))
}

func TestProcessNotEngaged(t *testing.T) {
	gen := &stubGenerator{reply: "ok", ok: true}
	p, _ := newTestPipeline(testConfig(), gen)

	_, ok := p.Process(context.Background(), privateEvent("просто текст"))
	assert.False(t, ok)

	ev := privateEvent("bot")
	ev.SenderID = "1"
	_, ok = p.Process(context.Background(), ev)
	assert.False(t, ok)

	ev = privateEvent("bot")
	ev.SelfOriginated = true
	_, ok = p.Process(context.Background(), ev)
	assert.False(t, ok)

	assert.Empty(t, gen.content)
}

func TestProcessRateLimited(t *testing.T) {
	gen := &stubGenerator{reply: "ok", ok: true}
	p, memory := newTestPipeline(testConfig(), gen)

	for i := 0; i < 2; i++ {
		_, ok := p.Process(context.Background(), privateEvent("bot"))
		require.True(t, ok)
	}
	_, ok := p.Process(context.Background(), privateEvent("bot"))

	assert.False(t, ok)
	assert.Len(t, gen.content, 2)
	assert.Len(t, memory.Read("42"), 4)
}

func TestProcessForwardsFullTextForTriggerWord(t *testing.T) {
	gen := &stubGenerator{reply: "ok", ok: true}
	p, _ := newTestPipeline(testConfig(), gen)

	_, ok := p.Process(context.Background(), privateEvent("hey bot, hi"))

	require.True(t, ok)
	assert.Equal(t, []string{"hey bot, hi"}, gen.content)
}

func TestProcessBareWakeWord(t *testing.T) {
	gen := &stubGenerator{reply: "ok", ok: true}
	p, _ := newTestPipeline(testConfig(), gen)

	_, ok := p.Process(context.Background(), privateEvent(" Шляпо! "))

	require.True(t, ok)
	assert.Equal(t, []string{"Шляпо!"}, gen.content)
}

func TestProcessChannelAllowList(t *testing.T) {
	gen := &stubGenerator{reply: "ok", ok: true}
	p, memory := newTestPipeline(testConfig(), gen)

	ev := models.Event{Text: "bot", ChatID: " 1234 ", ChatType: models.ChatChannel, SenderID: "9"}
	_, ok := p.Process(context.Background(), ev)
	require.True(t, ok)
	assert.Len(t, memory.Read("1234"), 2)

	ev.ChatID = "555"
	_, ok = p.Process(context.Background(), ev)
	assert.False(t, ok)
}

func TestProcessRecoversPanic(t *testing.T) {
	p, memory := newTestPipeline(testConfig(), &stubGenerator{panics: true})

	reply, ok := p.Process(context.Background(), privateEvent("bot"))

	assert.False(t, ok)
	assert.Empty(t, reply)
	assert.Empty(t, memory.Read("42"))
}

func TestNormalizeChatID(t *testing.T) {
	assert.Equal(t, "42", NormalizeChatID(" 42 "))
	assert.Equal(t, "42", NormalizeChatID("+42"))
	assert.Equal(t, "-1001234", NormalizeChatID("-1001234"))
	assert.Equal(t, "@channel", NormalizeChatID("@channel"))
}
