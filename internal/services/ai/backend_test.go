package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hat-ai-tgbot-go/internal/config"
	"github.com/hat-ai-tgbot-go/internal/models"
	"github.com/hat-ai-tgbot-go/internal/services/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sampleMessages = []models.Message{
	{Role: models.RoleSystem, Content: "persona"},
	{Role: models.RoleUser, Content: "привіт"},
}

func TestNewBackendSelectsProvider(t *testing.T) {
	b, err := NewBackend(&config.AIConfig{Provider: "ollama"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &OllamaBackend{}, b)

	b, err = NewBackend(&config.AIConfig{Provider: " OpenRouter "}, nil)
	require.NoError(t, err)
	assert.IsType(t, &OpenRouterBackend{}, b)
	assert.Equal(t, defaultOpenRouterAPIBase, b.Endpoint())

	_, err = NewBackend(&config.AIConfig{Provider: "gemini"}, nil)
	assert.Error(t, err)
}

func TestOllamaComplete(t *testing.T) {
	var got ollamaChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"message":{"role":"assistant","content":"Привіт!"},"done":true}`))
	}))
	defer srv.Close()

	b := NewOllamaBackend(config.OllamaConfig{BaseURL: srv.URL + "/", Model: "llama3.1"}, srv.Client())
	reply, err := b.Complete(context.Background(), sampleMessages, Sampling{Temperature: 0.7, MaxTokens: 500})

	require.NoError(t, err)
	assert.Equal(t, "Привіт!", reply)
	assert.Equal(t, "llama3.1", got.Model)
	assert.False(t, got.Stream)
	assert.Equal(t, 500, got.Options.NumPredict)
	assert.InDelta(t, 0.7, got.Options.Temperature, 1e-9)
	assert.Equal(t, sampleMessages, got.Messages)
}

func TestOllamaServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"model is loading, secret detail"}`, http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	b := NewOllamaBackend(config.OllamaConfig{BaseURL: srv.URL, Model: "m"}, srv.Client())
	_, err := b.Complete(context.Background(), sampleMessages, Sampling{})

	require.Error(t, err)
	assert.True(t, retry.IsTransient(err))
	assert.NotContains(t, err.Error(), "secret detail")
}

func TestOllamaErrorField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":"model not found"}`))
	}))
	defer srv.Close()

	b := NewOllamaBackend(config.OllamaConfig{BaseURL: srv.URL, Model: "m"}, srv.Client())
	_, err := b.Complete(context.Background(), sampleMessages, Sampling{})

	assert.ErrorIs(t, err, ErrBackendFailure)
	assert.False(t, retry.IsTransient(err))
}

func TestOpenRouterComplete(t *testing.T) {
	var got chatCompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.Equal(t, "https://example.org", r.Header.Get("HTTP-Referer"))
		assert.Equal(t, "Hat", r.Header.Get("X-Title"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"choices":[{"message":{"content":"  Привіт!  "}}]}`))
	}))
	defer srv.Close()

	b := NewOpenRouterBackend(config.OpenRouterConfig{
		BaseURL: srv.URL,
		APIKey:  "sk-test",
		Model:   "meta/llama",
		Referer: "https://example.org",
		Title:   "Hat",
	}, srv.Client())
	reply, err := b.Complete(context.Background(), sampleMessages, Sampling{Temperature: 1.1, MaxTokens: 42})

	require.NoError(t, err)
	assert.Equal(t, "  Привіт!  ", reply)
	assert.Equal(t, "meta/llama", got.Model)
	assert.Equal(t, 42, got.MaxTokens)
	assert.InDelta(t, 1.1, got.Temperature, 1e-9)
}

func TestOpenRouterClientErrorIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"bad key sk-test"}}`))
	}))
	defer srv.Close()

	b := NewOpenRouterBackend(config.OpenRouterConfig{BaseURL: srv.URL, APIKey: "sk-test", Model: "m"}, srv.Client())
	_, err := b.Complete(context.Background(), sampleMessages, Sampling{})

	var statusErr *retry.StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusUnauthorized, statusErr.Code)
	assert.False(t, retry.IsTransient(err))
	assert.NotContains(t, err.Error(), "sk-test")
}

func TestOpenRouterEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	b := NewOpenRouterBackend(config.OpenRouterConfig{BaseURL: srv.URL, APIKey: "k", Model: "m"}, srv.Client())
	_, err := b.Complete(context.Background(), sampleMessages, Sampling{})

	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestReadyReportsMissingCredential(t *testing.T) {
	b := NewOpenRouterBackend(config.OpenRouterConfig{Model: "m"}, nil)
	assert.ErrorIs(t, b.Ready(), ErrBackendNotReady)
	assert.ErrorIs(t, b.Ping(context.Background()), ErrBackendNotReady)

	o := NewOllamaBackend(config.OllamaConfig{Model: "m"}, nil)
	assert.ErrorIs(t, o.Ready(), ErrBackendNotReady)
}

func TestPing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags", "/models":
			w.Write([]byte(`{}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	o := NewOllamaBackend(config.OllamaConfig{BaseURL: srv.URL, Model: "m"}, srv.Client())
	assert.NoError(t, o.Ping(context.Background()))

	r := NewOpenRouterBackend(config.OpenRouterConfig{BaseURL: srv.URL, APIKey: "k", Model: "m"}, srv.Client())
	assert.NoError(t, r.Ping(context.Background()))
}

func TestOversizedResponseRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"message":{"content":"`))
		w.Write(bytes.Repeat([]byte("a"), maxResponseBytes))
		w.Write([]byte(`"}}`))
	}))
	defer srv.Close()

	b := NewOllamaBackend(config.OllamaConfig{BaseURL: srv.URL, Model: "m"}, srv.Client())
	_, err := b.Complete(context.Background(), sampleMessages, Sampling{})

	assert.ErrorIs(t, err, ErrResponseTooLarge)
	assert.False(t, retry.IsTransient(err))
}
