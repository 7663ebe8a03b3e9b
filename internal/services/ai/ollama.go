package ai

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/hat-ai-tgbot-go/internal/config"
	"github.com/hat-ai-tgbot-go/internal/models"
)

// OllamaBackend talks to a local Ollama server
type OllamaBackend struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewOllamaBackend creates an Ollama backend
func NewOllamaBackend(cfg config.OllamaConfig, httpClient *http.Client) *OllamaBackend {
	return &OllamaBackend{
		baseURL:    strings.TrimSpace(cfg.BaseURL),
		model:      strings.TrimSpace(cfg.Model),
		httpClient: httpClient,
	}
}

type ollamaChatRequest struct {
	Model    string           `json:"model"`
	Messages []models.Message `json:"messages"`
	Stream   bool             `json:"stream"`
	Options  ollamaOptions    `json:"options"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict"`
}

type ollamaChatResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Error string `json:"error"`
}

func (b *OllamaBackend) Name() string     { return config.ProviderOllama }
func (b *OllamaBackend) Model() string    { return b.model }
func (b *OllamaBackend) Endpoint() string { return b.baseURL }
func (b *OllamaBackend) sealed()          {}

// Ready reports missing settings
func (b *OllamaBackend) Ready() error {
	if b.baseURL == "" {
		return fmt.Errorf("%w: ollama base url is empty", ErrBackendNotReady)
	}
	if b.model == "" {
		return fmt.Errorf("%w: ollama model is empty", ErrBackendNotReady)
	}
	return nil
}

// Complete runs a non-streaming chat completion
func (b *OllamaBackend) Complete(ctx context.Context, messages []models.Message, sampling Sampling) (string, error) {
	reqBody := ollamaChatRequest{
		Model:    b.model,
		Messages: messages,
		Stream:   false,
		Options: ollamaOptions{
			Temperature: sampling.Temperature,
			NumPredict:  sampling.MaxTokens,
		},
	}

	var result ollamaChatResponse
	if err := doJSON(ctx, b.httpClient, http.MethodPost, joinURL(b.baseURL, "/api/chat"), nil, reqBody, &result); err != nil {
		return "", err
	}
	if result.Error != "" {
		return "", fmt.Errorf("ollama: %w", ErrBackendFailure)
	}
	if strings.TrimSpace(result.Message.Content) == "" {
		return "", ErrEmptyResponse
	}
	return result.Message.Content, nil
}

// Ping checks that the server answers
func (b *OllamaBackend) Ping(ctx context.Context) error {
	if err := b.Ready(); err != nil {
		return err
	}
	return doJSON(ctx, b.httpClient, http.MethodGet, joinURL(b.baseURL, "/api/tags"), nil, nil, nil)
}
