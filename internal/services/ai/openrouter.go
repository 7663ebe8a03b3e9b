package ai

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/hat-ai-tgbot-go/internal/config"
	"github.com/hat-ai-tgbot-go/internal/models"
)

const defaultOpenRouterAPIBase = "https://openrouter.ai/api/v1"

// OpenRouterBackend calls the OpenRouter chat completions API
type OpenRouterBackend struct {
	baseURL    string
	apiKey     string
	model      string
	referer    string
	title      string
	httpClient *http.Client
}

// NewOpenRouterBackend creates an OpenRouter backend
func NewOpenRouterBackend(cfg config.OpenRouterConfig, httpClient *http.Client) *OpenRouterBackend {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultOpenRouterAPIBase
	}
	return &OpenRouterBackend{
		baseURL:    baseURL,
		apiKey:     strings.TrimSpace(cfg.APIKey),
		model:      strings.TrimSpace(cfg.Model),
		referer:    strings.TrimSpace(cfg.Referer),
		title:      strings.TrimSpace(cfg.Title),
		httpClient: httpClient,
	}
}

type chatCompletionRequest struct {
	Model       string           `json:"model"`
	Messages    []models.Message `json:"messages"`
	MaxTokens   int              `json:"max_tokens"`
	Temperature float64          `json:"temperature"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error struct {
		Code    interface{} `json:"code"`
		Message string      `json:"message"`
	} `json:"error"`
}

func (b *OpenRouterBackend) Name() string     { return config.ProviderOpenRouter }
func (b *OpenRouterBackend) Model() string    { return b.model }
func (b *OpenRouterBackend) Endpoint() string { return b.baseURL }
func (b *OpenRouterBackend) sealed()          {}

// Ready reports a missing API key or model
func (b *OpenRouterBackend) Ready() error {
	if b.apiKey == "" {
		return fmt.Errorf("%w: openrouter api key is not set", ErrBackendNotReady)
	}
	if b.model == "" {
		return fmt.Errorf("%w: openrouter model is empty", ErrBackendNotReady)
	}
	return nil
}

func (b *OpenRouterBackend) headers() map[string]string {
	h := map[string]string{
		"Authorization": "Bearer " + b.apiKey,
	}
	if b.referer != "" {
		h["HTTP-Referer"] = b.referer
	}
	if b.title != "" {
		h["X-Title"] = b.title
	}
	return h
}

// Complete runs a chat completion
func (b *OpenRouterBackend) Complete(ctx context.Context, messages []models.Message, sampling Sampling) (string, error) {
	reqBody := chatCompletionRequest{
		Model:       b.model,
		Messages:    messages,
		MaxTokens:   sampling.MaxTokens,
		Temperature: sampling.Temperature,
	}

	var result chatCompletionResponse
	if err := doJSON(ctx, b.httpClient, http.MethodPost, joinURL(b.baseURL, "/chat/completions"), b.headers(), reqBody, &result); err != nil {
		return "", err
	}
	if result.Error.Message != "" {
		return "", fmt.Errorf("openrouter: %w", ErrBackendFailure)
	}
	if len(result.Choices) == 0 || strings.TrimSpace(result.Choices[0].Message.Content) == "" {
		return "", ErrEmptyResponse
	}
	return result.Choices[0].Message.Content, nil
}

// Ping lists models to confirm the API answers
func (b *OpenRouterBackend) Ping(ctx context.Context) error {
	if err := b.Ready(); err != nil {
		return err
	}
	return doJSON(ctx, b.httpClient, http.MethodGet, joinURL(b.baseURL, "/models"), b.headers(), nil, nil)
}
