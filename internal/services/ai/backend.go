package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hat-ai-tgbot-go/internal/config"
	"github.com/hat-ai-tgbot-go/internal/models"
	"github.com/hat-ai-tgbot-go/internal/services/retry"
)

var (
	// ErrBackendNotReady is returned when a backend lacks required settings,
	// such as a credential.
	ErrBackendNotReady = errors.New("backend not ready")

	// ErrEmptyResponse is returned when the backend answered without text.
	ErrEmptyResponse = errors.New("no response from backend")

	// ErrBackendFailure is returned when the backend answered with an error
	// object. Its message is not kept.
	ErrBackendFailure = errors.New("backend reported an error")

	// ErrResponseTooLarge is returned when a reply body exceeds
	// maxResponseBytes.
	ErrResponseTooLarge = errors.New("backend response too large")
)

const maxResponseBytes = 4 << 20

// Sampling carries generation parameters
type Sampling struct {
	Temperature float64
	MaxTokens   int
}

// Backend is one of the supported generation providers. The set is closed:
// see NewBackend.
type Backend interface {
	Name() string
	Model() string
	Endpoint() string
	Ready() error
	Complete(ctx context.Context, messages []models.Message, sampling Sampling) (string, error)
	Ping(ctx context.Context) error

	sealed()
}

// NewBackend selects the provider configured in cfg.Provider
func NewBackend(cfg *config.AIConfig, httpClient *http.Client) (Backend, error) {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 120 * time.Second}
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case config.ProviderOllama:
		return NewOllamaBackend(cfg.Ollama, httpClient), nil
	case config.ProviderOpenRouter:
		return NewOpenRouterBackend(cfg.OpenRouter, httpClient), nil
	default:
		return nil, fmt.Errorf("unsupported ai provider: %q", cfg.Provider)
	}
}

// doJSON sends a JSON request and decodes a 200 reply into out. Non-200
// replies become *retry.StatusError without the body.
func doJSON(ctx context.Context, client *http.Client, method, url string, headers map[string]string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		jsonData, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return &retry.StatusError{Code: resp.StatusCode}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if len(data) > maxResponseBytes {
		return ErrResponseTooLarge
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func joinURL(base, path string) string {
	return strings.TrimSuffix(base, "/") + path
}
