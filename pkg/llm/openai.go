package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// OpenAIConfig configures an OpenAI-compatible chat completions endpoint.
type OpenAIConfig struct {
	Endpoint    string // e.g. https://api.openai.com/v1 or http://localhost:11434/v1
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float32
	Timeout     time.Duration
}

// OpenAICompat sends one user message with a text part and an inline PNG.
type OpenAICompat struct {
	config OpenAIConfig
	client *http.Client
	logger *zap.Logger
}

// NewOpenAICompat creates an OpenAI-compatible provider.
func NewOpenAICompat(cfg OpenAIConfig, logger *zap.Logger) *OpenAICompat {
	if cfg.Timeout == 0 {
		cfg.Timeout = 180 * time.Second
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = "https://api.openai.com/v1"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OpenAICompat{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.Named("llm.openai"),
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float32       `json:"temperature"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"` // "text" or "image_url"
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

// Complete implements core.VisionLanguageModel.
func (p *OpenAICompat) Complete(ctx context.Context, prompt string, imagePNG []byte) (string, error) {
	parts := []contentPart{{Type: "text", Text: prompt}}
	if len(imagePNG) > 0 {
		parts = append(parts, contentPart{
			Type:     "image_url",
			ImageURL: &imageURL{URL: "data:image/png;base64," + base64.StdEncoding.EncodeToString(imagePNG)},
		})
	}

	body, err := json.Marshal(chatRequest{
		Model:       p.config.Model,
		Messages:    []chatMessage{{Role: "user", Content: parts}},
		MaxTokens:   p.config.MaxTokens,
		Temperature: p.config.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	chatURL := strings.TrimSuffix(p.config.Endpoint, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, chatURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.config.APIKey)
	}

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := gjson.GetBytes(respBody, "error.message").String()
		if msg == "" {
			msg = strings.TrimSpace(string(respBody))
		}
		return "", fmt.Errorf("API error (status %d): %s", resp.StatusCode, msg)
	}

	content := gjson.GetBytes(respBody, "choices.0.message.content")
	if !content.Exists() {
		return "", fmt.Errorf("no choices in response")
	}

	p.logger.Debug("chat completion",
		zap.String("model", p.config.Model),
		zap.Duration("duration", time.Since(start)),
		zap.Int64("prompt_tokens", gjson.GetBytes(respBody, "usage.prompt_tokens").Int()),
		zap.Int64("completion_tokens", gjson.GetBytes(respBody, "usage.completion_tokens").Int()),
		zap.String("finish_reason", gjson.GetBytes(respBody, "choices.0.finish_reason").String()))

	return content.String(), nil
}
