package llm

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

// GeminiConfig configures the Gemini API provider.
type GeminiConfig struct {
	Endpoint    string // optional base URL override
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float32
	Timeout     time.Duration
}

// Gemini calls Models.GenerateContent with a text part and an inline PNG part.
type Gemini struct {
	config GeminiConfig
	client *genai.Client
	logger *zap.Logger
}

// NewGemini creates a Gemini provider.
func NewGemini(ctx context.Context, cfg GeminiConfig, logger *zap.Logger) (*Gemini, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.Endpoint != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.Endpoint}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &Gemini{config: cfg, client: client, logger: logger.Named("llm.gemini")}, nil
}

// Complete implements core.VisionLanguageModel.
func (g *Gemini) Complete(ctx context.Context, prompt string, imagePNG []byte) (string, error) {
	if g.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.config.Timeout)
		defer cancel()
	}

	parts := []*genai.Part{genai.NewPartFromText(prompt)}
	if len(imagePNG) > 0 {
		parts = append(parts, genai.NewPartFromBytes(imagePNG, "image/png"))
	}

	genCfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(g.config.Temperature),
	}
	if g.config.MaxTokens > 0 {
		genCfg.MaxOutputTokens = int32(g.config.MaxTokens)
	}

	start := time.Now()
	resp, err := g.client.Models.GenerateContent(ctx, g.config.Model,
		[]*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}, genCfg)
	if err != nil {
		return "", fmt.Errorf("gemini generate content: %w", err)
	}

	text := resp.Text()
	if text == "" {
		reason := ""
		if len(resp.Candidates) > 0 {
			reason = string(resp.Candidates[0].FinishReason)
		}
		return "", fmt.Errorf("gemini returned no text (finish reason %q)", reason)
	}

	g.logger.Debug("generate content",
		zap.String("model", g.config.Model),
		zap.Duration("duration", time.Since(start)))
	return text, nil
}
