// Package llm provides generative text model adapters implementing core.TextGenerator.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/book-expert/conversation-service/internal/core"
	"github.com/book-expert/logger"
	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-2.5-flash"

// Static errors.
var (
	ErrPromptEmpty   = errors.New("prompt cannot be empty")
	ErrAPIKeyEmpty   = errors.New("api key cannot be empty")
	ErrEmptyResponse = errors.New("model returned an empty response")
)

// ClientConfig holds the connection settings shared by the text model adapters.
type ClientConfig struct {
	APIKey     string
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
}

// GeminiClient generates text with the Gemini API.
type GeminiClient struct {
	client *genai.Client
	log    *logger.Logger
}

// NewGemini creates a Gemini text client. It is built once at startup and shared.
func NewGemini(ctx context.Context, cfg ClientConfig, log *logger.Logger) (*GeminiClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrAPIKeyEmpty
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Timeout: cfg.Timeout},
		HTTPOptions: genai.HTTPOptions{
			BaseURL: strings.TrimSpace(cfg.BaseURL),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return &GeminiClient{client: client, log: log}, nil
}

// GenerateText sends prompt to the model and returns the raw generated text.
func (g *GeminiClient) GenerateText(ctx context.Context, prompt string, opts core.TextOptions) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", ErrPromptEmpty
	}

	modelName := opts.Model
	if modelName == "" {
		modelName = defaultGeminiModel
	}

	generateConfig := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(opts.Temperature)),
	}
	if opts.MaxTokens > 0 {
		generateConfig.MaxOutputTokens = int32(opts.MaxTokens)
	}

	start := time.Now()

	response, err := g.client.Models.GenerateContent(ctx, modelName, genai.Text(prompt), generateConfig)
	if err != nil {
		return "", fmt.Errorf("gemini generate content failed for model %s: %w", modelName, err)
	}

	text := strings.TrimSpace(response.Text())
	if text == "" {
		return "", fmt.Errorf("gemini model %s: %w", modelName, ErrEmptyResponse)
	}

	g.log.Info("Gemini generated %d chars with model %s in %s", len(text), modelName, time.Since(start))

	return text, nil
}
