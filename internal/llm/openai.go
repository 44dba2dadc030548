package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/book-expert/conversation-service/internal/core"
	"github.com/book-expert/logger"
	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/responses"
	"github.com/openai/openai-go/v3/shared"
)

const defaultOpenAIModel = "gpt-4o-mini"

// OpenAIClient generates text with the OpenAI Responses API.
type OpenAIClient struct {
	client openai.Client
	log    *logger.Logger
}

// NewOpenAI creates an OpenAI text client. Transport retries are delegated to the SDK.
func NewOpenAI(cfg ClientConfig, log *logger.Logger) (*OpenAIClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrAPIKeyEmpty
	}

	requestOpts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		requestOpts = append(requestOpts, option.WithBaseURL(cfg.BaseURL))
	}

	if cfg.Timeout > 0 {
		requestOpts = append(requestOpts, option.WithRequestTimeout(cfg.Timeout))
	}

	return &OpenAIClient{client: openai.NewClient(requestOpts...), log: log}, nil
}

// GenerateText sends prompt to the model and returns the raw generated text.
func (o *OpenAIClient) GenerateText(ctx context.Context, prompt string, opts core.TextOptions) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", ErrPromptEmpty
	}

	modelName := opts.Model
	if modelName == "" {
		modelName = defaultOpenAIModel
	}

	params := responses.ResponseNewParams{
		Input: responses.ResponseNewParamsInputUnion{
			OfString: openai.String(prompt),
		},
		Model:       shared.ResponsesModel(modelName),
		Temperature: openai.Float(opts.Temperature),
	}
	if opts.MaxTokens > 0 {
		params.MaxOutputTokens = openai.Int(int64(opts.MaxTokens))
	}

	start := time.Now()

	response, err := o.client.Responses.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai responses call failed for model %s: %w", modelName, err)
	}

	text := strings.TrimSpace(response.OutputText())
	if text == "" {
		return "", fmt.Errorf("openai model %s: %w", modelName, ErrEmptyResponse)
	}

	o.log.Info("OpenAI generated %d chars with model %s in %s", len(text), modelName, time.Since(start))

	return text, nil
}
