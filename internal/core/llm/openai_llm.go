package llm

import (
	"context"
	"fmt"
	"net/http"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/markdave123-py/Structa/internal/core"
)

// Generation settings used by the linked-data conversion.
const (
	defaultTemperature = 0.5
	defaultMaxTokens   = 1500
)

var _ core.LLMProvider = (*OpenAILLM)(nil)

type OpenAIConfig struct {
	APIKey    string
	Model     string
	ProjectID string

	// BaseURL and HTTPClient are only needed for compatible gateways and tests.
	BaseURL    string
	HTTPClient *http.Client
}

type OpenAILLM struct {
	client openai.Client
	model  string
}

func NewOpenAILLM(cfg OpenAIConfig) (*OpenAILLM, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
	}
	if cfg.ProjectID != "" {
		opts = append(opts, option.WithProject(cfg.ProjectID))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	return &OpenAILLM{
		client: openai.NewClient(opts...),
		model:  cfg.Model,
	}, nil
}

func (o *OpenAILLM) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	var messages []openai.ChatCompletionMessageParamUnion
	if systemPrompt != "" {
		messages = append(messages, openai.SystemMessage(systemPrompt))
	}
	messages = append(messages, openai.UserMessage(userPrompt))

	completion, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:               o.model,
		Messages:            messages,
		Temperature:         openai.Float(defaultTemperature),
		MaxCompletionTokens: openai.Int(defaultMaxTokens),
	})
	if err != nil {
		return "", fmt.Errorf("openai generate: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", nil
	}
	return completion.Choices[0].Message.Content, nil
}
