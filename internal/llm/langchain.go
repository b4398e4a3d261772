package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"

	"github.com/finchat-dev/finchat/internal/config"
)

// LangchainCompleter implements Completer with a langchaingo model.
type LangchainCompleter struct {
	model       llms.Model
	temperature float64
}

// NewLangchain creates an OpenAI or Azure OpenAI backed completer. For
// Azure the model name is the deployment name.
func NewLangchain(cfg config.LLMConfig) (*LangchainCompleter, error) {
	if !cfg.APIKey.IsSet() {
		return nil, errors.New("llm api_key is required")
	}

	opts := []openai.Option{
		openai.WithToken(cfg.APIKey.Value()),
		openai.WithModel(cfg.Model),
		openai.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
	}
	if cfg.Endpoint != "" {
		opts = append(opts, openai.WithBaseURL(strings.TrimRight(cfg.Endpoint, "/")))
	}
	if cfg.APIType == "azure" {
		if cfg.Endpoint == "" {
			return nil, errors.New("llm endpoint is required for azure")
		}
		opts = append(opts,
			openai.WithAPIType(openai.APITypeAzure),
			openai.WithAPIVersion(cfg.APIVersion),
		)
	}

	model, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create langchaingo client: %w", err)
	}
	return NewLangchainWithModel(model, cfg.Temperature), nil
}

// NewLangchainWithModel wraps an existing langchaingo model.
func NewLangchainWithModel(model llms.Model, temperature float64) *LangchainCompleter {
	return &LangchainCompleter{model: model, temperature: temperature}
}

// Complete implements Completer.
func (c *LangchainCompleter) Complete(ctx context.Context, system, user string) (string, error) {
	resp, err := c.model.GenerateContent(ctx, []llms.MessageContent{
		llms.TextParts(schema.ChatMessageTypeSystem, system),
		llms.TextParts(schema.ChatMessageTypeHuman, user),
	}, llms.WithTemperature(c.temperature))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: empty response", ErrUpstream)
	}
	return resp.Choices[0].Content, nil
}
