package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/finchat-dev/finchat/internal/config"
)

// EinoCompleter implements Completer with an eino chat model.
type EinoCompleter struct {
	model model.BaseChatModel
}

// NewEino creates an eino OpenAI chat model, targeting Azure when the API
// type is azure.
func NewEino(ctx context.Context, cfg config.LLMConfig) (*EinoCompleter, error) {
	if !cfg.APIKey.IsSet() {
		return nil, errors.New("llm api_key is required")
	}

	temperature := float32(cfg.Temperature)
	chatModel, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
		APIKey:      cfg.APIKey.Value(),
		BaseURL:     cfg.Endpoint,
		Model:       cfg.Model,
		Timeout:     cfg.Timeout,
		ByAzure:     cfg.APIType == "azure",
		APIVersion:  cfg.APIVersion,
		Temperature: &temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create eino chat model: %w", err)
	}
	return NewEinoWithModel(chatModel), nil
}

// NewEinoWithModel wraps an existing eino chat model.
func NewEinoWithModel(m model.BaseChatModel) *EinoCompleter {
	return &EinoCompleter{model: m}
}

// Complete implements Completer.
func (c *EinoCompleter) Complete(ctx context.Context, system, user string) (string, error) {
	resp, err := c.model.Generate(ctx, []*schema.Message{
		schema.SystemMessage(system),
		schema.UserMessage(user),
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	if resp == nil {
		return "", fmt.Errorf("%w: empty response", ErrUpstream)
	}
	return resp.Content, nil
}
