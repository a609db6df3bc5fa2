package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/sashabaranov/go-openai"

	"github.com/GRECA-CT-UFSM/P4-and-LLM/internal/prompt"
)

// OpenAIBackend is the hosted provider. It asks for a JSON object response.
type OpenAIBackend struct {
	client      *openai.Client
	model       string
	temperature float32
}

func NewOpenAIBackend(apiKey, baseURL, model string, temperature float32) (*OpenAIBackend, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("hosted provider: %w", ErrMissingCredential)
	}

	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}

	return &OpenAIBackend{
		client:      openai.NewClientWithConfig(cfg),
		model:       model,
		temperature: temperature,
	}, nil
}

func (o *OpenAIBackend) Name() string {
	return "openai"
}

func (o *OpenAIBackend) Complete(ctx context.Context, messages []prompt.Message) (string, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       o.model,
		Messages:    msgs,
		Temperature: o.temperature,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("openai request timeout: %w", err)
		}
		if errors.Is(err, context.Canceled) {
			return "", fmt.Errorf("openai request canceled: %w", err)
		}
		return "", fmt.Errorf("openai api error: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Message.Content, nil
}
