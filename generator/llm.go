package generator

import (
	"context"
	"errors"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// LLMClient abstracts the language model so generation logic can be
// tested against a fake.
type LLMClient interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// OpenAILLM implements LLMClient over the official openai-go SDK.
type OpenAILLM struct {
	model string
	opts  []option.RequestOption
}

// NewOpenAILLM creates a chat-completions client. baseURL is optional
// and supports OpenAI-compatible endpoints.
func NewOpenAILLM(apiKey, model, baseURL string) (*OpenAILLM, error) {
	if apiKey == "" {
		return nil, errors.New("openai api key missing")
	}
	if model == "" {
		return nil, errors.New("openai model is required")
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAILLM{model: model, opts: opts}, nil
}

// Complete runs one chat completion and returns the message content.
func (o *OpenAILLM) Complete(ctx context.Context, system, user string) (string, error) {
	client := openai.NewClient(o.opts...)

	resp, err := client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(o.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai: empty choices")
	}
	return resp.Choices[0].Message.Content, nil
}
