package model

import (
	"context"
	"errors"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// OpenAI implements Completer using the official OpenAI Go SDK. Safe
// for concurrent use after creation.
type OpenAI struct {
	client *openai.Client
	model  string
}

// NewOpenAI creates an OpenAI completer for the given API key and model
// (e.g. "gpt-4o").
func NewOpenAI(apiKey, model string) *OpenAI {
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return &OpenAI{
		client: &client,
		model:  model,
	}
}

// Complete sends the prompt as a single user chat message.
func (o *OpenAI) Complete(ctx context.Context, prompt string) (Completion, error) {
	completion, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: shared.ChatModel(o.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			{
				OfUser: &openai.ChatCompletionUserMessageParam{
					Content: openai.ChatCompletionUserMessageParamContentUnion{
						OfString: openai.String(prompt),
					},
				},
			},
		},
	})
	if err != nil {
		return Completion{}, classifyError("openai", err)
	}
	if len(completion.Choices) == 0 {
		return Completion{}, classifyError("openai", errors.New("empty choices in response"))
	}

	return Completion{
		Text:     completion.Choices[0].Message.Content,
		Tokens:   int(completion.Usage.TotalTokens),
		Provider: "openai",
	}, nil
}
