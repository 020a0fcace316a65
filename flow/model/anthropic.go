package model

import (
	"context"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Anthropic implements Completer using the official anthropic-sdk-go
// client. Safe for concurrent use after creation.
type Anthropic struct {
	client    *anthropic.Client
	model     string
	maxTokens int64
}

// NewAnthropic creates an Anthropic completer for the given API key and
// model (e.g. "claude-sonnet-4-20250514").
func NewAnthropic(apiKey, model string) *Anthropic {
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &Anthropic{
		client:    &client,
		model:     model,
		maxTokens: 4096,
	}
}

// Complete sends the prompt as a single user message and concatenates
// the text blocks of the response.
func (a *Anthropic) Complete(ctx context.Context, prompt string) (Completion, error) {
	message, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: a.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return Completion{}, classifyError("anthropic", err)
	}

	var text string
	for _, block := range message.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	return Completion{
		Text:     text,
		Tokens:   int(message.Usage.InputTokens + message.Usage.OutputTokens),
		Provider: "anthropic",
	}, nil
}
