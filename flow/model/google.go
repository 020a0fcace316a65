package model

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// Google implements Completer using the Gemini API via the official
// generative-ai-go client. Safe for concurrent use after creation; call
// Close when done to release the underlying connection.
type Google struct {
	client *genai.Client
	model  string
}

// NewGoogle creates a Gemini completer for the given API key and model
// (e.g. "gemini-1.5-flash"). The client is created eagerly, so an
// invalid key surfaces here rather than on first use.
func NewGoogle(ctx context.Context, apiKey, model string) (*Google, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &Google{client: client, model: model}, nil
}

// Close releases the underlying client.
func (g *Google) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

// Complete sends the prompt and concatenates the text parts of the
// first candidate.
func (g *Google) Complete(ctx context.Context, prompt string) (Completion, error) {
	resp, err := g.client.GenerativeModel(g.model).GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return Completion{}, classifyError("google", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return Completion{}, classifyError("google", errors.New("empty candidates in response"))
	}

	var text string
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text += string(t)
		}
	}

	tokens := 0
	if resp.UsageMetadata != nil {
		tokens = int(resp.UsageMetadata.TotalTokenCount)
	}

	return Completion{Text: text, Tokens: tokens, Provider: "google"}, nil
}
