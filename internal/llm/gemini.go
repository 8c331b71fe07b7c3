// Package llm talks to the text-generation provider that drafts assistant replies.
package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/punchamoorthee/bankassist/internal/domain"
	"google.golang.org/genai"
)

// Generator produces one assistant reply from the system prompt, the prior
// conversation and the new user text. Failures wrap domain.ErrProviderUnavailable.
type Generator interface {
	Generate(ctx context.Context, systemPrompt string, history []domain.Turn, userText string) (string, error)
}

// GeminiGenerator is the Generator backed by the Gemini API.
type GeminiGenerator struct {
	client      *genai.Client
	model       string
	temperature float32
	maxTokens   int32
}

type GeminiOptions struct {
	APIKey      string
	Model       string
	Temperature float32
	MaxTokens   int32
}

func NewGeminiGenerator(ctx context.Context, opts GeminiOptions) (*GeminiGenerator, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  opts.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GeminiGenerator{
		client:      client,
		model:       opts.Model,
		temperature: opts.Temperature,
		maxTokens:   opts.MaxTokens,
	}, nil
}

func (g *GeminiGenerator) Generate(ctx context.Context, systemPrompt string, history []domain.Turn, userText string) (string, error) {
	temperature := g.temperature
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: systemPrompt}}},
		Temperature:       &temperature,
		MaxOutputTokens:   g.maxTokens,
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, BuildContents(history, userText), cfg)
	if err != nil {
		return "", fmt.Errorf("%w: generate content: %w", domain.ErrProviderUnavailable, err)
	}

	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: empty response from model", domain.ErrProviderUnavailable)
	}
	return text, nil
}

// BuildContents converts stored turns plus the new user text into Gemini
// contents. Gemini calls the assistant role "model".
func BuildContents(history []domain.Turn, userText string) []*genai.Content {
	contents := make([]*genai.Content, 0, len(history)+1)
	for _, turn := range history {
		role := "user"
		if turn.Role == domain.RoleAssistant {
			role = "model"
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: turn.Content}},
		})
	}
	return append(contents, &genai.Content{
		Role:  "user",
		Parts: []*genai.Part{{Text: userText}},
	})
}

// Unavailable is the Generator used when no provider is configured.
type Unavailable struct{}

func (Unavailable) Generate(context.Context, string, []domain.Turn, string) (string, error) {
	return "", fmt.Errorf("%w: no provider configured", domain.ErrProviderUnavailable)
}

var (
	_ Generator = (*GeminiGenerator)(nil)
	_ Generator = Unavailable{}
)
