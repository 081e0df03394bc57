package fallback

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// ContentGenerator is the part of *genai.Models the provider uses.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GenAIProvider answers through the Gemini API.
type GenAIProvider struct {
	id     string
	model  string
	models ContentGenerator
}

// NewGenAIClient creates the shared Gemini client.
func NewGenAIClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GenAI API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return client, nil
}

func NewGenAIProvider(id, model string, models ContentGenerator) *GenAIProvider {
	return &GenAIProvider{id: id, model: model, models: models}
}

func (p *GenAIProvider) ID() string { return p.id }

func (p *GenAIProvider) Generate(ctx context.Context, req Request) (string, error) {
	model := p.model
	if req.Model != "" {
		model = req.Model
	}

	contents := []*genai.Content{
		genai.NewContentFromText(buildPrompt(req), genai.RoleUser),
	}
	var maxTokens int32 = 300
	var temperature float32 = 0.2
	resp, err := p.models.GenerateContent(ctx, model, contents, &genai.GenerateContentConfig{
		MaxOutputTokens: maxTokens,
		Temperature:     &temperature,
	})
	if err != nil {
		return "", fmt.Errorf("GenAI generate failed: %w", err)
	}
	if resp == nil {
		return "", fmt.Errorf("GenAI returned no response")
	}
	return resp.Text(), nil
}
