package oracle

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// GeminiConfig selects between the Gemini API (APIKey) and Vertex AI
// (Project and Location).
type GeminiConfig struct {
	APIKey   string
	Project  string
	Location string
	Model    string
}

// GeminiBackend generates text with Google's Gemini models.
type GeminiBackend struct {
	client    *genai.Client
	modelName string
}

// NewGeminiBackend creates a Gemini client.
func NewGeminiBackend(ctx context.Context, cfg GeminiConfig) (*GeminiBackend, error) {
	cc := &genai.ClientConfig{}
	switch {
	case cfg.APIKey != "":
		cc.APIKey = cfg.APIKey
		cc.Backend = genai.BackendGeminiAPI
	case cfg.Project != "" && cfg.Location != "":
		cc.Project = cfg.Project
		cc.Location = cfg.Location
		cc.Backend = genai.BackendVertexAI
	default:
		return nil, fmt.Errorf("gemini needs an API key or a project and location")
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	model := cfg.Model
	if model == "" {
		model = "gemini-2.5-flash"
	}

	return &GeminiBackend{client: client, modelName: model}, nil
}

// Generate implements Backend.
func (g *GeminiBackend) Generate(ctx context.Context, p Prompt, format Format) (string, error) {
	temp := float32(0.4)
	if format == FormatJSON {
		temp = 0
	}
	cfg := &genai.GenerateContentConfig{
		Temperature: &temp,
	}
	if p.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(p.System, genai.RoleUser)
	}
	if format == FormatJSON {
		cfg.ResponseMIMEType = "application/json"
	}

	contents := []*genai.Content{genai.NewContentFromText(p.User, genai.RoleUser)}

	res, err := g.client.Models.GenerateContent(ctx, g.modelName, contents, cfg)
	if err != nil {
		return "", fmt.Errorf("gemini generate content: %w", err)
	}
	return res.Text(), nil
}
