package clients

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"google.golang.org/genai"
)

// GenAIGateway talks to Gemini directly through the Google GenAI SDK.
type GenAIGateway struct {
	client      *genai.Client
	model       string
	temperature float32
	maxTokens   int32
	Logger      *slog.Logger
}

func NewGenAIGateway(ctx context.Context, apiKey, model string, temperature float64, maxTokens int, httpClient *http.Client) (*GenAIGateway, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("Google API key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpClient,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini API client: %w", err)
	}

	return &GenAIGateway{
		client:      client,
		model:       model,
		temperature: float32(temperature),
		maxTokens:   int32(maxTokens),
		Logger:      slog.Default(),
	}, nil
}

func (g *GenAIGateway) Complete(ctx context.Context, messages []Message) (string, bool) {
	system, contents := toGenAIContents(messages)

	temperature := g.temperature
	cfg := &genai.GenerateContentConfig{
		Temperature:     &temperature,
		MaxOutputTokens: g.maxTokens,
	}
	if system != nil {
		cfg.SystemInstruction = system
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, cfg)
	if err != nil {
		g.Logger.Error("Gemini completion failed", "model", g.model, "error", err)
		return "", false
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		g.Logger.Error("Gemini returned no candidates", "model", g.model)
		return "", false
	}

	var sb strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if p != nil {
			sb.WriteString(p.Text)
		}
	}
	return sb.String(), true
}

// toGenAIContents folds system messages into a single system instruction and
// maps the remaining turns onto Gemini's user/model roles.
func toGenAIContents(messages []Message) (*genai.Content, []*genai.Content) {
	var systemParts []*genai.Part
	contents := make([]*genai.Content, 0, len(messages))

	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			systemParts = append(systemParts, &genai.Part{Text: m.Content})
		case RoleAssistant:
			contents = append(contents, &genai.Content{
				Role:  "model",
				Parts: []*genai.Part{{Text: m.Content}},
			})
		default:
			contents = append(contents, &genai.Content{
				Role:  "user",
				Parts: []*genai.Part{{Text: m.Content}},
			})
		}
	}

	if len(systemParts) == 0 {
		return nil, contents
	}
	return &genai.Content{Parts: systemParts}, contents
}
