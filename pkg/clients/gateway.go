package clients

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/tmc/langchaingo/llms"

	"github.com/mikeboe/deep-research/pkg/config"
)

// Message roles understood by every gateway.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a chat completion request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Gateway issues single-turn chat completions. The boolean is false when the
// call failed for any reason; callers decide how to degrade.
type Gateway interface {
	Complete(ctx context.Context, messages []Message) (string, bool)
}

// LLMGateway adapts a langchaingo model to the Gateway contract with fixed
// sampling parameters.
type LLMGateway struct {
	Model       llms.Model
	Temperature float64
	MaxTokens   int
	Logger      *slog.Logger
}

func NewLLMGateway(model llms.Model, temperature float64, maxTokens int) *LLMGateway {
	return &LLMGateway{
		Model:       model,
		Temperature: temperature,
		MaxTokens:   maxTokens,
		Logger:      slog.Default(),
	}
}

func (g *LLMGateway) Complete(ctx context.Context, messages []Message) (string, bool) {
	resp, err := g.Model.GenerateContent(ctx, toMessageContent(messages),
		llms.WithTemperature(g.Temperature),
		llms.WithMaxTokens(g.MaxTokens),
	)
	if err != nil {
		g.Logger.Error("LLM completion failed", "error", err)
		return "", false
	}
	if resp == nil || len(resp.Choices) == 0 {
		g.Logger.Error("LLM returned no choices")
		return "", false
	}
	return resp.Choices[0].Content, true
}

func toMessageContent(messages []Message) []llms.MessageContent {
	out := make([]llms.MessageContent, 0, len(messages))
	for _, m := range messages {
		var role llms.ChatMessageType
		switch m.Role {
		case RoleSystem:
			role = llms.ChatMessageTypeSystem
		case RoleAssistant:
			role = llms.ChatMessageTypeAI
		default:
			role = llms.ChatMessageTypeHuman
		}
		out = append(out, llms.TextParts(role, m.Content))
	}
	return out
}

// New builds the gateway selected by cfg.LLMProvider.
func New(ctx context.Context, cfg *config.Config) (Gateway, error) {
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	if cfg.HTTPTimeout <= 0 {
		httpClient.Timeout = 60 * time.Second
	}

	switch cfg.LLMProvider {
	case config.ProviderOpenRouter, "":
		gw, err := NewOpenRouter(cfg.OpenRouterAPIKey, cfg.Model, cfg.Temperature, cfg.MaxTokens, httpClient)
		if err != nil {
			return nil, err
		}
		return gw, nil
	case config.ProviderGemini:
		gw, err := NewGenAIGateway(ctx, cfg.GoogleApiKey, cfg.Model, cfg.Temperature, cfg.MaxTokens, httpClient)
		if err != nil {
			return nil, err
		}
		return gw, nil
	default:
		return nil, fmt.Errorf("invalid LLM provider: %s", cfg.LLMProvider)
	}
}
