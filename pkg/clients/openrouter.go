package clients

import (
	"fmt"
	"net/http"

	"github.com/tmc/langchaingo/llms/openai"
)

const OpenRouterBaseURL = "https://openrouter.ai/api/v1"

// Attribution headers OpenRouter uses for app rankings.
const (
	openRouterReferer = "https://github.com/Pygen"
	openRouterTitle   = "Research Assistant"
)

// NewOpenRouter returns a gateway that talks to OpenRouter's OpenAI-compatible
// chat completions endpoint.
func NewOpenRouter(apiKey, model string, temperature float64, maxTokens int, httpClient *http.Client) (*LLMGateway, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OpenRouter API key is required")
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	client := *httpClient
	client.Transport = &headerTransport{
		base: httpClient.Transport,
		headers: map[string]string{
			"HTTP-Referer": openRouterReferer,
			"X-Title":      openRouterTitle,
		},
	}

	llm, err := openai.New(
		openai.WithToken(apiKey),
		openai.WithBaseURL(OpenRouterBaseURL),
		openai.WithModel(model),
		openai.WithHTTPClient(&client),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to init OpenRouter client: %w", err)
	}

	return NewLLMGateway(llm, temperature, maxTokens), nil
}

type headerTransport struct {
	base    http.RoundTripper
	headers map[string]string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	req = req.Clone(req.Context())
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
	return base.RoundTrip(req)
}
