package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const JinaReaderBaseURL = "https://r.jina.ai/"

// JinaReader fetches the readable text of a page through the Jina reader
// service.
type JinaReader struct {
	APIKey  string
	BaseURL string
	client  *http.Client
}

func NewJinaReader(apiKey string, client *http.Client) *JinaReader {
	if client == nil {
		client = http.DefaultClient
	}
	return &JinaReader{APIKey: apiKey, BaseURL: JinaReaderBaseURL, client: client}
}

func (j *JinaReader) Fetch(ctx context.Context, pageURL string) (string, error) {
	if j.APIKey == "" {
		return "", fmt.Errorf("JINA_API_KEY is not set")
	}
	if strings.TrimSpace(pageURL) == "" {
		return "", fmt.Errorf("fetch url is empty")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, j.BaseURL+pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+j.APIKey)

	resp, err := j.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to make reader request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("reader request failed with status: %s, body: %s", resp.Status, truncate(string(body), 200))
	}

	return string(body), nil
}
