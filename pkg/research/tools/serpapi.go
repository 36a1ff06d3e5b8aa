package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
)

const SerpAPIBaseURL = "https://serpapi.com/search"

// SerpAPI runs Google searches through serpapi.com.
type SerpAPI struct {
	APIKey  string
	BaseURL string
	client  *http.Client
}

func NewSerpAPI(apiKey string, client *http.Client) *SerpAPI {
	if client == nil {
		client = http.DefaultClient
	}
	return &SerpAPI{APIKey: apiKey, BaseURL: SerpAPIBaseURL, client: client}
}

type serpResponse struct {
	OrganicResults []struct {
		Link string `json:"link"`
	} `json:"organic_results"`
}

// Search returns at most limit result links in ranking order. A response
// without organic results is an empty result, not an error.
func (s *SerpAPI) Search(ctx context.Context, query string, limit int) ([]string, error) {
	if s.APIKey == "" {
		return nil, fmt.Errorf("SERPAPI_API_KEY is not set")
	}
	if limit <= 0 {
		limit = 5
	}

	params := url.Values{}
	params.Add("q", query)
	params.Add("api_key", s.APIKey)
	params.Add("engine", "google")
	params.Add("num", strconv.Itoa(limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.BaseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make API request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("SerpAPI returned status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var payload serpResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode SerpAPI response: %w", err)
	}

	if len(payload.OrganicResults) == 0 {
		slog.Warn("No organic results in SerpAPI response", "query", query)
		return nil, nil
	}

	links := make([]string, 0, limit)
	for _, r := range payload.OrganicResults {
		if r.Link == "" {
			continue
		}
		links = append(links, r.Link)
		if len(links) >= limit {
			break
		}
	}
	return links, nil
}
