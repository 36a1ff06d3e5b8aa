package tools

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const ArxivBaseURL = "https://export.arxiv.org/api/query"

// ArxivEntry struct to hold arXiv entry data
type ArxivEntry struct {
	ID        string      `xml:"id"`
	Title     string      `xml:"title"`
	Summary   string      `xml:"summary"`
	Published string      `xml:"published"`
	Link      []ArxivLink `xml:"link"`
}

// ArxivLink struct to hold arXiv link data
type ArxivLink struct {
	Href string `xml:"href,attr"`
	Rel  string `xml:"rel,attr"`
	Type string `xml:"type,attr"`
}

// ArxivFeed struct to hold the entire arXiv feed
type ArxivFeed struct {
	XMLName xml.Name     `xml:"feed"`
	Entry   []ArxivEntry `xml:"entry"`
}

// Arxiv is a keyless search provider over the arXiv Atom API. It returns the
// abstract page of every hit so the reader can pull the full record.
type Arxiv struct {
	BaseURL string
	client  *http.Client
}

func NewArxiv(client *http.Client) *Arxiv {
	if client == nil {
		client = http.DefaultClient
	}
	return &Arxiv{BaseURL: ArxivBaseURL, client: client}
}

func (a *Arxiv) Search(ctx context.Context, query string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 5
	}

	params := url.Values{}
	params.Add("search_query", "all:"+query)
	params.Add("max_results", strconv.Itoa(limit))
	params.Add("start", "0")
	apiURL := a.BaseURL + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make API request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("arXiv API returned status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var feed ArxivFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("failed to unmarshal XML: %w", err)
	}

	links := make([]string, 0, len(feed.Entry))
	for _, entry := range feed.Entry {
		if link := entryLink(entry); link != "" {
			links = append(links, link)
		}
		if len(links) >= limit {
			break
		}
	}

	slog.Debug("arXiv search complete", "query", query, "count", len(links))
	return links, nil
}

// entryLink prefers the alternate (abstract page) link, then the entry id.
func entryLink(entry ArxivEntry) string {
	for _, link := range entry.Link {
		if link.Rel == "alternate" && link.Href != "" {
			return link.Href
		}
	}
	return strings.TrimSpace(entry.ID)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
