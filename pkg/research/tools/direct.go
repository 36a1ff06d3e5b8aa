package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const DefaultUserAgent = "Mozilla/5.0 (compatible; DeepResearch/1.0)"

// noiseSelector matches page chrome that never carries research content.
const noiseSelector = "nav, footer, header, script, style, noscript, aside, form, .ad, .ads, .advertisement, .sidebar, .cookie-banner, .popup"

var contentSelectors = []string{"main", "article", "[role=main]", ".content", "#content", ".main-content", "#main-content"}

// DirectFetcher downloads a page itself and reduces the HTML to its main text.
// It is used when no reader service key is configured.
type DirectFetcher struct {
	UserAgent string
	client    *http.Client
}

func NewDirectFetcher(client *http.Client) *DirectFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &DirectFetcher{UserAgent: DefaultUserAgent, client: client}
}

func (d *DirectFetcher) Fetch(ctx context.Context, pageURL string) (string, error) {
	parsed, err := url.Parse(pageURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("invalid URL %q", pageURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", d.UserAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("HTTP request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", fmt.Errorf("HTTP status %d for %s", resp.StatusCode, pageURL)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType != "" && !strings.Contains(contentType, "html") {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return "", fmt.Errorf("failed to read response body: %w", err)
		}
		if strings.HasPrefix(contentType, "text/") {
			return cleanWhitespace(string(body)), nil
		}
		return "", fmt.Errorf("unsupported content type %q", contentType)
	}

	return ExtractMainText(resp.Body)
}

// ExtractMainText strips page chrome and returns the text of the first
// matching content container, or of the body when none matches.
func ExtractMainText(r io.Reader) (string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML: %w", err)
	}

	doc.Find(noiseSelector).Remove()

	var main *goquery.Selection
	for _, selector := range contentSelectors {
		if sel := doc.Find(selector); sel.Length() > 0 {
			main = sel.First()
			break
		}
	}
	if main == nil {
		main = doc.Find("body")
	}

	return cleanWhitespace(main.Text()), nil
}

func cleanWhitespace(text string) string {
	lines := strings.Split(text, "\n")
	cleaned := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			cleaned = append(cleaned, line)
		}
	}
	return strings.Join(cleaned, "\n")
}
