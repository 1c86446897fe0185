package web

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
	"go.uber.org/zap"

	"github.com/docqa/backend/pkg/logger"
	"github.com/docqa/backend/pkg/utils"
)

const (
	defaultGoogleEndpoint  = "https://www.googleapis.com/customsearch/v1"
	defaultSerpAPIEndpoint = "https://serpapi.com/search"
	userAgent              = "Mozilla/5.0 (compatible; docqa-enricher/1.0)"
	maxPageBytes           = 5 << 20
)

type Config struct {
	// Provider is google or serpapi.
	Provider     string
	GoogleAPIKey string
	GoogleCX     string
	SerpAPIKey   string
	Timeout      time.Duration

	// Endpoint overrides, used by tests.
	GoogleEndpoint  string
	SerpAPIEndpoint string
}

type Client struct {
	cfg        Config
	httpClient *http.Client
}

type SearchResult struct {
	Title   string
	URL     string
	Snippet string
}

type Page struct {
	URL   string
	Title string
	Text  string
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.GoogleEndpoint == "" {
		cfg.GoogleEndpoint = defaultGoogleEndpoint
	}
	if cfg.SerpAPIEndpoint == "" {
		cfg.SerpAPIEndpoint = defaultSerpAPIEndpoint
	}

	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// Configured reports whether the selected provider has credentials.
func (c *Client) Configured() bool {
	switch c.cfg.Provider {
	case "serpapi":
		return c.cfg.SerpAPIKey != ""
	default:
		return c.cfg.GoogleAPIKey != "" && c.cfg.GoogleCX != ""
	}
}

// Search returns up to maxResults hits for query. An unconfigured provider
// yields no results and no error.
func (c *Client) Search(ctx context.Context, query string, maxResults int) ([]SearchResult, error) {
	if !c.Configured() {
		logger.Debug("Web search skipped: provider not configured", zap.String("provider", c.cfg.Provider))
		return nil, nil
	}

	logger.Info("Performing web search", zap.String("query", query), zap.String("provider", c.cfg.Provider))

	if c.cfg.Provider == "serpapi" {
		return c.searchWithSerpAPI(ctx, query, maxResults)
	}
	return c.searchWithGoogle(ctx, query, maxResults)
}

func (c *Client) getJSON(ctx context.Context, endpoint string, params url.Values, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("search returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func (c *Client) searchWithGoogle(ctx context.Context, query string, maxResults int) ([]SearchResult, error) {
	params := url.Values{}
	params.Add("key", c.cfg.GoogleAPIKey)
	params.Add("cx", c.cfg.GoogleCX)
	params.Add("q", query)
	params.Add("num", fmt.Sprintf("%d", maxResults))

	var searchResp struct {
		Items []struct {
			Title   string `json:"title"`
			Link    string `json:"link"`
			Snippet string `json:"snippet"`
		} `json:"items"`
	}
	if err := c.getJSON(ctx, c.cfg.GoogleEndpoint, params, &searchResp); err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, len(searchResp.Items))
	for _, it := range searchResp.Items {
		if it.Link == "" {
			continue
		}
		results = append(results, SearchResult{Title: it.Title, URL: it.Link, Snippet: it.Snippet})
	}

	logger.Info("Google search completed", zap.Int("results", len(results)))
	return limit(results, maxResults), nil
}

func (c *Client) searchWithSerpAPI(ctx context.Context, query string, maxResults int) ([]SearchResult, error) {
	params := url.Values{}
	params.Add("q", query)
	params.Add("api_key", c.cfg.SerpAPIKey)
	params.Add("num", fmt.Sprintf("%d", maxResults))

	var searchResp struct {
		OrganicResults []struct {
			Title   string `json:"title"`
			Link    string `json:"link"`
			Snippet string `json:"snippet"`
		} `json:"organic_results"`
	}
	if err := c.getJSON(ctx, c.cfg.SerpAPIEndpoint, params, &searchResp); err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, len(searchResp.OrganicResults))
	for _, r := range searchResp.OrganicResults {
		if r.Link == "" {
			continue
		}
		results = append(results, SearchResult{Title: r.Title, URL: r.Link, Snippet: r.Snippet})
	}

	logger.Info("Web search completed", zap.Int("results", len(results)))
	return limit(results, maxResults), nil
}

func limit(results []SearchResult, n int) []SearchResult {
	if n > 0 && len(results) > n {
		return results[:n]
	}
	return results
}

// Fetch downloads a page and extracts its readable text, falling back to
// the whitespace-normalized body text when article extraction fails.
func (c *Client) Fetch(ctx context.Context, rawURL string) (*Page, error) {
	pageURL, err := url.Parse(rawURL)
	if err != nil || (pageURL.Scheme != "http" && pageURL.Scheme != "https") {
		return nil, fmt.Errorf("invalid url %q", rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read page: %w", err)
	}

	page := &Page{URL: rawURL}

	if article, err := readability.FromReader(bytes.NewReader(body), pageURL); err == nil {
		page.Title = strings.TrimSpace(article.Title)
		page.Text = utils.NormalizeWhitespace(article.TextContent)
	}

	if page.Text == "" {
		title, text, err := scrapeContent(body)
		if err != nil {
			return nil, err
		}
		if page.Title == "" {
			page.Title = title
		}
		page.Text = text
	}

	logger.Debug("Page fetched", zap.String("url", rawURL), zap.Int("chars", len(page.Text)))
	return page, nil
}

func scrapeContent(body []byte) (string, string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", "", fmt.Errorf("failed to parse HTML: %w", err)
	}

	doc.Find("script, style, noscript, nav, footer, header").Remove()
	title := strings.TrimSpace(doc.Find("title").First().Text())
	text := utils.NormalizeWhitespace(doc.Find("body").Text())

	return title, text, nil
}

// Domain returns the host part of a url, or "" when it cannot be parsed.
func Domain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Host
}
