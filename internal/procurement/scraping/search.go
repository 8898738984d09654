package scraping

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/Caia-Tech/caia-coursecrawl/internal/procurement"
)

// SearchResult is one hit returned by a search provider
type SearchResult struct {
	Href  string `json:"href"`
	Title string `json:"title"`
}

// SearchProvider runs a text query against a web search backend. A refused
// query is reported as *procurement.RateLimitError.
type SearchProvider interface {
	Text(ctx context.Context, query string, maxResults int) ([]SearchResult, error)
}

// DuckDuckGoConfig configures the DuckDuckGo HTML endpoint
type DuckDuckGoConfig struct {
	BaseURL   string        `json:"base_url"`
	UserAgent string        `json:"user_agent"`
	Region    string        `json:"region"`
	Timeout   time.Duration `json:"timeout"`
}

// DefaultDuckDuckGoConfig returns the public endpoint settings
func DefaultDuckDuckGoConfig() DuckDuckGoConfig {
	return DuckDuckGoConfig{
		BaseURL:   "https://html.duckduckgo.com/html/",
		UserAgent: DefaultUserAgent,
		Region:    "us-en",
		Timeout:   15 * time.Second,
	}
}

// DuckDuckGo scrapes the DuckDuckGo HTML results page
type DuckDuckGo struct {
	config DuckDuckGoConfig
	client *http.Client
}

// NewDuckDuckGo creates a provider. A nil client uses one with the
// configured timeout.
func NewDuckDuckGo(config DuckDuckGoConfig, client *http.Client) *DuckDuckGo {
	if client == nil {
		client = &http.Client{Timeout: config.Timeout}
	}
	return &DuckDuckGo{config: config, client: client}
}

// Text returns up to maxResults organic hits for query
func (d *DuckDuckGo) Text(ctx context.Context, query string, maxResults int) ([]SearchResult, error) {
	form := url.Values{}
	form.Set("q", query)
	if d.config.Region != "" {
		form.Set("kl", d.config.Region)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.config.BaseURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", d.config.UserAgent)
	req.Header.Set("Accept", "text/html")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusAccepted:
		// 202 is served with an anomaly page when the endpoint throttles
		return nil, &procurement.RateLimitError{
			Provider:   "duckduckgo",
			StatusCode: resp.StatusCode,
			RetryAfter: retryAfter(resp.Header.Get("Retry-After")),
		}
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("search returned HTTP %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse search results: %w", err)
	}
	return parseDuckDuckGoResults(doc, maxResults), nil
}

func parseDuckDuckGoResults(doc *goquery.Document, maxResults int) []SearchResult {
	results := make([]SearchResult, 0, maxResults)
	seen := make(map[string]bool)

	doc.Find("a.result__a").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if maxResults > 0 && len(results) >= maxResults {
			return false
		}
		href, ok := s.Attr("href")
		if !ok {
			return true
		}
		target := unwrapRedirect(href)
		if target == "" || seen[target] {
			return true
		}
		seen[target] = true
		results = append(results, SearchResult{Href: target, Title: normalizeSpace(s.Text())})
		return true
	})
	return results
}

// unwrapRedirect resolves DuckDuckGo's /l/?uddg= redirect links and drops
// anything that is not an absolute http(s) URL
func unwrapRedirect(href string) string {
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if target := u.Query().Get("uddg"); target != "" {
		u, err = url.Parse(target)
		if err != nil {
			return ""
		}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	if strings.HasSuffix(u.Hostname(), "duckduckgo.com") {
		return ""
	}
	return u.String()
}

func retryAfter(v string) time.Duration {
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}
