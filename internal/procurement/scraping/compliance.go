package scraping

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/rs/zerolog/log"
	"github.com/temoto/robotstxt"
)

// DefaultUserAgent identifies the crawler to robots.txt and sites
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

const maxRobotsBytes = 512 * 1024

// ComplianceConfig configures robots.txt checking
type ComplianceConfig struct {
	RespectRobotsTxt bool          `json:"respect_robots_txt"`
	CacheTimeout     time.Duration `json:"cache_timeout"`
	FetchTimeout     time.Duration `json:"fetch_timeout"`
	// RobotsAgent is the token matched against User-agent groups
	RobotsAgent string `json:"robots_agent"`
}

// DefaultComplianceConfig returns default compliance configuration
func DefaultComplianceConfig() ComplianceConfig {
	return ComplianceConfig{
		RespectRobotsTxt: true,
		CacheTimeout:     24 * time.Hour,
		FetchTimeout:     10 * time.Second,
		RobotsAgent:      "CoursecrawlBot",
	}
}

// ComplianceResult is the robots.txt verdict for one URL
type ComplianceResult struct {
	URL        string        `json:"url"`
	Host       string        `json:"host"`
	Allowed    bool          `json:"allowed"`
	CrawlDelay time.Duration `json:"crawl_delay"`
	CheckedAt  time.Time     `json:"checked_at"`
}

type robotsEntry struct {
	data      *robotstxt.RobotsData
	fetchedAt time.Time
}

// ComplianceEngine answers robots.txt questions with a per-origin cache
type ComplianceEngine struct {
	config ComplianceConfig
	client *http.Client
	clock  clock.Clock

	mu    sync.RWMutex
	cache map[string]robotsEntry
}

// NewComplianceEngine creates a new compliance engine. A nil client uses
// a client with the configured fetch timeout.
func NewComplianceEngine(config ComplianceConfig, client *http.Client, clk clock.Clock) *ComplianceEngine {
	if client == nil {
		client = &http.Client{Timeout: config.FetchTimeout}
	}
	if clk == nil {
		clk = clock.WallClock
	}
	return &ComplianceEngine{
		config: config,
		client: client,
		clock:  clk,
		cache:  make(map[string]robotsEntry),
	}
}

// CheckCompliance reports whether targetURL may be fetched and the
// Crawl-delay the site asks for
func (ce *ComplianceEngine) CheckCompliance(ctx context.Context, targetURL string) (*ComplianceResult, error) {
	parsedURL, err := url.Parse(targetURL)
	if err != nil || parsedURL.Host == "" {
		return nil, fmt.Errorf("invalid URL %q", targetURL)
	}

	result := &ComplianceResult{
		URL:       targetURL,
		Host:      parsedURL.Hostname(),
		Allowed:   true,
		CheckedAt: ce.clock.Now(),
	}
	if !ce.config.RespectRobotsTxt {
		return result, nil
	}

	robots, err := ce.robotsFor(ctx, parsedURL)
	if err != nil {
		// Unreachable robots.txt never blocks a crawl
		log.Debug().Err(err).Str("host", result.Host).Msg("Could not fetch robots.txt, assuming allowed")
		return result, nil
	}

	path := parsedURL.EscapedPath()
	if path == "" {
		path = "/"
	}
	if parsedURL.RawQuery != "" {
		path += "?" + parsedURL.RawQuery
	}

	result.Allowed = robots.TestAgent(path, ce.config.RobotsAgent)
	if group := robots.FindGroup(ce.config.RobotsAgent); group != nil {
		result.CrawlDelay = group.CrawlDelay
	}

	log.Debug().
		Str("url", targetURL).
		Bool("allowed", result.Allowed).
		Dur("crawl_delay", result.CrawlDelay).
		Msg("Compliance check completed")

	return result, nil
}

func (ce *ComplianceEngine) robotsFor(ctx context.Context, u *url.URL) (*robotstxt.RobotsData, error) {
	origin := fmt.Sprintf("%s://%s", u.Scheme, u.Host)
	now := ce.clock.Now()

	ce.mu.RLock()
	entry, ok := ce.cache[origin]
	ce.mu.RUnlock()
	if ok && now.Sub(entry.fetchedAt) < ce.config.CacheTimeout {
		return entry.data, nil
	}

	data, err := ce.fetchRobotsTxt(ctx, origin+"/robots.txt")
	if err != nil {
		return nil, err
	}

	ce.mu.Lock()
	ce.cache[origin] = robotsEntry{data: data, fetchedAt: now}
	ce.mu.Unlock()
	return data, nil
}

func (ce *ComplianceEngine) fetchRobotsTxt(ctx context.Context, robotsURL string) (*robotstxt.RobotsData, error) {
	if ce.config.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, ce.config.FetchTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", DefaultUserAgent)

	resp, err := ce.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch robots.txt: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read robots.txt: %w", err)
	}

	// 4xx allows everything, 5xx disallows everything
	return robotstxt.FromStatusAndBytes(resp.StatusCode, body)
}

// CachedHosts returns the number of cached robots.txt files
func (ce *ComplianceEngine) CachedHosts() int {
	ce.mu.RLock()
	defer ce.mu.RUnlock()
	return len(ce.cache)
}

// ClearExpiredCache drops cache entries older than the cache timeout
func (ce *ComplianceEngine) ClearExpiredCache() int {
	now := ce.clock.Now()
	ce.mu.Lock()
	defer ce.mu.Unlock()

	removed := 0
	for origin, entry := range ce.cache {
		if now.Sub(entry.fetchedAt) >= ce.config.CacheTimeout {
			delete(ce.cache, origin)
			removed++
		}
	}
	return removed
}
