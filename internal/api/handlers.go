package api

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/Caia-Tech/caia-coursecrawl/internal/procurement"
	"github.com/Caia-Tech/caia-coursecrawl/internal/procurement/scraping"
	"github.com/Caia-Tech/caia-coursecrawl/pkg/content"
)

// Version is reported by the health endpoint
const Version = "0.1.0"

// DefaultMaxResults is used when a scrape request omits max_results
const DefaultMaxResults = 5

// Scraper is the crawl surface the handlers drive
type Scraper interface {
	SearchAndScrape(ctx context.Context, query string, level content.Level, maxResults int) (*scraping.CrawlReport, error)
	ScrapePage(ctx context.Context, rawURL, topic string) (procurement.Outcome, error)
	ScrapeConfiguredSources(ctx context.Context, topics ...string) ([]content.ScrapedContent, error)
	GetCrawlerStatus() scraping.CrawlerStatus
}

// Handlers contains the HTTP handlers for the API
type Handlers struct {
	scraper         Scraper
	maxResultsLimit int
	startedAt       time.Time
}

// NewHandlers creates a new handlers instance. maxResultsLimit caps the
// max_results a client may ask for.
func NewHandlers(scraper Scraper, maxResultsLimit int) *Handlers {
	if maxResultsLimit < 1 {
		maxResultsLimit = DefaultMaxResults
	}
	return &Handlers{
		scraper:         scraper,
		maxResultsLimit: maxResultsLimit,
		startedAt:       time.Now(),
	}
}

// Health returns the service health status
func (h *Handlers) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "healthy",
		"service":   "coursecrawl",
		"version":   Version,
		"uptime":    time.Since(h.startedAt).Round(time.Second).String(),
		"timestamp": time.Now().UTC(),
	})
}

// ScrapeRequest represents a search-and-scrape request
type ScrapeRequest struct {
	Query      string `json:"query"`
	Level      string `json:"level"`
	MaxResults int    `json:"max_results"`
}

// ScrapeResponse is the result of a search-and-scrape run
type ScrapeResponse struct {
	RunID           string              `json:"run_id"`
	Query           string              `json:"query"`
	Level           content.Level       `json:"level"`
	Results         []content.Record    `json:"results"`
	Stats           scraping.CrawlStats `json:"stats"`
	SearchExhausted bool                `json:"search_exhausted"`
	SearchError     string              `json:"search_error,omitempty"`
	DurationMS      int64               `json:"duration_ms"`
}

// Scrape runs a search-driven crawl and returns the extracted records
func (h *Handlers) Scrape(c *fiber.Ctx) error {
	var req ScrapeRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body", err)
	}

	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		return badRequest(c, "Validation failed", errors.New("query is required"))
	}
	level, err := content.ParseLevel(req.Level)
	if err != nil {
		return badRequest(c, "Validation failed", err)
	}
	if req.MaxResults == 0 {
		req.MaxResults = DefaultMaxResults
	}
	if req.MaxResults < 1 || req.MaxResults > h.maxResultsLimit {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   "Validation failed",
			"details": fmt.Sprintf("max_results must be between 1 and %d", h.maxResultsLimit),
		})
	}

	report, err := h.scraper.SearchAndScrape(c.UserContext(), req.Query, level, req.MaxResults)
	if err != nil {
		log.Error().Err(err).Str("query", req.Query).Msg("Search and scrape failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   "Search and scrape failed",
			"details": err.Error(),
		})
	}

	return c.JSON(ScrapeResponse{
		RunID:           report.RunID,
		Query:           report.Query,
		Level:           report.Level,
		Results:         content.ToRecords(report.Results),
		Stats:           report.Stats,
		SearchExhausted: report.SearchExhausted,
		SearchError:     report.SearchError,
		DurationMS:      report.Duration.Milliseconds(),
	})
}

// PageRequest asks for a single URL
type PageRequest struct {
	URL   string `json:"url"`
	Topic string `json:"topic"`
}

// PageResponse reports what happened to a single URL
type PageResponse struct {
	URL     string          `json:"url"`
	Outcome string          `json:"outcome"`
	Reason  string          `json:"reason,omitempty"`
	Record  *content.Record `json:"record,omitempty"`
}

// ScrapePage fetches one URL. Upstream failures map to 502.
func (h *Handlers) ScrapePage(c *fiber.Ctx) error {
	var req PageRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body", err)
	}

	outcome, err := h.scraper.ScrapePage(c.UserContext(), req.URL, strings.TrimSpace(req.Topic))
	if err != nil {
		return badRequest(c, "Validation failed", err)
	}

	resp := PageResponse{
		URL:     outcome.URL,
		Outcome: string(outcome.Kind),
		Reason:  outcome.Reason,
	}
	if outcome.IsSuccess() {
		record := outcome.Content.ToRecord()
		resp.Record = &record
	}

	status := fiber.StatusOK
	if outcome.Kind == procurement.OutcomeFailed {
		status = fiber.StatusBadGateway
	}
	return c.Status(status).JSON(resp)
}

// SourcesRequest selects configured topics; empty means all
type SourcesRequest struct {
	Topics []string `json:"topics"`
}

// ScrapeSources crawls the configured educational sites
func (h *Handlers) ScrapeSources(c *fiber.Ctx) error {
	var req SourcesRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "Invalid request body", err)
		}
	}

	results, err := h.scraper.ScrapeConfiguredSources(c.UserContext(), req.Topics...)
	if err != nil {
		log.Error().Err(err).Strs("topics", req.Topics).Msg("Configured source crawl failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   "Configured source crawl failed",
			"details": err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"results": content.ToRecords(results),
		"count":   len(results),
	})
}

// CrawlerStats returns crawler and service statistics
func (h *Handlers) CrawlerStats(c *fiber.Ctx) error {
	return c.JSON(h.scraper.GetCrawlerStatus())
}

func badRequest(c *fiber.Ctx, msg string, err error) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error":   msg,
		"details": err.Error(),
	})
}
