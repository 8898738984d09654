package scraping

import (
	"context"
	"fmt"
	"strings"

	"github.com/Caia-Tech/caia-coursecrawl/internal/procurement"
	"github.com/Caia-Tech/caia-coursecrawl/pkg/content"
)

// FetchRequest describes one candidate handed to an engine
type FetchRequest struct {
	URL   string
	Topic string
	// Title from the search hit; replaces the extracted title when set
	Title  string
	Source string
	// CheckAccess runs the paywall and login gate before extraction
	CheckAccess bool
}

// FetchEngine turns a URL into an outcome. Every failure is folded into
// the returned outcome, never panicked or returned separately.
type FetchEngine interface {
	Name() string
	Fetch(ctx context.Context, req FetchRequest) procurement.Outcome
	Close() error
}

// HTTPStatusError reports a non-success HTTP status
type HTTPStatusError struct {
	StatusCode int
	Status     string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Status)
}

// buildContent assembles the payload for req from an extraction, rejecting
// pages with fewer than minWords words of prose
func buildContent(req FetchRequest, ex Extraction, minWords int) (content.ScrapedContent, error) {
	title := ex.Title
	if t := strings.TrimSpace(req.Title); t != "" {
		title = t
	}
	source := req.Source
	if source == "" {
		source = content.SourceFromURL(req.URL)
	}

	c := content.ScrapedContent{
		Title:  title,
		Text:   ex.Text,
		Code:   ex.Code,
		URL:    req.URL,
		Topic:  req.Topic,
		Source: source,
		Level:  ex.Level,
	}
	if c.Code == nil {
		c.Code = []string{}
	}

	if !c.IsValid() {
		return c, &procurement.ContentRejectedError{URL: req.URL, Reason: "no main content"}
	}
	if words := c.WordCount(); words < minWords {
		return c, &procurement.ContentRejectedError{URL: req.URL, Words: words, Reason: "too few words"}
	}
	return c, nil
}

// outcomeFor converts an engine result into an outcome
func outcomeFor(req FetchRequest, c content.ScrapedContent, err error) procurement.Outcome {
	if err != nil {
		return procurement.Failed(req.URL, err)
	}
	return procurement.Success(c)
}
