package scraping

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog/log"

	"github.com/Caia-Tech/caia-coursecrawl/internal/procurement"
)

// HTTPEngineConfig configures the plain-HTTP engine
type HTTPEngineConfig struct {
	Timeout        time.Duration          `json:"timeout"`
	UserAgent      string                 `json:"user_agent"`
	Languages      []string               `json:"languages"`
	MaxContentSize int64                  `json:"max_content_size"`
	MinWords       int                    `json:"min_words"`
	GatePolicy     procurement.GatePolicy `json:"gate_policy"`
}

// DefaultHTTPEngineConfig returns default plain-HTTP settings. The gate
// fails closed.
func DefaultHTTPEngineConfig() HTTPEngineConfig {
	return HTTPEngineConfig{
		Timeout:        10 * time.Second,
		UserAgent:      DefaultUserAgent,
		Languages:      []string{"en-US", "en;q=0.9"},
		MaxContentSize: 10 * 1024 * 1024,
		GatePolicy:     procurement.GatePolicy{FailOpen: false},
	}
}

// HTTPEngine fetches pages with a single GET request
type HTTPEngine struct {
	config    HTTPEngineConfig
	client    *http.Client
	extractor *ContentExtractor
	gate      *AccessGate
}

// NewHTTPEngine creates a plain-HTTP engine. A nil client uses one with
// the configured timeout.
func NewHTTPEngine(config HTTPEngineConfig, client *http.Client, extractor *ContentExtractor, gateConfig GateConfig) *HTTPEngine {
	if client == nil {
		client = &http.Client{Timeout: config.Timeout}
	}
	return &HTTPEngine{
		config:    config,
		client:    client,
		extractor: extractor,
		gate:      NewAccessGate(gateConfig, config.GatePolicy),
	}
}

// Name identifies the engine in logs
func (e *HTTPEngine) Name() string { return "http" }

// Close releases nothing; the client is shared
func (e *HTTPEngine) Close() error { return nil }

// Fetch retrieves and extracts one page
func (e *HTTPEngine) Fetch(ctx context.Context, req FetchRequest) procurement.Outcome {
	start := time.Now()

	resp, err := e.fetchContent(ctx, req.URL)
	if err != nil {
		return procurement.Failed(req.URL, procurement.FetchFailure(req.URL, err))
	}
	defer resp.Body.Close()

	finalURL := resp.Request.URL.String()
	if req.CheckAccess && e.gate.blocking[resp.StatusCode] {
		reason, _ := e.gate.Check(PageSignals{StatusCode: resp.StatusCode, FinalURL: finalURL})
		return procurement.Blocked(req.URL, reason)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return procurement.Failed(req.URL, procurement.FetchFailure(req.URL,
			&HTTPStatusError{StatusCode: resp.StatusCode, Status: resp.Status}))
	}

	body, err := e.readHTML(resp)
	if err != nil {
		return procurement.Failed(req.URL, procurement.FetchFailure(req.URL, err))
	}

	doc, parseErr := ParseHTML(bytes.NewReader(body), finalURL)
	if req.CheckAccess {
		signals := PageSignals{StatusCode: resp.StatusCode, FinalURL: finalURL, Doc: doc}
		if reason, blocked := e.gate.CheckWithError(signals, parseErr); blocked {
			return procurement.Blocked(req.URL, reason)
		}
	}
	if parseErr != nil {
		return procurement.Failed(req.URL, procurement.FetchFailure(req.URL, parseErr))
	}

	c, err := buildContent(req, e.extractor.Extract(doc, req.URL), e.config.MinWords)

	log.Debug().
		Str("url", req.URL).
		Int("status_code", resp.StatusCode).
		Int("content_length", len(body)).
		Dur("processing_time", time.Since(start)).
		Msg("Content extraction completed")

	return outcomeFor(req, c, err)
}

// FetchDocument retrieves and parses rawURL without extraction or access
// checks. Non-2xx responses return an *HTTPStatusError.
func (e *HTTPEngine) FetchDocument(ctx context.Context, rawURL string) (*goquery.Document, error) {
	resp, err := e.fetchContent(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPStatusError{StatusCode: resp.StatusCode, Status: resp.Status}
	}
	body, err := e.readHTML(resp)
	if err != nil {
		return nil, err
	}
	return ParseHTML(bytes.NewReader(body), resp.Request.URL.String())
}

// readHTML reads an HTML body up to MaxContentSize
func (e *HTTPEngine) readHTML(resp *http.Response) ([]byte, error) {
	contentType := resp.Header.Get("Content-Type")
	if !isHTMLContentType(contentType) {
		return nil, fmt.Errorf("unsupported content type: %s", contentType)
	}

	limitedReader := &io.LimitedReader{R: resp.Body, N: e.config.MaxContentSize + 1}
	body, err := io.ReadAll(limitedReader)
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > e.config.MaxContentSize {
		return nil, fmt.Errorf("content exceeds maximum size limit")
	}
	return body, nil
}

func (e *HTTPEngine) fetchContent(ctx context.Context, targetURL string) (*http.Response, error) {
	if e.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.config.Timeout)
		// Body reads happen after return, so cancel with the body
		resp, err := e.do(ctx, targetURL)
		if err != nil {
			cancel()
			return nil, err
		}
		resp.Body = cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
		return resp, nil
	}
	return e.do(ctx, targetURL)
}

func (e *HTTPEngine) do(ctx context.Context, targetURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return nil, err
	}

	req.Header.Set("User-Agent", e.config.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", strings.Join(e.config.Languages, ","))
	req.Header.Set("DNT", "1")

	return e.client.Do(req)
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

// isHTMLContentType accepts HTML media types and a missing header
func isHTMLContentType(contentType string) bool {
	mediaType := strings.ToLower(strings.TrimSpace(contentType))
	if idx := strings.Index(mediaType, ";"); idx != -1 {
		mediaType = strings.TrimSpace(mediaType[:idx])
	}
	switch mediaType {
	case "", "text/html", "application/xhtml+xml":
		return true
	}
	return false
}
