package scraping

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog/log"

	"github.com/Caia-Tech/caia-coursecrawl/internal/procurement"
)

// BrowserConfig configures the headless-browser engine
type BrowserConfig struct {
	Headless          bool          `json:"headless"`
	ChromePath        string        `json:"chrome_path"`
	UserAgent         string        `json:"user_agent"`
	NavigationTimeout time.Duration `json:"navigation_timeout"`
	// SettleDelay is waited after each navigation for late scripts
	SettleDelay time.Duration `json:"settle_delay"`
	// MaxDepth is the maximum number of pages read per candidate,
	// counting the first one
	MaxDepth            int                    `json:"max_depth"`
	MinWords            int                    `json:"min_words"`
	ConsentSelectors    []string               `json:"consent_selectors"`
	ConsentTexts        []string               `json:"consent_texts"`
	PaginationSelectors []string               `json:"pagination_selectors"`
	GatePolicy          procurement.GatePolicy `json:"gate_policy"`
}

// DefaultBrowserConfig returns default browser settings. The gate fails
// open so slow pages are not discarded.
func DefaultBrowserConfig() BrowserConfig {
	return BrowserConfig{
		Headless:          true,
		UserAgent:         DefaultUserAgent,
		NavigationTimeout: 30 * time.Second,
		SettleDelay:       2 * time.Second,
		MaxDepth:          3,
		MinWords:          50,
		ConsentSelectors: []string{
			"button[id*='cookie']", "button[class*='cookie']",
			"[id*='cookie'] button", "[class*='cookie'] button",
			"button[id*='accept']", "button[class*='accept']",
			"button[id*='agree']", "button[class*='agree']",
			"button[id*='consent']", "button[class*='consent']",
			"button[id*='allow']", "button[class*='allow']",
			"[id*='consent'] button", "[class*='consent'] button",
		},
		ConsentTexts: []string{
			"accept", "agree", "accept all", "accept cookies", "ok", "got it",
			"i agree", "allow all cookies", "allow cookies", "yes, i agree",
		},
		PaginationSelectors: []string{
			"a[rel='next']", "a:contains('Next')", "a:contains('Continue')", ".next a", "a.next",
		},
		GatePolicy: procurement.GatePolicy{FailOpen: true},
	}
}

// pageDriver is one browser tab. Implementations own the whole session
// and release it in Close.
type pageDriver interface {
	// Navigate loads url and returns the document's HTTP status
	Navigate(ctx context.Context, url string) (int, error)
	Location(ctx context.Context) (string, error)
	HTML(ctx context.Context) (string, error)
	// ClickFirstVisible clicks the first visible element matching one of
	// selectors, then one whose text equals one of texts. Returns what
	// was clicked or "".
	ClickFirstVisible(ctx context.Context, selectors, texts []string) (string, error)
	AnyVisible(ctx context.Context, selectors []string) (bool, error)
	// OverlayPresent reports a large positioned element floating above
	// the page
	OverlayPresent(ctx context.Context) (bool, error)
	Close() error
}

type driverFactory func(ctx context.Context, config BrowserConfig) (pageDriver, error)

// BrowserEngine renders pages in headless Chrome and follows pagination
type BrowserEngine struct {
	config    BrowserConfig
	gate      *AccessGate
	gateCfg   GateConfig
	extractor *ContentExtractor
	newDriver driverFactory
}

// NewBrowserEngine creates a browser engine backed by chromedp
func NewBrowserEngine(config BrowserConfig, extractor *ContentExtractor, gateConfig GateConfig) *BrowserEngine {
	return newBrowserEngine(config, extractor, gateConfig, newChromeDriver)
}

func newBrowserEngine(config BrowserConfig, extractor *ContentExtractor, gateConfig GateConfig, factory driverFactory) *BrowserEngine {
	if config.MaxDepth < 1 {
		config.MaxDepth = 1
	}
	return &BrowserEngine{
		config:    config,
		gate:      NewAccessGate(gateConfig, config.GatePolicy),
		gateCfg:   gateConfig,
		extractor: extractor,
		newDriver: factory,
	}
}

// Name identifies the engine in logs
func (e *BrowserEngine) Name() string { return "browser" }

// Close is a no-op; sessions are scoped to a single Fetch
func (e *BrowserEngine) Close() error { return nil }

type renderedPage struct {
	url    string
	status int
	doc    *goquery.Document
}

// Fetch renders req.URL and up to MaxDepth-1 following pages in one
// browser session
func (e *BrowserEngine) Fetch(ctx context.Context, req FetchRequest) procurement.Outcome {
	driver, err := e.newDriver(ctx, e.config)
	if err != nil {
		return procurement.Failed(req.URL, procurement.FetchFailure(req.URL, fmt.Errorf("failed to start browser: %w", err)))
	}
	defer func() {
		if err := driver.Close(); err != nil {
			log.Warn().Err(err).Str("url", req.URL).Msg("Browser session teardown reported errors")
		}
	}()

	first, err := e.load(ctx, driver, req.URL)
	if err != nil {
		return procurement.Failed(req.URL, procurement.FetchFailure(req.URL, err))
	}

	if req.CheckAccess {
		signals, sigErr := e.signals(ctx, driver, first)
		if reason, blocked := e.gate.CheckWithError(signals, sigErr); blocked {
			return procurement.Blocked(req.URL, reason)
		}
	}

	visited := map[string]bool{normalizeVisitKey(req.URL): true, normalizeVisitKey(first.url): true}
	head := e.extractor.Extract(first.doc, req.URL)
	texts := []string{head.Text}
	code := append([]string(nil), head.Code...)

	page := first
	for depth := 1; depth < e.config.MaxDepth; depth++ {
		next := e.nextPage(page.doc, page.url, req.URL, visited)
		if next == "" {
			break
		}
		visited[normalizeVisitKey(next)] = true

		followed, err := e.load(ctx, driver, next)
		if err != nil {
			log.Debug().Err(err).Str("url", next).Msg("Stopping pagination")
			break
		}
		visited[normalizeVisitKey(followed.url)] = true

		ex := e.extractor.Extract(followed.doc, next)
		texts = append(texts, ex.Text)
		code = appendUnique(code, ex.Code...)
		page = followed
	}

	merged := Extraction{
		Title: head.Title,
		Text:  joinNonEmpty(texts, "\n\n"),
		Code:  code,
	}
	merged.Level = e.extractor.DetermineLevel(merged.Text, req.URL)

	c, err := buildContent(req, merged, e.config.MinWords)
	return outcomeFor(req, c, err)
}

// load navigates with the per-navigation timeout, dismisses consent
// dialogs and snapshots the DOM. A navigation error is tolerated when the
// page still produced a document.
func (e *BrowserEngine) load(ctx context.Context, driver pageDriver, target string) (*renderedPage, error) {
	navCtx := ctx
	if e.config.NavigationTimeout > 0 {
		var cancel context.CancelFunc
		navCtx, cancel = context.WithTimeout(ctx, e.config.NavigationTimeout)
		defer cancel()
	}

	status, navErr := driver.Navigate(navCtx, target)
	if navErr != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Debug().Err(navErr).Str("url", target).Msg("Navigation reported an error, reading partial page")
	}

	if clicked, err := driver.ClickFirstVisible(ctx, e.config.ConsentSelectors, e.config.ConsentTexts); err == nil && clicked != "" {
		log.Debug().Str("url", target).Str("consent", clicked).Msg("Dismissed consent dialog")
	}

	html, err := driver.HTML(ctx)
	if err != nil {
		if navErr != nil {
			return nil, fmt.Errorf("navigation failed: %w", navErr)
		}
		return nil, fmt.Errorf("failed to read page: %w", err)
	}
	if navErr != nil && strings.TrimSpace(html) == "" {
		return nil, fmt.Errorf("navigation failed: %w", navErr)
	}

	location, err := driver.Location(ctx)
	if err != nil || location == "" || location == "about:blank" {
		location = target
	}

	doc, err := ParseHTML(strings.NewReader(html), location)
	if err != nil {
		return nil, err
	}
	return &renderedPage{url: location, status: status, doc: doc}, nil
}

func (e *BrowserEngine) signals(ctx context.Context, driver pageDriver, page *renderedPage) (PageSignals, error) {
	signals := PageSignals{
		StatusCode: page.status,
		FinalURL:   page.url,
		Doc:        page.doc,
		Rendered:   true,
	}

	var err error
	if signals.PaywallModal, err = driver.AnyVisible(ctx, e.gateCfg.PaywallModalSelectors); err != nil {
		return signals, err
	}
	if signals.LoginModal, err = driver.AnyVisible(ctx, e.gateCfg.LoginModalSelectors); err != nil {
		return signals, err
	}
	if signals.OverlayPresent, err = driver.OverlayPresent(ctx); err != nil {
		return signals, err
	}
	return signals, nil
}

// nextPage returns the first pagination link that stays on origin's
// registered domain and has not been visited
func (e *BrowserEngine) nextPage(doc *goquery.Document, pageURL, origin string, visited map[string]bool) string {
	base, err := url.Parse(pageURL)
	if err != nil {
		return ""
	}
	for _, selector := range e.config.PaginationSelectors {
		found := ""
		doc.Find(selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			href, ok := s.Attr("href")
			if !ok {
				return true
			}
			link, ok := resolveLink(base, href)
			if !ok || !sameRegisteredDomain(origin, link) || visited[normalizeVisitKey(link)] {
				return true
			}
			found = link
			return false
		})
		if found != "" {
			return found
		}
	}
	return ""
}

// normalizeVisitKey drops the fragment and a trailing slash
func normalizeVisitKey(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.Fragment = ""
	return strings.TrimSuffix(u.String(), "/")
}

func appendUnique(dst []string, items ...string) []string {
	seen := make(map[string]bool, len(dst))
	for _, d := range dst {
		seen[d] = true
	}
	for _, item := range items {
		if !seen[item] {
			seen[item] = true
			dst = append(dst, item)
		}
	}
	return dst
}

func joinNonEmpty(parts []string, sep string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}
