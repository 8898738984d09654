package scraping

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/Caia-Tech/caia-coursecrawl/internal/procurement"
	"github.com/Caia-Tech/caia-coursecrawl/pkg/content"
	"github.com/Caia-Tech/caia-coursecrawl/pkg/logging"
)

// Crawler runs search-driven crawls over a bounded worker pool. All URL
// bookkeeping goes through URLState.
type Crawler struct {
	config     CrawlerConfig
	policy     DomainPolicy
	state      *URLState
	engine     FetchEngine
	search     SearchProvider
	throttle   *SearchThrottle
	limiter    *PolitenessLimiter
	compliance *ComplianceEngine
	clock      clock.Clock
	onOutcome  func(procurement.Outcome)

	metrics   *CrawlMetrics
	metricsMu sync.RWMutex
}

// CrawlerConfig configures crawler behavior
type CrawlerConfig struct {
	Workers int `json:"workers"`
	// URLTimeout bounds politeness wait, gate check and fetch of one URL
	URLTimeout time.Duration `json:"url_timeout"`
	// MaxRetries is the number of search retries after a rate limit
	MaxRetries     int           `json:"max_retries"`
	InitialBackoff time.Duration `json:"initial_backoff"`
	MaxBackoff     time.Duration `json:"max_backoff"`
	// SearchInterval is the minimum spacing between search calls
	SearchInterval time.Duration `json:"search_interval"`
	// CandidateFactor scales max_results into the number of search hits
	// requested
	CandidateFactor int `json:"candidate_factor"`
	// CheckTrustedAccess runs the access gate on trusted domains too
	CheckTrustedAccess bool `json:"check_trusted_access"`
}

// DefaultCrawlerConfig returns default crawler configuration
func DefaultCrawlerConfig() CrawlerConfig {
	return CrawlerConfig{
		Workers:         4,
		URLTimeout:      2 * time.Minute,
		MaxRetries:      3,
		InitialBackoff:  2 * time.Second,
		MaxBackoff:      30 * time.Second,
		SearchInterval:  5 * time.Second,
		CandidateFactor: 2,
	}
}

// Validate checks the crawler configuration
func (c CrawlerConfig) Validate() error {
	switch {
	case c.Workers < 1:
		return fmt.Errorf("workers must be at least 1")
	case c.MaxRetries < 0:
		return fmt.Errorf("max_retries cannot be negative")
	case c.CandidateFactor < 1:
		return fmt.Errorf("candidate_factor must be at least 1")
	}
	return nil
}

// Candidate is one URL queued for processing
type Candidate struct {
	URL    string `json:"url"`
	Title  string `json:"title"`
	Topic  string `json:"topic"`
	Source string `json:"source"`
}

// CrawlStats counts what happened to the candidates of one run
type CrawlStats struct {
	Candidates  int            `json:"candidates"`
	Attempts    int            `json:"attempts"`
	Succeeded   int            `json:"succeeded"`
	Skipped     int            `json:"skipped"`
	Blocked     int            `json:"blocked"`
	Failed      int            `json:"failed"`
	Rejected    int            `json:"rejected"`
	SkipReasons map[string]int `json:"skip_reasons"`
}

// CrawlReport is the result of one SearchAndScrape run
type CrawlReport struct {
	RunID   string                   `json:"run_id"`
	Query   string                   `json:"query"`
	Level   content.Level            `json:"level"`
	Results []content.ScrapedContent `json:"-"`
	Stats   CrawlStats               `json:"stats"`
	// SearchExhausted is set when every search attempt was refused
	SearchExhausted bool          `json:"search_exhausted"`
	SearchError     string        `json:"search_error,omitempty"`
	StartedAt       time.Time     `json:"started_at"`
	Duration        time.Duration `json:"duration"`
}

// CrawlMetrics accumulates statistics across runs
type CrawlMetrics struct {
	Runs        int64                        `json:"runs"`
	Attempts    int64                        `json:"attempts"`
	Succeeded   int64                        `json:"succeeded"`
	Skipped     int64                        `json:"skipped"`
	Blocked     int64                        `json:"blocked"`
	Failed      int64                        `json:"failed"`
	SearchCalls int64                        `json:"search_calls"`
	RateLimited int64                        `json:"rate_limited"`
	DomainStats map[string]*CrawlDomainStats `json:"domain_stats"`
	LastUpdated time.Time                    `json:"last_updated"`
}

// CrawlDomainStats tracks fetch results for one registered domain
type CrawlDomainStats struct {
	Domain          string    `json:"domain"`
	PagesProcessed  int64     `json:"pages_processed"`
	PagesSuccessful int64     `json:"pages_successful"`
	LastCrawled     time.Time `json:"last_crawled"`
}

// CrawlerDeps are the collaborators a Crawler drives. Compliance may be
// nil to skip robots.txt checks. OnOutcome, when set, sees every settled
// or skipped candidate from the worker that produced it.
type CrawlerDeps struct {
	State      *URLState
	Engine     FetchEngine
	Search     SearchProvider
	Limiter    *PolitenessLimiter
	Compliance *ComplianceEngine
	Clock      clock.Clock
	OnOutcome  func(procurement.Outcome)
}

// NewCrawler creates a crawler
func NewCrawler(config CrawlerConfig, policy DomainPolicy, deps CrawlerDeps) *Crawler {
	clk := deps.Clock
	if clk == nil {
		clk = clock.WallClock
	}
	limiter := deps.Limiter
	if limiter == nil {
		limiter = NewPolitenessLimiter(DefaultPolitenessConfig(), clk)
	}
	if config.Workers < 1 {
		config.Workers = 1
	}
	if config.CandidateFactor < 1 {
		config.CandidateFactor = 1
	}

	return &Crawler{
		config:     config,
		policy:     policy,
		state:      deps.State,
		engine:     deps.Engine,
		search:     deps.Search,
		throttle:   NewSearchThrottle(config.SearchInterval),
		limiter:    limiter,
		compliance: deps.Compliance,
		clock:      clk,
		onOutcome:  deps.OnOutcome,
		metrics: &CrawlMetrics{
			DomainStats: make(map[string]*CrawlDomainStats),
			LastUpdated: clk.Now(),
		},
	}
}

// BroadenQuery adds the tutorial disjunction and the requested level
func BroadenQuery(query string, level content.Level) string {
	parts := []string{strings.TrimSpace(query)}
	if level != "" && level != content.LevelAny {
		parts = append(parts, string(level))
	}
	parts = append(parts, "(tutorial OR guide OR course)")
	return strings.Join(parts, " ")
}

// RankCandidates orders hits so trusted domains come first, in configured
// order. Untrusted hits keep their search order.
func RankCandidates(results []SearchResult, policy DomainPolicy) []SearchResult {
	ranked := make([]SearchResult, len(results))
	copy(ranked, results)
	rank := func(r SearchResult) int {
		if i := policy.TrustRank(hostOf(r.Href)); i >= 0 {
			return i
		}
		return len(policy.TrustedDomains)
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return rank(ranked[i]) < rank(ranked[j])
	})
	return ranked
}

// SearchAndScrape searches for query and crawls the hits until maxResults
// pages succeed or 2*maxResults fetches were attempted. A refused search
// ends the run early with an empty, non-error report. The error is non-nil
// only for invalid arguments or cancellation.
func (c *Crawler) SearchAndScrape(ctx context.Context, query string, level content.Level, maxResults int) (*CrawlReport, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("query cannot be empty")
	}
	if maxResults < 1 {
		return nil, fmt.Errorf("max_results must be at least 1")
	}
	if level == "" {
		level = content.LevelAny
	}

	report := &CrawlReport{
		RunID:     uuid.New().String(),
		Query:     query,
		Level:     level,
		StartedAt: c.clock.Now(),
		Stats:     CrawlStats{SkipReasons: make(map[string]int)},
	}
	logger := logging.GetCrawlLogger(report.RunID, query)

	hits, err := c.searchWithRetry(ctx, logger, query, level, maxResults*c.config.CandidateFactor)
	if err != nil {
		report.SearchError = err.Error()
		report.SearchExhausted = errors.Is(err, procurement.ErrSearchExhausted)
		report.Duration = c.clock.Now().Sub(report.StartedAt)
		logger.Warn().Err(err).Msg("Search failed, returning empty result")
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		return report, nil
	}

	candidates := make([]Candidate, 0, len(hits))
	for _, hit := range RankCandidates(hits, c.policy) {
		candidates = append(candidates, Candidate{
			URL:    hit.Href,
			Title:  hit.Title,
			Topic:  query,
			Source: "web_search",
		})
	}

	results, stats, err := c.Process(ctx, candidates, maxResults)
	report.Results = results
	report.Stats = stats
	report.Duration = c.clock.Now().Sub(report.StartedAt)

	c.metricsMu.Lock()
	c.metrics.Runs++
	c.metricsMu.Unlock()

	logger.Info().
		Int("results", len(results)).
		Int("attempts", stats.Attempts).
		Int("skipped", stats.Skipped).
		Dur("duration", report.Duration).
		Msg("Search and scrape completed")

	return report, err
}

func (c *Crawler) searchWithRetry(ctx context.Context, logger zerolog.Logger, query string, level content.Level, n int) ([]SearchResult, error) {
	if c.search == nil {
		return nil, fmt.Errorf("no search provider configured")
	}

	attempts := c.config.MaxRetries + 1
	backoff := c.config.InitialBackoff
	broad := BroadenQuery(query, level)

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		q := broad
		if attempt == attempts && attempt > 1 {
			q = strings.TrimSpace(query)
		}

		if err := c.throttle.Wait(ctx); err != nil {
			return nil, err
		}
		c.metricsMu.Lock()
		c.metrics.SearchCalls++
		c.metricsMu.Unlock()

		hits, err := c.search.Text(ctx, q, n)
		if err == nil {
			logger.Debug().Str("search_query", q).Int("hits", len(hits)).Int("attempt", attempt).Msg("Search succeeded")
			return hits, nil
		}
		if !errors.Is(err, procurement.ErrRateLimited) {
			return nil, fmt.Errorf("search failed: %w", err)
		}
		lastErr = err

		c.metricsMu.Lock()
		c.metrics.RateLimited++
		c.metricsMu.Unlock()

		if attempt == attempts {
			break
		}
		wait := backoff
		var rle *procurement.RateLimitError
		if errors.As(err, &rle) && rle.RetryAfter > wait {
			wait = rle.RetryAfter
		}
		logger.Warn().Int("attempt", attempt).Dur("backoff", wait).Msg("Search rate limited, backing off")
		if err := sleepContext(ctx, c.clock, wait); err != nil {
			return nil, err
		}
		backoff *= 2
		if c.config.MaxBackoff > 0 && backoff > c.config.MaxBackoff {
			backoff = c.config.MaxBackoff
		}
	}
	return nil, fmt.Errorf("%w after %d attempts: %w", procurement.ErrSearchExhausted, attempts, lastErr)
}

// Process runs candidates through the worker pool. Results follow
// candidate order regardless of completion order.
func (c *Crawler) Process(ctx context.Context, candidates []Candidate, maxResults int) ([]content.ScrapedContent, CrawlStats, error) {
	run := newCrawlRun(ctx, maxResults, len(candidates))
	defer run.stop()

	jobs := make(chan int)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(jobs)
		for i := range candidates {
			select {
			case jobs <- i:
			case <-run.done:
				return nil
			case <-gctx.Done():
				return nil
			}
		}
		return nil
	})

	for w := 0; w < c.config.Workers; w++ {
		g.Go(func() error {
			for i := range jobs {
				c.handle(gctx, run, i, candidates[i])
			}
			return nil
		})
	}
	_ = g.Wait()

	return run.results(), run.snapshot(), ctx.Err()
}

// Scrape runs a single candidate through the same checks, politeness and
// state updates as a crawl
func (c *Crawler) Scrape(ctx context.Context, cand Candidate) procurement.Outcome {
	run := newCrawlRun(ctx, 1, 1)
	defer run.stop()
	outcome, ok := c.handle(ctx, run, 0, cand)
	if !ok {
		return procurement.Failed(cand.URL, procurement.FetchFailure(cand.URL, context.Cause(ctx)))
	}
	return outcome
}

// handle processes one candidate. It reports false when the candidate was
// dropped without an outcome because the run ended.
func (c *Crawler) handle(ctx context.Context, run *crawlRun, index int, cand Candidate) (procurement.Outcome, bool) {
	if ctx.Err() != nil {
		return procurement.Outcome{}, false
	}
	if reason, skip := c.skipReason(run, cand.URL); skip {
		return c.skip(run, index, cand.URL, reason), true
	}
	allowed, crawlDelay := c.robots(ctx, cand.URL)
	if !allowed {
		return c.skip(run, index, cand.URL, procurement.ReasonRobots), true
	}
	if !run.claim() {
		return procurement.Outcome{}, false
	}

	outcome := c.fetch(ctx, cand, crawlDelay)
	if ctx.Err() != nil && !outcome.IsSuccess() {
		// Cancelled mid-fetch: leave URL state untouched
		run.release(index, outcome, false)
		return outcome, true
	}
	c.settle(outcome)
	c.logOutcome(outcome)
	run.release(index, outcome, true)
	return outcome, true
}

func (c *Crawler) skip(run *crawlRun, index int, rawURL, reason string) procurement.Outcome {
	outcome := procurement.Skipped(rawURL, reason)
	run.record(index, outcome)
	c.logOutcome(outcome)
	return outcome
}

func (c *Crawler) skipReason(run *crawlRun, rawURL string) (string, bool) {
	if !run.visit(rawURL) {
		return procurement.ReasonVisited, true
	}
	if _, ok := c.policy.MatchesSkipPattern(rawURL); ok {
		return procurement.ReasonSkipPattern, true
	}
	if skip, reason := c.state.ShouldSkip(rawURL); skip {
		return reason, true
	}
	return "", false
}

// robots reports whether robots.txt allows rawURL and the Crawl-delay it
// asks for. Without a compliance engine everything is allowed.
func (c *Crawler) robots(ctx context.Context, rawURL string) (bool, time.Duration) {
	if c.compliance == nil {
		return true, 0
	}
	result, err := c.compliance.CheckCompliance(ctx, rawURL)
	if err != nil {
		return true, 0
	}
	return result.Allowed, result.CrawlDelay
}

func (c *Crawler) fetch(ctx context.Context, cand Candidate, crawlDelay time.Duration) procurement.Outcome {
	if c.config.URLTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.URLTimeout)
		defer cancel()
	}

	delay := c.state.DelayFor(cand.URL).AtLeast(crawlDelay)
	if err := c.limiter.Wait(ctx, cand.URL, delay); err != nil {
		return procurement.Failed(cand.URL, procurement.FetchFailure(cand.URL, err))
	}

	trusted := c.policy.IsTrusted(hostOf(cand.URL))
	return c.engine.Fetch(ctx, FetchRequest{
		URL:         cand.URL,
		Topic:       cand.Topic,
		Title:       cand.Title,
		Source:      cand.Source,
		CheckAccess: !trusted || c.config.CheckTrustedAccess,
	})
}

// settle folds an outcome into URL state. Blocked pages and failures on
// untrusted sites disqualify the whole domain; failures on trusted sites
// and thin content only the URL.
func (c *Crawler) settle(outcome procurement.Outcome) {
	var err error
	trusted := c.policy.IsTrusted(hostOf(outcome.URL))

	switch outcome.Kind {
	case procurement.OutcomeSuccess:
		c.limiter.RecordSuccess(outcome.URL)
		err = c.state.MarkScraped(outcome.URL)
	case procurement.OutcomeBlocked:
		err = c.state.MarkBad(outcome.URL)
	case procurement.OutcomeFailed:
		var statusErr *HTTPStatusError
		switch {
		case errors.As(outcome.Err, &statusErr) && statusErr.StatusCode == http.StatusTooManyRequests:
			c.limiter.RecordRateLimited(outcome.URL)
			err = c.state.MarkBadURL(outcome.URL)
		case errors.Is(outcome.Err, procurement.ErrContentRejected), trusted:
			err = c.state.MarkBadURL(outcome.URL)
		default:
			err = c.state.MarkBad(outcome.URL)
		}
	}
	if err != nil {
		log.Error().Err(err).Str("url", outcome.URL).Msg("Failed to persist URL state")
	}

	if outcome.Kind == procurement.OutcomeSkipped {
		return
	}
	domain := registeredDomain(hostOf(outcome.URL))
	c.metricsMu.Lock()
	defer c.metricsMu.Unlock()
	stats, ok := c.metrics.DomainStats[domain]
	if !ok {
		stats = &CrawlDomainStats{Domain: domain}
		c.metrics.DomainStats[domain] = stats
	}
	stats.PagesProcessed++
	if outcome.IsSuccess() {
		stats.PagesSuccessful++
	}
	stats.LastCrawled = c.clock.Now()
}

func (c *Crawler) logOutcome(outcome procurement.Outcome) {
	c.metricsMu.Lock()
	switch outcome.Kind {
	case procurement.OutcomeSuccess:
		c.metrics.Attempts++
		c.metrics.Succeeded++
	case procurement.OutcomeSkipped:
		c.metrics.Skipped++
	case procurement.OutcomeBlocked:
		c.metrics.Attempts++
		c.metrics.Blocked++
	case procurement.OutcomeFailed:
		c.metrics.Attempts++
		c.metrics.Failed++
	}
	c.metrics.LastUpdated = c.clock.Now()
	c.metricsMu.Unlock()

	logger := logging.GetPageLogger(outcome.URL, registeredDomain(hostOf(outcome.URL)))
	event := logger.Info()
	if outcome.Kind == procurement.OutcomeFailed || outcome.Kind == procurement.OutcomeBlocked {
		event = logger.Warn()
	} else if outcome.Kind == procurement.OutcomeSkipped {
		event = logger.Debug()
	}
	event.
		Str("outcome", string(outcome.Kind)).
		Str("reason", outcome.Reason).
		Str("engine", c.engine.Name()).
		Msg("Candidate processed")

	if c.onOutcome != nil {
		c.onOutcome(outcome)
	}
}

// GetMetrics returns a deep copy of the cumulative metrics
func (c *Crawler) GetMetrics() *CrawlMetrics {
	c.metricsMu.RLock()
	defer c.metricsMu.RUnlock()

	metrics := *c.metrics
	metrics.DomainStats = make(map[string]*CrawlDomainStats, len(c.metrics.DomainStats))
	for domain, stats := range c.metrics.DomainStats {
		statsCopy := *stats
		metrics.DomainStats[domain] = &statsCopy
	}
	return &metrics
}

// crawlRun is the shared budget of one Process call. Workers claim a fetch
// slot only while successes plus in-flight fetches stay below the target.
type crawlRun struct {
	mu          sync.Mutex
	cond        *sync.Cond
	maxResults  int
	maxAttempts int
	inflight    int
	finished    bool
	done        chan struct{}
	stopWatch   func() bool

	visited map[string]bool
	found   map[int]content.ScrapedContent
	stats   CrawlStats
}

func newCrawlRun(ctx context.Context, maxResults, candidates int) *crawlRun {
	r := &crawlRun{
		maxResults:  maxResults,
		maxAttempts: 2 * maxResults,
		done:        make(chan struct{}),
		visited:     make(map[string]bool),
		found:       make(map[int]content.ScrapedContent),
		stats:       CrawlStats{Candidates: candidates, SkipReasons: make(map[string]int)},
	}
	r.cond = sync.NewCond(&r.mu)
	r.stopWatch = context.AfterFunc(ctx, func() {
		r.mu.Lock()
		r.finishLocked()
		r.mu.Unlock()
	})
	return r
}

func (r *crawlRun) stop() {
	r.stopWatch()
	r.mu.Lock()
	r.finishLocked()
	r.mu.Unlock()
}

func (r *crawlRun) finishLocked() {
	if !r.finished {
		r.finished = true
		close(r.done)
	}
	r.cond.Broadcast()
}

// visit reports whether rawURL is new to this run
func (r *crawlRun) visit(rawURL string) bool {
	key := normalizeVisitKey(rawURL)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.visited[key] {
		return false
	}
	r.visited[key] = true
	return true
}

// claim blocks until a fetch slot is free and reports whether one was
// granted. It returns false once the run is over.
func (r *crawlRun) claim() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for !r.finished && r.stats.Succeeded+r.inflight >= r.maxResults {
		r.cond.Wait()
	}
	if r.finished {
		return false
	}
	r.inflight++
	r.stats.Attempts++
	if r.stats.Attempts >= r.maxAttempts {
		// Last permitted attempt; stop feeding more work
		r.finishLocked()
	}
	return true
}

// release returns a claimed slot and records the outcome
func (r *crawlRun) release(index int, outcome procurement.Outcome, counted bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inflight--
	if counted {
		r.recordLocked(index, outcome)
	}
	if r.stats.Succeeded >= r.maxResults {
		r.finishLocked()
	}
	r.cond.Broadcast()
}

func (r *crawlRun) record(index int, outcome procurement.Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recordLocked(index, outcome)
}

func (r *crawlRun) recordLocked(index int, outcome procurement.Outcome) {
	switch outcome.Kind {
	case procurement.OutcomeSuccess:
		r.stats.Succeeded++
		r.found[index] = outcome.Content
	case procurement.OutcomeSkipped:
		r.stats.Skipped++
		r.stats.SkipReasons[outcome.Reason]++
	case procurement.OutcomeBlocked:
		r.stats.Blocked++
	case procurement.OutcomeFailed:
		r.stats.Failed++
		if errors.Is(outcome.Err, procurement.ErrContentRejected) {
			r.stats.Rejected++
		}
	}
}

func (r *crawlRun) results() []content.ScrapedContent {
	r.mu.Lock()
	defer r.mu.Unlock()
	indexes := make([]int, 0, len(r.found))
	for i := range r.found {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)
	out := make([]content.ScrapedContent, 0, len(indexes))
	for _, i := range indexes {
		out = append(out, r.found[i])
	}
	return out
}

func (r *crawlRun) snapshot() CrawlStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := r.stats
	stats.SkipReasons = make(map[string]int, len(r.stats.SkipReasons))
	for k, v := range r.stats.SkipReasons {
		stats.SkipReasons[k] = v
	}
	return stats
}
