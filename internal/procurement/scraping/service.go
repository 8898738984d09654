package scraping

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/hashicorp/go-multierror"
	"github.com/juju/clock"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Caia-Tech/caia-coursecrawl/internal/events"
	"github.com/Caia-Tech/caia-coursecrawl/internal/processing"
	"github.com/Caia-Tech/caia-coursecrawl/internal/procurement"
	"github.com/Caia-Tech/caia-coursecrawl/internal/storage"
	"github.com/Caia-Tech/caia-coursecrawl/pkg/content"
	"github.com/Caia-Tech/caia-coursecrawl/pkg/logging"
)

// ScrapingService wires the crawl components together and hands results
// to the knowledge store
type ScrapingService struct {
	config     ServiceConfig
	state      *URLState
	extractor  *ContentExtractor
	engine     FetchEngine
	documents  documentFetcher
	crawler    *Crawler
	limiter    *PolitenessLimiter
	compliance *ComplianceEngine
	store      storage.KnowledgeStore
	events     *events.Bus
	clock      clock.Clock
	logger     zerolog.Logger

	serviceMetrics *ServiceMetrics
	metricsMu      sync.RWMutex
	closeOnce      sync.Once
}

// documentFetcher returns a parsed page for selector-driven extraction
type documentFetcher interface {
	FetchDocument(ctx context.Context, rawURL string) (*goquery.Document, error)
}

// ServiceConfig aggregates the configuration of every crawl component
type ServiceConfig struct {
	DataDir string `json:"data_dir"`
	// UseBrowser selects the headless-browser engine over plain HTTP
	UseBrowser bool `json:"use_browser"`
	// StoreResults appends successful pages to the knowledge base
	StoreResults bool `json:"store_results"`
	// BadEntryTTL lets bad URL entries expire. Zero keeps them forever.
	BadEntryTTL time.Duration `json:"bad_entry_ttl"`

	Crawler    CrawlerConfig            `json:"crawler"`
	Policy     DomainPolicy             `json:"policy"`
	Sources    []SourceConfig           `json:"sources"`
	Extractor  ExtractorConfig          `json:"extractor"`
	Cleaner    processing.CleanerConfig `json:"cleaner"`
	Gate       GateConfig               `json:"gate"`
	HTTP       HTTPEngineConfig         `json:"http"`
	Browser    BrowserConfig            `json:"browser"`
	Compliance ComplianceConfig         `json:"compliance"`
	Politeness PolitenessConfig         `json:"politeness"`
	Search     DuckDuckGoConfig         `json:"search"`
}

// DefaultServiceConfig returns default service configuration
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		DataDir:      "data",
		StoreResults: true,
		Crawler:      DefaultCrawlerConfig(),
		Policy:       DefaultDomainPolicy(),
		Sources:      DefaultSourceConfigs(),
		Extractor:    DefaultExtractorConfig(),
		Cleaner:      processing.DefaultCleanerConfig(),
		Gate:         DefaultGateConfig(),
		HTTP:         DefaultHTTPEngineConfig(),
		Browser:      DefaultBrowserConfig(),
		Compliance:   DefaultComplianceConfig(),
		Politeness:   DefaultPolitenessConfig(),
		Search:       DefaultDuckDuckGoConfig(),
	}
}

// Validate reports every configuration problem at once
func (c ServiceConfig) Validate() error {
	var result error
	if strings.TrimSpace(c.DataDir) == "" {
		result = multierror.Append(result, fmt.Errorf("data_dir cannot be empty"))
	}
	if c.BadEntryTTL < 0 {
		result = multierror.Append(result, fmt.Errorf("bad_entry_ttl cannot be negative"))
	}
	if err := c.Crawler.Validate(); err != nil {
		result = multierror.Append(result, fmt.Errorf("crawler: %w", err))
	}
	if err := c.Policy.Validate(); err != nil {
		result = multierror.Append(result, fmt.Errorf("policy: %w", err))
	}
	if c.HTTP.MaxContentSize <= 0 {
		result = multierror.Append(result, fmt.Errorf("http: max_content_size must be positive"))
	}
	if c.HTTP.MinWords < 0 || c.Browser.MinWords < 0 {
		result = multierror.Append(result, fmt.Errorf("min_words cannot be negative"))
	}
	for i, src := range c.Sources {
		if src.Name == "" {
			result = multierror.Append(result, fmt.Errorf("sources[%d]: name cannot be empty", i))
		}
		if u, err := url.Parse(src.BaseURL); err != nil || u.Host == "" {
			result = multierror.Append(result, fmt.Errorf("sources[%d]: invalid base_url %q", i, src.BaseURL))
		}
	}
	return result
}

// ServiceDeps overrides collaborators. Zero values build the defaults.
// Events is optional; when set every page outcome and store result is
// published to it.
type ServiceDeps struct {
	Store      storage.KnowledgeStore
	Search     SearchProvider
	Engine     FetchEngine
	HTTPClient *http.Client
	Clock      clock.Clock
	Events     *events.Bus
}

// ServiceMetrics tracks overall service activity
type ServiceMetrics struct {
	SearchRuns     int64                     `json:"search_runs"`
	PagesScraped   int64                     `json:"pages_scraped"`
	RecordsStored  int64                     `json:"records_stored"`
	StoreFailures  int64                     `json:"store_failures"`
	SourceMetrics  map[string]*SourceMetrics `json:"source_metrics"`
	OutcomesByKind map[string]int64          `json:"outcomes_by_kind"`
	LastUpdated    time.Time                 `json:"last_updated"`
}

// SourceMetrics tracks one configured source
type SourceMetrics struct {
	Source            string    `json:"source"`
	PagesAttempted    int64     `json:"pages_attempted"`
	SuccessfulScrapes int64     `json:"successful_scrapes"`
	FailedScrapes     int64     `json:"failed_scrapes"`
	LastSuccess       time.Time `json:"last_success"`
	LastError         string    `json:"last_error,omitempty"`
}

// NewScrapingService builds the crawl stack from config
func NewScrapingService(config ServiceConfig, deps ServiceDeps) (*ScrapingService, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid service configuration: %w", err)
	}

	clk := deps.Clock
	if clk == nil {
		clk = clock.WallClock
	}

	cleaner := processing.NewContentCleaner(config.Cleaner)
	extractor := NewContentExtractor(config.Extractor, config.Policy, cleaner)

	stateConfig := DefaultURLStateConfig(config.DataDir)
	stateConfig.BadEntryTTL = config.BadEntryTTL
	stateConfig.Clock = clk
	state := NewURLState(config.Policy, stateConfig)

	httpEngine := NewHTTPEngine(config.HTTP, deps.HTTPClient, extractor, config.Gate)
	engine := deps.Engine
	if engine == nil {
		engine = FetchEngine(httpEngine)
		if config.UseBrowser {
			engine = NewBrowserEngine(config.Browser, extractor, config.Gate)
		}
	}

	search := deps.Search
	if search == nil {
		search = NewDuckDuckGo(config.Search, deps.HTTPClient)
	}

	var compliance *ComplianceEngine
	if config.Compliance.RespectRobotsTxt {
		compliance = NewComplianceEngine(config.Compliance, deps.HTTPClient, clk)
	}
	limiter := NewPolitenessLimiter(config.Politeness, clk)

	store := deps.Store
	if store == nil && config.StoreResults {
		store = storage.NewFileKnowledgeStore(config.DataDir, nil)
	}

	var onOutcome func(procurement.Outcome)
	if deps.Events != nil {
		onOutcome = func(outcome procurement.Outcome) {
			publish(deps.Events, events.OutcomeEvent(outcome))
		}
	}

	crawler := NewCrawler(config.Crawler, config.Policy, CrawlerDeps{
		State:      state,
		Engine:     engine,
		Search:     search,
		Limiter:    limiter,
		Compliance: compliance,
		Clock:      clk,
		OnOutcome:  onOutcome,
	})

	s := &ScrapingService{
		config:     config,
		state:      state,
		extractor:  extractor,
		engine:     engine,
		documents:  httpEngine,
		crawler:    crawler,
		limiter:    limiter,
		compliance: compliance,
		store:      store,
		events:     deps.Events,
		clock:      clk,
		logger:     logging.GetLogger("scraping_service"),
		serviceMetrics: &ServiceMetrics{
			SourceMetrics:  make(map[string]*SourceMetrics),
			OutcomesByKind: make(map[string]int64),
			LastUpdated:    clk.Now(),
		},
	}

	s.logger.Info().
		Str("engine", engine.Name()).
		Str("data_dir", config.DataDir).
		Bool("robots", compliance != nil).
		Bool("store_results", store != nil).
		Msg("Scraping service initialized")

	return s, nil
}

// SearchAndScrape runs a search-driven crawl and stores the results
func (s *ScrapingService) SearchAndScrape(ctx context.Context, query string, level content.Level, maxResults int) (*CrawlReport, error) {
	report, err := s.crawler.SearchAndScrape(ctx, query, level, maxResults)
	if report == nil {
		return nil, err
	}

	s.metricsMu.Lock()
	s.serviceMetrics.SearchRuns++
	s.serviceMetrics.PagesScraped += int64(len(report.Results))
	s.serviceMetrics.LastUpdated = s.clock.Now()
	s.metricsMu.Unlock()

	if err == nil {
		s.storeResults(ctx, report.Results)
	}
	return report, err
}

// ScrapePage fetches one URL. topic defaults to the URL's source name.
// Only malformed input returns an error; every other result is an Outcome.
func (s *ScrapingService) ScrapePage(ctx context.Context, rawURL, topic string) (procurement.Outcome, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return procurement.Outcome{}, fmt.Errorf("invalid url %q", rawURL)
	}
	target := u.String()
	if topic == "" {
		topic = content.SourceFromURL(target)
	}

	outcome := s.crawler.Scrape(ctx, Candidate{URL: target, Topic: topic})
	s.recordOutcome(outcome)
	if outcome.IsSuccess() {
		s.storeResults(ctx, []content.ScrapedContent{outcome.Content})
	}
	return outcome, nil
}

// ScrapeConfiguredSources crawls the index page of every configured topic
// with the source's selectors, then the first CrawlDepth in-site links from
// it. An empty topics list selects every topic.
func (s *ScrapingService) ScrapeConfiguredSources(ctx context.Context, topics ...string) ([]content.ScrapedContent, error) {
	wanted := make(map[string]bool, len(topics))
	for _, t := range topics {
		wanted[strings.ToLower(strings.TrimSpace(t))] = true
	}

	var results []content.ScrapedContent
	for _, src := range s.config.Sources {
		names := make([]string, 0, len(src.Topics))
		for name := range src.Topics {
			if len(wanted) == 0 || wanted[strings.ToLower(name)] {
				names = append(names, name)
			}
		}
		sort.Strings(names)

		for _, topic := range names {
			if err := ctx.Err(); err != nil {
				s.storeResults(context.WithoutCancel(ctx), results)
				return results, err
			}
			found := s.scrapeSourceTopic(ctx, src, topic, src.Topics[topic])
			results = append(results, found...)
		}
	}

	s.storeResults(ctx, results)
	return results, ctx.Err()
}

func (s *ScrapingService) scrapeSourceTopic(ctx context.Context, src SourceConfig, topic string, tc TopicConfig) []content.ScrapedContent {
	logger := s.logger.With().Str("source", src.Name).Str("topic", topic).Logger()

	base, err := url.Parse(src.BaseURL)
	if err != nil {
		logger.Error().Err(err).Msg("Invalid source base URL")
		return nil
	}
	ref, err := url.Parse(tc.RelativeURL)
	if err != nil {
		logger.Error().Err(err).Msg("Invalid topic URL")
		return nil
	}
	indexURL := base.ResolveReference(ref).String()

	if skip, reason := s.state.ShouldSkip(indexURL); skip && reason != procurement.ReasonAlreadyScraped {
		logger.Info().Str("url", indexURL).Str("reason", reason).Msg("Skipping source topic")
		return nil
	}

	logger.Info().Str("url", indexURL).Msg("Scraping configured source")
	if err := s.limiter.Wait(ctx, indexURL, s.state.DelayFor(indexURL)); err != nil {
		return nil
	}

	doc, err := s.documents.FetchDocument(ctx, indexURL)
	if err != nil {
		if ctx.Err() == nil {
			outcome := procurement.Failed(indexURL, procurement.FetchFailure(indexURL, err))
			s.crawler.settle(outcome)
			s.recordSourceOutcome(src.Name, outcome)
			publish(s.events, events.OutcomeEvent(outcome))
		}
		return nil
	}

	var results []content.ScrapedContent
	if indexContent, ok := s.indexContent(doc, src, topic, indexURL); ok {
		outcome := procurement.Success(indexContent)
		if skip, _ := s.state.ShouldSkip(indexURL); !skip {
			results = append(results, indexContent)
			s.crawler.settle(outcome)
			publish(s.events, events.OutcomeEvent(outcome))
		}
		s.recordSourceOutcome(src.Name, outcome)
	} else {
		logger.Warn().Str("url", indexURL).Msg("No main content found")
	}

	links := s.extractor.FindLinks(doc, indexURL, src.AvoidURLFragments)
	followed := 0
	for _, link := range links {
		if followed >= tc.CrawlDepth || ctx.Err() != nil {
			break
		}
		if !sameRegisteredDomain(indexURL, link) || normalizeVisitKey(link) == normalizeVisitKey(indexURL) {
			continue
		}
		followed++

		outcome := s.crawler.Scrape(ctx, Candidate{URL: link, Topic: topic, Source: src.Name})
		s.recordSourceOutcome(src.Name, outcome)
		if outcome.IsSuccess() {
			results = append(results, outcome.Content)
		}
	}
	return results
}

// indexContent builds content from the source's own selectors
func (s *ScrapingService) indexContent(doc *goquery.Document, src SourceConfig, topic, pageURL string) (content.ScrapedContent, bool) {
	text, code := s.extractor.ExtractWithSelectors(doc, src.ContentSelectors, src.CodeSelectors)
	if strings.TrimSpace(text) == "" {
		return content.ScrapedContent{}, false
	}

	title := s.extractor.GetTitle(doc)
	if title == untitled {
		title = topicTitle(topic)
	}
	if code == nil {
		code = []string{}
	}
	return content.ScrapedContent{
		Title:  title,
		Text:   text,
		Code:   code,
		URL:    pageURL,
		Topic:  topic,
		Source: src.Name,
		Level:  s.extractor.DetermineLevel(text, pageURL),
	}, true
}

func topicTitle(topic string) string {
	if topic == "" {
		return "Tutorial"
	}
	return strings.ToUpper(topic[:1]) + topic[1:] + " Tutorial"
}

// storeResults hands results to the knowledge store. Failures are logged
// and never reach the caller.
func (s *ScrapingService) storeResults(ctx context.Context, results []content.ScrapedContent) {
	if s.store == nil || len(results) == 0 {
		return
	}

	records := content.ToRecords(results)
	err := s.store.StoreKnowledge(ctx, records)

	s.metricsMu.Lock()
	if err != nil {
		s.serviceMetrics.StoreFailures++
	} else {
		s.serviceMetrics.RecordsStored += int64(len(records))
	}
	s.serviceMetrics.LastUpdated = s.clock.Now()
	s.metricsMu.Unlock()
	publish(s.events, events.StoreEvent(len(records), err))

	if err != nil {
		s.logger.Error().Err(err).Int("records", len(records)).Msg("Failed to store knowledge")
		return
	}
	s.logger.Info().Int("records", len(records)).Msg("Stored knowledge")
}

// publish hands event to bus without blocking. A nil bus is a no-op.
func publish(bus *events.Bus, event *events.CrawlEvent) {
	if bus == nil {
		return
	}
	if err := bus.Publish(event); err != nil {
		log.Debug().Err(err).Str("event_type", string(event.Type)).Msg("Crawl event not published")
	}
}

func (s *ScrapingService) recordOutcome(outcome procurement.Outcome) {
	s.metricsMu.Lock()
	defer s.metricsMu.Unlock()
	s.serviceMetrics.OutcomesByKind[string(outcome.Kind)]++
	if outcome.IsSuccess() {
		s.serviceMetrics.PagesScraped++
	}
	s.serviceMetrics.LastUpdated = s.clock.Now()
}

func (s *ScrapingService) recordSourceOutcome(source string, outcome procurement.Outcome) {
	s.recordOutcome(outcome)
	if outcome.Kind == procurement.OutcomeSkipped {
		return
	}

	s.metricsMu.Lock()
	defer s.metricsMu.Unlock()
	metrics, ok := s.serviceMetrics.SourceMetrics[source]
	if !ok {
		metrics = &SourceMetrics{Source: source}
		s.serviceMetrics.SourceMetrics[source] = metrics
	}
	metrics.PagesAttempted++
	if outcome.IsSuccess() {
		metrics.SuccessfulScrapes++
		metrics.LastSuccess = s.clock.Now()
	} else {
		metrics.FailedScrapes++
		metrics.LastError = outcome.Reason
	}
}

// GetMetrics returns current service metrics
func (s *ScrapingService) GetMetrics() *ServiceMetrics {
	s.metricsMu.RLock()
	defer s.metricsMu.RUnlock()

	metrics := *s.serviceMetrics
	metrics.SourceMetrics = make(map[string]*SourceMetrics, len(s.serviceMetrics.SourceMetrics))
	for name, srcMetrics := range s.serviceMetrics.SourceMetrics {
		metricsCopy := *srcMetrics
		metrics.SourceMetrics[name] = &metricsCopy
	}
	metrics.OutcomesByKind = make(map[string]int64, len(s.serviceMetrics.OutcomesByKind))
	for kind, n := range s.serviceMetrics.OutcomesByKind {
		metrics.OutcomesByKind[kind] = n
	}
	return &metrics
}

// CrawlerStatus is a point-in-time view of the crawl stack
type CrawlerStatus struct {
	Engine       string          `json:"engine"`
	ScrapedURLs  int             `json:"scraped_urls"`
	BadEntries   int             `json:"bad_entries"`
	RobotsCached int             `json:"robots_cached"`
	Crawl        *CrawlMetrics   `json:"crawl"`
	Service      *ServiceMetrics `json:"service"`
}

// GetCrawlerStatus returns crawler status information
func (s *ScrapingService) GetCrawlerStatus() CrawlerStatus {
	snap := s.state.Snapshot()
	status := CrawlerStatus{
		Engine:      s.engine.Name(),
		ScrapedURLs: len(snap.Scraped),
		BadEntries:  len(snap.Bad),
		Crawl:       s.crawler.GetMetrics(),
		Service:     s.GetMetrics(),
	}
	if s.compliance != nil {
		status.RobotsCached = s.compliance.CachedHosts()
	}
	return status
}

// Store returns the knowledge store, or nil when results are not stored
func (s *ScrapingService) Store() storage.KnowledgeStore {
	return s.store
}

// Close stops URL state and releases the engine
func (s *ScrapingService) Close() error {
	var result error
	s.closeOnce.Do(func() {
		if err := s.engine.Close(); err != nil {
			result = multierror.Append(result, err)
		}
		if err := s.state.Close(); err != nil {
			result = multierror.Append(result, err)
		}
		s.logger.Info().Msg("Scraping service closed")
	})
	return result
}

// KnowledgeBasePath returns where results are persisted
func (c ServiceConfig) KnowledgeBasePath() string {
	return filepath.Join(c.DataDir, storage.KnowledgeBaseFile)
}
