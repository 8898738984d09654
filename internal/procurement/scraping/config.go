package scraping

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
)

// DelayRange is an inclusive politeness window sampled before each fetch
type DelayRange struct {
	Min time.Duration `json:"min"`
	Max time.Duration `json:"max"`
}

// TrustedDomain pairs a domain substring with its politeness window.
// Order in DomainPolicy.TrustedDomains is the ranking priority.
type TrustedDomain struct {
	Pattern string     `json:"pattern"`
	Delay   DelayRange `json:"delay"`
}

// DomainPolicy is the static allow/deny and politeness table
type DomainPolicy struct {
	TrustedDomains   []TrustedDomain `json:"trusted_domains"`
	DefaultDelay     DelayRange      `json:"default_delay"`
	AvoidDomains     []string        `json:"avoid_domains"`
	SkipPathPatterns []string        `json:"skip_path_patterns"`
	BeginnerDomains  []string        `json:"beginner_domains"`
}

func seconds(min, max int) DelayRange {
	return DelayRange{Min: time.Duration(min) * time.Second, Max: time.Duration(max) * time.Second}
}

// DefaultDomainPolicy returns the built-in table of educational sites
func DefaultDomainPolicy() DomainPolicy {
	return DomainPolicy{
		TrustedDomains: []TrustedDomain{
			{Pattern: "w3schools.com", Delay: seconds(1, 2)},
			{Pattern: "geeksforgeeks.org", Delay: seconds(2, 3)},
			{Pattern: "realpython.com", Delay: seconds(2, 4)},
			{Pattern: "developer.mozilla.org", Delay: seconds(1, 2)},
			{Pattern: "docs.python.org", Delay: seconds(1, 2)},
			{Pattern: "github.com", Delay: seconds(2, 3)},
			{Pattern: "stackoverflow.com", Delay: seconds(2, 3)},
			{Pattern: "tutorialspoint.com", Delay: seconds(1, 2)},
		},
		DefaultDelay: seconds(5, 10),
		AvoidDomains: []string{
			"pinterest", "facebook.com", "twitter.com", "instagram.com",
			"youtube.com", "medium.com", "quora.com", "linkedin.com",
			"reddit.com", "courses.com", "udemy.com", "coursera.org",
		},
		SkipPathPatterns: []string{
			"/watch", "/signin", "/login", "/video", "/account",
			"/register", "/premium", "/subscribe", "/donate", "/advertise",
		},
		BeginnerDomains: []string{"w3schools.com", "tutorialspoint.com"},
	}
}

// Validate reports every problem with the policy at once
func (p DomainPolicy) Validate() error {
	var err error
	check := func(name string, r DelayRange) {
		if r.Min < 0 || r.Max < r.Min {
			err = multierror.Append(err, fmt.Errorf("invalid delay range for %s: %s..%s", name, r.Min, r.Max))
		}
	}
	for _, td := range p.TrustedDomains {
		if td.Pattern == "" {
			err = multierror.Append(err, fmt.Errorf("trusted domain pattern cannot be empty"))
			continue
		}
		check(td.Pattern, td.Delay)
	}
	check("default", p.DefaultDelay)
	return err
}

// TopicConfig locates one topic within a known source
type TopicConfig struct {
	RelativeURL string `json:"relative_url"`
	CrawlDepth  int    `json:"crawl_depth"`
}

// SourceConfig describes a known educational site
type SourceConfig struct {
	Name              string                 `json:"name"`
	BaseURL           string                 `json:"base_url"`
	Topics            map[string]TopicConfig `json:"topics"`
	ContentSelectors  []string               `json:"content_selectors"`
	CodeSelectors     []string               `json:"code_selectors"`
	AvoidURLFragments []string               `json:"avoid_url_fragments"`
}

// DefaultSourceConfigs returns the configured educational sites
func DefaultSourceConfigs() []SourceConfig {
	return []SourceConfig{
		{
			Name:    "w3schools",
			BaseURL: "https://www.w3schools.com",
			Topics: map[string]TopicConfig{
				"python":     {RelativeURL: "/python/", CrawlDepth: 2},
				"javascript": {RelativeURL: "/js/", CrawlDepth: 2},
				"sql":        {RelativeURL: "/sql/", CrawlDepth: 2},
			},
			ContentSelectors:  []string{"#main", ".w3-example"},
			CodeSelectors:     []string{".w3-code"},
			AvoidURLFragments: []string{"tryit.asp", "exercise.asp"},
		},
		{
			Name:    "geeksforgeeks",
			BaseURL: "https://www.geeksforgeeks.org",
			Topics: map[string]TopicConfig{
				"python":          {RelativeURL: "/python-programming-language/", CrawlDepth: 1},
				"data-structures": {RelativeURL: "/data-structures/", CrawlDepth: 1},
			},
			ContentSelectors:  []string{".content", "article"},
			CodeSelectors:     []string{".code-container pre"},
			AvoidURLFragments: []string{"practice/", "quiz/"},
		},
		{
			Name:    "realpython",
			BaseURL: "https://realpython.com",
			Topics: map[string]TopicConfig{
				"python-basics": {RelativeURL: "/tutorials/basics/", CrawlDepth: 1},
			},
			ContentSelectors:  []string{"article#article-body", ".article-body", ".article-content"},
			CodeSelectors:     []string{"div.highlight pre", "pre code"},
			AvoidURLFragments: []string{"/courses/", "/quiz/"},
		},
	}
}

// ExtractorConfig holds the selector and keyword tables used for extraction
type ExtractorConfig struct {
	NoiseTags            []string `json:"noise_tags"`
	NonContentMarkers    []string `json:"non_content_markers"`
	ContentSelectors     []string `json:"content_selectors"`
	CodeSelectors        []string `json:"code_selectors"`
	AdvancedIndicators   []string `json:"advanced_indicators"`
	BasicIndicators      []string `json:"basic_indicators"`
	BoilerplateKeywords  []string `json:"boilerplate_keywords"`
	TutorialKeywords     []string `json:"tutorial_keywords"`
	AvoidLinkFragments   []string `json:"avoid_link_fragments"`
	MinContentChars      int      `json:"min_content_chars"`
	MinParagraphChars    int      `json:"min_paragraph_chars"`
	MinParagraphs        int      `json:"min_paragraphs"`
	MinCodeChars         int      `json:"min_code_chars"`
	MinSelectorTextChars int      `json:"min_selector_text_chars"`
	BoilerplatePenalty   int      `json:"boilerplate_penalty"`
	TutorialBonus        int      `json:"tutorial_bonus"`
}

// DefaultExtractorConfig returns the standard extraction tables
func DefaultExtractorConfig() ExtractorConfig {
	return ExtractorConfig{
		NoiseTags: []string{
			"script", "style", "iframe", "nav", "footer", "aside", "form",
			"button", "input", "select", "textarea", "label", "fieldset",
			"noscript", "svg", "figure", "img", "video", "audio", "canvas",
			"pre", "code", "header", "menu", "dialog", "template",
		},
		NonContentMarkers: []string{
			"ad", "ads", "advert", "banner", "sidebar", "navbar", "menu",
			"footer", "header", "modal", "popup", "lightbox", "cookie",
			"consent", "notification", "promo", "sponsor", "affiliate",
			"recommendation", "related", "comments", "social", "share",
			"login", "signup", "newsletter", "pagination", "breadcrumb",
			"subscription", "cta", "captcha", "toolbar", "widget",
		},
		ContentSelectors: []string{
			"main", "article", "#content", ".content", "#main", ".main",
			".main-content", ".post-content", ".entry-content", ".article-content",
			".tutorial-content", ".article-body", ".page-content", ".lesson-content",
			".course-content", "#primary", ".content-area",
		},
		CodeSelectors: []string{
			"pre code", "pre", "code", ".code", "#code", ".highlight", ".syntax",
			".sourceCode", ".codehilite", ".prettyprint", ".code-block", ".codeblock",
			"div[class*='code']", "div[class*='Code']", "div[class*='syntax']",
			"div[class*='highlight']", "[class*='language-']", "[class*='hljs']",
			"[data-lang]",
		},
		AdvancedIndicators: []string{
			"advanced", "expert", "complex", "optimization", "architecture",
			"design pattern", "algorithm", "data structure", "scalability",
			"performance", "concurrency", "threading", "distributed",
			"microservice", "asynchronous",
		},
		BasicIndicators: []string{
			"introduction", "beginner", "basics", "fundamental", "101",
			"getting started", "learn", "tutorial", "first steps",
		},
		BoilerplateKeywords: []string{
			"cookie", "subscribe", "newsletter", "sign up", "log in",
			"advertisement", "privacy policy", "terms of service",
		},
		TutorialKeywords: []string{
			"example", "tutorial", "syntax", "output", "step", "exercise",
		},
		AvoidLinkFragments: []string{
			"login", "signin", "signup", "register", "account", "subscribe",
		},
		MinContentChars:      50,
		MinParagraphChars:    40,
		MinParagraphs:        3,
		MinCodeChars:         10,
		MinSelectorTextChars: 100,
		BoilerplatePenalty:   50,
		TutorialBonus:        20,
	}
}

// GateConfig configures paywall and login detection
type GateConfig struct {
	PaywallKeywords []string `json:"paywall_keywords"`
	LoginKeywords   []string `json:"login_keywords"`
	FreeKeywords    []string `json:"free_keywords"`
	PaywallMarkers  []string `json:"paywall_markers"`
	LoginMarkers    []string `json:"login_markers"`
	// Selectors probed for visible modals on rendered pages
	PaywallModalSelectors []string `json:"paywall_modal_selectors"`
	LoginModalSelectors   []string `json:"login_modal_selectors"`
	LoginURLHints         []string `json:"login_url_hints"`
	BlockingStatuses      []int    `json:"blocking_statuses"`
	KeywordThreshold      int      `json:"keyword_threshold"`
	// RequireBoth demands a structural signal and a keyword count above
	// threshold. When false either signal alone is enough.
	RequireBoth bool `json:"require_both"`
	// SuppressOnFreeContent lets free-content keywords veto a rendered
	// paywall verdict.
	SuppressOnFreeContent bool `json:"suppress_on_free_content"`
}

// DefaultGateConfig returns the standard detection tables
func DefaultGateConfig() GateConfig {
	return GateConfig{
		PaywallKeywords: []string{
			"subscribe", "subscription", "sign in to continue", "continue reading",
			"create an account", "premium content", "paid member", "unlock",
			"free trial", "register to read", "remaining free articles",
			"for full access", "become a member", "members only",
			"only available to subscribers", "content locked",
		},
		LoginKeywords:  []string{"login", "log in", "sign in", "register", "create account"},
		FreeKeywords:   []string{"tutorial", "free", "documentation"},
		PaywallMarkers: []string{"paywall", "subscribe", "subscription", "premium"},
		LoginMarkers:   []string{"login", "signin", "sign-in", "register", "auth"},
		PaywallModalSelectors: []string{
			".paywall", "[id*='paywall']", "[class*='paywall']", "[id*='subscribe-wall']",
			"[id*='subscription']", "[class*='subscription']", "[class*='premium']",
			".modal-overlay", ".modal-dialog", ".popup-wrapper", ".overlay-content",
		},
		LoginModalSelectors: []string{
			"[id*='login']", "[class*='login']", "[id*='signin']", "[class*='signin']",
			"[id*='register']", "[class*='register']", "[id*='signup']", "[class*='signup']",
		},
		LoginURLHints:    []string{"login", "signin", "sign-in", "account"},
		BlockingStatuses: []int{401, 402, 403},
		KeywordThreshold: 3,
		RequireBoth:      true,
		// Rendered pages only
		SuppressOnFreeContent: true,
	}
}
