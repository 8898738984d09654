package scraping

import (
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/Caia-Tech/caia-coursecrawl/internal/processing"
	"github.com/Caia-Tech/caia-coursecrawl/pkg/content"
)

// untitled is used when a page has neither a title nor an h1
const untitled = "Untitled"

// Extraction is the structured payload pulled from one document
type Extraction struct {
	Title string
	Text  string
	Code  []string
	Level content.Level
}

// ContentExtractor turns HTML documents into educational payloads.
// It never mutates the documents it is given.
type ContentExtractor struct {
	config  ExtractorConfig
	policy  DomainPolicy
	cleaner *processing.ContentCleaner
	markers map[string]bool
}

// NewContentExtractor creates an extractor using the given tables
func NewContentExtractor(config ExtractorConfig, policy DomainPolicy, cleaner *processing.ContentCleaner) *ContentExtractor {
	if cleaner == nil {
		cleaner = processing.NewContentCleaner(processing.DefaultCleanerConfig())
	}
	markers := make(map[string]bool, len(config.NonContentMarkers))
	for _, m := range config.NonContentMarkers {
		markers[strings.ToLower(m)] = true
	}
	return &ContentExtractor{
		config:  config,
		policy:  policy,
		cleaner: cleaner,
		markers: markers,
	}
}

// ParseHTML builds a document and records pageURL as its location
func ParseHTML(r io.Reader, pageURL string) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	if u, err := url.Parse(pageURL); err == nil {
		doc.Url = u
	}
	return doc, nil
}

// Extract runs title, main content, code and level extraction
func (ce *ContentExtractor) Extract(doc *goquery.Document, pageURL string) Extraction {
	text := ce.MainText(doc)
	return Extraction{
		Title: ce.GetTitle(doc),
		Text:  text,
		Code:  ce.ExtractCodeExamples(doc),
		Level: ce.DetermineLevel(text, pageURL),
	}
}

// GetTitle returns the document title, the first h1, or "Untitled"
func (ce *ContentExtractor) GetTitle(doc *goquery.Document) string {
	if title := ce.cleaner.CleanTitle(doc.Find("title").First().Text()); title != "" {
		return title
	}
	if h1 := ce.cleaner.CleanTitle(doc.Find("h1").First().Text()); h1 != "" {
		return h1
	}
	return untitled
}

// MainText returns the cleaned text of the main content, or "" when the
// page carries no usable prose.
func (ce *ContentExtractor) MainText(doc *goquery.Document) string {
	main := ce.ExtractMainContent(doc)
	if main == nil {
		return ""
	}
	return ce.cleaner.CleanText(nodesText(main))
}

// ExtractMainContent strips noise from a copy of doc and returns the
// best scoring content container. When no container qualifies it falls back
// to the set of long paragraphs. Returns nil when neither yields enough text.
func (ce *ContentExtractor) ExtractMainContent(doc *goquery.Document) *goquery.Selection {
	clean := goquery.CloneDocument(doc)
	ce.removeNoise(clean)

	var best *goquery.Selection
	bestScore := 0
	for _, selector := range ce.config.ContentSelectors {
		clean.Find(selector).Each(func(_ int, s *goquery.Selection) {
			text := normalizeSpace(s.Text())
			if len(text) < ce.config.MinContentChars {
				return
			}
			if score := ce.score(text); best == nil || score > bestScore {
				best, bestScore = s, score
			}
		})
	}
	if best != nil {
		return best
	}

	paragraphs := clean.Find("p").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return len(normalizeSpace(s.Text())) > ce.config.MinParagraphChars
	})
	if paragraphs.Length() >= ce.config.MinParagraphs &&
		len(normalizeSpace(nodesText(paragraphs))) >= ce.config.MinContentChars {
		return paragraphs
	}
	return nil
}

func (ce *ContentExtractor) score(text string) int {
	lower := strings.ToLower(text)
	score := len(text)
	for _, kw := range ce.config.BoilerplateKeywords {
		score -= ce.config.BoilerplatePenalty * strings.Count(lower, kw)
	}
	for _, kw := range ce.config.TutorialKeywords {
		score += ce.config.TutorialBonus * strings.Count(lower, kw)
	}
	return score
}

// removeNoise drops denylisted tags and elements whose class or id names a
// non-content marker.
func (ce *ContentExtractor) removeNoise(doc *goquery.Document) {
	if len(ce.config.NoiseTags) > 0 {
		doc.Find(strings.Join(ce.config.NoiseTags, ", ")).Remove()
	}
	doc.Find("[class], [id]").FilterFunction(func(_ int, s *goquery.Selection) bool {
		switch goquery.NodeName(s) {
		case "html", "body", "main", "article":
			return false
		}
		class, _ := s.Attr("class")
		id, _ := s.Attr("id")
		return ce.hasMarker(class) || ce.hasMarker(id)
	}).Remove()
}

func (ce *ContentExtractor) hasMarker(attr string) bool {
	for _, word := range strings.FieldsFunc(strings.ToLower(attr), func(r rune) bool {
		return r == ' ' || r == '-' || r == '_' || r == '\t' || r == '\n'
	}) {
		if ce.markers[word] {
			return true
		}
	}
	return false
}

// ExtractCodeExamples returns the cleaned code blocks found by the code
// selectors. Nested matches of an already chosen block are ignored.
func (ce *ContentExtractor) ExtractCodeExamples(doc *goquery.Document) []string {
	return ce.collectCode(doc.Selection, ce.config.CodeSelectors)
}

func (ce *ContentExtractor) collectCode(root *goquery.Selection, selectors []string) []string {
	code := make([]string, 0)
	seen := make(map[string]bool)
	var chosen []*html.Node

	for _, selector := range selectors {
		root.Find(selector).Each(func(_ int, s *goquery.Selection) {
			node := s.Get(0)
			for _, c := range chosen {
				if c == node || isAncestor(c, node) || isAncestor(node, c) {
					return
				}
			}
			snippet := ce.cleaner.CleanCode(s.Text())
			if len(snippet) < ce.config.MinCodeChars || seen[snippet] {
				return
			}
			seen[snippet] = true
			chosen = append(chosen, node)
			code = append(code, snippet)
		})
	}
	return code
}

// ExtractWithSelectors extracts text and code with site specific selectors
func (ce *ContentExtractor) ExtractWithSelectors(doc *goquery.Document, contentSelectors, codeSelectors []string) (string, []string) {
	var parts []string
	seen := make(map[string]bool)
	for _, selector := range contentSelectors {
		doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
			text := ce.cleaner.CleanText(s.Text())
			if len(text) > ce.config.MinSelectorTextChars && !seen[text] {
				seen[text] = true
				parts = append(parts, text)
			}
		})
	}
	return strings.Join(parts, "\n\n"), ce.collectCode(doc.Selection, codeSelectors)
}

// DetermineLevel labels content difficulty from URL hints, known beginner
// sites, and finally a keyword contest that needs a 2:1 majority.
func (ce *ContentExtractor) DetermineLevel(text, pageURL string) content.Level {
	lowerURL := strings.ToLower(pageURL)
	switch {
	case strings.Contains(lowerURL, "beginner"),
		strings.Contains(lowerURL, "basics"),
		strings.Contains(lowerURL, "tutorial"):
		return content.LevelBeginner
	case strings.Contains(lowerURL, "advanced"),
		strings.Contains(lowerURL, "expert"):
		return content.LevelAdvanced
	}

	if ce.policy.IsBeginnerDomain(hostOf(pageURL)) {
		return content.LevelBeginner
	}

	lower := strings.ToLower(text)
	advanced, basic := 0, 0
	for _, kw := range ce.config.AdvancedIndicators {
		advanced += strings.Count(lower, kw)
	}
	for _, kw := range ce.config.BasicIndicators {
		basic += strings.Count(lower, kw)
	}

	switch {
	case advanced > basic*2:
		return content.LevelAdvanced
	case basic > advanced*2:
		return content.LevelBeginner
	default:
		return content.LevelIntermediate
	}
}

// FindLinks resolves anchors against baseURL and drops fragment-only,
// script and avoided links. Order of first appearance is kept.
func (ce *ContentExtractor) FindLinks(doc *goquery.Document, baseURL string, avoidFragments []string) []string {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil
	}

	links := make([]string, 0)
	seen := make(map[string]bool)
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if resolved, ok := resolveLink(base, href); ok && !seen[resolved] && !containsAny(resolved, avoidFragments) {
			seen[resolved] = true
			links = append(links, resolved)
		}
	})
	return links
}

// resolveLink turns href into an absolute http(s) URL without fragment
func resolveLink(base *url.URL, href string) (string, bool) {
	href = strings.TrimSpace(href)
	lower := strings.ToLower(href)
	if href == "" || strings.HasPrefix(href, "#") ||
		strings.HasPrefix(lower, "javascript:") || strings.HasPrefix(lower, "mailto:") {
		return "", false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	u := base.ResolveReference(ref)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}
	u.Fragment = ""
	return u.String(), true
}

func containsAny(s string, fragments []string) bool {
	for _, f := range fragments {
		if f != "" && strings.Contains(s, f) {
			return true
		}
	}
	return false
}

// nodesText joins the text of each node in s on its own line
func nodesText(s *goquery.Selection) string {
	parts := make([]string, 0, s.Length())
	s.Each(func(_ int, n *goquery.Selection) {
		parts = append(parts, n.Text())
	})
	return strings.Join(parts, "\n")
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func isAncestor(ancestor, node *html.Node) bool {
	for p := node.Parent; p != nil; p = p.Parent {
		if p == ancestor {
			return true
		}
	}
	return false
}
