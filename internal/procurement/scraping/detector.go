package scraping

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/Caia-Tech/caia-coursecrawl/internal/procurement"
)

// PageSignals is everything the gate may inspect for one page. The rendered
// fields are only filled in by the browser engine.
type PageSignals struct {
	StatusCode int
	FinalURL   string
	Doc        *goquery.Document

	Rendered       bool
	PaywallModal   bool
	LoginModal     bool
	OverlayPresent bool
}

// AccessGate detects paywalls and login walls
type AccessGate struct {
	config   GateConfig
	policy   procurement.GatePolicy
	blocking map[int]bool
}

// NewAccessGate creates a gate. policy decides how failed checks resolve.
func NewAccessGate(config GateConfig, policy procurement.GatePolicy) *AccessGate {
	blocking := make(map[int]bool, len(config.BlockingStatuses))
	for _, code := range config.BlockingStatuses {
		blocking[code] = true
	}
	return &AccessGate{config: config, policy: policy, blocking: blocking}
}

// Policy returns the failure policy
func (g *AccessGate) Policy() procurement.GatePolicy {
	return g.policy
}

// Check returns the wall blocking the page, if any
func (g *AccessGate) Check(s PageSignals) (procurement.BlockReason, bool) {
	if s.StatusCode == http.StatusPaymentRequired {
		return procurement.BlockPaywall, true
	}
	if g.IsLoginRequired(s) {
		return procurement.BlockLogin, true
	}
	if g.IsPaywallPresent(s) {
		return procurement.BlockPaywall, true
	}
	return "", false
}

// CheckWithError resolves a check whose signals could not be gathered
func (g *AccessGate) CheckWithError(s PageSignals, err error) (procurement.BlockReason, bool) {
	if err != nil {
		if g.policy.Resolve(err) {
			return procurement.BlockUndetermined, true
		}
		return "", false
	}
	return g.Check(s)
}

// IsPaywallPresent applies the paywall decision policy
func (g *AccessGate) IsPaywallPresent(s PageSignals) bool {
	if g.blocking[s.StatusCode] {
		return true
	}
	if s.Doc == nil {
		return false
	}

	text := pageText(s.Doc)
	structural := g.hasMarkedElement(s.Doc, []string{"div", "section", "aside"}, g.config.PaywallMarkers)
	if s.Rendered {
		structural = structural || s.PaywallModal || s.OverlayPresent
	}

	blocked := g.decide(structural, countKeywords(text, g.config.PaywallKeywords))
	if blocked && s.Rendered && g.config.SuppressOnFreeContent && countKeywords(text, g.config.FreeKeywords) > 0 {
		return false
	}
	return blocked
}

// IsLoginRequired applies the login-wall decision policy
func (g *AccessGate) IsLoginRequired(s PageSignals) bool {
	if g.blocking[s.StatusCode] && s.StatusCode != http.StatusPaymentRequired {
		return true
	}
	if g.loginRedirect(s.FinalURL) {
		return true
	}
	if s.Doc == nil {
		return false
	}

	structural := g.hasMarkedElement(s.Doc, []string{"form"}, g.config.LoginMarkers) ||
		s.Doc.Find("input[type='password']").FilterFunction(visibleStatic).Length() > 0
	if s.Rendered {
		structural = structural || s.LoginModal
	}
	return g.decide(structural, countKeywords(pageText(s.Doc), g.config.LoginKeywords))
}

func (g *AccessGate) decide(structural bool, keywords int) bool {
	heavy := keywords > g.config.KeywordThreshold
	if g.config.RequireBoth {
		return structural && heavy
	}
	return structural || heavy
}

func (g *AccessGate) loginRedirect(finalURL string) bool {
	if finalURL == "" {
		return false
	}
	u, err := url.Parse(finalURL)
	if err != nil {
		return false
	}
	path := strings.ToLower(u.Path)
	for _, hint := range g.config.LoginURLHints {
		if hint != "" && strings.Contains(path, hint) {
			return true
		}
	}
	return false
}

// hasMarkedElement reports a visible element of one of tags whose id or
// class contains a marker
func (g *AccessGate) hasMarkedElement(doc *goquery.Document, tags, markers []string) bool {
	found := false
	doc.Find(strings.Join(tags, ", ")).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		id, _ := s.Attr("id")
		class, _ := s.Attr("class")
		attrs := strings.ToLower(id + " " + class)
		if containsAny(attrs, markers) && visibleStatic(0, s) {
			found = true
			return false
		}
		return true
	})
	return found
}

// visibleStatic approximates visibility from markup alone
func visibleStatic(_ int, s *goquery.Selection) bool {
	hidden := false
	s.AddSelection(s.Parents()).EachWithBreak(func(_ int, n *goquery.Selection) bool {
		if _, ok := n.Attr("hidden"); ok {
			hidden = true
		} else if v, _ := n.Attr("aria-hidden"); v == "true" {
			hidden = true
		} else if style, _ := n.Attr("style"); style != "" {
			style = strings.ReplaceAll(strings.ToLower(style), " ", "")
			hidden = strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden")
		}
		return !hidden
	})
	return !hidden
}

func pageText(doc *goquery.Document) string {
	body := doc.Find("body")
	if body.Length() == 0 {
		return strings.ToLower(doc.Text())
	}
	return strings.ToLower(body.Text())
}

func countKeywords(lowerText string, keywords []string) int {
	count := 0
	for _, kw := range keywords {
		if kw != "" {
			count += strings.Count(lowerText, strings.ToLower(kw))
		}
	}
	return count
}
