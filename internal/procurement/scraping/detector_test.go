package scraping

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Caia-Tech/caia-coursecrawl/internal/procurement"
)

func paywallPage(subscribeCount int) string {
	return `<html><body>
		<article><p>` + strings.Repeat("Please subscribe. ", subscribeCount) + `</p></article>
		<div class="paywall">Members area</div>
	</body></html>`
}

func TestAccessGate_PaywallKeywordAndElement(t *testing.T) {
	gate := NewAccessGate(DefaultGateConfig(), procurement.GatePolicy{})

	heavy := PageSignals{StatusCode: 200, Doc: mustDoc(t, paywallPage(5), "https://news.example.com/a")}
	assert.True(t, gate.IsPaywallPresent(heavy))

	light := PageSignals{StatusCode: 200, Doc: mustDoc(t, paywallPage(1), "https://news.example.com/a")}
	assert.False(t, gate.IsPaywallPresent(light))
}

func TestAccessGate_HiddenPaywallElementIgnored(t *testing.T) {
	body := `<html><body><p>` + strings.Repeat("subscribe ", 6) + `</p>
		<div class="paywall" style="display: none">x</div>
		<section hidden><div id="paywall-box">y</div></section>
	</body></html>`

	gate := NewAccessGate(DefaultGateConfig(), procurement.GatePolicy{})
	assert.False(t, gate.IsPaywallPresent(PageSignals{StatusCode: 200, Doc: mustDoc(t, body, "https://example.com")}))
}

func TestAccessGate_EitherSignalMode(t *testing.T) {
	config := DefaultGateConfig()
	config.RequireBoth = false
	gate := NewAccessGate(config, procurement.GatePolicy{})

	assert.True(t, gate.IsPaywallPresent(PageSignals{StatusCode: 200, Doc: mustDoc(t, paywallPage(1), "https://example.com")}))

	keywordsOnly := `<html><body><p>` + strings.Repeat("subscribe ", 4) + `</p></body></html>`
	assert.True(t, gate.IsPaywallPresent(PageSignals{StatusCode: 200, Doc: mustDoc(t, keywordsOnly, "https://example.com")}))
}

func TestAccessGate_BlockingStatuses(t *testing.T) {
	gate := NewAccessGate(DefaultGateConfig(), procurement.GatePolicy{})

	for _, status := range []int{401, 402, 403} {
		assert.True(t, gate.IsPaywallPresent(PageSignals{StatusCode: status}), status)
	}
	assert.True(t, gate.IsLoginRequired(PageSignals{StatusCode: 401}))
	assert.False(t, gate.IsLoginRequired(PageSignals{StatusCode: 402}))

	reason, blocked := gate.Check(PageSignals{StatusCode: 402})
	assert.True(t, blocked)
	assert.Equal(t, procurement.BlockPaywall, reason)

	reason, blocked = gate.Check(PageSignals{StatusCode: 403})
	assert.True(t, blocked)
	assert.Equal(t, procurement.BlockLogin, reason)

	_, blocked = gate.Check(PageSignals{StatusCode: 200, Doc: mustDoc(t, "<html><body><p>free lesson</p></body></html>", "https://example.com")})
	assert.False(t, blocked)
}

func TestAccessGate_LoginDetection(t *testing.T) {
	gate := NewAccessGate(DefaultGateConfig(), procurement.GatePolicy{})

	redirected := PageSignals{StatusCode: 200, FinalURL: "https://site.example.com/users/login?next=/lesson"}
	assert.True(t, gate.IsLoginRequired(redirected))

	form := `<html><body>
		<p>Please log in. Sign in to view. Login required. Register now. Create account today.</p>
		<form class="login-form"><input type="password"></form>
	</body></html>`
	assert.True(t, gate.IsLoginRequired(PageSignals{StatusCode: 200, Doc: mustDoc(t, form, "https://example.com")}))

	casual := `<html><body><p>Log in to comment.</p><form class="login-form"><input type="password"></form></body></html>`
	assert.False(t, gate.IsLoginRequired(PageSignals{StatusCode: 200, Doc: mustDoc(t, casual, "https://example.com")}))
}

func TestAccessGate_RenderedSignals(t *testing.T) {
	gate := NewAccessGate(DefaultGateConfig(), procurement.GatePolicy{FailOpen: true})
	text := `<html><body><p>` + strings.Repeat("unlock premium content, subscribe. ", 3) + `</p></body></html>`

	rendered := PageSignals{StatusCode: 200, Doc: mustDoc(t, text, "https://example.com"), Rendered: true, OverlayPresent: true}
	assert.True(t, gate.IsPaywallPresent(rendered))

	rendered.OverlayPresent = false
	assert.False(t, gate.IsPaywallPresent(rendered))

	free := `<html><body><p>` + strings.Repeat("unlock premium content, subscribe. ", 3) + ` Free tutorial.</p></body></html>`
	suppressed := PageSignals{StatusCode: 200, Doc: mustDoc(t, free, "https://example.com"), Rendered: true, PaywallModal: true}
	assert.False(t, gate.IsPaywallPresent(suppressed), "free-content keywords veto rendered verdicts")

	suppressed.Rendered = false
	assert.False(t, gate.IsPaywallPresent(suppressed), "modal flags only count on rendered pages")
}

func TestAccessGate_CheckWithErrorPolicy(t *testing.T) {
	boom := errors.New("evaluate timed out")

	open := NewAccessGate(DefaultGateConfig(), procurement.GatePolicy{FailOpen: true})
	_, blocked := open.CheckWithError(PageSignals{}, boom)
	assert.False(t, blocked)

	closed := NewAccessGate(DefaultGateConfig(), procurement.GatePolicy{FailOpen: false})
	reason, blocked := closed.CheckWithError(PageSignals{}, boom)
	assert.True(t, blocked)
	assert.Equal(t, procurement.BlockUndetermined, reason)
	assert.False(t, closed.Policy().FailOpen)
}
