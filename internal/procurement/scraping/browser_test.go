package scraping

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Caia-Tech/caia-coursecrawl/internal/procurement"
)

type fakePage struct {
	html   string
	status int
	navErr error
}

type fakeDriver struct {
	mu          sync.Mutex
	pages       map[string]fakePage
	current     string
	navigations []string
	clicks      int
	closed      int
	modal       bool
	modalErr    error
	overlay     bool
}

func (f *fakeDriver) Navigate(ctx context.Context, target string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.navigations = append(f.navigations, target)
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	p, ok := f.pages[target]
	if !ok {
		f.current = ""
		return 0, errors.New("net::ERR_NAME_NOT_RESOLVED")
	}
	f.current = target
	status := p.status
	if status == 0 {
		status = http.StatusOK
	}
	return status, p.navErr
}

func (f *fakeDriver) Location(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current, nil
}

func (f *fakeDriver) HTML(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.current == "" {
		return "", errors.New("no document")
	}
	return f.pages[f.current].html, nil
}

func (f *fakeDriver) ClickFirstVisible(context.Context, []string, []string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clicks++
	return "", nil
}

func (f *fakeDriver) AnyVisible(context.Context, []string) (bool, error) {
	return f.modal, f.modalErr
}

func (f *fakeDriver) OverlayPresent(context.Context) (bool, error) {
	return f.overlay, nil
}

func (f *fakeDriver) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func lessonPart(part, next string) string {
	body := `<html><head><title>Loops part ` + part + `</title></head><body>
		<div class="content"><p>` + strings.Repeat("Lesson part "+part+" explains loops clearly. ", 10) + `</p></div>`
	if next != "" {
		body += `<div class="pager"><a rel="next" href="` + next + `">Next</a></div>`
	}
	return body + `</body></html>`
}

func chainPages() map[string]fakePage {
	return map[string]fakePage{
		"http://site1.test/p1": {html: lessonPart("one", "/p2")},
		"http://site1.test/p2": {html: lessonPart("two", "/p3")},
		"http://site1.test/p3": {html: lessonPart("three", "")},
	}
}

func newFakeBrowser(driver *fakeDriver, mutate func(*BrowserConfig)) *BrowserEngine {
	config := DefaultBrowserConfig()
	if mutate != nil {
		mutate(&config)
	}
	factory := func(context.Context, BrowserConfig) (pageDriver, error) { return driver, nil }
	return newBrowserEngine(config, newTestExtractor(), DefaultGateConfig(), factory)
}

func TestBrowserEngine_PaginationChain(t *testing.T) {
	driver := &fakeDriver{pages: chainPages()}
	engine := newFakeBrowser(driver, func(c *BrowserConfig) { c.MaxDepth = 5 })

	outcome := engine.Fetch(context.Background(), FetchRequest{URL: "http://site1.test/p1", Topic: "loops"})
	require.True(t, outcome.IsSuccess(), outcome.String())

	text := outcome.Content.Text
	one, two, three := strings.Index(text, "part one"), strings.Index(text, "part two"), strings.Index(text, "part three")
	require.True(t, one >= 0 && two >= 0 && three >= 0, text)
	assert.True(t, one < two && two < three, "pages concatenated in link order")
	assert.Equal(t, "Loops part one", outcome.Content.Title)
	assert.Equal(t, "http://site1.test/p1", outcome.Content.URL)
	assert.Equal(t, []string{"http://site1.test/p1", "http://site1.test/p2", "http://site1.test/p3"}, driver.navigations)
	assert.Equal(t, 1, driver.closed)
	assert.Equal(t, 3, driver.clicks, "consent dismissal attempted on every page")
}

func TestBrowserEngine_DepthOne(t *testing.T) {
	driver := &fakeDriver{pages: chainPages()}
	engine := newFakeBrowser(driver, func(c *BrowserConfig) { c.MaxDepth = 1 })

	outcome := engine.Fetch(context.Background(), FetchRequest{URL: "http://site1.test/p1"})
	require.True(t, outcome.IsSuccess(), outcome.String())
	assert.Contains(t, outcome.Content.Text, "part one")
	assert.NotContains(t, outcome.Content.Text, "part two")
	assert.Len(t, driver.navigations, 1)
	assert.Equal(t, 1, driver.closed)
}

func TestBrowserEngine_PaginationGuards(t *testing.T) {
	pages := map[string]fakePage{
		"http://site1.test/a": {html: lessonPart("one", "/b")},
		"http://site1.test/b": {html: lessonPart("two", "/a#top")},
		"http://site2.test/c": {html: lessonPart("one", "http://elsewhere.test/d")},
		"http://elsewhere.test/d": {html: lessonPart("two", "")},
	}

	t.Run("cycle", func(t *testing.T) {
		driver := &fakeDriver{pages: pages}
		outcome := newFakeBrowser(driver, func(c *BrowserConfig) { c.MaxDepth = 5 }).
			Fetch(context.Background(), FetchRequest{URL: "http://site1.test/a"})
		require.True(t, outcome.IsSuccess())
		assert.Equal(t, []string{"http://site1.test/a", "http://site1.test/b"}, driver.navigations)
	})

	t.Run("cross domain", func(t *testing.T) {
		driver := &fakeDriver{pages: pages}
		outcome := newFakeBrowser(driver, func(c *BrowserConfig) { c.MaxDepth = 5 }).
			Fetch(context.Background(), FetchRequest{URL: "http://site2.test/c"})
		require.True(t, outcome.IsSuccess())
		assert.Equal(t, []string{"http://site2.test/c"}, driver.navigations)
		assert.NotContains(t, outcome.Content.Text, "part two")
	})
}

func TestBrowserEngine_Failures(t *testing.T) {
	t.Run("navigation error", func(t *testing.T) {
		driver := &fakeDriver{pages: map[string]fakePage{}}
		outcome := newFakeBrowser(driver, nil).Fetch(context.Background(), FetchRequest{URL: "http://missing.test/"})
		assert.Equal(t, procurement.OutcomeFailed, outcome.Kind)
		assert.ErrorIs(t, outcome.Err, procurement.ErrFetchFailed)
		assert.Equal(t, 1, driver.closed)
	})

	t.Run("navigation timeout with partial page", func(t *testing.T) {
		driver := &fakeDriver{pages: map[string]fakePage{
			"http://slow.test/": {html: lessonPart("one", ""), navErr: context.DeadlineExceeded},
		}}
		outcome := newFakeBrowser(driver, nil).Fetch(context.Background(), FetchRequest{URL: "http://slow.test/"})
		assert.True(t, outcome.IsSuccess(), outcome.String())
	})

	t.Run("browser start", func(t *testing.T) {
		factory := func(context.Context, BrowserConfig) (pageDriver, error) { return nil, errors.New("chrome not found") }
		engine := newBrowserEngine(DefaultBrowserConfig(), newTestExtractor(), DefaultGateConfig(), factory)
		outcome := engine.Fetch(context.Background(), FetchRequest{URL: "http://site1.test/p1"})
		assert.ErrorIs(t, outcome.Err, procurement.ErrFetchFailed)
		assert.Contains(t, outcome.Reason, "chrome not found")
	})

	t.Run("thin page", func(t *testing.T) {
		thin := `<html><body><div class="content"><p>` + strings.Repeat("Short lesson text here. ", 8) + `</p></div></body></html>`
		driver := &fakeDriver{pages: map[string]fakePage{"http://thin.test/": {html: thin}}}
		outcome := newFakeBrowser(driver, nil).Fetch(context.Background(), FetchRequest{URL: "http://thin.test/"})
		assert.ErrorIs(t, outcome.Err, procurement.ErrContentRejected)
		assert.Equal(t, 1, driver.closed)
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		driver := &fakeDriver{pages: chainPages()}
		outcome := newFakeBrowser(driver, nil).Fetch(ctx, FetchRequest{URL: "http://site1.test/p1"})
		assert.ErrorIs(t, outcome.Err, context.Canceled)
		assert.Equal(t, 1, driver.closed)
	})
}

func TestBrowserEngine_AccessGate(t *testing.T) {
	premium := `<html><body><div class="content"><p>` +
		strings.Repeat("Subscribe to continue reading this lesson. ", 5) + `</p></div></body></html>`

	t.Run("visible modal blocks", func(t *testing.T) {
		driver := &fakeDriver{pages: map[string]fakePage{"http://news.test/premium": {html: premium}}, modal: true}
		outcome := newFakeBrowser(driver, nil).Fetch(context.Background(), FetchRequest{URL: "http://news.test/premium", CheckAccess: true})
		assert.Equal(t, procurement.OutcomeBlocked, outcome.Kind)
		assert.Equal(t, string(procurement.BlockPaywall), outcome.Reason)
		assert.Equal(t, 1, driver.closed)
	})

	t.Run("gate skipped when not requested", func(t *testing.T) {
		driver := &fakeDriver{pages: chainPages(), modal: true}
		outcome := newFakeBrowser(driver, func(c *BrowserConfig) { c.MaxDepth = 1 }).
			Fetch(context.Background(), FetchRequest{URL: "http://site1.test/p1"})
		assert.True(t, outcome.IsSuccess())
	})

	t.Run("probe error fails open", func(t *testing.T) {
		driver := &fakeDriver{pages: chainPages(), modalErr: errors.New("evaluate timed out")}
		outcome := newFakeBrowser(driver, func(c *BrowserConfig) { c.MaxDepth = 1 }).
			Fetch(context.Background(), FetchRequest{URL: "http://site1.test/p1", CheckAccess: true})
		assert.True(t, outcome.IsSuccess(), outcome.String())
	})

	t.Run("probe error fails closed", func(t *testing.T) {
		driver := &fakeDriver{pages: chainPages(), modalErr: errors.New("evaluate timed out")}
		outcome := newFakeBrowser(driver, func(c *BrowserConfig) {
			c.MaxDepth = 1
			c.GatePolicy = procurement.GatePolicy{FailOpen: false}
		}).Fetch(context.Background(), FetchRequest{URL: "http://site1.test/p1", CheckAccess: true})
		assert.Equal(t, procurement.OutcomeBlocked, outcome.Kind)
		assert.Equal(t, string(procurement.BlockUndetermined), outcome.Reason)
	})
}

func TestNormalizeVisitKey(t *testing.T) {
	assert.Equal(t, "https://a.test/x", normalizeVisitKey("https://a.test/x/#part"))
	assert.Equal(t, "https://a.test/x?p=2", normalizeVisitKey("https://a.test/x?p=2"))
}

// TestChromeDriver_RealBrowser drives an installed Chrome against a local
// site. Enabled with COURSECRAWL_CHROME_TESTS=1.
func TestChromeDriver_RealBrowser(t *testing.T) {
	if os.Getenv("COURSECRAWL_CHROME_TESTS") != "1" {
		t.Skip("set COURSECRAWL_CHROME_TESTS=1 to run against a real Chrome")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/p1", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(lessonPart("one", "/p2"))) })
	mux.HandleFunc("/p2", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(lessonPart("two", ""))) })
	srv := httptest.NewServer(mux)
	defer srv.Close()

	config := DefaultBrowserConfig()
	config.SettleDelay = 0
	config.MaxDepth = 2
	engine := NewBrowserEngine(config, newTestExtractor(), DefaultGateConfig())

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	outcome := engine.Fetch(ctx, FetchRequest{URL: srv.URL + "/p1", CheckAccess: true})
	require.True(t, outcome.IsSuccess(), outcome.String())
	assert.Contains(t, outcome.Content.Text, "part one")
	assert.Contains(t, outcome.Content.Text, "part two")
}
