package scraping

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Caia-Tech/caia-coursecrawl/internal/procurement"
)

var lessonPage = `<html><head><title>Lists</title></head><body>
	<div class="content"><p>` + prose150 + `</p><pre>print([1, 2, 3, 4])</pre></div>
</body></html>`

func newSiteServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	html := func(status int, body string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			w.WriteHeader(status)
			fmt.Fprint(w, body)
		}
	}
	mux.HandleFunc("/lesson", html(http.StatusOK, lessonPage))
	mux.HandleFunc("/paid", html(http.StatusPaymentRequired, lessonPage))
	mux.HandleFunc("/forbidden", html(http.StatusForbidden, lessonPage))
	mux.HandleFunc("/broken", html(http.StatusInternalServerError, "oops"))
	mux.HandleFunc("/empty", html(http.StatusOK, "<html><body><p>hi</p></body></html>"))
	mux.HandleFunc("/paywalled", html(http.StatusOK, paywallPage(5)))
	mux.HandleFunc("/login", html(http.StatusOK, lessonPage))
	mux.HandleFunc("/members", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/login?next=/members", http.StatusFound)
	})
	mux.HandleFunc("/data.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"a":1}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestHTTPEngine(srv *httptest.Server, mutate func(*HTTPEngineConfig)) *HTTPEngine {
	config := DefaultHTTPEngineConfig()
	if mutate != nil {
		mutate(&config)
	}
	return NewHTTPEngine(config, srv.Client(), newTestExtractor(), DefaultGateConfig())
}

func TestHTTPEngine_Success(t *testing.T) {
	srv := newSiteServer(t)
	engine := newTestHTTPEngine(srv, nil)

	outcome := engine.Fetch(context.Background(), FetchRequest{URL: srv.URL + "/lesson", Topic: "python", CheckAccess: true})
	require.True(t, outcome.IsSuccess(), outcome.String())

	c := outcome.Content
	assert.Equal(t, "Lists", c.Title)
	assert.Equal(t, srv.URL+"/lesson", c.URL)
	assert.Equal(t, "python", c.Topic)
	assert.Equal(t, "127.0.0.1", c.Source)
	assert.NotEmpty(t, c.Text)
	assert.Equal(t, []string{"print([1, 2, 3, 4])"}, c.Code)
	assert.Equal(t, "http", engine.Name())
	assert.NoError(t, engine.Close())
}

func TestHTTPEngine_SearchTitleAndSource(t *testing.T) {
	srv := newSiteServer(t)
	engine := newTestHTTPEngine(srv, nil)

	outcome := engine.Fetch(context.Background(), FetchRequest{
		URL:    srv.URL + "/lesson",
		Title:  "Python Lists Tutorial",
		Source: "web_search",
	})
	require.True(t, outcome.IsSuccess())
	assert.Equal(t, "Python Lists Tutorial", outcome.Content.Title)
	assert.Equal(t, "web_search", outcome.Content.Source)
}

func TestHTTPEngine_Outcomes(t *testing.T) {
	srv := newSiteServer(t)
	engine := newTestHTTPEngine(srv, nil)

	tests := []struct {
		name        string
		path        string
		checkAccess bool
		kind        procurement.OutcomeKind
		reason      string
		target      error
	}{
		{name: "payment required", path: "/paid", checkAccess: true, kind: procurement.OutcomeBlocked, reason: "paywall", target: procurement.ErrAccessBlocked},
		{name: "forbidden", path: "/forbidden", checkAccess: true, kind: procurement.OutcomeBlocked, reason: "login", target: procurement.ErrAccessBlocked},
		{name: "payment required unchecked", path: "/paid", kind: procurement.OutcomeFailed, target: procurement.ErrFetchFailed},
		{name: "server error", path: "/broken", checkAccess: true, kind: procurement.OutcomeFailed, target: procurement.ErrFetchFailed},
		{name: "no content", path: "/empty", kind: procurement.OutcomeFailed, target: procurement.ErrContentRejected},
		{name: "paywall markup", path: "/paywalled", checkAccess: true, kind: procurement.OutcomeBlocked, reason: "paywall", target: procurement.ErrAccessBlocked},
		{name: "login redirect", path: "/members", checkAccess: true, kind: procurement.OutcomeBlocked, reason: "login", target: procurement.ErrAccessBlocked},
		{name: "login redirect unchecked", path: "/members", kind: procurement.OutcomeSuccess},
		{name: "not html", path: "/data.json", kind: procurement.OutcomeFailed, target: procurement.ErrFetchFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outcome := engine.Fetch(context.Background(), FetchRequest{URL: srv.URL + tt.path, CheckAccess: tt.checkAccess})
			assert.Equal(t, tt.kind, outcome.Kind, outcome.String())
			if tt.reason != "" {
				assert.Equal(t, tt.reason, outcome.Reason)
			}
			if tt.target != nil {
				assert.ErrorIs(t, outcome.Err, tt.target)
			}
		})
	}
}

func TestHTTPEngine_StatusErrorExposed(t *testing.T) {
	srv := newSiteServer(t)
	engine := newTestHTTPEngine(srv, nil)

	outcome := engine.Fetch(context.Background(), FetchRequest{URL: srv.URL + "/broken"})
	var statusErr *HTTPStatusError
	require.True(t, errors.As(outcome.Err, &statusErr))
	assert.Equal(t, http.StatusInternalServerError, statusErr.StatusCode)
}

func TestHTTPEngine_Limits(t *testing.T) {
	srv := newSiteServer(t)

	small := newTestHTTPEngine(srv, func(c *HTTPEngineConfig) { c.MaxContentSize = 16 })
	outcome := small.Fetch(context.Background(), FetchRequest{URL: srv.URL + "/lesson"})
	assert.Equal(t, procurement.OutcomeFailed, outcome.Kind)
	assert.Contains(t, outcome.Reason, "maximum size")

	wordy := newTestHTTPEngine(srv, func(c *HTTPEngineConfig) { c.MinWords = 500 })
	outcome = wordy.Fetch(context.Background(), FetchRequest{URL: srv.URL + "/lesson"})
	assert.ErrorIs(t, outcome.Err, procurement.ErrContentRejected)

	var rejected *procurement.ContentRejectedError
	require.True(t, errors.As(outcome.Err, &rejected))
	assert.Greater(t, rejected.Words, 0)
}

func TestHTTPEngine_Unreachable(t *testing.T) {
	srv := newSiteServer(t)
	engine := newTestHTTPEngine(srv, nil)
	srv.Close()

	outcome := engine.Fetch(context.Background(), FetchRequest{URL: srv.URL + "/lesson"})
	assert.Equal(t, procurement.OutcomeFailed, outcome.Kind)
	assert.ErrorIs(t, outcome.Err, procurement.ErrFetchFailed)
	assert.True(t, strings.Contains(outcome.Reason, srv.URL))
}

func TestIsHTMLContentType(t *testing.T) {
	assert.True(t, isHTMLContentType("text/html; charset=utf-8"))
	assert.True(t, isHTMLContentType("application/xhtml+xml"))
	assert.True(t, isHTMLContentType(""))
	assert.False(t, isHTMLContentType("application/pdf"))
}
