package scraping

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Caia-Tech/caia-coursecrawl/internal/procurement"
)

const ddgResults = `<html><body>
<div class="result"><h2><a class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fdocs.python.org%2F3%2Ftutorial%2F&rut=abc">The Python Tutorial</a></h2></div>
<div class="result"><h2><a class="result__a" href="https://realpython.com/python-lists/">Lists in   Python</a></h2></div>
<div class="result"><h2><a class="result__a" href="https://realpython.com/python-lists/">Duplicate</a></h2></div>
<div class="result"><h2><a class="result__a" href="https://duckduckgo.com/y.js?ad=1">Ad</a></h2></div>
<div class="result"><h2><a class="result__a" href="javascript:void(0)">Script</a></h2></div>
<div class="result"><h2><a class="result__a" href="https://www.w3schools.com/python/">W3</a></h2></div>
</body></html>`

func TestDuckDuckGo_ParsesResults(t *testing.T) {
	queries := make(chan string, 2)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		queries <- r.PostForm.Get("q")
		io.WriteString(w, ddgResults)
	}))
	defer srv.Close()

	config := DefaultDuckDuckGoConfig()
	config.BaseURL = srv.URL
	provider := NewDuckDuckGo(config, srv.Client())

	results, err := provider.Text(context.Background(), "python lists tutorial", 10)
	require.NoError(t, err)
	assert.Equal(t, "python lists tutorial", <-queries)
	assert.Equal(t, []SearchResult{
		{Href: "https://docs.python.org/3/tutorial/", Title: "The Python Tutorial"},
		{Href: "https://realpython.com/python-lists/", Title: "Lists in Python"},
		{Href: "https://www.w3schools.com/python/", Title: "W3"},
	}, results)

	limited, err := provider.Text(context.Background(), "python", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestDuckDuckGo_RateLimited(t *testing.T) {
	for _, status := range []int{http.StatusTooManyRequests, http.StatusAccepted} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(status)
		}))

		config := DefaultDuckDuckGoConfig()
		config.BaseURL = srv.URL
		_, err := NewDuckDuckGo(config, srv.Client()).Text(context.Background(), "q", 5)
		srv.Close()

		require.Error(t, err)
		assert.ErrorIs(t, err, procurement.ErrRateLimited)
		var rle *procurement.RateLimitError
		require.True(t, errors.As(err, &rle))
		assert.Equal(t, status, rle.StatusCode)
		assert.Equal(t, 7*time.Second, rle.RetryAfter)
	}
}

func TestDuckDuckGo_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	config := DefaultDuckDuckGoConfig()
	config.BaseURL = srv.URL
	_, err := NewDuckDuckGo(config, srv.Client()).Text(context.Background(), "q", 5)
	require.Error(t, err)
	assert.False(t, errors.Is(err, procurement.ErrRateLimited))
}
