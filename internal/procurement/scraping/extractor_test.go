package scraping

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Caia-Tech/caia-coursecrawl/pkg/content"
)

func newTestExtractor() *ContentExtractor {
	return NewContentExtractor(DefaultExtractorConfig(), DefaultDomainPolicy(), nil)
}

func mustDoc(t *testing.T, body, pageURL string) *goquery.Document {
	t.Helper()
	doc, err := ParseHTML(strings.NewReader(body), pageURL)
	require.NoError(t, err)
	return doc
}

// prose150 is exactly 150 characters long
var prose150 = strings.Repeat("Python lists store items. ", 6)[:150]

func TestContentExtractor_ContentDivWithCodeBlock(t *testing.T) {
	require.Len(t, prose150, 150)
	body := `<html><head><title>Lists</title></head><body>
		<div class="content"><p>` + prose150 + `</p><pre>print([1, 2, 3, 4])</pre></div>
	</body></html>`

	ex := newTestExtractor()
	result := ex.Extract(mustDoc(t, body, "https://example.com/lists"), "https://example.com/lists")

	assert.NotEmpty(t, strings.TrimSpace(result.Text))
	assert.NotContains(t, result.Text, "print(")
	require.Len(t, result.Code, 1)
	assert.Equal(t, "print([1, 2, 3, 4])", result.Code[0])
	assert.Equal(t, "Lists", result.Title)
}

func TestContentExtractor_GetTitle(t *testing.T) {
	ex := newTestExtractor()

	tests := []struct {
		name     string
		body     string
		expected string
	}{
		{name: "title tag", body: `<html><head><title> Loops &amp; Ranges </title></head><body><h1>Other</h1></body></html>`, expected: "Loops & Ranges"},
		{name: "h1 fallback", body: `<html><body><h1>Functions <em>in</em> Go</h1></body></html>`, expected: "Functions in Go"},
		{name: "untitled", body: `<html><body><p>nothing</p></body></html>`, expected: "Untitled"},
		{name: "blank title", body: `<html><head><title>   </title></head><body><h1>Heading</h1></body></html>`, expected: "Heading"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ex.GetTitle(mustDoc(t, tt.body, "https://example.com")))
		})
	}
}

func TestContentExtractor_RemovesNoise(t *testing.T) {
	body := `<html><body>
		<nav>Home About Contact and many more navigation links here</nav>
		<article>
			<div class="cookie-banner">We use cookies to improve your experience on this site today</div>
			<p>A for loop repeats a block of code for every element of a sequence in Python.</p>
			<div id="social-share">Share this on every social network you know about</div>
			<p>Use range() to loop a fixed number of times without building a list first.</p>
			<script>var tracking = "should never appear in text";</script>
		</article>
		<footer>Copyright footer text that is long enough to be considered content</footer>
	</body></html>`

	ex := newTestExtractor()
	text := ex.MainText(mustDoc(t, body, "https://example.com/loops"))

	assert.Contains(t, text, "A for loop repeats")
	assert.Contains(t, text, "Use range()")
	assert.NotContains(t, text, "cookies")
	assert.NotContains(t, text, "social network")
	assert.NotContains(t, text, "tracking")
	assert.NotContains(t, text, "navigation")
	assert.NotContains(t, text, "footer")
}

func TestContentExtractor_DoesNotMutateDocument(t *testing.T) {
	body := `<html><body><main><p>` + prose150 + `</p><pre>for x in range(10): pass</pre></main></body></html>`
	doc := mustDoc(t, body, "https://example.com")
	ex := newTestExtractor()

	require.NotNil(t, ex.ExtractMainContent(doc))
	assert.Equal(t, 1, doc.Find("pre").Length())
	assert.Len(t, ex.ExtractCodeExamples(doc), 1)
}

func TestContentExtractor_ScoringPrefersTutorialContent(t *testing.T) {
	tutorial := "This example shows the syntax step by step with example output for the exercise."
	boiler := "Subscribe to our newsletter, sign up now, log in, cookie settings and subscribe again please."
	body := `<html><body>
		<div class="content">` + boiler + ` ` + boiler + `</div>
		<article>` + tutorial + `</article>
	</body></html>`

	ex := newTestExtractor()
	main := ex.ExtractMainContent(mustDoc(t, body, "https://example.com"))
	require.NotNil(t, main)
	assert.Equal(t, "article", goquery.NodeName(main))
}

func TestContentExtractor_ParagraphFallback(t *testing.T) {
	p := "<p>" + strings.Repeat("Dictionaries map keys to values. ", 2) + "</p>"
	short := "<p>too short</p>"

	ex := newTestExtractor()

	withThree := `<html><body><div>` + p + p + short + p + `</div></body></html>`
	text := ex.MainText(mustDoc(t, withThree, "https://example.com"))
	assert.Equal(t, 3, strings.Count(text, "Dictionaries map keys to values. Dictionaries"))
	assert.NotContains(t, text, "too short")

	withTwo := `<html><body><div>` + p + p + short + `</div></body></html>`
	assert.Nil(t, ex.ExtractMainContent(mustDoc(t, withTwo, "https://example.com")))
	assert.Equal(t, "", ex.MainText(mustDoc(t, withTwo, "https://example.com")))
}

func TestContentExtractor_ContainerBelowThreshold(t *testing.T) {
	body := `<html><body><main><p>Short text.</p></main></body></html>`
	ex := newTestExtractor()
	assert.Nil(t, ex.ExtractMainContent(mustDoc(t, body, "https://example.com")))
}

func TestContentExtractor_CodeExamples(t *testing.T) {
	body := `<html><body>
		<pre><code>$ go run main.go
hello</code></pre>
		<div class="highlight"><pre>def greet():
    return "hi"</pre></div>
		<code>x</code>
		<span data-lang="sql">SELECT * FROM users;</span>
	</body></html>`

	ex := newTestExtractor()
	code := ex.ExtractCodeExamples(mustDoc(t, body, "https://example.com"))

	assert.Equal(t, []string{
		"go run main.go\nhello",
		"def greet():\n    return \"hi\"",
		"SELECT * FROM users;",
	}, code)
}

func TestContentExtractor_DetermineLevel(t *testing.T) {
	ex := newTestExtractor()

	tests := []struct {
		name     string
		text     string
		url      string
		expected content.Level
	}{
		{name: "url beginner hint", text: "advanced concurrency", url: "https://example.com/python-basics/", expected: content.LevelBeginner},
		{name: "url tutorial hint", text: "", url: "https://example.com/tutorial/x", expected: content.LevelBeginner},
		{name: "url advanced hint", text: "introduction", url: "https://example.com/advanced/generators", expected: content.LevelAdvanced},
		{name: "beginner domain", text: "distributed architecture concurrency", url: "https://www.w3schools.com/python/x.asp", expected: content.LevelBeginner},
		{name: "advanced majority", text: "concurrency and threading with asynchronous performance", url: "https://example.com/x", expected: content.LevelAdvanced},
		{name: "basic majority", text: "an introduction for the beginner covering the basics", url: "https://example.com/x", expected: content.LevelBeginner},
		{name: "no clear majority", text: "introduction to concurrency", url: "https://example.com/x", expected: content.LevelIntermediate},
		{name: "empty", text: "", url: "https://example.com/x", expected: content.LevelIntermediate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ex.DetermineLevel(tt.text, tt.url))
		})
	}
}

func TestContentExtractor_FindLinks(t *testing.T) {
	body := `<html><body>
		<a href="/python/lists">Lists</a>
		<a href="tuples.html#top">Tuples</a>
		<a href="#section">Jump</a>
		<a href="javascript:void(0)">Click</a>
		<a href="mailto:team@example.com">Mail</a>
		<a href="https://other.org/page">Other</a>
		<a href="/python/tryit.asp?x=1">Try it</a>
		<a href="/python/lists">Duplicate</a>
	</body></html>`

	ex := newTestExtractor()
	links := ex.FindLinks(mustDoc(t, body, "https://example.com/python/"), "https://example.com/python/", []string{"tryit.asp"})

	assert.Equal(t, []string{
		"https://example.com/python/lists",
		"https://example.com/python/tuples.html",
		"https://other.org/page",
	}, links)
}

func TestContentExtractor_ExtractWithSelectors(t *testing.T) {
	long := strings.Repeat("SQL SELECT statements read rows from tables. ", 4)
	body := `<html><body>
		<div id="main"><p>` + long + `</p></div>
		<div class="w3-example"><p>tiny</p></div>
		<div class="w3-code">SELECT name FROM users;</div>
	</body></html>`

	ex := newTestExtractor()
	text, code := ex.ExtractWithSelectors(mustDoc(t, body, "https://www.w3schools.com/sql/"),
		[]string{"#main", ".w3-example"}, []string{".w3-code"})

	assert.Contains(t, text, "SQL SELECT statements")
	assert.NotContains(t, text, "tiny")
	assert.Equal(t, []string{"SELECT name FROM users;"}, code)
}
