package content

import (
	"fmt"
	"net/url"
	"strings"
)

// Level is the difficulty label attached to scraped content
type Level string

const (
	LevelBeginner     Level = "beginner"
	LevelIntermediate Level = "intermediate"
	LevelAdvanced     Level = "advanced"
	LevelAny          Level = "any"
)

// ParseLevel converts a user supplied level name. Empty input means LevelAny.
func ParseLevel(s string) (Level, error) {
	switch Level(strings.ToLower(strings.TrimSpace(s))) {
	case "", LevelAny:
		return LevelAny, nil
	case LevelBeginner:
		return LevelBeginner, nil
	case LevelIntermediate:
		return LevelIntermediate, nil
	case LevelAdvanced:
		return LevelAdvanced, nil
	}
	return "", fmt.Errorf("unknown level %q", s)
}

// ScrapedContent is the educational payload extracted from a single page
// (or a single pagination chain). Values are not mutated after construction.
type ScrapedContent struct {
	Title  string
	Text   string
	Code   []string
	URL    string
	Topic  string
	Source string
	Level  Level
}

// Record is the flat form persisted to the knowledge base
type Record struct {
	Topic        string   `json:"topic"`
	Title        string   `json:"title"`
	Content      string   `json:"content"`
	CodeExamples []string `json:"code_examples"`
	Source       string   `json:"source"`
	URL          string   `json:"url"`
	Level        string   `json:"level"`
}

// IsValid reports whether the content carries any prose
func (c ScrapedContent) IsValid() bool {
	return strings.TrimSpace(c.Text) != ""
}

// Validate checks the fields required before content is handed to a store
func (c ScrapedContent) Validate() error {
	if !c.IsValid() {
		return fmt.Errorf("content text cannot be empty")
	}
	if c.URL == "" {
		return fmt.Errorf("content URL cannot be empty")
	}
	if _, err := url.ParseRequestURI(c.URL); err != nil {
		return fmt.Errorf("content URL is invalid: %w", err)
	}
	switch c.Level {
	case LevelBeginner, LevelIntermediate, LevelAdvanced, LevelAny:
	default:
		return fmt.Errorf("content level %q is not recognised", c.Level)
	}
	return nil
}

// WordCount returns the number of whitespace separated words in Text
func (c ScrapedContent) WordCount() int {
	return len(strings.Fields(c.Text))
}

// ToRecord flattens the content for persistence
func (c ScrapedContent) ToRecord() Record {
	return Record{
		Topic:        c.Topic,
		Title:        c.Title,
		Content:      c.Text,
		CodeExamples: cloneStrings(c.Code),
		Source:       c.Source,
		URL:          c.URL,
		Level:        string(c.Level),
	}
}

// FromRecord rebuilds content from its flat form
func FromRecord(r Record) ScrapedContent {
	return ScrapedContent{
		Title:  r.Title,
		Text:   r.Content,
		Code:   cloneStrings(r.CodeExamples),
		URL:    r.URL,
		Topic:  r.Topic,
		Source: r.Source,
		Level:  Level(r.Level),
	}
}

// ToRecords flattens a result list
func ToRecords(items []ScrapedContent) []Record {
	records := make([]Record, 0, len(items))
	for _, item := range items {
		records = append(records, item.ToRecord())
	}
	return records
}

// SourceFromURL returns the host of rawURL without a leading "www."
func SourceFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
