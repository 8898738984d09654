package content

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScrapedContent_IsValid(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		expected bool
	}{
		{name: "empty", text: "", expected: false},
		{name: "spaces only", text: "   ", expected: false},
		{name: "mixed whitespace", text: "\n\t \r\n", expected: false},
		{name: "single word", text: "x", expected: true},
		{name: "padded text", text: "  loops in python  ", expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := ScrapedContent{Text: tt.text}
			assert.Equal(t, tt.expected, c.IsValid())
		})
	}
}

func TestScrapedContent_RecordRoundTrip(t *testing.T) {
	cases := []ScrapedContent{
		{},
		{
			Title:  "Python Lists",
			Text:   "Lists are ordered collections.",
			Code:   []string{"x = [1, 2, 3]", "x.append(4)"},
			URL:    "https://www.w3schools.com/python/python_lists.asp",
			Topic:  "python lists",
			Source: "w3schools.com",
			Level:  LevelBeginner,
		},
		{
			Title: "Empty code",
			Text:  "text",
			Code:  []string{},
			Level: LevelAdvanced,
		},
	}

	for _, c := range cases {
		assert.Equal(t, c, FromRecord(c.ToRecord()))
	}
}

func TestRecord_JSONFieldNames(t *testing.T) {
	c := ScrapedContent{
		Title: "T", Text: "body", Code: []string{"print(1)"},
		URL: "https://example.com/a", Topic: "python", Source: "example.com", Level: LevelIntermediate,
	}

	data, err := json.Marshal(c.ToRecord())
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	for _, key := range []string{"topic", "title", "content", "code_examples", "source", "url", "level"} {
		assert.Contains(t, raw, key)
	}
	assert.Len(t, raw, 7)

	var back Record
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, c, FromRecord(back))
}

func TestScrapedContent_ToRecordCopiesCode(t *testing.T) {
	c := ScrapedContent{Text: "a", Code: []string{"one"}}
	r := c.ToRecord()
	r.CodeExamples[0] = "changed"
	assert.Equal(t, "one", c.Code[0])
}

func TestScrapedContent_Validate(t *testing.T) {
	tests := []struct {
		name    string
		c       ScrapedContent
		wantErr bool
		errMsg  string
	}{
		{
			name: "valid",
			c:    ScrapedContent{Text: "body", URL: "https://example.com/x", Level: LevelBeginner},
		},
		{
			name:    "empty text",
			c:       ScrapedContent{Text: " ", URL: "https://example.com/x", Level: LevelBeginner},
			wantErr: true,
			errMsg:  "text cannot be empty",
		},
		{
			name:    "missing url",
			c:       ScrapedContent{Text: "body", Level: LevelBeginner},
			wantErr: true,
			errMsg:  "URL cannot be empty",
		},
		{
			name:    "unknown level",
			c:       ScrapedContent{Text: "body", URL: "https://example.com/x", Level: "expert"},
			wantErr: true,
			errMsg:  "not recognised",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.c.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{in: "", want: LevelAny},
		{in: "any", want: LevelAny},
		{in: "Beginner", want: LevelBeginner},
		{in: " advanced ", want: LevelAdvanced},
		{in: "intermediate", want: LevelIntermediate},
		{in: "guru", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSourceFromURL(t *testing.T) {
	assert.Equal(t, "realpython.com", SourceFromURL("https://www.RealPython.com/python-lists/"))
	assert.Equal(t, "docs.python.org", SourceFromURL("https://docs.python.org:443/3/"))
	assert.Equal(t, "", SourceFromURL("not a url"))
}
