package processing

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContentCleaner_CleanText(t *testing.T) {
	cleaner := NewContentCleaner(DefaultCleanerConfig())

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "empty",
			input:    "",
			expected: "",
		},
		{
			name:     "whitespace runs",
			input:    "  Lists   are\n\n ordered\tcollections.  ",
			expected: "Lists are ordered collections.",
		},
		{
			name:     "control characters",
			input:    "bad\x00byte\x07s and\u0085 more",
			expected: "badbytes and more",
		},
		{
			name:     "citation markers",
			input:    "Python was released in 1991[1] by Guido[23].",
			expected: "Python was released in 1991 by Guido.",
		},
		{
			name:     "boilerplate is case insensitive",
			input:    "We Use Cookies to improve. Loops repeat code. Privacy Policy",
			expected: "to improve. Loops repeat code.",
		},
		{
			name:     "copyright with year",
			input:    "Intro text. Copyright 2024 Example Inc. All rights reserved.",
			expected: "Intro text. Example Inc. .",
		},
		{
			name:     "whitespace only",
			input:    " \n\t ",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, cleaner.CleanText(tt.input))
		})
	}
}

func TestContentCleaner_CleanTextIsDeterministic(t *testing.T) {
	cleaner := NewContentCleaner(DefaultCleanerConfig())
	input := "Accept all cookies  Functions [4] group\n statements."

	first := cleaner.CleanText(input)
	assert.Equal(t, first, cleaner.CleanText(input))
	assert.Equal(t, first, cleaner.CleanText(first))
}

func TestContentCleaner_CleanCode(t *testing.T) {
	cleaner := NewContentCleaner(DefaultCleanerConfig())

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "shell prompts",
			input:    "$ pip install requests\n$ python app.py",
			expected: "pip install requests\npython app.py",
		},
		{
			name:     "repl prompts",
			input:    ">>> x = 1\n>>> print(x)\n1",
			expected: "x = 1\nprint(x)\n1",
		},
		{
			name:     "indentation preserved",
			input:    "def f():\n    if x:\n        return 1   \n",
			expected: "def f():\n    if x:\n        return 1",
		},
		{
			name:     "blank line runs collapse",
			input:    "\n\na = 1\n\n\n\nb = 2\n\n\n",
			expected: "a = 1\n\nb = 2",
		},
		{
			name:     "empty",
			input:    "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, cleaner.CleanCode(tt.input))
		})
	}
}

func TestContentCleaner_CleanTitle(t *testing.T) {
	cleaner := NewContentCleaner(DefaultCleanerConfig())

	assert.Equal(t, "Loops & Iteration", cleaner.CleanTitle("  <b>Loops</b> &amp;\n Iteration "))
	assert.Equal(t, "", cleaner.CleanTitle(""))
}

func TestContentCleaner_DisabledRules(t *testing.T) {
	config := DefaultCleanerConfig()
	config.DisabledRules = []string{"citation_markers"}
	cleaner := NewContentCleaner(config)

	assert.Equal(t, "see [1] here", cleaner.CleanText("see [1]   here"))
	assert.NotContains(t, cleaner.GetEnabledRules(), "citation_markers")
	assert.Contains(t, cleaner.GetAvailableRules(), "citation_markers")
}

func TestContentCleaner_CleanReport(t *testing.T) {
	cleaner := NewContentCleaner(DefaultCleanerConfig())

	result := cleaner.Clean(KindText, "Cookie policy   Generators yield values [2]")
	require.NotNil(t, result)
	assert.Equal(t, "Generators yield values", result.Cleaned)
	assert.Contains(t, result.RulesApplied, "boilerplate_phrases")
	assert.Contains(t, result.RulesApplied, "citation_markers")
	assert.Equal(t, result.OriginalLength-result.CleanedLength, result.BytesRemoved)
	assert.Empty(t, result.Warnings)
}

type failingRule struct{}

func (failingRule) Name() string                    { return "failing" }
func (failingRule) Description() string             { return "always fails" }
func (failingRule) Applicable(string) bool          { return true }
func (failingRule) Apply(string) (string, error)    { return "", errors.New("boom") }

func TestContentCleaner_FailingRuleIsSkipped(t *testing.T) {
	cleaner := NewContentCleaner(DefaultCleanerConfig())
	cleaner.addRule(failingRule{})

	result := cleaner.Clean(KindText, "kept  text")
	assert.Equal(t, "kept text", result.Cleaned)
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "failing")
}
