package processing

import (
	"html"
	"regexp"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

var (
	whitespaceRegex    = regexp.MustCompile(`\s+`)
	controlCharRegex   = regexp.MustCompile(`[\x00-\x1f\x7f-\x9f]`)
	citationRegex      = regexp.MustCompile(`\[\d+\]`)
	shellPromptRegex   = regexp.MustCompile(`(?m)^[ \t]*(?:>>>|\$|>)[ \t]?`)
	trailingSpaceRegex = regexp.MustCompile(`(?m)[ \t]+$`)
	blankRunRegex      = regexp.MustCompile(`\n{3,}`)
)

// WhitespaceNormalizationRule collapses whitespace runs into single spaces
type WhitespaceNormalizationRule struct{}

func (r *WhitespaceNormalizationRule) Name() string {
	return "whitespace_normalization"
}

func (r *WhitespaceNormalizationRule) Description() string {
	return "Collapses whitespace runs to a single space and trims the ends"
}

func (r *WhitespaceNormalizationRule) Applicable(kind string) bool {
	return kind == KindText || kind == KindTitle
}

func (r *WhitespaceNormalizationRule) Apply(content string) (string, error) {
	return strings.TrimSpace(whitespaceRegex.ReplaceAllString(content, " ")), nil
}

// ControlCharacterRule drops C0 and C1 control characters
type ControlCharacterRule struct{}

func (r *ControlCharacterRule) Name() string {
	return "control_characters"
}

func (r *ControlCharacterRule) Description() string {
	return "Removes ASCII and Latin-1 control characters"
}

func (r *ControlCharacterRule) Applicable(kind string) bool {
	return kind == KindText || kind == KindTitle
}

func (r *ControlCharacterRule) Apply(content string) (string, error) {
	return controlCharRegex.ReplaceAllString(content, ""), nil
}

// CitationMarkerRule removes numeric citation markers such as [12]
type CitationMarkerRule struct{}

func (r *CitationMarkerRule) Name() string {
	return "citation_markers"
}

func (r *CitationMarkerRule) Description() string {
	return "Removes numeric citation markers like [3]"
}

func (r *CitationMarkerRule) Applicable(kind string) bool {
	return kind == KindText
}

func (r *CitationMarkerRule) Apply(content string) (string, error) {
	return citationRegex.ReplaceAllString(content, ""), nil
}

// BoilerplatePhraseRule strips cookie, privacy and subscription notices
type BoilerplatePhraseRule struct {
	pattern *regexp.Regexp
}

// NewBoilerplatePhraseRule builds a case-insensitive matcher for phrases.
// Copyright notices with a year are always matched.
func NewBoilerplatePhraseRule(phrases []string) *BoilerplatePhraseRule {
	alternatives := []string{`copyright\s+(?:©\s*)?\d{4}`}
	for _, phrase := range phrases {
		phrase = strings.TrimSpace(phrase)
		if phrase == "" {
			continue
		}
		alternatives = append(alternatives, regexp.QuoteMeta(phrase))
	}
	return &BoilerplatePhraseRule{
		pattern: regexp.MustCompile(`(?i)(?:` + strings.Join(alternatives, "|") + `)`),
	}
}

func (r *BoilerplatePhraseRule) Name() string {
	return "boilerplate_phrases"
}

func (r *BoilerplatePhraseRule) Description() string {
	return "Removes cookie, privacy and subscription boilerplate phrases"
}

func (r *BoilerplatePhraseRule) Applicable(kind string) bool {
	return kind == KindText
}

func (r *BoilerplatePhraseRule) Apply(content string) (string, error) {
	return r.pattern.ReplaceAllString(content, ""), nil
}

// ShellPromptRule strips a leading prompt marker from each code line
type ShellPromptRule struct{}

func (r *ShellPromptRule) Name() string {
	return "shell_prompts"
}

func (r *ShellPromptRule) Description() string {
	return "Removes leading $, > and >>> prompt markers from code lines"
}

func (r *ShellPromptRule) Applicable(kind string) bool {
	return kind == KindCode
}

func (r *ShellPromptRule) Apply(content string) (string, error) {
	return shellPromptRegex.ReplaceAllString(content, ""), nil
}

// BlankLineCollapseRule trims trailing spaces and collapses blank line runs
type BlankLineCollapseRule struct{}

func (r *BlankLineCollapseRule) Name() string {
	return "blank_line_collapse"
}

func (r *BlankLineCollapseRule) Description() string {
	return "Removes trailing spaces and blank line runs while keeping indentation"
}

func (r *BlankLineCollapseRule) Applicable(kind string) bool {
	return kind == KindCode
}

func (r *BlankLineCollapseRule) Apply(content string) (string, error) {
	cleaned := strings.ReplaceAll(content, "\r\n", "\n")
	cleaned = trailingSpaceRegex.ReplaceAllString(cleaned, "")
	cleaned = blankRunRegex.ReplaceAllString(cleaned, "\n\n")
	cleaned = strings.TrimLeft(cleaned, "\n")
	return strings.TrimRight(cleaned, " \t\n"), nil
}

// TitleSanitizationRule removes any markup left in a title
type TitleSanitizationRule struct {
	policyPool sync.Pool
}

// NewTitleSanitizationRule creates a rule backed by a strict HTML policy
func NewTitleSanitizationRule() *TitleSanitizationRule {
	return &TitleSanitizationRule{
		policyPool: sync.Pool{
			New: func() interface{} {
				return bluemonday.StrictPolicy()
			},
		},
	}
}

func (r *TitleSanitizationRule) Name() string {
	return "title_sanitization"
}

func (r *TitleSanitizationRule) Description() string {
	return "Strips HTML tags and decodes entities in titles"
}

func (r *TitleSanitizationRule) Applicable(kind string) bool {
	return kind == KindTitle
}

func (r *TitleSanitizationRule) Apply(content string) (string, error) {
	policy := r.policyPool.Get().(*bluemonday.Policy)
	defer r.policyPool.Put(policy)

	cleaned := whitespaceRegex.ReplaceAllString(policy.Sanitize(content), " ")
	return strings.TrimSpace(html.UnescapeString(cleaned)), nil
}
