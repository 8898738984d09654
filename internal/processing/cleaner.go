package processing

import (
	"fmt"
	"time"
)

// Kinds of content a rule may apply to
const (
	KindText  = "text"
	KindCode  = "code"
	KindTitle = "title"
)

// CleaningRule represents a single content cleaning rule
type CleaningRule interface {
	Name() string
	Description() string
	Apply(content string) (string, error)
	Applicable(kind string) bool
}

// CleaningResult contains the results of content cleaning
type CleaningResult struct {
	Cleaned        string        `json:"cleaned"`
	OriginalLength int           `json:"original_length"`
	CleanedLength  int           `json:"cleaned_length"`
	RulesApplied   []string      `json:"rules_applied"`
	BytesRemoved   int           `json:"bytes_removed"`
	ProcessingTime time.Duration `json:"processing_time"`
	Warnings       []string      `json:"warnings,omitempty"`
}

// CleanerConfig configures the rule set of a ContentCleaner
type CleanerConfig struct {
	BoilerplatePhrases []string `json:"boilerplate_phrases"`
	DisabledRules      []string `json:"disabled_rules"`
}

// DefaultCleanerConfig returns the standard boilerplate phrase list
func DefaultCleanerConfig() CleanerConfig {
	return CleanerConfig{
		BoilerplatePhrases: []string{
			"accept all cookies",
			"we use cookies",
			"cookie policy",
			"privacy policy",
			"terms of service",
			"all rights reserved",
			"sponsored content",
			"subscribe to our newsletter",
			"advertisement",
		},
	}
}

// ContentCleaner applies rule-based normalization to prose, code and titles.
// It holds no mutable state after construction and is safe for concurrent use.
type ContentCleaner struct {
	rules        []CleaningRule
	enabledRules map[string]bool
}

// NewContentCleaner creates a cleaner with the default rules
func NewContentCleaner(config CleanerConfig) *ContentCleaner {
	cleaner := &ContentCleaner{
		enabledRules: make(map[string]bool),
	}

	// Order matters: whitespace first so newlines become spaces before control
	// characters are dropped, and again last to close gaps left by removals.
	cleaner.addRule(&WhitespaceNormalizationRule{})
	cleaner.addRule(&ControlCharacterRule{})
	cleaner.addRule(&CitationMarkerRule{})
	cleaner.addRule(NewBoilerplatePhraseRule(config.BoilerplatePhrases))
	cleaner.addRule(&WhitespaceNormalizationRule{})
	cleaner.addRule(&ShellPromptRule{})
	cleaner.addRule(&BlankLineCollapseRule{})
	cleaner.addRule(NewTitleSanitizationRule())

	for _, name := range config.DisabledRules {
		cleaner.enabledRules[name] = false
	}

	return cleaner
}

func (cc *ContentCleaner) addRule(rule CleaningRule) {
	cc.rules = append(cc.rules, rule)
	if _, seen := cc.enabledRules[rule.Name()]; !seen {
		cc.enabledRules[rule.Name()] = true
	}
}

// CleanText normalizes extracted prose
func (cc *ContentCleaner) CleanText(s string) string {
	return cc.Clean(KindText, s).Cleaned
}

// CleanCode normalizes a code snippet, keeping its indentation
func (cc *ContentCleaner) CleanCode(s string) string {
	return cc.Clean(KindCode, s).Cleaned
}

// CleanTitle strips markup and entities from a page title
func (cc *ContentCleaner) CleanTitle(s string) string {
	return cc.Clean(KindTitle, s).Cleaned
}

// Clean runs every enabled rule applicable to kind and reports what changed.
// A failing rule is skipped and recorded as a warning.
func (cc *ContentCleaner) Clean(kind, s string) *CleaningResult {
	start := time.Now()
	result := &CleaningResult{
		OriginalLength: len(s),
		RulesApplied:   []string{},
	}
	if s == "" {
		return result
	}

	cleaned := s
	for _, rule := range cc.rules {
		if !cc.enabledRules[rule.Name()] || !rule.Applicable(kind) {
			continue
		}

		after, err := rule.Apply(cleaned)
		if err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("Rule %s failed: %v", rule.Name(), err))
			continue
		}

		if after != cleaned {
			cleaned = after
			result.RulesApplied = append(result.RulesApplied, rule.Name())
		}
	}

	result.Cleaned = cleaned
	result.CleanedLength = len(cleaned)
	result.BytesRemoved = len(s) - len(cleaned)
	result.ProcessingTime = time.Since(start)
	return result
}

// GetEnabledRules returns the names of enabled rules in application order
func (cc *ContentCleaner) GetEnabledRules() []string {
	enabled := make([]string, 0)
	seen := make(map[string]bool)
	for _, rule := range cc.rules {
		if cc.enabledRules[rule.Name()] && !seen[rule.Name()] {
			enabled = append(enabled, rule.Name())
			seen[rule.Name()] = true
		}
	}
	return enabled
}

// GetAvailableRules returns all available rules with descriptions
func (cc *ContentCleaner) GetAvailableRules() map[string]string {
	rules := make(map[string]string)
	for _, rule := range cc.rules {
		rules[rule.Name()] = rule.Description()
	}
	return rules
}
