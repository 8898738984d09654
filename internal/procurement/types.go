package procurement

import (
	"errors"
	"fmt"
	"time"

	"github.com/Caia-Tech/caia-coursecrawl/pkg/content"
)

// OutcomeKind tags the terminal state of one candidate URL
type OutcomeKind string

const (
	OutcomeSuccess OutcomeKind = "success"
	OutcomeSkipped OutcomeKind = "skipped"
	OutcomeBlocked OutcomeKind = "blocked"
	OutcomeFailed  OutcomeKind = "failed"
)

// BlockReason names the access wall that stopped a fetch
type BlockReason string

const (
	BlockPaywall BlockReason = "paywall"
	BlockLogin   BlockReason = "login"
	// BlockUndetermined is used when a failed check is resolved as blocked
	BlockUndetermined BlockReason = "undetermined"
)

// Skip reasons reported by URL state and the orchestrator
const (
	ReasonAvoidedDomain  = "Avoided domain"
	ReasonBadURL         = "Bad URL"
	ReasonAlreadyScraped = "Already scraped"
	ReasonSkipPattern    = "Skip pattern"
	ReasonRobots         = "Disallowed by robots.txt"
	ReasonVisited        = "Already visited in this run"
)

var (
	// ErrAccessBlocked marks a paywall or login wall
	ErrAccessBlocked = errors.New("access blocked")
	// ErrFetchFailed marks network, navigation or parse failures
	ErrFetchFailed = errors.New("fetch failed")
	// ErrContentRejected marks content below the quality threshold
	ErrContentRejected = errors.New("content rejected")
	// ErrRateLimited is returned by search providers that throttle us
	ErrRateLimited = errors.New("search rate limited")
	// ErrSearchExhausted means every search attempt was rate limited
	ErrSearchExhausted = errors.New("search retries exhausted")
)

// Outcome is the result of processing one candidate URL.
// Content is only meaningful when Kind is OutcomeSuccess.
type Outcome struct {
	Kind    OutcomeKind
	URL     string
	Content content.ScrapedContent
	Reason  string
	Err     error
}

// Success wraps extracted content
func Success(c content.ScrapedContent) Outcome {
	return Outcome{Kind: OutcomeSuccess, URL: c.URL, Content: c}
}

// Skipped records a deliberate no-op
func Skipped(url, reason string) Outcome {
	return Outcome{Kind: OutcomeSkipped, URL: url, Reason: reason}
}

// Blocked records an access wall
func Blocked(url string, reason BlockReason) Outcome {
	return Outcome{
		Kind:   OutcomeBlocked,
		URL:    url,
		Reason: string(reason),
		Err:    &AccessBlockedError{URL: url, Reason: reason},
	}
}

// Failed records a fetch failure or rejected content
func Failed(url string, err error) Outcome {
	reason := ""
	if err != nil {
		reason = err.Error()
	}
	return Outcome{Kind: OutcomeFailed, URL: url, Reason: reason, Err: err}
}

// IsSuccess reports whether the outcome carries content
func (o Outcome) IsSuccess() bool {
	return o.Kind == OutcomeSuccess
}

func (o Outcome) String() string {
	if o.Reason == "" {
		return fmt.Sprintf("%s %s", o.Kind, o.URL)
	}
	return fmt.Sprintf("%s %s (%s)", o.Kind, o.URL, o.Reason)
}

// AccessBlockedError reports a detected paywall or login wall
type AccessBlockedError struct {
	URL    string
	Reason BlockReason
}

func (e *AccessBlockedError) Error() string {
	return fmt.Sprintf("access blocked by %s at %s", e.Reason, e.URL)
}

func (e *AccessBlockedError) Is(target error) bool {
	return target == ErrAccessBlocked
}

// ContentRejectedError reports content that was extracted but is too thin
type ContentRejectedError struct {
	URL    string
	Words  int
	Reason string
}

func (e *ContentRejectedError) Error() string {
	return fmt.Sprintf("content rejected at %s: %s (%d words)", e.URL, e.Reason, e.Words)
}

func (e *ContentRejectedError) Is(target error) bool {
	return target == ErrContentRejected
}

// RateLimitError is returned by a search provider that refused a query
type RateLimitError struct {
	Provider   string
	StatusCode int
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s rate limited search (status %d)", e.Provider, e.StatusCode)
}

func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// FetchFailure wraps err so that errors.Is(result, ErrFetchFailed) holds
func FetchFailure(url string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrFetchFailed, url, err)
}

// GatePolicy decides what an undetermined access check means
type GatePolicy struct {
	FailOpen bool `json:"fail_open"`
}

// Resolve returns whether a check that ended in err should count as blocked
func (p GatePolicy) Resolve(err error) bool {
	if err == nil {
		return false
	}
	return !p.FailOpen
}
