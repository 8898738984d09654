package scraping

import (
	"errors"
	"net"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/juju/clock"
	"github.com/rs/zerolog"
	"golang.org/x/net/publicsuffix"

	"github.com/Caia-Tech/caia-coursecrawl/internal/procurement"
	"github.com/Caia-Tech/caia-coursecrawl/internal/storage"
	"github.com/Caia-Tech/caia-coursecrawl/pkg/logging"
)

// Default file names for persisted URL state
const (
	ScrapedURLsFile = "scraped_urls.json"
	BadURLsFile     = "bad_urls.json"
)

// ErrStateClosed is returned by mutations after Close
var ErrStateClosed = errors.New("url state closed")

// URLStateConfig configures persistence of URL state
type URLStateConfig struct {
	ScrapedFile string `json:"scraped_file"`
	BadFile     string `json:"bad_file"`
	// BadEntryTTL makes bad entries expire. Zero keeps them forever.
	BadEntryTTL time.Duration `json:"bad_entry_ttl"`
	Clock       clock.Clock   `json:"-"`
}

// DefaultURLStateConfig places both files in dataDir
func DefaultURLStateConfig(dataDir string) URLStateConfig {
	return URLStateConfig{
		ScrapedFile: filepath.Join(dataDir, ScrapedURLsFile),
		BadFile:     filepath.Join(dataDir, BadURLsFile),
		Clock:       clock.WallClock,
	}
}

// URLStateSnapshot is a point-in-time copy of both sets
type URLStateSnapshot struct {
	Scraped []string `json:"scraped"`
	Bad     []string `json:"bad"`
}

type urlSets struct {
	scraped      map[string]struct{}
	scrapedOrder []string
	bad          map[string]time.Time
	badOrder     []string
}

// URLState owns the scraped and bad sets. A single goroutine applies every
// read and mutation, and rewrites both files before a mutation returns.
type URLState struct {
	policy DomainPolicy
	config URLStateConfig
	logger zerolog.Logger

	requests  chan func(*urlSets)
	stop      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
}

// NewURLState loads persisted sets and starts the owner goroutine.
// Unreadable files are logged and treated as empty.
func NewURLState(policy DomainPolicy, config URLStateConfig) *URLState {
	if config.Clock == nil {
		config.Clock = clock.WallClock
	}

	s := &URLState{
		policy:   policy,
		config:   config,
		logger:   logging.GetLogger("url_state"),
		requests: make(chan func(*urlSets)),
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}

	sets := &urlSets{
		scraped: make(map[string]struct{}),
		bad:     make(map[string]time.Time),
	}
	now := config.Clock.Now()
	for _, u := range s.loadSet(config.ScrapedFile) {
		if _, dup := sets.scraped[u]; !dup {
			sets.scraped[u] = struct{}{}
			sets.scrapedOrder = append(sets.scrapedOrder, u)
		}
	}
	for _, u := range s.loadSet(config.BadFile) {
		if _, dup := sets.bad[u]; !dup {
			sets.bad[u] = now
			sets.badOrder = append(sets.badOrder, u)
		}
	}

	s.logger.Info().
		Int("scraped", len(sets.scrapedOrder)).
		Int("bad", len(sets.badOrder)).
		Msg("URL state loaded")

	go s.run(sets)
	return s
}

func (s *URLState) loadSet(path string) []string {
	if path == "" {
		return nil
	}
	var urls []string
	if _, err := storage.ReadJSON(path, &urls); err != nil {
		s.logger.Warn().Err(err).Str("path", path).Msg("Could not parse URL state file, starting empty")
		return nil
	}
	return urls
}

func (s *URLState) run(sets *urlSets) {
	defer close(s.stopped)
	for {
		select {
		case fn := <-s.requests:
			fn(sets)
		case <-s.stop:
			return
		}
	}
}

// do runs fn on the owner goroutine and waits for it to finish
func (s *URLState) do(fn func(*urlSets)) error {
	done := make(chan struct{})
	select {
	case s.requests <- func(sets *urlSets) {
		defer close(done)
		fn(sets)
	}:
	case <-s.stopped:
		return ErrStateClosed
	}
	<-done
	return nil
}

// Close stops the owner goroutine. Pending mutations have already been persisted.
func (s *URLState) Close() error {
	s.closeOnce.Do(func() { close(s.stop) })
	<-s.stopped
	return nil
}

// ShouldSkip reports whether rawURL must not be fetched, and why
func (s *URLState) ShouldSkip(rawURL string) (bool, string) {
	host := hostOf(rawURL)
	if !s.policy.IsTrusted(host) && s.policy.IsAvoided(host) {
		return true, procurement.ReasonAvoidedDomain
	}

	skip, reason := false, ""
	err := s.do(func(sets *urlSets) {
		now := s.config.Clock.Now()
		for _, key := range []string{rawURL, registeredDomain(host), host} {
			if key == "" {
				continue
			}
			if added, ok := sets.bad[key]; ok && !s.expired(added, now) {
				skip, reason = true, procurement.ReasonBadURL
				return
			}
		}
		if _, ok := sets.scraped[rawURL]; ok {
			skip, reason = true, procurement.ReasonAlreadyScraped
		}
	})
	if err != nil {
		return true, err.Error()
	}
	return skip, reason
}

func (s *URLState) expired(added, now time.Time) bool {
	return s.config.BadEntryTTL > 0 && now.Sub(added) > s.config.BadEntryTTL
}

// DelayFor returns the politeness window for rawURL's domain
func (s *URLState) DelayFor(rawURL string) DelayRange {
	return s.policy.DelayFor(hostOf(rawURL))
}

// MarkScraped records a successful fetch and persists both sets
func (s *URLState) MarkScraped(rawURL string) error {
	var persistErr error
	err := s.do(func(sets *urlSets) {
		if _, ok := sets.scraped[rawURL]; ok {
			return
		}
		sets.scraped[rawURL] = struct{}{}
		sets.scrapedOrder = append(sets.scrapedOrder, rawURL)
		persistErr = s.persist(sets)
	})
	if err != nil {
		return err
	}
	s.logger.Debug().Str("url", rawURL).Msg("Marked as scraped")
	return persistErr
}

// MarkBad disqualifies the registered domain of rawURL
func (s *URLState) MarkBad(rawURL string) error {
	host := hostOf(rawURL)
	key := registeredDomain(host)
	if key == "" {
		key = rawURL
	}
	return s.markBad(key, rawURL)
}

// MarkBadURL disqualifies rawURL alone
func (s *URLState) MarkBadURL(rawURL string) error {
	return s.markBad(rawURL, rawURL)
}

func (s *URLState) markBad(key, rawURL string) error {
	var persistErr error
	err := s.do(func(sets *urlSets) {
		now := s.config.Clock.Now()
		if added, ok := sets.bad[key]; ok && !s.expired(added, now) {
			return
		}
		if _, ok := sets.bad[key]; !ok {
			sets.badOrder = append(sets.badOrder, key)
		}
		sets.bad[key] = now
		persistErr = s.persist(sets)
	})
	if err != nil {
		return err
	}
	s.logger.Debug().Str("url", rawURL).Str("entry", key).Msg("Marked as bad")
	return persistErr
}

// persist rewrites both files. It only runs on the owner goroutine.
func (s *URLState) persist(sets *urlSets) error {
	var result error
	if s.config.ScrapedFile != "" {
		if err := storage.WriteJSONAtomic(s.config.ScrapedFile, nonNil(sets.scrapedOrder)); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if s.config.BadFile != "" {
		if err := storage.WriteJSONAtomic(s.config.BadFile, nonNil(sets.badOrder)); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if result != nil {
		s.logger.Error().Err(result).Msg("Failed to persist URL state")
	}
	return result
}

// Snapshot returns copies of both sets in insertion order
func (s *URLState) Snapshot() URLStateSnapshot {
	var snap URLStateSnapshot
	_ = s.do(func(sets *urlSets) {
		snap.Scraped = append([]string{}, sets.scrapedOrder...)
		snap.Bad = append([]string{}, sets.badOrder...)
	})
	return snap
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

// IsTrusted reports whether host matches a trusted domain pattern
func (p DomainPolicy) IsTrusted(host string) bool {
	return p.TrustRank(host) >= 0
}

// TrustRank returns the index of the first trusted pattern contained in
// host, or -1 when none matches.
func (p DomainPolicy) TrustRank(host string) int {
	host = strings.ToLower(host)
	if host == "" {
		return -1
	}
	for i, td := range p.TrustedDomains {
		if strings.Contains(host, td.Pattern) {
			return i
		}
	}
	return -1
}

// IsAvoided reports whether host contains an avoided domain substring
func (p DomainPolicy) IsAvoided(host string) bool {
	host = strings.ToLower(host)
	for _, avoid := range p.AvoidDomains {
		if avoid != "" && strings.Contains(host, avoid) {
			return true
		}
	}
	return false
}

// DelayFor returns the first matching trusted delay, or the default
func (p DomainPolicy) DelayFor(host string) DelayRange {
	if i := p.TrustRank(host); i >= 0 {
		return p.TrustedDomains[i].Delay
	}
	return p.DefaultDelay
}

// MatchesSkipPattern reports whether the URL path contains a skip pattern
func (p DomainPolicy) MatchesSkipPattern(rawURL string) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}
	path := strings.ToLower(u.Path)
	for _, pattern := range p.SkipPathPatterns {
		if pattern != "" && strings.Contains(path, pattern) {
			return pattern, true
		}
	}
	return "", false
}

// IsBeginnerDomain reports whether host is always treated as beginner material
func (p DomainPolicy) IsBeginnerDomain(host string) bool {
	host = strings.ToLower(host)
	for _, d := range p.BeginnerDomains {
		if d != "" && strings.Contains(host, d) {
			return true
		}
	}
	return false
}

// hostOf returns the lower-cased host name of rawURL
func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// registeredDomain returns the eTLD+1 of host, falling back to host itself
func registeredDomain(host string) string {
	if host == "" || net.ParseIP(host) != nil {
		return host
	}
	d, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return d
}

// sameRegisteredDomain reports whether two URLs share an eTLD+1
func sameRegisteredDomain(a, b string) bool {
	da, db := registeredDomain(hostOf(a)), registeredDomain(hostOf(b))
	return da != "" && da == db
}
