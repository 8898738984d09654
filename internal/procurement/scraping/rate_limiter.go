package scraping

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// PolitenessConfig configures per-domain request spacing
type PolitenessConfig struct {
	// Backoff added to a domain's delay after a 429 grows by this factor
	BackoffMultiplier float64       `json:"backoff_multiplier"`
	InitialBackoff    time.Duration `json:"initial_backoff"`
	MaxBackoffDelay   time.Duration `json:"max_backoff_delay"`
}

// DefaultPolitenessConfig returns default politeness configuration
func DefaultPolitenessConfig() PolitenessConfig {
	return PolitenessConfig{
		BackoffMultiplier: 2.0,
		InitialBackoff:    5 * time.Second,
		MaxBackoffDelay:   2 * time.Minute,
	}
}

// DomainStats is the politeness state for one registered domain
type DomainStats struct {
	Domain       string        `json:"domain"`
	LastRequest  time.Time     `json:"last_request"`
	RequestCount int64         `json:"request_count"`
	RateLimited  int64         `json:"rate_limited"`
	Backoff      time.Duration `json:"backoff"`
}

type domainSlot struct {
	stats DomainStats
	next  time.Time
}

// PolitenessLimiter spaces fetches to the same registered domain by a
// uniformly sampled delay. Different domains never wait on each other.
type PolitenessLimiter struct {
	config PolitenessConfig
	clock  clock.Clock
	sample func(DelayRange) time.Duration

	mu      sync.Mutex
	domains map[string]*domainSlot
}

// NewPolitenessLimiter creates a limiter. A nil clock uses the wall clock.
func NewPolitenessLimiter(config PolitenessConfig, clk clock.Clock) *PolitenessLimiter {
	if clk == nil {
		clk = clock.WallClock
	}
	return &PolitenessLimiter{
		config:  config,
		clock:   clk,
		sample:  SampleDelay,
		domains: make(map[string]*domainSlot),
	}
}

// SampleDelay draws a duration uniformly from [Min, Max]
func SampleDelay(r DelayRange) time.Duration {
	if r.Max <= r.Min {
		return r.Min
	}
	return r.Min + time.Duration(rand.Int63n(int64(r.Max-r.Min)+1))
}

// AtLeast widens the range so neither bound is below floor
func (r DelayRange) AtLeast(floor time.Duration) DelayRange {
	if r.Min < floor {
		r.Min = floor
	}
	if r.Max < r.Min {
		r.Max = r.Min
	}
	return r
}

// Reserve claims the next fetch slot for rawURL's domain and returns how
// long the caller must wait before fetching.
func (l *PolitenessLimiter) Reserve(rawURL string, delay DelayRange) time.Duration {
	domain := registeredDomain(hostOf(rawURL))
	d := l.sample(delay)
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	slot := l.slot(domain)
	target := now.Add(d + slot.stats.Backoff)
	if earliest := slot.next.Add(d); earliest.After(target) {
		target = earliest
	}
	slot.next = target
	slot.stats.LastRequest = target
	slot.stats.RequestCount++
	return target.Sub(now)
}

// Wait reserves a slot and sleeps until it comes up
func (l *PolitenessLimiter) Wait(ctx context.Context, rawURL string, delay DelayRange) error {
	wait := l.Reserve(rawURL, delay)
	log.Debug().
		Str("url", rawURL).
		Dur("wait_time", wait).
		Msg("Waiting for politeness delay")
	return sleepContext(ctx, l.clock, wait)
}

// RecordRateLimited grows the domain's backoff after a 429
func (l *PolitenessLimiter) RecordRateLimited(rawURL string) {
	domain := registeredDomain(hostOf(rawURL))
	l.mu.Lock()
	defer l.mu.Unlock()

	slot := l.slot(domain)
	slot.stats.RateLimited++
	next := time.Duration(float64(slot.stats.Backoff) * l.config.BackoffMultiplier)
	if next < l.config.InitialBackoff {
		next = l.config.InitialBackoff
	}
	if next > l.config.MaxBackoffDelay {
		next = l.config.MaxBackoffDelay
	}
	slot.stats.Backoff = next

	log.Debug().
		Str("domain", domain).
		Dur("backoff", next).
		Msg("Increased delay due to rate limiting")
}

// RecordSuccess halves the domain's backoff
func (l *PolitenessLimiter) RecordSuccess(rawURL string) {
	domain := registeredDomain(hostOf(rawURL))
	l.mu.Lock()
	defer l.mu.Unlock()

	slot := l.slot(domain)
	slot.stats.Backoff /= 2
	if slot.stats.Backoff < time.Second {
		slot.stats.Backoff = 0
	}
}

// GetDomainStats returns a copy of the domain's state
func (l *PolitenessLimiter) GetDomainStats(domain string) (DomainStats, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	slot, ok := l.domains[registeredDomain(domain)]
	if !ok {
		return DomainStats{}, false
	}
	return slot.stats, true
}

// CleanupInactive forgets domains idle for longer than maxIdleTime
func (l *PolitenessLimiter) CleanupInactive(maxIdleTime time.Duration) int {
	now := l.clock.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for domain, slot := range l.domains {
		if now.Sub(slot.next) > maxIdleTime {
			delete(l.domains, domain)
			removed++
		}
	}
	return removed
}

func (l *PolitenessLimiter) slot(domain string) *domainSlot {
	slot, ok := l.domains[domain]
	if !ok {
		slot = &domainSlot{stats: DomainStats{Domain: domain}}
		l.domains[domain] = slot
	}
	return slot
}

// SearchThrottle enforces a process-wide minimum spacing between search
// provider calls
type SearchThrottle struct {
	limiter *rate.Limiter
}

// NewSearchThrottle creates a throttle allowing one call per interval. A
// non-positive interval disables throttling.
func NewSearchThrottle(interval time.Duration) *SearchThrottle {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &SearchThrottle{limiter: rate.NewLimiter(limit, 1)}
}

// Wait blocks until the next search may be issued
func (t *SearchThrottle) Wait(ctx context.Context) error {
	return t.limiter.Wait(ctx)
}

// sleepContext sleeps on clk, returning early with ctx's error
func sleepContext(ctx context.Context, clk clock.Clock, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-clk.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
