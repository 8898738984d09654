package events

import (
	"context"
	"sync"
)

// Recorder keeps the most recent events for the activity feed
type Recorder struct {
	mu     sync.Mutex
	events []CrawlEvent
	next   int
	full   bool
}

// NewRecorder creates a recorder holding up to capacity events
func NewRecorder(capacity int) *Recorder {
	if capacity < 1 {
		capacity = 1
	}
	return &Recorder{events: make([]CrawlEvent, capacity)}
}

// Handle is a Handler that records event
func (r *Recorder) Handle(ctx context.Context, event *CrawlEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events[r.next] = *event
	r.next = (r.next + 1) % len(r.events)
	if r.next == 0 {
		r.full = true
	}
	return nil
}

// Recent returns up to n events, newest first. n <= 0 returns all.
func (r *Recorder) Recent(n int) []CrawlEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	size := r.next
	if r.full {
		size = len(r.events)
	}
	if n <= 0 || n > size {
		n = size
	}

	out := make([]CrawlEvent, 0, n)
	for i := 1; i <= n; i++ {
		idx := (r.next - i + len(r.events)) % len(r.events)
		out = append(out, r.events[idx])
	}
	return out
}
