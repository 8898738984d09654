package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var (
	// ErrBufferFull is returned when Publish would block
	ErrBufferFull = errors.New("event buffer is full")
	// ErrBusClosed is returned by Publish after Close
	ErrBusClosed = errors.New("event bus is shutting down")
)

// DefaultHandlerTimeout bounds a single handler call
const DefaultHandlerTimeout = 5 * time.Second

// Handler is a function that handles crawl events
type Handler func(ctx context.Context, event *CrawlEvent) error

// Subscription represents an event subscription. An empty EventTypes list
// matches every event.
type Subscription struct {
	ID         string
	EventTypes []EventType
	handler    Handler
}

func (s *Subscription) matches(event *CrawlEvent) bool {
	if len(s.EventTypes) == 0 {
		return true
	}
	for _, eventType := range s.EventTypes {
		if event.Type == eventType {
			return true
		}
	}
	return false
}

// Bus fans crawl events out to subscribers from a fixed set of workers.
// Publish never blocks the crawl; events are dropped when the buffer is full.
type Bus struct {
	mu             sync.RWMutex
	subscriptions  map[string]*Subscription
	eventBuffer    chan *CrawlEvent
	handlerTimeout time.Duration
	ctx            context.Context
	cancel         context.CancelFunc
	wg             sync.WaitGroup
	closeOnce      sync.Once

	stats   BusStats
	statsMu sync.Mutex
}

// BusStats tracks event bus statistics
type BusStats struct {
	EventsPublished   int64 `json:"events_published"`
	EventsDelivered   int64 `json:"events_delivered"`
	EventsFailed      int64 `json:"events_failed"`
	EventsDropped     int64 `json:"events_dropped"`
	ActiveSubscribers int64 `json:"active_subscribers"`
	EventsInBuffer    int64 `json:"events_in_buffer"`
}

// NewBus creates a new event bus and starts its workers
func NewBus(bufferSize, workers int) *Bus {
	if bufferSize < 1 {
		bufferSize = 1
	}
	if workers < 1 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())

	b := &Bus{
		subscriptions:  make(map[string]*Subscription),
		eventBuffer:    make(chan *CrawlEvent, bufferSize),
		handlerTimeout: DefaultHandlerTimeout,
		ctx:            ctx,
		cancel:         cancel,
	}

	for i := 0; i < workers; i++ {
		b.wg.Add(1)
		go b.worker(i)
	}

	log.Debug().
		Int("buffer_size", bufferSize).
		Int("workers", workers).
		Msg("Event bus started")

	return b
}

// Publish queues an event for delivery
func (b *Bus) Publish(event *CrawlEvent) error {
	if b.ctx.Err() != nil {
		return ErrBusClosed
	}
	select {
	case b.eventBuffer <- event:
		b.statsMu.Lock()
		b.stats.EventsPublished++
		b.statsMu.Unlock()
		return nil
	default:
		b.statsMu.Lock()
		b.stats.EventsDropped++
		b.statsMu.Unlock()
		log.Warn().
			Str("event_id", event.ID).
			Str("event_type", string(event.Type)).
			Msg("Event dropped due to full buffer")
		return ErrBufferFull
	}
}

// Subscribe registers handler for the given event types
func (b *Bus) Subscribe(eventTypes []EventType, handler Handler) *Subscription {
	sub := &Subscription{
		ID:         "sub_" + uuid.NewString(),
		EventTypes: eventTypes,
		handler:    handler,
	}

	b.mu.Lock()
	b.subscriptions[sub.ID] = sub
	b.mu.Unlock()

	b.statsMu.Lock()
	b.stats.ActiveSubscribers++
	b.statsMu.Unlock()

	log.Debug().
		Str("subscription_id", sub.ID).
		Interface("event_types", eventTypes).
		Msg("New subscription created")

	return sub
}

// Unsubscribe removes a subscription
func (b *Bus) Unsubscribe(subscriptionID string) error {
	b.mu.Lock()
	_, exists := b.subscriptions[subscriptionID]
	delete(b.subscriptions, subscriptionID)
	b.mu.Unlock()

	if !exists {
		return fmt.Errorf("subscription not found: %s", subscriptionID)
	}

	b.statsMu.Lock()
	b.stats.ActiveSubscribers--
	b.statsMu.Unlock()
	return nil
}

// Close delivers what is already buffered, then stops the workers
func (b *Bus) Close() {
	b.closeOnce.Do(func() {
		b.cancel()
		b.wg.Wait()
		log.Debug().Msg("Event bus shut down")
	})
}

// GetStats returns current event bus statistics
func (b *Bus) GetStats() BusStats {
	b.statsMu.Lock()
	defer b.statsMu.Unlock()

	stats := b.stats
	stats.EventsInBuffer = int64(len(b.eventBuffer))
	return stats
}

func (b *Bus) worker(workerID int) {
	defer b.wg.Done()

	for {
		select {
		case event := <-b.eventBuffer:
			b.deliver(event)
		case <-b.ctx.Done():
			for {
				select {
				case event := <-b.eventBuffer:
					b.deliver(event)
				default:
					log.Debug().Int("worker_id", workerID).Msg("Event bus worker stopping")
					return
				}
			}
		}
	}
}

// deliver calls every matching handler in turn
func (b *Bus) deliver(event *CrawlEvent) {
	b.mu.RLock()
	matching := make([]*Subscription, 0, len(b.subscriptions))
	for _, sub := range b.subscriptions {
		if sub.matches(event) {
			matching = append(matching, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range matching {
		ctx, cancel := context.WithTimeout(context.Background(), b.handlerTimeout)
		err := sub.handler(ctx, event)
		cancel()

		b.statsMu.Lock()
		if err != nil {
			b.stats.EventsFailed++
		} else {
			b.stats.EventsDelivered++
		}
		b.statsMu.Unlock()

		if err != nil {
			log.Error().
				Err(err).
				Str("subscription_id", sub.ID).
				Str("event_id", event.ID).
				Msg("Event handler failed")
		}
	}
}
