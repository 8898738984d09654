package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/Caia-Tech/caia-coursecrawl/internal/procurement"
)

// EventType represents the type of crawl event
type EventType string

const (
	EventPageScraped   EventType = "page.scraped"
	EventPageSkipped   EventType = "page.skipped"
	EventPageBlocked   EventType = "page.blocked"
	EventPageFailed    EventType = "page.failed"
	EventRecordsStored EventType = "records.stored"
	EventStoreFailed   EventType = "store.failed"
)

// PageEvents are the per-URL event types
var PageEvents = []EventType{EventPageScraped, EventPageSkipped, EventPageBlocked, EventPageFailed}

// CrawlEvent represents something that happened to a candidate URL or to
// the knowledge base
type CrawlEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	URL       string    `json:"url,omitempty"`
	Title     string    `json:"title,omitempty"`
	Source    string    `json:"source,omitempty"`
	Topic     string    `json:"topic,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Records   int       `json:"records,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// NewCrawlEvent creates a new event stamped with the current time
func NewCrawlEvent(eventType EventType) *CrawlEvent {
	return &CrawlEvent{
		ID:        GenerateEventID(),
		Type:      eventType,
		Timestamp: time.Now(),
	}
}

// OutcomeEvent describes a settled or skipped candidate
func OutcomeEvent(outcome procurement.Outcome) *CrawlEvent {
	var event *CrawlEvent
	switch outcome.Kind {
	case procurement.OutcomeSuccess:
		event = NewCrawlEvent(EventPageScraped)
		event.Title = outcome.Content.Title
		event.Source = outcome.Content.Source
		event.Topic = outcome.Content.Topic
	case procurement.OutcomeSkipped:
		event = NewCrawlEvent(EventPageSkipped)
	case procurement.OutcomeBlocked:
		event = NewCrawlEvent(EventPageBlocked)
	default:
		event = NewCrawlEvent(EventPageFailed)
		if outcome.Err != nil {
			event.Error = outcome.Err.Error()
		}
	}
	event.URL = outcome.URL
	event.Reason = outcome.Reason
	return event
}

// StoreEvent describes a knowledge base write of n records
func StoreEvent(n int, err error) *CrawlEvent {
	if err != nil {
		event := NewCrawlEvent(EventStoreFailed)
		event.Records = n
		event.Error = err.Error()
		return event
	}
	event := NewCrawlEvent(EventRecordsStored)
	event.Records = n
	return event
}

// GenerateEventID generates a unique event ID
func GenerateEventID() string {
	return "evt_" + uuid.NewString()
}
