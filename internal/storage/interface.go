package storage

import (
	"context"
	"time"

	"github.com/Caia-Tech/caia-coursecrawl/pkg/content"
)

// KnowledgeStore persists crawl results for course generation
type KnowledgeStore interface {
	// StoreKnowledge appends records to the existing knowledge base
	StoreKnowledge(ctx context.Context, records []content.Record) error
	LoadKnowledge(ctx context.Context) ([]content.Record, error)
	// Query filters by topic substring and level. LevelAny matches every level.
	Query(ctx context.Context, topic string, level content.Level) ([]content.Record, error)
	Health(ctx context.Context) error
}

// StorageMetrics provides telemetry for storage operations
type StorageMetrics struct {
	OperationType string
	Duration      time.Duration
	Records       int
	Success       bool
	Backend       string
	Error         error
}

// MetricsCollector receives storage operation metrics
type MetricsCollector interface {
	RecordMetric(metric StorageMetrics)
}
