package storage

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultMetricsRetention bounds how many operations a collector keeps
const DefaultMetricsRetention = 1000

// SimpleMetricsCollector keeps the most recent storage operations in memory.
// Older entries are discarded once the retention limit is reached.
type SimpleMetricsCollector struct {
	mutex     sync.RWMutex
	metrics   []StorageMetrics
	retention int
	dropped   int
}

// NewSimpleMetricsCollector creates a collector with DefaultMetricsRetention
func NewSimpleMetricsCollector() *SimpleMetricsCollector {
	return NewSimpleMetricsCollectorWithRetention(DefaultMetricsRetention)
}

// NewSimpleMetricsCollectorWithRetention creates a collector keeping at most
// retention operations
func NewSimpleMetricsCollectorWithRetention(retention int) *SimpleMetricsCollector {
	if retention < 1 {
		retention = 1
	}
	return &SimpleMetricsCollector{
		metrics:   make([]StorageMetrics, 0, min(retention, 64)),
		retention: retention,
	}
}

// RecordMetric records a knowledge base operation
func (s *SimpleMetricsCollector) RecordMetric(metric StorageMetrics) {
	s.mutex.Lock()
	if len(s.metrics) == s.retention {
		copy(s.metrics, s.metrics[1:])
		s.metrics = s.metrics[:len(s.metrics)-1]
		s.dropped++
	}
	s.metrics = append(s.metrics, metric)
	s.mutex.Unlock()

	event := log.Debug()
	if metric.Error != nil {
		event = log.Warn().Err(metric.Error)
	}
	event.
		Str("operation", metric.OperationType).
		Str("backend", metric.Backend).
		Dur("duration", metric.Duration).
		Int("records", metric.Records).
		Msg("Knowledge base operation")
}

// GetMetrics returns the retained operations, oldest first
func (s *SimpleMetricsCollector) GetMetrics() []StorageMetrics {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	result := make([]StorageMetrics, len(s.metrics))
	copy(result, s.metrics)
	return result
}

// Dropped returns how many operations fell out of the retention window
func (s *SimpleMetricsCollector) Dropped() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.dropped
}

// GetMetricsSummary groups the retained operations by type
func (s *SimpleMetricsCollector) GetMetricsSummary() map[string]*OperationStats {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	byOperation := make(map[string]*OperationStats)
	for _, metric := range s.metrics {
		stats, ok := byOperation[metric.OperationType]
		if !ok {
			stats = &OperationStats{MinDuration: metric.Duration}
			byOperation[metric.OperationType] = stats
		}
		stats.add(metric)
	}
	return byOperation
}

// ClearMetrics drops every retained operation
func (s *SimpleMetricsCollector) ClearMetrics() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.metrics = s.metrics[:0]
	s.dropped = 0
}

// OperationStats summarises one operation type
type OperationStats struct {
	Count         int           `json:"count"`
	SuccessCount  int           `json:"success_count"`
	FailureCount  int           `json:"failure_count"`
	Records       int           `json:"records"`
	TotalDuration time.Duration `json:"total_duration"`
	MinDuration   time.Duration `json:"min_duration"`
	MaxDuration   time.Duration `json:"max_duration"`
	AvgDuration   time.Duration `json:"avg_duration"`
	LastError     string        `json:"last_error,omitempty"`
}

func (o *OperationStats) add(metric StorageMetrics) {
	o.Count++
	o.Records += metric.Records
	o.TotalDuration += metric.Duration
	if metric.Success {
		o.SuccessCount++
	} else {
		o.FailureCount++
		if metric.Error != nil {
			o.LastError = metric.Error.Error()
		}
	}
	o.MinDuration = min(o.MinDuration, metric.Duration)
	o.MaxDuration = max(o.MaxDuration, metric.Duration)
	o.AvgDuration = o.TotalDuration / time.Duration(o.Count)
}

// GetSuccessRate returns the success rate as a percentage
func (o *OperationStats) GetSuccessRate() float64 {
	if o.Count == 0 {
		return 0.0
	}
	return float64(o.SuccessCount) / float64(o.Count) * 100.0
}
