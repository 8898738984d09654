package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Caia-Tech/caia-coursecrawl/pkg/content"
	"github.com/Caia-Tech/caia-coursecrawl/pkg/logging"
)

// KnowledgeBaseFile is the default knowledge base file name
const KnowledgeBaseFile = "knowledge_base.json"

const fileBackend = "json_file"

// FileKnowledgeStore keeps the knowledge base in a single JSON array file
type FileKnowledgeStore struct {
	path    string
	mu      sync.Mutex
	metrics MetricsCollector
}

// NewFileKnowledgeStore creates a store rooted at dataDir
func NewFileKnowledgeStore(dataDir string, metrics MetricsCollector) *FileKnowledgeStore {
	if metrics == nil {
		metrics = NewSimpleMetricsCollector()
	}
	return &FileKnowledgeStore{
		path:    filepath.Join(dataDir, KnowledgeBaseFile),
		metrics: metrics,
	}
}

// Path returns the backing file
func (s *FileKnowledgeStore) Path() string {
	return s.path
}

// StoreKnowledge appends records after the ones already on disk
func (s *FileKnowledgeStore) StoreKnowledge(ctx context.Context, records []content.Record) (err error) {
	start := time.Now()
	defer func() { s.record("store", start, len(records), err) }()

	if err := ctx.Err(); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.load()
	if err != nil {
		return err
	}

	merged := make([]content.Record, 0, len(existing)+len(records))
	merged = append(merged, existing...)
	for _, r := range records {
		if r.CodeExamples == nil {
			r.CodeExamples = []string{}
		}
		merged = append(merged, r)
	}

	if err := WriteJSONAtomic(s.path, merged); err != nil {
		return fmt.Errorf("failed to save knowledge base: %w", err)
	}

	logger := logging.GetStorageLogger("store", fileBackend)
	logger.Info().
		Int("added", len(records)).
		Int("total", len(merged)).
		Str("path", s.path).
		Msg("Knowledge base updated")
	return nil
}

// LoadKnowledge returns every stored record
func (s *FileKnowledgeStore) LoadKnowledge(ctx context.Context) (records []content.Record, err error) {
	start := time.Now()
	defer func() { s.record("load", start, len(records), err) }()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// Query filters stored records
func (s *FileKnowledgeStore) Query(ctx context.Context, topic string, level content.Level) ([]content.Record, error) {
	all, err := s.LoadKnowledge(ctx)
	if err != nil {
		return nil, err
	}

	topic = strings.ToLower(strings.TrimSpace(topic))
	matches := make([]content.Record, 0)
	for _, r := range all {
		if topic != "" && !strings.Contains(strings.ToLower(r.Topic), topic) {
			continue
		}
		if level != "" && level != content.LevelAny && r.Level != string(level) {
			continue
		}
		matches = append(matches, r)
	}
	return matches, nil
}

// Health verifies the knowledge base is readable
func (s *FileKnowledgeStore) Health(ctx context.Context) error {
	_, err := s.LoadKnowledge(ctx)
	return err
}

func (s *FileKnowledgeStore) load() ([]content.Record, error) {
	var records []content.Record
	if _, err := ReadJSON(s.path, &records); err != nil {
		return nil, err
	}
	if records == nil {
		records = []content.Record{}
	}
	return records, nil
}

func (s *FileKnowledgeStore) record(op string, start time.Time, n int, err error) {
	s.metrics.RecordMetric(StorageMetrics{
		OperationType: op,
		Duration:      time.Since(start),
		Records:       n,
		Success:       err == nil,
		Backend:       fileBackend,
		Error:         err,
	})
}
