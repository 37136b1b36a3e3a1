package server

import (
	"context"
	"fmt"

	"github.com/hyperjump/reunite/internal/config"
	"github.com/hyperjump/reunite/internal/models"
	"github.com/hyperjump/reunite/internal/storage"
)

// Counter counts items and indexed documents.
type Counter interface {
	Count(ctx context.Context, collection models.Collection) (int64, error)
	IndexedCount() (uint64, error)
}

// Sizer reports the number of cached entries.
type Sizer interface {
	Len() int
}

// StatusConfig is the configuration echoed by the status endpoint.
type StatusConfig struct {
	StorageBackend      string `json:"storage_backend"`
	OracleProvider      string `json:"oracle_provider"`
	EmbeddingDimensions int    `json:"embedding_dimensions,omitempty"`
	DatabasePath        string `json:"database_path,omitempty"`
	KeywordIndexPath    string `json:"keyword_index_path,omitempty"`
	PromptsDir          string `json:"prompts_dir,omitempty"`
}

// Status is the shape of GET /api/v1/status.
type Status struct {
	LostItems          int64         `json:"lost_items"`
	FoundItems         int64         `json:"found_items"`
	KeywordIndexSize   uint64        `json:"keyword_index_size"`
	EmbeddingCacheSize int           `json:"embedding_cache_size"`
	DiskUsageBytes     *int64        `json:"disk_usage_bytes,omitempty"`
	Config             *StatusConfig `json:"config,omitempty"`
}

// StatusReporter gathers Status from the running components.
type StatusReporter struct {
	counter Counter
	cache   Sizer
	cfg     *config.Config
}

// NewStatusReporter returns a reporter. cache and cfg may be nil.
func NewStatusReporter(counter Counter, cache Sizer, cfg *config.Config) *StatusReporter {
	return &StatusReporter{counter: counter, cache: cache, cfg: cfg}
}

// Collect builds a Status snapshot.
func (r *StatusReporter) Collect(ctx context.Context) (*Status, error) {
	lost, err := r.counter.Count(ctx, models.CollectionLost)
	if err != nil {
		return nil, fmt.Errorf("failed to count lost items: %w", err)
	}
	found, err := r.counter.Count(ctx, models.CollectionFound)
	if err != nil {
		return nil, fmt.Errorf("failed to count found items: %w", err)
	}
	indexed, err := r.counter.IndexedCount()
	if err != nil {
		return nil, fmt.Errorf("failed to count indexed items: %w", err)
	}
	st := &Status{LostItems: lost, FoundItems: found, KeywordIndexSize: indexed}
	if r.cache != nil {
		st.EmbeddingCacheSize = r.cache.Len()
	}
	if r.cfg != nil {
		st.Config = &StatusConfig{
			StorageBackend:      r.cfg.Storage.Backend,
			OracleProvider:      r.cfg.Oracle.Provider,
			EmbeddingDimensions: r.cfg.Embedding.Dimensions,
			KeywordIndexPath:    r.cfg.Storage.KeywordIndexPath,
			PromptsDir:          r.cfg.Prompts.Dir,
		}
		paths := []string{r.cfg.Storage.KeywordIndexPath}
		if r.cfg.Storage.Backend == config.BackendSQLite {
			st.Config.DatabasePath = r.cfg.Storage.DatabasePath
			paths = append(paths, r.cfg.Storage.DatabasePath)
		}
		if n, err := storage.DiskUsageBytes(paths...); err == nil {
			st.DiskUsageBytes = &n
		}
	}
	return st, nil
}
