package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/reunite/internal/adjudicator"
	"github.com/hyperjump/reunite/internal/agent"
	"github.com/hyperjump/reunite/internal/catalog"
	"github.com/hyperjump/reunite/internal/config"
	"github.com/hyperjump/reunite/internal/embedding"
	"github.com/hyperjump/reunite/internal/fetch"
	"github.com/hyperjump/reunite/internal/gate"
	"github.com/hyperjump/reunite/internal/keyword"
	"github.com/hyperjump/reunite/internal/llm"
	"github.com/hyperjump/reunite/internal/llm/offline"
	"github.com/hyperjump/reunite/internal/models"
	"github.com/hyperjump/reunite/internal/pipeline"
	"github.com/hyperjump/reunite/internal/prompts"
	"github.com/hyperjump/reunite/internal/ranking"
	"github.com/hyperjump/reunite/internal/server"
	"github.com/hyperjump/reunite/internal/storage"
)

// Components holds initialized services.
type Components struct {
	Catalog  *catalog.Catalog
	Embedder embedding.Embedder
	Cache    *embedding.Cache
	Fetcher  *fetch.Fetcher
	Prompts  *prompts.Set
	Pipeline *pipeline.Orchestrator
	Status   *server.StatusReporter
}

func (c *Components) Close() {
	if c.Catalog != nil {
		_ = c.Catalog.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
}

// initializeComponents opens the store and keyword index and wires the matching pipeline.
// The CLIP encoder falls back to the mock embedder when ONNX cannot be loaded, but only
// with the offline oracle.
func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error) {
	c := &Components{}
	ok := false
	defer func() {
		if !ok {
			c.Close()
		}
	}()

	store, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	keywordIndex, err := keyword.NewBleveIndex(cfg.Storage.KeywordIndexPath)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize keyword index: %w", err)
	}
	c.Catalog = catalog.New(store, keywordIndex, logger)
	if err := syncKeywordIndex(ctx, c.Catalog, logger); err != nil {
		logger.Warn("keyword index rebuild failed", zap.Error(err))
	}

	c.Embedder, err = newEmbedder(cfg.Embedding, cfg.Oracle.Provider, logger)
	if err != nil {
		return nil, err
	}
	c.Cache, err = embedding.NewCache(cfg.Embedding.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedding cache: %w", err)
	}

	fetchOpts := []fetch.Option{fetch.WithLogger(logger)}
	if objCfg := cfg.Fetch.ObjectStore; objCfg.Endpoint != "" {
		objects, err := newObjectStore(objCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize object store: %w", err)
		}
		fetchOpts = append(fetchOpts, fetch.WithObjectStore(objects))
	}
	c.Fetcher = fetch.New(time.Duration(cfg.Fetch.TimeoutSeconds)*time.Second, fetchOpts...)

	c.Prompts = prompts.New()
	if cfg.Prompts.Dir != "" {
		if err := c.Prompts.LoadDir(cfg.Prompts.Dir); err != nil {
			return nil, fmt.Errorf("failed to load prompts: %w", err)
		}
	}

	oracle, err := newOracle(ctx, cfg.Oracle, logger)
	if err != nil {
		return nil, err
	}

	ranker := ranking.NewRanker(c.Embedder, c.Fetcher,
		ranking.WithCache(c.Cache),
		ranking.WithLogger(logger))
	g := gate.New(oracle, c.Catalog, c.Prompts,
		gate.WithModel(cfg.Oracle.GateModel),
		gate.WithLogger(logger))
	tools := agent.NewLocalTools(oracle, c.Prompts, cfg.Oracle.VisionModel, os.TempDir())
	extractor := agent.New(oracle, tools, c.Prompts,
		agent.WithModel(cfg.Oracle.AgentModel),
		agent.WithMaxTurns(cfg.Agent.MaxTurns),
		agent.WithTargetWidth(cfg.Agent.TargetWidth),
		agent.WithLogger(logger))
	adj := adjudicator.New(oracle, c.Prompts,
		adjudicator.WithModel(cfg.Oracle.AdjudicatorModel),
		adjudicator.WithLogger(logger))
	c.Pipeline = pipeline.New(c.Catalog, ranker, c.Fetcher, g, extractor, adj, pipeline.WithLogger(logger))
	c.Status = server.NewStatusReporter(c.Catalog, c.Cache, cfg)

	ok = true
	return c, nil
}

// newEmbedder loads the ONNX CLIP encoder. Mock scores carry no visual signal, so the
// fallback is refused when a real oracle would adjudicate on them.
func newEmbedder(cfg config.EmbeddingConfig, provider string, logger *zap.Logger) (embedding.Embedder, error) {
	onnxCfg := embedding.ONNXConfig{
		LibraryPath:    cfg.ONNXLibraryPath,
		TextModelPath:  cfg.TextModelPath,
		ImageModelPath: cfg.ImageModelPath,
		Dimensions:     cfg.Dimensions,
		ContextLength:  cfg.ContextLength,
		ImageSize:      cfg.ImageSize,
	}
	if cfg.TokenizerPath != "" {
		tk, err := embedding.NewBPETokenizer(cfg.TokenizerPath)
		if err != nil {
			logger.Warn("tokenizer load failed, using simple tokenizer", zap.String("path", cfg.TokenizerPath), zap.Error(err))
		} else {
			onnxCfg.Tokenizer = tk
		}
	}
	e, err := embedding.NewONNXEmbedder(onnxCfg)
	if err != nil {
		if provider != config.ProviderOffline {
			return nil, fmt.Errorf("failed to initialize CLIP embedder (required by oracle provider %q): %w", provider, err)
		}
		logger.Error("ONNX embedder unavailable, falling back to mock embeddings; match scores are not meaningful", zap.Error(err))
		return embedding.NewMockEmbedder(cfg.Dimensions), nil
	}
	logger.Info("CLIP embedder initialized", zap.Int("dimensions", cfg.Dimensions))
	return e, nil
}

func newObjectStore(cfg config.ObjectStoreConfig) (*fetch.MinioObjects, error) {
	return fetch.NewMinioObjects(cfg.Endpoint, os.Getenv(cfg.AccessKeyEnv), os.Getenv(cfg.SecretKeyEnv), cfg.UseSSL)
}

func newOracle(ctx context.Context, cfg config.OracleConfig, logger *zap.Logger) (llm.Oracle, error) {
	if cfg.Provider == config.ProviderOffline {
		logger.Info("using offline oracle")
		return offline.New(logger), nil
	}
	g, err := llm.NewGemini(ctx, cfg.APIKey(), cfg.RequestsPerSecond,
		llm.WithDefaultModel(cfg.GateModel),
		llm.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize oracle (set %s or use provider %q): %w", cfg.APIKeyEnv, config.ProviderOffline, err)
	}
	return g, nil
}

// syncKeywordIndex rebuilds an empty keyword index when the store already holds items,
// e.g. after the index directory was removed or the store was filled by another writer.
func syncKeywordIndex(ctx context.Context, c *catalog.Catalog, logger *zap.Logger) error {
	indexed, err := c.IndexedCount()
	if err != nil || indexed > 0 {
		return err
	}
	var stored int64
	for _, collection := range models.Collections {
		n, err := c.Count(ctx, collection)
		if err != nil {
			return err
		}
		stored += n
	}
	if stored == 0 {
		return nil
	}
	logger.Info("keyword index empty, rebuilding", zap.Int64("items", stored))
	_, err = c.Rebuild(ctx)
	return err
}
