package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/cloo-solutions/vectis/internal/domain"
)

const (
	defaultEmbedBatchSize   = 100
	defaultEmbedMaxRetries  = 4
	defaultInitialInterval  = 500 * time.Millisecond
	defaultMaxInterval      = 10 * time.Second
	embeddingProviderVendor = "openai"
)

// HashText returns the deterministic content-address key for chunk or query
// text.
func HashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// EmbedderConfig controls batching and retry for embedding generation.
type EmbedderConfig struct {
	BatchSize       int
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultEmbedderConfig provides sane defaults.
func DefaultEmbedderConfig() EmbedderConfig {
	return EmbedderConfig{
		BatchSize:       defaultEmbedBatchSize,
		MaxRetries:      defaultEmbedMaxRetries,
		InitialInterval: defaultInitialInterval,
		MaxInterval:     defaultMaxInterval,
	}
}

// Embedder turns texts into vectors through the content-addressed cache.
// Misses are batched to the provider, quota-checked up front and metered
// afterwards; hits are free. Concurrent misses on the same key may each call
// the provider, which is accepted because embeddings are deterministic for a
// given (text, model).
type Embedder struct {
	client EmbeddingClient
	cache  CacheRepo
	quota  QuotaGuard
	cfg    EmbedderConfig
}

// NewEmbedder creates a new Embedder instance
func NewEmbedder(client EmbeddingClient, cache CacheRepo, quota QuotaGuard) *Embedder {
	return NewEmbedderWithConfig(client, cache, quota, DefaultEmbedderConfig())
}

// NewEmbedderWithConfig creates a new Embedder with explicit configuration.
func NewEmbedderWithConfig(client EmbeddingClient, cache CacheRepo, quota QuotaGuard, cfg EmbedderConfig) *Embedder {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultEmbedBatchSize
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = defaultInitialInterval
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = defaultMaxInterval
	}
	return &Embedder{client: client, cache: cache, quota: quota, cfg: cfg}
}

// EmbedResult carries the vectors for every input text, in input order, plus
// what the run cost.
type EmbedResult struct {
	Vectors     [][]float32
	Hashes      []string
	CacheMisses int
}

// EmbedTexts embeds every text, serving repeats and previously seen content
// from the cache. Exactly one quota unit is reserved and recorded per unique
// cache miss; an insufficient balance aborts before any provider call.
func (e *Embedder) EmbedTexts(ctx context.Context, orgID, model string, texts []string) (*EmbedResult, error) {
	if len(texts) == 0 {
		return &EmbedResult{}, nil
	}

	hashes := make([]string, len(texts))
	textByHash := make(map[string]string, len(texts))
	uniqueHashes := make([]string, 0, len(texts))
	for i, text := range texts {
		h := HashText(text)
		hashes[i] = h
		if _, seen := textByHash[h]; !seen {
			textByHash[h] = text
			uniqueHashes = append(uniqueHashes, h)
		}
	}

	vectors, err := e.cache.LookupMany(ctx, uniqueHashes, model)
	if err != nil {
		return nil, fmt.Errorf("failed to look up embedding cache: %w", err)
	}

	var missHashes []string
	for _, h := range uniqueHashes {
		if _, ok := vectors[h]; !ok {
			missHashes = append(missHashes, h)
		}
	}

	if len(missHashes) > 0 {
		if err := e.quota.CheckQuota(ctx, orgID, int64(len(missHashes))); err != nil {
			return nil, err
		}

		for start := 0; start < len(missHashes); start += e.cfg.BatchSize {
			end := start + e.cfg.BatchSize
			if end > len(missHashes) {
				end = len(missHashes)
			}
			batch := missHashes[start:end]
			batchTexts := make([]string, len(batch))
			for i, h := range batch {
				batchTexts[i] = textByHash[h]
			}

			generated, err := e.embedWithRetry(ctx, batchTexts, model)
			if err != nil {
				return nil, err
			}
			for i, h := range batch {
				vectors[h] = generated[i]
				if storeErr := e.cache.Store(ctx, h, model, generated[i]); storeErr != nil {
					return nil, fmt.Errorf("failed to store embedding in cache: %w", storeErr)
				}
			}
		}

		if err := e.quota.RecordUsage(ctx, orgID, int64(len(missHashes)), embeddingProviderVendor, model); err != nil {
			return nil, fmt.Errorf("failed to record embedding usage: %w", err)
		}
	}

	result := &EmbedResult{
		Vectors:     make([][]float32, len(texts)),
		Hashes:      hashes,
		CacheMisses: len(missHashes),
	}
	for i, h := range hashes {
		result.Vectors[i] = vectors[h]
	}
	return result, nil
}

// EmbedQuery embeds a single query text. A cache hit skips the quota charge
// entirely.
func (e *Embedder) EmbedQuery(ctx context.Context, orgID, model, text string) ([]float32, error) {
	hash := HashText(text)

	vector, ok, err := e.cache.Lookup(ctx, hash, model)
	if err != nil {
		return nil, fmt.Errorf("failed to look up embedding cache: %w", err)
	}
	if ok {
		return vector, nil
	}

	if err := e.quota.CheckQuota(ctx, orgID, 1); err != nil {
		return nil, err
	}

	generated, err := e.embedWithRetry(ctx, []string{text}, model)
	if err != nil {
		return nil, err
	}

	if err := e.cache.Store(ctx, hash, model, generated[0]); err != nil {
		return nil, fmt.Errorf("failed to store embedding in cache: %w", err)
	}
	if err := e.quota.RecordUsage(ctx, orgID, 1, embeddingProviderVendor, model); err != nil {
		return nil, fmt.Errorf("failed to record embedding usage: %w", err)
	}
	return generated[0], nil
}

// embedWithRetry retries transient provider failures with jittered
// exponential backoff and a bounded attempt count. Permanent failures
// propagate immediately.
func (e *Embedder) embedWithRetry(ctx context.Context, texts []string, model string) ([][]float32, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.cfg.InitialInterval
	bo.MaxInterval = e.cfg.MaxInterval

	var vectors [][]float32
	operation := func() error {
		generated, err := e.client.EmbedBatch(ctx, texts, model)
		if err != nil {
			if domain.IsRetryableProviderError(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		vectors = generated
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(bo, e.cfg.MaxRetries), ctx)); err != nil {
		return nil, err
	}
	return vectors, nil
}
