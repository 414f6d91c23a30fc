package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/cloo-solutions/vectis/internal/domain"
	"github.com/cloo-solutions/vectis/internal/telemetry"
)

const (
	defaultTopK          = 10
	maxTopK              = 100
	defaultSearchElapsed = 30 * time.Second
)

// SearchFilters is the allow-listed filter set accepted by search. Anything
// else a caller sends is dropped before it can reach the vector store.
type SearchFilters struct {
	DocumentIDs    []string
	TagIDs         []string
	NameContains   string
	UploadedAfter  *time.Time
	UploadedBefore *time.Time
}

// ParseSearchFilters builds SearchFilters from a raw caller-supplied map,
// keeping only allow-listed keys. Unknown keys and malformed values are
// silently discarded, never forwarded.
func ParseSearchFilters(raw map[string]interface{}) SearchFilters {
	var filters SearchFilters
	for key, value := range raw {
		switch key {
		case "document_ids":
			filters.DocumentIDs = toStringSlice(value)
		case "tag_ids":
			filters.TagIDs = toStringSlice(value)
		case "name_contains":
			if s, ok := value.(string); ok {
				filters.NameContains = s
			}
		case "uploaded_after":
			if t := toTime(value); t != nil {
				filters.UploadedAfter = t
			}
		case "uploaded_before":
			if t := toTime(value); t != nil {
				filters.UploadedBefore = t
			}
		}
	}
	return filters
}

func toStringSlice(value interface{}) []string {
	switch v := value.(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func toTime(value interface{}) *time.Time {
	s, ok := value.(string)
	if !ok {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	return &t
}

// SearchInput represents one similarity search request.
type SearchInput struct {
	KBID    string
	Query   string
	TopK    int
	Skip    int
	Filters SearchFilters
	// CoalesceNeighbors overrides the knowledge base setting when non-nil.
	CoalesceNeighbors *int
}

// SearchResultChunk is one chunk in the ranked output. Coalesced neighbors
// carry a nil score and Matched=false.
type SearchResultChunk struct {
	DocumentID   string
	DocumentName string
	ChunkIndex   int
	Content      string
	Score        *float64
	Matched      bool
}

// SearchOutput is the ranked result set. TotalCount is best-effort; the
// vector store does not guarantee exact counts.
type SearchOutput struct {
	Results    []*SearchResultChunk
	TotalCount int64
}

// SearchConfig bounds the index-not-ready retry loop.
type SearchConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsed      time.Duration
}

// DefaultSearchConfig provides sane retry defaults.
func DefaultSearchConfig() SearchConfig {
	return SearchConfig{
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		MaxElapsed:      defaultSearchElapsed,
	}
}

// SearchEngine embeds queries through the shared cache and runs similarity
// search against a knowledge base's vector collection. The collection's index
// may still be building after KB creation; that error class is retried with
// bounded backoff and surfaced as retryable-unavailable once the wall-clock
// budget runs out.
type SearchEngine struct {
	kbRepo   KnowledgeBaseRepo
	vectors  VectorRepo
	embedder *Embedder
	cfg      SearchConfig
}

// NewSearchEngine creates a new SearchEngine instance
func NewSearchEngine(kbRepo KnowledgeBaseRepo, vectors VectorRepo, embedder *Embedder) *SearchEngine {
	return NewSearchEngineWithConfig(kbRepo, vectors, embedder, DefaultSearchConfig())
}

// NewSearchEngineWithConfig creates a SearchEngine with explicit retry
// configuration.
func NewSearchEngineWithConfig(kbRepo KnowledgeBaseRepo, vectors VectorRepo, embedder *Embedder, cfg SearchConfig) *SearchEngine {
	defaults := DefaultSearchConfig()
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = defaults.InitialInterval
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = defaults.MaxInterval
	}
	if cfg.MaxElapsed <= 0 {
		cfg.MaxElapsed = defaults.MaxElapsed
	}
	return &SearchEngine{kbRepo: kbRepo, vectors: vectors, embedder: embedder, cfg: cfg}
}

// Search runs a similarity search. The query embedding goes through the same
// cache and quota guard as indexing, so a repeated query costs nothing.
func (s *SearchEngine) Search(ctx context.Context, input SearchInput) (*SearchOutput, error) {
	query := strings.TrimSpace(input.Query)
	if query == "" {
		return &SearchOutput{Results: []*SearchResultChunk{}}, nil
	}

	ctx, span := telemetry.StartSpan(ctx, "SearchEngine.Search", telemetry.SpanAttributes{
		KBID: input.KBID,
	})
	defer span.End()

	topK := input.TopK
	if topK <= 0 {
		topK = defaultTopK
	}
	if topK > maxTopK {
		topK = maxTopK
	}
	skip := input.Skip
	if skip < 0 {
		skip = 0
	}

	kb, err := s.kbRepo.GetByID(ctx, input.KBID)
	if err != nil {
		return nil, err
	}
	if kb.Status == domain.KnowledgeBaseStatusError {
		return nil, domain.ErrKnowledgeBaseDisabled
	}

	embedding, err := s.embedder.EmbedQuery(ctx, kb.OrgID, kb.EmbeddingModel, query)
	if err != nil {
		span.SetError(err)
		return nil, err
	}

	hits, total, err := s.searchWithRetry(ctx, kb, embedding, input.Filters, topK, skip)
	if err != nil {
		span.SetError(err)
		return nil, err
	}

	neighbors := kb.CoalesceNeighbors
	if input.CoalesceNeighbors != nil {
		neighbors = *input.CoalesceNeighbors
	}
	if neighbors < 0 {
		neighbors = 0
	}

	results, err := s.buildResults(ctx, kb.ID, hits, neighbors)
	if err != nil {
		return nil, err
	}

	return &SearchOutput{Results: results, TotalCount: total}, nil
}

// searchWithRetry retries only the index-not-ready error class. Any other
// failure propagates immediately.
func (s *SearchEngine) searchWithRetry(ctx context.Context, kb *domain.KnowledgeBase, embedding []float32, filters SearchFilters, limit, skip int) ([]*VectorHit, int64, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.cfg.InitialInterval
	bo.MaxInterval = s.cfg.MaxInterval
	bo.MaxElapsedTime = s.cfg.MaxElapsed

	var hits []*VectorHit
	var total int64
	operation := func() error {
		found, count, err := s.vectors.Search(ctx, kb, embedding, filters, limit, skip)
		if err != nil {
			if errors.Is(err, domain.ErrIndexNotReady) {
				return err
			}
			return backoff.Permanent(err)
		}
		hits = found
		total = count
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		if errors.Is(err, domain.ErrIndexNotReady) {
			return nil, 0, domain.NewDomainErrorWithCause(domain.ErrCodeUnavailable, domain.ErrSearchUnavailable.Message, err)
		}
		return nil, 0, err
	}
	return hits, total, nil
}

// buildResults maps hits to output chunks, fetching up to n neighbors on each
// side of a hit when coalescing is enabled. The hit keeps its score and
// matched flag; neighbors are interleaved in chunk_index order with null
// scores.
func (s *SearchEngine) buildResults(ctx context.Context, kbID string, hits []*VectorHit, n int) ([]*SearchResultChunk, error) {
	results := make([]*SearchResultChunk, 0, len(hits))
	for _, hit := range hits {
		record := hit.Record
		if n == 0 {
			score := hit.Score
			results = append(results, &SearchResultChunk{
				DocumentID:   record.DocumentID,
				DocumentName: record.Metadata.Name,
				ChunkIndex:   record.ChunkIndex,
				Content:      record.ChunkText,
				Score:        &score,
				Matched:      true,
			})
			continue
		}

		neighbors, err := s.vectors.Neighbors(ctx, kbID, record.DocumentID, record.ChunkIndex, n)
		if err != nil {
			return nil, err
		}
		for _, neighbor := range neighbors {
			chunk := &SearchResultChunk{
				DocumentID:   neighbor.DocumentID,
				DocumentName: neighbor.Metadata.Name,
				ChunkIndex:   neighbor.ChunkIndex,
				Content:      neighbor.ChunkText,
			}
			if neighbor.ChunkIndex == record.ChunkIndex {
				score := hit.Score
				chunk.Score = &score
				chunk.Matched = true
			}
			results = append(results, chunk)
		}
	}
	return results, nil
}
