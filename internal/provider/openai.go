// Package provider wraps the external embedding API and classifies its
// failures into the typed retryable/permanent hierarchy at the adapter
// boundary.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"

	openai "github.com/sashabaranov/go-openai"

	"github.com/cloo-solutions/vectis/internal/domain"
)

const (
	// DefaultEmbeddingModel is used when a knowledge base does not name one.
	DefaultEmbeddingModel = string(openai.SmallEmbedding3)
	// DefaultEmbeddingDimensions matches text-embedding-3-small.
	DefaultEmbeddingDimensions = 1536
	// MaxBatchSize bounds how many inputs are sent per provider call.
	MaxBatchSize = 100
)

var (
	// ErrNoTexts is returned when the input batch is empty
	ErrNoTexts = errors.New("no texts to embed")
	// ErrNoAPIKey is returned when the OpenAI API key is not set
	ErrNoAPIKey = errors.New("OPENAI_API_KEY environment variable not set")
	// ErrBatchTooLarge is returned when the input batch exceeds MaxBatchSize
	ErrBatchTooLarge = fmt.Errorf("embedding batch exceeds %d inputs", MaxBatchSize)
)

// EmbeddingAPI is the raw provider surface, satisfied by *openai.Client.
type EmbeddingAPI interface {
	CreateEmbeddings(ctx context.Context, req openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error)
}

// Client wraps the OpenAI API for batched embedding generation. Every
// returned vector is checked against the requested dimensionality; a mismatch
// is a permanent error because the knowledge base's index is already
// provisioned for a fixed dimension.
type Client struct {
	api        EmbeddingAPI
	dimensions int
}

// Config configures a Client.
type Config struct {
	APIKey              string
	EmbeddingDimensions int
}

// NewClient creates a new provider client using defaults.
func NewClient(apiKey string) *Client {
	return NewClientWithConfig(Config{APIKey: apiKey})
}

// NewClientWithConfig creates a new provider client with explicit configuration.
func NewClientWithConfig(cfg Config) *Client {
	dimensions := cfg.EmbeddingDimensions
	if dimensions <= 0 {
		dimensions = DefaultEmbeddingDimensions
	}
	return &Client{
		api:        openai.NewClient(cfg.APIKey),
		dimensions: dimensions,
	}
}

// NewClientFromEnv creates a new provider client from OPENAI_API_KEY.
func NewClientFromEnv() (*Client, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, ErrNoAPIKey
	}
	return NewClient(apiKey), nil
}

// NewClientWithAPI creates a client around a custom EmbeddingAPI (for testing).
func NewClientWithAPI(api EmbeddingAPI, dimensions int) *Client {
	if dimensions <= 0 {
		dimensions = DefaultEmbeddingDimensions
	}
	return &Client{api: api, dimensions: dimensions}
}

// EmbedBatch generates embeddings for up to MaxBatchSize texts in one
// provider call. Results are returned in input order.
func (c *Client) EmbedBatch(ctx context.Context, texts []string, model string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrNoTexts
	}
	if len(texts) > MaxBatchSize {
		return nil, ErrBatchTooLarge
	}
	if model == "" {
		model = DefaultEmbeddingModel
	}

	resp, err := c.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(model),
	})
	if err != nil {
		return nil, classify(err)
	}

	if len(resp.Data) != len(texts) {
		return nil, domain.NewPermanentProviderError(0,
			fmt.Errorf("provider returned %d embeddings for %d inputs", len(resp.Data), len(texts)))
	}

	vectors := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, domain.NewPermanentProviderError(0,
				fmt.Errorf("provider returned out-of-range embedding index %d", d.Index))
		}
		if len(d.Embedding) != c.dimensions {
			return nil, domain.NewPermanentProviderError(0,
				fmt.Errorf("embedding has %d dimensions, expected %d", len(d.Embedding), c.dimensions))
		}
		vectors[d.Index] = d.Embedding
	}
	return vectors, nil
}

// classify maps raw provider failures onto the typed hierarchy. Rate limits,
// timeouts and 5xx responses are retryable; auth failures, unknown models and
// other 4xx responses are permanent.
func classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == http.StatusTooManyRequests:
			return domain.NewRetryableProviderError(apiErr.HTTPStatusCode, err)
		case apiErr.HTTPStatusCode >= 500:
			return domain.NewRetryableProviderError(apiErr.HTTPStatusCode, err)
		case apiErr.HTTPStatusCode >= 400:
			return domain.NewPermanentProviderError(apiErr.HTTPStatusCode, err)
		}
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		if reqErr.HTTPStatusCode == http.StatusTooManyRequests || reqErr.HTTPStatusCode >= 500 {
			return domain.NewRetryableProviderError(reqErr.HTTPStatusCode, err)
		}
		if reqErr.HTTPStatusCode >= 400 {
			return domain.NewPermanentProviderError(reqErr.HTTPStatusCode, err)
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return domain.NewRetryableProviderError(0, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.NewRetryableProviderError(0, err)
	}

	// Unknown failure shapes (connection reset, DNS) are treated as
	// retryable so transient network blips do not poison a knowledge base.
	return domain.NewRetryableProviderError(0, err)
}
