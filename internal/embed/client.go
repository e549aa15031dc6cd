package embed

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	cerr "github.com/probeshift/codectx/internal/errors"
)

// Client wraps a Provider with sub-batching and dimension handling. A batch
// larger than the provider's per-call maximum is split transparently; output
// order always matches input order.
type Client struct {
	provider  Provider
	batchSize int

	mu   sync.Mutex
	dims int
}

// NewClient creates a Client. targetBatchSize is honored when positive and
// below the provider ceiling; otherwise the ceiling applies.
func NewClient(provider Provider, targetBatchSize int) *Client {
	max := provider.MaxSingleBatch()
	size := targetBatchSize
	if size <= 0 || size > max {
		size = max
	}
	return &Client{provider: provider, batchSize: size}
}

// ProviderName returns the underlying provider identifier.
func (c *Client) ProviderName() string {
	return c.provider.ProviderName()
}

// BatchSize returns the effective per-call batch size.
func (c *Client) BatchSize() int {
	return c.batchSize
}

// Dimension returns the embedding dimension, probing the provider on first
// use if it was not configured.
func (c *Client) Dimension(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dims > 0 {
		return c.dims, nil
	}

	dims, err := c.detectDimension(ctx)
	if err != nil {
		return 0, err
	}
	c.dims = dims
	return dims, nil
}

// SetDimension fixes the dimension, skipping the probe.
func (c *Client) SetDimension(d int) {
	c.mu.Lock()
	c.dims = d
	c.mu.Unlock()
}

// detectDimension probes the provider with a short text.
func (c *Client) detectDimension(ctx context.Context) (int, error) {
	vecs, err := c.embedRaw(ctx, []string{"dimension detection"})
	if err != nil {
		return 0, err
	}
	if len(vecs) == 0 || len(vecs[0]) == 0 {
		return 0, cerr.EmbeddingError("invalid_response", "empty probe embedding", nil)
	}
	return len(vecs[0]), nil
}

// Embed generates the embedding for a single text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, cerr.EmbeddingError("invalid_response",
			fmt.Sprintf("expected 1 embedding, got %d", len(vecs)), nil)
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings for texts, splitting into sub-batches of
// at most the effective batch size. Result order matches input order.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	prepared := preprocess(texts, c.provider.MaxTokens())
	results := make([][]float32, len(prepared))

	for start := 0; start < len(prepared); start += c.batchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		end := start + c.batchSize
		if end > len(prepared) {
			end = len(prepared)
		}

		vecs, err := c.embedRaw(ctx, prepared[start:end])
		if err != nil {
			return nil, fmt.Errorf("embed sub-batch %d-%d: %w", start, end, err)
		}
		copy(results[start:end], vecs)
	}

	return results, nil
}

// embedRaw issues one provider call with retry and validates the response
// shape.
func (c *Client) embedRaw(ctx context.Context, texts []string) ([][]float32, error) {
	var vecs [][]float32
	err := retryEmbed(ctx, func() error {
		v, err := c.provider.EmbedBatch(ctx, texts)
		if err != nil {
			slog.Debug("embedding call failed",
				slog.String("provider", c.provider.ProviderName()),
				slog.Int("texts", len(texts)),
				slog.String("error", err.Error()))
			return err
		}
		vecs = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(texts) {
		return nil, cerr.EmbeddingError("invalid_response",
			fmt.Sprintf("provider returned %d embeddings for %d texts", len(vecs), len(texts)), nil)
	}
	return vecs, nil
}
