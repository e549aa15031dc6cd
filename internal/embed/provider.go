// Package embed adapts external embedding providers behind a single client
// with transparent sub-batching, input preprocessing, and retry.
package embed

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	cerr "github.com/probeshift/codectx/internal/errors"
)

// Provider is a raw embedding backend. EmbedBatch is called with at most
// MaxSingleBatch preprocessed texts and must preserve input order.
// Authentication failures must be surfaced distinctly from transport errors.
type Provider interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	ProviderName() string
	MaxSingleBatch() int
	MaxTokens() int
}

// Capability tabulates per-provider limits and defaults.
type Capability struct {
	MaxBatch           int
	DefaultConcurrency int
	MaxTokens          int
}

// APIConcurrencyCap bounds concurrent embedding calls for any provider.
const APIConcurrencyCap = 10

var capabilities = map[string]Capability{
	"openai":   {MaxBatch: 100, DefaultConcurrency: 5, MaxTokens: 8192},
	"voyageai": {MaxBatch: 128, DefaultConcurrency: 3, MaxTokens: 16000},
	"gemini":   {MaxBatch: 100, DefaultConcurrency: 2, MaxTokens: 2048},
	"ollama":   {MaxBatch: 50, DefaultConcurrency: 10, MaxTokens: 8192},
}

// CapabilityFor returns the capability table entry for a provider name,
// with a conservative fallback for unknown providers.
func CapabilityFor(provider string) Capability {
	if c, ok := capabilities[strings.ToLower(provider)]; ok {
		return c
	}
	return Capability{MaxBatch: 32, DefaultConcurrency: 2, MaxTokens: 8192}
}

// APIConcurrency resolves the effective concurrent-batch limit for a
// provider, honoring an override when positive and capping the result.
func APIConcurrency(provider string, override int) int {
	n := override
	if n <= 0 {
		n = CapabilityFor(provider).DefaultConcurrency
	}
	if n > APIConcurrencyCap {
		n = APIConcurrencyCap
	}
	if n < 1 {
		n = 1
	}
	return n
}

// preprocess applies the provider-independent input contract: empty strings
// become a single space, and inputs beyond the token budget (approximated as
// 4 chars per token) are truncated.
func preprocess(texts []string, maxTokens int) []string {
	maxChars := 4 * maxTokens
	out := make([]string, len(texts))
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			out[i] = " "
			continue
		}
		if maxChars > 0 && len(t) > maxChars {
			t = t[:maxChars]
		}
		out[i] = t
	}
	return out
}

// retryEmbed runs fn with exponential backoff. Authentication and
// invalid-response errors are permanent; rate limits and transport errors
// retry until the elapsed budget runs out.
func retryEmbed(ctx context.Context, fn func() error) error {
	op := func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if cerr.IsRetryable(err) {
			return err
		}
		return backoff.Permanent(err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second

	return backoff.Retry(op, backoff.WithContext(b, ctx))
}

// classifyStatus maps an HTTP status to the embedding error taxonomy.
func classifyStatus(provider string, status int, body string) error {
	msg := fmt.Sprintf("%s returned status %d: %s", provider, status, body)
	switch {
	case status == 401 || status == 403:
		return cerr.EmbeddingError("authentication", msg, nil)
	case status == 429:
		return cerr.EmbeddingError("rate_limited", msg, nil)
	case status >= 500:
		return cerr.EmbeddingError("transport", msg, nil)
	default:
		return cerr.EmbeddingError("invalid_response", msg, nil)
	}
}
