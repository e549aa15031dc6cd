package embed

import (
	"fmt"
	"strings"

	"github.com/probeshift/codectx/internal/config"
	cerr "github.com/probeshift/codectx/internal/errors"
)

// NewFromConfig builds the embedding client selected by configuration.
func NewFromConfig(cfg *config.Config) (*Client, error) {
	var (
		provider Provider
		err      error
	)

	switch strings.ToLower(cfg.Embedding.Provider) {
	case "openai":
		provider, err = NewOpenAIProvider(cfg.Embedding.APIKey, cfg.Embedding.Model, cfg.Embedding.BaseURL)
	case "voyageai":
		provider, err = NewVoyageProvider(cfg.Embedding.APIKey, cfg.Embedding.Model)
	case "gemini":
		provider, err = NewGeminiProvider(cfg.Embedding.APIKey, cfg.Embedding.Model)
	case "ollama":
		provider = NewOllamaProvider(cfg.Embedding.BaseURL, cfg.Embedding.Model)
	default:
		return nil, cerr.New(cerr.ErrCodeConfigInvalid,
			fmt.Sprintf("unknown embedding provider %q", cfg.Embedding.Provider), nil)
	}
	if err != nil {
		return nil, err
	}

	client := NewClient(provider, cfg.Indexing.EmbeddingBatchSize)
	if cfg.Embedding.Dimension > 0 {
		client.SetDimension(cfg.Embedding.Dimension)
	}
	return client, nil
}
