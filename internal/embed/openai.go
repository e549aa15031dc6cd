package embed

import (
	"context"
	"errors"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	cerr "github.com/probeshift/codectx/internal/errors"
)

// OpenAIProvider generates embeddings through the OpenAI API.
type OpenAIProvider struct {
	client openai.Client
	model  string
	cap    Capability
}

var _ Provider = (*OpenAIProvider)(nil)

// NewOpenAIProvider creates an OpenAI provider. baseURL may be empty for the
// public endpoint.
func NewOpenAIProvider(apiKey, model, baseURL string) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, cerr.EmbeddingError("authentication", "openai api key is not set", nil)
	}
	if model == "" {
		model = "text-embedding-3-small"
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	return &OpenAIProvider{
		client: openai.NewClient(opts...),
		model:  model,
		cap:    CapabilityFor("openai"),
	}, nil
}

// EmbedBatch implements Provider.
func (p *OpenAIProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := p.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		},
		Model: openai.EmbeddingModel(p.model),
	})
	if err != nil {
		return nil, classifyOpenAIError(err)
	}

	vecs := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		vecs[i] = toFloat32(d.Embedding)
	}
	return vecs, nil
}

// ProviderName implements Provider.
func (p *OpenAIProvider) ProviderName() string { return "openai" }

// MaxSingleBatch implements Provider.
func (p *OpenAIProvider) MaxSingleBatch() int { return p.cap.MaxBatch }

// MaxTokens implements Provider.
func (p *OpenAIProvider) MaxTokens() int { return p.cap.MaxTokens }

func classifyOpenAIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return classifyStatus("openai", apiErr.StatusCode, apiErr.Message)
	}
	return cerr.EmbeddingError("transport", err.Error(), err)
}

func toFloat32(f64 []float64) []float32 {
	f32 := make([]float32, len(f64))
	for i, v := range f64 {
		f32[i] = float32(v)
	}
	return f32
}
