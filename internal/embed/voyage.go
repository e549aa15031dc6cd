package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	cerr "github.com/probeshift/codectx/internal/errors"
)

const voyageEndpoint = "https://api.voyageai.com/v1/embeddings"

// VoyageProvider generates embeddings through the VoyageAI API.
type VoyageProvider struct {
	client *http.Client
	apiKey string
	model  string
	cap    Capability
}

var _ Provider = (*VoyageProvider)(nil)

type voyageRequest struct {
	Input     []string `json:"input"`
	Model     string   `json:"model"`
	InputType string   `json:"input_type,omitempty"`
}

type voyageResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

// NewVoyageProvider creates a VoyageAI provider.
func NewVoyageProvider(apiKey, model string) (*VoyageProvider, error) {
	if apiKey == "" {
		return nil, cerr.EmbeddingError("authentication", "voyageai api key is not set", nil)
	}
	if model == "" {
		model = "voyage-code-3"
	}

	return &VoyageProvider{
		client: &http.Client{Timeout: 60 * time.Second},
		apiKey: apiKey,
		model:  model,
		cap:    CapabilityFor("voyageai"),
	}, nil
}

// EmbedBatch implements Provider.
func (p *VoyageProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(voyageRequest{Input: texts, Model: p.model, InputType: "document"})
	if err != nil {
		return nil, cerr.EmbeddingError("invalid_response", "encode request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, voyageEndpoint, bytes.NewReader(body))
	if err != nil {
		return nil, cerr.EmbeddingError("transport", "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, cerr.EmbeddingError("transport", err.Error(), err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, classifyStatus("voyageai", resp.StatusCode, string(respBody))
	}

	var result voyageResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, cerr.EmbeddingError("invalid_response", "decode response", err)
	}
	if len(result.Data) != len(texts) {
		return nil, cerr.EmbeddingError("invalid_response",
			fmt.Sprintf("voyageai returned %d embeddings for %d texts", len(result.Data), len(texts)), nil)
	}

	// The API reports the original index per item; respect it.
	vecs := make([][]float32, len(texts))
	for _, d := range result.Data {
		if d.Index < 0 || d.Index >= len(vecs) {
			return nil, cerr.EmbeddingError("invalid_response",
				fmt.Sprintf("voyageai returned out-of-range index %d", d.Index), nil)
		}
		vecs[d.Index] = toFloat32(d.Embedding)
	}
	for i, v := range vecs {
		if v == nil {
			return nil, cerr.EmbeddingError("invalid_response",
				fmt.Sprintf("voyageai response missing index %d", i), nil)
		}
	}
	return vecs, nil
}

// ProviderName implements Provider.
func (p *VoyageProvider) ProviderName() string { return "voyageai" }

// MaxSingleBatch implements Provider.
func (p *VoyageProvider) MaxSingleBatch() int { return p.cap.MaxBatch }

// MaxTokens implements Provider.
func (p *VoyageProvider) MaxTokens() int { return p.cap.MaxTokens }
