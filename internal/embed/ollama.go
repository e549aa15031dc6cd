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

// DefaultOllamaHost is the local Ollama endpoint.
const DefaultOllamaHost = "http://localhost:11434"

// OllamaProvider generates embeddings using Ollama's HTTP API.
type OllamaProvider struct {
	client *http.Client
	host   string
	model  string
	cap    Capability
}

var _ Provider = (*OllamaProvider)(nil)

type ollamaEmbedRequest struct {
	Model string `json:"model"`
	Input any    `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
}

// NewOllamaProvider creates an Ollama provider. host may be empty for the
// default local endpoint.
func NewOllamaProvider(host, model string) *OllamaProvider {
	if host == "" {
		host = DefaultOllamaHost
	}
	if model == "" {
		model = "nomic-embed-text"
	}

	return &OllamaProvider{
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     10 * time.Second,
			},
		},
		host:  host,
		model: model,
		cap:   CapabilityFor("ollama"),
	}
}

// EmbedBatch implements Provider.
func (p *OllamaProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var input any = texts
	if len(texts) == 1 {
		input = texts[0]
	}

	body, err := json.Marshal(ollamaEmbedRequest{Model: p.model, Input: input})
	if err != nil {
		return nil, cerr.EmbeddingError("invalid_response", "encode request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.host+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, cerr.EmbeddingError("transport", "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, cerr.EmbeddingError("transport", err.Error(), err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, classifyStatus("ollama", resp.StatusCode, string(respBody))
	}

	var result ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, cerr.EmbeddingError("invalid_response", "decode response", err)
	}
	if len(result.Embeddings) != len(texts) {
		return nil, cerr.EmbeddingError("invalid_response",
			fmt.Sprintf("ollama returned %d embeddings for %d texts", len(result.Embeddings), len(texts)), nil)
	}

	vecs := make([][]float32, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		vecs[i] = toFloat32(emb)
	}
	return vecs, nil
}

// ProviderName implements Provider.
func (p *OllamaProvider) ProviderName() string { return "ollama" }

// MaxSingleBatch implements Provider.
func (p *OllamaProvider) MaxSingleBatch() int { return p.cap.MaxBatch }

// MaxTokens implements Provider.
func (p *OllamaProvider) MaxTokens() int { return p.cap.MaxTokens }
