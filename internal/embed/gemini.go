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

const geminiEndpoint = "https://generativelanguage.googleapis.com/v1beta"

// GeminiProvider generates embeddings through the Gemini API.
type GeminiProvider struct {
	client *http.Client
	apiKey string
	model  string
	cap    Capability
}

var _ Provider = (*GeminiProvider)(nil)

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiBatchRequest struct {
	Requests []geminiEmbedRequest `json:"requests"`
}

type geminiEmbedRequest struct {
	Model   string        `json:"model"`
	Content geminiContent `json:"content"`
}

type geminiBatchResponse struct {
	Embeddings []struct {
		Values []float64 `json:"values"`
	} `json:"embeddings"`
}

// NewGeminiProvider creates a Gemini provider.
func NewGeminiProvider(apiKey, model string) (*GeminiProvider, error) {
	if apiKey == "" {
		return nil, cerr.EmbeddingError("authentication", "gemini api key is not set", nil)
	}
	if model == "" {
		model = "text-embedding-004"
	}

	return &GeminiProvider{
		client: &http.Client{Timeout: 60 * time.Second},
		apiKey: apiKey,
		model:  model,
		cap:    CapabilityFor("gemini"),
	}, nil
}

// EmbedBatch implements Provider.
func (p *GeminiProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	reqs := make([]geminiEmbedRequest, len(texts))
	for i, t := range texts {
		reqs[i] = geminiEmbedRequest{
			Model:   "models/" + p.model,
			Content: geminiContent{Parts: []geminiPart{{Text: t}}},
		}
	}

	body, err := json.Marshal(geminiBatchRequest{Requests: reqs})
	if err != nil {
		return nil, cerr.EmbeddingError("invalid_response", "encode request", err)
	}

	url := fmt.Sprintf("%s/models/%s:batchEmbedContents?key=%s", geminiEndpoint, p.model, p.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
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
		return nil, classifyStatus("gemini", resp.StatusCode, string(respBody))
	}

	var result geminiBatchResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, cerr.EmbeddingError("invalid_response", "decode response", err)
	}
	if len(result.Embeddings) != len(texts) {
		return nil, cerr.EmbeddingError("invalid_response",
			fmt.Sprintf("gemini returned %d embeddings for %d texts", len(result.Embeddings), len(texts)), nil)
	}

	vecs := make([][]float32, len(result.Embeddings))
	for i, e := range result.Embeddings {
		vecs[i] = toFloat32(e.Values)
	}
	return vecs, nil
}

// ProviderName implements Provider.
func (p *GeminiProvider) ProviderName() string { return "gemini" }

// MaxSingleBatch implements Provider.
func (p *GeminiProvider) MaxSingleBatch() int { return p.cap.MaxBatch }

// MaxTokens implements Provider.
func (p *GeminiProvider) MaxTokens() int { return p.cap.MaxTokens }
