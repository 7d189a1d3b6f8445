package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/svscope/svscope/internal/core"
)

const (
	ollamaDefaultBaseURL = "http://localhost:11434"
	ollamaDefaultModel   = "nomic-embed-text"
	ollamaTimeout        = 30 * time.Second
)

// OllamaEmbedder talks to a local Ollama server. Useful for running the
// embedding sweep without a remote API key.
type OllamaEmbedder struct {
	client    *http.Client
	baseURL   string
	modelName string
	dims      int
}

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float64 `json:"embedding"`
}

func NewOllamaEmbedder(baseURL, modelName string, dims int) *OllamaEmbedder {
	if baseURL == "" {
		baseURL = ollamaDefaultBaseURL
	}
	if modelName == "" {
		modelName = ollamaDefaultModel
	}
	if dims == 0 {
		dims = 768
	}
	return &OllamaEmbedder{
		client:    &http.Client{Timeout: ollamaTimeout},
		baseURL:   baseURL,
		modelName: modelName,
		dims:      dims,
	}
}

// EmbedTexts embeds each text with its own request. Ollama has no batch
// endpoint.
func (o *OllamaEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := o.embedOne(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embed text %d: %w", i, err)
		}
		out[i] = vec
	}
	return out, nil
}

func (o *OllamaEmbedder) embedOne(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(ollamaEmbedRequest{Model: o.modelName, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama error (status %d): %s", resp.StatusCode, string(msg))
	}

	var decoded ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	vec := make([]float32, len(decoded.Embedding))
	for i, v := range decoded.Embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}

func (o *OllamaEmbedder) ModelName() string { return o.modelName }

func (o *OllamaEmbedder) ModelVersion() string { return "latest" }

func (o *OllamaEmbedder) Dims() int { return o.dims }

var _ core.EmbeddingProvider = (*OllamaEmbedder)(nil)
