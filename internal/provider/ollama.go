package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/lodestone-ai/lodestone/internal/chunker"
)

// Default Ollama configuration values.
const (
	DefaultOllamaBaseURL = "http://localhost:11434"
	DefaultOllamaTimeout = 30 * time.Second
)

// OllamaConfig holds configuration for the Ollama embedding adapter.
type OllamaConfig struct {
	// BaseURL is the Ollama API base URL (default: http://localhost:11434).
	BaseURL string

	// Timeout is the per-request timeout (default: 30s).
	Timeout time.Duration
}

// OllamaEmbedder generates embeddings with a local Ollama server. The API
// embeds one prompt per request, so batches are iterated; Ollama models
// are symmetric and InputType is ignored.
type OllamaEmbedder struct {
	client  *http.Client
	baseURL string
}

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// NewOllamaEmbedder creates an Ollama-backed embedder.
func NewOllamaEmbedder(cfg OllamaConfig) *OllamaEmbedder {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOllamaBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultOllamaTimeout
	}
	return &OllamaEmbedder{
		client:  &http.Client{Timeout: cfg.Timeout},
		baseURL: cfg.BaseURL,
	}
}

// Name implements Embedder.
func (*OllamaEmbedder) Name() string { return "ollama" }

// Embed generates one vector per text, preserving input order.
func (e *OllamaEmbedder) Embed(ctx context.Context, req EmbedRequest) (*EmbedResult, error) {
	if len(req.Texts) == 0 {
		return nil, ErrEmptyInput
	}

	vectors := make([][]float32, len(req.Texts))
	tokens := 0
	for i, text := range req.Texts {
		vec, err := e.embedOne(ctx, req.Model, text)
		if err != nil {
			return nil, err
		}
		vectors[i] = vec
		tokens += chunker.EstimateTokens(text)
	}

	return &EmbedResult{
		Vectors:    vectors,
		TokenCount: tokens,
		Model:      req.Model,
	}, nil
}

func (e *OllamaEmbedder) embedOne(ctx context.Context, model, text string) ([]float32, error) {
	body, err := json.Marshal(ollamaEmbedRequest{Model: model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		e.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: ollama embed: %v", ErrProvider, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		msg, readErr := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if readErr != nil {
			return nil, fmt.Errorf("%w: ollama status %d", ErrProvider, resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: ollama status %d: %s", ErrProvider, resp.StatusCode, string(msg))
	}

	var embResp ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&embResp); err != nil {
		return nil, fmt.Errorf("%w: ollama decode: %v", ErrProvider, err)
	}
	if len(embResp.Embedding) == 0 {
		return nil, fmt.Errorf("%w: ollama returned empty embedding", ErrProvider)
	}

	return embResp.Embedding, nil
}
