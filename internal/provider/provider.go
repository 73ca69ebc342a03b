// Package provider abstracts the embedding and reranking backends behind a
// uniform interface, selected by the active embedding-model configuration.
//
// The retrieval engine never talks to a vendor SDK directly: it submits
// texts and receives opaque float vectors, or submits candidates and
// receives (index, relevance) pairs. Everything vendor-specific lives in
// the adapter files (openai.go, cohere.go, ollama.go).
package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/lodestone-ai/lodestone/internal/config"
)

var (
	// ErrProvider indicates a backend failure (network, quota, 5xx). The
	// wrapped message carries the backend's status for the audit log and
	// the document error_message.
	ErrProvider = errors.New("provider error")

	// ErrEmptyInput indicates an embed call with no texts.
	ErrEmptyInput = errors.New("empty embed input")

	// ErrRerankUnsupported indicates the selected provider has no rerank
	// endpoint. Retrieval falls back to distance ordering.
	ErrRerankUnsupported = errors.New("rerank unsupported by provider")
)

// InputType tells providers whether texts are corpus content or a query.
// Asymmetric embedding models produce different vectors for each.
type InputType string

const (
	InputTypeSearchDocument InputType = "search_document"
	InputTypeSearchQuery    InputType = "search_query"
)

// EmbedRequest is one batched embedding call.
type EmbedRequest struct {
	Texts     []string
	InputType InputType
	Model     string
	// Dimension requests a truncated output size where the model supports
	// it; zero means the model default.
	Dimension int
}

// EmbedResult carries the vectors in input order plus usage accounting for
// the audit log.
type EmbedResult struct {
	Vectors    [][]float32
	TokenCount int
	Model      string
}

// Embedder is the uniform embedding interface implemented per backend.
type Embedder interface {
	Embed(ctx context.Context, req EmbedRequest) (*EmbedResult, error)
	Name() string
}

// Ranking maps a candidate index to its provider-assigned relevance.
type Ranking struct {
	Index          int
	RelevanceScore float64
}

// Reranker is the second-pass relevance interface. Results come back in
// the provider's order; callers must not re-sort.
type Reranker interface {
	Rerank(ctx context.Context, query string, docs []string, topN int) ([]Ranking, error)
	Name() string
}

// NewEmbedder builds the embedding adapter for the configured provider.
func NewEmbedder(cfg *config.Config) (Embedder, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		return NewOpenAIEmbedder(cfg.OpenAIAPIKey), nil
	case config.ProviderOllama:
		return NewOllamaEmbedder(OllamaConfig{BaseURL: cfg.OllamaHost}), nil
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrInvalidProvider, cfg.Provider)
	}
}

// NewReranker builds the rerank adapter, or returns nil when no rerank
// backend is configured. A nil Reranker is a supported state: retrieval
// degrades to distance ordering.
func NewReranker(cfg *config.Config) Reranker {
	if strings.TrimSpace(cfg.CohereAPIKey) == "" {
		return nil
	}
	return NewCohereReranker(cfg.CohereAPIKey, cfg.RerankModel)
}
