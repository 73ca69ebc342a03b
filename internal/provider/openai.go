package provider

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIEmbedder generates embeddings with the OpenAI embeddings API.
// OpenAI models are symmetric, so InputType is accepted and ignored.
type OpenAIEmbedder struct {
	client *openai.Client
}

// NewOpenAIEmbedder creates an OpenAI-backed embedder.
func NewOpenAIEmbedder(apiKey string) *OpenAIEmbedder {
	return &OpenAIEmbedder{client: openai.NewClient(apiKey)}
}

// Name implements Embedder.
func (*OpenAIEmbedder) Name() string { return "openai" }

// Embed submits all texts as one batched call and returns vectors in input
// order.
func (e *OpenAIEmbedder) Embed(ctx context.Context, req EmbedRequest) (*EmbedResult, error) {
	if len(req.Texts) == 0 {
		return nil, ErrEmptyInput
	}

	embReq := openai.EmbeddingRequest{
		Input: req.Texts,
		Model: openai.EmbeddingModel(req.Model),
	}
	if req.Dimension > 0 {
		embReq.Dimensions = req.Dimension
	}

	resp, err := e.client.CreateEmbeddings(ctx, embReq)
	if err != nil {
		return nil, fmt.Errorf("%w: openai embed: %v", ErrProvider, err)
	}
	if len(resp.Data) != len(req.Texts) {
		return nil, fmt.Errorf("%w: openai returned %d embeddings for %d inputs",
			ErrProvider, len(resp.Data), len(req.Texts))
	}

	vectors := make([][]float32, len(resp.Data))
	for _, item := range resp.Data {
		if item.Index < 0 || item.Index >= len(vectors) {
			return nil, fmt.Errorf("%w: openai embedding index %d out of range", ErrProvider, item.Index)
		}
		vectors[item.Index] = item.Embedding
	}
	for i, v := range vectors {
		if len(v) == 0 {
			return nil, fmt.Errorf("%w: openai returned empty embedding for input %d", ErrProvider, i)
		}
	}

	return &EmbedResult{
		Vectors:    vectors,
		TokenCount: resp.Usage.PromptTokens,
		Model:      req.Model,
	}, nil
}
