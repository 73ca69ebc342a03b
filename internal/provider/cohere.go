package provider

import (
	"context"
	"fmt"

	cohere "github.com/cohere-ai/cohere-go/v2"
	cohereclient "github.com/cohere-ai/cohere-go/v2/client"
)

// CohereReranker reorders retrieval candidates with the Cohere rerank API.
type CohereReranker struct {
	client *cohereclient.Client
	model  string
}

// NewCohereReranker creates a Cohere-backed reranker.
func NewCohereReranker(apiKey, model string) *CohereReranker {
	return &CohereReranker{
		client: cohereclient.NewClient(cohereclient.WithToken(apiKey)),
		model:  model,
	}
}

// Name implements Reranker.
func (*CohereReranker) Name() string { return "cohere" }

// Rerank submits the candidate texts and returns (index, relevance) pairs
// in the provider's relevance order, truncated to topN.
func (r *CohereReranker) Rerank(ctx context.Context, query string, docs []string, topN int) ([]Ranking, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	if topN <= 0 || topN > len(docs) {
		topN = len(docs)
	}

	items := make([]*cohere.RerankRequestDocumentsItem, len(docs))
	for i, doc := range docs {
		items[i] = &cohere.RerankRequestDocumentsItem{String: doc}
	}

	resp, err := r.client.Rerank(ctx, &cohere.RerankRequest{
		Query:     query,
		Documents: items,
		Model:     &r.model,
		TopN:      &topN,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: cohere rerank: %v", ErrProvider, err)
	}
	if resp == nil || len(resp.Results) == 0 {
		return nil, fmt.Errorf("%w: cohere returned no rankings", ErrProvider)
	}

	rankings := make([]Ranking, 0, len(resp.Results))
	for _, result := range resp.Results {
		if result.Index < 0 || result.Index >= len(docs) {
			continue
		}
		rankings = append(rankings, Ranking{
			Index:          result.Index,
			RelevanceScore: result.RelevanceScore,
		})
	}
	return rankings, nil
}
