package rag

import (
	"context"
	"fmt"
	"strings"
)

// Retriever combines an Embedder and a VectorStore. It embeds the query at
// retrieval time, delegates similarity search to the store, and applies the
// optional score threshold with the direction the store's metric implies.
type Retriever struct {
	// embedder converts query text to a dense vector.
	embedder Embedder

	// store performs the vector similarity search.
	store VectorStore

	// defaultTopK is the number of results to return when the caller passes 0.
	defaultTopK int

	// threshold filters weak matches; nil disables filtering.
	threshold *float32
}

// NewRetriever constructs a Retriever from the given Embedder and VectorStore.
// defaultTopK sets the fallback result count when Retrieve is called with
// topK=0. threshold, when non-nil, drops results scoring worse than the bound:
// above it for distance metrics (cosine, l2), below it for similarity (dot).
func NewRetriever(embedder Embedder, store VectorStore, defaultTopK int, threshold *float32) (*Retriever, error) {
	if embedder == nil {
		return nil, fmt.Errorf("rag: embedder must not be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("rag: store must not be nil")
	}
	if defaultTopK <= 0 {
		defaultTopK = 3
	}
	return &Retriever{
		embedder:    embedder,
		store:       store,
		defaultTopK: defaultTopK,
		threshold:   threshold,
	}, nil
}

// Retrieve embeds the query and returns the top-k most relevant results,
// best match first, with the score threshold applied. Filtering can return
// fewer than k results, or none. If topK is 0 the defaultTopK configured at
// construction time is used.
func (r *Retriever) Retrieve(ctx context.Context, query string, topK int) ([]SearchResult, error) {
	if topK <= 0 {
		topK = r.defaultTopK
	}

	embeddings, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("rag: embedding query failed: %w", err)
	}
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("rag: embedder returned empty result for query")
	}

	results, err := r.store.Query(ctx, embeddings[0], topK)
	if err != nil {
		return nil, fmt.Errorf("rag: vector search failed: %w", err)
	}

	if r.threshold == nil {
		return results, nil
	}

	bound := *r.threshold
	ascending := r.store.Metric().Distance()
	kept := results[:0]
	for _, res := range results {
		if ascending && res.Score > bound {
			continue
		}
		if !ascending && res.Score < bound {
			continue
		}
		kept = append(kept, res)
	}
	return kept, nil
}

// FormatContext joins result texts in rank order with blank-line separators,
// producing the context block handed to the generator. No results yields "".
func FormatContext(results []SearchResult) string {
	if len(results) == 0 {
		return ""
	}
	texts := make([]string, 0, len(results))
	for _, res := range results {
		texts = append(texts, res.Text)
	}
	return strings.Join(texts, "\n\n")
}
