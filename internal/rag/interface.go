// Package rag defines the core types and interfaces of the retrieval-augmented
// question-answering pipeline: documents and chunks, vector storage, embedding,
// and retrieval. Concrete implementations (FlatStore, QdrantStore, the HTTP
// embedders) satisfy these interfaces so the session orchestrator and the UI
// layers never depend on a specific backend.
package rag

import (
	"context"
)

// Document is the raw text extracted from one source file.
// Immutable once extracted; owned by the ingest flow until chunked.
type Document struct {
	// Text is the full extracted text, pages joined by blank lines.
	Text string

	// PageCount is the number of pages in the source file.
	PageCount int

	// Source identifies the origin file (base name of the uploaded PDF).
	Source string
}

// Chunk is a bounded substring of a document, the unit of embedding and
// retrieval.
type Chunk struct {
	// Text is the chunk content.
	Text string

	// Index is the zero-based position of this chunk within its document.
	Index int

	// Total is the number of chunks produced from the same document.
	Total int

	// Source is the identifier of the parent document.
	Source string
}

// Record is one entry handed to a VectorStore: a pre-computed embedding, the
// chunk text it was computed from, and its metadata.
type Record struct {
	// Vector is the embedding of Text. All vectors in one index must share
	// the same dimensionality and embedding model.
	Vector []float32

	// Text is the raw chunk content.
	Text string

	// Metadata holds string key-value pairs. The ingest flow always sets
	// "source", "page_count", "chunk_index", and "total_chunks".
	Metadata map[string]string
}

// SearchResult is one ranked hit returned by a vector query.
type SearchResult struct {
	// ID is the opaque identifier assigned to the record at insertion time,
	// monotonically increasing within an index instance.
	ID uint64

	// Text is the stored chunk content.
	Text string

	// Metadata is the stored metadata map.
	Metadata map[string]string

	// Score is the match score in the units of the store's Metric: a
	// distance for ascending metrics (lower is better), a similarity for
	// descending ones.
	Score float32
}

// Metric identifies the score semantics of a vector store.
type Metric string

const (
	// MetricCosine scores results by cosine distance (1 − cosine
	// similarity); lower is better.
	MetricCosine Metric = "cosine"

	// MetricL2 scores results by Euclidean distance; lower is better.
	MetricL2 Metric = "l2"

	// MetricDot scores results by raw dot product; higher is better.
	// Equivalent to cosine similarity for normalised embeddings.
	MetricDot Metric = "dot"
)

// Distance reports whether lower scores mean better matches for this metric.
// Threshold filtering in the Retriever depends on this: distance metrics
// discard scores above the threshold, similarity metrics discard below it.
func (m Metric) Distance() bool {
	return m == MetricCosine || m == MetricL2
}

// Valid reports whether m is a recognised metric name.
func (m Metric) Valid() bool {
	switch m {
	case MetricCosine, MetricL2, MetricDot:
		return true
	}
	return false
}

// VectorStore is the interface for persisting and searching chunk embeddings.
// Insert, Query, Reset, and Count are each atomic with respect to the store's
// visible state; implementations must be safe to call from multiple goroutines.
type VectorStore interface {
	// Insert stores a batch of records and returns the assigned IDs, in
	// input order. The whole batch fails with ErrDimensionMismatch — and
	// the store is left unchanged — if any vector's length disagrees with
	// the dimensionality established by the first insertion.
	Insert(ctx context.Context, records []Record) ([]uint64, error)

	// Query returns up to k results nearest to vector, best match first.
	// k must be ≥ 1. Querying an empty store returns an empty slice, not
	// an error.
	Query(ctx context.Context, vector []float32, k int) ([]SearchResult, error)

	// Reset discards all records and ID assignments and releases the
	// dimensionality lock.
	Reset(ctx context.Context) error

	// Count returns the number of live records.
	Count(ctx context.Context) (int, error)

	// Metric returns the score semantics of this store.
	Metric() Metric

	// Close releases any resources held by the store.
	Close() error
}

// Snapshotter is implemented by stores that support whole-index persistence
// to a local path. Server-persisted backends (Qdrant) do not implement it.
type Snapshotter interface {
	// Save serialises the full index — records plus the embedding model
	// identity and dimensionality — to path.
	Save(path string) error
}

// SourceLister is implemented by stores that can enumerate the distinct
// "source" metadata values of their live records. Sessions resuming over a
// persisted index use it to recover the document count.
type SourceLister interface {
	// Sources returns the distinct source names, in no particular order.
	Sources(ctx context.Context) ([]string, error)
}

// Embedder converts text into dense vector embeddings.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Embed converts a batch of texts into their embeddings in one backend
	// call where the backend supports it. The returned slice is parallel
	// to the input; a backend failure fails the whole batch with
	// ErrBackendUnavailable. Output is deterministic only if the backend
	// is — callers that assume determinism may cache by content hash.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}
