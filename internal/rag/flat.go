package rag

import (
	"container/heap"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
)

// FlatStore is an in-memory VectorStore using exact nearest-neighbour search
// over a flat record slice. Search is a linear scan with a heap-tracked top-k,
// which is exact and fast enough for single-user corpora; the interface
// contract (score units, ordering) would be unchanged by an approximate index.
//
// The dimensionality of the store is locked by the first insertion and
// released by Reset. A read/write lock keeps Insert/Reset/Query atomic with
// respect to the visible state.
type FlatStore struct {
	mu sync.RWMutex

	// model is the embedding model identity recorded in snapshots.
	model string

	// metric selects the score function and ordering.
	metric Metric

	// dimensions is the locked vector length; 0 until the first insert.
	dimensions int

	// nextID is the next record identifier to assign.
	nextID uint64

	// records holds the live index entries in insertion order.
	records []flatRecord
}

// flatRecord is one stored entry. The json tags define the snapshot format.
type flatRecord struct {
	ID       uint64            `json:"id"`
	Vector   []float32         `json:"vector"`
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// NewFlatStore constructs an empty FlatStore for the given embedding model
// identity and metric.
func NewFlatStore(model string, metric Metric) (*FlatStore, error) {
	if !metric.Valid() {
		return nil, fmt.Errorf("rag: %w: unknown distance metric %q — valid values: cosine, l2, dot",
			ErrInvalidConfiguration, metric)
	}
	return &FlatStore{model: model, metric: metric, nextID: 1}, nil
}

// Insert stores a batch of records and returns their assigned IDs.
// The whole batch is validated before anything is appended, so a dimension
// mismatch leaves the store — and its count — unchanged.
func (s *FlatStore) Insert(_ context.Context, records []Record) ([]uint64, error) {
	if len(records) == 0 {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dims := s.dimensions
	if dims == 0 {
		dims = len(records[0].Vector)
		if dims == 0 {
			return nil, fmt.Errorf("rag: %w: empty vector in insert batch", ErrDimensionMismatch)
		}
	}
	for i, r := range records {
		if len(r.Vector) != dims {
			return nil, fmt.Errorf("rag: %w: record %d has %d dimensions, index has %d",
				ErrDimensionMismatch, i, len(r.Vector), dims)
		}
	}

	s.dimensions = dims
	ids := make([]uint64, 0, len(records))
	for _, r := range records {
		id := s.nextID
		s.nextID++
		s.records = append(s.records, flatRecord{
			ID:       id,
			Vector:   r.Vector,
			Text:     r.Text,
			Metadata: r.Metadata,
		})
		ids = append(ids, id)
	}
	return ids, nil
}

// Query returns up to k results nearest to vector, best match first.
// An empty store yields an empty slice.
func (s *FlatStore) Query(_ context.Context, vector []float32, k int) ([]SearchResult, error) {
	if k < 1 {
		return nil, fmt.Errorf("rag: %w: query k must be >= 1, got %d", ErrInvalidConfiguration, k)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.records) == 0 {
		return []SearchResult{}, nil
	}
	if len(vector) != s.dimensions {
		return nil, fmt.Errorf("rag: %w: query vector has %d dimensions, index has %d",
			ErrDimensionMismatch, len(vector), s.dimensions)
	}

	// Track the top-k in a heap ordered worst-first so the weakest candidate
	// is evicted in O(log k) when a better one arrives.
	ascending := s.metric.Distance()
	h := &resultHeap{ascending: ascending}
	heap.Init(h)

	for _, r := range s.records {
		score := s.score(vector, r.Vector)
		if h.Len() < k {
			heap.Push(h, SearchResult{ID: r.ID, Text: r.Text, Metadata: r.Metadata, Score: score})
			continue
		}
		if better(score, h.results[0].Score, ascending) {
			heap.Pop(h)
			heap.Push(h, SearchResult{ID: r.ID, Text: r.Text, Metadata: r.Metadata, Score: score})
		}
	}

	// Drain worst-first, filling the result slice back to front.
	out := make([]SearchResult, h.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(h).(SearchResult)
	}
	return out, nil
}

// Reset discards all records and releases the dimensionality lock.
// ID assignment restarts, matching a freshly constructed store.
func (s *FlatStore) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = nil
	s.dimensions = 0
	s.nextID = 1
	return nil
}

// Count returns the number of live records.
func (s *FlatStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}

// Metric returns the configured score semantics.
func (s *FlatStore) Metric() Metric { return s.metric }

// Model returns the embedding model identity this store was built with.
func (s *FlatStore) Model() string { return s.model }

// Close is a no-op for the in-memory store.
func (s *FlatStore) Close() error { return nil }

// score computes the match score between q and v under the store's metric.
func (s *FlatStore) score(q, v []float32) float32 {
	switch s.metric {
	case MetricL2:
		return l2Distance(q, v)
	case MetricDot:
		return dotProduct(q, v)
	default:
		return 1 - cosineSimilarity(q, v)
	}
}

// better reports whether candidate beats incumbent under the given ordering.
func better(candidate, incumbent float32, ascending bool) bool {
	if ascending {
		return candidate < incumbent
	}
	return candidate > incumbent
}

// Sources returns the distinct "source" metadata values of the live records.
func (s *FlatStore) Sources(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool)
	var out []string
	for _, r := range s.records {
		src := r.Metadata["source"]
		if src == "" || seen[src] {
			continue
		}
		seen[src] = true
		out = append(out, src)
	}
	return out, nil
}

// snapshot is the on-disk JSON representation of a FlatStore. It captures the
// embedding model identity and dimensionality alongside the records so a
// reload never needs re-embedding and model mixing is detectable.
type snapshot struct {
	Model      string       `json:"model"`
	Metric     Metric       `json:"metric"`
	Dimensions int          `json:"dimensions"`
	NextID     uint64       `json:"next_id"`
	Records    []flatRecord `json:"records"`
}

// Save writes the whole index to path atomically (temp file + rename).
// The parent directory is created if needed. Whole-snapshot granularity only.
func (s *FlatStore) Save(path string) error {
	s.mu.RLock()
	snap := snapshot{
		Model:      s.model,
		Metric:     s.metric,
		Dimensions: s.dimensions,
		NextID:     s.nextID,
		Records:    s.records,
	}
	data, err := json.Marshal(snap)
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("rag: marshal snapshot: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("rag: create snapshot directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("rag: write snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rag: replace snapshot: %w", err)
	}
	return nil
}

// Load reads a snapshot from path and returns the reconstructed store.
// A missing, unparsable, or internally inconsistent file fails with
// ErrCorruptOrMissingIndex; a snapshot
// built with a different embedding model than wantModel fails with
// ErrModelMismatch. Callers that want fall-back-to-empty semantics use Open.
func Load(path, wantModel string) (*FlatStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("rag: %w: %v", ErrCorruptOrMissingIndex, err)
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("rag: %w: parse %s: %v", ErrCorruptOrMissingIndex, path, err)
	}
	if !snap.Metric.Valid() {
		return nil, fmt.Errorf("rag: %w: snapshot %s has unknown metric %q",
			ErrCorruptOrMissingIndex, path, snap.Metric)
	}
	// Every record must agree with the declared dimensionality, or the first
	// query would index past the end of a truncated vector.
	for i, r := range snap.Records {
		if len(r.Vector) != snap.Dimensions {
			return nil, fmt.Errorf("rag: %w: snapshot %s record %d has %d dimensions, header declares %d",
				ErrCorruptOrMissingIndex, path, i, len(r.Vector), snap.Dimensions)
		}
	}
	if wantModel != "" && snap.Model != wantModel {
		return nil, fmt.Errorf("rag: %w: snapshot built with %q, configured model is %q",
			ErrModelMismatch, snap.Model, wantModel)
	}

	return &FlatStore{
		model:      snap.Model,
		metric:     snap.Metric,
		dimensions: snap.Dimensions,
		nextID:     snap.NextID,
		records:    snap.Records,
	}, nil
}

// Open loads the snapshot at path if one exists, falling back to a fresh
// empty store when the path is absent. This is the explicit fallback
// constructor used at startup; corrupt snapshots and model mismatches still
// propagate so they are never silently discarded.
func Open(path, model string, metric Metric) (*FlatStore, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return NewFlatStore(model, metric)
	}
	return Load(path, model)
}

// resultHeap orders SearchResults worst-first: a max-heap for ascending
// (distance) metrics, a min-heap for descending (similarity) ones.
type resultHeap struct {
	results   []SearchResult
	ascending bool
}

func (h resultHeap) Len() int { return len(h.results) }

func (h resultHeap) Less(i, j int) bool {
	if h.ascending {
		return h.results[i].Score > h.results[j].Score
	}
	return h.results[i].Score < h.results[j].Score
}

func (h resultHeap) Swap(i, j int) { h.results[i], h.results[j] = h.results[j], h.results[i] }

func (h *resultHeap) Push(x any) { h.results = append(h.results, x.(SearchResult)) }

func (h *resultHeap) Pop() any {
	old := h.results
	n := len(old)
	x := old[n-1]
	h.results = old[:n-1]
	return x
}

// cosineSimilarity returns the cosine of the angle between a and b, or 0 when
// either vector has zero norm.
func cosineSimilarity(a, b []float32) float32 {
	var dot, normA, normB float32
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (float32(math.Sqrt(float64(normA))) * float32(math.Sqrt(float64(normB))))
}

// l2Distance returns the Euclidean distance between a and b.
func l2Distance(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return float32(math.Sqrt(float64(sum)))
}

// dotProduct returns the inner product of a and b.
func dotProduct(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}
