package rag

import (
	"context"
	"errors"
	"testing"
)

type fakeEmbedder struct {
	vectors [][]float32
	err     error
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vectors[i%len(f.vectors)]
	}
	return out, nil
}

func seededStore(t *testing.T, metric Metric) *FlatStore {
	t.Helper()
	s := newTestStore(t, metric)
	_, err := s.Insert(context.Background(), []Record{
		{Vector: []float32{1, 0}, Text: "exact"},
		{Vector: []float32{1, 1}, Text: "close"},
		{Vector: []float32{0, 1}, Text: "orthogonal"},
	})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	return s
}

func Test_Retriever_NilComponents(t *testing.T) {
	t.Parallel()
	if _, err := NewRetriever(nil, newTestStore(t, MetricCosine), 3, nil); err == nil {
		t.Error("want error for nil embedder")
	}
	if _, err := NewRetriever(&fakeEmbedder{}, nil, 3, nil); err == nil {
		t.Error("want error for nil store")
	}
}

func Test_Retriever_NoThresholdReturnsTopK(t *testing.T) {
	t.Parallel()
	r, err := NewRetriever(&fakeEmbedder{vectors: [][]float32{{1, 0}}}, seededStore(t, MetricCosine), 3, nil)
	if err != nil {
		t.Fatalf("NewRetriever: %v", err)
	}

	got, err := r.Retrieve(context.Background(), "query", 2)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("want 2 results, got %d", len(got))
	}
	if got[0].Text != "exact" {
		t.Errorf("want best match first, got %q", got[0].Text)
	}
}

func Test_Retriever_DistanceThresholdFilters(t *testing.T) {
	t.Parallel()
	// Cosine distances against {1,0}: exact=0, close≈0.293, orthogonal=1.
	bound := float32(0.5)
	r, err := NewRetriever(&fakeEmbedder{vectors: [][]float32{{1, 0}}}, seededStore(t, MetricCosine), 3, &bound)
	if err != nil {
		t.Fatalf("NewRetriever: %v", err)
	}

	got, err := r.Retrieve(context.Background(), "query", 3)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("want 2 results under distance bound, got %d", len(got))
	}
	for _, res := range got {
		if res.Score > bound {
			t.Errorf("result %q score %v exceeds bound %v", res.Text, res.Score, bound)
		}
	}
}

func Test_Retriever_SimilarityThresholdFilters(t *testing.T) {
	t.Parallel()
	// Dot products against {1,0}: exact=1, close=1, orthogonal=0.
	bound := float32(0.5)
	r, err := NewRetriever(&fakeEmbedder{vectors: [][]float32{{1, 0}}}, seededStore(t, MetricDot), 3, &bound)
	if err != nil {
		t.Fatalf("NewRetriever: %v", err)
	}

	got, err := r.Retrieve(context.Background(), "query", 3)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("want 2 results over similarity bound, got %d", len(got))
	}
	for _, res := range got {
		if res.Score < bound {
			t.Errorf("result %q score %v below bound %v", res.Text, res.Score, bound)
		}
	}
}

func Test_Retriever_ThresholdCanEmptyResults(t *testing.T) {
	t.Parallel()
	bound := float32(0.0001)
	r, err := NewRetriever(&fakeEmbedder{vectors: [][]float32{{-1, 0}}}, seededStore(t, MetricCosine), 3, &bound)
	if err != nil {
		t.Fatalf("NewRetriever: %v", err)
	}

	got, err := r.Retrieve(context.Background(), "query", 3)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("want no results past tight bound, got %d", len(got))
	}
}

func Test_Retriever_EmbedderErrorPropagates(t *testing.T) {
	t.Parallel()
	wantErr := errors.New("backend down")
	r, err := NewRetriever(&fakeEmbedder{err: wantErr}, seededStore(t, MetricCosine), 3, nil)
	if err != nil {
		t.Fatalf("NewRetriever: %v", err)
	}
	_, err = r.Retrieve(context.Background(), "query", 3)
	if !errors.Is(err, wantErr) {
		t.Errorf("want embedder error wrapped, got %v", err)
	}
}

func Test_FormatContext(t *testing.T) {
	t.Parallel()
	results := []SearchResult{
		{Text: "first chunk"},
		{Text: "second chunk"},
	}
	got := FormatContext(results)
	want := "first chunk\n\nsecond chunk"
	if got != want {
		t.Errorf("FormatContext = %q, want %q", got, want)
	}
}

func Test_FormatContext_Empty(t *testing.T) {
	t.Parallel()
	if got := FormatContext(nil); got != "" {
		t.Errorf("want empty string, got %q", got)
	}
}
