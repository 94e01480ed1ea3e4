package rag

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T, metric Metric) *FlatStore {
	t.Helper()
	s, err := NewFlatStore("nomic-embed-text", metric)
	if err != nil {
		t.Fatalf("NewFlatStore: %v", err)
	}
	return s
}

func Test_FlatStore_InvalidMetric(t *testing.T) {
	t.Parallel()
	_, err := NewFlatStore("m", Metric("manhattan"))
	if !errors.Is(err, ErrInvalidConfiguration) {
		t.Errorf("want ErrInvalidConfiguration, got %v", err)
	}
}

func Test_FlatStore_InsertAssignsSequentialIDs(t *testing.T) {
	t.Parallel()
	s := newTestStore(t, MetricCosine)
	ids, err := s.Insert(context.Background(), []Record{
		{Vector: []float32{1, 0}, Text: "a"},
		{Vector: []float32{0, 1}, Text: "b"},
	})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if len(ids) != 2 || ids[0] != 1 || ids[1] != 2 {
		t.Errorf("want ids [1 2], got %v", ids)
	}

	more, err := s.Insert(context.Background(), []Record{{Vector: []float32{1, 1}, Text: "c"}})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if more[0] != 3 {
		t.Errorf("want id 3, got %d", more[0])
	}
}

func Test_FlatStore_DimensionMismatchRejectsWholeBatch(t *testing.T) {
	t.Parallel()
	s := newTestStore(t, MetricCosine)
	if _, err := s.Insert(context.Background(), []Record{{Vector: []float32{1, 0, 0}, Text: "seed"}}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	// Batch with one good record and one bad: nothing may be stored.
	_, err := s.Insert(context.Background(), []Record{
		{Vector: []float32{1, 0, 0}, Text: "good"},
		{Vector: []float32{1, 0}, Text: "bad"},
	})
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("want ErrDimensionMismatch, got %v", err)
	}

	n, err := s.Count(context.Background())
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 1 {
		t.Errorf("count changed after failed batch: want 1, got %d", n)
	}
}

func Test_FlatStore_QueryCosineOrdering(t *testing.T) {
	t.Parallel()
	s := newTestStore(t, MetricCosine)
	_, err := s.Insert(context.Background(), []Record{
		{Vector: []float32{1, 0}, Text: "east"},
		{Vector: []float32{0, 1}, Text: "north"},
		{Vector: []float32{1, 1}, Text: "northeast"},
	})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	got, err := s.Query(context.Background(), []float32{1, 0.1}, 2)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("want 2 results, got %d", len(got))
	}
	if got[0].Text != "east" || got[1].Text != "northeast" {
		t.Errorf("want [east northeast], got [%s %s]", got[0].Text, got[1].Text)
	}
	if got[0].Score > got[1].Score {
		t.Errorf("cosine distances must ascend: %v then %v", got[0].Score, got[1].Score)
	}
}

func Test_FlatStore_QueryDotOrdering(t *testing.T) {
	t.Parallel()
	s := newTestStore(t, MetricDot)
	_, err := s.Insert(context.Background(), []Record{
		{Vector: []float32{1, 0}, Text: "small"},
		{Vector: []float32{3, 0}, Text: "large"},
	})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	got, err := s.Query(context.Background(), []float32{1, 0}, 2)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if got[0].Text != "large" {
		t.Errorf("dot metric must rank higher products first, got %q", got[0].Text)
	}
	if got[0].Score < got[1].Score {
		t.Errorf("dot scores must descend: %v then %v", got[0].Score, got[1].Score)
	}
}

func Test_FlatStore_QueryL2(t *testing.T) {
	t.Parallel()
	s := newTestStore(t, MetricL2)
	_, err := s.Insert(context.Background(), []Record{
		{Vector: []float32{0, 0}, Text: "origin"},
		{Vector: []float32{3, 4}, Text: "far"},
	})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	got, err := s.Query(context.Background(), []float32{0, 0}, 2)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if got[0].Text != "origin" {
		t.Errorf("want origin first, got %q", got[0].Text)
	}
	if math.Abs(float64(got[1].Score)-5) > 1e-5 {
		t.Errorf("want l2 distance 5, got %v", got[1].Score)
	}
}

func Test_FlatStore_QueryFewerThanK(t *testing.T) {
	t.Parallel()
	s := newTestStore(t, MetricCosine)
	if _, err := s.Insert(context.Background(), []Record{{Vector: []float32{1, 0}, Text: "only"}}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	got, err := s.Query(context.Background(), []float32{1, 0}, 10)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("want 1 result, got %d", len(got))
	}
}

func Test_FlatStore_QueryEmptyStore(t *testing.T) {
	t.Parallel()
	s := newTestStore(t, MetricCosine)
	got, err := s.Query(context.Background(), []float32{1, 0}, 3)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("want empty result, got %d", len(got))
	}
}

func Test_FlatStore_QueryWrongDimensions(t *testing.T) {
	t.Parallel()
	s := newTestStore(t, MetricCosine)
	if _, err := s.Insert(context.Background(), []Record{{Vector: []float32{1, 0, 0}, Text: "seed"}}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	_, err := s.Query(context.Background(), []float32{1, 0}, 3)
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("want ErrDimensionMismatch, got %v", err)
	}
}

func Test_FlatStore_ResetReleasesDimensionLock(t *testing.T) {
	t.Parallel()
	s := newTestStore(t, MetricCosine)
	if _, err := s.Insert(context.Background(), []Record{{Vector: []float32{1, 0, 0}, Text: "seed"}}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := s.Reset(context.Background()); err != nil {
		t.Fatalf("Reset: %v", err)
	}

	n, _ := s.Count(context.Background())
	if n != 0 {
		t.Errorf("want count 0 after reset, got %d", n)
	}

	// Different dimensionality must now be accepted.
	ids, err := s.Insert(context.Background(), []Record{{Vector: []float32{1, 0}, Text: "new"}})
	if err != nil {
		t.Fatalf("Insert after reset: %v", err)
	}
	if ids[0] != 1 {
		t.Errorf("want id assignment to restart at 1, got %d", ids[0])
	}
}

func Test_FlatStore_SaveLoadRoundTrip(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "index.json")

	s := newTestStore(t, MetricCosine)
	_, err := s.Insert(context.Background(), []Record{
		{Vector: []float32{1, 0}, Text: "a", Metadata: map[string]string{"source": "doc.pdf", "chunk_index": "0"}},
		{Vector: []float32{0, 1}, Text: "b"},
	})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := s.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path, "nomic-embed-text")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	n, _ := loaded.Count(context.Background())
	if n != 2 {
		t.Errorf("want 2 records after load, got %d", n)
	}

	got, err := loaded.Query(context.Background(), []float32{1, 0}, 1)
	if err != nil {
		t.Fatalf("Query after load: %v", err)
	}
	if got[0].Text != "a" || got[0].Metadata["source"] != "doc.pdf" {
		t.Errorf("loaded record lost content: %+v", got[0])
	}

	// ID assignment must continue past the snapshot.
	ids, err := loaded.Insert(context.Background(), []Record{{Vector: []float32{1, 1}, Text: "c"}})
	if err != nil {
		t.Fatalf("Insert after load: %v", err)
	}
	if ids[0] != 3 {
		t.Errorf("want id 3 after load, got %d", ids[0])
	}
}

func Test_FlatStore_SourcesDistinct(t *testing.T) {
	t.Parallel()
	s := newTestStore(t, MetricCosine)
	records := []Record{
		{Vector: []float32{1, 0}, Text: "a", Metadata: map[string]string{"source": "one.pdf"}},
		{Vector: []float32{0, 1}, Text: "b", Metadata: map[string]string{"source": "one.pdf"}},
		{Vector: []float32{1, 1}, Text: "c", Metadata: map[string]string{"source": "two.pdf"}},
	}
	if _, err := s.Insert(context.Background(), records); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	srcs, err := s.Sources(context.Background())
	if err != nil {
		t.Fatalf("Sources: %v", err)
	}
	if len(srcs) != 2 {
		t.Errorf("want 2 distinct sources, got %v", srcs)
	}
}

func Test_Load_ModelMismatch(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "index.json")

	s := newTestStore(t, MetricCosine)
	if _, err := s.Insert(context.Background(), []Record{{Vector: []float32{1, 0}, Text: "a"}}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := s.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	_, err := Load(path, "all-minilm")
	if !errors.Is(err, ErrModelMismatch) {
		t.Errorf("want ErrModelMismatch, got %v", err)
	}
}

func Test_Load_MissingFile(t *testing.T) {
	t.Parallel()
	_, err := Load(filepath.Join(t.TempDir(), "absent.json"), "m")
	if !errors.Is(err, ErrCorruptOrMissingIndex) {
		t.Errorf("want ErrCorruptOrMissingIndex, got %v", err)
	}
}

func Test_Load_CorruptFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "index.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	_, err := Load(path, "m")
	if !errors.Is(err, ErrCorruptOrMissingIndex) {
		t.Errorf("want ErrCorruptOrMissingIndex, got %v", err)
	}
}

func Test_Load_VectorDimensionsDisagreeWithHeader(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "index.json")
	snap := `{"model":"m","metric":"cosine","dimensions":3,"next_id":2,` +
		`"records":[{"id":1,"vector":[0.1,0.2],"text":"truncated"}]}`
	if err := os.WriteFile(path, []byte(snap), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	_, err := Load(path, "m")
	if !errors.Is(err, ErrCorruptOrMissingIndex) {
		t.Errorf("want ErrCorruptOrMissingIndex, got %v", err)
	}
}

func Test_Open_MissingFileFallsBackToEmpty(t *testing.T) {
	t.Parallel()
	s, err := Open(filepath.Join(t.TempDir(), "absent.json"), "m", MetricCosine)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	n, _ := s.Count(context.Background())
	if n != 0 {
		t.Errorf("want empty store, got %d records", n)
	}
}

func Test_Open_CorruptFileStillFails(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "index.json")
	if err := os.WriteFile(path, []byte("garbage"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	_, err := Open(path, "m", MetricCosine)
	if !errors.Is(err, ErrCorruptOrMissingIndex) {
		t.Errorf("want ErrCorruptOrMissingIndex, got %v", err)
	}
}
