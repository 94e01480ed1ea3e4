package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/54b3r/docrag-go/internal/generator"
	"github.com/54b3r/docrag-go/internal/rag"
	"github.com/54b3r/docrag-go/internal/splitter"
	"github.com/54b3r/docrag-go/internal/store"
)

// wordEmbedder maps text onto a 3-dimensional vector counting occurrences of
// three marker words, so tests get deterministic, meaningful similarity.
type wordEmbedder struct {
	err error
}

func (w *wordEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if w.err != nil {
		return nil, w.err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		lower := strings.ToLower(text)
		out[i] = []float32{
			float32(strings.Count(lower, "vacation")),
			float32(strings.Count(lower, "expense")),
			// Constant component keeps zero-match queries comparable.
			1,
		}
	}
	return out, nil
}

// echoAnswerer returns a canned answer and records the context it saw.
type echoAnswerer struct {
	contextSeen string
	err         error
}

func (e *echoAnswerer) Generate(_ context.Context, _, contextText string) (string, error) {
	if e.err != nil {
		return "", e.err
	}
	if strings.TrimSpace(contextText) == "" {
		return generator.NoContextAnswer, nil
	}
	e.contextSeen = contextText
	return "generated answer", nil
}

type sessionOpts struct {
	threshold *float32
	history   store.HistoryStore
	answerer  Answerer
	embedder  rag.Embedder
	snapshot  string
}

func newTestSession(t *testing.T, opts sessionOpts) *Session {
	t.Helper()

	emb := opts.embedder
	if emb == nil {
		emb = &wordEmbedder{}
	}
	vstore, err := rag.NewFlatStore("test-model", rag.MetricCosine)
	if err != nil {
		t.Fatalf("NewFlatStore: %v", err)
	}
	split, err := splitter.New(200, 20, nil)
	if err != nil {
		t.Fatalf("splitter.New: %v", err)
	}
	retr, err := rag.NewRetriever(emb, vstore, 3, opts.threshold)
	if err != nil {
		t.Fatalf("NewRetriever: %v", err)
	}
	ans := opts.answerer
	if ans == nil {
		ans = &echoAnswerer{}
	}

	sess, err := New(context.Background(), &Config{
		Splitter:     split,
		Embedder:     emb,
		Store:        vstore,
		Retriever:    retr,
		Generator:    ans,
		History:      opts.history,
		Collection:   "documents",
		SnapshotPath: opts.snapshot,
	})
	if err != nil {
		t.Fatalf("pipeline.New: %v", err)
	}
	t.Cleanup(func() { _ = sess.Close() })
	return sess
}

func vacationDoc() rag.Document {
	return rag.Document{
		Text:      "Employees receive 25 vacation days per year.\n\nVacation requests need manager approval.",
		PageCount: 2,
		Source:    "handbook.pdf",
	}
}

func Test_Session_StartsNotReady(t *testing.T) {
	t.Parallel()
	sess := newTestSession(t, sessionOpts{})
	if got := sess.State(); got != StateComponentsReady {
		t.Errorf("initial state = %q, want %q", got, StateComponentsReady)
	}

	_, err := sess.AnswerQuestion(context.Background(), "anything")
	if !errors.Is(err, rag.ErrNotReady) {
		t.Errorf("want ErrNotReady before ingest, got %v", err)
	}
}

func Test_Session_LoadDocumentMakesReady(t *testing.T) {
	t.Parallel()
	sess := newTestSession(t, sessionOpts{})
	n, err := sess.LoadDocument(context.Background(), vacationDoc())
	if err != nil {
		t.Fatalf("LoadDocument: %v", err)
	}
	if n == 0 {
		t.Fatal("want at least one chunk indexed")
	}
	if got := sess.State(); got != StateReady {
		t.Errorf("state after ingest = %q, want %q", got, StateReady)
	}
}

func Test_Session_LoadDocumentEmptyText(t *testing.T) {
	t.Parallel()
	sess := newTestSession(t, sessionOpts{})
	_, err := sess.LoadDocument(context.Background(), rag.Document{Source: "blank.pdf", Text: "   "})
	if !errors.Is(err, rag.ErrDocumentUnreadable) {
		t.Errorf("want ErrDocumentUnreadable, got %v", err)
	}
	if sess.State() != StateComponentsReady {
		t.Error("failed ingest must not make the session ready")
	}
}

func Test_Session_LoadDocumentEmbedderFailure(t *testing.T) {
	t.Parallel()
	sess := newTestSession(t, sessionOpts{embedder: &wordEmbedder{err: rag.ErrBackendUnavailable}})
	_, err := sess.LoadDocument(context.Background(), vacationDoc())
	if !errors.Is(err, rag.ErrBackendUnavailable) {
		t.Errorf("want ErrBackendUnavailable, got %v", err)
	}
}

func Test_Session_AnswerQuestion(t *testing.T) {
	t.Parallel()
	ans := &echoAnswerer{}
	sess := newTestSession(t, sessionOpts{answerer: ans})
	if _, err := sess.LoadDocument(context.Background(), vacationDoc()); err != nil {
		t.Fatalf("LoadDocument: %v", err)
	}

	got, err := sess.AnswerQuestion(context.Background(), "How much vacation do employees get?")
	if err != nil {
		t.Fatalf("AnswerQuestion: %v", err)
	}
	if got.Text != "generated answer" {
		t.Errorf("answer = %q", got.Text)
	}
	if len(got.Results) == 0 {
		t.Fatal("want retrieved results")
	}
	if len(got.Sources) != 1 || got.Sources[0] != "handbook.pdf" {
		t.Errorf("sources = %v", got.Sources)
	}
	if !strings.Contains(ans.contextSeen, "vacation") {
		t.Errorf("generator context missing retrieved text: %q", ans.contextSeen)
	}
}

func Test_Session_AnswerQuestionEmptyQuestion(t *testing.T) {
	t.Parallel()
	sess := newTestSession(t, sessionOpts{})
	if _, err := sess.LoadDocument(context.Background(), vacationDoc()); err != nil {
		t.Fatalf("LoadDocument: %v", err)
	}
	_, err := sess.AnswerQuestion(context.Background(), "   ")
	if !errors.Is(err, rag.ErrInvalidConfiguration) {
		t.Errorf("want ErrInvalidConfiguration, got %v", err)
	}
}

func Test_Session_EmptyRetrievalShortCircuits(t *testing.T) {
	t.Parallel()
	// A tight distance threshold rejects every match.
	bound := float32(0.0001)
	ans := &echoAnswerer{err: errors.New("generator must not be called")}
	sess := newTestSession(t, sessionOpts{threshold: &bound, answerer: ans})
	if _, err := sess.LoadDocument(context.Background(), vacationDoc()); err != nil {
		t.Fatalf("LoadDocument: %v", err)
	}

	got, err := sess.AnswerQuestion(context.Background(), "expense expense expense")
	if err != nil {
		t.Fatalf("AnswerQuestion: %v", err)
	}
	if got.Text != generator.NoContextAnswer {
		t.Errorf("want fixed no-context answer, got %q", got.Text)
	}
	if len(got.Results) != 0 {
		t.Errorf("want no results, got %d", len(got.Results))
	}
}

func Test_Session_GeneratorFailurePropagates(t *testing.T) {
	t.Parallel()
	ans := &echoAnswerer{err: rag.ErrBackendUnavailable}
	sess := newTestSession(t, sessionOpts{answerer: ans})
	if _, err := sess.LoadDocument(context.Background(), vacationDoc()); err != nil {
		t.Fatalf("LoadDocument: %v", err)
	}
	_, err := sess.AnswerQuestion(context.Background(), "How much vacation?")
	if !errors.Is(err, rag.ErrBackendUnavailable) {
		t.Errorf("want ErrBackendUnavailable, got %v", err)
	}
}

func Test_Session_ResetReturnsToComponentsReady(t *testing.T) {
	t.Parallel()
	sess := newTestSession(t, sessionOpts{})
	if _, err := sess.LoadDocument(context.Background(), vacationDoc()); err != nil {
		t.Fatalf("LoadDocument: %v", err)
	}
	if err := sess.ResetIndex(context.Background()); err != nil {
		t.Fatalf("ResetIndex: %v", err)
	}
	if got := sess.State(); got != StateComponentsReady {
		t.Errorf("state after reset = %q, want %q", got, StateComponentsReady)
	}
	_, err := sess.AnswerQuestion(context.Background(), "anything")
	if !errors.Is(err, rag.ErrNotReady) {
		t.Errorf("want ErrNotReady after reset, got %v", err)
	}

	stats, err := sess.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Chunks != 0 || stats.Documents != 0 {
		t.Errorf("stats after reset = %+v", stats)
	}
}

func Test_Session_Stats(t *testing.T) {
	t.Parallel()
	sess := newTestSession(t, sessionOpts{})
	if _, err := sess.LoadDocument(context.Background(), vacationDoc()); err != nil {
		t.Fatalf("LoadDocument: %v", err)
	}

	stats, err := sess.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.State != StateReady {
		t.Errorf("stats state = %q", stats.State)
	}
	if stats.Chunks == 0 || stats.Documents != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.Collection != "documents" || stats.Metric != rag.MetricCosine {
		t.Errorf("stats identity = %+v", stats)
	}
}

func Test_Session_SnapshotWrittenAndResumed(t *testing.T) {
	t.Parallel()
	snapshot := filepath.Join(t.TempDir(), "documents.json")
	sess := newTestSession(t, sessionOpts{snapshot: snapshot})
	if _, err := sess.LoadDocument(context.Background(), vacationDoc()); err != nil {
		t.Fatalf("LoadDocument: %v", err)
	}

	// A fresh session over the reloaded snapshot starts ready.
	loaded, err := rag.Load(snapshot, "test-model")
	if err != nil {
		t.Fatalf("Load snapshot: %v", err)
	}
	emb := &wordEmbedder{}
	split, err := splitter.New(200, 20, nil)
	if err != nil {
		t.Fatalf("splitter.New: %v", err)
	}
	retr, err := rag.NewRetriever(emb, loaded, 3, nil)
	if err != nil {
		t.Fatalf("NewRetriever: %v", err)
	}
	resumed, err := New(context.Background(), &Config{
		Splitter:     split,
		Embedder:     emb,
		Store:        loaded,
		Retriever:    retr,
		Generator:    &echoAnswerer{},
		Collection:   "documents",
		SnapshotPath: snapshot,
	})
	if err != nil {
		t.Fatalf("pipeline.New: %v", err)
	}
	defer resumed.Close()

	if got := resumed.State(); got != StateReady {
		t.Errorf("resumed state = %q, want %q", got, StateReady)
	}
	stats, err := resumed.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Documents != 1 {
		t.Errorf("resumed document count = %d, want 1", stats.Documents)
	}
	if stats.Chunks == 0 {
		t.Errorf("resumed chunk count = 0, want > 0")
	}
}

func Test_Session_HistoryPersisted(t *testing.T) {
	t.Parallel()
	hist, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	sess := newTestSession(t, sessionOpts{history: hist})
	if _, err := sess.LoadDocument(context.Background(), vacationDoc()); err != nil {
		t.Fatalf("LoadDocument: %v", err)
	}

	if _, err := sess.AnswerQuestion(context.Background(), "How much vacation?"); err != nil {
		t.Fatalf("AnswerQuestion: %v", err)
	}

	turns, err := sess.History(context.Background(), 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(turns) != 1 {
		t.Fatalf("want 1 turn, got %d", len(turns))
	}
	if turns[0].Question != "How much vacation?" || turns[0].Answer != "generated answer" {
		t.Errorf("turn = %+v", turns[0])
	}
	if turns[0].Sources != "handbook.pdf" {
		t.Errorf("sources = %q", turns[0].Sources)
	}
}

func Test_Session_ResetClearsHistory(t *testing.T) {
	t.Parallel()
	hist, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	sess := newTestSession(t, sessionOpts{history: hist})
	if _, err := sess.LoadDocument(context.Background(), vacationDoc()); err != nil {
		t.Fatalf("LoadDocument: %v", err)
	}
	if _, err := sess.AnswerQuestion(context.Background(), "How much vacation?"); err != nil {
		t.Fatalf("AnswerQuestion: %v", err)
	}

	if err := sess.ResetIndex(context.Background()); err != nil {
		t.Fatalf("ResetIndex: %v", err)
	}

	turns, err := sess.History(context.Background(), 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(turns) != 0 {
		t.Errorf("want empty history after reset, got %d turns", len(turns))
	}
}
