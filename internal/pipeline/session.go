// Package pipeline wires the document QA components into a session: load
// PDFs into the vector index, answer questions against it, reset, and report
// stats. A session moves through a small state machine — questions are
// rejected until at least one document is indexed.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/54b3r/docrag-go/internal/budget"
	"github.com/54b3r/docrag-go/internal/generator"
	"github.com/54b3r/docrag-go/internal/logging"
	"github.com/54b3r/docrag-go/internal/pdfload"
	"github.com/54b3r/docrag-go/internal/rag"
	"github.com/54b3r/docrag-go/internal/splitter"
	"github.com/54b3r/docrag-go/internal/store"
)

// State identifies where a session is in its lifecycle.
type State string

const (
	// StateComponentsReady means components are wired but no documents
	// are indexed yet.
	StateComponentsReady State = "components_ready"
	// StateReady means at least one document is indexed and questions are allowed.
	StateReady State = "ready"
)

// Answerer produces a grounded answer from a question and context block.
// Satisfied by *generator.Generator.
type Answerer interface {
	Generate(ctx context.Context, question, contextText string) (string, error)
}

// Config holds the dependencies required to construct a Session.
type Config struct {
	// Splitter chunks document text. Required.
	Splitter *splitter.Splitter

	// Embedder converts text to vectors. Required.
	Embedder rag.Embedder

	// Store is the vector index. Required.
	Store rag.VectorStore

	// Retriever performs similarity search over Store. Required.
	Retriever *rag.Retriever

	// Generator produces answers from retrieved context. Required.
	Generator Answerer

	// History persists question/answer turns. May be nil.
	History store.HistoryStore

	// Collection names this session's index, keying history and snapshots.
	Collection string

	// SnapshotPath is where the index is persisted after each ingest.
	// Ignored when Store does not implement rag.Snapshotter.
	SnapshotPath string

	// RetrievalK is the number of chunks retrieved per question.
	// Defaults to 3 if zero.
	RetrievalK int

	// MaxContextTokens bounds the context block handed to the generator.
	// Defaults to budget.DefaultMaxContextTokens if zero.
	MaxContextTokens int
}

// Answer is the result of one question against the session.
type Answer struct {
	// Text is the generated (or short-circuited) answer.
	Text string
	// Sources names the documents that contributed retrieved context.
	Sources []string
	// Results are the retrieved chunks, best match first.
	Results []rag.SearchResult
}

// Stats describes the session's current index.
type Stats struct {
	// State is the session lifecycle state.
	State State
	// Chunks is the number of indexed chunks.
	Chunks int
	// Documents is the number of distinct source documents.
	Documents int
	// Collection is the index name.
	Collection string
	// Metric is the score semantics of the index.
	Metric rag.Metric
}

// Session orchestrates the QA pipeline over one vector store collection.
// It is safe for concurrent use; ingestion and reset serialize behind a
// write lock while questions share a read lock.
type Session struct {
	splitter  *splitter.Splitter
	embedder  rag.Embedder
	vstore    rag.VectorStore
	retriever *rag.Retriever
	generator Answerer
	history   store.HistoryStore

	collection       string
	snapshotPath     string
	retrievalK       int
	maxContextTokens int

	mu      sync.RWMutex
	state   State
	sources map[string]bool
}

// New constructs a Session. The initial state is StateReady when the store
// already holds chunks (a reloaded snapshot or populated Qdrant collection),
// StateComponentsReady otherwise.
func New(ctx context.Context, cfg *Config) (*Session, error) {
	if cfg.Splitter == nil {
		return nil, fmt.Errorf("pipeline: splitter must not be nil")
	}
	if cfg.Embedder == nil {
		return nil, fmt.Errorf("pipeline: embedder must not be nil")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("pipeline: store must not be nil")
	}
	if cfg.Retriever == nil {
		return nil, fmt.Errorf("pipeline: retriever must not be nil")
	}
	if cfg.Generator == nil {
		return nil, fmt.Errorf("pipeline: generator must not be nil")
	}

	k := cfg.RetrievalK
	if k <= 0 {
		k = 3
	}
	maxCtx := cfg.MaxContextTokens
	if maxCtx <= 0 {
		maxCtx = budget.DefaultMaxContextTokens
	}

	s := &Session{
		splitter:         cfg.Splitter,
		embedder:         cfg.Embedder,
		vstore:           cfg.Store,
		retriever:        cfg.Retriever,
		generator:        cfg.Generator,
		history:          cfg.History,
		collection:       cfg.Collection,
		snapshotPath:     cfg.SnapshotPath,
		retrievalK:       k,
		maxContextTokens: maxCtx,
		state:            StateComponentsReady,
		sources:          make(map[string]bool),
	}

	n, err := cfg.Store.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("pipeline: counting existing chunks: %w", err)
	}
	if n > 0 {
		s.state = StateReady
		if lister, ok := cfg.Store.(rag.SourceLister); ok {
			srcs, err := lister.Sources(ctx)
			if err != nil {
				return nil, fmt.Errorf("pipeline: listing indexed sources: %w", err)
			}
			for _, src := range srcs {
				s.sources[src] = true
			}
		}
		logging.FromContext(ctx).Info("pipeline: resuming with existing index",
			slog.Int("chunks", n),
			slog.Int("documents", len(s.sources)),
			slog.String("collection", cfg.Collection),
		)
	}

	return s, nil
}

// Store returns the vector store backing this session.
func (s *Session) Store() rag.VectorStore {
	return s.vstore
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// LoadFile extracts, chunks, embeds, and indexes the PDF at path.
// Returns the number of chunks indexed.
func (s *Session) LoadFile(ctx context.Context, path string) (int, error) {
	doc, err := pdfload.Load(path)
	if err != nil {
		return 0, err
	}
	return s.LoadDocument(ctx, doc)
}

// LoadDocument chunks, embeds, and indexes an already-extracted document.
// A document with no extractable text fails with ErrDocumentUnreadable.
// On success the index is snapshotted (when the store supports it) and the
// session becomes ready.
func (s *Session) LoadDocument(ctx context.Context, doc rag.Document) (int, error) {
	log := logging.FromContext(ctx)

	chunks := s.splitter.SplitDocument(doc)
	if len(chunks) == 0 {
		return 0, fmt.Errorf("pipeline: %w: %s contains no extractable text", rag.ErrDocumentUnreadable, doc.Source)
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("pipeline: embedding %d chunks from %s: %w", len(chunks), doc.Source, err)
	}
	if len(vectors) != len(chunks) {
		return 0, fmt.Errorf("pipeline: embedder returned %d vectors for %d chunks", len(vectors), len(chunks))
	}

	records := make([]rag.Record, len(chunks))
	for i, c := range chunks {
		records[i] = rag.Record{
			Vector: vectors[i],
			Text:   c.Text,
			Metadata: map[string]string{
				"source":       doc.Source,
				"page_count":   strconv.Itoa(doc.PageCount),
				"chunk_index":  strconv.Itoa(c.Index),
				"total_chunks": strconv.Itoa(c.Total),
			},
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.vstore.Insert(ctx, records); err != nil {
		return 0, fmt.Errorf("pipeline: indexing %s: %w", doc.Source, err)
	}
	s.sources[doc.Source] = true
	s.state = StateReady

	if err := s.snapshotLocked(); err != nil {
		// The index is live; a failed snapshot costs durability, not correctness.
		log.Warn("pipeline: snapshot failed after ingest", slog.Any("error", err))
	}

	log.Info("pipeline: document indexed",
		slog.String("source", doc.Source),
		slog.Int("pages", doc.PageCount),
		slog.Int("chunks", len(chunks)),
	)
	return len(chunks), nil
}

// DirectoryResult reports the outcome of a directory ingest.
type DirectoryResult struct {
	// Loaded is the number of documents successfully indexed.
	Loaded int
	// Chunks is the total number of chunks indexed.
	Chunks int
	// Failed names the files that could not be ingested.
	Failed []string
}

// LoadDirectory ingests every .pdf file directly inside dir. A file that
// fails to extract or index is logged and skipped; the rest still load.
func (s *Session) LoadDirectory(ctx context.Context, dir string) (DirectoryResult, error) {
	log := logging.FromContext(ctx)

	var result DirectoryResult
	entries, err := os.ReadDir(dir)
	if err != nil {
		return result, fmt.Errorf("pipeline: reading %s: %w", dir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".pdf") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		n, err := s.LoadFile(ctx, path)
		if err != nil {
			log.Warn("pipeline: skipping document",
				slog.String("path", path),
				slog.Any("error", err),
			)
			result.Failed = append(result.Failed, entry.Name())
			continue
		}
		result.Loaded++
		result.Chunks += n
	}

	if result.Loaded == 0 && len(result.Failed) == 0 {
		return result, fmt.Errorf("pipeline: no PDF files found in %s", dir)
	}
	return result, nil
}

// AnswerQuestion retrieves context for question and generates an answer.
// Fails fast with ErrNotReady before any documents are loaded. When
// retrieval comes back empty the fixed no-context answer is returned without
// calling the model. Successful turns are appended to history.
func (s *Session) AnswerQuestion(ctx context.Context, question string) (Answer, error) {
	log := logging.FromContext(ctx)

	if strings.TrimSpace(question) == "" {
		return Answer{}, fmt.Errorf("pipeline: %w: question must not be empty", rag.ErrInvalidConfiguration)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.state != StateReady {
		return Answer{}, fmt.Errorf("pipeline: %w", rag.ErrNotReady)
	}

	results, err := s.retriever.Retrieve(ctx, question, s.retrievalK)
	if err != nil {
		return Answer{}, fmt.Errorf("pipeline: retrieval failed: %w", err)
	}

	if len(results) == 0 {
		answer := Answer{Text: generator.NoContextAnswer}
		s.appendHistory(ctx, question, answer)
		return answer, nil
	}

	kept := budget.TrimResults(results, s.maxContextTokens)
	answer := Answer{Results: kept, Sources: sourceNames(kept)}
	contextText := rag.FormatContext(kept)
	log.Debug("pipeline: answering",
		slog.Int("retrieved", len(results)),
		slog.Int("kept", len(kept)),
		slog.Int("context_tokens", budget.Estimate(contextText)),
	)

	text, err := s.generator.Generate(ctx, question, contextText)
	if err != nil {
		return Answer{}, fmt.Errorf("pipeline: generation failed: %w", err)
	}
	answer.Text = text

	s.appendHistory(ctx, question, answer)
	return answer, nil
}

// ResetIndex discards all indexed chunks, removes the on-disk snapshot,
// clears the collection's history, and returns the session to the
// components-ready state.
func (s *Session) ResetIndex(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.vstore.Reset(ctx); err != nil {
		return fmt.Errorf("pipeline: reset failed: %w", err)
	}
	s.sources = make(map[string]bool)
	s.state = StateComponentsReady

	if s.snapshotPath != "" {
		if err := os.Remove(s.snapshotPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("pipeline: removing snapshot: %w", err)
		}
	}

	if s.history != nil {
		if err := s.history.Clear(ctx, s.collection); err != nil {
			logging.FromContext(ctx).Warn("pipeline: failed to clear history", slog.Any("error", err))
		}
	}

	logging.FromContext(ctx).Info("pipeline: index reset", slog.String("collection", s.collection))
	return nil
}

// Stats reports the session state and index size.
func (s *Session) Stats(ctx context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, err := s.vstore.Count(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("pipeline: count failed: %w", err)
	}
	return Stats{
		State:      s.state,
		Chunks:     n,
		Documents:  len(s.sources),
		Collection: s.collection,
		Metric:     s.vstore.Metric(),
	}, nil
}

// History returns the most recent n turns, oldest first. Returns nil when no
// history store is configured.
func (s *Session) History(ctx context.Context, n int) ([]store.Turn, error) {
	if s.history == nil {
		return nil, nil
	}
	return s.history.Recent(ctx, s.collection, n) //nolint:wrapcheck // passthrough
}

// Close releases the vector store and history resources.
func (s *Session) Close() error {
	var firstErr error
	if err := s.vstore.Close(); err != nil {
		firstErr = err
	}
	if s.history != nil {
		if err := s.history.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// snapshotLocked persists the index when the store supports snapshots.
// Callers must hold the write lock.
func (s *Session) snapshotLocked() error {
	snap, ok := s.vstore.(rag.Snapshotter)
	if !ok || s.snapshotPath == "" {
		return nil
	}
	return snap.Save(s.snapshotPath) //nolint:wrapcheck // passthrough
}

// appendHistory persists a turn, logging rather than failing on error.
func (s *Session) appendHistory(ctx context.Context, question string, answer Answer) {
	if s.history == nil {
		return
	}
	turn := store.Turn{
		Question: question,
		Answer:   answer.Text,
		Sources:  strings.Join(answer.Sources, ", "),
	}
	if err := s.history.Append(ctx, s.collection, turn); err != nil {
		logging.FromContext(ctx).Warn("pipeline: failed to persist history turn", slog.Any("error", err))
	}
}

// sourceNames returns the distinct source documents of results in rank order.
func sourceNames(results []rag.SearchResult) []string {
	seen := make(map[string]bool)
	var names []string
	for _, r := range results {
		src := r.Metadata["source"]
		if src == "" || seen[src] {
			continue
		}
		seen[src] = true
		names = append(names, src)
	}
	return names
}

