package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/docrag-go/internal/pipeline"
	"github.com/54b3r/docrag-go/internal/rag"
	"github.com/54b3r/docrag-go/internal/store"
)

// fakeSession implements sessionAPI for handler tests.
type fakeSession struct {
	answer      pipeline.Answer
	askErr      error
	loadChunks  int
	loadErr     error
	resetErr    error
	resetCalled bool
	stats       pipeline.Stats
	statsErr    error
	turns       []store.Turn
	historyErr  error
}

func (f *fakeSession) LoadDocument(_ context.Context, _ rag.Document) (int, error) {
	return f.loadChunks, f.loadErr
}

func (f *fakeSession) AnswerQuestion(_ context.Context, _ string) (pipeline.Answer, error) {
	return f.answer, f.askErr
}

func (f *fakeSession) ResetIndex(_ context.Context) error {
	f.resetCalled = true
	return f.resetErr
}

func (f *fakeSession) Stats(_ context.Context) (pipeline.Stats, error) {
	return f.stats, f.statsErr
}

func (f *fakeSession) History(_ context.Context, _ int) ([]store.Turn, error) {
	return f.turns, f.historyErr
}

// newTestServer builds a Server over fake with an isolated metrics registry
// and the full middleware chain wired, so requests exercise routing, auth,
// and rate limiting exactly as in production.
func newTestServer(t *testing.T, fake *fakeSession, mutate ...func(*Config)) *Server {
	t.Helper()
	reg := prometheus.NewRegistry()
	cfg := &Config{
		MetricsRegistry: reg,
		MetricsGatherer: reg,
		// A generous limit keeps rate limiting out of unrelated tests.
		RateLimit: 1000,
		RateBurst: 1000,
	}
	for _, m := range mutate {
		m(cfg)
	}
	s, err := newServer(fake, cfg)
	if err != nil {
		t.Fatalf("newServer: %v", err)
	}
	t.Cleanup(s.stopRL)
	return s
}

// do routes req through the server's full handler chain.
func do(s *Server, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(w, req)
	return w
}

func jsonRequest(method, path, body string) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func Test_HandleAsk_OK(t *testing.T) {
	t.Parallel()
	fake := &fakeSession{answer: pipeline.Answer{
		Text:    "25 days per year",
		Sources: []string{"handbook.pdf"},
		Results: []rag.SearchResult{{Text: "chunk"}},
	}}
	s := newTestServer(t, fake)

	w := do(s, jsonRequest(http.MethodPost, "/api/ask", `{"question":"How much vacation?"}`))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d — body: %s", w.Code, w.Body.String())
	}
	var resp askResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Question != "How much vacation?" {
		t.Errorf("question = %q", resp.Question)
	}
	if resp.Answer != "25 days per year" {
		t.Errorf("answer = %q", resp.Answer)
	}
	if len(resp.Sources) != 1 || resp.Sources[0] != "handbook.pdf" {
		t.Errorf("sources = %v", resp.Sources)
	}
	if resp.Chunks != 1 {
		t.Errorf("chunks = %d", resp.Chunks)
	}
}

func Test_HandleAsk_InvalidBody(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, &fakeSession{})

	w := do(s, jsonRequest(http.MethodPost, "/api/ask", `{not json`))
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid JSON, got %d", w.Code)
	}
}

func Test_HandleAsk_MissingQuestion(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, &fakeSession{})

	w := do(s, jsonRequest(http.MethodPost, "/api/ask", `{"question":"  "}`))
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for blank question, got %d", w.Code)
	}
}

func Test_HandleAsk_NotReady(t *testing.T) {
	t.Parallel()
	fake := &fakeSession{askErr: fmt.Errorf("pipeline: %w", rag.ErrNotReady)}
	s := newTestServer(t, fake)

	w := do(s, jsonRequest(http.MethodPost, "/api/ask", `{"question":"anything"}`))
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 before any documents are indexed, got %d", w.Code)
	}
	var resp errorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Error == "" {
		t.Error("expected non-empty error body")
	}
}

func Test_HandleAsk_BackendUnavailable(t *testing.T) {
	t.Parallel()
	fake := &fakeSession{askErr: fmt.Errorf("generation failed: %w", rag.ErrBackendUnavailable)}
	s := newTestServer(t, fake)

	w := do(s, jsonRequest(http.MethodPost, "/api/ask", `{"question":"anything"}`))
	if w.Code != http.StatusBadGateway {
		t.Errorf("expected 502 when the model backend is down, got %d", w.Code)
	}
}

func multipartUpload(t *testing.T, field, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, filename)
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	if _, err := fw.Write(content); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func Test_HandleUpload_MissingFilePart(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, &fakeSession{})

	body, contentType := multipartUpload(t, "wrong-field", "doc.pdf", []byte("data"))
	req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
	req.Header.Set("Content-Type", contentType)

	w := do(s, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without a file part, got %d", w.Code)
	}
}

func Test_HandleUpload_NotAPDF(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, &fakeSession{})

	body, contentType := multipartUpload(t, "file", "notes.pdf", []byte("plain text, not a PDF"))
	req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
	req.Header.Set("Content-Type", contentType)

	w := do(s, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unparseable PDF, got %d — body: %s", w.Code, w.Body.String())
	}
}

func Test_HandleStats_OK(t *testing.T) {
	t.Parallel()
	fake := &fakeSession{stats: pipeline.Stats{
		State:      pipeline.StateReady,
		Chunks:     42,
		Documents:  3,
		Collection: "documents",
		Metric:     rag.MetricCosine,
	}}
	s := newTestServer(t, fake)

	w := do(s, httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp statsResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.State != "ready" || resp.Chunks != 42 || resp.Documents != 3 {
		t.Errorf("stats = %+v", resp)
	}
	if resp.Metric != "cosine" {
		t.Errorf("metric = %q", resp.Metric)
	}
}

func Test_HandleReset_OK(t *testing.T) {
	t.Parallel()
	fake := &fakeSession{}
	s := newTestServer(t, fake)

	w := do(s, httptest.NewRequest(http.MethodPost, "/api/reset", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !fake.resetCalled {
		t.Error("expected ResetIndex to be called")
	}
}

func Test_HandleHistory_OK(t *testing.T) {
	t.Parallel()
	fake := &fakeSession{turns: []store.Turn{
		{Question: "q1", Answer: "a1", Sources: "doc.pdf", CreatedAt: time.Now()},
		{Question: "q2", Answer: "a2", CreatedAt: time.Now()},
	}}
	s := newTestServer(t, fake)

	w := do(s, httptest.NewRequest(http.MethodGet, "/api/history?n=5", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp []historyTurn
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp) != 2 || resp[0].Question != "q1" || resp[1].Answer != "a2" {
		t.Errorf("history = %+v", resp)
	}
}

func Test_HandleHistory_BadLimit(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, &fakeSession{})

	for _, n := range []string{"0", "-3", "abc"} {
		w := do(s, httptest.NewRequest(http.MethodGet, "/api/history?n="+n, nil))
		if w.Code != http.StatusBadRequest {
			t.Errorf("n=%q: expected 400, got %d", n, w.Code)
		}
	}
}

func Test_HandleHealth_OK(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, &fakeSession{})

	w := do(s, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: expected application/json, got %q", ct)
	}
	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %q", body["status"])
	}
}

func Test_ProtectedRoutesRequireAuth(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, &fakeSession{}, func(cfg *Config) {
		cfg.APIKey = "secret"
	})

	// No token — rejected.
	w := do(s, httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", w.Code)
	}

	// Health stays open for probes.
	w = do(s, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if w.Code != http.StatusOK {
		t.Errorf("expected 200 for unauthenticated /api/health, got %d", w.Code)
	}

	// Correct token — allowed.
	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	req.Header.Set("Authorization", "Bearer secret")
	w = do(s, req)
	if w.Code != http.StatusOK {
		t.Errorf("expected 200 with token, got %d — body: %s", w.Code, w.Body.String())
	}
}

func Test_New_NilSession(t *testing.T) {
	t.Parallel()
	if _, err := New(nil, &Config{}); err == nil {
		t.Error("expected error for nil session")
	}
}
