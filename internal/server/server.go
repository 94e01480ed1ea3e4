// Package server implements the HTTP server that exposes a document QA
// session via a REST API: upload PDFs, ask questions, inspect stats and
// history, reset the index. The server is started by the `docrag serve`
// CLI command.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/54b3r/docrag-go/internal/logging"
	"github.com/54b3r/docrag-go/internal/pdfload"
	"github.com/54b3r/docrag-go/internal/pipeline"
	"github.com/54b3r/docrag-go/internal/rag"
)

// defaultMaxUploadBytes caps PDF uploads when no explicit limit is configured.
const defaultMaxUploadBytes = 32 << 20

// defaultHistoryLimit is the number of turns GET /api/history returns when
// the n query parameter is absent.
const defaultHistoryLimit = 20

// New constructs a Server exposing the given session.
func New(session *pipeline.Session, cfg *Config) (*Server, error) {
	if session == nil {
		return nil, fmt.Errorf("server: session must not be nil")
	}
	return newServer(session, cfg)
}

// newServer is the interface-typed constructor shared with tests.
func newServer(session sessionAPI, cfg *Config) (*Server, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		// WriteTimeout covers generation, which can take minutes on CPU.
		cfg.WriteTimeout = 5 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.AskTimeout == 0 {
		cfg.AskTimeout = 2 * time.Minute
	}
	if cfg.MaxUploadBytes == 0 {
		cfg.MaxUploadBytes = defaultMaxUploadBytes
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New()
	}
	if cfg.MetricsRegistry == nil {
		cfg.MetricsRegistry = prometheus.DefaultRegisterer
	}
	if cfg.MetricsGatherer == nil {
		cfg.MetricsGatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		session: session,
		cfg:     cfg,
		log:     cfg.Logger,
		pingers: cfg.Pingers,
		metrics: newServerMetrics(cfg.MetricsRegistry),
	}

	if cfg.APIKey == "" {
		s.log.Warn("server: no API key configured — authentication disabled")
	}

	rl, stopRL := newRateLimiter(cfg.RateLimit, cfg.RateBurst, s.log)
	s.stopRL = stopRL

	protected := func(name string, h http.HandlerFunc) http.Handler {
		return s.instrument(name, authMiddleware(cfg.APIKey, rl.middleware(h)))
	}

	mux := http.NewServeMux()
	mux.Handle("POST /api/upload", protected("upload", s.handleUpload))
	mux.Handle("POST /api/ask", protected("ask", s.handleAsk))
	mux.Handle("POST /api/reset", protected("reset", s.handleReset))
	mux.Handle("GET /api/stats", protected("stats", s.handleStats))
	mux.Handle("GET /api/history", protected("history", s.handleHistory))
	mux.Handle("GET /api/health", s.instrument("health", http.HandlerFunc(s.handleHealth)))
	mux.Handle("GET /api/ready", s.instrument("ready", http.HandlerFunc(s.handleReady)))
	mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.MetricsGatherer, promhttp.HandlerOpts{}))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      requestLogger(s.log, mux),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.log.Info("server: listening", slog.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		s.stopRL()
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		s.stopRL()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}

// handleUpload handles POST /api/upload. It accepts a multipart form with a
// "file" part containing a PDF, extracts and indexes it, and reports the
// chunk count.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "multipart form with a \"file\" part is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, fmt.Sprintf("reading upload: %v", err))
		return
	}

	// The base name keeps client paths out of the index.
	source := filepath.Base(header.Filename)
	if source == "" || source == "." || source == string(filepath.Separator) {
		source = "upload.pdf"
	}

	doc, err := pdfload.LoadBytes(data, source)
	if err != nil {
		s.metrics.uploadsTotal.WithLabelValues("unreadable").Inc()
		writeError(w, r, statusFor(err), err.Error())
		return
	}

	chunks, err := s.session.LoadDocument(r.Context(), doc)
	if err != nil {
		s.metrics.uploadsTotal.WithLabelValues("error").Inc()
		writeError(w, r, statusFor(err), err.Error())
		return
	}

	s.metrics.uploadsTotal.WithLabelValues("ok").Inc()
	s.metrics.chunksIndexedTotal.Add(float64(chunks))
	writeJSON(w, r, http.StatusOK, uploadResponse{
		Source: source,
		Pages:  doc.PageCount,
		Chunks: chunks,
	})
}

// handleAsk handles POST /api/ask. It answers the question against the
// indexed documents and reports the contributing sources.
func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(w, r, http.StatusBadRequest, "question is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.AskTimeout)
	defer cancel()

	start := time.Now()
	answer, err := s.session.AnswerQuestion(ctx, req.Question)
	if err != nil {
		outcome := "error"
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			outcome = "timeout"
		}
		s.metrics.askRequestsTotal.WithLabelValues(outcome).Inc()
		writeError(w, r, statusFor(err), err.Error())
		return
	}

	s.metrics.askRequestsTotal.WithLabelValues("ok").Inc()
	s.metrics.askDurationSeconds.WithLabelValues("ok").Observe(time.Since(start).Seconds())
	writeJSON(w, r, http.StatusOK, askResponse{
		Question: req.Question,
		Answer:   answer.Text,
		Sources:  answer.Sources,
		Chunks:   len(answer.Results),
	})
}

// handleReset handles POST /api/reset, discarding the whole index.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.session.ResetIndex(r.Context()); err != nil {
		writeError(w, r, statusFor(err), err.Error())
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "reset"})
}

// handleStats handles GET /api/stats.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.session.Stats(r.Context())
	if err != nil {
		writeError(w, r, statusFor(err), err.Error())
		return
	}
	writeJSON(w, r, http.StatusOK, statsResponse{
		State:      string(stats.State),
		Chunks:     stats.Chunks,
		Documents:  stats.Documents,
		Collection: stats.Collection,
		Metric:     string(stats.Metric),
	})
}

// handleHistory handles GET /api/history?n=20, oldest turn first.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	n := defaultHistoryLimit
	if raw := r.URL.Query().Get("n"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeError(w, r, http.StatusBadRequest, "n must be a positive integer")
			return
		}
		n = parsed
	}

	turns, err := s.session.History(r.Context(), n)
	if err != nil {
		writeError(w, r, statusFor(err), err.Error())
		return
	}

	out := make([]historyTurn, len(turns))
	for i, t := range turns {
		out[i] = historyTurn{
			Question:  t.Question,
			Answer:    t.Answer,
			Sources:   t.Sources,
			CreatedAt: t.CreatedAt,
		}
	}
	writeJSON(w, r, http.StatusOK, out)
}

// handleHealth handles GET /api/health for liveness checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

// statusFor maps pipeline and index errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, rag.ErrNotReady):
		return http.StatusConflict
	case errors.Is(err, rag.ErrInvalidConfiguration),
		errors.Is(err, rag.ErrDocumentUnreadable):
		return http.StatusBadRequest
	case errors.Is(err, rag.ErrBackendUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON encodes v as the response body with the given status.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.FromContext(r.Context()).Error("server: encode response", slog.Any("error", err))
	}
}

// writeError encodes a JSON error body with the given status.
func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeJSON(w, r, status, errorResponse{Error: msg})
}
