package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/docrag-go/internal/pipeline"
	"github.com/54b3r/docrag-go/internal/rag"
	"github.com/54b3r/docrag-go/internal/store"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// AskTimeout bounds retrieval plus generation for one POST /api/ask call.
	AskTimeout time.Duration
	// MaxUploadBytes caps the accepted PDF size on POST /api/upload.
	// Defaults to 32 MiB if zero.
	MaxUploadBytes int64
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on rate-limited
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on all protected /api/* routes.
	// If empty, authentication is disabled (development mode).
	APIKey string
	// MetricsRegistry receives the server's Prometheus metrics. Defaults to
	// prometheus.DefaultRegisterer; tests inject a fresh registry.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer backs GET /metrics. Defaults to prometheus.DefaultGatherer.
	MetricsGatherer prometheus.Gatherer
}

// sessionAPI is the interface the handlers call into the QA pipeline.
// *pipeline.Session satisfies it; tests inject a fake.
type sessionAPI interface {
	LoadDocument(ctx context.Context, doc rag.Document) (int, error)
	AnswerQuestion(ctx context.Context, question string) (pipeline.Answer, error)
	ResetIndex(ctx context.Context) error
	Stats(ctx context.Context) (pipeline.Stats, error)
	History(ctx context.Context, n int) ([]store.Turn, error)
}

// Server is the HTTP server that exposes one pipeline.Session.
type Server struct {
	// session is the QA pipeline behind every handler.
	session sessionAPI
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics holds the Prometheus instruments owned by this server.
	metrics *serverMetrics
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// askRequest is the JSON body for POST /api/ask.
type askRequest struct {
	// Question is the user's natural language question.
	Question string `json:"question"`
}

// askResponse is the JSON response for POST /api/ask.
type askResponse struct {
	// Question echoes the question that was answered.
	Question string `json:"question"`
	// Answer is the generated (or fixed no-context) answer text.
	Answer string `json:"answer"`
	// Sources names the documents that contributed retrieved context.
	Sources []string `json:"sources"`
	// Chunks is the number of context chunks retrieval returned.
	Chunks int `json:"chunks"`
}

// uploadResponse is the JSON response for POST /api/upload.
type uploadResponse struct {
	// Source is the uploaded file's name as indexed.
	Source string `json:"source"`
	// Pages is the number of pages extracted from the PDF.
	Pages int `json:"pages"`
	// Chunks is the number of chunks indexed from the document.
	Chunks int `json:"chunks"`
}

// statsResponse is the JSON response for GET /api/stats.
type statsResponse struct {
	// State is the session lifecycle state ("components_ready" or "ready").
	State string `json:"state"`
	// Chunks is the number of indexed chunks.
	Chunks int `json:"chunks"`
	// Documents is the number of distinct source documents.
	Documents int `json:"documents"`
	// Collection is the index name.
	Collection string `json:"collection"`
	// Metric is the similarity metric of the index.
	Metric string `json:"metric"`
}

// historyTurn is one entry in the GET /api/history response.
type historyTurn struct {
	// Question is the user's question as asked.
	Question string `json:"question"`
	// Answer is the answer that was returned.
	Answer string `json:"answer"`
	// Sources is the comma-separated source list recorded with the turn.
	Sources string `json:"sources,omitempty"`
	// CreatedAt is when the turn was recorded, RFC 3339.
	CreatedAt time.Time `json:"createdAt"`
}

// errorResponse is the JSON body for all non-2xx API responses.
type errorResponse struct {
	// Error is a human-readable description of the failure.
	Error string `json:"error"`
}
