package server

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/qdrant/go-client/qdrant"
)

// HTTPPinger probes an HTTP endpoint and reports healthy on any 2xx
// response. It covers the embedding and generation backends — Ollama's
// /api/tags and the OpenAI-compatible /v1/models routes both answer
// cheaply without consuming model tokens.
type HTTPPinger struct {
	// name identifies the backend in readiness responses (e.g. "ollama").
	name string
	// url is the endpoint probed by Ping.
	url string
	// headers are added to every probe request (e.g. Authorization).
	headers map[string]string
	// client is the HTTP client used for probes.
	client *http.Client
}

// NewHTTPPinger constructs an HTTPPinger for the given endpoint. headers may
// be nil when the endpoint needs no credentials.
func NewHTTPPinger(name, url string, headers map[string]string) *HTTPPinger {
	return &HTTPPinger{
		name:    name,
		url:     url,
		headers: headers,
		client:  &http.Client{Timeout: probeTimeout},
	}
}

// Name returns the backend label used in readiness responses.
func (p *HTTPPinger) Name() string { return p.name }

// Ping sends a GET to the configured endpoint. Any non-2xx status or
// transport failure marks the backend unhealthy.
func (p *HTTPPinger) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return fmt.Errorf("building probe request: %w", err)
	}
	for k, v := range p.headers {
		req.Header.Set(k, v)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("probe failed: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
		resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("probe returned status %d", resp.StatusCode)
	}
	return nil
}

// QdrantPinger probes a Qdrant instance using its native HealthCheck RPC.
// It satisfies the Pinger interface and is used by GET /api/ready.
type QdrantPinger struct {
	// client is the Qdrant gRPC client to probe.
	client *qdrant.Client
}

// NewQdrantPinger constructs a QdrantPinger for the given Qdrant client.
func NewQdrantPinger(client *qdrant.Client) *QdrantPinger {
	return &QdrantPinger{client: client}
}

// Name returns the dependency label used in readiness responses.
func (p *QdrantPinger) Name() string { return "qdrant" }

// Ping calls the Qdrant HealthCheck RPC.
// Returns nil if Qdrant is reachable, or a descriptive error otherwise.
func (p *QdrantPinger) Ping(ctx context.Context) error {
	_, err := p.client.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}
