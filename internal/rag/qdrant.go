package rag

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/qdrant/go-client/qdrant"
)

// QdrantConfig holds connection parameters for a Qdrant vector store instance.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// Collection is the Qdrant collection name to use.
	Collection string

	// VectorSize is the dimensionality of the embeddings stored in this collection.
	VectorSize uint64

	// Metric selects the score semantics (default: cosine).
	Metric Metric

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// QdrantStore implements VectorStore backed by a Qdrant instance. Persistence
// is server-side, so QdrantStore does not implement Snapshotter. Scores are
// normalized to the same convention as FlatStore: cosine and l2 report
// distances (lower is better), dot reports similarity (higher is better).
type QdrantStore struct {
	// client is the underlying Qdrant gRPC client.
	client *qdrant.Client

	// cfg holds the resolved configuration for this store.
	cfg *QdrantConfig

	// nextID assigns numeric point IDs within this process.
	nextID atomic.Uint64
}

// NewQdrantStore creates a new QdrantStore, ensuring the target collection
// exists (creating it if necessary), and returns a ready-to-use VectorStore.
func NewQdrantStore(ctx context.Context, cfg *QdrantConfig) (*QdrantStore, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	if cfg.Metric == "" {
		cfg.Metric = MetricCosine
	}
	if !cfg.Metric.Valid() {
		return nil, fmt.Errorf("qdrant: %w: unknown distance metric %q", ErrInvalidConfiguration, cfg.Metric)
	}

	clientCfg := &qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	}

	client, err := qdrant.NewClient(clientCfg)
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create client: %w", err)
	}

	store := &QdrantStore{client: client, cfg: cfg}
	if err := store.ensureCollection(ctx); err != nil {
		return nil, err
	}

	// Seed the ID sequence past any persisted points. Upsert replaces a
	// point whose ID already exists, so restarting at 1 over a non-empty
	// collection would silently drop earlier records.
	maxID, err := store.maxPointID(ctx)
	if err != nil {
		return nil, err
	}
	store.nextID.Store(maxID + 1)

	return store, nil
}

// scrollPageSize bounds the per-page point count when scanning IDs.
const scrollPageSize = uint32(1000)

// maxPointID scans the collection and returns its largest numeric point ID,
// or 0 when the collection is empty.
func (s *QdrantStore) maxPointID(ctx context.Context) (uint64, error) {
	var (
		max    uint64
		offset *qdrant.PointId
	)
	limit := scrollPageSize
	for {
		points, next, err := s.client.ScrollAndOffset(ctx, &qdrant.ScrollPoints{
			CollectionName: s.cfg.Collection,
			Limit:          &limit,
			Offset:         offset,
			WithPayload:    qdrant.NewWithPayload(false),
			WithVectors:    qdrant.NewWithVectors(false),
		})
		if err != nil {
			return 0, fmt.Errorf("qdrant: %w: scanning point ids: %w", ErrBackendUnavailable, err)
		}
		if batchMax := maxNumericID(points); batchMax > max {
			max = batchMax
		}
		if next == nil || len(points) == 0 {
			return max, nil
		}
		offset = next
	}
}

// maxNumericID returns the largest numeric point ID in the batch.
func maxNumericID(points []*qdrant.RetrievedPoint) uint64 {
	var max uint64
	for _, p := range points {
		if id := p.GetId().GetNum(); id > max {
			max = id
		}
	}
	return max
}

// ensureCollection creates the Qdrant collection if it does not already exist.
func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.cfg.Collection)
	if err != nil {
		return fmt.Errorf("qdrant: failed to check collection existence: %w", err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.cfg.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     s.cfg.VectorSize,
			Distance: s.qdrantDistance(),
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: failed to create collection %q: %w", s.cfg.Collection, err)
	}

	return nil
}

func (s *QdrantStore) qdrantDistance() qdrant.Distance {
	switch s.cfg.Metric {
	case MetricL2:
		return qdrant.Distance_Euclid
	case MetricDot:
		return qdrant.Distance_Dot
	default:
		return qdrant.Distance_Cosine
	}
}

// Insert stores a batch of records and returns their assigned point IDs.
// The whole batch is validated against the configured vector size up front.
func (s *QdrantStore) Insert(ctx context.Context, records []Record) ([]uint64, error) {
	if len(records) == 0 {
		return nil, nil
	}

	if s.cfg.VectorSize > 0 {
		for i, r := range records {
			if uint64(len(r.Vector)) != s.cfg.VectorSize {
				return nil, fmt.Errorf("qdrant: %w: record %d has %d dimensions, collection has %d",
					ErrDimensionMismatch, i, len(r.Vector), s.cfg.VectorSize)
			}
		}
	}

	ids := make([]uint64, 0, len(records))
	points := make([]*qdrant.PointStruct, 0, len(records))
	for _, r := range records {
		id := s.nextID.Add(1) - 1
		ids = append(ids, id)

		payload := map[string]interface{}{
			"text": r.Text,
		}
		for k, v := range r.Metadata {
			payload[k] = v
		}

		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDNum(id),
			Vectors: qdrant.NewVectors(r.Vector...),
			Payload: qdrant.NewValueMap(payload),
		})
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.cfg.Collection,
		Points:         points,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: %w: upsert failed: %w", ErrBackendUnavailable, err)
	}

	return ids, nil
}

// Query returns up to k results nearest to vector, best match first.
// Qdrant reports cosine matches as similarities, so they are converted to
// cosine distance (1 - score) to keep the ascending contract.
func (s *QdrantStore) Query(ctx context.Context, vector []float32, k int) ([]SearchResult, error) {
	if k < 1 {
		return nil, fmt.Errorf("qdrant: %w: query k must be >= 1, got %d", ErrInvalidConfiguration, k)
	}

	limit := uint64(k)
	results, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.cfg.Collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: %w: query failed: %w", ErrBackendUnavailable, err)
	}

	out := make([]SearchResult, 0, len(results))
	for _, r := range results {
		res := SearchResult{
			ID:       r.Id.GetNum(),
			Score:    s.normalizeScore(r.Score),
			Metadata: make(map[string]string),
		}
		if p := r.Payload; p != nil {
			if v, ok := p["text"]; ok {
				res.Text = v.GetStringValue()
			}
			for k, v := range p {
				if k != "text" {
					res.Metadata[k] = v.GetStringValue()
				}
			}
		}
		out = append(out, res)
	}

	return out, nil
}

// normalizeScore maps a Qdrant score onto the store's uniform convention.
func (s *QdrantStore) normalizeScore(score float32) float32 {
	if s.cfg.Metric == MetricCosine {
		return 1 - score
	}
	return score
}

// Reset drops and recreates the collection, discarding all points.
func (s *QdrantStore) Reset(ctx context.Context) error {
	if err := s.client.DeleteCollection(ctx, s.cfg.Collection); err != nil {
		return fmt.Errorf("qdrant: %w: failed to delete collection %q: %w",
			ErrBackendUnavailable, s.cfg.Collection, err)
	}
	if err := s.ensureCollection(ctx); err != nil {
		return err
	}
	s.nextID.Store(1)
	return nil
}

// Sources scans the collection and returns the distinct "source" payload
// values of its points.
func (s *QdrantStore) Sources(ctx context.Context) ([]string, error) {
	seen := make(map[string]bool)
	var (
		out    []string
		offset *qdrant.PointId
	)
	limit := scrollPageSize
	for {
		points, next, err := s.client.ScrollAndOffset(ctx, &qdrant.ScrollPoints{
			CollectionName: s.cfg.Collection,
			Limit:          &limit,
			Offset:         offset,
			WithPayload:    qdrant.NewWithPayloadInclude("source"),
			WithVectors:    qdrant.NewWithVectors(false),
		})
		if err != nil {
			return nil, fmt.Errorf("qdrant: %w: scanning sources: %w", ErrBackendUnavailable, err)
		}
		for _, p := range points {
			src := p.GetPayload()["source"].GetStringValue()
			if src == "" || seen[src] {
				continue
			}
			seen[src] = true
			out = append(out, src)
		}
		if next == nil || len(points) == 0 {
			return out, nil
		}
		offset = next
	}
}

// Count returns the number of points in the collection.
func (s *QdrantStore) Count(ctx context.Context) (int, error) {
	n, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.cfg.Collection,
	})
	if err != nil {
		return 0, fmt.Errorf("qdrant: %w: count failed: %w", ErrBackendUnavailable, err)
	}
	return int(n), nil
}

// Metric returns the configured score semantics.
func (s *QdrantStore) Metric() Metric { return s.cfg.Metric }

// Client exposes the underlying gRPC client for health probes.
func (s *QdrantStore) Client() *qdrant.Client { return s.client }

// Close closes the underlying Qdrant gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}
