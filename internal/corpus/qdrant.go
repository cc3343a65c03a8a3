package corpus

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/qdrant/go-client/qdrant"
)

const qdrantUpsertBatch = 128

// QdrantStore keeps chunks as points of one collection. Search happens on
// the server; vectors come back with the hits so MMR can run locally.
// The collection carries no fingerprint, so source verification is skipped.
type QdrantStore struct {
	client     *qdrant.Client
	collection string
}

// NewQdrantStore connects to the gRPC endpoint described by rawURL
// (scheme selects TLS, default port 6334).
func NewQdrantStore(rawURL, apiKey, collection string) (*QdrantStore, error) {
	if rawURL == "" {
		return nil, fmt.Errorf("qdrant url is required")
	}
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		rawURL = "https://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse qdrant url: %w", err)
	}
	port := 6334
	if u.Port() != "" {
		if port, err = strconv.Atoi(u.Port()); err != nil {
			return nil, fmt.Errorf("invalid port: %w", err)
		}
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   u.Hostname(),
		Port:   port,
		APIKey: apiKey,
		UseTLS: u.Scheme == "https",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}
	return &QdrantStore{client: client, collection: collection}, nil
}

func (s *QdrantStore) ReadManifest(ctx context.Context) (Manifest, bool, error) {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return Manifest{}, false, fmt.Errorf("qdrant collection lookup: %w", err)
	}
	if !exists {
		return Manifest{}, false, nil
	}
	n, err := s.count(ctx)
	if err != nil {
		return Manifest{}, false, err
	}
	if n == 0 {
		return Manifest{}, false, nil
	}
	return Manifest{Chunks: n}, true, nil
}

func (s *QdrantStore) Write(ctx context.Context, m Manifest, chunks []Chunk) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("qdrant collection lookup: %w", err)
	}
	if exists {
		if err := s.client.DeleteCollection(ctx, s.collection); err != nil {
			return fmt.Errorf("qdrant delete collection: %w", err)
		}
	}
	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(m.Dimensions),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant create collection: %w", err)
	}

	for start := 0; start < len(chunks); start += qdrantUpsertBatch {
		end := min(start+qdrantUpsertBatch, len(chunks))
		points := make([]*qdrant.PointStruct, 0, end-start)
		for _, c := range chunks[start:end] {
			points = append(points, &qdrant.PointStruct{
				Id:      qdrant.NewIDNum(uint64(c.ID)),
				Vectors: qdrant.NewVectors(c.Vector...),
				Payload: qdrant.NewValueMap(map[string]any{
					"source":  c.Source,
					"page":    int64(c.Page),
					"offset":  int64(c.Offset),
					"content": c.Content,
				}),
			})
		}
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: s.collection,
			Wait:           qdrant.PtrOf(true),
			Points:         points,
		})
		if err != nil {
			return fmt.Errorf("qdrant upsert: %w", err)
		}
	}
	return nil
}

func (s *QdrantStore) Open(ctx context.Context) (Searcher, error) {
	n, err := s.count(ctx)
	if err != nil {
		return nil, err
	}
	return &qdrantSearcher{store: s, size: n}, nil
}

func (s *QdrantStore) Close() error {
	return s.client.Close()
}

func (s *QdrantStore) count(ctx context.Context) (int, error) {
	n, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.collection,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("qdrant count: %w", err)
	}
	return int(n), nil
}

type qdrantSearcher struct {
	store *QdrantStore
	size  int
}

func (q *qdrantSearcher) Len() int { return q.size }

func (q *qdrantSearcher) Nearest(ctx context.Context, vec []float32, n int) ([]Chunk, error) {
	limit := uint64(n)
	points, err := q.store.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.store.collection,
		Query:          qdrant.NewQuery(vec...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant search failed: %w", err)
	}

	out := make([]Chunk, 0, len(points))
	for _, p := range points {
		c := Chunk{
			ID:     int(p.GetId().GetNum()),
			Vector: p.GetVectors().GetVector().GetData(),
		}
		for k, v := range p.GetPayload() {
			switch k {
			case "source":
				c.Source = v.GetStringValue()
			case "content":
				c.Content = v.GetStringValue()
			case "page":
				c.Page = int(v.GetIntegerValue())
			case "offset":
				c.Offset = int(v.GetIntegerValue())
			}
		}
		out = append(out, c)
	}
	return out, nil
}
