// Package qdrant adapts github.com/qdrant/go-client to vectorstore.Backend.
package qdrant

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/google/uuid"
	qc "github.com/qdrant/go-client/qdrant"

	"github.com/marketpulse/monitor/internal/vectorstore"
)

// payloadIDField stores the caller's original (non-UUID) id, since Qdrant
// point ids must be a UUID or a positive integer.
const payloadIDField = "_original_id"

// Backend implements vectorstore.Backend against a single Qdrant
// collection shared by every namespace, isolated via a payload filter on
// "_namespace" rather than one collection per user — namespaces are a
// runtime concept here, not a schema one.
type Backend struct {
	client     *qc.Client
	collection string
	dimension  int
}

// New connects to dsn (e.g. "http://localhost:6334", optionally with an
// "?api_key=..." query parameter) and ensures the collection exists with
// the given vector dimension, cosine distance.
func New(dsn, collection string, dimension int) (*Backend, error) {
	if collection == "" {
		return nil, fmt.Errorf("qdrant: collection name is required")
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("qdrant: parse dsn: %w", err)
	}
	host := parsed.Hostname()
	if host == "" {
		host = "localhost"
	}
	portStr := parsed.Port()
	if portStr == "" {
		portStr = "6334"
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("qdrant: invalid port in dsn: %w", err)
	}

	cfg := &qc.Config{Host: host, Port: port}
	if parsed.Scheme == "https" {
		cfg.UseTLS = true
	}
	if apiKey := parsed.Query().Get("api_key"); apiKey != "" {
		cfg.APIKey = apiKey
	}

	client, err := qc.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("qdrant: create client: %w", err)
	}

	b := &Backend{client: client, collection: collection, dimension: dimension}
	if err := b.ensureCollection(context.Background()); err != nil {
		client.Close()
		return nil, fmt.Errorf("qdrant: ensure collection: %w", err)
	}
	return b, nil
}

func (b *Backend) ensureCollection(ctx context.Context) error {
	exists, err := b.client.CollectionExists(ctx, b.collection)
	if err != nil {
		return fmt.Errorf("check collection exists: %w", err)
	}
	if exists {
		return nil
	}
	if b.dimension <= 0 {
		return fmt.Errorf("dimension must be > 0")
	}
	return b.client.CreateCollection(ctx, &qc.CreateCollection{
		CollectionName: b.collection,
		VectorsConfig: qc.NewVectorsConfig(&qc.VectorParams{
			Size:     uint64(b.dimension),
			Distance: qc.Distance_Cosine,
		}),
	})
}

func pointID(id string) (string, bool) {
	if _, err := uuid.Parse(id); err == nil {
		return id, false
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String(), true
}

// Upsert implements vectorstore.Backend.
func (b *Backend) Upsert(ctx context.Context, namespace, id string, vector []float32, metadata map[string]string) error {
	uuidStr, remapped := pointID(id)

	payload := make(map[string]any, len(metadata)+2)
	for k, v := range metadata {
		payload[k] = v
	}
	payload["_namespace"] = namespace
	if remapped {
		payload[payloadIDField] = id
	}

	vec := make([]float32, len(vector))
	copy(vec, vector)

	_, err := b.client.Upsert(ctx, &qc.UpsertPoints{
		CollectionName: b.collection,
		Points: []*qc.PointStruct{{
			Id:      qc.NewIDUUID(uuidStr),
			Vectors: qc.NewVectorsDense(vec),
			Payload: qc.NewValueMap(payload),
		}},
	})
	return err
}

// Query implements vectorstore.Backend.
func (b *Backend) Query(ctx context.Context, namespace string, vector []float32, k int) ([]vectorstore.Result, error) {
	if k <= 0 {
		k = 10
	}
	vec := make([]float32, len(vector))
	copy(vec, vector)

	limit := uint64(k)
	hits, err := b.client.Query(ctx, &qc.QueryPoints{
		CollectionName: b.collection,
		Query:          qc.NewQueryDense(vec),
		Limit:          &limit,
		Filter:         &qc.Filter{Must: []*qc.Condition{qc.NewMatch("_namespace", namespace)}},
		WithPayload:    qc.NewWithPayload(true),
	})
	if err != nil {
		return nil, err
	}

	out := make([]vectorstore.Result, 0, len(hits))
	for _, hit := range hits {
		id := hit.Id.GetUuid()
		if hit.Payload != nil {
			if original, ok := hit.Payload[payloadIDField]; ok {
				id = original.GetStringValue()
			}
		}
		out = append(out, vectorstore.Result{ID: id, Score: float64(hit.Score)})
	}
	return out, nil
}

// Delete implements vectorstore.Backend.
func (b *Backend) Delete(ctx context.Context, namespace, id string) error {
	uuidStr, _ := pointID(id)
	_, err := b.client.Delete(ctx, &qc.DeletePoints{
		CollectionName: b.collection,
		Points:         qc.NewPointsSelector(qc.NewIDUUID(uuidStr)),
	})
	return err
}

// Close releases the underlying gRPC connection.
func (b *Backend) Close() error {
	return b.client.Close()
}
