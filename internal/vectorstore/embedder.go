package vectorstore

import (
	"context"
	"crypto/sha256"
)

// HashEmbeddingDimension is the fixed vector size the deterministic embedder
// produces and the qdrant collection is provisioned with.
const HashEmbeddingDimension = 256

// HashEmbedder is a zero-dependency stand-in for a hosted embedding model.
// No third-party embedding API is part of this corpus's dependency stack —
// production deployments should wire a real embedding service behind the
// Embedder interface; this implementation exists so the vector store is
// exercisable (and its Query/Upsert round-trip testable) without one.
// It is deterministic: the same text always maps to the same vector, which
// preserves the "re-upsert replaces, never duplicates" contract but does
// not preserve semantic similarity the way a trained model would.
type HashEmbedder struct{}

// Embed implements Embedder.
func (HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, HashEmbeddingDimension)
	sum := sha256.Sum256([]byte(text))
	for i := range vec {
		byteVal := sum[i%len(sum)]
		// Spread the 32 hash bytes across the full dimension by mixing in
		// the output index so repeated wraps don't just tile the same 32
		// values.
		mixed := byte(int(byteVal) + i)
		vec[i] = float32(mixed)/255.0*2 - 1 // normalize to [-1, 1]
	}
	return vec, nil
}

// NullBackend discards every write and reports every query empty. It backs
// Store when no vector database is configured (QDRANT_ADDR unset), so
// episode persistence's vector upsert is always a real call into something
// rather than a conditional the caller has to carry.
type NullBackend struct{}

// Upsert implements Backend as a no-op.
func (NullBackend) Upsert(context.Context, string, string, []float32, map[string]string) error {
	return nil
}

// Query implements Backend, always returning no hits.
func (NullBackend) Query(context.Context, string, []float32, int) ([]Result, error) {
	return nil, nil
}

// Delete implements Backend as a no-op.
func (NullBackend) Delete(context.Context, string, string) error { return nil }
