// Package vectorstore implements the vector store capability (C4):
// embed-and-upsert, similarity query, and delete-by-id, each scoped to a
// per-user namespace. Query and Delete log a failure and degrade to their
// empty/none outcome; Upsert logs and returns its error, which
// EpisodeRepository.CreateWithVectorUpsert treats as best-effort, so a
// vector store error never interrupts a persistence-layer transaction.
package vectorstore

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// Backend is the narrow capability a concrete vector database adapter
// (qdrant, or a fake in tests) must provide. It deals in raw vectors; text
// embedding happens one layer up, in Store.
type Backend interface {
	Upsert(ctx context.Context, namespace, id string, vector []float32, metadata map[string]string) error
	Query(ctx context.Context, namespace string, vector []float32, k int) ([]Result, error)
	Delete(ctx context.Context, namespace, id string) error
}

// Result is one similarity hit.
type Result struct {
	ID    string
	Score float64
}

// Embedder turns text into a fixed-dimension vector. Production deployments
// wire a hosted embedding model behind this interface; HashEmbedder is the
// deterministic, zero-dependency stand-in.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Store is the Vector Store capability. It composes an Embedder with a
// Backend so callers deal only in (namespace, id, text, metadata) and never
// touch raw vectors.
type Store struct {
	backend  Backend
	embedder Embedder
	log      zerolog.Logger
}

// New builds a Store.
func New(backend Backend, embedder Embedder, log zerolog.Logger) *Store {
	return &Store{backend: backend, embedder: embedder, log: log.With().Str("component", "vectorstore").Logger()}
}

// Namespace builds the per-user isolation key SPEC_FULL names:
// user_{external_id}.
func Namespace(externalUserID string) string {
	return "user_" + externalUserID
}

// Upsert embeds text and stores it under id in namespace. On any failure it
// logs and returns the error to the caller — per §4.3/Episode, the caller
// (EpisodeRepository.CreateWithVectorUpsert) is responsible for treating
// this as best-effort and not rolling back the already-committed row.
func (s *Store) Upsert(ctx context.Context, namespace string, id int64, text string, metadata map[string]any) error {
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		s.log.Warn().Err(err).Str("namespace", namespace).Int64("id", id).Msg("embed failed")
		return fmt.Errorf("vectorstore: embed: %w", err)
	}

	strMeta := make(map[string]string, len(metadata))
	for k, v := range metadata {
		strMeta[k] = fmt.Sprintf("%v", v)
	}

	pointID := fmt.Sprintf("%d", id)
	if err := s.backend.Upsert(ctx, namespace, pointID, vec, strMeta); err != nil {
		s.log.Warn().Err(err).Str("namespace", namespace).Int64("id", id).Msg("vector upsert failed")
		return fmt.Errorf("vectorstore: upsert: %w", err)
	}
	return nil
}

// Query returns the top-k most similar ids, descending score. A failure at
// any stage is logged and returns nil; Query has no error result —
// similarity search is advisory context, not a hard dependency.
func (s *Store) Query(ctx context.Context, namespace, text string, k int) []int64 {
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		s.log.Warn().Err(err).Str("namespace", namespace).Msg("embed failed during query")
		return nil
	}
	results, err := s.backend.Query(ctx, namespace, vec, k)
	if err != nil {
		s.log.Warn().Err(err).Str("namespace", namespace).Msg("vector query failed")
		return nil
	}
	ids := make([]int64, 0, len(results))
	for _, r := range results {
		var id int64
		if _, err := fmt.Sscanf(r.ID, "%d", &id); err == nil {
			ids = append(ids, id)
		}
	}
	return ids
}

// Delete removes id from namespace. A failure is logged and swallowed.
func (s *Store) Delete(ctx context.Context, namespace string, id int64) {
	if err := s.backend.Delete(ctx, namespace, fmt.Sprintf("%d", id)); err != nil {
		s.log.Warn().Err(err).Str("namespace", namespace).Int64("id", id).Msg("vector delete failed")
	}
}
