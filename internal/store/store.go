// Package store defines the vector store contract shared by the chromem and
// postgres backends.
package store

import (
	"context"
	"sort"

	"pdf-rag/internal/models"
)

// VectorStore persists chunk embeddings keyed by chunk id.
//
// Insert drops records without an id or embedding and returns the number of
// records it was given. Query ranks by ascending cosine distance and may be
// restricted to one document. ListByDocument has no query vector, so
// Distance and Score are nil and callers sort the result themselves.
type VectorStore interface {
	Insert(ctx context.Context, records []models.VectorRecord, batchSize int) (int, error)
	Query(ctx context.Context, vector []float32, topK int, documentID string) ([]models.ContextFragment, error)
	ListByDocument(ctx context.Context, documentID string, limit int) ([]models.ContextFragment, error)
	DeleteByIDs(ctx context.Context, ids []string, batchSize int) error
}

// WellFormed filters out records that cannot be stored.
func WellFormed(batch []models.VectorRecord) []models.VectorRecord {
	out := make([]models.VectorRecord, 0, len(batch))
	for _, r := range batch {
		if r.ID == "" || len(r.Embedding) == 0 {
			continue
		}
		out = append(out, r)
	}
	return out
}

// Batches splits n items into [start, end) ranges of at most size.
func Batches(n, size int) [][2]int {
	if size < 1 {
		size = n
	}
	var out [][2]int
	for start := 0; start < n; start += size {
		out = append(out, [2]int{start, min(start+size, n)})
	}
	return out
}

// SortByPosition orders fragments by page, then chunk index.
func SortByPosition(fragments []models.ContextFragment) {
	sort.SliceStable(fragments, func(i, j int) bool {
		a, b := fragments[i].Metadata, fragments[j].Metadata
		if a.Page != b.Page {
			return a.Page < b.Page
		}
		return a.ChunkIndex < b.ChunkIndex
	})
}

// Scored returns distance and 1-distance as optional values.
func Scored(distance float64) (*float64, *float64) {
	score := 1 - distance
	return &distance, &score
}
