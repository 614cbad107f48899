package models

import (
	"fmt"
	"time"
)

// Page is the raw or normalized text of one PDF page.
type Page struct {
	Number int
	Text   string
}

// Chunk represents a parsed chunk with metadata
type Chunk struct {
	DocumentID string `json:"docId"`
	Filename   string `json:"filename"`
	Page       int    `json:"page"`
	ChunkIndex int    `json:"chunkIndex"`
	Text       string `json:"text"`
}

// ChunkMetadata is stored next to every vector.
type ChunkMetadata struct {
	DocumentID string `json:"docId"`
	Filename   string `json:"filename"`
	Page       int    `json:"page"`
	ChunkIndex int    `json:"chunkIndex"`
}

// VectorRecord is the unit persisted in a vector store.
type VectorRecord struct {
	ID        string
	Text      string
	Embedding []float32
	Metadata  ChunkMetadata
}

// ChunkID derives the record id of a chunk. Rollback deletes by this id,
// so the format must stay stable.
func ChunkID(documentID string, page, chunkIndex int) string {
	return fmt.Sprintf("%s-p%d-c%d", documentID, page, chunkIndex)
}

// Record turns a chunk and its embedding into a vector record.
func (c Chunk) Record(embedding []float32) VectorRecord {
	return VectorRecord{
		ID:        ChunkID(c.DocumentID, c.Page, c.ChunkIndex),
		Text:      c.Text,
		Embedding: embedding,
		Metadata: ChunkMetadata{
			DocumentID: c.DocumentID,
			Filename:   c.Filename,
			Page:       c.Page,
			ChunkIndex: c.ChunkIndex,
		},
	}
}

// ContextFragment is a retrieved chunk attached to one answer request.
// Distance and Score are nil when no query vector was involved.
type ContextFragment struct {
	SourceID int
	ChunkID  string
	Text     string
	Metadata ChunkMetadata
	Distance *float64
	Score    *float64
}

// CatalogEntry describes one uploaded document.
type CatalogEntry struct {
	DocumentID   string    `json:"docId"`
	OriginalName string    `json:"originalName"`
	SavedAs      string    `json:"savedAs"`
	UploadedAt   time.Time `json:"uploadedAt"`
	Pages        int       `json:"pages"`
	Chunks       int       `json:"chunks"`
}

// Source is the public view of a fragment used in an answer.
type Source struct {
	ID         int      `json:"id"`
	DocumentID string   `json:"docId"`
	Filename   string   `json:"filename"`
	Page       int      `json:"page"`
	ChunkIndex int      `json:"chunkIndex"`
	ChunkID    string   `json:"chunkId"`
	Distance   *float64 `json:"distance"`
	Score      *float64 `json:"score"`
}

// SourceOf converts a fragment to its public source entry.
func SourceOf(f ContextFragment) Source {
	return Source{
		ID:         f.SourceID,
		DocumentID: f.Metadata.DocumentID,
		Filename:   f.Metadata.Filename,
		Page:       f.Metadata.Page,
		ChunkIndex: f.Metadata.ChunkIndex,
		ChunkID:    f.ChunkID,
		Distance:   f.Distance,
		Score:      f.Score,
	}
}
