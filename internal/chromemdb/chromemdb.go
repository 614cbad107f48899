package chromemdb

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"

	"pdf-rag/internal/models"
	"pdf-rag/internal/store"
)

// metadata keys
const (
	metaDocID      = "docId"
	metaFilename   = "filename"
	metaPage       = "page"
	metaChunkIndex = "chunkIndex"
)

// Embedder is the query embedding capability used for the dimension check.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorDBManager encapsulates the chromem-go database operations
type VectorDBManager struct {
	db            *chromem.DB
	collection    *chromem.Collection
	dbPath        string
	compress      bool
	encryptionKey string
	filePath      string

	mu  sync.Mutex
	dim int
}

var _ store.VectorStore = (*VectorDBManager)(nil)

// NewVectorDBManager opens a persistent database under dbPath, or an in-memory
// one that can be exported to and imported from an encrypted file. dim is the
// expected embedding length until the first vector is seen.
func NewVectorDBManager(dbPath, collectionName string, inMemory, compress bool, encryptionKey string, dim int) (*VectorDBManager, error) {
	var db *chromem.DB
	var err error
	if inMemory {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(dbPath, compress)
		if err != nil {
			return nil, fmt.Errorf("failed to create database: %w", err)
		}
	}

	m := &VectorDBManager{
		db:            db,
		dbPath:        dbPath,
		compress:      compress,
		encryptionKey: encryptionKey,
		filePath:      filepath.Join(dbPath, collectionName+".chromem"),
		dim:           dim,
	}
	if _, err := m.GetOrCreateCollection(collectionName); err != nil {
		return nil, err
	}
	return m, nil
}

// create or read collection
func (m *VectorDBManager) GetOrCreateCollection(collectionName string) (*chromem.Collection, error) {
	c, err := m.db.GetOrCreateCollection(collectionName, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create/get collection: %w", err)
	}
	m.collection = c
	return c, nil
}

func (m *VectorDBManager) Insert(ctx context.Context, records []models.VectorRecord, batchSize int) (int, error) {
	for _, b := range store.Batches(len(records), batchSize) {
		batch := store.WellFormed(records[b[0]:b[1]])
		if len(batch) == 0 {
			continue
		}

		docs := make([]chromem.Document, 0, len(batch))
		for _, r := range batch {
			docs = append(docs, chromem.Document{
				ID:        r.ID,
				Content:   r.Text,
				Metadata:  toMetadata(r.Metadata),
				Embedding: r.Embedding,
			})
		}
		if err := m.collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
			return 0, fmt.Errorf("%w: failed to add documents: %w", models.ErrStore, err)
		}
		m.rememberDim(len(batch[0].Embedding))
	}
	return len(records), nil
}

func (m *VectorDBManager) Query(ctx context.Context, vector []float32, topK int, documentID string) ([]models.ContextFragment, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("%w: missing query embedding", models.ErrStore)
	}
	m.rememberDim(len(vector))

	var where map[string]string
	if documentID != "" {
		where = map[string]string{metaDocID: documentID}
	}
	results, err := m.query(ctx, vector, topK, where)
	if err != nil {
		return nil, err
	}

	fragments := make([]models.ContextFragment, 0, len(results))
	for _, r := range results {
		f := toFragment(r)
		f.Distance, f.Score = store.Scored(1 - float64(r.Similarity))
		fragments = append(fragments, f)
	}
	return fragments, nil
}

// ListByDocument returns the first limit chunks of a document by position.
// chromem has no scan, so every chunk of the document is ranked against a
// constant probe vector and the ranking is thrown away.
func (m *VectorDBManager) ListByDocument(ctx context.Context, documentID string, limit int) ([]models.ContextFragment, error) {
	if limit < 1 {
		return nil, nil
	}
	m.mu.Lock()
	dim := m.dim
	m.mu.Unlock()
	if dim < 1 {
		return nil, fmt.Errorf("%w: unknown embedding dimension", models.ErrStore)
	}

	probe := make([]float32, dim)
	for i := range probe {
		probe[i] = 1
	}
	// chromem clamps n to the documents left after the filter
	results, err := m.query(ctx, probe, m.collection.Count(), map[string]string{metaDocID: documentID})
	if err != nil {
		return nil, err
	}

	fragments := make([]models.ContextFragment, 0, len(results))
	for _, r := range results {
		fragments = append(fragments, toFragment(r))
	}
	store.SortByPosition(fragments)
	if len(fragments) > limit {
		fragments = fragments[:limit]
	}
	return fragments, nil
}

// SyncDimension embeds a sample text to learn the vector length of the
// current model and checks every stored chunk against it. Until this runs on
// a reopened database the configured dimension is only a guess.
func (m *VectorDBManager) SyncDimension(ctx context.Context, e Embedder) error {
	if m.collection.Count() == 0 {
		return nil
	}
	vec, err := e.Embed(ctx, "dimension check")
	if err != nil {
		return err
	}
	if len(vec) == 0 {
		return fmt.Errorf("%w: empty sample embedding", models.ErrEmbedding)
	}
	if _, err := m.collection.QueryEmbedding(ctx, vec, 1, nil, nil); err != nil {
		return fmt.Errorf("%w: stored vectors do not match the %d-dimensional embedding model: %w", models.ErrStore, len(vec), err)
	}
	m.rememberDim(len(vec))
	log.Debug().Int("dim", len(vec)).Msg("Embedding dimension verified")
	return nil
}

func (m *VectorDBManager) query(ctx context.Context, vector []float32, n int, where map[string]string) ([]chromem.Result, error) {
	// chromem rejects nResults above the collection size
	n = min(n, m.collection.Count())
	if n < 1 {
		return nil, nil
	}
	results, err := m.collection.QueryEmbedding(ctx, vector, n, where, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query by similarity: %w", models.ErrStore, err)
	}
	return results, nil
}

func (m *VectorDBManager) DeleteByIDs(ctx context.Context, ids []string, batchSize int) error {
	for _, b := range store.Batches(len(ids), batchSize) {
		if err := m.collection.Delete(ctx, nil, nil, ids[b[0]:b[1]]...); err != nil {
			return fmt.Errorf("%w: failed to delete documents: %w", models.ErrStore, err)
		}
	}
	return nil
}

// Count returns the number of stored chunks.
func (m *VectorDBManager) Count() int {
	return m.collection.Count()
}

func (m *VectorDBManager) rememberDim(n int) {
	m.mu.Lock()
	m.dim = n
	m.mu.Unlock()
}

// delete collection
func (m *VectorDBManager) DeleteCollection() error {
	err := m.db.DeleteCollection(m.collection.Name)
	if err != nil {
		return fmt.Errorf("failed to drop collection: %w", err)
	}
	return nil
}

// export to file
func (m *VectorDBManager) Export(ctx context.Context) error {
	if m.encryptionKey == "" {
		return fmt.Errorf("encryption key is required")
	}
	if m.dbPath == "" {
		return fmt.Errorf("db path is required")
	}
	if err := os.MkdirAll(m.dbPath, 0o755); err != nil {
		return fmt.Errorf("failed to create db path: %w", err)
	}

	log.Debug().Str("collection", m.collection.Name).Str("file", m.filePath).Bool("compress", m.compress).Msg("Exporting collection")
	err := m.db.ExportToFile(m.filePath, m.compress, m.encryptionKey, m.collection.Name)
	if err != nil {
		return fmt.Errorf("failed to export database: %w", err)
	}
	return nil
}

// Import loads a previous export. A missing file is not an error.
func (m *VectorDBManager) Import(ctx context.Context) error {
	if _, err := os.Stat(m.filePath); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	name := m.collection.Name
	if err := m.db.ImportFromFile(m.filePath, m.encryptionKey, name); err != nil {
		return fmt.Errorf("failed to import database: %w", err)
	}
	// importing replaces the collection object
	_, err := m.GetOrCreateCollection(name)
	return err
}

func toMetadata(meta models.ChunkMetadata) map[string]string {
	return map[string]string{
		metaDocID:      meta.DocumentID,
		metaFilename:   meta.Filename,
		metaPage:       strconv.Itoa(meta.Page),
		metaChunkIndex: strconv.Itoa(meta.ChunkIndex),
	}
}

func toFragment(r chromem.Result) models.ContextFragment {
	page, _ := strconv.Atoi(r.Metadata[metaPage])
	chunkIndex, _ := strconv.Atoi(r.Metadata[metaChunkIndex])
	return models.ContextFragment{
		ChunkID: r.ID,
		Text:    r.Content,
		Metadata: models.ChunkMetadata{
			DocumentID: r.Metadata[metaDocID],
			Filename:   r.Metadata[metaFilename],
			Page:       page,
			ChunkIndex: chunkIndex,
		},
	}
}
