package db

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"pdf-rag/internal/config"
	"pdf-rag/internal/models"
	"pdf-rag/internal/store"
)

// Chunk is one row of the chunk table.
type Chunk struct {
	bun.BaseModel `bun:"table:chunks,alias:c"`
	ID            string          `bun:"id,pk"`
	DocumentID    string          `bun:"document_id,notnull"`
	Filename      string          `bun:"filename,notnull"`
	Page          int             `bun:"page,notnull"`
	ChunkIndex    int             `bun:"chunk_index,notnull"`
	Content       string          `bun:"content,notnull"`
	Embedding     pgvector.Vector `bun:"embedding,type:vector"`
	Distance      float64         `bun:"distance,scanonly"`
}

func NewDB(sqldb *sql.DB, debug bool) *bun.DB {
	db := bun.NewDB(sqldb, pgdialect.New())
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db
}

// ConnectDB opens the database with bun's pgdriver, or lib/pq when
// cfg.Driver is "pq".
func ConnectDB(cfg *config.DatabaseConfig) (*sql.DB, error) {
	if cfg.Driver == "pq" {
		return sql.Open("postgres", cfg.URL)
	}
	opts := []pgdriver.Option{pgdriver.WithDSN(cfg.URL)}
	if cfg.Password != "" {
		opts = append(opts, pgdriver.WithPassword(cfg.Password))
	}
	return sql.OpenDB(pgdriver.NewConnector(opts...)), nil
}

// Store is a pgvector backed vector store.
type Store struct {
	db    *bun.DB
	table string
	dim   int
}

var _ store.VectorStore = (*Store)(nil)

func NewStore(db *bun.DB, table string, dim int) *Store {
	return &Store{db: db, table: table, dim: dim}
}

func (s *Store) Close() error {
	return s.db.Close()
}

// InitDB creates the vector extension, the chunk table and its indexes.
func (s *Store) InitDB(ctx context.Context) error {
	statements := []string{
		"CREATE EXTENSION IF NOT EXISTS vector",
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			document_id TEXT NOT NULL,
			filename TEXT NOT NULL,
			page INTEGER NOT NULL,
			chunk_index INTEGER NOT NULL,
			content TEXT NOT NULL,
			embedding vector(%d)
		)`, s.ident(), s.dim),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_document_idx ON %s (document_id)", s.table, s.ident()),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_embedding_idx ON %s USING hnsw (embedding vector_cosine_ops)", s.table, s.ident()),
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
	}
	return nil
}

// drop table
func (s *Store) DropDocuments(ctx context.Context) error {
	_, err := s.db.NewDropTable().Model((*Chunk)(nil)).ModelTableExpr("?", bun.Ident(s.table)).IfExists().Exec(ctx)
	return err
}

func (s *Store) Insert(ctx context.Context, records []models.VectorRecord, batchSize int) (int, error) {
	for _, b := range store.Batches(len(records), batchSize) {
		batch := store.WellFormed(records[b[0]:b[1]])
		if len(batch) == 0 {
			continue
		}

		rows := make([]Chunk, 0, len(batch))
		for _, r := range batch {
			rows = append(rows, Chunk{
				ID:         r.ID,
				DocumentID: r.Metadata.DocumentID,
				Filename:   r.Metadata.Filename,
				Page:       r.Metadata.Page,
				ChunkIndex: r.Metadata.ChunkIndex,
				Content:    r.Text,
				Embedding:  pgvector.NewVector(r.Embedding),
			})
		}
		_, err := s.db.NewInsert().
			Model(&rows).
			ModelTableExpr("? AS c", bun.Ident(s.table)).
			ExcludeColumn("distance").
			On("CONFLICT (id) DO UPDATE").
			Set("content = EXCLUDED.content").
			Set("embedding = EXCLUDED.embedding").
			Exec(ctx)
		if err != nil {
			return 0, fmt.Errorf("%w: failed to insert chunks: %w", models.ErrStore, err)
		}
	}
	return len(records), nil
}

func (s *Store) Query(ctx context.Context, vector []float32, topK int, documentID string) ([]models.ContextFragment, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("%w: missing query embedding", models.ErrStore)
	}
	query := pgvector.NewVector(vector)

	var rows []Chunk
	q := s.selectChunks(&rows).
		ColumnExpr("c.embedding <=> ? AS distance", query).
		OrderExpr("c.embedding <=> ?", query).
		Limit(topK)
	if documentID != "" {
		q = q.Where("c.document_id = ?", documentID)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("%w: failed to search chunks: %w", models.ErrStore, err)
	}

	fragments := make([]models.ContextFragment, 0, len(rows))
	for _, row := range rows {
		f := row.fragment()
		f.Distance, f.Score = store.Scored(row.Distance)
		fragments = append(fragments, f)
	}
	return fragments, nil
}

func (s *Store) ListByDocument(ctx context.Context, documentID string, limit int) ([]models.ContextFragment, error) {
	var rows []Chunk
	err := s.selectChunks(&rows).
		Where("c.document_id = ?", documentID).
		Order("c.page", "c.chunk_index").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list chunks: %w", models.ErrStore, err)
	}

	fragments := make([]models.ContextFragment, 0, len(rows))
	for _, row := range rows {
		fragments = append(fragments, row.fragment())
	}
	return fragments, nil
}

func (s *Store) DeleteByIDs(ctx context.Context, ids []string, batchSize int) error {
	for _, b := range store.Batches(len(ids), batchSize) {
		_, err := s.db.NewDelete().
			Model((*Chunk)(nil)).
			ModelTableExpr("? AS c", bun.Ident(s.table)).
			Where("c.id IN (?)", bun.In(ids[b[0]:b[1]])).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("%w: failed to delete chunks: %w", models.ErrStore, err)
		}
	}
	return nil
}

func (s *Store) selectChunks(rows *[]Chunk) *bun.SelectQuery {
	return s.db.NewSelect().
		Model(rows).
		ModelTableExpr("? AS c", bun.Ident(s.table)).
		Column("c.id", "c.document_id", "c.filename", "c.page", "c.chunk_index", "c.content")
}

func (s *Store) ident() string {
	return string(s.db.Formatter().AppendQuery(nil, "?", bun.Ident(s.table)))
}

func (c Chunk) fragment() models.ContextFragment {
	return models.ContextFragment{
		ChunkID: c.ID,
		Text:    c.Content,
		Metadata: models.ChunkMetadata{
			DocumentID: c.DocumentID,
			Filename:   c.Filename,
			Page:       c.Page,
			ChunkIndex: c.ChunkIndex,
		},
	}
}
