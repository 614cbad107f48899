// Package ingest extracts, chunks, embeds and stores uploaded files.
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"pdf-rag/internal/catalog"
	"pdf-rag/internal/chunker"
	"pdf-rag/internal/config"
	"pdf-rag/internal/helper"
	"pdf-rag/internal/models"
	"pdf-rag/internal/store"
)

type Extractor interface {
	ExtractAs(ctx context.Context, filePath, name string) ([]models.Page, error)
}

type Normalizer interface {
	Normalize(raw string) string
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Upload is one file ready to ingest. Path must be readable locally; the
// extractor is chosen by OriginalName.
type Upload struct {
	Path         string
	OriginalName string
	SavedAs      string
	Size         int64
	MimeType     string
}

// FileResult reports one file. Err is set when the file failed and
// nothing of it was kept.
type FileResult struct {
	DocumentID   string `json:"docId"`
	OriginalName string `json:"originalName"`
	SavedAs      string `json:"savedAs"`
	Size         int64  `json:"size"`
	MimeType     string `json:"mimetype"`
	Pages        int    `json:"pages"`
	Chunks       int    `json:"chunks"`
	Err          error  `json:"-"`
}

type Totals struct {
	Files  int `json:"files"`
	Pages  int `json:"pages"`
	Chunks int `json:"chunks"`
}

type Report struct {
	Files  []FileResult
	Totals Totals
}

// Succeeded returns the files that were fully ingested.
func (r *Report) Succeeded() []FileResult {
	var out []FileResult
	for _, f := range r.Files {
		if f.Err == nil {
			out = append(out, f)
		}
	}
	return out
}

// Failed returns the files that were rolled back.
func (r *Report) Failed() []FileResult {
	var out []FileResult
	for _, f := range r.Files {
		if f.Err != nil {
			out = append(out, f)
		}
	}
	return out
}

// ProgressFunc is told how many of a file's chunks are embedded so far.
type ProgressFunc func(filename string, done, total int)

type Pipeline struct {
	extractor   Extractor
	normalizer  Normalizer
	embedder    Embedder
	store       store.VectorStore
	catalog     catalog.Catalog
	docs        config.DocumentsConfig
	insertBatch int
	deleteBatch int

	newID    func() (string, error)
	now      func() time.Time
	progress ProgressFunc
}

type Option func(*Pipeline)

func WithProgress(fn ProgressFunc) Option {
	return func(p *Pipeline) { p.progress = fn }
}

// WithIDs replaces the document id generator.
func WithIDs(fn func() (string, error)) Option {
	return func(p *Pipeline) { p.newID = fn }
}

func WithClock(fn func() time.Time) Option {
	return func(p *Pipeline) { p.now = fn }
}

func NewPipeline(extractor Extractor, normalizer Normalizer, embedder Embedder, vs store.VectorStore, cat catalog.Catalog, cfg *config.Config, opts ...Option) *Pipeline {
	p := &Pipeline{
		extractor:   extractor,
		normalizer:  normalizer,
		embedder:    embedder,
		store:       vs,
		catalog:     cat,
		docs:        cfg.Documents,
		insertBatch: cfg.VectorStore.InsertBatchSize,
		deleteBatch: cfg.VectorStore.DeleteBatchSize,
		newID:       helper.GenerateUUID,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Ingest processes uploads one after another. A failing file is rolled back
// and reported without affecting the others.
func (p *Pipeline) Ingest(ctx context.Context, uploads []Upload) (*Report, error) {
	if len(uploads) == 0 {
		return nil, fmt.Errorf("%w: missing files", models.ErrInvalidInput)
	}

	report := &Report{Files: make([]FileResult, 0, len(uploads))}
	for _, u := range uploads {
		res := p.ingestFile(ctx, u)
		report.Files = append(report.Files, res)
		if res.Err != nil {
			continue
		}
		report.Totals.Files++
		report.Totals.Pages += res.Pages
		report.Totals.Chunks += res.Chunks
	}
	return report, nil
}

func (p *Pipeline) ingestFile(ctx context.Context, u Upload) FileResult {
	res := FileResult{
		OriginalName: u.OriginalName,
		SavedAs:      u.SavedAs,
		Size:         u.Size,
		MimeType:     u.MimeType,
	}
	logger := log.With().Str("file", u.OriginalName).Logger()

	docID, err := p.newID()
	if err != nil {
		res.Err = err
		return res
	}
	res.DocumentID = docID
	logger = logger.With().Str("docId", docID).Logger()
	logger.Info().Msg("Upload started")

	var inserted []string
	pages, chunks, err := p.process(ctx, u, docID, &inserted)
	if err != nil {
		res.Err = err
		logger.Error().Err(err).Msg("Upload failed")
		p.rollback(ctx, inserted)
		return res
	}

	res.Pages, res.Chunks = pages, chunks
	logger.Info().Int("pages", pages).Int("chunks", chunks).Msg("Upload done")
	return res
}

// process runs every step of one file and appends the id of every embedded
// chunk to inserted.
func (p *Pipeline) process(ctx context.Context, u Upload, docID string, inserted *[]string) (int, int, error) {
	pages, err := p.extractor.ExtractAs(ctx, u.Path, u.OriginalName)
	if err != nil {
		return 0, 0, err
	}
	if len(pages) > p.docs.MaxPagesPerFile {
		return 0, 0, fmt.Errorf("%w: %d pages, limit is %d", models.ErrTooManyPages, len(pages), p.docs.MaxPagesPerFile)
	}
	for i := range pages {
		pages[i].Text = p.normalizer.Normalize(pages[i].Text)
	}

	chunks, err := chunker.Chunk(pages, docID, u.OriginalName, chunker.OptionsFrom(p.docs))
	if err != nil {
		return 0, 0, err
	}

	done := 0
	for _, b := range store.Batches(len(chunks), p.docs.BatchSize) {
		records := make([]models.VectorRecord, 0, b[1]-b[0])
		for _, c := range chunks[b[0]:b[1]] {
			vector, err := p.embedder.Embed(ctx, c.Text)
			if err != nil {
				return 0, 0, err
			}
			r := c.Record(vector)
			records = append(records, r)
			*inserted = append(*inserted, r.ID)

			done++
			if p.progress != nil {
				p.progress(u.OriginalName, done, len(chunks))
			}
		}
		if _, err := p.store.Insert(ctx, records, p.insertBatch); err != nil {
			return 0, 0, err
		}
	}

	if p.catalog != nil {
		err := p.catalog.Append(ctx, models.CatalogEntry{
			DocumentID:   docID,
			OriginalName: u.OriginalName,
			SavedAs:      u.SavedAs,
			UploadedAt:   p.now().UTC(),
			Pages:        len(pages),
			Chunks:       len(chunks),
		})
		if err != nil {
			return 0, 0, fmt.Errorf("%w: catalog append: %w", models.ErrStore, err)
		}
	}
	return len(pages), len(chunks), nil
}

// rollback is best effort; it runs even when ctx is already cancelled.
func (p *Pipeline) rollback(ctx context.Context, ids []string) {
	if len(ids) == 0 {
		return
	}
	if err := p.store.DeleteByIDs(context.WithoutCancel(ctx), ids, p.deleteBatch); err != nil {
		log.Error().Err(err).Int("chunks", len(ids)).Msg("Cleanup failed")
		return
	}
	log.Debug().Int("chunks", len(ids)).Msg("Rolled back chunks")
}
