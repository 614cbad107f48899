package ingest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdf-rag/internal/config"
	"pdf-rag/internal/models"
)

type fakeExtractor struct {
	pages map[string][]models.Page
	errs  map[string]error
}

func (f fakeExtractor) ExtractAs(_ context.Context, _ string, name string) ([]models.Page, error) {
	if err := f.errs[name]; err != nil {
		return nil, err
	}
	pages := f.pages[name]
	out := make([]models.Page, len(pages))
	copy(out, pages)
	return out, nil
}

type trimNormalizer struct{}

func (trimNormalizer) Normalize(raw string) string { return strings.TrimSpace(raw) }

type fakeEmbedder struct {
	calls  int
	failOn map[string]bool
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.calls++
	for marker := range f.failOn {
		if strings.Contains(text, marker) {
			return nil, fmt.Errorf("%w: endpoint down", models.ErrEmbedding)
		}
	}
	return []float32{1, 0, 0}, nil
}

type memStore struct {
	records   map[string]models.VectorRecord
	inserts   []int
	deleted   []string
	insertErr error
	deleteErr error
}

func newMemStore() *memStore {
	return &memStore{records: map[string]models.VectorRecord{}}
}

func (s *memStore) Insert(_ context.Context, records []models.VectorRecord, _ int) (int, error) {
	if s.insertErr != nil {
		return 0, s.insertErr
	}
	s.inserts = append(s.inserts, len(records))
	for _, r := range records {
		s.records[r.ID] = r
	}
	return len(records), nil
}

func (s *memStore) Query(context.Context, []float32, int, string) ([]models.ContextFragment, error) {
	return nil, nil
}

func (s *memStore) ListByDocument(context.Context, string, int) ([]models.ContextFragment, error) {
	return nil, nil
}

func (s *memStore) DeleteByIDs(_ context.Context, ids []string, _ int) error {
	s.deleted = append(s.deleted, ids...)
	if s.deleteErr != nil {
		return s.deleteErr
	}
	for _, id := range ids {
		delete(s.records, id)
	}
	return nil
}

func (s *memStore) ids() []string {
	out := make([]string, 0, len(s.records))
	for id := range s.records {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

type memCatalog struct {
	entries []models.CatalogEntry
	err     error
}

func (c *memCatalog) Append(_ context.Context, e models.CatalogEntry) error {
	if c.err != nil {
		return c.err
	}
	c.entries = append(c.entries, e)
	return nil
}

func (c *memCatalog) Latest(context.Context) (*models.CatalogEntry, error) { return nil, nil }

func (c *memCatalog) FindByExactName(context.Context, string) (*models.CatalogEntry, error) {
	return nil, nil
}

func words(n int, marker string) string {
	w := make([]string, n)
	for i := range w {
		w[i] = fmt.Sprintf("w%d", i)
	}
	if marker != "" {
		w[n-1] = marker
	}
	return strings.Join(w, " ")
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Documents.BatchSize = 2
	return cfg
}

func sequentialIDs() func() (string, error) {
	n := 0
	return func() (string, error) {
		n++
		return fmt.Sprintf("doc%d", n), nil
	}
}

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newPipeline(ex fakeExtractor, emb *fakeEmbedder, vs *memStore, cat *memCatalog, opts ...Option) *Pipeline {
	opts = append([]Option{WithIDs(sequentialIDs()), WithClock(func() time.Time { return fixedNow })}, opts...)
	return NewPipeline(ex, trimNormalizer{}, emb, vs, cat, testConfig(), opts...)
}

func TestIngestFiveHundredWords(t *testing.T) {
	ex := fakeExtractor{pages: map[string][]models.Page{
		"report.pdf": {{Number: 1, Text: words(500, "")}},
	}}
	vs, cat := newMemStore(), &memCatalog{}
	var progress []int
	p := newPipeline(ex, &fakeEmbedder{}, vs, cat, WithProgress(func(_ string, done, total int) {
		assert.Equal(t, 3, total)
		progress = append(progress, done)
	}))

	report, err := p.Ingest(context.Background(), []Upload{{Path: "/tmp/1__report.pdf", OriginalName: "report.pdf", SavedAs: "1__report.pdf", Size: 10, MimeType: "application/pdf"}})
	require.NoError(t, err)

	assert.Equal(t, Totals{Files: 1, Pages: 1, Chunks: 3}, report.Totals)
	assert.Equal(t, []string{"doc1-p1-c0", "doc1-p1-c1", "doc1-p1-c2"}, vs.ids())
	assert.Equal(t, []int{2, 1}, vs.inserts)
	assert.Equal(t, []int{1, 2, 3}, progress)

	require.Len(t, report.Files, 1)
	f := report.Files[0]
	assert.NoError(t, f.Err)
	assert.Equal(t, "doc1", f.DocumentID)
	assert.Equal(t, "1__report.pdf", f.SavedAs)

	require.Len(t, cat.entries, 1)
	assert.Equal(t, models.CatalogEntry{
		DocumentID:   "doc1",
		OriginalName: "report.pdf",
		SavedAs:      "1__report.pdf",
		UploadedAt:   fixedNow,
		Pages:        1,
		Chunks:       3,
	}, cat.entries[0])

	rec := vs.records["doc1-p1-c2"]
	assert.Equal(t, models.ChunkMetadata{DocumentID: "doc1", Filename: "report.pdf", Page: 1, ChunkIndex: 2}, rec.Metadata)
}

func TestIngestRollsBackFailedFileOnly(t *testing.T) {
	ex := fakeExtractor{pages: map[string][]models.Page{
		"good.pdf": {{Number: 1, Text: words(100, "")}},
		"bad.pdf":  {{Number: 1, Text: words(240, "")}, {Number: 2, Text: words(100, "")}, {Number: 3, Text: words(50, "poison")}},
		"next.pdf": {{Number: 1, Text: words(10, "")}},
	}}
	emb := &fakeEmbedder{failOn: map[string]bool{"poison": true}}
	vs, cat := newMemStore(), &memCatalog{}
	p := newPipeline(ex, emb, vs, cat)

	report, err := p.Ingest(context.Background(), []Upload{
		{OriginalName: "good.pdf"},
		{OriginalName: "bad.pdf"},
		{OriginalName: "next.pdf"},
	})
	require.NoError(t, err)

	require.Len(t, report.Files, 3)
	assert.NoError(t, report.Files[0].Err)
	assert.ErrorIs(t, report.Files[1].Err, models.ErrEmbedding)
	assert.NoError(t, report.Files[2].Err)
	assert.Len(t, report.Failed(), 1)
	assert.Len(t, report.Succeeded(), 2)

	// the first batch of bad.pdf was stored, then removed again
	assert.Equal(t, []string{"doc2-p1-c0", "doc2-p2-c1"}, vs.deleted)
	assert.Equal(t, []string{"doc1-p1-c0", "doc3-p1-c0"}, vs.ids())
	assert.Equal(t, Totals{Files: 2, Pages: 2, Chunks: 2}, report.Totals)
	require.Len(t, cat.entries, 2)
	assert.Equal(t, "next.pdf", cat.entries[1].OriginalName)
}

func TestIngestTooManyPages(t *testing.T) {
	pages := make([]models.Page, 61)
	for i := range pages {
		pages[i] = models.Page{Number: i + 1, Text: "page"}
	}
	emb := &fakeEmbedder{}
	vs, cat := newMemStore(), &memCatalog{}
	p := newPipeline(fakeExtractor{pages: map[string][]models.Page{"big.pdf": pages}}, emb, vs, cat)

	report, err := p.Ingest(context.Background(), []Upload{{OriginalName: "big.pdf"}})
	require.NoError(t, err)

	assert.ErrorIs(t, report.Files[0].Err, models.ErrTooManyPages)
	assert.Zero(t, emb.calls)
	assert.Empty(t, vs.deleted)
	assert.Empty(t, cat.entries)
}

func TestIngestExtractionFailure(t *testing.T) {
	ex := fakeExtractor{errs: map[string]error{"broken.pdf": fmt.Errorf("%w: bad xref", models.ErrExtraction)}}
	p := newPipeline(ex, &fakeEmbedder{}, newMemStore(), &memCatalog{})

	report, err := p.Ingest(context.Background(), []Upload{{OriginalName: "broken.pdf"}})
	require.NoError(t, err)
	assert.ErrorIs(t, report.Files[0].Err, models.ErrExtraction)
	assert.Equal(t, Totals{}, report.Totals)
}

func TestIngestCatalogFailureRollsBack(t *testing.T) {
	ex := fakeExtractor{pages: map[string][]models.Page{"a.pdf": {{Number: 1, Text: words(20, "")}}}}
	vs := newMemStore()
	p := newPipeline(ex, &fakeEmbedder{}, vs, &memCatalog{err: errors.New("disk full")})

	report, err := p.Ingest(context.Background(), []Upload{{OriginalName: "a.pdf"}})
	require.NoError(t, err)

	assert.ErrorIs(t, report.Files[0].Err, models.ErrStore)
	assert.Equal(t, []string{"doc1-p1-c0"}, vs.deleted)
	assert.Empty(t, vs.ids())
}

func TestIngestCleanupFailureIsSwallowed(t *testing.T) {
	ex := fakeExtractor{pages: map[string][]models.Page{"a.pdf": {{Number: 1, Text: words(20, "")}}}}
	vs := newMemStore()
	vs.deleteErr = errors.New("store offline")
	p := newPipeline(ex, &fakeEmbedder{}, vs, &memCatalog{err: errors.New("disk full")})

	report, err := p.Ingest(context.Background(), []Upload{{OriginalName: "a.pdf"}})
	require.NoError(t, err)
	assert.ErrorIs(t, report.Files[0].Err, models.ErrStore)
	assert.Equal(t, []string{"doc1-p1-c0"}, vs.deleted)
}

func TestIngestRequiresFiles(t *testing.T) {
	p := newPipeline(fakeExtractor{}, &fakeEmbedder{}, newMemStore(), &memCatalog{})

	_, err := p.Ingest(context.Background(), nil)
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}
