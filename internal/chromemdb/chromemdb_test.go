package chromemdb

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdf-rag/internal/models"
)

func record(doc string, page, idx int, vec ...float32) models.VectorRecord {
	c := models.Chunk{DocumentID: doc, Filename: doc + ".pdf", Page: page, ChunkIndex: idx, Text: "text of " + models.ChunkID(doc, page, idx)}
	return c.Record(vec)
}

func newTestManager(t *testing.T) *VectorDBManager {
	t.Helper()
	m, err := NewVectorDBManager(t.TempDir(), "test-docs", true, false, "", 3)
	require.NoError(t, err)
	return m
}

func seed(t *testing.T, m *VectorDBManager) {
	t.Helper()
	records := []models.VectorRecord{
		record("a", 2, 2, 0, 1, 0),
		record("a", 1, 0, 1, 0, 0),
		record("a", 1, 1, 0.9, 0.1, 0),
		record("b", 1, 0, 0, 0, 1),
		{ID: "", Embedding: []float32{1, 1, 1}},
		{ID: "no-vector"},
	}
	n, err := m.Insert(context.Background(), records, 2)
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.Equal(t, 4, m.Count())
}

func TestQueryRanksByDistance(t *testing.T) {
	m := newTestManager(t)
	seed(t, m)

	fragments, err := m.Query(context.Background(), []float32{1, 0, 0}, 10, "")
	require.NoError(t, err)
	require.Len(t, fragments, 4)

	assert.Equal(t, "a-p1-c0", fragments[0].ChunkID)
	assert.Equal(t, "a-p1-c1", fragments[1].ChunkID)
	require.NotNil(t, fragments[0].Distance)
	assert.InDelta(t, 0, *fragments[0].Distance, 1e-5)
	assert.InDelta(t, 1, *fragments[0].Score, 1e-5)
	assert.Equal(t, models.ChunkMetadata{DocumentID: "a", Filename: "a.pdf", Page: 1, ChunkIndex: 0}, fragments[0].Metadata)
	assert.Equal(t, "text of a-p1-c0", fragments[0].Text)
}

func TestQueryFiltersByDocument(t *testing.T) {
	m := newTestManager(t)
	seed(t, m)

	fragments, err := m.Query(context.Background(), []float32{1, 0, 0}, 3, "b")
	require.NoError(t, err)
	require.Len(t, fragments, 1)
	assert.Equal(t, "b-p1-c0", fragments[0].ChunkID)
}

func TestQueryRequiresVector(t *testing.T) {
	m := newTestManager(t)

	_, err := m.Query(context.Background(), nil, 3, "")
	assert.ErrorIs(t, err, models.ErrStore)
}

func TestQueryEmptyCollection(t *testing.T) {
	m := newTestManager(t)

	fragments, err := m.Query(context.Background(), []float32{1, 0, 0}, 3, "")
	require.NoError(t, err)
	assert.Empty(t, fragments)
}

func TestListByDocumentSortsByPosition(t *testing.T) {
	m := newTestManager(t)
	seed(t, m)

	fragments, err := m.ListByDocument(context.Background(), "a", 40)
	require.NoError(t, err)
	require.Len(t, fragments, 3)

	var ids []string
	for _, f := range fragments {
		ids = append(ids, f.ChunkID)
		assert.Nil(t, f.Distance)
		assert.Nil(t, f.Score)
	}
	assert.Equal(t, []string{"a-p1-c0", "a-p1-c1", "a-p2-c2"}, ids)

	fragments, err = m.ListByDocument(context.Background(), "missing", 40)
	require.NoError(t, err)
	assert.Empty(t, fragments)
}

func TestListByDocumentKeepsLeadingChunks(t *testing.T) {
	m := newTestManager(t)
	// later chunks sit closer to the all-ones probe
	records := []models.VectorRecord{
		record("a", 3, 3, 1, 1, 0.9),
		record("a", 1, 0, 1, 0, 0),
		record("a", 2, 2, 1, 1, 1),
		record("a", 1, 1, 0, 1, 0),
		record("b", 1, 0, 1, 1, 1),
	}
	_, err := m.Insert(context.Background(), records, 10)
	require.NoError(t, err)

	fragments, err := m.ListByDocument(context.Background(), "a", 2)
	require.NoError(t, err)

	var ids []string
	for _, f := range fragments {
		ids = append(ids, f.ChunkID)
	}
	assert.Equal(t, []string{"a-p1-c0", "a-p1-c1"}, ids)
}

type fixedEmbedder struct {
	vec   []float32
	calls int
}

func (e *fixedEmbedder) Embed(context.Context, string) ([]float32, error) {
	e.calls++
	return e.vec, nil
}

func TestSyncDimensionAfterReopen(t *testing.T) {
	dir := t.TempDir()
	src, err := NewVectorDBManager(dir, "test-docs", false, false, "", 3)
	require.NoError(t, err)
	seed(t, src)

	// reopened with a configured dimension that disagrees with the data
	m, err := NewVectorDBManager(dir, "test-docs", false, false, "", 8)
	require.NoError(t, err)
	require.Equal(t, 4, m.Count())

	_, err = m.ListByDocument(context.Background(), "a", 40)
	assert.ErrorIs(t, err, models.ErrStore)

	require.NoError(t, m.SyncDimension(context.Background(), &fixedEmbedder{vec: []float32{0, 0, 1}}))
	fragments, err := m.ListByDocument(context.Background(), "a", 40)
	require.NoError(t, err)
	assert.Len(t, fragments, 3)
}

func TestSyncDimensionMismatch(t *testing.T) {
	m := newTestManager(t)
	seed(t, m)

	err := m.SyncDimension(context.Background(), &fixedEmbedder{vec: []float32{1, 0}})
	assert.ErrorIs(t, err, models.ErrStore)
}

func TestSyncDimensionEmptyCollection(t *testing.T) {
	m := newTestManager(t)
	e := &fixedEmbedder{vec: []float32{1, 0}}

	require.NoError(t, m.SyncDimension(context.Background(), e))
	assert.Zero(t, e.calls)
}

func TestDeleteByIDs(t *testing.T) {
	m := newTestManager(t)
	seed(t, m)

	require.NoError(t, m.DeleteByIDs(context.Background(), []string{"a-p1-c0", "a-p1-c1", "a-p2-c2"}, 2))

	assert.Equal(t, 1, m.Count())
	fragments, err := m.ListByDocument(context.Background(), "a", 40)
	require.NoError(t, err)
	assert.Empty(t, fragments)
}

func TestExportImport(t *testing.T) {
	dir := t.TempDir()
	key := "0123456789abcdef0123456789abcdef"

	src, err := NewVectorDBManager(dir, "test-docs", true, false, key, 3)
	require.NoError(t, err)
	seed(t, src)
	require.NoError(t, src.Export(context.Background()))

	dst, err := NewVectorDBManager(dir, "test-docs", true, false, key, 3)
	require.NoError(t, err)
	require.NoError(t, dst.Import(context.Background()))

	assert.Equal(t, 4, dst.Count())
}

func TestExportRequiresKey(t *testing.T) {
	m := newTestManager(t)
	assert.Error(t, m.Export(context.Background()))
}
