package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdf-rag/internal/config"
	"pdf-rag/internal/ingest"
	"pdf-rag/internal/models"
	"pdf-rag/internal/storage"
)

type fakeIngester struct {
	uploads  []ingest.Upload
	contents []string
	fail     map[string]error
}

func (f *fakeIngester) Ingest(_ context.Context, uploads []ingest.Upload) (*ingest.Report, error) {
	f.uploads = uploads
	report := &ingest.Report{}
	for i, u := range uploads {
		data, _ := os.ReadFile(u.Path)
		f.contents = append(f.contents, string(data))

		res := ingest.FileResult{
			DocumentID:   fmt.Sprintf("doc%d", i+1),
			OriginalName: u.OriginalName,
			SavedAs:      u.SavedAs,
			Size:         u.Size,
			Pages:        1,
			Chunks:       2,
			Err:          f.fail[u.OriginalName],
		}
		report.Files = append(report.Files, res)
		if res.Err == nil {
			report.Totals.Files++
			report.Totals.Pages++
			report.Totals.Chunks += 2
		}
	}
	return report, nil
}

type fakeAnswerer struct {
	question, docID, filename string
	resp                      *models.PromptResponse
	err                       error
}

func (f *fakeAnswerer) Query(_ context.Context, question, docID, filename string) (*models.PromptResponse, error) {
	f.question, f.docID, f.filename = question, docID, filename
	if f.err != nil {
		return nil, f.err
	}
	if strings.TrimSpace(question) == "" {
		return nil, models.ErrInvalidInput
	}
	return f.resp, nil
}

func serverConfig() config.ServerConfig {
	return config.ServerConfig{MaxUploadBytes: 1 << 20, MaxFiles: 2}
}

func newTestRouter(t *testing.T, ing *fakeIngester, ans *fakeAnswerer) (*gin.Engine, string) {
	t.Helper()
	dir := t.TempDir()
	h := NewHandler(ing, ans, storage.NewLocalStore(dir), serverConfig())
	h.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return NewRouter(h, gin.TestMode), dir
}

func multipartBody(t *testing.T, files map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	for name, content := range files {
		part, err := w.CreateFormFile("files", name)
		require.NoError(t, err)
		_, err = part.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return body, w.FormDataContentType()
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	r, _ := newTestRouter(t, &fakeIngester{}, &fakeAnswerer{})
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestNotFound(t *testing.T) {
	r, _ := newTestRouter(t, &fakeIngester{}, &fakeAnswerer{})
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/nope", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"Not found"}`, rec.Body.String())
}

func TestUploadDocuments(t *testing.T) {
	ing := &fakeIngester{}
	r, dir := newTestRouter(t, ing, &fakeAnswerer{})

	body, contentType := multipartBody(t, map[string]string{"Q1 report.pdf": "%PDF-1.4 body"})
	req := httptest.NewRequest(http.MethodPost, "/api/documents", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	out := decode(t, rec)
	assert.Equal(t, "ok", out["status"])
	assert.Equal(t, map[string]any{"files": 1.0, "pages": 1.0, "chunks": 2.0}, out["totals"])
	assert.NotContains(t, out, "failed")

	require.Len(t, ing.uploads, 1)
	u := ing.uploads[0]
	assert.Equal(t, "Q1 report.pdf", u.OriginalName)
	assert.Equal(t, "1700000000000__Q1_report.pdf", u.SavedAs)
	assert.Equal(t, []string{"%PDF-1.4 body"}, ing.contents)

	archived, err := os.ReadFile(filepath.Join(dir, u.SavedAs))
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4 body", string(archived))

	_, err = os.Stat(u.Path)
	assert.True(t, os.IsNotExist(err), "temp file removed")
}

func TestUploadDocumentsPartialFailure(t *testing.T) {
	ing := &fakeIngester{fail: map[string]error{"bad.pdf": fmt.Errorf("%w: 61 pages", models.ErrTooManyPages)}}
	r, _ := newTestRouter(t, ing, &fakeAnswerer{})

	body, contentType := multipartBody(t, map[string]string{"good.pdf": "a", "bad.pdf": "b"})
	req := httptest.NewRequest(http.MethodPost, "/api/documents", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	out := decode(t, rec)
	failed, ok := out["failed"].([]any)
	require.True(t, ok)
	require.Len(t, failed, 1)
	assert.Equal(t, "bad.pdf", failed[0].(map[string]any)["originalName"])
	assert.Len(t, out["files"], 1)
}

func TestUploadDocumentsAllFailed(t *testing.T) {
	ing := &fakeIngester{fail: map[string]error{"bad.pdf": errors.New("too many pages")}}
	r, _ := newTestRouter(t, ing, &fakeAnswerer{})

	body, contentType := multipartBody(t, map[string]string{"bad.pdf": "b"})
	req := httptest.NewRequest(http.MethodPost, "/api/documents", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "too many pages", decode(t, rec)["error"])
}

func TestUploadDocumentsRejects(t *testing.T) {
	tests := []struct {
		name   string
		files  map[string]string
		status int
		error  string
	}{
		{"no files", map[string]string{}, http.StatusBadRequest, "Missing files"},
		{"too many", map[string]string{"a.pdf": "a", "b.pdf": "b", "c.pdf": "c"}, http.StatusBadRequest, "Upload failed"},
		{"wrong type", map[string]string{"image.png": "x"}, http.StatusBadRequest, "Unsupported file type"},
		{"too large", map[string]string{"big.pdf": strings.Repeat("x", 1<<20+1)}, http.StatusRequestEntityTooLarge, "Upload failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ing := &fakeIngester{}
			r, _ := newTestRouter(t, ing, &fakeAnswerer{})

			body, contentType := multipartBody(t, tt.files)
			req := httptest.NewRequest(http.MethodPost, "/api/documents", body)
			req.Header.Set("Content-Type", contentType)
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.error, decode(t, rec)["error"])
			assert.Nil(t, ing.uploads)
		})
	}
}

func TestUploadDocumentsNotMultipart(t *testing.T) {
	r, _ := newTestRouter(t, &fakeIngester{}, &fakeAnswerer{})
	req := httptest.NewRequest(http.MethodPost, "/api/documents", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Missing files", decode(t, rec)["error"])
}

func TestAskQuestion(t *testing.T) {
	score := 0.9
	ans := &fakeAnswerer{resp: &models.PromptResponse{
		Answer:  "It was approved in March. [1]",
		Sources: []models.Source{{ID: 1, DocumentID: "d1", Filename: "a.pdf", Page: 2, ChunkID: "d1-p2-c4", ChunkIndex: 4, Score: &score}},
	}}
	r, _ := newTestRouter(t, &fakeIngester{}, ans)

	req := httptest.NewRequest(http.MethodPost, "/api/question", strings.NewReader(`{"question":"When?","docId":"d1","filename":"a.pdf"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "When?", ans.question)
	assert.Equal(t, "d1", ans.docID)
	assert.Equal(t, "a.pdf", ans.filename)
	assert.JSONEq(t, `{
		"answer": "It was approved in March. [1]",
		"sources": [{"id":1,"docId":"d1","filename":"a.pdf","page":2,"chunkIndex":4,"chunkId":"d1-p2-c4","distance":null,"score":0.9}]
	}`, rec.Body.String())
}

func TestAskQuestionErrors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		err    error
		status int
		error  string
	}{
		{"blank", `{"question":"   "}`, nil, http.StatusBadRequest, "Missing question"},
		{"bad json", `{`, nil, http.StatusBadRequest, "Missing question"},
		{"model down", `{"question":"When?"}`, models.ErrGeneration, http.StatusInternalServerError, "Server error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := newTestRouter(t, &fakeIngester{}, &fakeAnswerer{err: tt.err})
			req := httptest.NewRequest(http.MethodPost, "/api/question", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.error, decode(t, rec)["error"])
		})
	}
}

func TestRecoveryReturnsServerError(t *testing.T) {
	r := gin.New()
	r.Use(RequestLogger(), Recovery())
	r.GET("/boom", func(*gin.Context) { panic("boom") })

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"Server error"}`, rec.Body.String())
}
