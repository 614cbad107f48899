// Package api exposes upload and question endpoints over HTTP.
package api

import (
	"context"
	"errors"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"pdf-rag/internal/config"
	"pdf-rag/internal/ingest"
	"pdf-rag/internal/models"
	"pdf-rag/internal/parser"
	"pdf-rag/internal/storage"
)

type Ingester interface {
	Ingest(ctx context.Context, uploads []ingest.Upload) (*ingest.Report, error)
}

type Answerer interface {
	Query(ctx context.Context, question, docID, filename string) (*models.PromptResponse, error)
}

type Handler struct {
	ingester Ingester
	answerer Answerer
	archive  storage.Store
	cfg      config.ServerConfig
	now      func() time.Time
}

func NewHandler(ingester Ingester, answerer Answerer, archive storage.Store, cfg config.ServerConfig) *Handler {
	return &Handler{
		ingester: ingester,
		answerer: answerer,
		archive:  archive,
		cfg:      cfg,
		now:      time.Now,
	}
}

// NewRouter wires the routes under /api.
func NewRouter(h *Handler, mode string) *gin.Engine {
	gin.SetMode(mode)
	r := gin.New()
	r.Use(RequestLogger(), Recovery())
	r.MaxMultipartMemory = 8 << 20

	api := r.Group("/api")
	api.GET("/health", h.Health)
	api.POST("/documents", h.UploadDocuments)
	api.POST("/question", h.AskQuestion)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	})
	return r
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type fileFailure struct {
	DocumentID   string `json:"docId,omitempty"`
	OriginalName string `json:"originalName"`
	Error        string `json:"error"`
}

// UploadDocuments ingests the multipart "files" field.
func (h *Handler) UploadDocuments(c *gin.Context) {
	limit := h.cfg.MaxUploadBytes*int64(h.cfg.MaxFiles) + 1<<20
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)

	form, err := c.MultipartForm()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Upload failed"})
			return
		}
		if errors.Is(err, http.ErrNotMultipart) || errors.Is(err, http.ErrMissingBoundary) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Missing files"})
			return
		}
		log.Warn().Err(err).Msg("Upload failed")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Upload failed"})
		return
	}

	files := form.File["files"]
	if len(files) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing files"})
		return
	}
	if len(files) > h.cfg.MaxFiles {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Upload failed"})
		return
	}
	for _, fh := range files {
		if fh.Size > h.cfg.MaxUploadBytes {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Upload failed"})
			return
		}
		if !parser.Supported(fh.Filename) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Unsupported file type", "originalName": fh.Filename})
			return
		}
	}

	uploads := make([]ingest.Upload, 0, len(files))
	defer func() {
		for _, u := range uploads {
			os.Remove(u.Path)
		}
	}()
	for _, fh := range files {
		u, err := h.receive(c, fh)
		if err != nil {
			log.Error().Err(err).Str("file", fh.Filename).Msg("Upload failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Server error"})
			return
		}
		uploads = append(uploads, u)
	}

	report, err := h.ingester.Ingest(c.Request.Context(), uploads)
	if err != nil {
		log.Error().Err(err).Msg("Upload failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Server error"})
		return
	}

	var failures []fileFailure
	for _, f := range report.Failed() {
		failures = append(failures, fileFailure{DocumentID: f.DocumentID, OriginalName: f.OriginalName, Error: f.Err.Error()})
	}

	succeeded := report.Succeeded()
	if len(succeeded) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": failures[0].Error, "failed": failures})
		return
	}

	body := gin.H{"status": "ok", "files": succeeded, "totals": report.Totals}
	if len(failures) > 0 {
		body["failed"] = failures
	}
	c.JSON(http.StatusCreated, body)
}

// receive stores one part in a temp file and archives it under its
// generated name.
func (h *Handler) receive(c *gin.Context, fh *multipart.FileHeader) (ingest.Upload, error) {
	tmp, err := os.CreateTemp("", "upload-*"+filepath.Ext(fh.Filename))
	if err != nil {
		return ingest.Upload{}, err
	}
	tmp.Close()

	if err := c.SaveUploadedFile(fh, tmp.Name()); err != nil {
		os.Remove(tmp.Name())
		return ingest.Upload{}, err
	}

	savedAs := storage.SavedName(fh.Filename, h.now())
	if err := h.archive.Archive(c.Request.Context(), savedAs, tmp.Name()); err != nil {
		os.Remove(tmp.Name())
		return ingest.Upload{}, err
	}

	return ingest.Upload{
		Path:         tmp.Name(),
		OriginalName: fh.Filename,
		SavedAs:      savedAs,
		Size:         fh.Size,
		MimeType:     fh.Header.Get("Content-Type"),
	}, nil
}

type questionRequest struct {
	Question string `json:"question"`
	DocID    string `json:"docId"`
	Filename string `json:"filename"`
}

func (h *Handler) AskQuestion(c *gin.Context) {
	var req questionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing question"})
		return
	}

	resp, err := h.answerer.Query(c.Request.Context(), req.Question, req.DocID, req.Filename)
	if errors.Is(err, models.ErrInvalidInput) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing question"})
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("Answer failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Server error"})
		return
	}
	c.JSON(http.StatusOK, resp)
}
