// Package catalog keeps the capped, append-only log of uploaded documents.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"pdf-rag/internal/models"
)

// Catalog is the document log consulted by summary questions. Latest and
// FindByExactName return nil when nothing matches.
type Catalog interface {
	Append(ctx context.Context, entry models.CatalogEntry) error
	Latest(ctx context.Context) (*models.CatalogEntry, error)
	FindByExactName(ctx context.Context, name string) (*models.CatalogEntry, error)
}

// FileCatalog stores the log as a JSON document on disk.
type FileCatalog struct {
	path       string
	maxEntries int
	mu         sync.Mutex
}

type fileContents struct {
	Docs []models.CatalogEntry `json:"docs"`
}

var _ Catalog = (*FileCatalog)(nil)

func NewFileCatalog(path string, maxEntries int) *FileCatalog {
	return &FileCatalog{path: path, maxEntries: maxEntries}
}

func (c *FileCatalog) Append(_ context.Context, entry models.CatalogEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	docs := append(c.read(), entry)
	docs = capEntries(docs, c.maxEntries)
	return c.write(docs)
}

func (c *FileCatalog) Latest(_ context.Context) (*models.CatalogEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	docs := c.read()
	if len(docs) == 0 {
		return nil, nil
	}
	latest := docs[len(docs)-1]
	return &latest, nil
}

func (c *FileCatalog) FindByExactName(_ context.Context, name string) (*models.CatalogEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return findByName(c.read(), name), nil
}

// read treats a missing or unreadable file as an empty log.
func (c *FileCatalog) read() []models.CatalogEntry {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", c.path).Msg("Catalog unreadable, starting empty")
		}
		return nil
	}
	var contents fileContents
	if err := json.Unmarshal(data, &contents); err != nil {
		log.Warn().Err(err).Str("path", c.path).Msg("Catalog corrupt, starting empty")
		return nil
	}
	return contents.Docs
}

func (c *FileCatalog) write(docs []models.CatalogEntry) error {
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("failed to create catalog folder: %w", err)
	}
	data, err := json.MarshalIndent(fileContents{Docs: docs}, "", "  ")
	if err != nil {
		return err
	}

	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write catalog: %w", err)
	}
	return os.Rename(tmp, c.path)
}

// capEntries evicts the oldest entries beyond max.
func capEntries(docs []models.CatalogEntry, max int) []models.CatalogEntry {
	if max > 0 && len(docs) > max {
		return docs[len(docs)-max:]
	}
	return docs
}

// findByName scans newest first so the most recent upload wins.
func findByName(docs []models.CatalogEntry, name string) *models.CatalogEntry {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil
	}
	for i := len(docs) - 1; i >= 0; i-- {
		if strings.EqualFold(docs[i].OriginalName, name) {
			found := docs[i]
			return &found
		}
	}
	return nil
}
