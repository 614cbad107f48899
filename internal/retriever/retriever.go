package retriever

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"pdf-rag/internal/catalog"
	"pdf-rag/internal/config"
	"pdf-rag/internal/models"
	"pdf-rag/internal/store"
)

// dedupPrefix is how many normalized characters of a fragment take part in
// the duplicate key.
const dedupPrefix = 80

var sentenceCountRe = regexp.MustCompile(`(?i)\b(\d{1,3})\s+sentences?\b`)

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type Normalizer interface {
	Normalize(raw string) string
}

// Query is one question with its optional document hints.
type Query struct {
	Question   string
	DocumentID string
	Filename   string
}

// Result is what the answer step needs. Fragments is empty when nothing
// relevant was found.
type Result struct {
	Constraints    models.AnswerConstraints
	Fragments      []models.ContextFragment
	UsedDocumentID string
	Selected       *models.Selection
}

type Retriever struct {
	embedder    Embedder
	store       store.VectorStore
	catalog     catalog.Catalog
	normalizer  Normalizer
	cfg         config.QAConfig
	maxContexts int
}

func New(embedder Embedder, vs store.VectorStore, cat catalog.Catalog, normalizer Normalizer, cfg config.QAConfig, maxContexts int) *Retriever {
	return &Retriever{
		embedder:    embedder,
		store:       vs,
		catalog:     cat,
		normalizer:  normalizer,
		cfg:         cfg,
		maxContexts: maxContexts,
	}
}

// DetectMode picks summary mode for summary keywords or an explicit
// sentence count, QA otherwise.
func DetectMode(question string) models.Mode {
	text := strings.ToLower(CleanText(question))
	for _, kw := range models.SummaryKeywords {
		if strings.Contains(text, kw) {
			return models.ModeSummary
		}
	}
	if sentenceCountRe.MatchString(text) {
		return models.ModeSummary
	}
	return models.ModeQA
}

// SentenceCount reads "<n> sentence(s)" from the question, clamped to
// [1, limit]. It returns def when the question names no count.
func SentenceCount(question string, def, limit int) int {
	m := sentenceCountRe.FindStringSubmatch(question)
	if m == nil {
		return def
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return def
	}
	return max(1, min(n, limit))
}

// CleanText collapses every whitespace run to a single space.
func CleanText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

func (r *Retriever) Retrieve(ctx context.Context, q Query) (*Result, error) {
	if DetectMode(q.Question) == models.ModeSummary {
		return r.summary(ctx, q)
	}
	return r.qa(ctx, q)
}

func (r *Retriever) summary(ctx context.Context, q Query) (*Result, error) {
	exact := SentenceCount(CleanText(q.Question), r.cfg.SummaryDefaultSentences, r.cfg.SummaryMaxSentences)
	res := &Result{Constraints: models.SummaryConstraints(exact)}

	docID, selected, err := r.pickDocument(ctx, q.DocumentID, q.Filename)
	if err != nil {
		return nil, err
	}
	res.Selected = selected
	if docID == "" {
		log.Debug().Msg("No document to summarize")
		return res, nil
	}

	hits, err := r.store.ListByDocument(ctx, docID, r.cfg.DocSummaryLimit)
	if err != nil {
		return nil, err
	}
	hits = r.filter(hits)
	if len(hits) == 0 {
		return res, nil
	}

	res.UsedDocumentID = docID
	res.Fragments = r.contexts(hits)
	return res, nil
}

// pickDocument resolves the summary target: explicit id, then exact file
// name, then the latest upload.
func (r *Retriever) pickDocument(ctx context.Context, docID, filename string) (string, *models.Selection, error) {
	if docID != "" {
		return docID, &models.Selection{DocumentID: docID}, nil
	}
	if r.catalog == nil {
		return "", nil, nil
	}

	if filename != "" {
		entry, err := r.catalog.FindByExactName(ctx, filename)
		if err != nil {
			return "", nil, fmt.Errorf("%w: %w", models.ErrStore, err)
		}
		if entry != nil && entry.DocumentID != "" {
			return entry.DocumentID, &models.Selection{DocumentID: entry.DocumentID, Filename: entry.OriginalName}, nil
		}
	}

	entry, err := r.catalog.Latest(ctx)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %w", models.ErrStore, err)
	}
	if entry == nil || entry.DocumentID == "" {
		return "", nil, nil
	}
	uploadedAt := entry.UploadedAt
	return entry.DocumentID, &models.Selection{
		DocumentID: entry.DocumentID,
		Filename:   entry.OriginalName,
		UploadedAt: &uploadedAt,
	}, nil
}

func (r *Retriever) qa(ctx context.Context, q Query) (*Result, error) {
	res := &Result{Constraints: models.QAConstraints(1, 4)}

	vector, err := r.embedder.Embed(ctx, q.Question)
	if err != nil {
		return nil, err
	}

	hits, err := r.store.Query(ctx, vector, r.cfg.TopK, q.DocumentID)
	if err != nil {
		return nil, err
	}
	hits = r.filter(hits)

	if len(hits) == 0 {
		widened := max(r.cfg.TopK*3, 12)
		log.Debug().Int("topK", widened).Msg("Widening search")
		if hits, err = r.store.Query(ctx, vector, widened, ""); err != nil {
			return nil, err
		}
		hits = r.filter(hits)
	}

	if len(hits) == 0 && q.DocumentID != "" {
		log.Debug().Str("docId", q.DocumentID).Msg("Falling back to document listing")
		if hits, err = r.store.ListByDocument(ctx, q.DocumentID, r.cfg.DocSummaryLimit); err != nil {
			return nil, err
		}
		hits = r.filter(hits)
	}

	res.Fragments = r.contexts(hits)
	return res, nil
}

// filter keeps fragments with enough normalized text, or all of them when
// none qualifies.
func (r *Retriever) filter(hits []models.ContextFragment) []models.ContextFragment {
	good := make([]models.ContextFragment, 0, len(hits))
	for _, h := range hits {
		if len([]rune(r.normalizer.Normalize(h.Text))) >= r.cfg.MinTextChars {
			good = append(good, h)
		}
	}
	if len(good) == 0 {
		return hits
	}
	return good
}

// contexts normalizes and deduplicates hits, then numbers the survivors
// 1..n, keeping at most maxContexts.
func (r *Retriever) contexts(hits []models.ContextFragment) []models.ContextFragment {
	seen := make(map[string]struct{}, len(hits))
	out := make([]models.ContextFragment, 0, len(hits))
	for _, h := range hits {
		h.Text = r.normalizer.Normalize(h.Text)
		key := dedupKey(h)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		if r.maxContexts > 0 && len(out) == r.maxContexts {
			break
		}
		h.SourceID = len(out) + 1
		out = append(out, h)
	}
	return out
}

func dedupKey(f models.ContextFragment) string {
	prefix := []rune(f.Text)
	if len(prefix) > dedupPrefix {
		prefix = prefix[:dedupPrefix]
	}
	return fmt.Sprintf("%s:%d:%d:%s", f.Metadata.Filename, f.Metadata.Page, f.Metadata.ChunkIndex, CleanText(string(prefix)))
}
