package chunker

import (
	"fmt"
	"strings"
	"unicode"

	"pdf-rag/internal/config"
	"pdf-rag/internal/models"
)

// Options controls the sliding word window.
type Options struct {
	ChunkSizeWords int
	OverlapWords   int
	MaxChunkChars  int
}

// OptionsFrom reads the window settings of the documents section.
func OptionsFrom(cfg config.DocumentsConfig) Options {
	return Options{
		ChunkSizeWords: cfg.ChunkSizeWords,
		OverlapWords:   cfg.OverlapWords,
		MaxChunkChars:  cfg.MaxChunkChars,
	}
}

// Chunk splits pages into overlapping word windows. ChunkIndex is shared by
// all pages of the document and never resets.
func Chunk(pages []models.Page, documentID, filename string, opts Options) ([]models.Chunk, error) {
	if documentID == "" {
		return nil, fmt.Errorf("%w: missing document id", models.ErrInvalidInput)
	}
	if filename == "" {
		return nil, fmt.Errorf("%w: missing filename", models.ErrInvalidInput)
	}
	if opts.ChunkSizeWords < 1 {
		return nil, fmt.Errorf("%w: chunk size must be positive", models.ErrInvalidInput)
	}

	var chunks []models.Chunk
	chunkIndex := 0
	for _, page := range pages {
		if page.Number < 1 {
			continue
		}
		words := strings.Fields(page.Text)
		for _, w := range Windows(len(words), opts.ChunkSizeWords, opts.OverlapWords) {
			text := truncate(strings.Join(words[w.Start:w.End], " "), opts.MaxChunkChars)
			if text == "" {
				continue
			}
			chunks = append(chunks, models.Chunk{
				DocumentID: documentID,
				Filename:   filename,
				Page:       page.Number,
				ChunkIndex: chunkIndex,
				Text:       text,
			})
			chunkIndex++
		}
	}
	return chunks, nil
}

// Window is a half-open word range [Start, End).
type Window struct {
	Start int
	End   int
}

// Windows lays out the word ranges for a page of total words. The window
// advances by size-overlap; an overlap that would stall the window makes it
// jump to the previous end instead.
func Windows(total, size, overlap int) []Window {
	if total == 0 || size < 1 {
		return nil
	}
	if overlap < 0 {
		overlap = 0
	}

	var windows []Window
	start := 0
	for start < total {
		end := min(start+size, total)
		windows = append(windows, Window{Start: start, End: end})
		if end >= total {
			break
		}

		next := end - overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return windows
}

// truncate cuts text to max characters and drops the trailing whitespace left
// by the cut. A max of zero disables the cap.
func truncate(text string, max int) string {
	if max <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return strings.TrimRightFunc(string(runes[:max]), unicode.IsSpace)
}
