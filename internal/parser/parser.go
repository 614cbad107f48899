package parser

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/rs/zerolog/log"
	"github.com/xuri/excelize/v2"

	"pdf-rag/internal/models"
)

// Extractor yields the raw text of every page of a file.
type Extractor interface {
	Extract(ctx context.Context, filePath string) ([]models.Page, error)
}

// FileExtractor picks a format reader by file extension.
type FileExtractor struct{}

func NewFileExtractor() *FileExtractor {
	return &FileExtractor{}
}

var supportedExtensions = map[string]bool{
	".pdf":      true,
	".docx":     true,
	".xlsx":     true,
	".md":       true,
	".markdown": true,
	".txt":      true,
}

// Supported reports whether a file name has an extension we can extract.
func Supported(filename string) bool {
	return supportedExtensions[strings.ToLower(filepath.Ext(filename))]
}

// Extract parses the whole file; any failure aborts it with ErrExtraction and
// no partial pages.
func (e *FileExtractor) Extract(ctx context.Context, filePath string) ([]models.Page, error) {
	return e.ExtractAs(ctx, filePath, filePath)
}

// ExtractAs reads filePath with the reader chosen by name's extension. Uploads
// are stored under generated names, so the two can differ.
func (e *FileExtractor) ExtractAs(ctx context.Context, filePath, name string) ([]models.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		pages []models.Page
		err   error
	)
	ext := strings.ToLower(filepath.Ext(name))
	switch ext {
	case ".pdf":
		pages, err = parsePDF(filePath)
	case ".docx":
		pages, err = parseDOCX(filePath)
	case ".xlsx":
		pages, err = parseSheets(filePath)
	case ".md", ".markdown":
		pages, err = parseMarkdown(filePath)
	case ".txt":
		pages, err = parseText(filePath)
	default:
		return nil, fmt.Errorf("%w: unsupported file format: %s", models.ErrExtraction, ext)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", models.ErrExtraction, filepath.Base(name), err)
	}

	log.Debug().Str("file", filepath.Base(name)).Int("pages", len(pages)).Msg("Extracted pages")
	return pages, nil
}

func parsePDF(filePath string) (pages []models.Page, err error) {
	// the pdf reader panics on some malformed cross-reference tables
	defer func() {
		if r := recover(); r != nil {
			pages, err = nil, fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	f, reader, err := pdf.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			pages = append(pages, models.Page{Number: i})
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}
		pages = append(pages, models.Page{Number: i, Text: pageText})
	}
	return pages, nil
}

// DOCX has no page numbers; the whole body is page 1.
func parseDOCX(filePath string) ([]models.Page, error) {
	r, err := docx.ReadDocxFile(filePath)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	text, err := wordXMLText(r.Editable().GetContent())
	if err != nil {
		return nil, err
	}
	return []models.Page{{Number: 1, Text: text}}, nil
}

// wordXMLText keeps the w:t runs of a document.xml body, one line per paragraph.
func wordXMLText(content string) (string, error) {
	dec := xml.NewDecoder(strings.NewReader(content))
	var (
		text   strings.Builder
		inText bool
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				text.WriteString(" ")
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				text.WriteString("\n")
			}
		case xml.CharData:
			if inText {
				text.Write(t)
			}
		}
	}
	return text.String(), nil
}

// one page per sheet
func parseSheets(filePath string) ([]models.Page, error) {
	f, err := excelize.OpenFile(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var pages []models.Page
	for sheetNum, sheetName := range f.GetSheetList() {
		rows, err := f.GetRows(sheetName)
		if err != nil {
			return nil, fmt.Errorf("sheet %s: %w", sheetName, err)
		}
		var text strings.Builder
		text.WriteString(sheetName + "\n")
		for _, row := range rows {
			text.WriteString(strings.Join(row, "\t"))
			text.WriteString("\n")
		}
		pages = append(pages, models.Page{Number: sheetNum + 1, Text: text.String()})
	}
	return pages, nil
}

// Form feeds separate pages, as pdftotext writes them.
func parseText(filePath string) ([]models.Page, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	var pages []models.Page
	for i, part := range bytes.Split(data, []byte("\f")) {
		pages = append(pages, models.Page{Number: i + 1, Text: string(part)})
	}
	return pages, nil
}
