package models

import "errors"

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrExtraction   = errors.New("extraction failed")
	ErrEmbedding    = errors.New("embedding failed")
	ErrGeneration   = errors.New("generation failed")
	ErrStore        = errors.New("vector store error")
	ErrTooManyPages = errors.New("too many pages")
)
