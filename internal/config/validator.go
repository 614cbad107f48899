package config

import (
	"fmt"
	"net/url"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (c *Config) Validate() []ValidationError {
	var errors []ValidationError
	add := func(field, msg string) {
		errors = append(errors, ValidationError{Field: field, Message: msg})
	}

	if c.Documents.ChunkSizeWords < 1 {
		add("documents.chunk_size_words", "chunk_size_words must be positive")
	}
	if c.Documents.OverlapWords < 0 || c.Documents.OverlapWords >= c.Documents.ChunkSizeWords {
		add("documents.overlap_words", "overlap_words must be in [0, chunk_size_words)")
	}
	if c.Documents.BatchSize < 1 {
		add("documents.batch_size", "batch_size must be positive")
	}
	if c.Documents.MaxPagesPerFile < 1 {
		add("documents.max_pages_per_file", "max_pages_per_file must be positive")
	}

	if c.QA.TopK < 1 {
		add("qa.top_k", "top_k must be positive")
	}
	if c.QA.SummaryDefaultSentences > c.QA.SummaryMaxSentences {
		add("qa.summary_default_sentences", "summary_default_sentences must not exceed summary_max_sentences")
	}

	for name, llm := range map[string]LLMConfig{"embed_llm": c.EmbedLLM, "inference_llm": c.InferenceLLM} {
		switch llm.Provider {
		case "ollama", "openai":
		default:
			add(name+".provider", "provider must be ollama or openai")
		}
		if llm.BaseURL != "" {
			if _, err := url.Parse(llm.BaseURL); err != nil {
				add(name+".base_url", "invalid base URL")
			}
		}
		if llm.Model == "" {
			add(name+".model", "model is required")
		}
	}

	if c.Embed.MaxConcurrency < 1 {
		add("embed.max_concurrency", "max_concurrency must be positive")
	}
	if c.Embed.MaxAttempts < 1 {
		add("embed.max_attempts", "max_attempts must be positive")
	}
	if c.Embed.RateLimit < 0 {
		add("embed.rate_limit", "rate_limit must not be negative")
	}

	if c.Generation.Temperature < 0 || c.Generation.Temperature > 2 {
		add("generation.temperature", "temperature must be between 0 and 2")
	}
	if c.Generation.TopP <= 0 || c.Generation.TopP > 1 {
		add("generation.top_p", "top_p must be in (0, 1]")
	}

	switch c.VectorStore.Backend {
	case "chromem":
	case "postgres":
		if c.Database.URL == "" {
			add("database.url", "database url is required for the postgres backend")
		}
		if c.Database.Driver != "pgdriver" && c.Database.Driver != "pq" {
			add("database.driver", "driver must be pgdriver or pq")
		}
	default:
		add("vector_store.backend", "backend must be chromem or postgres")
	}
	if c.VectorStore.VectorDim < 1 {
		add("vector_store.vector_dim", "vector_dim must be positive")
	}

	switch c.Catalog.Backend {
	case "file":
	case "redis":
		if c.Catalog.RedisAddr == "" {
			add("catalog.redis_addr", "redis address is required for the redis backend")
		}
	default:
		add("catalog.backend", "backend must be file or redis")
	}

	switch c.Uploads.Backend {
	case "local":
	case "minio":
		if c.Uploads.Endpoint == "" {
			add("uploads.endpoint", "endpoint is required for the minio backend")
		}
	default:
		add("uploads.backend", "backend must be local or minio")
	}

	return errors
}
