package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"pdf-rag/internal/answer"
	"pdf-rag/internal/catalog"
	"pdf-rag/internal/chromemdb"
	"pdf-rag/internal/config"
	"pdf-rag/internal/db"
	"pdf-rag/internal/embedding"
	"pdf-rag/internal/helper"
	"pdf-rag/internal/ingest"
	"pdf-rag/internal/llmservice"
	"pdf-rag/internal/models"
	"pdf-rag/internal/parser"
	"pdf-rag/internal/rag"
	"pdf-rag/internal/retriever"
	"pdf-rag/internal/store"
)

// app holds the shared services. closers run in reverse order on Close.
type app struct {
	cfg        *config.Config
	vectors    store.VectorStore
	catalog    catalog.Catalog
	normalizer *parser.Normalizer
	gateway    *embedding.Gateway
	closers    []func() error
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg, normalizer: parser.NewNormalizer(cfg.Normalizer)}

	if err := a.openVectorStore(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.openCatalog(ctx); err != nil {
		a.Close()
		return nil, err
	}

	embedder, err := embedding.NewEmbedder(&cfg.EmbedLLM)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	a.gateway = embedding.NewGateway(embedder, cfg.Embed)

	if m, ok := a.vectors.(*chromemdb.VectorDBManager); ok {
		err := m.SyncDimension(ctx, a.gateway)
		switch {
		case errors.Is(err, models.ErrStore):
			a.Close()
			return nil, err
		case err != nil:
			log.Warn().Err(err).Int("dim", cfg.VectorStore.VectorDim).Msg("Could not verify embedding dimension, using configured value")
		}
	}
	return a, nil
}

func (a *app) openVectorStore(ctx context.Context) error {
	vc := a.cfg.VectorStore
	switch vc.Backend {
	case "postgres":
		sqldb, err := db.ConnectDB(&a.cfg.Database)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		s := db.NewStore(db.NewDB(sqldb, a.cfg.Database.Debug), a.cfg.Database.Table, vc.VectorDim)
		a.closers = append(a.closers, s.Close)
		if err := s.InitDB(ctx); err != nil {
			return err
		}
		a.vectors = s

	default:
		if !vc.InMemory {
			if err := helper.CreateFolder(vc.Path); err != nil {
				return fmt.Errorf("failed to create folder: %w", err)
			}
		}
		m, err := chromemdb.NewVectorDBManager(vc.Path, vc.Collection, vc.InMemory, vc.Compress, vc.EncryptionKey, vc.VectorDim)
		if err != nil {
			return err
		}
		if vc.InMemory && vc.EncryptionKey != "" {
			if err := m.Import(ctx); err != nil {
				return err
			}
			a.closers = append(a.closers, func() error { return m.Export(context.Background()) })
		}
		log.Debug().Str("collection", vc.Collection).Int("chunks", m.Count()).Msg("Opened vector database")
		a.vectors = m
	}
	return nil
}

func (a *app) openCatalog(ctx context.Context) error {
	cc := a.cfg.Catalog
	switch cc.Backend {
	case "redis":
		rdb := catalog.NewRedisClient(cc.RedisAddr, cc.RedisPass, cc.RedisDB)
		a.closers = append(a.closers, rdb.Close)
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		a.catalog = catalog.NewRedisCatalog(rdb, cc.RedisKey, cc.MaxEntries)
	default:
		a.catalog = catalog.NewFileCatalog(cc.Path, cc.MaxEntries)
	}
	return nil
}

func (a *app) pipeline(opts ...ingest.Option) *ingest.Pipeline {
	return ingest.NewPipeline(parser.NewFileExtractor(), a.normalizer, a.gateway, a.vectors, a.catalog, a.cfg, opts...)
}

func (a *app) rag() (*rag.RAG, error) {
	model, err := llmservice.NewModel(&a.cfg.InferenceLLM)
	if err != nil {
		return nil, err
	}
	synth := answer.NewSynthesizer(llmservice.NewClient(model, a.cfg.Generation), a.cfg.Answer)
	ret := retriever.New(a.gateway, a.vectors, a.catalog, a.normalizer, a.cfg.QA, a.cfg.Answer.MaxContexts)
	return rag.NewRAG(ret, synth, a.cfg.Answer.NoInfoText), nil
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.Warn().Err(err).Msg("Error closing resource")
		}
	}
	a.closers = nil
}
