package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/schollz/progressbar/v3"

	"pdf-rag/internal/api"
	"pdf-rag/internal/chunker"
	"pdf-rag/internal/config"
	"pdf-rag/internal/helper"
	"pdf-rag/internal/ingest"
	"pdf-rag/internal/parser"
	"pdf-rag/internal/storage"
)

const configFilePath = "./configs/config.yaml"

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Caller().Logger()

	configPath := flag.String("config", configFilePath, "Path to the config file")
	filePaths := flag.String("file", "", "Comma separated documents to ingest")
	dryRun := flag.Bool("dry-run", false, "Dry run, print the chunks without embedding or storing them")
	query := flag.String("query", "", "Question to be answered")
	docID := flag.String("doc", "", "Document id to restrict the question to")
	filename := flag.String("filename", "", "Document file name to summarize")
	serve := flag.Bool("serve", false, "Run the HTTP API")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("Error loading .env")
	}

	cfg := loadConfig(*configPath)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	files := helper.SplitList(*filePaths)
	switch {
	case len(files) > 0 && *query != "":
		log.Fatal().Msg("Please provide either documents using the -file flag or a query using the -query flag, but not both")
	case len(files) > 0 && *dryRun:
		dryRunChunks(ctx, cfg, files)
	case len(files) > 0:
		ingestFiles(ctx, cfg, files)
	case *query != "":
		askQuestion(ctx, cfg, *query, *docID, *filename)
	case *serve:
		serveAPI(ctx, cfg)
	default:
		log.Fatal().Msg("Please provide documents using the -file flag, a query using the -query flag, or -serve")
	}
}

func loadConfig(path string) *config.Config {
	cfg, err := config.LoadConfig(path)
	if errors.Is(err, os.ErrNotExist) {
		log.Warn().Str("path", path).Msg("Config file not found, using defaults")
		cfg = config.Default()
		cfg.ApplyEnv()
	} else if err != nil {
		log.Fatal().Err(err).Msg("Error loading config")
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		for _, e := range errs {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}
		log.Fatal().Int("errors", len(errs)).Msg("Invalid config")
	}

	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		log.Warn().Str("level", cfg.Log.Level).Msg("Unknown log level, keeping debug")
	} else {
		zerolog.SetGlobalLevel(level)
	}
	return cfg
}

// dryRunChunks prints the chunks of every file without touching any model
// or store.
func dryRunChunks(ctx context.Context, cfg *config.Config, files []string) {
	extractor := parser.NewFileExtractor()
	normalizer := parser.NewNormalizer(cfg.Normalizer)

	for _, path := range files {
		pages, err := extractor.Extract(ctx, path)
		if err != nil {
			log.Error().Err(err).Str("file", path).Msg("Error parsing document")
			continue
		}
		for i := range pages {
			pages[i].Text = normalizer.Normalize(pages[i].Text)
		}

		docID, err := helper.GenerateUUID()
		if err != nil {
			log.Fatal().Err(err).Msg("Error generating document id")
		}
		chunks, err := chunker.Chunk(pages, docID, filepath.Base(path), chunker.OptionsFrom(cfg.Documents))
		if err != nil {
			log.Error().Err(err).Str("file", path).Msg("Error chunking document")
			continue
		}
		log.Info().Str("file", path).Int("pages", len(pages)).Int("chunks", len(chunks)).Msg("Parsed content")
		helper.PrettyPrint(chunks)
	}
}

func ingestFiles(ctx context.Context, cfg *config.Config, files []string) {
	archive, err := storage.NewStore(ctx, cfg.Uploads)
	if err != nil {
		log.Fatal().Err(err).Msg("Error opening upload archive")
	}

	var uploads []ingest.Upload
	for _, path := range files {
		info, err := os.Stat(path)
		if err != nil {
			log.Fatal().Err(err).Str("file", path).Msg("Error reading document")
		}
		name := filepath.Base(path)
		if !parser.Supported(name) {
			log.Fatal().Str("file", path).Msg("Unsupported file type")
		}

		savedAs := storage.SavedName(name, time.Now())
		if err := archive.Archive(ctx, savedAs, path); err != nil {
			log.Fatal().Err(err).Str("file", path).Msg("Error archiving document")
		}
		uploads = append(uploads, ingest.Upload{
			Path:         path,
			OriginalName: name,
			SavedAs:      savedAs,
			Size:         info.Size(),
			MimeType:     mime.TypeByExtension(filepath.Ext(name)),
		})
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing services")
	}
	defer a.Close()

	bars := map[string]*progressbar.ProgressBar{}
	progress := func(file string, done, total int) {
		bar, ok := bars[file]
		if !ok {
			bar = getProgressBar(total, "Embedding "+file)
			bars[file] = bar
		}
		_ = bar.Set(done)
		if done == total {
			_ = bar.Finish()
			fmt.Fprintln(os.Stderr)
		}
	}

	report, err := a.pipeline(ingest.WithProgress(progress)).Ingest(ctx, uploads)
	if err != nil {
		log.Fatal().Err(err).Msg("Error ingesting documents")
	}

	for _, f := range report.Files {
		if f.Err != nil {
			color.Red("✗ %s: %v", f.OriginalName, f.Err)
			continue
		}
		color.Green("✓ %s  docId=%s pages=%d chunks=%d", f.OriginalName, f.DocumentID, f.Pages, f.Chunks)
	}
	color.Cyan("Totals: files=%d pages=%d chunks=%d", report.Totals.Files, report.Totals.Pages, report.Totals.Chunks)
	if len(report.Failed()) > 0 {
		a.Close()
		os.Exit(1)
	}
}

func askQuestion(ctx context.Context, cfg *config.Config, question, docID, filename string) {
	a, err := newApp(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing services")
	}
	defer a.Close()

	r, err := a.rag()
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing inference model")
	}
	response, err := r.Query(ctx, question, docID, filename)
	if err != nil {
		log.Fatal().Err(err).Msg("Error querying")
	}

	log.Info().Msg("Query: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	fmt.Printf("%s\n\n", question)

	if response.Selected != nil {
		log.Info().Msg("Document: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
		color.Cyan("%s (%s)\n\n", response.Selected.Filename, response.Selected.DocumentID)
	}

	log.Info().Msg("Source: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	for _, s := range response.Sources {
		score := "-"
		if s.Score != nil {
			score = fmt.Sprintf("%.3f", *s.Score)
		}
		color.Cyan("[%d] %s page %d chunk %d score %s", s.ID, s.Filename, s.Page, s.ChunkIndex, score)
	}
	fmt.Println()

	log.Info().Msg("Assistant: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	color.Green("%s\n\n", strings.TrimSpace(response.Answer))
}

func serveAPI(ctx context.Context, cfg *config.Config) {
	a, err := newApp(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing services")
	}
	defer a.Close()

	r, err := a.rag()
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing inference model")
	}
	archive, err := storage.NewStore(ctx, cfg.Uploads)
	if err != nil {
		log.Fatal().Err(err).Msg("Error opening upload archive")
	}

	handler := api.NewHandler(a.pipeline(), r, archive, cfg.Server)
	if err := api.Serve(ctx, cfg.Server, api.NewRouter(handler, cfg.Server.Mode)); err != nil {
		log.Error().Err(err).Msg("Server failed")
	}
}

func getProgressBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription(color.BlueString(description)),
		progressbar.OptionSetItsString("chunks"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionSetRenderBlankState(true),
	)
}
