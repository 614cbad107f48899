package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"pdf-rag/internal/models"
)

type Config struct {
	Log          LogConfig         `yaml:"log"`
	Documents    DocumentsConfig   `yaml:"documents"`
	QA           QAConfig          `yaml:"qa"`
	Answer       AnswerConfig      `yaml:"answer"`
	Normalizer   NormalizerConfig  `yaml:"normalizer"`
	EmbedLLM     LLMConfig         `yaml:"embed_llm"`
	InferenceLLM LLMConfig         `yaml:"inference_llm"`
	Embed        EmbedConfig       `yaml:"embed"`
	Generation   GenerationConfig  `yaml:"generation"`
	VectorStore  VectorStoreConfig `yaml:"vector_store"`
	Database     DatabaseConfig    `yaml:"database"`
	Catalog      CatalogConfig     `yaml:"catalog"`
	Uploads      UploadsConfig     `yaml:"uploads"`
	Server       ServerConfig      `yaml:"server"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type DocumentsConfig struct {
	MaxPagesPerFile int `yaml:"max_pages_per_file"`
	BatchSize       int `yaml:"batch_size"`
	ChunkSizeWords  int `yaml:"chunk_size_words"`
	OverlapWords    int `yaml:"overlap_words"`
	MaxChunkChars   int `yaml:"max_chunk_chars"`
}

type QAConfig struct {
	TopK                    int `yaml:"top_k"`
	DocSummaryLimit         int `yaml:"doc_summary_limit"`
	SummaryDefaultSentences int `yaml:"summary_default_sentences"`
	SummaryMaxSentences     int `yaml:"summary_max_sentences"`
	MinTextChars            int `yaml:"min_text_chars"`
}

type AnswerConfig struct {
	MaxContextChars int    `yaml:"max_context_chars"`
	MaxContexts     int    `yaml:"max_contexts"`
	NoInfoText      string `yaml:"no_info_text"`
}

// NormalizerConfig holds the language-specific tables of the kerning repair.
type NormalizerConfig struct {
	Diacritics []string `yaml:"diacritics"`
	Stopwords  []string `yaml:"stopwords"`
}

// LLMConfig describes one remote model endpoint. Provider is "ollama" or "openai"
// (any OpenAI compatible API, e.g. OpenRouter).
type LLMConfig struct {
	Provider string        `yaml:"provider"`
	BaseURL  string        `yaml:"base_url"`
	Model    string        `yaml:"model"`
	Key      string        `yaml:"key"`
	Timeout  time.Duration `yaml:"timeout"`
}

type EmbedConfig struct {
	MaxChars       int           `yaml:"max_chars"`
	MaxConcurrency int           `yaml:"max_concurrency"`
	MaxAttempts    int           `yaml:"max_attempts"`
	BaseDelay      time.Duration `yaml:"base_delay"`
	// RateLimit caps embed requests per second; 0 disables the throttle.
	RateLimit float64 `yaml:"rate_limit"`
}

type GenerationConfig struct {
	Temperature float64 `yaml:"temperature"`
	TopP        float64 `yaml:"top_p"`
	MaxTokens   int     `yaml:"max_tokens"`
}

type VectorStoreConfig struct {
	Backend         string `yaml:"backend"` // chromem | postgres
	Path            string `yaml:"path"`
	Collection      string `yaml:"collection"`
	InMemory        bool   `yaml:"in_memory"`
	Compress        bool   `yaml:"compress"`
	EncryptionKey   string `yaml:"encryption_key"`
	VectorDim       int    `yaml:"vector_dim"`
	InsertBatchSize int    `yaml:"insert_batch_size"`
	DeleteBatchSize int    `yaml:"delete_batch_size"`
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	Driver   string `yaml:"driver"` // pgdriver | pq
	Table    string `yaml:"table"`
	Debug    bool   `yaml:"debug"`
}

type CatalogConfig struct {
	Backend    string `yaml:"backend"` // file | redis
	Path       string `yaml:"path"`
	MaxEntries int    `yaml:"max_entries"`
	RedisAddr  string `yaml:"redis_addr"`
	RedisPass  string `yaml:"redis_password"`
	RedisDB    int    `yaml:"redis_db"`
	RedisKey   string `yaml:"redis_key"`
}

type UploadsConfig struct {
	Backend         string `yaml:"backend"` // local | minio
	Dir             string `yaml:"dir"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Bucket          string `yaml:"bucket"`
	UseSSL          bool   `yaml:"use_ssl"`
}

type ServerConfig struct {
	Addr           string        `yaml:"addr"`
	Mode           string        `yaml:"mode"`
	MaxUploadBytes int64         `yaml:"max_upload_bytes"`
	MaxFiles       int           `yaml:"max_files"`
	ShutdownGrace  time.Duration `yaml:"shutdown_grace"`
}

var (
	defaultDiacritics = []string{
		"ą", "ć", "ę", "ł", "ń", "ó", "ś", "ź", "ż",
		"Ą", "Ć", "Ę", "Ł", "Ń", "Ó", "Ś", "Ź", "Ż",
	}
	defaultStopwords = []string{
		"w", "we", "i", "a", "o", "z", "ze", "do", "na", "od", "po", "u", "za", "nie", "się", "to", "że", "czy",
	}
)

const defaultOllamaURL = "http://ollama:11434"

// LoadConfig reads path on top of Default. Env overrides win over the file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	// decode over the defaults so keys set to zero keep their zero
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	dropOllamaURL(&cfg.EmbedLLM)
	dropOllamaURL(&cfg.InferenceLLM)
	cfg.ApplyEnv()
	return cfg, nil
}

// dropOllamaURL clears the ollama default endpoint once the file switched the
// provider without naming a base URL.
func dropOllamaURL(c *LLMConfig) {
	if c.Provider != "ollama" && c.BaseURL == defaultOllamaURL {
		c.BaseURL = ""
	}
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyEnv overrides endpoints and secrets from the environment.
func (c *Config) ApplyEnv() {
	setString(&c.EmbedLLM.BaseURL, "RAG_EMBED_BASE_URL")
	setString(&c.EmbedLLM.Key, "RAG_EMBED_KEY")
	setString(&c.InferenceLLM.BaseURL, "RAG_LLM_BASE_URL")
	setString(&c.InferenceLLM.Key, "RAG_LLM_KEY")
	setString(&c.Database.URL, "RAG_DATABASE_URL")
	setString(&c.Database.Password, "RAG_DATABASE_PASSWORD")
	setString(&c.Catalog.RedisAddr, "RAG_REDIS_ADDR")
	setString(&c.Uploads.AccessKeyID, "RAG_MINIO_ACCESS_KEY")
	setString(&c.Uploads.SecretAccessKey, "RAG_MINIO_SECRET_KEY")
	setString(&c.Server.Addr, "RAG_SERVER_ADDR")
	if port := os.Getenv("PORT"); port != "" {
		if _, err := strconv.Atoi(port); err == nil {
			c.Server.Addr = ":" + port
		}
	}
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func (c *Config) ApplyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "debug"
	}

	d := &c.Documents
	setInt(&d.MaxPagesPerFile, 60)
	setInt(&d.BatchSize, 40)
	setInt(&d.ChunkSizeWords, 240)
	setInt(&d.OverlapWords, 40)
	setInt(&d.MaxChunkChars, 3500)

	q := &c.QA
	setInt(&q.TopK, 6)
	setInt(&q.DocSummaryLimit, 40)
	setInt(&q.SummaryDefaultSentences, 6)
	setInt(&q.SummaryMaxSentences, 60)
	setInt(&q.MinTextChars, 30)

	a := &c.Answer
	setInt(&a.MaxContextChars, 2200)
	setInt(&a.MaxContexts, 10)
	if a.NoInfoText == "" {
		a.NoInfoText = models.DefaultNoInfoText
	}

	if len(c.Normalizer.Diacritics) == 0 {
		c.Normalizer.Diacritics = defaultDiacritics
	}
	if len(c.Normalizer.Stopwords) == 0 {
		c.Normalizer.Stopwords = defaultStopwords
	}

	llmDefaults(&c.EmbedLLM, "mxbai-embed-large")
	llmDefaults(&c.InferenceLLM, "llama2")

	e := &c.Embed
	setInt(&e.MaxChars, 3500)
	setInt(&e.MaxConcurrency, 3)
	setInt(&e.MaxAttempts, 4)
	if e.BaseDelay == 0 {
		e.BaseDelay = 250 * time.Millisecond
	}

	g := &c.Generation
	if g.Temperature == 0 {
		g.Temperature = 0.2
	}
	if g.TopP == 0 {
		g.TopP = 0.9
	}
	setInt(&g.MaxTokens, 900)

	v := &c.VectorStore
	if v.Backend == "" {
		v.Backend = "chromem"
	}
	if v.Path == "" {
		v.Path = "./storage/chromemdb"
	}
	if v.Collection == "" {
		v.Collection = "global-docs"
	}
	setInt(&v.VectorDim, 1024)
	setInt(&v.InsertBatchSize, 50)
	setInt(&v.DeleteBatchSize, 200)

	if c.Database.Driver == "" {
		c.Database.Driver = "pgdriver"
	}
	if c.Database.Table == "" {
		c.Database.Table = "chunks"
	}

	cat := &c.Catalog
	if cat.Backend == "" {
		cat.Backend = "file"
	}
	if cat.Path == "" {
		cat.Path = "./storage/documents.json"
	}
	setInt(&cat.MaxEntries, 500)
	if cat.RedisKey == "" {
		cat.RedisKey = "rag:documents"
	}

	u := &c.Uploads
	if u.Backend == "" {
		u.Backend = "local"
	}
	if u.Dir == "" {
		u.Dir = "./storage/uploads"
	}
	if u.Bucket == "" {
		u.Bucket = "uploads"
	}

	s := &c.Server
	if s.Addr == "" {
		s.Addr = ":5050"
	}
	if s.Mode == "" {
		s.Mode = "release"
	}
	if s.MaxUploadBytes == 0 {
		s.MaxUploadBytes = 25 << 20
	}
	setInt(&s.MaxFiles, 10)
	if s.ShutdownGrace == 0 {
		s.ShutdownGrace = 5 * time.Second
	}
}

func llmDefaults(c *LLMConfig, model string) {
	if c.Provider == "" {
		c.Provider = "ollama"
	}
	if c.BaseURL == "" && c.Provider == "ollama" {
		c.BaseURL = defaultOllamaURL
	}
	if c.Model == "" {
		c.Model = model
	}
	if c.Timeout == 0 {
		c.Timeout = 180 * time.Second
	}
}

func setInt(dst *int, def int) {
	if *dst == 0 {
		*dst = def
	}
}
