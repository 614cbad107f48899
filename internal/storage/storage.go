// Package storage archives uploaded originals.
package storage

import (
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog/log"

	"pdf-rag/internal/config"
)

var unsafeChars = regexp.MustCompile(`[^\w.\-]+`)

// Store keeps a copy of an uploaded file under its generated name.
type Store interface {
	Archive(ctx context.Context, savedAs, localPath string) error
}

// SafeName replaces every run of characters outside [A-Za-z0-9_.-] with "_".
func SafeName(name string) string {
	if name == "" {
		name = "file.pdf"
	}
	return unsafeChars.ReplaceAllString(name, "_")
}

// SavedName is the archive name of an upload: "<unix millis>__<safe name>".
func SavedName(original string, now time.Time) string {
	return fmt.Sprintf("%d__%s", now.UnixMilli(), SafeName(original))
}

// NewStore picks the backend named in cfg.
func NewStore(ctx context.Context, cfg config.UploadsConfig) (Store, error) {
	switch cfg.Backend {
	case "minio":
		return NewMinioStore(ctx, cfg)
	case "local", "":
		return NewLocalStore(cfg.Dir), nil
	default:
		return nil, fmt.Errorf("unsupported uploads backend: %s", cfg.Backend)
	}
}

// LocalStore copies uploads into a directory.
type LocalStore struct {
	dir string
}

func NewLocalStore(dir string) *LocalStore {
	return &LocalStore{dir: dir}
}

func (s *LocalStore) Archive(_ context.Context, savedAs, localPath string) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create uploads folder: %w", err)
	}

	src, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(filepath.Join(s.dir, savedAs))
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return fmt.Errorf("failed to archive %s: %w", savedAs, err)
	}
	return dst.Close()
}

// Path returns where savedAs is archived.
func (s *LocalStore) Path(savedAs string) string {
	return filepath.Join(s.dir, savedAs)
}

// MinioStore puts uploads into a bucket.
type MinioStore struct {
	client *minio.Client
	bucket string
}

// NewMinioStore connects and makes sure the bucket exists.
func NewMinioStore(ctx context.Context, cfg config.UploadsConfig) (*MinioStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize minio: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		log.Info().Str("bucket", cfg.Bucket).Msg("Creating bucket")
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}
	return &MinioStore{client: client, bucket: cfg.Bucket}, nil
}

func (s *MinioStore) Archive(ctx context.Context, savedAs, localPath string) error {
	contentType := mime.TypeByExtension(filepath.Ext(savedAs))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	info, err := s.client.FPutObject(ctx, s.bucket, savedAs, localPath, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", savedAs, err)
	}
	log.Debug().Str("bucket", s.bucket).Str("object", info.Key).Int64("size", info.Size).Msg("Archived upload")
	return nil
}
