package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/joseph-ayodele/archive-transcriber/internal/common"
)

// ErrNotFound is returned when the object at a storage path does not exist.
var ErrNotFound = fmt.Errorf("%w: object not found", common.ErrNotFound)

// BlobFetcher reads stored page images by their storage path.
type BlobFetcher interface {
	FetchBytes(ctx context.Context, path string) ([]byte, error)
}

// New builds the fetcher selected by cfg.Backend.
func New(ctx context.Context, cfg common.StorageConfig, logger *slog.Logger) (BlobFetcher, error) {
	switch cfg.Backend {
	case "s3", "minio", "":
		return NewS3(S3Config{
			Endpoint:  cfg.Endpoint,
			Bucket:    cfg.Bucket,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
			UseSSL:    cfg.UseSSL,
		}, logger)
	case "gcs":
		return NewGCS(ctx, cfg.Bucket, cfg.CredentialsFile, logger)
	default:
		return nil, errors.New("unknown storage backend " + cfg.Backend)
	}
}
