package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCS fetches images from a Google Cloud Storage bucket.
type GCS struct {
	client *storage.Client
	bucket *storage.BucketHandle
	log    *slog.Logger
}

// NewGCS uses credentialsFile when set, application default credentials otherwise.
func NewGCS(ctx context.Context, bucket, credentialsFile string, logger *slog.Logger, opts ...option.ClientOption) (*GCS, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	logger.Info("gcs storage ready", "bucket", bucket)
	return &GCS{client: client, bucket: client.Bucket(bucket), log: logger}, nil
}

func (g *GCS) FetchBytes(ctx context.Context, path string) ([]byte, error) {
	r, err := g.bucket.Object(path).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err != nil {
		g.log.Error("gcs read failed", "path", path, "error", err)
		return nil, fmt.Errorf("gcs open object: %w", err)
	}
	defer r.Close()

	b, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("gcs read object: %w", err)
	}
	return b, nil
}

func (g *GCS) Close() error {
	return g.client.Close()
}
