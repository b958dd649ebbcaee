package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type S3Config struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Region    string
}

// S3 fetches images from an S3-compatible bucket (MinIO, AWS).
type S3 struct {
	client *minio.Client
	bucket string
	log    *slog.Logger
}

func NewS3(cfg S3Config, logger *slog.Logger) (*S3, error) {
	if logger == nil {
		logger = slog.Default()
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}
	logger.Info("s3 storage ready", "endpoint", cfg.Endpoint, "bucket", cfg.Bucket)
	return &S3{client: client, bucket: cfg.Bucket, log: logger}, nil
}

func (s *S3) FetchBytes(ctx context.Context, path string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, path, minio.GetObjectOptions{})
	if err != nil {
		return nil, s.mapErr(path, err)
	}
	defer obj.Close()

	b, err := io.ReadAll(obj)
	if err != nil {
		return nil, s.mapErr(path, err)
	}
	s.log.Debug("s3 object fetched", "path", path, "bytes", len(b))
	return b, nil
}

func (s *S3) mapErr(path string, err error) error {
	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	s.log.Error("s3 get object failed", "path", path, "error", err)
	return fmt.Errorf("s3 get object: %w", err)
}
