package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinIOConfig holds MinIO connection settings.
type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	UseSSL    bool   `yaml:"useSSL"`
	Bucket    string `yaml:"bucket"`
}

func (c MinIOConfig) validate() error {
	switch {
	case c.Endpoint == "":
		return fmt.Errorf("minio endpoint is required")
	case c.AccessKey == "" || c.SecretKey == "":
		return fmt.Errorf("minio credentials are required")
	}
	return nil
}

// MinIOStorage implements ObjectStorage over the S3-compatible core API.
type MinIOStorage struct {
	core *minio.Core
}

func NewMinIOStorage(cfg MinIOConfig) (*MinIOStorage, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	core, err := minio.NewCore(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client failed: %w", err)
	}
	return &MinIOStorage{core: core}, nil
}

// Fetch fails immediately when the object is missing, unlike the lazy
// high-level client.
func (s *MinIOStorage) Fetch(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	if key == "" {
		return nil, fmt.Errorf("object key is required")
	}
	obj, _, _, err := s.core.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("fetch %s/%s failed: %w", bucket, key, err)
	}
	return obj, nil
}

func (s *MinIOStorage) BucketExists(ctx context.Context, bucket string) (bool, error) {
	ok, err := s.core.BucketExists(ctx, bucket)
	if err != nil {
		return false, fmt.Errorf("check bucket %s failed: %w", bucket, err)
	}
	return ok, nil
}
