// Package archive uploads finished recordings to S3 compatible storage.
package archive

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/audiolibrelab/streamcapture/internal/config"
)

// Store uploads recordings into one bucket.
type Store struct {
	client *minio.Client
	bucket string
}

// New connects to the configured endpoint and creates the bucket if needed.
func New(ctx context.Context, cfg config.ArchiveConfig) (*Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize archive client: %w", err)
	}

	s := &Store{client: client, bucket: cfg.Bucket}
	if err := s.ensureBucket(ctx); err != nil {
		return nil, err
	}

	slog.Debug("Archive store ready", "endpoint", cfg.Endpoint, "bucket", cfg.Bucket)
	return s, nil
}

func (s *Store) ensureBucket(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}

	if !exists {
		slog.Info("Creating archive bucket", "bucket", s.bucket)
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
	}
	return nil
}

// Upload stores the file at localPath under key.
func (s *Store) Upload(ctx context.Context, localPath, key string) error {
	info, err := s.client.FPutObject(ctx, s.bucket, key, localPath, minio.PutObjectOptions{
		ContentType: contentType(localPath),
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", localPath, err)
	}

	slog.Debug("Uploaded recording", "bucket", s.bucket, "key", key, "size", info.Size)
	return nil
}

func contentType(path string) string {
	switch filepath.Ext(path) {
	case ".wav":
		return "audio/wav"
	case ".flac":
		return "audio/flac"
	case ".mp3":
		return "audio/mpeg"
	case ".ogg", ".opus":
		return "audio/ogg"
	}
	return "application/octet-stream"
}
