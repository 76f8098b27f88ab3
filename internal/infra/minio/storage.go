package minio

import (
	"context"
	"fmt"
	"os"

	"github.com/fiapx/fiapx-ocr-service/internal/domain/entity"
	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type Storage struct {
	client        *miniogo.Client
	videoBucket   string
	maxVideoBytes int64
}

type StorageConfig struct {
	Endpoint    string
	AccessKey   string
	SecretKey   string
	UseSSL      bool
	VideoBucket string
	// MaxVideoBytes rejects larger objects before downloading them. Zero disables the check.
	MaxVideoBytes int64
}

func NewStorage(cfg StorageConfig) (*Storage, error) {
	client, err := miniogo.New(cfg.Endpoint, &miniogo.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	return &Storage{
		client:        client,
		videoBucket:   cfg.VideoBucket,
		maxVideoBytes: cfg.MaxVideoBytes,
	}, nil
}

func (s *Storage) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.videoBucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.videoBucket, err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.videoBucket, miniogo.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket %s: %w", s.videoBucket, err)
		}
	}
	return nil
}

// Ping reports whether the video bucket is reachable.
func (s *Storage) Ping(ctx context.Context) error {
	_, err := s.client.BucketExists(ctx, s.videoBucket)
	return err
}

// DownloadVideo copies the object to destPath. A missing, empty or oversized
// object is reported as entity.ErrSourceUnavailable; other errors are transient.
func (s *Storage) DownloadVideo(ctx context.Context, objectKey string, destPath string) error {
	info, err := s.client.StatObject(ctx, s.videoBucket, objectKey, miniogo.StatObjectOptions{})
	if err != nil {
		return classify(objectKey, "stat object", err)
	}
	if info.Size == 0 {
		return entity.NewProcessingError(entity.ErrSourceUnavailable, "download", objectKey,
			fmt.Errorf("object is empty"))
	}
	if s.maxVideoBytes > 0 && info.Size > s.maxVideoBytes {
		return entity.NewProcessingError(entity.ErrSourceUnavailable, "download", objectKey,
			fmt.Errorf("object is %d bytes, limit is %d", info.Size, s.maxVideoBytes))
	}

	if err := s.client.FGetObject(ctx, s.videoBucket, objectKey, destPath, miniogo.GetObjectOptions{}); err != nil {
		_ = os.Remove(destPath)
		return classify(objectKey, "get object", err)
	}
	return nil
}

func classify(objectKey, op string, err error) error {
	switch miniogo.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket", "AccessDenied", "InvalidObjectName":
		return entity.NewProcessingError(entity.ErrSourceUnavailable, "download", objectKey, err)
	}
	return fmt.Errorf("%s %s: %w", op, objectKey, err)
}
