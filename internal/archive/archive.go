// Package archive copies processed spreadsheets into object storage for
// long-term retention. The local processed directory stays the source of
// truth; the bucket is a backup.
package archive

import (
	"context"
	"fmt"
	"os"
	"path"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/heigenstudio/bookingpipe/internal/config"
)

const contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Storage wraps MinIO/S3 interactions for processed-file retention.
type Storage struct {
	client *minio.Client
	bucket string
	region string
}

// New creates a MinIO client from the Config.
func New(cfg *config.Config) (*Storage, error) {
	client, err := minio.New(cfg.S3Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		Secure: cfg.S3UseSSL,
		Region: cfg.S3Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}
	return &Storage{client: client, bucket: cfg.S3Bucket, region: cfg.S3Region}, nil
}

// EnsureBucket makes sure the archive bucket exists before use.
func (s *Storage) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
			return fmt.Errorf("make bucket %s: %w", s.bucket, err)
		}
	}
	return nil
}

// ArchiveProcessed uploads a processed spreadsheet, keyed by checksum so
// byte-identical re-submissions share one object.
func (s *Storage) ArchiveProcessed(ctx context.Context, localPath, name, checksum string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open processed file: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat processed file: %w", err)
	}

	objectKey := path.Join("processed", checksum, name)
	_, err = s.client.PutObject(ctx, s.bucket, objectKey, f, info.Size(),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("upload %s: %w", objectKey, err)
	}
	return nil
}
