package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/analogj/lodestone-pipeline/pkg/model"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/sirupsen/logrus"
)

type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
}

// MinioStore stores blobs in an S3 compatible object store.
type MinioStore struct {
	client *minio.Client
	logger *logrus.Entry
}

var _ BlobStore = (*MinioStore)(nil)

// NewMinioStore creates the client and ensures the default bucket exists.
func NewMinioStore(logger *logrus.Entry, cfg MinioConfig) (*MinioStore, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("minio endpoint missing")
	}
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio new: %w", err)
	}
	s := &MinioStore{client: mc, logger: logger}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.ensureBucket(ctx, cfg.Bucket); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *MinioStore) ensureBucket(ctx context.Context, bucket string) error {
	exists, err := s.client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("minio bucket check: %w", err)
	}
	if exists {
		return nil
	}
	s.logger.Infof("Creating bucket %s", bucket)
	if err := s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
		// another process may have created it in between
		exists, xerr := s.client.BucketExists(ctx, bucket)
		if xerr != nil || !exists {
			return fmt.Errorf("minio bucket ensure: %w", err)
		}
	}
	return nil
}

func (s *MinioStore) Upload(ctx context.Context, doc *model.Document, content io.Reader) error {
	size := doc.SizeBytes
	if size <= 0 {
		size = -1
	}
	_, err := s.client.PutObject(ctx, doc.StorageBucket, doc.StorageObjectName, content, size, minio.PutObjectOptions{
		ContentType: doc.ContentType,
	})
	if err != nil {
		return fmt.Errorf("upload %s/%s: %w", doc.StorageBucket, doc.StorageObjectName, err)
	}
	return nil
}

func (s *MinioStore) Download(ctx context.Context, doc *model.Document) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, doc.StorageBucket, doc.StorageObjectName, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	// GetObject is lazy, stat to surface a missing object here
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, model.ErrBlobNotFound
		}
		return nil, err
	}
	return obj, nil
}

func (s *MinioStore) Delete(ctx context.Context, doc *model.Document) error {
	return s.client.RemoveObject(ctx, doc.StorageBucket, doc.StorageObjectName, minio.RemoveObjectOptions{})
}
