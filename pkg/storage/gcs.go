package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	gcs "cloud.google.com/go/storage"
	"github.com/analogj/lodestone-pipeline/pkg/model"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"
)

type GCSConfig struct {
	// CredentialsFile is a service account key. Application default credentials are used when empty.
	CredentialsFile string
	// Endpoint points the client at an emulator such as fake-gcs-server.
	Endpoint string
}

// GCSStore stores blobs in Google Cloud Storage. The document's bucket is used as the GCS bucket.
type GCSStore struct {
	client *gcs.Client
	logger *logrus.Entry
}

var _ BlobStore = (*GCSStore)(nil)

func NewGCSStore(ctx context.Context, logger *logrus.Entry, cfg GCSConfig) (*GCSStore, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	if cfg.Endpoint != "" {
		logger.Infof("Using GCS endpoint %s", cfg.Endpoint)
		opts = append(opts, option.WithEndpoint(cfg.Endpoint), option.WithoutAuthentication())
	}

	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gcs client: %w", err)
	}
	return &GCSStore{client: client, logger: logger}, nil
}

func (s *GCSStore) Upload(ctx context.Context, doc *model.Document, content io.Reader) error {
	writer := s.client.Bucket(doc.StorageBucket).Object(doc.StorageObjectName).NewWriter(ctx)
	writer.ContentType = doc.ContentType

	if _, err := io.Copy(writer, content); err != nil {
		_ = writer.Close()
		return fmt.Errorf("write gcs object %s: %w", doc.StorageObjectName, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("finalize gcs object %s: %w", doc.StorageObjectName, err)
	}
	return nil
}

func (s *GCSStore) Download(ctx context.Context, doc *model.Document) (io.ReadCloser, error) {
	reader, err := s.client.Bucket(doc.StorageBucket).Object(doc.StorageObjectName).NewReader(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return nil, model.ErrBlobNotFound
	}
	return reader, err
}

func (s *GCSStore) Delete(ctx context.Context, doc *model.Document) error {
	err := s.client.Bucket(doc.StorageBucket).Object(doc.StorageObjectName).Delete(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return nil
	}
	return err
}

func (s *GCSStore) Close() error {
	return s.client.Close()
}
