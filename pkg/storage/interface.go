package storage

import (
	"context"
	"io"

	"github.com/analogj/lodestone-pipeline/pkg/model"
)

// BlobStore keeps the raw file bytes of a document under (StorageBucket, StorageObjectName).
type BlobStore interface {
	Upload(ctx context.Context, doc *model.Document, content io.Reader) error
	Download(ctx context.Context, doc *model.Document) (io.ReadCloser, error)
	Delete(ctx context.Context, doc *model.Document) error
}
