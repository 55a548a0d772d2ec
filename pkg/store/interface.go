package store

import (
	"context"

	"github.com/analogj/lodestone-pipeline/pkg/model"
)

// DocumentStore persists document records. Save is a compare-and-swap on Document.Version: it
// fails with model.ErrVersionConflict when the record changed since it was read, and increments
// the version of the passed document on success.
type DocumentStore interface {
	Create(ctx context.Context, doc *model.Document) error
	Get(ctx context.Context, id string) (*model.Document, error)
	Save(ctx context.Context, doc *model.Document) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*model.Document, error)
	Close() error
}
