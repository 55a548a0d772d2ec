package store

import (
	"context"
	"testing"
	"time"

	"github.com/analogj/lodestone-pipeline/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_CreateGetSave(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	doc := model.NewDocument("neu", "neu.txt", model.ContentTypeText, 3, "")
	require.NoError(t, s.Create(ctx, doc))
	assert.Equal(t, int64(1), doc.Version)

	loaded, err := s.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OcrStatusPending, loaded.OcrStatus)

	loaded.BeginOcr(time.Now())
	require.NoError(t, s.Save(ctx, loaded))
	assert.Equal(t, int64(2), loaded.Version)

	// mutating the returned copy must not leak into the store
	loaded.OcrStatus = model.OcrStatusFailed
	again, err := s.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OcrStatusProcessing, again.OcrStatus)
}

func TestMemoryStore_StaleSaveIsRejected(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	doc := model.NewDocument("a", "a.pdf", model.ContentTypePdf, 1, "")
	require.NoError(t, s.Create(ctx, doc))

	first, err := s.Get(ctx, doc.ID)
	require.NoError(t, err)
	second, err := s.Get(ctx, doc.ID)
	require.NoError(t, err)

	first.CompleteOcr("first writer", time.Now())
	require.NoError(t, s.Save(ctx, first))

	second.FailOcr("second writer", time.Now())
	assert.ErrorIs(t, s.Save(ctx, second), model.ErrVersionConflict)

	stored, err := s.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "first writer", stored.OcrText)
}

func TestMemoryStore_NotFound(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, model.ErrDocumentNotFound)
	assert.ErrorIs(t, s.Delete(ctx, "missing"), model.ErrDocumentNotFound)
	assert.ErrorIs(t, s.Save(ctx, &model.Document{ID: "missing"}), model.ErrDocumentNotFound)
}

func TestMemoryStore_ListNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	older := model.NewDocument("old", "old.txt", model.ContentTypeText, 1, "")
	older.UploadTime = time.Now().Add(-time.Hour)
	newer := model.NewDocument("new", "new.txt", model.ContentTypeText, 1, "")
	require.NoError(t, s.Create(ctx, older))
	require.NoError(t, s.Create(ctx, newer))

	docs, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "new", docs[0].Name)

	require.NoError(t, s.Delete(ctx, newer.ID))
	docs, err = s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}
