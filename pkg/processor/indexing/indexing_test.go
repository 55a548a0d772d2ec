package indexing

import (
	"context"
	"errors"
	"testing"

	"github.com/analogj/lodestone-pipeline/pkg/model"
	"github.com/analogj/lodestone-pipeline/pkg/processor"
	"github.com/analogj/lodestone-pipeline/pkg/search"
	"github.com/analogj/lodestone-pipeline/pkg/store"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

type failingIndex struct {
	*search.MemoryIndex
	err error
}

func (f *failingIndex) Index(ctx context.Context, entry search.Entry) error {
	return f.err
}

func TestIndexingProcessor_IndexesDocument(t *testing.T) {
	//setup
	documents := store.NewMemoryStore()
	index := search.NewMemoryIndex()
	p := NewIndexingProcessor(logrus.WithField("test", t.Name()), documents, index)
	doc := model.NewDocument("Vertrag", "vertrag.pdf", model.ContentTypePdf, 1, "")
	doc.OcrText = "Mietvertrag Berlin"
	require.NoError(t, documents.Create(context.Background(), doc))

	//test
	err := p.ProcessRequest(context.Background(), model.IndexRequest{DocumentID: doc.ID})

	//assert
	require.NoError(t, err)
	entry, ok := index.Get(doc.ID)
	require.True(t, ok)
	require.Equal(t, search.Entry{ID: doc.ID, Name: "Vertrag", OriginalFileName: "vertrag.pdf", OcrText: "Mietvertrag Berlin"}, entry)
}

func TestIndexingProcessor_ReindexOverwrites(t *testing.T) {
	//setup
	documents := store.NewMemoryStore()
	index := search.NewMemoryIndex()
	p := NewIndexingProcessor(logrus.WithField("test", t.Name()), documents, index)
	doc := model.NewDocument("Vertrag", "vertrag.pdf", model.ContentTypePdf, 1, "")
	require.NoError(t, documents.Create(context.Background(), doc))
	require.NoError(t, p.ProcessRequest(context.Background(), model.IndexRequest{DocumentID: doc.ID}))

	doc.OcrText = "neuer Text"
	require.NoError(t, documents.Save(context.Background(), doc))

	//test
	err := p.ProcessRequest(context.Background(), model.IndexRequest{DocumentID: doc.ID})

	//assert
	require.NoError(t, err)
	entry, _ := index.Get(doc.ID)
	require.Equal(t, "neuer Text", entry.OcrText)
}

func TestIndexingProcessor_MissingDocumentIsAcked(t *testing.T) {
	//setup
	index := search.NewMemoryIndex()
	p := NewIndexingProcessor(logrus.WithField("test", t.Name()), store.NewMemoryStore(), index)

	//test
	result := p.Handle(context.Background(), []byte(`{"documentId":"missing"}`))

	//assert
	require.Equal(t, processor.OutcomeSuccess, result.Outcome)
	_, ok := index.Get("missing")
	require.False(t, ok)
}

func TestIndexingProcessor_IndexFailureIsRequeued(t *testing.T) {
	//setup
	documents := store.NewMemoryStore()
	index := &failingIndex{MemoryIndex: search.NewMemoryIndex(), err: errors.New("es unavailable")}
	p := NewIndexingProcessor(logrus.WithField("test", t.Name()), documents, index)
	doc := model.NewDocument("Vertrag", "vertrag.pdf", model.ContentTypePdf, 1, "")
	require.NoError(t, documents.Create(context.Background(), doc))

	//test
	result := p.Handle(context.Background(), []byte(`{"documentId":"`+doc.ID+`"}`))

	//assert
	require.Equal(t, processor.OutcomeTransientFailure, result.Outcome)
	require.Equal(t, processor.DefaultRetryDelay, result.Delay)
	require.Equal(t, "es unavailable", result.Reason)
}

func TestIndexingProcessor_MalformedJSON(t *testing.T) {
	//setup
	p := NewIndexingProcessor(logrus.WithField("test", t.Name()), store.NewMemoryStore(), search.NewMemoryIndex())

	//test
	result := p.Handle(context.Background(), []byte("[]"))

	//assert
	require.Equal(t, processor.OutcomePermanentFailure, result.Outcome)
}
