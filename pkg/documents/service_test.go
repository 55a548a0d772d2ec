package documents

import (
	"context"
	"encoding/json"
	"errors"
	"io/ioutil"
	"strings"
	"testing"

	"github.com/analogj/lodestone-pipeline/pkg/listen"
	"github.com/analogj/lodestone-pipeline/pkg/model"
	"github.com/analogj/lodestone-pipeline/pkg/search"
	"github.com/analogj/lodestone-pipeline/pkg/storage"
	"github.com/analogj/lodestone-pipeline/pkg/store"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingCreateStore struct {
	*store.MemoryStore
}

func (f *failingCreateStore) Create(ctx context.Context, doc *model.Document) error {
	return errors.New("db down")
}

type testEnv struct {
	documents store.DocumentStore
	blobs     *storage.MemoryStore
	index     *search.MemoryIndex
	publisher *listen.MemoryPublisher
	service   *Service
}

func newTestEnv(t *testing.T, documents store.DocumentStore) *testEnv {
	t.Helper()
	if documents == nil {
		documents = store.NewMemoryStore()
	}
	env := &testEnv{
		documents: documents,
		blobs:     storage.NewMemoryStore(),
		index:     search.NewMemoryIndex(),
		publisher: listen.NewMemoryPublisher(),
	}
	env.service = NewService(logrus.WithField("test", t.Name()), env.documents, env.blobs, env.index, env.publisher, nil, "documents")
	return env
}

func TestService_UploadPlainText(t *testing.T) {
	//setup
	env := newTestEnv(t, nil)

	//test
	doc, err := env.service.Upload(context.Background(), UploadRequest{FileName: "neu.txt", Content: strings.NewReader("123")})

	//assert
	require.NoError(t, err)
	assert.Equal(t, "neu", doc.Name)
	assert.Equal(t, "neu.txt", doc.OriginalFileName)
	assert.Equal(t, model.ContentTypeText, doc.ContentType)
	assert.Equal(t, int64(3), doc.SizeBytes)
	assert.Equal(t, "documents", doc.StorageBucket)
	assert.Equal(t, strings.Replace(doc.ID, "-", "", -1)+".txt", doc.StorageObjectName)
	assert.Equal(t, model.OcrStatusPending, doc.OcrStatus)
	assert.Equal(t, model.SummaryStatusPending, doc.SummaryStatus)
	assert.Equal(t, model.VirusScanStatusNotScanned, doc.VirusScanStatus)
	assert.True(t, env.blobs.Exists(doc))

	stored, err := env.documents.Get(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, doc.Name, stored.Name)

	messages := env.publisher.Messages()
	require.Len(t, messages, 1)
	require.Equal(t, model.RoutingKeyOcrRequest, messages[0].RoutingKey)
	var req model.OcrRequest
	require.NoError(t, json.Unmarshal(messages[0].Body, &req))
	assert.Equal(t, doc.ID, req.DocumentID)
	assert.Equal(t, "neu.txt", req.OriginalFileName)
	assert.Equal(t, int64(3), req.SizeBytes)
}

func TestService_UploadKeepsExplicitNameAndType(t *testing.T) {
	//setup
	env := newTestEnv(t, nil)

	//test
	doc, err := env.service.Upload(context.Background(), UploadRequest{Name: "  Mietvertrag ", FileName: "SCAN.PDF", ContentType: "application/x-pdf", Content: strings.NewReader("%PDF")})

	//assert
	require.NoError(t, err)
	assert.Equal(t, "Mietvertrag", doc.Name)
	assert.Equal(t, "application/x-pdf", doc.ContentType)
	assert.True(t, strings.HasSuffix(doc.StorageObjectName, ".pdf"))
}

func TestService_UploadRejectsInvalidInput(t *testing.T) {
	for name, tc := range map[string]struct {
		req      UploadRequest
		expected error
	}{
		"empty":        {UploadRequest{FileName: "a.txt", Content: strings.NewReader("")}, model.ErrEmptyUpload},
		"no content":   {UploadRequest{FileName: "a.txt"}, model.ErrEmptyUpload},
		"docx":         {UploadRequest{FileName: "a.docx", Content: strings.NewReader("x")}, model.ErrUnsupportedFileType},
		"no extension": {UploadRequest{FileName: "README", Content: strings.NewReader("x")}, model.ErrUnsupportedFileType},
		"hidden":       {UploadRequest{FileName: ".secret.pdf", Content: strings.NewReader("x")}, model.ErrUnsupportedFileType},
	} {
		t.Run(name, func(t *testing.T) {
			//setup
			env := newTestEnv(t, nil)

			//test
			_, err := env.service.Upload(context.Background(), tc.req)

			//assert
			require.True(t, errors.Is(err, tc.expected), "got %v", err)
			require.Empty(t, env.publisher.Messages())
			docs, _ := env.documents.List(context.Background())
			require.Empty(t, docs)
		})
	}
}

func TestService_UploadRollsBackBlobWhenInsertFails(t *testing.T) {
	//setup
	env := newTestEnv(t, &failingCreateStore{MemoryStore: store.NewMemoryStore()})

	//test
	_, err := env.service.Upload(context.Background(), UploadRequest{FileName: "a.pdf", Content: strings.NewReader("%PDF")})

	//assert
	require.Error(t, err)
	require.Empty(t, env.publisher.Messages())
	require.Equal(t, 0, env.blobs.Count())
}

func TestService_UploadSurvivesPublishFailure(t *testing.T) {
	//setup
	env := newTestEnv(t, nil)
	env.publisher.Fail(model.RoutingKeyOcrRequest, errors.New("broker down"))

	//test
	doc, err := env.service.Upload(context.Background(), UploadRequest{FileName: "a.pdf", Content: strings.NewReader("%PDF")})

	//assert
	require.NoError(t, err)
	_, err = env.documents.Get(context.Background(), doc.ID)
	require.NoError(t, err)
}

func TestService_DownloadAndDelete(t *testing.T) {
	//setup
	env := newTestEnv(t, nil)
	doc, err := env.service.Upload(context.Background(), UploadRequest{FileName: "a.txt", Content: strings.NewReader("inhalt")})
	require.NoError(t, err)
	require.NoError(t, env.index.Index(context.Background(), search.Entry{ID: doc.ID, Name: doc.Name}))

	//test
	_, content, err := env.service.Download(context.Background(), doc.ID)
	require.NoError(t, err)
	data, _ := ioutil.ReadAll(content)
	content.Close()
	require.Equal(t, "inhalt", string(data))

	require.NoError(t, env.service.Delete(context.Background(), doc.ID))

	//assert
	_, err = env.documents.Get(context.Background(), doc.ID)
	require.True(t, errors.Is(err, model.ErrDocumentNotFound))
	require.False(t, env.blobs.Exists(doc))
	_, ok := env.index.Get(doc.ID)
	require.False(t, ok)
	require.True(t, errors.Is(env.service.Delete(context.Background(), doc.ID), model.ErrDocumentNotFound))
}

func TestService_SearchSkipsDeletedDocuments(t *testing.T) {
	//setup
	env := newTestEnv(t, nil)
	doc, err := env.service.Upload(context.Background(), UploadRequest{Name: "Rechnung", FileName: "r.pdf", Content: strings.NewReader("%PDF")})
	require.NoError(t, err)
	require.NoError(t, env.index.Index(context.Background(), search.Entry{ID: doc.ID, Name: "Rechnung"}))
	require.NoError(t, env.index.Index(context.Background(), search.Entry{ID: "gone", Name: "Rechnung alt"}))

	//test
	found, err := env.service.Search(context.Background(), "rechnung", 10)

	//assert
	require.NoError(t, err)
	require.Len(t, found, 1)
	require.Equal(t, doc.ID, found[0].ID)
}

func TestService_Reprocess(t *testing.T) {
	//setup
	env := newTestEnv(t, nil)
	doc, err := env.service.Upload(context.Background(), UploadRequest{FileName: "a.pdf", Content: strings.NewReader("%PDF")})
	require.NoError(t, err)
	stored, err := env.documents.Get(context.Background(), doc.ID)
	require.NoError(t, err)
	stored.FailOcr("tesseract missing", stored.UploadTime)
	require.NoError(t, env.documents.Save(context.Background(), stored))

	//test
	reset, err := env.service.Reprocess(context.Background(), doc.ID)

	//assert
	require.NoError(t, err)
	require.Equal(t, model.OcrStatusPending, reset.OcrStatus)
	require.Equal(t, model.SummaryStatusPending, reset.SummaryStatus)
	require.Empty(t, reset.OcrError)
	require.Equal(t, []string{model.RoutingKeyOcrRequest, model.RoutingKeyOcrRequest}, env.publisher.RoutingKeys())
}
