package ocr

import (
	"context"
	"encoding/json"
	"errors"
	"io/ioutil"
	"os"
	"strings"
	"testing"

	"github.com/analogj/lodestone-pipeline/pkg/listen"
	"github.com/analogj/lodestone-pipeline/pkg/model"
	"github.com/analogj/lodestone-pipeline/pkg/processor"
	"github.com/analogj/lodestone-pipeline/pkg/storage"
	"github.com/analogj/lodestone-pipeline/pkg/store"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

type fakeEngine struct {
	text  string
	err   error
	calls []string
	// content of the pdf handed to the engine
	seen []string
}

func (f *fakeEngine) Recognize(ctx context.Context, pdfPath string) (string, error) {
	f.calls = append(f.calls, pdfPath)
	data, _ := ioutil.ReadFile(pdfPath)
	f.seen = append(f.seen, string(data))
	return f.text, f.err
}

// recordingStore remembers the ocr status of every save. The first failSaves saves return saveErr.
type recordingStore struct {
	*store.MemoryStore
	statuses  []model.OcrStatus
	failSaves int
	saveErr   error
}

func (r *recordingStore) Save(ctx context.Context, doc *model.Document) error {
	r.statuses = append(r.statuses, doc.OcrStatus)
	if r.failSaves > 0 {
		r.failSaves--
		return r.saveErr
	}
	return r.MemoryStore.Save(ctx, doc)
}

type testEnv struct {
	documents *recordingStore
	blobs     *storage.MemoryStore
	engine    *fakeEngine
	publisher *listen.MemoryPublisher
	processor *OcrProcessor
	tempDir   string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	tempDir, err := ioutil.TempDir("", "ocr-processor")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(tempDir) })

	env := &testEnv{
		documents: &recordingStore{MemoryStore: store.NewMemoryStore()},
		blobs:     storage.NewMemoryStore(),
		engine:    &fakeEngine{},
		publisher: listen.NewMemoryPublisher(),
		tempDir:   tempDir,
	}
	env.processor = NewOcrProcessor(logrus.WithField("test", t.Name()), env.documents, env.blobs, env.engine, env.publisher, 0)
	env.processor.TempDir = tempDir
	return env
}

func (env *testEnv) upload(t *testing.T, fileName string, contentType string, content string) *model.Document {
	t.Helper()
	doc := model.NewDocument(fileName, fileName, contentType, int64(len(content)), "")
	require.NoError(t, env.documents.Create(context.Background(), doc))
	require.NoError(t, env.blobs.Upload(context.Background(), doc, strings.NewReader(content)))
	return doc
}

func requestBody(t *testing.T, doc *model.Document) []byte {
	body, err := json.Marshal(model.NewOcrRequest(doc))
	require.NoError(t, err)
	return body
}

func TestOcrProcessor_PlainTextBypassesEngine(t *testing.T) {
	//setup
	env := newTestEnv(t)
	doc := env.upload(t, "neu.txt", model.ContentTypeText, "\xEF\xBB\xBFHallo Welt")

	//test
	result, err := env.processor.ProcessRequest(context.Background(), model.NewOcrRequest(doc))

	//assert
	require.NoError(t, err)
	require.Empty(t, env.engine.calls)
	require.Equal(t, model.OcrStatusCompleted, result.Status)
	require.Equal(t, "Hallo Welt", result.Preview)

	stored, err := env.documents.Get(context.Background(), doc.ID)
	require.NoError(t, err)
	require.Equal(t, "Hallo Welt", stored.OcrText)
	require.Equal(t, model.OcrStatusCompleted, stored.OcrStatus)
	require.NotNil(t, stored.OcrStartedAt)
	require.NotNil(t, stored.OcrCompletedAt)
	require.Equal(t, model.SummaryStatusPending, stored.SummaryStatus)
	require.Equal(t, []model.OcrStatus{model.OcrStatusProcessing, model.OcrStatusCompleted}, env.documents.statuses)
}

func TestOcrProcessor_TruncatesText(t *testing.T) {
	//setup
	env := newTestEnv(t)
	doc := env.upload(t, "lang.txt", "text/plain", strings.Repeat("ö", 9000))

	//test
	_, err := env.processor.ProcessRequest(context.Background(), model.NewOcrRequest(doc))

	//assert
	require.NoError(t, err)
	stored, _ := env.documents.Get(context.Background(), doc.ID)
	require.Equal(t, strings.Repeat("ö", 8000), stored.OcrText)
}

func TestOcrProcessor_PdfUsesEngineOnceAndRemovesTempFile(t *testing.T) {
	//setup
	env := newTestEnv(t)
	env.engine.text = "page one\npage two"
	doc := env.upload(t, "scan.pdf", model.ContentTypePdf, "%PDF-1.4 content")

	//test
	result, err := env.processor.ProcessRequest(context.Background(), model.NewOcrRequest(doc))

	//assert
	require.NoError(t, err)
	require.Len(t, env.engine.calls, 1)
	require.Equal(t, "%PDF-1.4 content", env.engine.seen[0])
	require.Contains(t, env.engine.calls[0], "ocr-doc-"+strings.Replace(doc.ID, "-", "", -1))
	require.Equal(t, "page one\npage two", result.Preview)

	leftovers, err := ioutil.ReadDir(env.tempDir)
	require.NoError(t, err)
	require.Empty(t, leftovers)
}

func TestOcrProcessor_EngineFailureMarksFailed(t *testing.T) {
	//setup
	env := newTestEnv(t)
	env.engine.err = errors.New("process 'tesseract' exited with code 1. bad image")
	doc := env.upload(t, "scan.pdf", model.ContentTypePdf, "%PDF")

	//test
	result, err := env.processor.ProcessRequest(context.Background(), model.NewOcrRequest(doc))

	//assert
	require.Error(t, err)
	require.Nil(t, result)

	stored, _ := env.documents.Get(context.Background(), doc.ID)
	require.Equal(t, model.OcrStatusFailed, stored.OcrStatus)
	require.Equal(t, "process 'tesseract' exited with code 1. bad image", stored.OcrError)
	require.NotNil(t, stored.OcrCompletedAt)
	require.Equal(t, model.SummaryStatusFailed, stored.SummaryStatus)
	require.Equal(t, model.SummaryErrorOcrFailed, stored.SummaryError)
	require.Equal(t, []model.OcrStatus{model.OcrStatusProcessing, model.OcrStatusFailed}, env.documents.statuses)

	leftovers, _ := ioutil.ReadDir(env.tempDir)
	require.Empty(t, leftovers)
}

func TestOcrProcessor_StartSaveFailureMarksFailed(t *testing.T) {
	//setup
	env := newTestEnv(t)
	doc := env.upload(t, "scan.pdf", model.ContentTypePdf, "%PDF")
	env.documents.failSaves = 1
	env.documents.saveErr = errors.New("connection reset by peer")

	//test
	_, err := env.processor.ProcessRequest(context.Background(), model.NewOcrRequest(doc))

	//assert
	require.EqualError(t, err, "connection reset by peer")
	require.Empty(t, env.engine.calls)
	require.Equal(t, []model.OcrStatus{model.OcrStatusProcessing, model.OcrStatusFailed}, env.documents.statuses)

	stored, _ := env.documents.Get(context.Background(), doc.ID)
	require.Equal(t, model.OcrStatusFailed, stored.OcrStatus)
	require.Equal(t, "connection reset by peer", stored.OcrError)
}

func TestOcrProcessor_StartSaveConflictLeavesRecord(t *testing.T) {
	//setup
	env := newTestEnv(t)
	doc := env.upload(t, "scan.pdf", model.ContentTypePdf, "%PDF")
	env.documents.failSaves = 1
	env.documents.saveErr = model.ErrVersionConflict

	//test
	_, err := env.processor.ProcessRequest(context.Background(), model.NewOcrRequest(doc))

	//assert
	require.ErrorIs(t, err, model.ErrVersionConflict)
	require.Equal(t, []model.OcrStatus{model.OcrStatusProcessing}, env.documents.statuses)
	stored, _ := env.documents.Get(context.Background(), doc.ID)
	require.Equal(t, model.OcrStatusPending, stored.OcrStatus)
}

func TestOcrProcessor_MissingBlobMarksFailed(t *testing.T) {
	//setup
	env := newTestEnv(t)
	doc := model.NewDocument("weg", "weg.pdf", model.ContentTypePdf, 10, "")
	require.NoError(t, env.documents.Create(context.Background(), doc))

	//test
	_, err := env.processor.ProcessRequest(context.Background(), model.NewOcrRequest(doc))

	//assert
	require.ErrorIs(t, err, model.ErrBlobNotFound)
	stored, _ := env.documents.Get(context.Background(), doc.ID)
	require.Equal(t, model.OcrStatusFailed, stored.OcrStatus)
}

func TestOcrProcessor_MissingDocument(t *testing.T) {
	//setup
	env := newTestEnv(t)
	body, _ := json.Marshal(model.OcrRequest{DocumentID: "0b8f7c7e-5f43-4e0e-9d59-9b1f0f0c2a11"})

	//test
	result, err := env.processor.ProcessRequest(context.Background(), model.OcrRequest{DocumentID: "0b8f7c7e-5f43-4e0e-9d59-9b1f0f0c2a11"})
	handled := env.processor.Handle(context.Background(), body)

	//assert
	require.NoError(t, err)
	require.Nil(t, result)
	require.Equal(t, processor.OutcomeSuccess, handled.Outcome)
	require.Empty(t, env.publisher.Messages())
}

func TestOcrProcessor_HandlePublishesFollowUps(t *testing.T) {
	//setup
	env := newTestEnv(t)
	doc := env.upload(t, "neu.txt", model.ContentTypeText, "123")

	//test
	result := env.processor.Handle(context.Background(), requestBody(t, doc))

	//assert
	require.Equal(t, processor.OutcomeSuccess, result.Outcome)
	require.Equal(t, []string{model.RoutingKeySummaryRequest, model.RoutingKeyIndexRequest, model.RoutingKeyOcrResult}, env.publisher.RoutingKeys())

	messages := env.publisher.Messages()
	require.JSONEq(t, `{"documentId":"`+doc.ID+`"}`, string(messages[0].Body))
	require.JSONEq(t, `{"documentId":"`+doc.ID+`"}`, string(messages[1].Body))

	var report model.OcrResult
	require.NoError(t, json.Unmarshal(messages[2].Body, &report))
	require.Equal(t, doc.ID, report.ID)
	require.Equal(t, model.OcrStatusCompleted, report.Status)
	require.Equal(t, "123", report.Preview)
	require.NotNil(t, report.CompletedAtUtc)
}

func TestOcrProcessor_HandleFailureRequeuesWithoutPublishing(t *testing.T) {
	//setup
	env := newTestEnv(t)
	env.engine.err = errors.New("gs crashed")
	doc := env.upload(t, "scan.pdf", model.ContentTypePdf, "%PDF")

	//test
	result := env.processor.Handle(context.Background(), requestBody(t, doc))

	//assert
	require.Equal(t, processor.OutcomeTransientFailure, result.Outcome)
	require.Equal(t, processor.DefaultRetryDelay, result.Delay)
	require.Empty(t, env.publisher.Messages())
}

func TestOcrProcessor_HandlePublishFailureIsTransient(t *testing.T) {
	//setup
	env := newTestEnv(t)
	env.publisher.Fail(model.RoutingKeyIndexRequest, errors.New("channel closed"))
	doc := env.upload(t, "neu.txt", model.ContentTypeText, "123")

	//test
	result := env.processor.Handle(context.Background(), requestBody(t, doc))

	//assert
	require.True(t, result.Requeue())
	require.Contains(t, result.Reason, model.RoutingKeyIndexRequest)
}

func TestOcrProcessor_HandleMalformedJson(t *testing.T) {
	env := newTestEnv(t)

	result := env.processor.Handle(context.Background(), []byte("{not json"))

	require.Equal(t, processor.OutcomePermanentFailure, result.Outcome)
}

func TestOcrProcessor_RerunOverwritesText(t *testing.T) {
	//setup
	env := newTestEnv(t)
	env.engine.text = "erster Lauf"
	doc := env.upload(t, "scan.pdf", model.ContentTypePdf, "%PDF")
	_, err := env.processor.ProcessRequest(context.Background(), model.NewOcrRequest(doc))
	require.NoError(t, err)

	//test
	env.engine.text = "zweiter Lauf"
	_, err = env.processor.ProcessRequest(context.Background(), model.NewOcrRequest(doc))

	//assert
	require.NoError(t, err)
	stored, _ := env.documents.Get(context.Background(), doc.ID)
	require.Equal(t, "zweiter Lauf", stored.OcrText)
	require.Equal(t, model.OcrStatusCompleted, stored.OcrStatus)
}

func TestTruncate(t *testing.T) {
	require.Equal(t, "abc", Truncate("abcdef", 3))
	require.Equal(t, "abc", Truncate("abc", 3))
	require.Equal(t, "   ", Truncate("   ", 1))
}
