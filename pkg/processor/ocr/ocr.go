package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/analogj/lodestone-pipeline/pkg/listen"
	"github.com/analogj/lodestone-pipeline/pkg/model"
	ocrengine "github.com/analogj/lodestone-pipeline/pkg/ocr"
	"github.com/analogj/lodestone-pipeline/pkg/processor"
	"github.com/analogj/lodestone-pipeline/pkg/storage"
	"github.com/analogj/lodestone-pipeline/pkg/store"
	"github.com/sirupsen/logrus"
)

const DefaultMaxTextLength = 8000

var utf8Bom = []byte{0xEF, 0xBB, 0xBF}

type OcrProcessor struct {
	documents     store.DocumentStore
	blobs         storage.BlobStore
	engine        ocrengine.Engine
	publisher     listen.Publisher
	maxTextLength int
	logger        *logrus.Entry

	// TempDir receives the downloaded PDFs handed to the engine. Defaults to os.TempDir().
	TempDir string
	now     func() time.Time
}

func NewOcrProcessor(logger *logrus.Entry, documents store.DocumentStore, blobs storage.BlobStore, engine ocrengine.Engine, publisher listen.Publisher, maxTextLength int) *OcrProcessor {
	if maxTextLength <= 0 {
		maxTextLength = DefaultMaxTextLength
	}
	return &OcrProcessor{
		documents:     documents,
		blobs:         blobs,
		engine:        engine,
		publisher:     publisher,
		maxTextLength: maxTextLength,
		logger:        logger,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Handle is the consumer callback for the ocr queue. Completed documents fan out to the summary
// and index stages, followed by an informational ocr.result report.
func (p *OcrProcessor) Handle(ctx context.Context, body []byte) processor.Result {
	var req model.OcrRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return processor.Permanent(fmt.Sprintf("malformed ocr request: %v", err))
	}

	result, err := p.ProcessRequest(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return processor.Transient("shutdown during ocr", 0)
		}
		return processor.Transient(err.Error(), processor.DefaultRetryDelay)
	}
	if result == nil || result.Status != model.OcrStatusCompleted {
		return processor.Success()
	}

	for _, next := range []struct {
		routingKey string
		message    interface{}
	}{
		{model.RoutingKeySummaryRequest, model.SummaryRequest{DocumentID: result.ID}},
		{model.RoutingKeyIndexRequest, model.IndexRequest{DocumentID: result.ID}},
		{model.RoutingKeyOcrResult, result},
	} {
		if err := p.publisher.Publish(ctx, next.routingKey, next.message); err != nil {
			return processor.Transient(fmt.Sprintf("publish %s: %v", next.routingKey, err), processor.DefaultRetryDelay)
		}
	}
	return processor.Success()
}

// ProcessRequest runs OCR for the requested document. A missing document yields (nil, nil). On
// failure the document is marked Failed and the error is returned so the message is redelivered.
func (p *OcrProcessor) ProcessRequest(ctx context.Context, req model.OcrRequest) (*model.OcrResult, error) {
	logger := p.logger.WithField("documentId", req.DocumentID)

	doc, err := p.documents.Get(ctx, req.DocumentID)
	if errors.Is(err, model.ErrDocumentNotFound) {
		logger.Warn("Document for OCR not found, dropping request")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	doc.BeginOcr(p.now())
	if err := p.documents.Save(ctx, doc); err != nil {
		// a concurrent writer owns the record
		if !errors.Is(err, model.ErrVersionConflict) {
			p.fail(ctx, logger, doc, err)
		}
		return nil, err
	}
	logger.Info("OCR started")

	text, err := p.extractText(ctx, doc)
	if err == nil {
		doc.CompleteOcr(Truncate(text, p.maxTextLength), p.now())
		err = p.documents.Save(ctx, doc)
	}
	if err != nil {
		p.fail(ctx, logger, doc, err)
		return nil, err
	}

	logger.Infof("OCR completed (%d characters)", utf8.RuneCountInString(doc.OcrText))
	return model.NewOcrResult(doc), nil
}

func (p *OcrProcessor) extractText(ctx context.Context, doc *model.Document) (string, error) {
	content, err := p.blobs.Download(ctx, doc)
	if err != nil {
		return "", err
	}
	defer content.Close()

	if doc.IsPlainText() {
		data, err := ioutil.ReadAll(content)
		if err != nil {
			return "", err
		}
		return string(bytes.TrimPrefix(data, utf8Bom)), nil
	}

	tempFile, err := p.writeTempFile(doc, content)
	if err != nil {
		return "", err
	}
	defer func() {
		if err := os.Remove(tempFile); err != nil && !os.IsNotExist(err) {
			p.logger.WithError(err).Warnf("Could not remove temp file %s", tempFile)
		}
	}()

	return p.engine.Recognize(ctx, tempFile)
}

func (p *OcrProcessor) writeTempFile(doc *model.Document, content io.Reader) (string, error) {
	f, err := ioutil.TempFile(p.TempDir, "ocr-doc-"+strings.Replace(doc.ID, "-", "", -1)+"-*.pdf")
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, content); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

func (p *OcrProcessor) fail(ctx context.Context, logger *logrus.Entry, doc *model.Document, cause error) {
	logger.WithError(cause).Error("OCR failed")

	// persist the failure even when shutdown cancelled the processing context
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	doc.FailOcr(cause.Error(), p.now())
	if err := p.documents.Save(saveCtx, doc); err != nil {
		logger.WithError(err).Error("Could not persist OCR failure")
	}
}

// Truncate caps text at max characters. Blank text is returned unchanged.
func Truncate(text string, max int) string {
	if strings.TrimSpace(text) == "" || utf8.RuneCountInString(text) <= max {
		return text
	}
	return string([]rune(text)[:max])
}
