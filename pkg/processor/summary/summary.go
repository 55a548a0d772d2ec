package summary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/analogj/lodestone-pipeline/pkg/genai"
	"github.com/analogj/lodestone-pipeline/pkg/model"
	"github.com/analogj/lodestone-pipeline/pkg/processor"
	"github.com/analogj/lodestone-pipeline/pkg/store"
	"github.com/sirupsen/logrus"
)

const (
	// RateLimitDelay is the retry delay after the model answered 429.
	RateLimitDelay = 60 * time.Second
	MaxErrorLength = 512
)

type SummaryProcessor struct {
	documents  store.DocumentStore
	summarizer genai.Summarizer
	inputLimit int
	logger     *logrus.Entry
	now        func() time.Time
}

func NewSummaryProcessor(logger *logrus.Entry, documents store.DocumentStore, summarizer genai.Summarizer, inputLimit int) *SummaryProcessor {
	if inputLimit <= 0 {
		inputLimit = genai.DefaultMaxInputChars
	}
	return &SummaryProcessor{
		documents:  documents,
		summarizer: summarizer,
		inputLimit: inputLimit,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (p *SummaryProcessor) Handle(ctx context.Context, body []byte) processor.Result {
	var req model.SummaryRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return processor.Permanent(fmt.Sprintf("malformed summary request: %v", err))
	}
	return p.ProcessRequest(ctx, req)
}

// ProcessRequest summarizes the OCR text of the document. Every path that moved the document to
// Processing persists a terminal status or a reset to Pending before returning.
func (p *SummaryProcessor) ProcessRequest(ctx context.Context, req model.SummaryRequest) processor.Result {
	logger := p.logger.WithField("documentId", req.DocumentID)

	doc, err := p.documents.Get(ctx, req.DocumentID)
	if errors.Is(err, model.ErrDocumentNotFound) {
		logger.Warn("Document for summary not found, dropping request")
		return processor.Success()
	}
	if err != nil {
		return processor.Transient(err.Error(), processor.DefaultRetryDelay)
	}

	switch doc.OcrStatus {
	case model.OcrStatusCompleted:
	case model.OcrStatusFailed:
		logger.Warn("Summary skipped, OCR failed")
		return processor.Permanent(model.SummaryErrorOcrFailed)
	default:
		logger.Infof("OCR is %s, summary request is retried later", doc.OcrStatus)
		return processor.Transient(fmt.Sprintf("ocr status %s", doc.OcrStatus), processor.DefaultRetryDelay)
	}

	if !doc.HasOcrText() {
		doc.FailSummary(model.SummaryErrorNoOcrText, p.now())
		if err := p.documents.Save(ctx, doc); err != nil {
			return processor.Transient(err.Error(), processor.DefaultRetryDelay)
		}
		logger.Warn("Summary skipped, document has no OCR text")
		return processor.Permanent(model.SummaryErrorNoOcrText)
	}

	doc.BeginSummary()
	if err := p.documents.Save(ctx, doc); err != nil {
		return processor.Transient(err.Error(), processor.DefaultRetryDelay)
	}
	logger.Info("Summary started")

	summary, err := p.summarizer.Summarize(ctx, genai.PrepareInput(doc.OcrText, p.inputLimit))
	if err == nil {
		doc.CompleteSummary(summary, p.now())
		if err := p.documents.Save(ctx, doc); err != nil {
			return p.retry(ctx, logger, doc, err)
		}
		logger.Info("Summary stored")
		return processor.Success()
	}

	var genErr *genai.Error
	switch {
	case errors.As(err, &genErr) && genErr.Transient:
		delay := processor.DefaultRetryDelay
		if genai.IsRateLimited(err) {
			delay = RateLimitDelay
		}
		doc.RetrySummary("GenAI meldet: " + genai.Limit(genErr.Message, MaxErrorLength))
		p.persist(ctx, logger, doc)
		logger.WithError(err).Warnf("GenAI error, retrying in %s", delay)
		return processor.Transient(genErr.Message, delay)

	case errors.As(err, &genErr):
		doc.FailSummary(genai.Limit(genErr.Message, MaxErrorLength), p.now())
		p.persist(ctx, logger, doc)
		logger.WithError(err).Error("GenAI failed permanently")
		return processor.Permanent(genErr.Message)

	default:
		return p.retry(ctx, logger, doc, err)
	}
}

// retry resets the summary to Pending for errors the summarizer did not classify.
func (p *SummaryProcessor) retry(ctx context.Context, logger *logrus.Entry, doc *model.Document, cause error) processor.Result {
	if errors.Is(cause, model.ErrVersionConflict) {
		// someone else owns the document now; the redelivery starts from fresh state
		return processor.Transient(cause.Error(), 0)
	}

	doc.RetrySummary("Interner Fehler: " + genai.Limit(cause.Error(), MaxErrorLength))
	p.persist(ctx, logger, doc)
	logger.WithError(cause).Warn("Summary has to be retried later")

	if ctx.Err() != nil {
		return processor.Transient("shutdown during summary", 0)
	}
	return processor.Transient(cause.Error(), processor.DefaultRetryDelay)
}

func (p *SummaryProcessor) persist(ctx context.Context, logger *logrus.Entry, doc *model.Document) {
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := p.documents.Save(saveCtx, doc); err != nil {
		logger.WithError(err).Error("Could not persist summary status")
	}
}
