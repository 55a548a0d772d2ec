package report

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/analogj/lodestone-pipeline/pkg/model"
	"github.com/analogj/lodestone-pipeline/pkg/processor"
	"github.com/sirupsen/logrus"
)

type ResultStore interface {
	Put(ctx context.Context, result model.OcrResult) error
}

// ResultProcessor keeps the latest ocr.result report of every document so operators can look it
// up without reading the database.
type ResultProcessor struct {
	results ResultStore
	logger  *logrus.Entry
}

func NewResultProcessor(logger *logrus.Entry, results ResultStore) *ResultProcessor {
	return &ResultProcessor{results: results, logger: logger}
}

func (p *ResultProcessor) Handle(ctx context.Context, body []byte) processor.Result {
	var result model.OcrResult
	if err := json.Unmarshal(body, &result); err != nil {
		return processor.Permanent(fmt.Sprintf("malformed ocr result: %v", err))
	}
	if result.ID == "" {
		return processor.Permanent("ocr result without document id")
	}

	logger := p.logger.WithField("documentId", result.ID)
	if err := p.results.Put(ctx, result); err != nil {
		logger.WithError(err).Warn("Could not cache ocr result")
		return processor.Transient(err.Error(), processor.DefaultRetryDelay)
	}
	logger.Infof("OCR result received: %s", result.Status)
	return processor.Success()
}
