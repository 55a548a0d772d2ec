package indexing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/analogj/lodestone-pipeline/pkg/model"
	"github.com/analogj/lodestone-pipeline/pkg/processor"
	"github.com/analogj/lodestone-pipeline/pkg/search"
	"github.com/analogj/lodestone-pipeline/pkg/store"
	"github.com/sirupsen/logrus"
)

// IndexingProcessor copies the searchable fields of a document into the search index.
type IndexingProcessor struct {
	documents store.DocumentStore
	index     search.Index
	logger    *logrus.Entry
}

func NewIndexingProcessor(logger *logrus.Entry, documents store.DocumentStore, index search.Index) *IndexingProcessor {
	return &IndexingProcessor{
		documents: documents,
		index:     index,
		logger:    logger,
	}
}

func (p *IndexingProcessor) Handle(ctx context.Context, body []byte) processor.Result {
	var req model.IndexRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return processor.Permanent(fmt.Sprintf("malformed index request: %v", err))
	}

	if err := p.ProcessRequest(ctx, req); err != nil {
		p.logger.WithField("documentId", req.DocumentID).WithError(err).Error("Indexing failed")
		if ctx.Err() != nil {
			return processor.Transient(err.Error(), 0)
		}
		return processor.Transient(err.Error(), processor.DefaultRetryDelay)
	}
	return processor.Success()
}

func (p *IndexingProcessor) ProcessRequest(ctx context.Context, req model.IndexRequest) error {
	logger := p.logger.WithField("documentId", req.DocumentID)

	doc, err := p.documents.Get(ctx, req.DocumentID)
	if errors.Is(err, model.ErrDocumentNotFound) {
		logger.Warn("Document for indexing not found, dropping request")
		return nil
	}
	if err != nil {
		return err
	}

	if err := p.index.Index(ctx, NewEntry(doc)); err != nil {
		return err
	}
	logger.Info("Document indexed")
	return nil
}

func NewEntry(doc *model.Document) search.Entry {
	return search.Entry{
		ID:               doc.ID,
		Name:             doc.Name,
		OriginalFileName: doc.OriginalFileName,
		OcrText:          doc.OcrText,
	}
}
