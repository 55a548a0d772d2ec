package documents

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/analogj/lodestone-pipeline/pkg/listen"
	"github.com/analogj/lodestone-pipeline/pkg/model"
	"github.com/analogj/lodestone-pipeline/pkg/search"
	"github.com/analogj/lodestone-pipeline/pkg/storage"
	"github.com/analogj/lodestone-pipeline/pkg/store"
	"github.com/sirupsen/logrus"
)

// MaxUploadBytes matches the request size limit of the upload endpoint.
const MaxUploadBytes = 50_000_000

type UploadRequest struct {
	Name        string
	FileName    string
	ContentType string
	Content     io.Reader
}

// Service is the entry point of the pipeline: it stores uploads and hands them to the OCR stage.
type Service struct {
	documents store.DocumentStore
	blobs     storage.BlobStore
	index     search.Index
	publisher listen.Publisher
	filter    *model.Filter
	bucket    string
	logger    *logrus.Entry
}

func NewService(logger *logrus.Entry, documents store.DocumentStore, blobs storage.BlobStore, index search.Index, publisher listen.Publisher, filter *model.Filter, bucket string) *Service {
	if filter == nil {
		filter = model.NewUploadFilter(nil, nil)
	}
	return &Service{
		documents: documents,
		blobs:     blobs,
		index:     index,
		publisher: publisher,
		filter:    filter,
		bucket:    bucket,
		logger:    logger,
	}
}

func (s *Service) Upload(ctx context.Context, req UploadRequest) (*model.Document, error) {
	if req.Content == nil {
		return nil, model.ErrEmptyUpload
	}

	fileName := filepath.Base(strings.TrimSpace(req.FileName))
	if fileName == "." || !s.filter.ValidPath(fileName) {
		return nil, model.ErrUnsupportedFileType
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = strings.TrimSuffix(fileName, filepath.Ext(fileName))
	}
	if strings.TrimSpace(name) == "" {
		return nil, model.ErrMissingName
	}

	contentType := strings.TrimSpace(req.ContentType)
	if contentType == "" {
		contentType = model.DefaultContentType(fileName)
	}

	var content bytes.Buffer
	n, err := io.Copy(&content, io.LimitReader(req.Content, MaxUploadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if n == 0 {
		return nil, model.ErrEmptyUpload
	}
	if n > MaxUploadBytes {
		return nil, model.ErrUploadTooLarge
	}

	doc := model.NewDocument(name, fileName, contentType, n, s.bucket)
	logger := s.logger.WithField("documentId", doc.ID)

	if err := s.blobs.Upload(ctx, doc, bytes.NewReader(content.Bytes())); err != nil {
		logger.WithError(err).Error("Blob upload failed")
		return nil, fmt.Errorf("upload blob: %w", err)
	}

	if err := s.documents.Create(ctx, doc); err != nil {
		if delErr := s.blobs.Delete(context.WithoutCancel(ctx), doc); delErr != nil {
			logger.WithError(delErr).Warn("Could not remove blob after failed insert")
		}
		return nil, fmt.Errorf("create document: %w", err)
	}
	logger.Infof("Document uploaded. Name=%s SizeBytes=%d", doc.Name, doc.SizeBytes)

	// the document exists now; a lost request can be resent with Reprocess
	if err := s.publisher.Publish(ctx, model.RoutingKeyOcrRequest, model.NewOcrRequest(doc)); err != nil {
		logger.WithError(err).Error("Publishing ocr.request failed")
	} else {
		logger.Info("ocr.request published")
	}
	return doc, nil
}

func (s *Service) Get(ctx context.Context, id string) (*model.Document, error) {
	return s.documents.Get(ctx, id)
}

func (s *Service) List(ctx context.Context) ([]*model.Document, error) {
	return s.documents.List(ctx)
}

// Download returns the document with a reader over its blob. The caller closes the reader.
func (s *Service) Download(ctx context.Context, id string) (*model.Document, io.ReadCloser, error) {
	doc, err := s.documents.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	content, err := s.blobs.Download(ctx, doc)
	if err != nil {
		return nil, nil, err
	}
	return doc, content, nil
}

// Delete removes the record first; blob and search entry are cleaned up best effort afterwards.
func (s *Service) Delete(ctx context.Context, id string) error {
	logger := s.logger.WithField("documentId", id)

	doc, err := s.documents.Get(ctx, id)
	if errors.Is(err, model.ErrDocumentNotFound) {
		logger.Warn("Delete: document not found")
		return err
	}
	if err != nil {
		return err
	}
	if err := s.documents.Delete(ctx, id); err != nil {
		return err
	}

	if err := s.blobs.Delete(ctx, doc); err != nil {
		logger.WithError(err).Warn("Could not remove blob")
	}
	if s.index != nil {
		if err := s.index.Delete(ctx, id); err != nil {
			logger.WithError(err).Warn("Could not remove search entry")
		}
	}
	logger.Infof("Document deleted. Name=%s", doc.Name)
	return nil
}

// Search resolves index hits to documents, dropping hits whose record no longer exists.
func (s *Service) Search(ctx context.Context, query string, maxResults int) ([]*model.Document, error) {
	if s.index == nil {
		return []*model.Document{}, nil
	}
	hits, err := s.index.Search(ctx, query, maxResults)
	if err != nil {
		return nil, err
	}

	found := []*model.Document{}
	for _, hit := range hits {
		doc, err := s.documents.Get(ctx, hit.ID)
		if errors.Is(err, model.ErrDocumentNotFound) {
			s.logger.WithField("documentId", hit.ID).Debug("Search hit without document")
			continue
		}
		if err != nil {
			return nil, err
		}
		found = append(found, doc)
	}
	return found, nil
}

// Reprocess resets OCR and summary and sends the document through the pipeline again.
func (s *Service) Reprocess(ctx context.Context, id string) (*model.Document, error) {
	doc, err := s.documents.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	doc.ResetProcessing()
	if err := s.documents.Save(ctx, doc); err != nil {
		return nil, err
	}
	if err := s.publisher.Publish(ctx, model.RoutingKeyOcrRequest, model.NewOcrRequest(doc)); err != nil {
		return doc, fmt.Errorf("publish ocr.request: %w", err)
	}
	s.logger.WithField("documentId", doc.ID).Info("Document queued for reprocessing")
	return doc, nil
}
