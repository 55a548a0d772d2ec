package virusscan

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/analogj/lodestone-pipeline/pkg/model"
	"github.com/analogj/lodestone-pipeline/pkg/storage"
	"github.com/analogj/lodestone-pipeline/pkg/store"
	"github.com/sirupsen/logrus"
)

const (
	DefaultPollInterval = 2 * time.Second
	DefaultMaxWait      = 25 * time.Second
)

var ErrNoAnalysis = errors.New("document has no stored virus scan analysis")

// Scanner is the part of Client the Service depends on.
type Scanner interface {
	Submit(ctx context.Context, fileName string, contentType string, content io.Reader, size int64) (string, error)
	CheckAnalysis(ctx context.Context, analysisID string) (Analysis, error)
}

// Service drives the virus scan state of a document: submit, then poll until a verdict or until
// the wait budget is used up. Unfinished scans stay in Scanning and can be polled later.
type Service struct {
	documents    store.DocumentStore
	blobs        storage.BlobStore
	scanner      Scanner
	pollInterval time.Duration
	maxWait      time.Duration
	logger       *logrus.Entry
	now          func() time.Time
}

func NewService(logger *logrus.Entry, documents store.DocumentStore, blobs storage.BlobStore, scanner Scanner, pollInterval time.Duration, maxWait time.Duration) *Service {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	if maxWait < 0 {
		maxWait = DefaultMaxWait
	}
	return &Service{
		documents:    documents,
		blobs:        blobs,
		scanner:      scanner,
		pollInterval: pollInterval,
		maxWait:      maxWait,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Submit starts a new scan for the document, regardless of an earlier verdict.
func (s *Service) Submit(ctx context.Context, id string) (*model.Document, error) {
	doc, err := s.documents.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	logger := s.logger.WithField("documentId", doc.ID)

	doc.BeginVirusScan(s.now())
	if err := s.documents.Save(ctx, doc); err != nil {
		return nil, err
	}
	logger.Info("Virus scan started")

	analysisID, err := s.upload(ctx, doc)
	if err != nil {
		return s.fail(ctx, logger, doc, err)
	}

	doc.RecordAnalysis(analysisID)
	if err := s.documents.Save(ctx, doc); err != nil {
		return nil, err
	}
	logger.WithField("analysisId", analysisID).Info("Virus scan submitted")

	return s.await(ctx, logger, doc)
}

func (s *Service) upload(ctx context.Context, doc *model.Document) (string, error) {
	content, err := s.blobs.Download(ctx, doc)
	if err != nil {
		return "", err
	}
	defer content.Close()
	return s.scanner.Submit(ctx, doc.OriginalFileName, doc.ContentType, content, doc.SizeBytes)
}

// Poll checks the stored analysis once. A document with a verdict is returned unchanged until a
// new scan is submitted.
func (s *Service) Poll(ctx context.Context, id string) (*model.Document, error) {
	doc, err := s.documents.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc.HasVirusScanVerdict() {
		return doc, nil
	}
	if doc.VirusScanAnalysisID == "" {
		return doc, ErrNoAnalysis
	}
	logger := s.logger.WithField("documentId", doc.ID)

	done, err := s.check(ctx, doc)
	if err != nil {
		return s.fail(ctx, logger, doc, err)
	}
	if !done && doc.VirusScanStatus != model.VirusScanStatusScanning {
		doc.ResumeVirusScan()
		if err := s.documents.Save(ctx, doc); err != nil {
			return nil, err
		}
	}
	return doc, nil
}

func (s *Service) await(ctx context.Context, logger *logrus.Entry, doc *model.Document) (*model.Document, error) {
	deadline := s.now().Add(s.maxWait)
	for {
		done, err := s.check(ctx, doc)
		if err != nil {
			return s.fail(ctx, logger, doc, err)
		}
		if done || !s.now().Before(deadline) {
			if !done {
				logger.Info("Virus scan still queued, poll again later")
			}
			return doc, nil
		}

		timer := time.NewTimer(s.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return doc, nil
		case <-timer.C:
		}
	}
}

// check queries the analysis and stores a verdict once it is completed.
func (s *Service) check(ctx context.Context, doc *model.Document) (bool, error) {
	analysis, err := s.scanner.CheckAnalysis(ctx, doc.VirusScanAnalysisID)
	if err != nil {
		return false, err
	}
	if !analysis.Completed() {
		s.logger.WithField("documentId", doc.ID).Debugf("Analysis status %s", analysis.Status)
		return false, nil
	}

	doc.CompleteVirusScan(analysis.IsMalicious(), s.now())
	if err := s.documents.Save(ctx, doc); err != nil {
		return false, err
	}
	s.logger.WithField("documentId", doc.ID).Infof("Virus scan completed: %s (malicious=%d suspicious=%d)",
		doc.VirusScanStatus, analysis.Malicious, analysis.Suspicious)
	return true, nil
}

func (s *Service) fail(ctx context.Context, logger *logrus.Entry, doc *model.Document, cause error) (*model.Document, error) {
	if errors.Is(cause, model.ErrVersionConflict) {
		return nil, cause
	}

	// the failure is recorded even when the caller's context was the cause
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	doc.FailVirusScan(cause.Error(), s.now())
	if err := s.documents.Save(saveCtx, doc); err != nil {
		logger.WithError(err).Error("Could not persist virus scan failure")
	}
	logger.WithError(cause).Warn("Virus scan failed")
	return doc, cause
}
