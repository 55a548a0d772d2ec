package ocr

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/sirupsen/logrus"
)

var ErrNoPages = errors.New("rasterizer produced no pages")

// PipelineEngine rasterizes a PDF and recognizes each page image in page order. Any failing page
// fails the whole document.
type PipelineEngine struct {
	rasterizer Rasterizer
	recognizer Recognizer
	logger     *logrus.Entry

	// TempDir is the parent of the per-document work directories. Defaults to os.TempDir().
	TempDir   string
	pageCount func(pdfPath string) (int, error)
}

var _ Engine = (*PipelineEngine)(nil)

func NewPipelineEngine(logger *logrus.Entry, rasterizer Rasterizer, recognizer Recognizer) *PipelineEngine {
	return &PipelineEngine{
		rasterizer: rasterizer,
		recognizer: recognizer,
		logger:     logger,
		pageCount:  api.PageCountFile,
	}
}

func (e *PipelineEngine) Recognize(ctx context.Context, pdfPath string) (string, error) {
	if _, err := os.Stat(pdfPath); err != nil {
		return "", fmt.Errorf("pdf for ocr not found: %w", err)
	}

	pageCount, err := e.pageCount(pdfPath)
	if err != nil {
		return "", fmt.Errorf("unreadable pdf %s: %w", filepath.Base(pdfPath), err)
	}
	e.logger.Debugf("Rasterizing %d pages of %s", pageCount, pdfPath)

	workDir, err := e.createWorkDir()
	if err != nil {
		return "", err
	}
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			e.logger.WithError(err).Warnf("Could not remove ocr work directory %s", workDir)
		}
	}()

	pages, err := e.rasterizer.Rasterize(ctx, pdfPath, workDir)
	if err != nil {
		return "", err
	}
	if len(pages) == 0 {
		return "", ErrNoPages
	}
	SortPages(pages)

	texts := make([]string, 0, len(pages))
	for _, page := range pages {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		text, err := e.recognizer.Recognize(ctx, page)
		if err != nil {
			return "", err
		}
		if text = strings.TrimSpace(text); text != "" {
			texts = append(texts, text)
		}
	}

	e.logger.Infof("OCR completed. Pages=%d", len(pages))
	return strings.Join(texts, "\n"), nil
}

func (e *PipelineEngine) createWorkDir() (string, error) {
	parent := e.TempDir
	if parent == "" {
		parent = os.TempDir()
	}
	workDir := filepath.Join(parent, "ocr-"+strings.Replace(uuid.New().String(), "-", "", -1))
	if err := os.MkdirAll(workDir, 0700); err != nil {
		return "", fmt.Errorf("create ocr work directory: %w", err)
	}
	return workDir, nil
}
