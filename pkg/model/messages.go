package model

import (
	"strings"
	"time"
)

// Routing keys on the pipeline exchange.
const (
	RoutingKeyOcrRequest     = "ocr.request"
	RoutingKeySummaryRequest = "summary.request"
	RoutingKeyIndexRequest   = "index.request"
	RoutingKeyOcrResult      = "ocr.result"
)

type OcrRequest struct {
	DocumentID       string    `json:"documentId"`
	OriginalFileName string    `json:"originalFileName"`
	ContentType      string    `json:"contentType"`
	SizeBytes        int64     `json:"sizeBytes"`
	UploadedAtUtc    time.Time `json:"uploadedAtUtc"`
}

func NewOcrRequest(doc *Document) OcrRequest {
	return OcrRequest{
		DocumentID:       doc.ID,
		OriginalFileName: doc.OriginalFileName,
		ContentType:      doc.ContentType,
		SizeBytes:        doc.SizeBytes,
		UploadedAtUtc:    doc.UploadTime.UTC(),
	}
}

type SummaryRequest struct {
	DocumentID string `json:"documentId"`
}

type IndexRequest struct {
	DocumentID string `json:"documentId"`
}

// OcrResult is published on ocr.result after a completed OCR run. Failed runs publish nothing.
// It is informational and not consumed by another pipeline stage.
type OcrResult struct {
	ID             string     `json:"id"`
	Status         OcrStatus  `json:"status"`
	Preview        string     `json:"preview"`
	CompletedAtUtc *time.Time `json:"completedAtUtc,omitempty"`
}

const ocrPreviewLength = 200

func NewOcrResult(doc *Document) *OcrResult {
	var completed *time.Time
	if doc.OcrCompletedAt != nil {
		utc := doc.OcrCompletedAt.UTC()
		completed = &utc
	}
	return &OcrResult{
		ID:             doc.ID,
		Status:         doc.OcrStatus,
		Preview:        Preview(doc.OcrText, ocrPreviewLength),
		CompletedAtUtc: completed,
	}
}

// Preview trims text to max runes and marks the cut with an ellipsis.
func Preview(text string, max int) string {
	text = strings.TrimSpace(text)
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max]) + "…"
}
