package model

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

const DefaultBucket = "documents"

const (
	ContentTypePdf  = "application/pdf"
	ContentTypeText = "text/plain; charset=utf-8"
)

// Text columns that are empty are treated as NULL by the stores.
type Document struct {
	ID                string    `json:"id" bson:"id"`
	Name              string    `json:"name" bson:"name"`
	OriginalFileName  string    `json:"originalFileName" bson:"originalFileName"`
	ContentType       string    `json:"contentType" bson:"contentType"`
	SizeBytes         int64     `json:"sizeBytes" bson:"sizeBytes"`
	StorageBucket     string    `json:"storageBucket" bson:"storageBucket"`
	StorageObjectName string    `json:"storageObjectName" bson:"storageObjectName"`
	UploadTime        time.Time `json:"uploadTime" bson:"uploadTime"`

	// OCR
	OcrStatus      OcrStatus  `json:"ocrStatus" bson:"ocrStatus"`
	OcrText        string     `json:"ocrText,omitempty" bson:"ocrText,omitempty"`
	OcrError       string     `json:"ocrError,omitempty" bson:"ocrError,omitempty"`
	OcrStartedAt   *time.Time `json:"ocrStartedAt,omitempty" bson:"ocrStartedAt,omitempty"`
	OcrCompletedAt *time.Time `json:"ocrCompletedAt,omitempty" bson:"ocrCompletedAt,omitempty"`

	// Summary
	SummaryStatus      SummaryStatus `json:"summaryStatus" bson:"summaryStatus"`
	SummaryText        string        `json:"summaryText,omitempty" bson:"summaryText,omitempty"`
	SummaryError       string        `json:"summaryError,omitempty" bson:"summaryError,omitempty"`
	SummaryCompletedAt *time.Time    `json:"summaryCompletedAt,omitempty" bson:"summaryCompletedAt,omitempty"`

	// Virus scan
	VirusScanStatus      VirusScanStatus `json:"virusScanStatus" bson:"virusScanStatus"`
	VirusScanError       string          `json:"virusScanError,omitempty" bson:"virusScanError,omitempty"`
	VirusScanAnalysisID  string          `json:"virusScanAnalysisId,omitempty" bson:"virusScanAnalysisId,omitempty"`
	VirusScanStartedAt   *time.Time      `json:"virusScanStartedAt,omitempty" bson:"virusScanStartedAt,omitempty"`
	VirusScanCompletedAt *time.Time      `json:"virusScanCompletedAt,omitempty" bson:"virusScanCompletedAt,omitempty"`

	// Version is the optimistic concurrency token. Stores only accept a save when the stored
	// version matches, and bump it afterwards.
	Version int64 `json:"version" bson:"version"`
}

// NewDocument creates a freshly uploaded document record. The object name is derived from the id
// and the lower-cased extension of the original file name, and never changes afterwards.
func NewDocument(name string, originalFileName string, contentType string, sizeBytes int64, bucket string) *Document {
	id := uuid.New()
	if bucket == "" {
		bucket = DefaultBucket
	}

	return &Document{
		ID:                id.String(),
		Name:              name,
		OriginalFileName:  originalFileName,
		ContentType:       contentType,
		SizeBytes:         sizeBytes,
		StorageBucket:     bucket,
		StorageObjectName: strings.Replace(id.String(), "-", "", -1) + strings.ToLower(filepath.Ext(originalFileName)),
		UploadTime:        time.Now().UTC(),
		OcrStatus:         OcrStatusPending,
		SummaryStatus:     SummaryStatusPending,
		VirusScanStatus:   VirusScanStatusNotScanned,
	}
}

// DefaultContentType returns the content type stored for an upload that did not declare one.
func DefaultContentType(fileName string) string {
	if strings.EqualFold(filepath.Ext(fileName), ".pdf") {
		return ContentTypePdf
	}
	return ContentTypeText
}

// IsPlainText reports whether the content can be read as text without running OCR.
func (d *Document) IsPlainText() bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(d.ContentType)), "text/")
}

// DownloadName is the file name suggested for downloads: the display name plus the original extension.
func (d *Document) DownloadName() string {
	ext := filepath.Ext(d.OriginalFileName)
	if strings.TrimSpace(ext) == "" {
		return d.Name
	}
	return d.Name + ext
}

func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	c := *d
	c.OcrStartedAt = cloneTime(d.OcrStartedAt)
	c.OcrCompletedAt = cloneTime(d.OcrCompletedAt)
	c.SummaryCompletedAt = cloneTime(d.SummaryCompletedAt)
	c.VirusScanStartedAt = cloneTime(d.VirusScanStartedAt)
	c.VirusScanCompletedAt = cloneTime(d.VirusScanCompletedAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func timePtr(t time.Time) *time.Time {
	return &t
}

////////////////////////////////////////////////////////////////////////////////////////////////////
// OCR transitions
////////////////////////////////////////////////////////////////////////////////////////////////////

func (d *Document) BeginOcr(now time.Time) {
	d.OcrStatus = OcrStatusProcessing
	d.OcrStartedAt = timePtr(now)
	d.OcrCompletedAt = nil
	d.OcrError = ""
}

// CompleteOcr stores the extracted text and invalidates any earlier summary.
func (d *Document) CompleteOcr(text string, now time.Time) {
	d.OcrText = text
	d.OcrStatus = OcrStatusCompleted
	d.OcrCompletedAt = timePtr(now)
	d.OcrError = ""

	d.SummaryStatus = SummaryStatusPending
	d.SummaryText = ""
	d.SummaryError = ""
	d.SummaryCompletedAt = nil
}

// FailOcr marks the OCR stage as failed. Without OCR text there is nothing to summarize, so the
// summary stage fails with it.
func (d *Document) FailOcr(message string, now time.Time) {
	d.OcrStatus = OcrStatusFailed
	d.OcrError = message
	d.OcrCompletedAt = timePtr(now)

	d.SummaryStatus = SummaryStatusFailed
	d.SummaryText = ""
	d.SummaryError = SummaryErrorOcrFailed
	d.SummaryCompletedAt = timePtr(now)
}

// ResetProcessing puts OCR and summary back to Pending before a document is sent through the
// pipeline again. Existing text stays until the rerun replaces it.
func (d *Document) ResetProcessing() {
	d.OcrStatus = OcrStatusPending
	d.OcrError = ""
	d.OcrStartedAt = nil
	d.OcrCompletedAt = nil

	d.SummaryStatus = SummaryStatusPending
	d.SummaryError = ""
	d.SummaryCompletedAt = nil
}

////////////////////////////////////////////////////////////////////////////////////////////////////
// Summary transitions
////////////////////////////////////////////////////////////////////////////////////////////////////

const (
	SummaryErrorOcrFailed = "OCR fehlgeschlagen; keine Summary."
	SummaryErrorNoOcrText = "Kein OCR-Text vorhanden."
)

func (d *Document) HasOcrText() bool {
	return strings.TrimSpace(d.OcrText) != ""
}

func (d *Document) BeginSummary() {
	d.SummaryStatus = SummaryStatusProcessing
	d.SummaryError = ""
	d.SummaryCompletedAt = nil
}

func (d *Document) CompleteSummary(text string, now time.Time) {
	d.SummaryStatus = SummaryStatusCompleted
	d.SummaryText = text
	d.SummaryError = ""
	d.SummaryCompletedAt = timePtr(now)
}

// RetrySummary puts the summary back to Pending so a redelivered request picks it up again.
func (d *Document) RetrySummary(message string) {
	d.SummaryStatus = SummaryStatusPending
	d.SummaryError = message
}

func (d *Document) FailSummary(message string, now time.Time) {
	d.SummaryStatus = SummaryStatusFailed
	d.SummaryError = message
	d.SummaryCompletedAt = timePtr(now)
}

////////////////////////////////////////////////////////////////////////////////////////////////////
// Virus scan transitions
////////////////////////////////////////////////////////////////////////////////////////////////////

// BeginVirusScan keeps the previous analysis id until RecordAnalysis replaces it, so a failed
// submit still leaves something to poll.
func (d *Document) BeginVirusScan(now time.Time) {
	d.VirusScanStatus = VirusScanStatusScanning
	d.VirusScanStartedAt = timePtr(now)
	d.VirusScanCompletedAt = nil
	d.VirusScanError = ""
}

// HasVirusScanVerdict reports whether the last scan ended Clean or Malicious.
func (d *Document) HasVirusScanVerdict() bool {
	return d.VirusScanStatus == VirusScanStatusClean || d.VirusScanStatus == VirusScanStatusMalicious
}

func (d *Document) RecordAnalysis(analysisID string) {
	d.VirusScanAnalysisID = analysisID
}

// ResumeVirusScan returns to Scanning while a stored analysis is still queued at the scanner.
func (d *Document) ResumeVirusScan() {
	d.VirusScanStatus = VirusScanStatusScanning
	d.VirusScanError = ""
	d.VirusScanCompletedAt = nil
}

func (d *Document) CompleteVirusScan(malicious bool, now time.Time) {
	if malicious {
		d.VirusScanStatus = VirusScanStatusMalicious
	} else {
		d.VirusScanStatus = VirusScanStatusClean
	}
	d.VirusScanError = ""
	d.VirusScanCompletedAt = timePtr(now)
}

// FailVirusScan keeps the analysis id so a later poll can resume.
func (d *Document) FailVirusScan(message string, now time.Time) {
	d.VirusScanStatus = VirusScanStatusFailed
	d.VirusScanError = message
	d.VirusScanCompletedAt = timePtr(now)
}
