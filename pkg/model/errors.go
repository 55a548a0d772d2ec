package model

import "errors"

var (
	ErrDocumentNotFound    = errors.New("document not found")
	ErrVersionConflict     = errors.New("document was modified concurrently")
	ErrBlobNotFound        = errors.New("blob not found")
	ErrUnsupportedFileType = errors.New("only .pdf and .txt files are allowed")
	ErrEmptyUpload         = errors.New("file is missing or empty")
	ErrMissingName         = errors.New("document name could not be determined")
	ErrUploadTooLarge      = errors.New("file exceeds the upload size limit")
)
