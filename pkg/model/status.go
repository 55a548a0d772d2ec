package model

import (
	"database/sql/driver"
	"fmt"
)

type OcrStatus string

const (
	OcrStatusPending    OcrStatus = "Pending"
	OcrStatusProcessing OcrStatus = "Processing"
	OcrStatusCompleted  OcrStatus = "Completed"
	OcrStatusFailed     OcrStatus = "Failed"
)

type SummaryStatus string

const (
	SummaryStatusPending    SummaryStatus = "Pending"
	SummaryStatusProcessing SummaryStatus = "Processing"
	SummaryStatusCompleted  SummaryStatus = "Completed"
	SummaryStatusFailed     SummaryStatus = "Failed"
)

type VirusScanStatus string

const (
	VirusScanStatusNotScanned VirusScanStatus = "NotScanned"
	VirusScanStatusScanning   VirusScanStatus = "Scanning"
	VirusScanStatusClean      VirusScanStatus = "Clean"
	VirusScanStatusMalicious  VirusScanStatus = "Malicious"
	VirusScanStatusFailed     VirusScanStatus = "Failed"
)

func (s OcrStatus) Valid() bool {
	switch s {
	case OcrStatusPending, OcrStatusProcessing, OcrStatusCompleted, OcrStatusFailed:
		return true
	}
	return false
}

func (s OcrStatus) String() string { return string(s) }

func (s OcrStatus) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid ocr status %q", string(s))
	}
	return []byte(s), nil
}

func (s *OcrStatus) UnmarshalText(text []byte) error {
	parsed := OcrStatus(text)
	if !parsed.Valid() {
		return fmt.Errorf("invalid ocr status %q", string(text))
	}
	*s = parsed
	return nil
}

func (s OcrStatus) Value() (driver.Value, error) {
	return string(s), nil
}

func (s *OcrStatus) Scan(src interface{}) error {
	return scanStatus(src, s.UnmarshalText)
}

func (s SummaryStatus) Valid() bool {
	switch s {
	case SummaryStatusPending, SummaryStatusProcessing, SummaryStatusCompleted, SummaryStatusFailed:
		return true
	}
	return false
}

func (s SummaryStatus) String() string { return string(s) }

func (s SummaryStatus) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid summary status %q", string(s))
	}
	return []byte(s), nil
}

func (s *SummaryStatus) UnmarshalText(text []byte) error {
	parsed := SummaryStatus(text)
	if !parsed.Valid() {
		return fmt.Errorf("invalid summary status %q", string(text))
	}
	*s = parsed
	return nil
}

func (s SummaryStatus) Value() (driver.Value, error) {
	return string(s), nil
}

func (s *SummaryStatus) Scan(src interface{}) error {
	return scanStatus(src, s.UnmarshalText)
}

func (s VirusScanStatus) Valid() bool {
	switch s {
	case VirusScanStatusNotScanned, VirusScanStatusScanning, VirusScanStatusClean, VirusScanStatusMalicious, VirusScanStatusFailed:
		return true
	}
	return false
}

// Terminal reports whether the scan reached a verdict (or gave up). Only an explicit new
// scan request moves a document out of a terminal state.
func (s VirusScanStatus) Terminal() bool {
	return s == VirusScanStatusClean || s == VirusScanStatusMalicious || s == VirusScanStatusFailed
}

func (s VirusScanStatus) String() string { return string(s) }

func (s VirusScanStatus) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid virus scan status %q", string(s))
	}
	return []byte(s), nil
}

func (s *VirusScanStatus) UnmarshalText(text []byte) error {
	parsed := VirusScanStatus(text)
	if !parsed.Valid() {
		return fmt.Errorf("invalid virus scan status %q", string(text))
	}
	*s = parsed
	return nil
}

func (s VirusScanStatus) Value() (driver.Value, error) {
	return string(s), nil
}

func (s *VirusScanStatus) Scan(src interface{}) error {
	return scanStatus(src, s.UnmarshalText)
}

func scanStatus(src interface{}, unmarshal func([]byte) error) error {
	switch v := src.(type) {
	case string:
		return unmarshal([]byte(v))
	case []byte:
		return unmarshal(v)
	default:
		return fmt.Errorf("cannot scan %T into status", src)
	}
}
