package genai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"
)

const (
	DefaultModel           = "gemini-2.0-flash-lite"
	DefaultPrompt          = "Fasse den Dokumententext kurz und sachlich auf deutsch zusammen. Verwende kein Markdown, sondern ausschließlich unformatierten Text."
	DefaultTemperature     = 0.2
	DefaultMaxOutputTokens = 1024
	DefaultMaxInputChars   = 4000

	TruncationMarker = "\n\n[... dokumenttext wurde gekürzt ...]\n\n"
)

// Summarizer condenses document text. Failures are reported as *Error so callers can tell
// retryable conditions from permanent ones.
type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
}

type Error struct {
	Message    string
	Transient  bool
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func permanentError(format string, args ...interface{}) *Error {
	return &Error{Message: fmt.Sprintf(format, args...)}
}

func transientError(err error, statusCode int, format string, args ...interface{}) *Error {
	return &Error{Message: fmt.Sprintf(format, args...), Transient: true, StatusCode: statusCode, Err: err}
}

// IsTransient reports whether err is a summarization error worth retrying.
func IsTransient(err error) bool {
	var genErr *Error
	return errors.As(err, &genErr) && genErr.Transient
}

func IsRateLimited(err error) bool {
	var genErr *Error
	return errors.As(err, &genErr) && genErr.StatusCode == http.StatusTooManyRequests
}

// PrepareInput caps text at limit characters (marker included) by keeping its head and tail and
// dropping the middle. A limit of zero or less disables the cap.
func PrepareInput(text string, limit int) string {
	if strings.TrimSpace(text) == "" || limit <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}

	budget := limit - utf8.RuneCountInString(TruncationMarker)
	if budget < 2 {
		return string(runes[:limit])
	}
	head := (budget + 1) / 2
	tail := budget / 2
	return string(runes[:head]) + TruncationMarker + string(runes[len(runes)-tail:])
}

// Limit trims message and shortens it to max characters followed by an ellipsis.
func Limit(message string, max int) string {
	message = strings.TrimSpace(message)
	if message == "" {
		return ""
	}
	runes := []rune(message)
	if len(runes) <= max {
		return message
	}
	return string(runes[:max]) + "…"
}

func trimPayload(payload string) string {
	payload = strings.TrimSpace(payload)
	if len(payload) <= 256 {
		return payload
	}
	cut := 256
	for cut > 0 && !utf8.RuneStart(payload[cut]) {
		cut--
	}
	return payload[:cut] + "..."
}
