package ocr

import (
	"context"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/go-tika/tika"
	"github.com/sirupsen/logrus"
)

// TikaEngine delegates text extraction (including OCR of scanned pages) to an Apache Tika server.
type TikaEngine struct {
	endpoint string
	client   *http.Client
	logger   *logrus.Entry
}

var _ Engine = (*TikaEngine)(nil)

func NewTikaEngine(logger *logrus.Entry, endpoint string, ocrLanguage string, timeout time.Duration) *TikaEngine {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &TikaEngine{
		endpoint: endpoint,
		client: &http.Client{
			Timeout:   timeout,
			Transport: tikaRoundTripper{r: http.DefaultTransport, ocrLanguage: ocrLanguage},
		},
		logger: logger,
	}
}

func (t *TikaEngine) Recognize(ctx context.Context, pdfPath string) (string, error) {
	docFile, err := os.Open(pdfPath)
	if err != nil {
		return "", err
	}
	defer docFile.Close()

	client := tika.NewClient(t.client, t.endpoint)
	content, err := client.Parse(ctx, docFile)
	if err != nil {
		return "", err
	}
	//trim whitespace/newline characters
	content = strings.TrimSpace(content)
	t.logger.Debugf("tika extracted %d characters", len(content))
	return content, nil
}

type tikaRoundTripper struct {
	r           http.RoundTripper
	ocrLanguage string
}

// https://cwiki.apache.org/confluence/display/tika/TikaJAXRS#TikaJAXRS-MultipartSupport TIKA must have an Accept header to return JSON responses.
func (rt tikaRoundTripper) RoundTrip(r *http.Request) (*http.Response, error) {
	if r.URL.Path == "/tika" {
		r.Header.Add("Accept", "text/plain")

		if rt.ocrLanguage != "" {
			// Header#Add would canonicalize the key; Tika matches headers case sensitively
			r.Header["X-Tika-OCRLanguage"] = append(r.Header["X-Tika-OCRLanguage"], rt.ocrLanguage)
		}
	}
	return rt.r.RoundTrip(r)
}
