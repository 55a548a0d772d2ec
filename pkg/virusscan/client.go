package virusscan

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL = "https://www.virustotal.com/api/v3/"
	// LargeFileThreshold is the largest file VirusTotal accepts on the direct upload endpoint.
	LargeFileThreshold int64 = 32 * 1024 * 1024
)

type Config struct {
	BaseURL           string
	APIKey            string
	Timeout           time.Duration
	RequestsPerMinute int
}

type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return e.Message
}

type Analysis struct {
	Status     string
	Malicious  int
	Suspicious int
}

func (a Analysis) Completed() bool {
	return strings.EqualFold(a.Status, "completed")
}

func (a Analysis) IsMalicious() bool {
	return a.Malicious > 0 || a.Suspicious > 0
}

// Client talks to the VirusTotal v3 API. Requests are throttled to the configured quota.
type Client struct {
	config     Config
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *logrus.Entry
}

func NewClient(logger *logrus.Entry, config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if !strings.HasSuffix(config.BaseURL, "/") {
		config.BaseURL += "/"
	}
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if config.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(config.RequestsPerMinute)), 1)
	}

	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		limiter:    limiter,
		logger:     logger,
	}
}

// Submit uploads content and returns the analysis id. Files above LargeFileThreshold go through
// a one-off upload url.
func (c *Client) Submit(ctx context.Context, fileName string, contentType string, content io.Reader, size int64) (string, error) {
	apiKey, err := c.apiKey()
	if err != nil {
		return "", err
	}

	uploadURL := c.config.BaseURL + "files"
	if size > LargeFileThreshold {
		if uploadURL, err = c.largeUploadURL(ctx, apiKey); err != nil {
			return "", err
		}
	}

	if fileName == "" {
		fileName = "file"
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	body, formContentType := multipartBody(fileName, contentType, content)
	defer body.Close()

	var payload struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	c.logger.Debugf("Uploading %s (%d bytes) to VirusTotal", fileName, size)
	if err := c.do(ctx, apiKey, http.MethodPost, uploadURL, body, formContentType, "VirusTotal Upload", &payload); err != nil {
		return "", err
	}
	if payload.Data.ID == "" {
		return "", &Error{Message: "VirusTotal Upload Antwort ohne Analysis-ID."}
	}
	return payload.Data.ID, nil
}

func (c *Client) CheckAnalysis(ctx context.Context, analysisID string) (Analysis, error) {
	apiKey, err := c.apiKey()
	if err != nil {
		return Analysis{}, err
	}

	var payload struct {
		Data *struct {
			Attributes *struct {
				Status string `json:"status"`
				Stats  struct {
					Malicious  int `json:"malicious"`
					Suspicious int `json:"suspicious"`
				} `json:"stats"`
			} `json:"attributes"`
		} `json:"data"`
	}
	if err := c.do(ctx, apiKey, http.MethodGet, c.config.BaseURL+"analyses/"+analysisID, nil, "", "VirusTotal Analyse", &payload); err != nil {
		return Analysis{}, err
	}
	if payload.Data == nil {
		return Analysis{}, &Error{Message: "VirusTotal Analyse Antwort ohne data."}
	}
	if payload.Data.Attributes == nil {
		return Analysis{}, &Error{Message: "VirusTotal Analyse Antwort ohne attributes."}
	}

	attributes := payload.Data.Attributes
	analysis := Analysis{
		Status:     attributes.Status,
		Malicious:  attributes.Stats.Malicious,
		Suspicious: attributes.Stats.Suspicious,
	}
	if analysis.Status == "" {
		analysis.Status = "unknown"
	}
	return analysis, nil
}

func (c *Client) largeUploadURL(ctx context.Context, apiKey string) (string, error) {
	var payload struct {
		Data string `json:"data"`
	}
	if err := c.do(ctx, apiKey, http.MethodGet, c.config.BaseURL+"files/upload_url", nil, "", "VirusTotal upload_url", &payload); err != nil {
		return "", err
	}
	if strings.TrimSpace(payload.Data) == "" {
		return "", &Error{Message: "VirusTotal upload_url Antwort ohne URL."}
	}
	return payload.Data, nil
}

func (c *Client) do(ctx context.Context, apiKey string, method string, url string, body io.Reader, contentType string, action string, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return err
	}
	req.Header.Set("x-apikey", apiKey)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%s: %w", action, err)
	}
	defer resp.Body.Close()

	respBody, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: %w", action, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &Error{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("%s fehlgeschlagen (%d). %s", action, resp.StatusCode, trimPayload(string(respBody))),
		}
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return &Error{StatusCode: resp.StatusCode, Message: fmt.Sprintf("%s Antwort nicht lesbar. %s", action, trimPayload(string(respBody)))}
	}
	return nil
}

func (c *Client) apiKey() (string, error) {
	apiKey := strings.TrimSpace(c.config.APIKey)
	if apiKey == "" {
		return "", &Error{Message: "VT_API_KEY fehlt."}
	}
	return apiKey, nil
}

// multipartBody streams content as the "file" form field without buffering it in memory.
func multipartBody(fileName string, contentType string, content io.Reader) (io.ReadCloser, string) {
	pr, pw := io.Pipe()
	form := multipart.NewWriter(pw)

	go func() {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, escapeQuotes(fileName)))
		header.Set("Content-Type", contentType)

		part, err := form.CreatePart(header)
		if err == nil {
			_, err = io.Copy(part, content)
		}
		if err == nil {
			err = form.Close()
		}
		pw.CloseWithError(err)
	}()

	return pr, form.FormDataContentType()
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}

func trimPayload(payload string) string {
	payload = strings.TrimSpace(payload)
	if len(payload) <= 256 {
		return payload
	}
	return payload[:256] + "..."
}
