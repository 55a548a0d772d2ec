package genai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/ioutil"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const DefaultBaseURL = "https://generativelanguage.googleapis.com/"

type GeminiConfig struct {
	BaseURL         string
	APIKey          string
	Model           string
	Prompt          string
	Temperature     float64
	MaxOutputTokens int
	Timeout         time.Duration
}

// GeminiClient calls the Gemini generateContent REST endpoint.
type GeminiClient struct {
	config     GeminiConfig
	httpClient *http.Client
	logger     *logrus.Entry
}

var _ Summarizer = (*GeminiClient)(nil)

func NewGeminiClient(logger *logrus.Entry, config GeminiConfig) *GeminiClient {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if !strings.HasSuffix(config.BaseURL, "/") {
		config.BaseURL += "/"
	}
	if strings.TrimSpace(config.Model) == "" {
		config.Model = DefaultModel
	}
	if strings.TrimSpace(config.Prompt) == "" {
		config.Prompt = DefaultPrompt
	}
	if config.Temperature < 0 {
		config.Temperature = DefaultTemperature
	}
	if config.MaxOutputTokens <= 0 {
		config.MaxOutputTokens = DefaultMaxOutputTokens
	}
	if config.Timeout < 5*time.Second {
		config.Timeout = 30 * time.Second
	}

	return &GeminiClient{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		logger:     logger,
	}
}

type geminiPart struct {
	Text string `json:"text,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents         []geminiContent `json:"contents"`
	GenerationConfig struct {
		Temperature     float64 `json:"temperature"`
		MaxOutputTokens int     `json:"maxOutputTokens"`
	} `json:"generationConfig"`
}

type geminiSafetyRating struct {
	Category    string `json:"category"`
	Probability string `json:"probability"`
	Blocked     bool   `json:"blocked"`
}

type geminiResponse struct {
	Candidates []struct {
		Content       *geminiContent       `json:"content"`
		SafetyRatings []geminiSafetyRating `json:"safetyRatings"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

func (c *GeminiClient) Summarize(ctx context.Context, text string) (string, error) {
	apiKey := strings.TrimSpace(c.config.APIKey)
	if apiKey == "" {
		return "", permanentError("GenAI API-Key fehlt.")
	}

	var body geminiRequest
	body.Contents = []geminiContent{{
		Role:  "user",
		Parts: []geminiPart{{Text: c.config.Prompt + "\n\n" + text}},
	}}
	body.GenerationConfig.Temperature = c.config.Temperature
	body.GenerationConfig.MaxOutputTokens = c.config.MaxOutputTokens

	payload, err := json.Marshal(body)
	if err != nil {
		return "", err
	}

	endpoint := fmt.Sprintf("%sv1beta/models/%s:generateContent?key=%s", c.config.BaseURL, c.config.Model, url.QueryEscape(apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	c.logger.Infof("Sending %d characters to GenAI", len([]rune(text)))
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", c.transportError(ctx, err)
	}
	defer resp.Body.Close()

	respBody, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return "", c.transportError(ctx, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		genErr := &Error{
			Message:    fmt.Sprintf("Gemini API %d: %s", resp.StatusCode, trimPayload(string(respBody))),
			Transient:  resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests,
			StatusCode: resp.StatusCode,
		}
		return "", genErr
	}

	var parsed geminiResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", permanentError("Gemini-Antwort nicht lesbar: %s", trimPayload(string(respBody)))
	}

	summary := firstText(parsed)
	if summary == "" {
		if parsed.PromptFeedback != nil && strings.TrimSpace(parsed.PromptFeedback.BlockReason) != "" {
			return "", permanentError("Gemini blockiert: %s", parsed.PromptFeedback.BlockReason)
		}
		if categories := blockedCategories(parsed); len(categories) > 0 {
			return "", permanentError("Gemini blockiert wegen Sicherheitskategorien: %s", strings.Join(categories, ", "))
		}
		return "", permanentError("Gemini-Antwort enthielt keinen Text. Payload: %s", trimPayload(string(respBody)))
	}

	c.logger.Infof("GenAI summary received (%d characters)", len([]rune(summary)))
	return summary, nil
}

// transportError classifies failures below HTTP. Cancellation of the caller's context is passed
// through unchanged.
func (c *GeminiClient) transportError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return transientError(err, 0, "GenAI Request Timeout.")
	}
	return transientError(err, 0, "GenAI HTTP-Fehler.")
}

func firstText(parsed geminiResponse) string {
	for _, candidate := range parsed.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if text := strings.TrimSpace(part.Text); text != "" {
				return text
			}
		}
	}
	return ""
}

func blockedCategories(parsed geminiResponse) []string {
	seen := map[string]bool{}
	categories := []string{}
	for _, candidate := range parsed.Candidates {
		for _, rating := range candidate.SafetyRatings {
			if !rating.Blocked || strings.TrimSpace(rating.Category) == "" || seen[rating.Category] {
				continue
			}
			seen[rating.Category] = true
			categories = append(categories, rating.Category)
		}
	}
	return categories
}
