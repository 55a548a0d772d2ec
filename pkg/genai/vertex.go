package genai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	vertex "cloud.google.com/go/vertexai/genai"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const DefaultVertexLocation = "europe-west1"

type VertexConfig struct {
	Project         string
	Location        string
	Model           string
	Prompt          string
	Temperature     float64
	MaxOutputTokens int
}

// VertexClient summarizes through Vertex AI, authenticating with application default credentials.
type VertexClient struct {
	client *vertex.Client
	model  *vertex.GenerativeModel
	logger *logrus.Entry
}

var _ Summarizer = (*VertexClient)(nil)

func NewVertexClient(ctx context.Context, logger *logrus.Entry, config VertexConfig) (*VertexClient, error) {
	if config.Project == "" {
		return nil, fmt.Errorf("vertex ai project must be set")
	}
	if config.Location == "" {
		config.Location = DefaultVertexLocation
	}
	if strings.TrimSpace(config.Model) == "" {
		config.Model = DefaultModel
	}
	if strings.TrimSpace(config.Prompt) == "" {
		config.Prompt = DefaultPrompt
	}
	if config.MaxOutputTokens <= 0 {
		config.MaxOutputTokens = DefaultMaxOutputTokens
	}

	client, err := vertex.NewClient(ctx, config.Project, config.Location)
	if err != nil {
		return nil, fmt.Errorf("vertex client: %w", err)
	}

	model := client.GenerativeModel(config.Model)
	model.SystemInstruction = &vertex.Content{
		Parts: []vertex.Part{vertex.Text(config.Prompt)},
	}
	model.SetTemperature(float32(config.Temperature))
	model.SetMaxOutputTokens(int32(config.MaxOutputTokens))

	return &VertexClient{client: client, model: model, logger: logger}, nil
}

func (v *VertexClient) Summarize(ctx context.Context, text string) (string, error) {
	v.logger.Infof("Sending %d characters to Vertex AI", len([]rune(text)))

	resp, err := v.model.GenerateContent(ctx, vertex.Text(text))
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", classifyVertexError(err)
	}

	summary := vertexText(resp)
	if summary == "" {
		return "", permanentError("Vertex-Antwort enthielt keinen Text.")
	}
	v.logger.Infof("GenAI summary received (%d characters)", len([]rune(summary)))
	return summary, nil
}

func (v *VertexClient) Close() error {
	return v.client.Close()
}

func classifyVertexError(err error) *Error {
	var blocked *vertex.BlockedError
	if errors.As(err, &blocked) {
		return &Error{Message: "Vertex blockiert: " + blocked.Error(), Err: err}
	}

	st, ok := status.FromError(err)
	if !ok {
		return &Error{Message: "Vertex Fehler: " + err.Error(), StatusCode: http.StatusBadRequest, Err: err}
	}

	message := fmt.Sprintf("Vertex %s: %s", st.Code(), trimPayload(st.Message()))
	switch st.Code() {
	case codes.ResourceExhausted:
		return &Error{Message: message, Transient: true, StatusCode: http.StatusTooManyRequests, Err: err}
	case codes.Unavailable, codes.DeadlineExceeded, codes.Internal, codes.Aborted:
		return &Error{Message: message, Transient: true, StatusCode: http.StatusServiceUnavailable, Err: err}
	default:
		return &Error{Message: message, StatusCode: http.StatusBadRequest, Err: err}
	}
}

func vertexText(resp *vertex.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	for _, candidate := range resp.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		var b strings.Builder
		for _, part := range candidate.Content.Parts {
			if text, ok := part.(vertex.Text); ok {
				b.WriteString(string(text))
			}
		}
		if summary := strings.TrimSpace(b.String()); summary != "" {
			return summary
		}
	}
	return ""
}
