package search

import "context"

// Entry is the searchable projection of a document.
type Entry struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	OriginalFileName string `json:"originalFileName"`
	OcrText          string `json:"ocrText"`
}

type Hit struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

type Index interface {
	Index(ctx context.Context, entry Entry) error
	Delete(ctx context.Context, id string) error
	Search(ctx context.Context, query string, maxResults int) ([]Hit, error)
}
