package ocr

import (
	"context"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Engine turns a PDF on the local filesystem into plain text.
type Engine interface {
	Recognize(ctx context.Context, pdfPath string) (string, error)
}

// Rasterizer renders every page of a PDF into outDir as page-001.png, page-002.png, ...
type Rasterizer interface {
	Rasterize(ctx context.Context, pdfPath string, outDir string) ([]string, error)
}

// Recognizer extracts the text of a single page image.
type Recognizer interface {
	Recognize(ctx context.Context, imagePath string) (string, error)
}

const (
	PagePrefix  = "page-"
	PagePattern = PagePrefix + "%03d.png"
)

// SortPages orders page images by their page number, so page-1000.png follows page-999.png.
// Names without a number keep their lexical order after the numbered ones.
func SortPages(pages []string) {
	sort.SliceStable(pages, func(i, j int) bool {
		a, aok := pageNumber(pages[i])
		b, bok := pageNumber(pages[j])
		switch {
		case aok && bok && a != b:
			return a < b
		case aok != bok:
			return aok
		}
		return pages[i] < pages[j]
	})
}

func pageNumber(path string) (int, bool) {
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	n, err := strconv.Atoi(strings.TrimPrefix(name, PagePrefix))
	return n, err == nil
}
