package ocr

import (
	"context"
	"fmt"
	"path/filepath"
)

const DefaultDpi = 300

// GhostscriptRasterizer renders grayscale PNGs with the gs command line tool.
type GhostscriptRasterizer struct {
	Runner     ProcessRunner
	Executable string
	Dpi        int
}

func (g *GhostscriptRasterizer) Rasterize(ctx context.Context, pdfPath string, outDir string) ([]string, error) {
	executable := g.Executable
	if executable == "" {
		executable = "gs"
	}
	dpi := g.Dpi
	if dpi <= 0 {
		dpi = DefaultDpi
	}

	_, err := g.Runner.Run(ctx, executable,
		"-dNOPAUSE",
		"-dBATCH",
		"-sDEVICE=pnggray",
		fmt.Sprintf("-r%d", dpi),
		"-sOutputFile="+filepath.Join(outDir, PagePattern),
		pdfPath,
	)
	if err != nil {
		return nil, err
	}
	return pageFiles(outDir)
}

// pageFiles lists the rendered page images of outDir in page order.
func pageFiles(outDir string) ([]string, error) {
	pages, err := filepath.Glob(filepath.Join(outDir, PagePrefix+"*.png"))
	if err != nil {
		return nil, err
	}
	SortPages(pages)
	return pages, nil
}
