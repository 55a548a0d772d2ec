package ocr

import (
	"context"
	"fmt"
	"path/filepath"

	"gopkg.in/gographics/imagick.v2/imagick"
)

// ImagickRasterizer renders pages in-process with ImageMagick (which delegates PDFs to
// ghostscript), for hosts where shelling out to gs is not wanted.
type ImagickRasterizer struct {
	Dpi int
}

func (r *ImagickRasterizer) Rasterize(ctx context.Context, pdfPath string, outDir string) ([]string, error) {
	dpi := r.Dpi
	if dpi <= 0 {
		dpi = DefaultDpi
	}

	imagick.Initialize()
	defer imagick.Terminate()

	mw := imagick.NewMagickWand()
	defer mw.Destroy()

	// resolution must be set before reading, otherwise pages are rendered at 72dpi
	if err := mw.SetResolution(float64(dpi), float64(dpi)); err != nil {
		return nil, err
	}
	if err := mw.ReadImage(pdfPath); err != nil {
		return nil, fmt.Errorf("imagick could not read %s: %w", pdfPath, err)
	}

	pages := []string{}
	for i := 0; i < int(mw.GetNumberImages()); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		mw.SetIteratorIndex(i)

		page := mw.GetImage()
		pagePath := filepath.Join(outDir, fmt.Sprintf(PagePattern, i+1))
		err := writePage(page, pagePath)
		page.Destroy()
		if err != nil {
			return nil, err
		}
		pages = append(pages, pagePath)
	}
	return pages, nil
}

func writePage(page *imagick.MagickWand, pagePath string) error {
	if err := page.SetImageAlphaChannel(imagick.ALPHA_CHANNEL_REMOVE); err != nil {
		return err
	}

	pw := imagick.NewPixelWand()
	defer pw.Destroy()
	pw.SetColor("rgb(255,255,255)")
	if err := page.SetImageBackgroundColor(pw); err != nil {
		return err
	}
	if err := page.SetImageFormat("png"); err != nil {
		return err
	}
	return page.WriteImage(pagePath)
}
