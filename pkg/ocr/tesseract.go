package ocr

import (
	"context"
	"strconv"
)

type TesseractRecognizer struct {
	Runner     ProcessRunner
	Executable string
	Language   string
	// PageSegmentationMode is passed as --psm when set.
	PageSegmentationMode *int
}

func (t *TesseractRecognizer) Recognize(ctx context.Context, imagePath string) (string, error) {
	result, err := t.Runner.Run(ctx, t.executable(), t.args(imagePath)...)
	if err != nil {
		return "", err
	}
	return result.Stdout, nil
}

func (t *TesseractRecognizer) executable() string {
	if t.Executable == "" {
		return "tesseract"
	}
	return t.Executable
}

func (t *TesseractRecognizer) args(imagePath string) []string {
	language := t.Language
	if language == "" {
		language = "eng"
	}
	args := []string{imagePath, "stdout", "-l", language}
	if t.PageSegmentationMode != nil {
		args = append(args, "--psm", strconv.Itoa(*t.PageSegmentationMode))
	}
	return args
}
