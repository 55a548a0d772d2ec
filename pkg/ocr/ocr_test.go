package ocr

import (
	"context"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

type runCall struct {
	command string
	args    []string
}

// fakeRunner renders one png per entry in pages when invoked as ghostscript and answers tesseract
// calls with the text registered for the image's base name.
type fakeRunner struct {
	mu       sync.Mutex
	calls    []runCall
	pages    []string
	texts    map[string]string
	failWith map[string]error
}

func (f *fakeRunner) Run(ctx context.Context, command string, args ...string) (ProcessResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, runCall{command: command, args: args})

	if err := f.failWith[command]; err != nil {
		return ProcessResult{ExitCode: 1}, err
	}

	switch command {
	case "gs":
		for _, arg := range args {
			if strings.HasPrefix(arg, "-sOutputFile=") {
				dir := filepath.Dir(strings.TrimPrefix(arg, "-sOutputFile="))
				for _, page := range f.pages {
					if err := ioutil.WriteFile(filepath.Join(dir, page), []byte("png"), 0600); err != nil {
						return ProcessResult{}, err
					}
				}
			}
		}
		return ProcessResult{}, nil
	case "tesseract":
		return ProcessResult{Stdout: f.texts[filepath.Base(args[0])]}, nil
	}
	return ProcessResult{}, fmt.Errorf("unexpected command %s", command)
}

func (f *fakeRunner) commands(command string) []runCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []runCall{}
	for _, c := range f.calls {
		if c.command == command {
			out = append(out, c)
		}
	}
	return out
}

func newTestPipeline(t *testing.T, runner *fakeRunner) (*PipelineEngine, string, string) {
	t.Helper()
	tmp, err := ioutil.TempDir("", "ocr-test")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(tmp) })

	pdfPath := filepath.Join(tmp, "input.pdf")
	require.NoError(t, ioutil.WriteFile(pdfPath, []byte("%PDF-1.4"), 0600))

	workParent := filepath.Join(tmp, "work")
	require.NoError(t, os.MkdirAll(workParent, 0700))

	engine := NewPipelineEngine(
		logrus.WithField("test", t.Name()),
		&GhostscriptRasterizer{Runner: runner, Executable: "gs", Dpi: 150},
		&TesseractRecognizer{Runner: runner, Executable: "tesseract", Language: "deu"},
	)
	engine.TempDir = workParent
	engine.pageCount = func(string) (int, error) { return len(runner.pages), nil }
	return engine, pdfPath, workParent
}

func TestPipelineEngine_RecognizesPagesInOrder(t *testing.T) {
	//setup
	runner := &fakeRunner{
		pages: []string{"page-002.png", "page-001.png", "page-003.png"},
		texts: map[string]string{
			"page-001.png": "  first page \n",
			"page-002.png": "   ",
			"page-003.png": "third page",
		},
	}
	engine, pdfPath, workParent := newTestPipeline(t, runner)

	//test
	text, err := engine.Recognize(context.Background(), pdfPath)

	//assert
	require.NoError(t, err)
	require.Equal(t, "first page\nthird page", text)

	tess := runner.commands("tesseract")
	require.Len(t, tess, 3)
	require.Equal(t, "page-001.png", filepath.Base(tess[0].args[0]))
	require.Equal(t, []string{"stdout", "-l", "deu"}, tess[0].args[1:])
	require.Equal(t, "page-003.png", filepath.Base(tess[2].args[0]))

	gs := runner.commands("gs")
	require.Len(t, gs, 1)
	require.Contains(t, gs[0].args, "-sDEVICE=pnggray")
	require.Contains(t, gs[0].args, "-r150")
	require.Equal(t, pdfPath, gs[0].args[len(gs[0].args)-1])

	leftovers, err := ioutil.ReadDir(workParent)
	require.NoError(t, err)
	require.Empty(t, leftovers, "work directory must be removed")
}

func TestSortPages_UsesPageNumbers(t *testing.T) {
	//setup
	pages := []string{"/w/page-1000.png", "/w/page-101.png", "/w/cover.png", "/w/page-002.png", "/w/page-999.png"}

	//test
	SortPages(pages)

	//assert
	require.Equal(t, []string{"/w/page-002.png", "/w/page-101.png", "/w/page-999.png", "/w/page-1000.png", "/w/cover.png"}, pages)
}

func TestPipelineEngine_ToolFailureFailsDocumentAndCleansUp(t *testing.T) {
	//setup
	runner := &fakeRunner{
		pages:    []string{"page-001.png", "page-002.png"},
		failWith: map[string]error{"tesseract": &ProcessRunError{Command: "tesseract", ExitCode: 1, Stderr: "bad image"}},
	}
	engine, pdfPath, workParent := newTestPipeline(t, runner)

	//test
	text, err := engine.Recognize(context.Background(), pdfPath)

	//assert
	require.Error(t, err)
	require.Empty(t, text)
	var runErr *ProcessRunError
	require.ErrorAs(t, err, &runErr)
	require.Equal(t, 1, runErr.ExitCode)
	require.Len(t, runner.commands("tesseract"), 1, "no partial page recovery")

	leftovers, err := ioutil.ReadDir(workParent)
	require.NoError(t, err)
	require.Empty(t, leftovers)
}

func TestPipelineEngine_NoPages(t *testing.T) {
	//setup
	runner := &fakeRunner{}
	engine, pdfPath, _ := newTestPipeline(t, runner)

	//test
	_, err := engine.Recognize(context.Background(), pdfPath)

	//assert
	require.ErrorIs(t, err, ErrNoPages)
	require.Empty(t, runner.commands("tesseract"))
}

func TestPipelineEngine_MissingFile(t *testing.T) {
	//setup
	runner := &fakeRunner{}
	engine, pdfPath, _ := newTestPipeline(t, runner)

	//test
	_, err := engine.Recognize(context.Background(), pdfPath+".missing")

	//assert
	require.Error(t, err)
	require.Empty(t, runner.calls)
}

func TestPipelineEngine_UnreadablePdf(t *testing.T) {
	//setup
	runner := &fakeRunner{pages: []string{"page-001.png"}}
	engine, pdfPath, _ := newTestPipeline(t, runner)
	engine.pageCount = func(string) (int, error) { return 0, fmt.Errorf("no xref") }

	//test
	_, err := engine.Recognize(context.Background(), pdfPath)

	//assert
	require.Error(t, err)
	require.Empty(t, runner.calls)
}

func TestTesseractRecognizer_PageSegmentationMode(t *testing.T) {
	//setup
	psm := 6
	recognizer := &TesseractRecognizer{Language: "eng", PageSegmentationMode: &psm}

	//test
	args := recognizer.args("/tmp/page-001.png")

	//assert
	require.Equal(t, []string{"/tmp/page-001.png", "stdout", "-l", "eng", "--psm", "6"}, args)
	require.Equal(t, "tesseract", recognizer.executable())
}

func TestExecRunner_NonZeroExit(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("no shell available")
	}

	//test
	_, err := ExecRunner{}.Run(context.Background(), "/bin/sh", "-c", "echo oops >&2; exit 3")

	//assert
	var runErr *ProcessRunError
	require.ErrorAs(t, err, &runErr)
	require.Equal(t, 3, runErr.ExitCode)
	require.Contains(t, runErr.Error(), "oops")
}

func TestExecRunner_CapturesStdout(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("no shell available")
	}

	//test
	result, err := ExecRunner{}.Run(context.Background(), "/bin/sh", "-c", "echo hello")

	//assert
	require.NoError(t, err)
	require.Equal(t, "hello\n", result.Stdout)
}

func TestTikaEngine_SendsLanguageHeader(t *testing.T) {
	//setup
	var gotLanguage, gotAccept string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotLanguage = strings.Join(r.Header["X-Tika-OCRLanguage"], ",")
		gotAccept = r.Header.Get("Accept")
		w.Write([]byte("\n  extracted text \n"))
	}))
	defer server.Close()

	tmp, err := ioutil.TempDir("", "tika-test")
	require.NoError(t, err)
	defer os.RemoveAll(tmp)
	pdfPath := filepath.Join(tmp, "doc.pdf")
	require.NoError(t, ioutil.WriteFile(pdfPath, []byte("%PDF-1.4"), 0600))

	engine := NewTikaEngine(logrus.WithField("test", t.Name()), server.URL, "deu", 0)

	//test
	text, err := engine.Recognize(context.Background(), pdfPath)

	//assert
	require.NoError(t, err)
	require.Equal(t, "extracted text", text)
	require.Equal(t, "deu", gotLanguage)
	require.Equal(t, "text/plain", gotAccept)
}
