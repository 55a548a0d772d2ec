package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/analogj/lodestone-pipeline/pkg/app"
	"github.com/analogj/lodestone-pipeline/pkg/cache"
	"github.com/analogj/lodestone-pipeline/pkg/config"
	"github.com/analogj/lodestone-pipeline/pkg/documents"
	"github.com/analogj/lodestone-pipeline/pkg/model"
	"github.com/analogj/lodestone-pipeline/pkg/processor/report"
	"github.com/analogj/lodestone-pipeline/pkg/version"
	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
)

var commonFlags = []cli.Flag{
	&cli.StringFlag{
		Name:  "config",
		Usage: "Path to a yaml, json or toml config file",
	},
	&cli.BoolFlag{
		Name:  "debug",
		Usage: "Enable debug logging",
	},
}

func main() {
	cliApp := &cli.App{
		Name:     "lodestone-processor",
		Usage:    "Administrative commands for the lodestone document pipeline",
		Version:  version.VERSION,
		Compiled: time.Now(),
		Authors: []cli.Author{
			cli.Author{
				Name:  "Jason Kulatunga",
				Email: "jason@thesparktree.com",
			},
		},
		Before: func(c *cli.Context) error {
			app.PrintBanner(c.App.Writer)
			return nil
		},

		Commands: []cli.Command{
			{
				Name:      "upload",
				Usage:     "Upload a .pdf or .txt file and queue it for OCR",
				ArgsUsage: "<file>",
				Action:    upload,
				Flags: append([]cli.Flag{
					&cli.StringFlag{
						Name:  "name",
						Usage: "Display name, defaults to the file name without extension",
					},
					&cli.StringFlag{
						Name:  "content-type",
						Usage: "Content type, derived from the extension when empty",
					},
				}, commonFlags...),
			},
			{
				Name:      "delete",
				Usage:     "Delete a document with its file and search entry",
				ArgsUsage: "<document id>",
				Action:    deleteDocument,
				Flags:     commonFlags,
			},
			{
				Name:      "reprocess",
				Usage:     "Reset OCR and summary and queue the document again",
				ArgsUsage: "<document id>",
				Action:    reprocess,
				Flags:     commonFlags,
			},
			{
				Name:   "list",
				Usage:  "List all documents with their processing status",
				Action: list,
				Flags:  commonFlags,
			},
			{
				Name:      "search",
				Usage:     "Search documents by name, file name and OCR text",
				ArgsUsage: "<query>",
				Action:    searchDocuments,
				Flags: append([]cli.Flag{
					&cli.IntFlag{
						Name:  "max",
						Usage: "Maximum number of results",
						Value: 20,
					},
				}, commonFlags...),
			},
			{
				Name:      "scan",
				Usage:     "Submit a document to VirusTotal and wait for the verdict",
				ArgsUsage: "<document id>",
				Action:    scan,
				Flags:     commonFlags,
			},
			{
				Name:      "scan-status",
				Usage:     "Poll the stored VirusTotal analysis of a document",
				ArgsUsage: "<document id>",
				Action:    scanStatus,
				Flags:     commonFlags,
			},
			{
				Name:   "results",
				Usage:  "Consume ocr.result reports into the redis result cache",
				Action: results,
				Flags:  commonFlags,
			},
			{
				Name:      "result",
				Usage:     "Print the cached ocr.result report of a document",
				ArgsUsage: "<document id>",
				Action:    result,
				Flags:     commonFlags,
			},
		},
	}

	err := cliApp.Run(os.Args)
	if err != nil {
		log.Fatal(color.HiRedString("ERROR: %v", err))
	}
}

type environment struct {
	cfg     *config.Configuration
	logger  *logrus.Entry
	ctx     context.Context
	cleanup []func()
}

func newEnvironment(c *cli.Context) (*environment, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	ctx, stop := app.SignalContext()
	return &environment{
		cfg:     cfg,
		logger:  app.NewLogger("processor", c.Bool("debug"), cfg.Log.Format),
		ctx:     ctx,
		cleanup: []func(){stop},
	}, nil
}

func (env *environment) close() {
	for i := len(env.cleanup) - 1; i >= 0; i-- {
		env.cleanup[i]()
	}
}

// documentService wires the upload/delete service with every backend it touches.
func (env *environment) documentService() (*documents.Service, error) {
	documentStore, err := app.NewDocumentStore(env.ctx, env.logger, env.cfg)
	if err != nil {
		return nil, err
	}
	env.cleanup = append(env.cleanup, func() { app.Close(env.logger, documentStore) })

	blobs, err := app.NewBlobStore(env.ctx, env.logger, env.cfg)
	if err != nil {
		return nil, err
	}
	env.cleanup = append(env.cleanup, func() { app.Close(env.logger, blobs) })

	index, err := app.NewSearchIndex(env.ctx, env.logger, env.cfg)
	if err != nil {
		return nil, err
	}

	broker := app.NewBroker(env.logger, env.cfg)
	publisher := app.NewPublisher(env.logger, env.cfg, broker)
	env.cleanup = append(env.cleanup, func() { app.Close(env.logger, publisher, broker) })

	filter := model.NewUploadFilter(env.cfg.Upload.Include, env.cfg.Upload.Exclude)
	return documents.NewService(env.logger, documentStore, blobs, index, publisher, filter, env.cfg.Storage.Bucket), nil
}

func requireArg(c *cli.Context, name string) (string, error) {
	arg := c.Args().First()
	if arg == "" {
		return "", fmt.Errorf("missing %s argument", name)
	}
	return arg, nil
}

func upload(c *cli.Context) error {
	path, err := requireArg(c, "file")
	if err != nil {
		return err
	}
	env, err := newEnvironment(c)
	if err != nil {
		return err
	}
	defer env.close()

	service, err := env.documentService()
	if err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	contentType := c.String("content-type")
	if contentType == "" {
		contentType = mime.TypeByExtension(filepath.Ext(path))
	}
	doc, err := service.Upload(env.ctx, documents.UploadRequest{
		Name:        c.String("name"),
		FileName:    filepath.Base(path),
		ContentType: contentType,
		Content:     f,
	})
	if err != nil {
		return err
	}
	color.Green("Uploaded %s (%s)", doc.Name, doc.ID)
	return nil
}

func deleteDocument(c *cli.Context) error {
	id, err := requireArg(c, "document id")
	if err != nil {
		return err
	}
	env, err := newEnvironment(c)
	if err != nil {
		return err
	}
	defer env.close()

	service, err := env.documentService()
	if err != nil {
		return err
	}
	if err := service.Delete(env.ctx, id); err != nil {
		return err
	}
	color.Green("Deleted %s", id)
	return nil
}

func reprocess(c *cli.Context) error {
	id, err := requireArg(c, "document id")
	if err != nil {
		return err
	}
	env, err := newEnvironment(c)
	if err != nil {
		return err
	}
	defer env.close()

	service, err := env.documentService()
	if err != nil {
		return err
	}
	if _, err := service.Reprocess(env.ctx, id); err != nil {
		return err
	}
	color.Green("Queued %s for reprocessing", id)
	return nil
}

func list(c *cli.Context) error {
	env, err := newEnvironment(c)
	if err != nil {
		return err
	}
	defer env.close()

	service, err := env.documentService()
	if err != nil {
		return err
	}
	docs, err := service.List(env.ctx)
	if err != nil {
		return err
	}
	printDocuments(c.App.Writer, docs)
	return nil
}

func searchDocuments(c *cli.Context) error {
	query, err := requireArg(c, "query")
	if err != nil {
		return err
	}
	env, err := newEnvironment(c)
	if err != nil {
		return err
	}
	defer env.close()

	service, err := env.documentService()
	if err != nil {
		return err
	}
	docs, err := service.Search(env.ctx, query, c.Int("max"))
	if err != nil {
		return err
	}
	printDocuments(c.App.Writer, docs)
	return nil
}

func printDocuments(w io.Writer, docs []*model.Document) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tUPLOADED\tOCR\tSUMMARY\tVIRUS SCAN")
	for _, doc := range docs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", doc.ID, doc.Name, doc.UploadTime.Format(time.RFC3339), doc.OcrStatus, doc.SummaryStatus, doc.VirusScanStatus)
	}
	tw.Flush()
}

func scan(c *cli.Context) error {
	return runScan(c, true)
}

func scanStatus(c *cli.Context) error {
	return runScan(c, false)
}

func runScan(c *cli.Context, submit bool) error {
	id, err := requireArg(c, "document id")
	if err != nil {
		return err
	}
	env, err := newEnvironment(c)
	if err != nil {
		return err
	}
	defer env.close()

	documentStore, err := app.NewDocumentStore(env.ctx, env.logger, env.cfg)
	if err != nil {
		return err
	}
	defer documentStore.Close()
	blobs, err := app.NewBlobStore(env.ctx, env.logger, env.cfg)
	if err != nil {
		return err
	}
	defer app.Close(env.logger, blobs)

	service := app.NewVirusScanService(env.logger, env.cfg, documentStore, blobs)
	var doc *model.Document
	if submit {
		doc, err = service.Submit(env.ctx, id)
	} else {
		doc, err = service.Poll(env.ctx, id)
	}
	if doc != nil {
		printJSON(c.App.Writer, map[string]interface{}{
			"id":                  doc.ID,
			"virusScanStatus":     doc.VirusScanStatus,
			"virusScanAnalysisId": doc.VirusScanAnalysisID,
			"virusScanError":      doc.VirusScanError,
		})
	}
	return err
}

func results(c *cli.Context) error {
	env, err := newEnvironment(c)
	if err != nil {
		return err
	}
	defer env.close()

	resultCache, err := app.NewResultCache(env.ctx, env.logger, env.cfg)
	if err != nil {
		return err
	}
	defer resultCache.Close()

	broker := app.NewBroker(env.logger, env.cfg)
	defer broker.Close()

	resultProcessor := report.NewResultProcessor(env.logger, resultCache)
	return app.RunWorker(env.ctx, env.logger, broker, env.cfg.Amqp.Queues.Result, resultProcessor.Handle, env.cfg.Metrics.Addr)
}

func result(c *cli.Context) error {
	id, err := requireArg(c, "document id")
	if err != nil {
		return err
	}
	env, err := newEnvironment(c)
	if err != nil {
		return err
	}
	defer env.close()

	resultCache, err := app.NewResultCache(env.ctx, env.logger, env.cfg)
	if err != nil {
		return err
	}
	defer resultCache.Close()

	cached, err := resultCache.Get(env.ctx, id)
	if errors.Is(err, cache.ErrNotCached) {
		color.Yellow("No ocr.result cached for %s", id)
		return nil
	}
	if err != nil {
		return err
	}
	printJSON(c.App.Writer, cached)
	return nil
}

func printJSON(w io.Writer, v interface{}) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintln(w, err)
		return
	}
	fmt.Fprintln(w, string(out))
}
