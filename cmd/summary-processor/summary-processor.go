package main

import (
	"log"
	"os"
	"time"

	"github.com/analogj/lodestone-pipeline/pkg/app"
	"github.com/analogj/lodestone-pipeline/pkg/config"
	"github.com/analogj/lodestone-pipeline/pkg/processor/summary"
	"github.com/analogj/lodestone-pipeline/pkg/version"
	"github.com/fatih/color"
	"github.com/urfave/cli"
)

func main() {
	cliApp := &cli.App{
		Name:     "lodestone-summary-processor",
		Usage:    "Summary worker for the lodestone document pipeline",
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
				Name:   "start",
				Usage:  "Start the Lodestone summary-processor",
				Action: start,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "config",
						Usage: "Path to a yaml, json or toml config file",
					},
					&cli.BoolFlag{
						Name:  "debug",
						Usage: "Enable debug logging",
					},
				},
			},
		},
	}

	err := cliApp.Run(os.Args)
	if err != nil {
		log.Fatal(color.HiRedString("ERROR: %v", err))
	}
}

func start(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	logger := app.NewLogger("summary-processor", c.Bool("debug"), cfg.Log.Format)

	ctx, stop := app.SignalContext()
	defer stop()

	documents, err := app.NewDocumentStore(ctx, logger, cfg)
	if err != nil {
		return err
	}
	defer documents.Close()

	summarizer, err := app.NewSummarizer(ctx, logger, cfg)
	if err != nil {
		return err
	}
	defer app.Close(logger, summarizer)

	broker := app.NewBroker(logger, cfg)
	defer broker.Close()

	summaryProcessor := summary.NewSummaryProcessor(logger, documents, summarizer, cfg.GenAI.MaxInputChars)
	return app.RunWorker(ctx, logger, broker, cfg.Amqp.Queues.Summary, summaryProcessor.Handle, cfg.Metrics.Addr)
}
