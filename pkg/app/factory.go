package app

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/analogj/lodestone-pipeline/pkg/cache"
	"github.com/analogj/lodestone-pipeline/pkg/config"
	"github.com/analogj/lodestone-pipeline/pkg/genai"
	"github.com/analogj/lodestone-pipeline/pkg/listen"
	"github.com/analogj/lodestone-pipeline/pkg/ocr"
	"github.com/analogj/lodestone-pipeline/pkg/search"
	"github.com/analogj/lodestone-pipeline/pkg/storage"
	"github.com/analogj/lodestone-pipeline/pkg/store"
	"github.com/analogj/lodestone-pipeline/pkg/virusscan"
	"github.com/sirupsen/logrus"
)

func NewDocumentStore(ctx context.Context, logger *logrus.Entry, cfg *config.Configuration) (store.DocumentStore, error) {
	logger = logger.WithField("component", "store")
	switch cfg.Store.Driver {
	case "postgres":
		return store.NewPostgresStore(ctx, logger, cfg.Store.Postgres.DSN)
	case "mongo":
		return store.NewMongoStore(ctx, logger, cfg.Store.Mongo.URI, cfg.Store.Mongo.Database, cfg.Store.Mongo.Collection)
	case "memory":
		logger.Warn("Using the in-memory document store, records are lost on exit")
		return store.NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
}

func NewBlobStore(ctx context.Context, logger *logrus.Entry, cfg *config.Configuration) (storage.BlobStore, error) {
	logger = logger.WithField("component", "storage")
	switch cfg.Storage.Driver {
	case "minio":
		return storage.NewMinioStore(logger, storage.MinioConfig{
			Endpoint:  cfg.Storage.Minio.Endpoint,
			AccessKey: cfg.Storage.Minio.AccessKey,
			SecretKey: cfg.Storage.Minio.SecretKey,
			UseSSL:    cfg.Storage.Minio.UseSSL,
			Bucket:    cfg.Storage.Bucket,
		})
	case "gcs":
		return storage.NewGCSStore(ctx, logger, storage.GCSConfig{
			CredentialsFile: cfg.Storage.GCS.CredentialsFile,
			Endpoint:        cfg.Storage.GCS.Endpoint,
		})
	case "memory":
		logger.Warn("Using the in-memory blob store, files are lost on exit")
		return storage.NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
}

func NewSearchIndex(ctx context.Context, logger *logrus.Entry, cfg *config.Configuration) (search.Index, error) {
	logger = logger.WithField("component", "search")
	switch cfg.Search.Driver {
	case "elasticsearch":
		es := cfg.Search.Elasticsearch
		return search.NewElasticIndex(ctx, logger, es.URL, es.Index, es.MappingOverride)
	case "memory":
		return search.NewMemoryIndex(), nil
	}
	return nil, fmt.Errorf("unknown search driver %q", cfg.Search.Driver)
}

func NewOcrEngine(logger *logrus.Entry, cfg *config.Configuration) (ocr.Engine, error) {
	logger = logger.WithField("component", "ocr")
	if cfg.Ocr.Engine == "tika" {
		return ocr.NewTikaEngine(logger, cfg.Ocr.TikaURL, cfg.Ocr.Language, 0), nil
	}
	if cfg.Ocr.Engine != "tesseract" {
		return nil, fmt.Errorf("unknown ocr engine %q", cfg.Ocr.Engine)
	}

	runner := &ocr.ExecRunner{}
	var rasterizer ocr.Rasterizer
	switch cfg.Ocr.Rasterizer {
	case "ghostscript":
		rasterizer = &ocr.GhostscriptRasterizer{Runner: runner, Executable: cfg.Ocr.Ghostscript, Dpi: cfg.Ocr.Dpi}
	case "imagick":
		rasterizer = &ocr.ImagickRasterizer{Dpi: cfg.Ocr.Dpi}
	default:
		return nil, fmt.Errorf("unknown rasterizer %q", cfg.Ocr.Rasterizer)
	}

	engine := ocr.NewPipelineEngine(logger, rasterizer, &ocr.TesseractRecognizer{
		Runner:               runner,
		Executable:           cfg.Ocr.Tesseract,
		Language:             cfg.Ocr.Language,
		PageSegmentationMode: cfg.PageSegmentationMode(),
	})
	engine.TempDir = cfg.Ocr.TempDir
	return engine, nil
}

func NewSummarizer(ctx context.Context, logger *logrus.Entry, cfg *config.Configuration) (genai.Summarizer, error) {
	logger = logger.WithField("component", "genai")
	switch cfg.GenAI.Provider {
	case "gemini":
		return genai.NewGeminiClient(logger, genai.GeminiConfig{
			BaseURL:         cfg.GenAI.BaseURL,
			APIKey:          cfg.GenAI.APIKey,
			Model:           cfg.GenAI.Model,
			Prompt:          cfg.GenAI.Prompt,
			Temperature:     cfg.GenAI.Temperature,
			MaxOutputTokens: cfg.GenAI.MaxOutputTokens,
			Timeout:         cfg.GenAI.RequestTimeout,
		}), nil
	case "vertex":
		return genai.NewVertexClient(ctx, logger, genai.VertexConfig{
			Project:         cfg.GenAI.Vertex.Project,
			Location:        cfg.GenAI.Vertex.Location,
			Model:           cfg.GenAI.Model,
			Prompt:          cfg.GenAI.Prompt,
			Temperature:     cfg.GenAI.Temperature,
			MaxOutputTokens: cfg.GenAI.MaxOutputTokens,
		})
	}
	return nil, fmt.Errorf("unknown genai provider %q", cfg.GenAI.Provider)
}

func NewResultCache(ctx context.Context, logger *logrus.Entry, cfg *config.Configuration) (*cache.ResultCache, error) {
	client, err := cache.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return nil, err
	}
	return cache.NewResultCache(logger.WithField("component", "cache"), client, cfg.Redis.ResultTTL), nil
}

func NewVirusScanService(logger *logrus.Entry, cfg *config.Configuration, documents store.DocumentStore, blobs storage.BlobStore) *virusscan.Service {
	logger = logger.WithField("component", "virusscan")
	client := virusscan.NewClient(logger, virusscan.Config{
		BaseURL:           cfg.VirusTotal.BaseURL,
		APIKey:            cfg.VirusTotal.APIKey,
		Timeout:           cfg.VirusTotal.RequestTimeout,
		RequestsPerMinute: cfg.VirusTotal.RequestsPerMinute,
	})
	return virusscan.NewService(logger, documents, blobs, client, cfg.VirusTotal.PollInterval, cfg.VirusTotal.MaxWait)
}

// NewBroker returns the connection manager for the pipeline topology. Nothing is dialed until the
// first channel is requested.
func NewBroker(logger *logrus.Entry, cfg *config.Configuration) *listen.AmqpConnection {
	topology := listen.PipelineTopology(cfg.Amqp.Exchange, cfg.Amqp.Queues.Ocr, cfg.Amqp.Queues.Result, cfg.Amqp.Queues.Summary, cfg.Amqp.Queues.Index)
	return listen.NewAmqpConnection(logger.WithField("component", "amqp"), cfg.Amqp.URL, topology, cfg.Amqp.ReconnectDelay)
}

func NewPublisher(logger *logrus.Entry, cfg *config.Configuration, broker *listen.AmqpConnection) *listen.AmqpPublisher {
	return listen.NewAmqpPublisher(logger.WithField("component", "publisher"), broker, cfg.Amqp.PublishConfirmTimeout)
}

// Close closes every argument that implements io.Closer and logs failures.
func Close(logger *logrus.Entry, resources ...interface{}) {
	for _, r := range resources {
		if c, ok := r.(io.Closer); ok {
			if err := c.Close(); err != nil {
				logger.WithError(err).Warn("Close failed")
			}
		}
	}
}

// TempDir returns the configured scratch directory, falling back to the OS default.
func TempDir(cfg *config.Configuration) string {
	if cfg.Ocr.TempDir != "" {
		return cfg.Ocr.TempDir
	}
	return os.TempDir()
}
