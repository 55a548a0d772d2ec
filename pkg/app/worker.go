package app

import (
	"context"

	"github.com/analogj/lodestone-pipeline/pkg/listen"
	"github.com/analogj/lodestone-pipeline/pkg/metrics"
	"github.com/analogj/lodestone-pipeline/pkg/processor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// RunWorker consumes queue with handler until ctx is cancelled. When metricsAddr is set the
// metrics and health endpoints are served alongside; either side failing stops both.
func RunWorker(ctx context.Context, logger *logrus.Entry, consumer listen.Interface, queue string, handler processor.Handler, metricsAddr string) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return consumer.Consume(gctx, queue, handler)
	})

	if metricsAddr != "" {
		registry := prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics.RegisterCollectors(registry)

		g.Go(func() error {
			return metrics.Serve(gctx, logger, metricsAddr, metrics.NewRouter(registry, consumer.Ready))
		})
	}

	err := g.Wait()
	logger.Info("Worker stopped")
	return err
}
