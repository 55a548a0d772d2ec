package listen

import (
	"context"

	"github.com/analogj/lodestone-pipeline/pkg/processor"
)

// Interface consumes a queue until the context is cancelled.
type Interface interface {
	Consume(ctx context.Context, queue string, handler processor.Handler) error
	Ready() bool
	Close() error
}

// Publisher sends a JSON encoded message to the pipeline exchange.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, message interface{}) error
}
