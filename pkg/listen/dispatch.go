package listen

import (
	"context"
	"fmt"
	"time"

	"github.com/analogj/lodestone-pipeline/pkg/metrics"
	"github.com/analogj/lodestone-pipeline/pkg/processor"
	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"
)

// Dispatch runs the handler for one delivery and settles it. Successful and permanently failed
// messages are acked; transient failures wait their delay (cut short on shutdown) and are nacked
// with requeue. A panicking handler counts as a transient failure without delay.
func Dispatch(ctx context.Context, logger *logrus.Entry, queue string, d amqp.Delivery, handler processor.Handler) processor.Result {
	started := time.Now()
	dlog := logger.WithFields(logrus.Fields{
		"deliveryTag": d.DeliveryTag,
		"redelivered": d.Redelivered,
		"routingKey":  d.RoutingKey,
	})
	dlog.Debugf("Received message: %s", d.Body)

	result := safeHandle(ctx, dlog, handler, d.Body)

	switch result.Outcome {
	case processor.OutcomeTransientFailure:
		dlog.Warnf("Processing failed, requeueing in %s: %s", result.Delay, result.Reason)
		if err := wait(ctx, result.Delay); err != nil {
			dlog.Debug("Retry delay interrupted by shutdown")
		}
		if err := d.Nack(false, true); err != nil {
			dlog.WithError(err).Error("Could not nack message")
		}
	case processor.OutcomePermanentFailure:
		dlog.Warnf("Processing failed permanently, message will not be retried: %s", result.Reason)
		if err := d.Ack(false); err != nil {
			dlog.WithError(err).Error("Could not ack message")
		}
	default:
		if err := d.Ack(false); err != nil {
			dlog.WithError(err).Error("Could not ack message")
		}
	}

	metrics.MessagesTotal.WithLabelValues(queue, result.Outcome.String()).Inc()
	metrics.MessageDuration.WithLabelValues(queue).Observe(time.Since(started).Seconds())
	return result
}

func safeHandle(ctx context.Context, logger *logrus.Entry, handler processor.Handler, body []byte) (result processor.Result) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("Handler panicked: %v", r)
			result = processor.Transient(fmt.Sprintf("panic: %v", r), 0)
		}
	}()
	return handler(ctx, body)
}
