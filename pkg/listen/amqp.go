package listen

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/analogj/lodestone-pipeline/pkg/metrics"
	"github.com/analogj/lodestone-pipeline/pkg/processor"
	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"
)

const DefaultReconnectDelay = 2 * time.Second

var errDeliveriesClosed = errors.New("delivery channel closed by broker")

// AmqpConnection owns the broker connection of a worker. It reconnects on demand with a fixed
// delay and re-declares the topology on every new channel.
type AmqpConnection struct {
	url            string
	topology       Topology
	reconnectDelay time.Duration
	logger         *logrus.Entry
	dial           func(url string) (*amqp.Connection, error)

	mu     sync.Mutex
	conn   *amqp.Connection
	closed chan *amqp.Error
	lost   bool
}

var _ Interface = (*AmqpConnection)(nil)

func NewAmqpConnection(logger *logrus.Entry, url string, topology Topology, reconnectDelay time.Duration) *AmqpConnection {
	if reconnectDelay <= 0 {
		reconnectDelay = DefaultReconnectDelay
	}
	return &AmqpConnection{
		url:            url,
		topology:       topology,
		reconnectDelay: reconnectDelay,
		logger:         logger,
		dial:           amqp.Dial,
	}
}

// Channel returns a channel on a live connection with the topology declared. Broker failures are
// retried every reconnect delay until ctx is done.
func (c *AmqpConnection) Channel(ctx context.Context) (*amqp.Channel, error) {
	attempt := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		attempt++
		ch, err := c.openChannel()
		if err == nil {
			if attempt > 1 {
				c.logger.Infof("Connected to broker after %d attempts", attempt)
			}
			return ch, nil
		}

		c.logger.WithError(err).WithField("attempt", attempt).Warn("Broker unavailable, retrying")
		if err := wait(ctx, c.reconnectDelay); err != nil {
			return nil, err
		}
	}
}

func (c *AmqpConnection) openChannel() (*amqp.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil || c.connectionClosedLocked() {
		c.dropLocked()

		conn, err := c.dial(c.url)
		if err != nil {
			return nil, err
		}
		c.conn = conn
		c.closed = conn.NotifyClose(make(chan *amqp.Error, 1))
		c.lost = false
	}

	ch, err := c.conn.Channel()
	if err != nil {
		c.dropLocked()
		return nil, err
	}

	if err := c.topology.Declare(ch); err != nil {
		_ = ch.Close()
		c.dropLocked()
		return nil, err
	}
	return ch, nil
}

func (c *AmqpConnection) connectionClosedLocked() bool {
	if c.closed == nil || c.lost {
		return true
	}
	select {
	case amqpErr, ok := <-c.closed:
		if ok && amqpErr != nil {
			c.logger.Warnf("Broker connection closed: %s (code %d)", amqpErr.Reason, amqpErr.Code)
		}
		c.lost = true
		return true
	default:
		return false
	}
}

func (c *AmqpConnection) dropLocked() {
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.conn = nil
	c.closed = nil
}

// Consume registers a manual-ack consumer with a prefetch of one and dispatches deliveries until
// ctx is cancelled. Lost channels or connections are re-established after the reconnect delay.
func (c *AmqpConnection) Consume(ctx context.Context, queue string, handler processor.Handler) error {
	logger := c.logger.WithField("queue", queue)

	for {
		ch, err := c.Channel(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		deliveries, err := subscribe(ch, queue)
		if err != nil {
			logger.WithError(err).Warn("Could not register consumer")
			_ = ch.Close()
		} else {
			logger.Info("Waiting for messages. To exit press CTRL+C")
			err = consumeDeliveries(ctx, logger, queue, deliveries, handler)
			_ = ch.Close()
			if ctx.Err() != nil {
				logger.Info("Consumer stopped")
				return nil
			}
			logger.WithError(err).Warn("Consumer lost its channel, reconnecting")
		}

		metrics.BrokerReconnects.WithLabelValues(queue).Inc()
		if err := wait(ctx, c.reconnectDelay); err != nil {
			return nil
		}
	}
}

func subscribe(ch *amqp.Channel, queue string) (<-chan amqp.Delivery, error) {
	if err := ch.Qos(1, 0, false); err != nil {
		return nil, err
	}

	return ch.Consume(
		queue, // queue
		"",    // consumer
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
}

func consumeDeliveries(ctx context.Context, logger *logrus.Entry, queue string, deliveries <-chan amqp.Delivery, handler processor.Handler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return errDeliveriesClosed
			}
			Dispatch(ctx, logger, queue, d, handler)
		}
	}
}

func (c *AmqpConnection) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil && !c.connectionClosedLocked()
}

func (c *AmqpConnection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.closed = nil
	return err
}

// wait sleeps for d or until ctx is done, whichever comes first.
func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
