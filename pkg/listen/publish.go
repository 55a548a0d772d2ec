package listen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/analogj/lodestone-pipeline/pkg/metrics"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"
)

const DefaultConfirmTimeout = 5 * time.Second

// AmqpPublisher publishes persistent JSON messages on a confirm-mode channel and waits for the
// broker to acknowledge each one.
type AmqpPublisher struct {
	conn           *AmqpConnection
	exchange       string
	confirmTimeout time.Duration
	logger         *logrus.Entry

	mu       sync.Mutex
	ch       *amqp.Channel
	confirms chan amqp.Confirmation
}

var _ Publisher = (*AmqpPublisher)(nil)

func NewAmqpPublisher(logger *logrus.Entry, conn *AmqpConnection, confirmTimeout time.Duration) *AmqpPublisher {
	if confirmTimeout <= 0 {
		confirmTimeout = DefaultConfirmTimeout
	}
	return &AmqpPublisher{
		conn:           conn,
		exchange:       conn.topology.Exchange,
		confirmTimeout: confirmTimeout,
		logger:         logger,
	}
}

func (p *AmqpPublisher) Publish(ctx context.Context, routingKey string, message interface{}) error {
	err := p.publish(ctx, routingKey, message)
	if err != nil {
		metrics.PublishTotal.WithLabelValues(routingKey, "error").Inc()
		return fmt.Errorf("publish %s: %w", routingKey, err)
	}
	metrics.PublishTotal.WithLabelValues(routingKey, "ok").Inc()
	return nil
}

func (p *AmqpPublisher) publish(ctx context.Context, routingKey string, message interface{}) error {
	body, err := json.Marshal(message)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ensureChannelLocked(ctx); err != nil {
		return err
	}

	p.logger.WithField("routingKey", routingKey).Debugf("Publishing message: %s", body)
	err = p.ch.Publish(p.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.New().String(),
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		p.resetLocked()
		return err
	}

	timer := time.NewTimer(p.confirmTimeout)
	defer timer.Stop()

	select {
	case confirm, ok := <-p.confirms:
		if !ok {
			p.resetLocked()
			return errors.New("channel closed before broker confirmed the message")
		}
		if !confirm.Ack {
			return errors.New("broker rejected the message")
		}
		return nil
	case <-timer.C:
		p.resetLocked()
		return fmt.Errorf("broker did not confirm the message within %s", p.confirmTimeout)
	case <-ctx.Done():
		p.resetLocked()
		return ctx.Err()
	}
}

func (p *AmqpPublisher) ensureChannelLocked(ctx context.Context) error {
	if p.ch != nil {
		return nil
	}

	ch, err := p.conn.Channel(ctx)
	if err != nil {
		return err
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		return err
	}
	p.confirms = ch.NotifyPublish(make(chan amqp.Confirmation, 1))
	p.ch = ch
	return nil
}

func (p *AmqpPublisher) resetLocked() {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	p.ch = nil
	p.confirms = nil
}

func (p *AmqpPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resetLocked()
	return nil
}
