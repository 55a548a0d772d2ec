package listen

import (
	"fmt"

	"github.com/analogj/lodestone-pipeline/pkg/model"
	"github.com/streadway/amqp"
)

type QueueBinding struct {
	Name        string
	RoutingKeys []string
}

// Topology is everything a worker (re-)declares after connecting: one durable topic exchange and
// durable queues bound to it.
type Topology struct {
	Exchange string
	Queues   []QueueBinding
}

// declarer is the subset of *amqp.Channel needed to declare a topology.
type declarer interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
}

// PipelineTopology binds every stage queue, so a message published before its consumer started is
// still routed to a durable queue.
func PipelineTopology(exchange string, ocrQueue string, resultQueue string, summaryQueue string, indexQueue string) Topology {
	return Topology{
		Exchange: exchange,
		Queues: []QueueBinding{
			{Name: ocrQueue, RoutingKeys: []string{model.RoutingKeyOcrRequest}},
			{Name: resultQueue, RoutingKeys: []string{model.RoutingKeyOcrResult}},
			{Name: summaryQueue, RoutingKeys: []string{model.RoutingKeySummaryRequest}},
			{Name: indexQueue, RoutingKeys: []string{model.RoutingKeyIndexRequest}},
		},
	}
}

func (t Topology) Declare(ch declarer) error {
	err := ch.ExchangeDeclare(
		t.Exchange,
		amqp.ExchangeTopic,
		true,  // durable
		false, // delete when unused
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("declare exchange %s: %w", t.Exchange, err)
	}

	for _, q := range t.Queues {
		_, err = ch.QueueDeclare(
			q.Name, // name
			true,   // durable
			false,  // delete when unused
			false,  // exclusive
			false,  // no-wait
			nil,    // arguments
		)
		if err != nil {
			return fmt.Errorf("declare queue %s: %w", q.Name, err)
		}

		for _, key := range q.RoutingKeys {
			if err := ch.QueueBind(q.Name, key, t.Exchange, false, nil); err != nil {
				return fmt.Errorf("bind queue %s to %s: %w", q.Name, key, err)
			}
		}
	}
	return nil
}
