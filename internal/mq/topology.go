package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — имя обменника.
type Exchange string

// Queue — имя очереди.
type Queue string

// RoutingKey — ключ маршрутизации.
type RoutingKey string

// Exchanges.
const (
	ExchangeEvents   Exchange = "rollout.events"
	ExchangeRequests Exchange = "rollout.requests"
	ExchangeDLQ      Exchange = "rollout.dlq"
)

// Queues.
const (
	QueueDeployRequests Queue = "deploy.requests"
	QueueDLQRequests    Queue = "dlq.requests"
)

// Routing keys.
const (
	RoutingKeyDeploy       RoutingKey = "deploy"
	RoutingKeyStepFinished RoutingKey = "step.finished"
	RoutingKeyDLQRequests  RoutingKey = "requests"
)

// RoutingKeyRunStatus возвращает ключ события смены статуса run: "run.<status>".
func RoutingKeyRunStatus(status string) RoutingKey {
	return RoutingKey("run." + status)
}

type exchangeDecl struct {
	name Exchange
	kind string
}

type queueDecl struct {
	name Queue
	args amqp.Table
}

type bindingDecl struct {
	queue      Queue
	routingKey RoutingKey
	exchange   Exchange
}

// Topology возвращает объявления exchanges, queues и bindings.
func topology() ([]exchangeDecl, []queueDecl, []bindingDecl) {
	exchanges := []exchangeDecl{
		{ExchangeEvents, amqp.ExchangeTopic},
		{ExchangeRequests, amqp.ExchangeDirect},
		{ExchangeDLQ, amqp.ExchangeDirect},
	}

	queues := []queueDecl{
		// Отвергнутые запросы уходят в dlq.requests.
		{QueueDeployRequests, amqp.Table{
			"x-dead-letter-exchange":    string(ExchangeDLQ),
			"x-dead-letter-routing-key": string(RoutingKeyDLQRequests),
		}},
		{QueueDLQRequests, nil},
	}

	bindings := []bindingDecl{
		{QueueDeployRequests, RoutingKeyDeploy, ExchangeRequests},
		{QueueDLQRequests, RoutingKeyDLQRequests, ExchangeDLQ},
	}

	return exchanges, queues, bindings
}

// SetupTopology объявляет топологию. Идемпотентна.
func SetupTopology(ctx context.Context, conn *Connection) error {
	exchanges, queues, bindings := topology()

	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		for _, ex := range exchanges {
			if err := ch.ExchangeDeclare(string(ex.name), ex.kind, true, false, false, false, nil); err != nil {
				return fmt.Errorf("declare exchange %s: %w", ex.name, err)
			}
		}

		for _, q := range queues {
			if _, err := ch.QueueDeclare(string(q.name), true, false, false, false, q.args); err != nil {
				return fmt.Errorf("declare queue %s: %w", q.name, err)
			}
		}

		for _, b := range bindings {
			if err := ch.QueueBind(string(b.queue), string(b.routingKey), string(b.exchange), false, nil); err != nil {
				return fmt.Errorf("bind queue %s to %s: %w", b.queue, b.exchange, err)
			}
		}
		return nil
	})
}
