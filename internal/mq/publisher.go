package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// MessageType — тип сообщения.
type MessageType string

// Типы сообщений.
const (
	MessageTypeRunStatus       MessageType = "run.status"
	MessageTypeStepFinished    MessageType = "step.finished"
	MessageTypeDeployRequested MessageType = "deploy.requested"
)

// Message — конверт сообщения.
type Message struct {
	ID        string      `json:"id"`
	Type      MessageType `json:"type"`
	Payload   any         `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// newMessage создаёт конверт с новым id.
func newMessage(msgType MessageType, payload any) *Message {
	return &Message{
		ID:        uuid.New().String(),
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

// RunEventPayload — смена статуса run.
type RunEventPayload struct {
	RunID        uuid.UUID  `json:"run_id"`
	TemplateName string     `json:"template_name,omitempty"`
	FTNumber     string     `json:"ft_number"`
	Status       string     `json:"status"`
	InitiatedBy  string     `json:"initiated_by,omitempty"`
	Error        string     `json:"error,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// StepFinishedPayload — результат шага на одном хосте.
type StepFinishedPayload struct {
	RunID      uuid.UUID `json:"run_id"`
	Order      int       `json:"order"`
	Type       string    `json:"type"`
	Target     string    `json:"target"`
	Status     string    `json:"status"`
	ExitDetail string    `json:"exit_detail,omitempty"`
}

// DeployRequestedPayload — запрос на запуск сохранённого шаблона.
type DeployRequestedPayload struct {
	ScheduleID   uuid.UUID `json:"schedule_id"`
	TemplateName string    `json:"template_name"`
	RequestedBy  string    `json:"requested_by"`
}

// Publisher публикует сообщения в RabbitMQ.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher создаёт новый Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{conn: conn, logger: logger}
}

// Publish публикует сообщение в exchange с routing key.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(ctx, string(exchange), string(routingKey), false, false,
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				MessageId:    msg.ID,
				Timestamp:    msg.Timestamp,
				Type:         string(msg.Type),
				Body:         body,
			},
		)
		if err != nil {
			return fmt.Errorf("publish to %s/%s: %w", exchange, routingKey, err)
		}

		p.logger.Debug("published message",
			"exchange", exchange,
			"routing_key", routingKey,
			"message_id", msg.ID,
			"type", msg.Type,
		)
		return nil
	})
}

// PublishRunEvent публикует смену статуса run в rollout.events.
func (p *Publisher) PublishRunEvent(ctx context.Context, payload RunEventPayload) error {
	return p.Publish(ctx, ExchangeEvents, RoutingKeyRunStatus(payload.Status),
		newMessage(MessageTypeRunStatus, payload))
}

// PublishStepFinished публикует результат шага в rollout.events.
func (p *Publisher) PublishStepFinished(ctx context.Context, payload StepFinishedPayload) error {
	return p.Publish(ctx, ExchangeEvents, RoutingKeyStepFinished,
		newMessage(MessageTypeStepFinished, payload))
}

// PublishDeployRequested ставит запрос на деплой в deploy.requests.
// Потребитель: rollout-server.
func (p *Publisher) PublishDeployRequested(ctx context.Context, payload DeployRequestedPayload) error {
	return p.Publish(ctx, ExchangeRequests, RoutingKeyDeploy,
		newMessage(MessageTypeDeployRequested, payload))
}
