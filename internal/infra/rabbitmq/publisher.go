package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fiapx/fiapx-ocr-service/internal/domain/entity"
	amqp "github.com/rabbitmq/amqp091-go"
)

type Publisher struct {
	channel  *amqp.Channel
	exchange string
}

func NewPublisher(conn *amqp.Connection, exchange string) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open publisher channel: %w", err)
	}
	return &Publisher{channel: ch, exchange: exchange}, nil
}

func (p *Publisher) Close() error {
	return p.channel.Close()
}

type StatusPublisher struct {
	pub        *Publisher
	routingKey string
}

func NewStatusPublisher(pub *Publisher, routingKey string) *StatusPublisher {
	return &StatusPublisher{pub: pub, routingKey: routingKey}
}

func (sp *StatusPublisher) PublishStatus(ctx context.Context, msg entity.TaskStatusMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal status message: %w", err)
	}
	return sp.pub.channel.PublishWithContext(ctx,
		sp.pub.exchange,
		sp.routingKey,
		false, false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
			MessageId:    msg.TaskID.String() + ":" + string(msg.Status),
			Type:         "ocr.task.status",
		},
	)
}

type DLQPublisher struct {
	pub   *Publisher
	queue string
}

func NewDLQPublisher(pub *Publisher, dlqQueue string) *DLQPublisher {
	return &DLQPublisher{pub: pub, queue: dlqQueue}
}

func (dp *DLQPublisher) PublishToDLQ(ctx context.Context, msg []byte, reason string) error {
	return dp.pub.channel.PublishWithContext(ctx,
		"",
		dp.queue,
		false, false,
		dlqPublishing(msg, reason, nil),
	)
}

func dlqPublishing(body []byte, reason string, headers amqp.Table) amqp.Publishing {
	h := amqp.Table{}
	for k, v := range headers {
		h[k] = v
	}
	h[headerDLQReason] = reason
	return amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Headers:      h,
	}
}
