package rabbitmq

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/fiapx/fiapx-ocr-service/internal/infra/metrics"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	headerAttempt   = "x-attempt"
	headerDLQReason = "x-dlq-reason"
	maxBackoff      = 60 * time.Second
)

type MessageHandler func(ctx context.Context, body []byte) error

type publishFunc func(ctx context.Context, exchange, key string, msg amqp.Publishing) error

type Consumer struct {
	conn          *amqp.Connection
	channel       *amqp.Channel
	queue         string
	exchange      string
	processingKey string
	dlq           string
	workerCount   int
	maxAttempts   int
	baseDelay     time.Duration
	handler       MessageHandler
	publish       publishFunc
	logger        *zap.Logger
	wg            sync.WaitGroup
}

type ConsumerConfig struct {
	URL           string
	Queue         string
	Exchange      string
	ProcessingKey string
	DLQ           string
	StatusQueue   string
	StatusKey     string
	Prefetch      int
	WorkerCount   int
	MaxAttempts   int
	BaseDelayMs   int
}

func NewConsumer(cfg ConsumerConfig, handler MessageHandler, logger *zap.Logger) (*Consumer, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := declareTopology(ch, cfg); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	err = ch.Qos(cfg.Prefetch, 0, false)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("set qos: %w", err)
	}

	c := &Consumer{
		conn:          conn,
		channel:       ch,
		queue:         cfg.Queue,
		exchange:      cfg.Exchange,
		processingKey: cfg.ProcessingKey,
		dlq:           cfg.DLQ,
		workerCount:   max(cfg.WorkerCount, 1),
		maxAttempts:   max(cfg.MaxAttempts, 1),
		baseDelay:     time.Duration(cfg.BaseDelayMs) * time.Millisecond,
		handler:       handler,
		logger:        logger,
	}
	c.publish = func(ctx context.Context, exchange, key string, msg amqp.Publishing) error {
		return ch.PublishWithContext(ctx, exchange, key, false, false, msg)
	}
	return c, nil
}

func declareTopology(ch *amqp.Channel, cfg ConsumerConfig) error {
	err := ch.ExchangeDeclare(cfg.Exchange, "topic", true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	for _, q := range []string{cfg.Queue, cfg.DLQ, cfg.StatusQueue} {
		_, err = ch.QueueDeclare(q, true, false, false, false, nil)
		if err != nil {
			return fmt.Errorf("declare queue %s: %w", q, err)
		}
	}

	err = ch.QueueBind(cfg.Queue, cfg.ProcessingKey, cfg.Exchange, false, nil)
	if err != nil {
		return fmt.Errorf("bind processing queue: %w", err)
	}

	err = ch.QueueBind(cfg.StatusQueue, cfg.StatusKey, cfg.Exchange, false, nil)
	if err != nil {
		return fmt.Errorf("bind status queue: %w", err)
	}
	return nil
}

// Ping reports whether the broker connection is still open.
func (c *Consumer) Ping(context.Context) error {
	if c.conn == nil || c.conn.IsClosed() {
		return fmt.Errorf("rabbitmq connection closed")
	}
	return nil
}

func (c *Consumer) Start(ctx context.Context) error {
	deliveries, err := c.channel.ConsumeWithContext(
		ctx,
		c.queue,
		"",
		false, // autoAck=false
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}

	c.logger.Info("starting worker pool",
		zap.Int("workers", c.workerCount),
		zap.String("queue", c.queue),
	)

	for i := 0; i < c.workerCount; i++ {
		c.wg.Add(1)
		go c.worker(ctx, i, deliveries)
	}

	<-ctx.Done()
	c.logger.Info("context cancelled, waiting for workers to finish")
	c.wg.Wait()
	return nil
}

func (c *Consumer) worker(ctx context.Context, id int, deliveries <-chan amqp.Delivery) {
	defer c.wg.Done()
	log := c.logger.With(zap.Int("worker_id", id))
	log.Info("worker started")

	for {
		select {
		case <-ctx.Done():
			log.Info("worker shutting down")
			return
		case d, ok := <-deliveries:
			if !ok {
				log.Info("delivery channel closed")
				return
			}
			c.processDelivery(ctx, d, log)
		}
	}
}

// processDelivery runs the handler. A failed delivery is republished with an
// incremented attempt header after a backoff, and dead-lettered once it has
// used maxAttempts.
func (c *Consumer) processDelivery(ctx context.Context, d amqp.Delivery, log *zap.Logger) {
	err := c.handler(ctx, d.Body)
	if err == nil {
		_ = d.Ack(false)
		return
	}

	attempt := attemptFromHeaders(d.Headers)
	metrics.RetryTotal.WithLabelValues(strconv.Itoa(attempt)).Inc()
	log = log.With(zap.Uint64("delivery_tag", d.DeliveryTag), zap.Int("attempt", attempt))

	if attempt >= c.maxAttempts {
		log.Error("message exhausted retries, dead-lettering", zap.Error(err))
		reason := fmt.Sprintf("max_attempts_exceeded (%d): %v", attempt, err)
		if pubErr := c.publish(context.WithoutCancel(ctx), "", c.dlq, dlqPublishing(d.Body, reason, d.Headers)); pubErr != nil {
			log.Error("failed to dead-letter message, requeueing", zap.Error(pubErr))
			_ = d.Nack(false, true)
			return
		}
		_ = d.Ack(false)
		return
	}

	delay := backoff(c.baseDelay, attempt)
	log.Warn("message processing failed, retrying after backoff", zap.Error(err), zap.Duration("delay", delay))

	select {
	case <-time.After(delay):
	case <-ctx.Done():
		_ = d.Nack(false, true)
		return
	}

	headers := amqp.Table{}
	for k, v := range d.Headers {
		headers[k] = v
	}
	headers[headerAttempt] = int32(attempt + 1)

	retry := amqp.Publishing{
		ContentType:  d.ContentType,
		Body:         d.Body,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Headers:      headers,
	}
	if pubErr := c.publish(ctx, c.exchange, c.processingKey, retry); pubErr != nil {
		log.Error("failed to republish message, requeueing", zap.Error(pubErr))
		_ = d.Nack(false, true)
		return
	}
	_ = d.Ack(false)
}

// attemptFromHeaders returns the 1-based attempt number of a delivery.
func attemptFromHeaders(h amqp.Table) int {
	if h == nil {
		return 1
	}
	switch v := h[headerAttempt].(type) {
	case int32:
		return max(int(v), 1)
	case int64:
		return max(int(v), 1)
	case int:
		return max(v, 1)
	}
	if deaths, ok := h["x-death"].([]interface{}); ok && len(deaths) > 0 {
		return len(deaths) + 1
	}
	return 1
}

func backoff(base time.Duration, attempt int) time.Duration {
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxBackoff {
			return maxBackoff
		}
	}
	return min(delay, maxBackoff)
}

func (c *Consumer) Close() error {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
