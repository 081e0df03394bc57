// Package messaging consumes RabbitMQ topic deliveries with reconnect and a
// poison-aware ack policy.
package messaging

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"math/rand"
	"time"

	"agent-engine/internal/common/config"
	"agent-engine/internal/common/logger"
	"agent-engine/internal/common/metrics"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrPoison marks a delivery that can never succeed. It is rejected without
// requeue so the broker dead-letters it when the queue has a DLX.
var ErrPoison = stderrors.New("poison message")

// Handler processes one delivery.
type Handler func(ctx context.Context, d amqp.Delivery) error

// JSONHandler decodes the body into T. A body that does not decode is poison.
func JSONHandler[T any](h func(context.Context, T) error) Handler {
	return func(ctx context.Context, d amqp.Delivery) error {
		var v T
		if err := json.Unmarshal(d.Body, &v); err != nil {
			return fmt.Errorf("%w: %v", ErrPoison, err)
		}
		return h(ctx, v)
	}
}

// ConsumerSpec declares one queue bound to a topic exchange.
type ConsumerSpec struct {
	Name               string
	Exchange           string
	Queue              string
	BindingKey         string
	Prefetch           int
	DeadLetterExchange string
	HandlerTimeout     time.Duration
	Handle             Handler
}

// SpecFromConfig fills the broker side of a spec from process config.
func SpecFromConfig(name string, cfg config.RabbitMQConfig, h Handler) ConsumerSpec {
	return ConsumerSpec{
		Name:       name,
		Exchange:   cfg.Exchange,
		Queue:      cfg.Queue,
		BindingKey: cfg.RoutingKey,
		Prefetch:   cfg.Prefetch,
		Handle:     h,
	}
}

type Consumer struct {
	url    string
	spec   ConsumerSpec
	logger logger.Logger

	backoffBase time.Duration
	backoffCap  time.Duration
}

func NewConsumer(url string, spec ConsumerSpec, log logger.Logger) *Consumer {
	if spec.Prefetch <= 0 {
		spec.Prefetch = 1
	}
	if spec.HandlerTimeout <= 0 {
		spec.HandlerTimeout = 10 * time.Second
	}
	return &Consumer{
		url:         url,
		spec:        spec,
		logger:      log.WithFields(map[string]interface{}{"component": "consumer", "consumer": spec.Name}),
		backoffBase: time.Second,
		backoffCap:  30 * time.Second,
	}
}

// Run consumes until ctx is cancelled, reconnecting with jittered
// exponential backoff whenever the connection drops.
func (c *Consumer) Run(ctx context.Context) error {
	backoff := c.backoffBase
	for {
		connected, err := c.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			backoff = c.backoffBase
		}

		wait := jitteredDelay(backoff, c.backoffCap)
		c.logger.Error("amqp session ended, reconnecting", map[string]interface{}{
			"error":   errString(err),
			"retryIn": wait.String(),
		})
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		if backoff*2 < c.backoffCap {
			backoff *= 2
		}
	}
}

func (c *Consumer) session(ctx context.Context) (bool, error) {
	conn, err := amqp.Dial(c.url)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return false, err
	}
	defer ch.Close()

	msgs, err := c.declare(ch)
	if err != nil {
		return false, err
	}
	closed := conn.NotifyClose(make(chan *amqp.Error, 1))

	c.logger.Info("consumer started", map[string]interface{}{
		"queue":      c.spec.Queue,
		"exchange":   c.spec.Exchange,
		"bindingKey": c.spec.BindingKey,
	})

	for {
		select {
		case <-ctx.Done():
			return true, nil
		case aerr, ok := <-closed:
			if !ok || aerr == nil {
				return true, stderrors.New("connection closed")
			}
			return true, aerr
		case d, ok := <-msgs:
			if !ok {
				return true, stderrors.New("delivery channel closed")
			}
			c.dispatch(ctx, d)
		}
	}
}

func (c *Consumer) declare(ch *amqp.Channel) (<-chan amqp.Delivery, error) {
	if err := ch.Qos(c.spec.Prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("qos: %w", err)
	}
	if err := ch.ExchangeDeclare(c.spec.Exchange, "topic", true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare exchange %s: %w", c.spec.Exchange, err)
	}

	var args amqp.Table
	if c.spec.DeadLetterExchange != "" {
		args = amqp.Table{"x-dead-letter-exchange": c.spec.DeadLetterExchange}
	}
	q, err := ch.QueueDeclare(c.spec.Queue, true, false, false, false, args)
	if err != nil {
		return nil, fmt.Errorf("declare queue %s: %w", c.spec.Queue, err)
	}
	if err := ch.QueueBind(q.Name, c.spec.BindingKey, c.spec.Exchange, false, nil); err != nil {
		return nil, fmt.Errorf("bind queue %s: %w", q.Name, err)
	}
	return ch.Consume(q.Name, c.spec.Name, false, false, false, false, nil)
}

// dispatch runs the handler and settles the delivery. Poison is rejected;
// other failures are requeued once and dropped on redelivery.
func (c *Consumer) dispatch(ctx context.Context, d amqp.Delivery) {
	hctx, cancel := context.WithTimeout(ctx, c.spec.HandlerTimeout)
	err := c.spec.Handle(hctx, d)
	cancel()

	var result string
	var settleErr error
	switch {
	case err == nil:
		result = "ack"
		settleErr = d.Ack(false)
	case stderrors.Is(err, ErrPoison):
		result = "poison"
		settleErr = d.Reject(false)
	case d.Redelivered:
		result = "dropped"
		settleErr = d.Nack(false, false)
	default:
		result = "requeued"
		settleErr = d.Nack(false, true)
	}
	metrics.MessagesConsumed.WithLabelValues(c.spec.Name, result).Inc()

	if err != nil {
		c.logger.Warn("delivery failed", map[string]interface{}{
			"messageId":  d.MessageId,
			"routingKey": d.RoutingKey,
			"result":     result,
			"error":      err.Error(),
		})
	}
	if settleErr != nil {
		c.logger.Error("settle delivery failed", map[string]interface{}{
			"messageId": d.MessageId,
			"error":     settleErr.Error(),
		})
	}
}

func jitteredDelay(base, limit time.Duration) time.Duration {
	delta := (rand.Float64()*2 - 1) * 0.25
	wait := time.Duration(float64(base) * (1 + delta))
	if wait <= 0 {
		wait = base
	}
	if wait > limit {
		wait = limit
	}
	return wait
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
