package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"myroom/config"
	"myroom/internal/port"
)

var ErrNotConfirmed = errors.New("publish not confirmed by broker")

// AMQP publishes to a durable topic exchange with publisher confirms and
// consumes durable queues with prefetch 1 and manual acks.
type AMQP struct {
	conn     *amqp.Connection
	exchange string
	logger   *slog.Logger

	pubMu   sync.Mutex
	pubCh   publishChannel
	openPub func() (publishChannel, error)
}

// publishChannel is a confirm-mode channel. It is closed by the broker
// after a channel-level error and must then be replaced.
type publishChannel interface {
	publish(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) error
	IsClosed() bool
	Close() error
}

type confirmChannel struct {
	*amqp.Channel
}

func (c confirmChannel) publish(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) error {
	confirm, err := c.PublishWithDeferredConfirmWithContext(ctx, exchange, routingKey, false, false, msg)
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", routingKey, err)
	}
	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("failed waiting for confirm on %s: %w", routingKey, err)
	}
	if !acked {
		return fmt.Errorf("%w: %s", ErrNotConfirmed, routingKey)
	}
	return nil
}

func DialAMQP(cfg config.AMQPConfig, bindings []Binding, logger *slog.Logger) (*AMQP, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}

	a := &AMQP{conn: conn, exchange: cfg.Exchange, logger: logger}
	if err := a.declare(bindings); err != nil {
		conn.Close()
		return nil, err
	}

	a.openPub = a.openConfirmChannel
	pubCh, err := a.openPub()
	if err != nil {
		conn.Close()
		return nil, err
	}
	a.pubCh = pubCh
	return a, nil
}

func (a *AMQP) openConfirmChannel() (publishChannel, error) {
	ch, err := a.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open publish channel: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to enable publisher confirms: %w", err)
	}
	return confirmChannel{ch}, nil
}

func (a *AMQP) declare(bindings []Binding) error {
	ch, err := a.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(a.exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", a.exchange, err)
	}
	for _, b := range bindings {
		if _, err := ch.QueueDeclare(b.Queue, true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", b.Queue, err)
		}
		if err := ch.QueueBind(b.Queue, b.Pattern, a.exchange, false, nil); err != nil {
			return fmt.Errorf("failed to bind queue %s: %w", b.Queue, err)
		}
	}
	return nil
}

// Publish waits for the broker confirm. A channel closed by the broker is
// replaced before the next publish.
func (a *AMQP) Publish(ctx context.Context, routingKey string, body []byte) error {
	a.pubMu.Lock()
	defer a.pubMu.Unlock()

	if a.pubCh == nil || a.pubCh.IsClosed() {
		ch, err := a.openPub()
		if err != nil {
			return err
		}
		a.logger.Info("publish channel reopened")
		a.pubCh = ch
	}

	err := a.pubCh.publish(ctx, a.exchange, routingKey, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now(),
		Body:         body,
	})
	if err != nil && a.pubCh.IsClosed() {
		a.pubCh = nil
	}
	return err
}

func (a *AMQP) Consume(ctx context.Context, queue string) (<-chan port.Delivery, error) {
	ch, err := a.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open consume channel: %w", err)
	}
	if err := ch.Qos(1, 0, false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to set prefetch: %w", err)
	}

	tag := "myroom-" + uuid.NewString()[:8]
	in, err := ch.ConsumeWithContext(ctx, queue, tag, false, false, false, false, nil)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to consume %s: %w", queue, err)
	}

	out := make(chan port.Delivery)
	go func() {
		defer close(out)
		defer ch.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-in:
				if !ok {
					a.logger.Warn("consumer channel closed by broker", "queue", queue)
					return
				}
				delivery := port.Delivery{
					ID:          d.MessageId,
					Queue:       queue,
					RoutingKey:  d.RoutingKey,
					Body:        d.Body,
					Redelivered: d.Redelivered,
					ReceivedAt:  time.Now(),
					Settler:     amqpSettler{d: d},
				}
				if delivery.ID == "" {
					delivery.ID = fmt.Sprintf("%s/%d", tag, d.DeliveryTag)
				}
				select {
				case out <- delivery:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (a *AMQP) Close() error {
	return a.conn.Close()
}

type amqpSettler struct {
	d amqp.Delivery
}

func (s amqpSettler) Ack(context.Context) error {
	return s.d.Ack(false)
}

func (s amqpSettler) Reject(_ context.Context, requeue bool) error {
	return s.d.Reject(requeue)
}
