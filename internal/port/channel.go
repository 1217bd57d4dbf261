package port

import (
	"context"
	"time"
)

// MessageChannel is a topic-routed broker with manual acknowledgement.
type MessageChannel interface {
	// Publish routes body to every queue bound to routingKey. It returns
	// only after the broker has accepted the message.
	Publish(ctx context.Context, routingKey string, body []byte) error

	// Consume delivers messages from queue one at a time. The next message
	// is not delivered until the previous one is acked or rejected. The
	// channel is closed when ctx is done or the connection is lost.
	Consume(ctx context.Context, queue string) (<-chan Delivery, error)

	Close() error
}

// Delivery is one inbound message awaiting settlement.
type Delivery struct {
	ID          string
	Queue       string
	RoutingKey  string
	Body        []byte
	Redelivered bool
	ReceivedAt  time.Time

	Settler Settler
}

// Settler acknowledges or rejects a delivery at the broker.
type Settler interface {
	Ack(ctx context.Context) error
	Reject(ctx context.Context, requeue bool) error
}

func (d Delivery) Ack(ctx context.Context) error {
	return d.Settler.Ack(ctx)
}

// Reject returns the message to the queue when requeue is true, otherwise
// the broker dead-letters or drops it.
func (d Delivery) Reject(ctx context.Context, requeue bool) error {
	return d.Settler.Reject(ctx, requeue)
}
