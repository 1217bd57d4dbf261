package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"myroom/config"
	"myroom/internal/port"
)

const (
	consumerGroup = "myroom"
	claimMinIdle  = time.Minute
)

// Redis maps each queue to a stream read through a consumer group. Requeue
// appends a copy to the stream and acks the original; reject without
// requeue moves the message to <stream>:dead.
type Redis struct {
	client   *redis.Client
	bindings []Binding
	prefix   string
	block    time.Duration
	consumer string
	logger   *slog.Logger

	groupsMu sync.Mutex
	groups   map[string]bool
}

func NewRedis(cfg config.RedisConfig, bindings []Binding, logger *slog.Logger) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}
	return NewRedisWithClient(client, cfg, bindings, logger), nil
}

func NewRedisWithClient(client *redis.Client, cfg config.RedisConfig, bindings []Binding, logger *slog.Logger) *Redis {
	if logger == nil {
		logger = slog.Default()
	}
	block := cfg.Block
	if block <= 0 {
		block = 2 * time.Second
	}
	return &Redis{
		client:   client,
		bindings: bindings,
		prefix:   cfg.StreamPrefix,
		block:    block,
		consumer: "consumer-" + uuid.NewString()[:8],
		logger:   logger,
		groups:   make(map[string]bool),
	}
}

// StreamKey returns the stream backing queue.
func (r *Redis) StreamKey(queue string) string {
	if r.prefix == "" {
		return queue
	}
	return r.prefix + ":" + queue
}

func (r *Redis) Publish(ctx context.Context, routingKey string, body []byte) error {
	for _, queue := range routes(r.bindings, routingKey) {
		if err := r.ensureGroup(ctx, r.StreamKey(queue)); err != nil {
			return err
		}
		if err := r.add(ctx, r.StreamKey(queue), routingKey, body, false); err != nil {
			return fmt.Errorf("failed to publish to %s: %w", queue, err)
		}
	}
	return nil
}

func (r *Redis) add(ctx context.Context, stream, routingKey string, body []byte, redelivered bool) error {
	values := map[string]interface{}{
		"routing_key": routingKey,
		"body":        body,
	}
	if redelivered {
		values["redelivered"] = "1"
	}
	return r.client.XAdd(ctx, &redis.XAddArgs{Stream: stream, Values: values}).Err()
}

// ensureGroup creates the consumer group at the start of the stream so
// messages published before the first consumer are still delivered.
func (r *Redis) ensureGroup(ctx context.Context, stream string) error {
	r.groupsMu.Lock()
	defer r.groupsMu.Unlock()
	if r.groups[stream] {
		return nil
	}
	err := r.client.XGroupCreateMkStream(ctx, stream, consumerGroup, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group on %s: %w", stream, err)
	}
	r.groups[stream] = true
	return nil
}

func (r *Redis) Consume(ctx context.Context, queue string) (<-chan port.Delivery, error) {
	stream := r.StreamKey(queue)
	if err := r.ensureGroup(ctx, stream); err != nil {
		return nil, err
	}

	out := make(chan port.Delivery)
	go func() {
		defer close(out)

		for _, msg := range r.claimStale(ctx, stream) {
			if !r.deliver(ctx, out, queue, stream, msg) {
				return
			}
		}

		for ctx.Err() == nil {
			streams, err := r.client.XReadGroup(ctx, &redis.XReadGroupArgs{
				Group:    consumerGroup,
				Consumer: r.consumer,
				Streams:  []string{stream, ">"},
				Count:    1,
				Block:    r.block,
			}).Result()
			if err != nil {
				if errors.Is(err, redis.Nil) || ctx.Err() != nil {
					continue
				}
				if errors.Is(err, redis.ErrClosed) {
					return
				}
				r.logger.Error("failed to read stream", "stream", stream, "error", err)
				select {
				case <-time.After(r.block):
				case <-ctx.Done():
				}
				continue
			}

			for _, s := range streams {
				for _, msg := range s.Messages {
					if !r.deliver(ctx, out, queue, stream, msg) {
						return
					}
				}
			}
		}
	}()
	return out, nil
}

// claimStale takes over messages left pending by consumers that went away.
func (r *Redis) claimStale(ctx context.Context, stream string) []redis.XMessage {
	pending, err := r.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: stream,
		Group:  consumerGroup,
		Start:  "-",
		End:    "+",
		Count:  100,
	}).Result()
	if err != nil {
		r.logger.Warn("failed to list pending messages", "stream", stream, "error", err)
		return nil
	}

	var ids []string
	for _, p := range pending {
		if p.Idle >= claimMinIdle {
			ids = append(ids, p.ID)
		}
	}
	if len(ids) == 0 {
		return nil
	}

	msgs, err := r.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   stream,
		Group:    consumerGroup,
		Consumer: r.consumer,
		MinIdle:  claimMinIdle,
		Messages: ids,
	}).Result()
	if err != nil {
		r.logger.Warn("failed to claim pending messages", "stream", stream, "error", err)
		return nil
	}
	r.logger.Info("claimed stale messages", "stream", stream, "count", len(msgs))
	return msgs
}

// deliver hands msg to the consumer and blocks until it is settled. It
// returns false when the consumer should stop.
func (r *Redis) deliver(ctx context.Context, out chan<- port.Delivery, queue, stream string, msg redis.XMessage) bool {
	settled := make(chan struct{})
	routingKey, _ := msg.Values["routing_key"].(string)
	body, _ := msg.Values["body"].(string)
	_, redelivered := msg.Values["redelivered"]

	d := port.Delivery{
		ID:          msg.ID,
		Queue:       queue,
		RoutingKey:  routingKey,
		Body:        []byte(body),
		Redelivered: redelivered,
		ReceivedAt:  time.Now(),
		Settler: &redisSettler{
			r: r, stream: stream, id: msg.ID,
			routingKey: routingKey, body: []byte(body),
			settled: settled,
		},
	}

	select {
	case out <- d:
	case <-ctx.Done():
		return false
	}

	// Unsettled messages stay pending and are claimed after restart.
	select {
	case <-settled:
		return true
	case <-ctx.Done():
		return false
	}
}

func (r *Redis) Close() error {
	return r.client.Close()
}

type redisSettler struct {
	r          *Redis
	stream     string
	id         string
	routingKey string
	body       []byte
	once       sync.Once
	settled    chan struct{}
}

func (s *redisSettler) Ack(ctx context.Context) error {
	return s.settle(func() error {
		return s.r.client.XAck(ctx, s.stream, consumerGroup, s.id).Err()
	})
}

func (s *redisSettler) Reject(ctx context.Context, requeue bool) error {
	return s.settle(func() error {
		target := s.stream + ":dead"
		if requeue {
			target = s.stream
		}
		if err := s.r.add(ctx, target, s.routingKey, s.body, requeue); err != nil {
			return fmt.Errorf("failed to move message %s to %s: %w", s.id, target, err)
		}
		return s.r.client.XAck(ctx, s.stream, consumerGroup, s.id).Err()
	})
}

func (s *redisSettler) settle(fn func() error) error {
	err := errors.New("delivery already settled")
	s.once.Do(func() {
		err = fn()
		close(s.settled)
	})
	return err
}
