// Package broker implements port.MessageChannel over RabbitMQ, Redis Streams
// and an in-process queue. All three route by topic pattern to the queues
// named in the broker configuration and require explicit settlement.
package broker

import (
	"fmt"
	"log/slog"
	"strings"

	"myroom/config"
	"myroom/internal/port"
)

// Binding routes messages whose routing key matches Pattern to Queue.
type Binding struct {
	Queue   string
	Pattern string
}

// Bindings returns the queue bindings of cfg, skipping unnamed queues.
func Bindings(cfg config.BrokerConfig) []Binding {
	queues := []config.QueueConfig{
		cfg.Generation, cfg.MetadataUpdate, cfg.Delete, cfg.Response,
		cfg.Recommendation, cfg.RecommendationResponse,
	}
	out := make([]Binding, 0, len(queues))
	for _, q := range queues {
		if q.Queue == "" {
			continue
		}
		out = append(out, Binding{Queue: q.Queue, Pattern: q.RoutingKey})
	}
	return out
}

// New connects the transport selected by cfg.Transport.
func New(cfg config.BrokerConfig, logger *slog.Logger) (port.MessageChannel, error) {
	if logger == nil {
		logger = slog.Default()
	}
	bindings := Bindings(cfg)
	switch cfg.Transport {
	case "amqp":
		return DialAMQP(cfg.AMQP, bindings, logger)
	case "redis":
		return NewRedis(cfg.Redis, bindings, logger)
	case "memory":
		return NewMemory(bindings), nil
	default:
		return nil, fmt.Errorf("unknown broker transport: %s", cfg.Transport)
	}
}

// routes returns the queues whose binding pattern matches key.
func routes(bindings []Binding, key string) []string {
	var queues []string
	for _, b := range bindings {
		if topicMatch(b.Pattern, key) {
			queues = append(queues, b.Queue)
		}
	}
	return queues
}

// topicMatch implements AMQP topic matching: words are separated by dots,
// "*" matches exactly one word and "#" matches zero or more.
func topicMatch(pattern, key string) bool {
	return matchWords(strings.Split(pattern, "."), strings.Split(key, "."))
}

func matchWords(pattern, key []string) bool {
	for len(pattern) > 0 {
		switch pattern[0] {
		case "#":
			if len(pattern) == 1 {
				return true
			}
			for i := 0; i <= len(key); i++ {
				if matchWords(pattern[1:], key[i:]) {
					return true
				}
			}
			return false
		case "*":
			if len(key) == 0 {
				return false
			}
		default:
			if len(key) == 0 || key[0] != pattern[0] {
				return false
			}
		}
		pattern, key = pattern[1:], key[1:]
	}
	return len(key) == 0
}
