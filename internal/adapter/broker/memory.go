package broker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"myroom/internal/port"
)

var ErrClosed = errors.New("broker closed")

// Memory is an in-process MessageChannel. Each queue delivers one message
// at a time to its consumer and waits for settlement before the next.
type Memory struct {
	bindings []Binding

	mu     sync.Mutex
	queues map[string]*memQueue
	seq    int
	done   chan struct{}
	closed bool
}

type memMessage struct {
	id          string
	routingKey  string
	body        []byte
	redelivered bool
}

type memQueue struct {
	messages []memMessage
	dead     [][]byte
	notify   chan struct{}
}

func NewMemory(bindings []Binding) *Memory {
	return &Memory{
		bindings: bindings,
		queues:   make(map[string]*memQueue),
		done:     make(chan struct{}),
	}
}

// queue must be called with m.mu held.
func (m *Memory) queue(name string) *memQueue {
	q, ok := m.queues[name]
	if !ok {
		q = &memQueue{notify: make(chan struct{}, 1)}
		m.queues[name] = q
	}
	return q
}

func (m *Memory) Publish(ctx context.Context, routingKey string, body []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	for _, name := range routes(m.bindings, routingKey) {
		m.seq++
		q := m.queue(name)
		q.messages = append(q.messages, memMessage{
			id:         strconv.Itoa(m.seq),
			routingKey: routingKey,
			body:       append([]byte(nil), body...),
		})
		q.signal()
	}
	return nil
}

func (q *memQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (m *Memory) Consume(ctx context.Context, queue string) (<-chan port.Delivery, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	q := m.queue(queue)
	m.mu.Unlock()

	out := make(chan port.Delivery)
	go func() {
		defer close(out)
		for {
			msg, ok := m.next(ctx, q)
			if !ok {
				return
			}

			settled := make(chan struct{})
			d := port.Delivery{
				ID:          msg.id,
				Queue:       queue,
				RoutingKey:  msg.routingKey,
				Body:        msg.body,
				Redelivered: msg.redelivered,
				ReceivedAt:  time.Now(),
				Settler:     &memSettler{m: m, q: q, msg: msg, settled: settled},
			}

			select {
			case out <- d:
			case <-ctx.Done():
				m.requeue(q, msg)
				return
			case <-m.done:
				return
			}

			select {
			case <-settled:
			case <-ctx.Done():
				d.Settler.(*memSettler).abandon()
				return
			case <-m.done:
				return
			}
		}
	}()
	return out, nil
}

func (m *Memory) next(ctx context.Context, q *memQueue) (memMessage, bool) {
	for {
		m.mu.Lock()
		if len(q.messages) > 0 {
			msg := q.messages[0]
			q.messages = q.messages[1:]
			m.mu.Unlock()
			return msg, true
		}
		m.mu.Unlock()

		select {
		case <-q.notify:
		case <-ctx.Done():
			return memMessage{}, false
		case <-m.done:
			return memMessage{}, false
		}
	}
}

// requeue puts msg back at the head of q, flagged as redelivered.
func (m *Memory) requeue(q *memQueue, msg memMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg.redelivered = true
	q.messages = append([]memMessage{msg}, q.messages...)
	q.signal()
}

// Depth returns the number of messages waiting in queue.
func (m *Memory) Depth(queue string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue(queue).messages)
}

// Dead returns the bodies rejected from queue without requeue.
func (m *Memory) Dead(queue string) [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.queue(queue).dead...)
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.done)
	}
	return nil
}

type memSettler struct {
	m       *Memory
	q       *memQueue
	msg     memMessage
	once    sync.Once
	settled chan struct{}
}

func (s *memSettler) Ack(context.Context) error {
	return s.settle(func() {})
}

func (s *memSettler) Reject(_ context.Context, requeue bool) error {
	return s.settle(func() {
		if requeue {
			s.m.requeue(s.q, s.msg)
			return
		}
		s.m.mu.Lock()
		s.q.dead = append(s.q.dead, s.msg.body)
		s.m.mu.Unlock()
	})
}

// abandon returns an unsettled message to the queue when its consumer stops.
func (s *memSettler) abandon() {
	_ = s.settle(func() { s.m.requeue(s.q, s.msg) })
}

func (s *memSettler) settle(fn func()) error {
	done := false
	s.once.Do(func() {
		fn()
		close(s.settled)
		done = true
	})
	if !done {
		return fmt.Errorf("delivery %s already settled", s.msg.id)
	}
	return nil
}
