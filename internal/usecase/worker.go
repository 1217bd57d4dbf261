package usecase

import (
	"context"
	"log/slog"
	"time"

	"myroom/internal/domain"
	"myroom/internal/metrics"
	"myroom/internal/port"
)

// Handler processes one delivery. A nil error acks it; validation errors
// reject it for good; anything else requeues it.
type Handler interface {
	Handle(ctx context.Context, d port.Delivery) error
}

type HandlerFunc func(ctx context.Context, d port.Delivery) error

func (f HandlerFunc) Handle(ctx context.Context, d port.Delivery) error { return f(ctx, d) }

const settleTimeout = 10 * time.Second

// Worker consumes one queue sequentially and settles every delivery
// according to the handler's result.
type Worker struct {
	channel port.MessageChannel
	queue   string
	handler Handler
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewWorker(channel port.MessageChannel, queue string, handler Handler, logger *slog.Logger, m *metrics.Metrics) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		channel: channel,
		queue:   queue,
		handler: handler,
		logger:  logger.With("queue", queue),
		metrics: m,
	}
}

func (w *Worker) Queue() string { return w.queue }

// Run blocks until ctx is done or the broker closes the delivery stream.
func (w *Worker) Run(ctx context.Context) error {
	deliveries, err := w.channel.Consume(ctx, w.queue)
	if err != nil {
		return err
	}
	w.logger.Info("worker started")

	for d := range deliveries {
		w.process(ctx, d)
	}

	w.logger.Info("worker stopped")
	return ctx.Err()
}

func (w *Worker) process(ctx context.Context, d port.Delivery) {
	start := time.Now()
	err := w.handler.Handle(ctx, d)

	// Settle even when ctx was cancelled mid-handling.
	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()

	outcome := "ack"
	var settleErr error
	switch {
	case err == nil:
		settleErr = d.Ack(settleCtx)
	case domain.Retryable(err):
		outcome = "requeue"
		settleErr = d.Reject(settleCtx, true)
	default:
		outcome = "reject"
		settleErr = d.Reject(settleCtx, false)
	}

	w.metrics.ObserveMessage(w.queue, outcome)

	attrs := []any{
		"delivery_id", d.ID,
		"outcome", outcome,
		"redelivered", d.Redelivered,
		"duration", time.Since(start).Round(time.Millisecond),
	}
	if err != nil {
		attrs = append(attrs, "class", domain.ClassOf(err).String(), "error", err)
		w.logger.Warn("message handling failed", attrs...)
	} else {
		w.logger.Debug("message handled", attrs...)
	}
	if settleErr != nil {
		w.logger.Error("failed to settle message", "delivery_id", d.ID, "outcome", outcome, "error", settleErr)
	}
}
