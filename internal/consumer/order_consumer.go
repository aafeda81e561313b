package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/streadway/amqp"

	"github.com/speedwaystore/admin-push/internal/models"
	"github.com/speedwaystore/admin-push/internal/services"
	"github.com/speedwaystore/admin-push/pkg/metrics"
)

// Dispatcher fans an order event out to admins.
type Dispatcher interface {
	Dispatch(ctx context.Context, event models.OrderEvent) (models.AggregateResult, error)
}

// OrderConsumer turns order.created messages into admin notifications.
type OrderConsumer struct {
	queue      *Queue
	dispatcher Dispatcher
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

func NewOrderConsumer(queue *Queue, dispatcher Dispatcher, metrics *metrics.Metrics, logger *slog.Logger) *OrderConsumer {
	return &OrderConsumer{
		queue:      queue,
		dispatcher: dispatcher,
		metrics:    metrics,
		logger:     logger,
	}
}

func (c *OrderConsumer) Start(ctx context.Context) error {
	return c.queue.Run(ctx, c.handle)
}

// handle dead-letters messages that are not a valid order event and acks
// everything else, whatever the dispatch outcome.
func (c *OrderConsumer) handle(ctx context.Context, msg amqp.Delivery) (Verdict, error) {
	c.metrics.IncTrigger("amqp")

	var event models.OrderEvent
	if err := json.Unmarshal(msg.Body, &event); err != nil {
		return DeadLetter, fmt.Errorf("decode order event: %w", err)
	}

	result, err := c.dispatcher.Dispatch(ctx, event)
	switch {
	case services.KindOf(err) == services.KindValidation:
		return DeadLetter, err
	case err != nil:
		c.logger.Error("order notification failed",
			slog.String("order_id", event.OrderID),
			slog.String("message_id", msg.MessageId),
			slog.Any("error", err),
		)
	default:
		c.logger.Info("order notification dispatched",
			slog.String("order_id", event.OrderID),
			slog.String("summary", result.Summary),
		)
	}
	return Ack, nil
}
