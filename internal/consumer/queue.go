package consumer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/streadway/amqp"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultExchange   = "orders.events"
	DefaultRoutingKey = "order.created"
	DefaultQueue      = "orders.new"

	defaultPrefetch = 20
	defaultWorkers  = 2
)

// Topology names the exchange, binding and queues order events travel through.
// Exchange is a topic exchange shared with other order events; only
// RoutingKey is bound to Queue.
type Topology struct {
	Exchange   string
	RoutingKey string
	Queue      string
	DeadLetter string
}

func (t Topology) withDefaults() Topology {
	if t.Exchange == "" {
		t.Exchange = DefaultExchange
	}
	if t.RoutingKey == "" {
		t.RoutingKey = DefaultRoutingKey
	}
	if t.Queue == "" {
		t.Queue = DefaultQueue
	}
	return t
}

// declarer is the part of *amqp.Channel used to set up the topology.
type declarer interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
}

// declare is idempotent. The dead letter queue is declared first so a message
// rejected right after the bind has somewhere to go.
func (t Topology) declare(ch declarer) error {
	var args amqp.Table
	if t.DeadLetter != "" {
		if _, err := ch.QueueDeclare(t.DeadLetter, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare dead letter queue %s: %w", t.DeadLetter, err)
		}
		args = amqp.Table{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": t.DeadLetter,
		}
	}
	if err := ch.ExchangeDeclare(t.Exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", t.Exchange, err)
	}
	if _, err := ch.QueueDeclare(t.Queue, true, false, false, false, args); err != nil {
		return fmt.Errorf("declare queue %s: %w", t.Queue, err)
	}
	if err := ch.QueueBind(t.Queue, t.RoutingKey, t.Exchange, false, nil); err != nil {
		return fmt.Errorf("bind %s to %s/%s: %w", t.Queue, t.Exchange, t.RoutingKey, err)
	}
	return nil
}

// Verdict is how a consumed message is settled. Nothing is ever requeued.
type Verdict int

const (
	// Ack settles a message that was handled, including one whose
	// notification failed: a redelivery would only notify admins twice.
	Ack Verdict = iota
	// DeadLetter rejects a message no redelivery could make readable.
	DeadLetter
)

func (v Verdict) String() string {
	if v == DeadLetter {
		return "dead_letter"
	}
	return "ack"
}

func settle(msg amqp.Delivery, v Verdict) error {
	if v == DeadLetter {
		return msg.Reject(false)
	}
	return msg.Ack(false)
}

// HandlerFunc processes one order message and decides its settlement.
type HandlerFunc func(ctx context.Context, msg amqp.Delivery) (Verdict, error)

// Queue reads order events off RabbitMQ with a fixed pool of workers.
type Queue struct {
	conn     *amqp.Connection
	topology Topology
	prefetch int
	workers  int
	logger   *slog.Logger
}

func NewQueue(conn *amqp.Connection, topology Topology, prefetch, workers int, logger *slog.Logger) *Queue {
	if prefetch <= 0 {
		prefetch = defaultPrefetch
	}
	if workers <= 0 {
		workers = defaultWorkers
	}
	return &Queue{
		conn:     conn,
		topology: topology.withDefaults(),
		prefetch: prefetch,
		workers:  workers,
		logger:   logger,
	}
}

// Run consumes until ctx is cancelled (nil) or the broker closes the
// delivery channel (error). A message being handled when ctx ends is still
// settled.
func (q *Queue) Run(ctx context.Context, handle HandlerFunc) error {
	ch, err := q.conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if err := q.topology.declare(ch); err != nil {
		return err
	}
	if err := ch.Qos(q.prefetch, 0, false); err != nil {
		return fmt.Errorf("set prefetch: %w", err)
	}
	deliveries, err := ch.Consume(q.topology.Queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", q.topology.Queue, err)
	}

	q.logger.Info("listening for order events",
		slog.String("exchange", q.topology.Exchange),
		slog.String("routing_key", q.topology.RoutingKey),
		slog.String("queue", q.topology.Queue),
		slog.Int("workers", q.workers),
	)

	var g errgroup.Group
	for range q.workers {
		g.Go(func() error {
			return q.work(ctx, deliveries, handle)
		})
	}
	return g.Wait()
}

func (q *Queue) work(ctx context.Context, deliveries <-chan amqp.Delivery, handle HandlerFunc) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel for %s closed", q.topology.Queue)
			}
			verdict, err := handle(ctx, msg)
			if err != nil {
				q.logger.Warn("order message not processed",
					slog.String("message_id", msg.MessageId),
					slog.String("verdict", verdict.String()),
					slog.Any("error", err),
				)
			}
			if err := settle(msg, verdict); err != nil {
				q.logger.Error("failed to settle order message", slog.Uint64("delivery_tag", msg.DeliveryTag), slog.Any("error", err))
			}
		}
	}
}
